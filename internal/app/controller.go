// Package app は、{ライブラリ・アップロード・処理中・プレイヤー}の4画面を巡る
// アプリケーション制御部なのだ。作成中・閲覧中の「現在の本」を唯一の所有者として
// 保持し、ユーザーの意図をパイプラインと再生エンジンへ配線するのだ。
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shouni/go-ehon-kit/pkg/domain"
	"github.com/shouni/go-ehon-kit/pkg/library"
	"github.com/shouni/go-ehon-kit/pkg/media"
	"github.com/shouni/go-ehon-kit/pkg/pipeline"
	"github.com/shouni/go-ehon-kit/pkg/playback"

	"github.com/google/uuid"
)

// Screen はアプリケーションの画面状態なのだ。
// 個別の bool の組ではなくタグ付きの直和として扱い、遷移は必ず網羅的に分岐するのだ。
type Screen int

const (
	ScreenLibrary Screen = iota
	ScreenUpload
	ScreenProcessing
	ScreenPlayer
)

// String は画面名を返すのだ。
func (s Screen) String() string {
	switch s {
	case ScreenLibrary:
		return "library"
	case ScreenUpload:
		return "upload"
	case ScreenProcessing:
		return "processing"
	case ScreenPlayer:
		return "player"
	default:
		return "unknown"
	}
}

// Prefetcher は本のクリップを先読みするフックなのだ（通常は audio.Prefetcher）。
type Prefetcher interface {
	PrefetchBook(ctx context.Context, book domain.Book)
}

// Args は Controller の構築に必要な依存一式なのだ。
type Args struct {
	Media    *media.Manager
	Pipeline *pipeline.Runner
	Store    *library.Store
	Opener   playback.ClipOpener
	Prefetch Prefetcher // nil なら先読みしない

	Title        string        // 保存時のタイトル
	AdvanceDelay time.Duration // 再生エンジンへ引き渡す自動送りの間

	// OnScreenChange は画面が遷移するたびに呼ばれるのだ（表示層向け）。
	OnScreenChange func(Screen)
	// OnPlayback は再生状態の更新通知なのだ。
	OnPlayback func(playback.State)
}

// Controller はアプリケーション制御部の実体なのだ。
type Controller struct {
	mediaMgr *media.Manager
	runner   *pipeline.Runner
	store    *library.Store
	opener   playback.ClipOpener
	prefetch Prefetcher

	title          string
	advanceDelay   time.Duration
	onScreenChange func(Screen)
	onPlayback     func(playback.State)

	mu      sync.Mutex
	screen  Screen
	batch   []media.ImageInput
	handles []*media.PreviewHandle
	book    *domain.Book // 現在の本。Processing/Player セッションの間だけ存在するのだ
	saved   bool
	engine  *playback.Engine
	run     string // 実行中パイプラインのトークン。古い結果の破棄判定に使うのだ
	lastErr error

	// 画面遷移通知は遷移順のまま届ける必要があるので、キューで直列化するのだ
	pendingScreens []Screen
	notifying      bool
}

// NewController は初期画面をライブラリとして制御部を生成するのだ。
func NewController(args Args) (*Controller, error) {
	if args.Media == nil || args.Pipeline == nil || args.Store == nil || args.Opener == nil {
		return nil, fmt.Errorf("media / pipeline / store / opener はすべて必須なのだ")
	}
	return &Controller{
		mediaMgr:       args.Media,
		runner:         args.Pipeline,
		store:          args.Store,
		opener:         args.Opener,
		prefetch:       args.Prefetch,
		title:          args.Title,
		advanceDelay:   args.AdvanceDelay,
		onScreenChange: args.OnScreenChange,
		onPlayback:     args.OnPlayback,
		screen:         ScreenLibrary,
	}, nil
}

// Screen は現在の画面を返すのだ。
func (c *Controller) Screen() Screen {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.screen
}

// LastErr は直近の失敗を返すのだ（表示層がメッセージを出すために使うのだ）。
func (c *Controller) LastErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// CurrentBook は現在の本を返すのだ。Player 以外では nil なのだ。
func (c *Controller) CurrentBook() *domain.Book {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.book
}

// Saved は現在の本が永続化まで成功しているかを返すのだ。
func (c *Controller) Saved() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saved
}

// Engine は現在の再生エンジンを返すのだ。Player 以外では nil なのだ。
func (c *Controller) Engine() *playback.Engine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine
}

// Batch は保留中の画像バッチのコピーを返すのだ。
func (c *Controller) Batch() []media.ImageInput {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]media.ImageInput, len(c.batch))
	copy(out, c.batch)
	return out
}

// CreateNew は Library → Upload の遷移なのだ。
func (c *Controller) CreateNew() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.screen != ScreenLibrary {
		return fmt.Errorf("新規作成はライブラリ画面からだけなのだ（現在: %s）", c.screen)
	}
	c.setScreenLocked(ScreenUpload)
	return nil
}

// AddImages は保留バッチへ画像を追加するのだ。バッチ全体が表示名で並び直され、
// プレビューハンドルも並びに合わせて作り直されるのだ（古いものは必ず解放するのだ）。
func (c *Controller) AddImages(incoming ...media.ImageInput) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.screen != ScreenUpload {
		return fmt.Errorf("画像の追加はアップロード画面でだけなのだ（現在: %s）", c.screen)
	}

	c.mediaMgr.Clear(c.handles)
	c.batch = c.mediaMgr.AddFiles(c.batch, incoming...)

	c.handles = make([]*media.PreviewHandle, len(c.batch))
	for i, in := range c.batch {
		h, err := c.mediaMgr.Preview(in)
		if err != nil {
			// プレビューはリソースエラー扱い。バッチ自体は生かしておくのだ。
			slog.Warn("プレビューの生成に失敗したのだ", "name", in.Name, "error", err)
			continue
		}
		c.handles[i] = h
	}
	return nil
}

// RemoveImage は index の画像をハンドル解放込みでバッチから取り除くのだ。
func (c *Controller) RemoveImage(index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.screen != ScreenUpload {
		return fmt.Errorf("画像の削除はアップロード画面でだけなのだ（現在: %s）", c.screen)
	}
	c.batch, c.handles = c.mediaMgr.Remove(c.batch, c.handles, index)
	return nil
}

// Submit は Upload → Processing の遷移なのだ。パイプラインを非同期に走らせ、
// 完了時の結果は「まだ同じ実行を処理中のとき」だけ適用されるのだ（古い応答の防波堤）。
func (c *Controller) Submit(ctx context.Context) error {
	c.mu.Lock()
	if c.screen != ScreenUpload {
		c.mu.Unlock()
		return fmt.Errorf("投入はアップロード画面からだけなのだ（現在: %s）", c.screen)
	}
	if len(c.batch) == 0 {
		c.mu.Unlock()
		return fmt.Errorf("画像が選択されていないのだ")
	}

	token := uuid.NewString()
	c.run = token
	batch := make([]media.ImageInput, len(c.batch))
	copy(batch, c.batch)
	title := c.title
	c.setScreenLocked(ScreenProcessing)
	c.mu.Unlock()

	go func() {
		result, err := c.runner.Run(ctx, batch, title)
		c.applyPipelineResult(token, result, err)
	}()
	return nil
}

// applyPipelineResult はパイプライン完了の唯一の合流点なのだ。
func (c *Controller) applyPipelineResult(token string, result *pipeline.Result, err error) {
	c.mu.Lock()
	if c.run != token || c.screen != ScreenProcessing {
		// もうこの実行を見ている画面はないのだ。遅れてきた結果は捨てるのだ。
		c.mu.Unlock()
		slog.Info("離脱済みの実行結果を破棄したのだ", "token", token)
		return
	}
	c.run = ""

	if err != nil {
		// 失敗はアップロードへ差し戻し。バッチとプレビューは再試行のためそのまま残すのだ。
		c.lastErr = err
		c.setScreenLocked(ScreenUpload)
		c.mu.Unlock()
		return
	}

	if vErr := result.Book.Validate(); vErr != nil {
		c.lastErr = vErr
		c.setScreenLocked(ScreenUpload)
		c.mu.Unlock()
		return
	}

	// 成功したらバッチは役目を終えるのだ。プレビューも忘れずに解放するのだ。
	c.mediaMgr.Clear(c.handles)
	c.batch = nil
	c.handles = nil

	book := result.Book
	c.enterPlayerLocked(&book, result.Saved)
	c.mu.Unlock()
}

// SelectBook は Library → Player の直行遷移なのだ。パイプラインは通らず、
// ライブラリストアから丸ごと読み込んだ本をそのまま再生エンジンへ渡すのだ。
func (c *Controller) SelectBook(ctx context.Context, bookID string) error {
	c.mu.Lock()
	if c.screen != ScreenLibrary {
		c.mu.Unlock()
		return fmt.Errorf("本を開けるのはライブラリ画面からだけなのだ（現在: %s）", c.screen)
	}
	c.mu.Unlock()

	book, err := c.store.Get(ctx, bookID)
	if err != nil {
		// 読み込み失敗では画面遷移しないのだ。一覧はそのまま残るのだ。
		c.mu.Lock()
		c.lastErr = err
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.screen != ScreenLibrary {
		return fmt.Errorf("読み込み中に画面が変わったのだ")
	}
	c.enterPlayerLocked(book, true)
	return nil
}

// ListBooks はライブラリ一覧を返すのだ。
func (c *Controller) ListBooks(ctx context.Context) ([]domain.BookSummary, error) {
	return c.store.List(ctx)
}

// Back はどの画面からでもライブラリへ戻る遷移なのだ。
// 現在の本・実行中パイプラインへの関心・保留バッチとプレビューを破棄する唯一の場所なのだ。
func (c *Controller) Back() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.run = "" // 実行中の結果が後から届いても適用されないのだ

	if c.engine != nil {
		c.engine.Close()
		c.engine = nil
	}
	c.book = nil
	c.saved = false

	c.mediaMgr.Clear(c.handles)
	c.batch = nil
	c.handles = nil

	c.setScreenLocked(ScreenLibrary)
}

// enterPlayerLocked は本を引き受けて Player 画面へ入る共通経路なのだ。
// ページと音声の長さが揃っていない本は決してここを通れないのだ。
func (c *Controller) enterPlayerLocked(book *domain.Book, saved bool) {
	eng, err := playback.NewEngine(book, c.opener, playback.Options{
		AdvanceDelay: c.advanceDelay,
		OnUpdate:     c.onPlayback,
	})
	if err != nil {
		c.lastErr = err
		c.setScreenLocked(ScreenLibrary)
		return
	}

	c.book = book
	c.saved = saved
	c.engine = eng
	c.setScreenLocked(ScreenPlayer)

	if c.prefetch != nil {
		go c.prefetch.PrefetchBook(context.Background(), *book)
	}
}

// setScreenLocked は画面遷移を記録して表示層へ通知するのだ。
// 通知は遷移ごとのゴルーチンではなくキュー経由で流し、
// Processing → Player のような連続遷移でも観測順が入れ替わらないのだ。
func (c *Controller) setScreenLocked(next Screen) {
	if c.screen == next {
		return
	}
	slog.Info("画面が遷移したのだ", "from", c.screen.String(), "to", next.String())
	c.screen = next
	if c.onScreenChange == nil {
		return
	}
	c.pendingScreens = append(c.pendingScreens, next)
	if c.notifying {
		return // 既存の配達係がキューの続きも運ぶのだ
	}
	c.notifying = true
	go c.drainScreenNotifications()
}

// drainScreenNotifications はキューに積まれた画面遷移を1件ずつ順に届けるのだ。
// コールバックはロックの外で呼ぶので、中から制御部を操作しても構わないのだ。
func (c *Controller) drainScreenNotifications() {
	c.mu.Lock()
	for len(c.pendingScreens) > 0 {
		next := c.pendingScreens[0]
		c.pendingScreens = c.pendingScreens[1:]
		c.mu.Unlock()
		c.onScreenChange(next)
		c.mu.Lock()
	}
	c.notifying = false
	c.mu.Unlock()
}
