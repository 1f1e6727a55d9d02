// Package playback は、ページ列とページごとの音声クリップを同期再生する
// エンジンを提供します。所有する音声ハンドルは常に高々1つで、
// (currentIndex, playing) の組に反応してハンドルの獲得と解放を行います。
package playback

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shouni/go-ehon-kit/pkg/domain"
)

// DefaultAdvanceDelay は自動ページ送りまでの待ち時間です。
// 聞き手にページの切れ目を感じさせるための間であって、遅延隠しではありません。
const DefaultAdvanceDelay = 500 * time.Millisecond

// Handle は1クリップ分の再生可能な音声ハンドルです。
// Play と Pause は冪等で、Close 後の呼び出しは no-op でなければなりません。
type Handle interface {
	Play()
	Pause()
	Close() error
}

// ClipOpener は音声クリップ参照からハンドルを生成します。
// onEnd はクリップが自然に最後まで再生されたときに1回だけ呼ばれます。
// Close による解放では呼ばれません。
type ClipOpener interface {
	Open(ref string, onEnd func()) (Handle, error)
}

// State はエンジンの観測可能な状態のスナップショットです。
type State struct {
	Index   int
	Playing bool
}

// Options はエンジンの生成時設定です。
type Options struct {
	// AdvanceDelay は自動ページ送りの待ち時間です。0 ならデフォルトを使います。
	AdvanceDelay time.Duration
	// OnUpdate は状態が変わるたびに呼ばれます。エンジンのロック外で呼ばれるため、
	// コールバック内からエンジンを操作しても構いません。
	OnUpdate func(State)
}

// Engine は再生エンジンの実体です。
// 本のデータは読み取り専用の参照として受け取り、一切変更しません。
type Engine struct {
	pages  []domain.Page
	refs   []string
	opener ClipOpener

	mu        sync.Mutex
	idx       int
	playing   bool
	handle    Handle
	boundIdx  int    // handle が束縛されているページ位置
	handleGen uint64 // ハンドルの世代。解放済みハンドルからの onEnd の破棄判定に使います
	timerGen  uint64 // 自動送りタイマーの世代。取り消し済みタイマーの破棄判定に使います
	timer     *time.Timer
	closed    bool

	advanceDelay time.Duration
	onUpdate     func(State)
}

// NewEngine は本のページ列と音声参照列からエンジンを生成します。
// 長さの一致は再生可否の前提なので、ここでも検証します。
func NewEngine(book *domain.Book, opener ClipOpener, opts Options) (*Engine, error) {
	if book == nil || len(book.Pages) == 0 {
		return nil, fmt.Errorf("再生対象の本がありません")
	}
	if len(book.AudioPaths) != len(book.Pages) {
		return nil, fmt.Errorf("音声数 %d がページ数 %d と一致しません", len(book.AudioPaths), len(book.Pages))
	}
	if opener == nil {
		return nil, fmt.Errorf("ClipOpener が必要です")
	}

	delay := opts.AdvanceDelay
	if delay <= 0 {
		delay = DefaultAdvanceDelay
	}
	return &Engine{
		pages:        book.Pages,
		refs:         book.AudioPaths,
		opener:       opener,
		advanceDelay: delay,
		onUpdate:     opts.OnUpdate,
	}, nil
}

// Len はページ数を返します。
func (e *Engine) Len() int { return len(e.pages) }

// Index は現在のページ位置を返します。
func (e *Engine) Index() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.idx
}

// Playing は再生中かどうかを返します。
func (e *Engine) Playing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing
}

// CurrentPage は現在のページを返します。
func (e *Engine) CurrentPage() domain.Page {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pages[e.idx]
}

// Seek は指定ページへ移動します。index は [0, len-1] に丸められます。
// 手動ナビゲーション（前/次ボタン・サムネイル選択・スクラブを含む）は、
// 直前の再生状態に関わらず必ず再生を再開します。移動は聴く意思の表明だからです。
func (e *Engine) Seek(index int) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if index < 0 {
		index = 0
	}
	if index > len(e.pages)-1 {
		index = len(e.pages) - 1
	}
	e.cancelAdvanceLocked()
	e.idx = index
	e.playing = true
	e.reconcileLocked()
	e.finishLocked()
}

// Next は次のページへ移動します。最終ページでは何もしません。
func (e *Engine) Next() {
	e.mu.Lock()
	if e.closed || e.idx >= len(e.pages)-1 {
		e.mu.Unlock()
		return
	}
	i := e.idx + 1
	e.mu.Unlock()
	e.Seek(i)
}

// Prev は前のページへ移動します。先頭ページでは何もしません。
func (e *Engine) Prev() {
	e.mu.Lock()
	if e.closed || e.idx <= 0 {
		e.mu.Unlock()
		return
	}
	i := e.idx - 1
	e.mu.Unlock()
	e.Seek(i)
}

// TogglePlay は再生状態だけを反転します。ページ位置は変わりません。
// ハンドルの生成・破棄はここでは行わず、(currentIndex, playing) の組への
// 反応としてバインディング規則が一括で面倒を見ます。
func (e *Engine) TogglePlay() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	// ユーザー操作が入った時点で、保留中の自動ページ送りは意味を失います。
	e.cancelAdvanceLocked()
	e.playing = !e.playing
	e.reconcileLocked()
	e.finishLocked()
}

// Close はエンジンを破棄します。アクティブなハンドルの解放と
// タイマーの取り消しを決定的に行います。リソース安全性の契約であって最適化ではありません。
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.playing = false
	e.cancelAdvanceLocked()
	e.releaseHandleLocked()
	e.finishLocked()
}

// reconcileLocked はバインディング規則の本体です。呼び出し後は必ず
//
//	(a) ハンドルが存在せず playing = false、または
//	(b) refs[idx] に束縛されたハンドルが存在し、playing = true のときだけ再生中
//
// のどちらか一方が成り立ちます。ロックを保持して呼んでください。
func (e *Engine) reconcileLocked() {
	ref := e.refs[e.idx]

	// ページの音声参照が空なら、ハンドルは決して作りません。
	if ref == "" {
		e.releaseHandleLocked()
		if e.playing {
			// 「即座に再生終了した」とみなし、自動ページ送りの規則だけ適用します。
			slog.Debug("無音ページを合成終了として扱います", "index", e.idx)
			e.clipEndedLocked()
		}
		return
	}

	// 既存ハンドルは現在ページのものだけ維持できます。ページが変われば解放が先です。
	if e.handle != nil && e.handleBoundTo() != e.idx {
		e.releaseHandleLocked()
	}

	if e.handle == nil {
		if !e.playing {
			return // 停止中は獲得しません
		}
		e.handleGen++
		gen := e.handleGen
		h, err := e.opener.Open(ref, func() { e.clipEnded(gen) })
		if err != nil {
			// 獲得失敗はリソースエラー。フローは止めず、無音ページと同じ扱いにします。
			slog.Warn("音声ハンドルの獲得に失敗しました", "index", e.idx, "ref", ref, "error", err)
			e.clipEndedLocked()
			return
		}
		e.handle = h
		e.boundIdx = e.idx
	}

	if e.playing {
		e.handle.Play()
	} else {
		e.handle.Pause()
	}
}

// boundIdx は現在のハンドルが束縛されているページ位置です。
func (e *Engine) handleBoundTo() int { return e.boundIdx }

// clipEnded はクリップの自然終了通知です。音声側のゴルーチンから呼ばれます。
func (e *Engine) clipEnded(gen uint64) {
	e.mu.Lock()
	if e.closed || gen != e.handleGen {
		// 解放済みハンドルからの遅延通知は無視します。
		e.mu.Unlock()
		return
	}
	e.clipEndedLocked()
	e.finishLocked()
}

// clipEndedLocked は自然終了の共通処理です。再生を止め、最終ページでなければ
// 一定の間を置いて次のページへ自動送りします。
func (e *Engine) clipEndedLocked() {
	e.playing = false
	e.releaseHandleLocked()

	if e.idx >= len(e.pages)-1 {
		return // 最終ページを越える自動送りはしません
	}

	e.timerGen++
	gen := e.timerGen
	e.timer = time.AfterFunc(e.advanceDelay, func() {
		e.mu.Lock()
		if e.closed || gen != e.timerGen {
			e.mu.Unlock()
			return
		}
		e.timer = nil
		e.idx++
		e.playing = true
		e.reconcileLocked()
		e.finishLocked()
	})
}

// cancelAdvanceLocked は保留中の自動ページ送りを取り消します。
// ナビゲーション開始時に必ず呼ぶことで、移動後に古い送りが発火するのを防ぎます。
func (e *Engine) cancelAdvanceLocked() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	// 既に発火済みでロック待ちのタイマー本体も世代で無効化します。
	// ハンドルの世代はここでは進めません。維持されたハンドルの自然終了は生かすためです。
	e.timerGen++
}

// releaseHandleLocked はアクティブなハンドルを解放します（停止してから切り離し）。
func (e *Engine) releaseHandleLocked() {
	if e.handle == nil {
		return
	}
	e.handle.Pause()
	if err := e.handle.Close(); err != nil {
		slog.Warn("音声ハンドルの解放に失敗しました", "index", e.boundIdx, "error", err)
	}
	e.handle = nil
	e.handleGen++ // 解放済みハンドルからの onEnd を無効化します
}

// finishLocked は状態スナップショットを取ってロックを解き、観測者へ通知します。
func (e *Engine) finishLocked() {
	snap := State{Index: e.idx, Playing: e.playing}
	cb := e.onUpdate
	e.mu.Unlock()
	if cb != nil {
		cb(snap)
	}
}
