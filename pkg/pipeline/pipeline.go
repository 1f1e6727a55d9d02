// Package pipeline は、画像バッチから絵本を作り上げる3ステージの
// 逐次状態機械（解析 → 音声合成 → 永続化）を提供します。
// 各ステージは前のステージの結果が確定してから開始し、並行には走りません。
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shouni/go-ehon-kit/pkg/domain"
	"github.com/shouni/go-ehon-kit/pkg/gateway"
	"github.com/shouni/go-ehon-kit/pkg/media"

	"github.com/google/uuid"
)

// Stage はパイプラインの状態です。Failed は到達後に遷移しない吸収状態です。
type Stage int

const (
	StageIdle Stage = iota
	StageAnalyzing
	StageSynthesizing
	StagePersisting
	StageDone
	StageFailed
)

// String はログ出力用のステージ名を返します。
func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageAnalyzing:
		return "analyzing"
	case StageSynthesizing:
		return "synthesizing"
	case StagePersisting:
		return "persisting"
	case StageDone:
		return "done"
	case StageFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// StageObserver は離散的なステージ遷移の通知を受け取ります。
// パイプライン自身は割合の進捗を報告しません。連続的なインジケーターが
// 欲しい場合は、呼び出し側がこの通知の上に表示層として重ねてください。
type StageObserver func(runID string, stage Stage)

// Result は1回のパイプライン実行の成果です。
type Result struct {
	RunID string      // 実行識別子。古い応答の破棄判定に使います
	Book  domain.Book // 再生可能な完成形
	Saved bool        // 永続化まで成功したかどうか
}

// Runner は1バッチ分の投入を駆動します。
// 同時に複数の実行を走らせないことは呼び出し側（アプリケーション制御部）が保証します。
type Runner struct {
	client   gateway.ClientInterface
	observer StageObserver
}

// NewRunner はパイプラインランナーを生成します。observer は nil でも構いません。
func NewRunner(client gateway.ClientInterface, observer StageObserver) *Runner {
	return &Runner{client: client, observer: observer}
}

// Run は画像バッチを1冊の絵本に変換します。
// 解析・合成ステージの失敗は致命的で、部分的な結果は一切残しません。
// 永続化の失敗だけはログに留め、再生可能な本をそのまま返します。
// この非対称は意図的で、「いま楽しめるか」と「永続化されたか」を切り離すためです。
func (r *Runner) Run(ctx context.Context, batch []media.ImageInput, title string) (*Result, error) {
	if len(batch) == 0 {
		return nil, fmt.Errorf("画像バッチが空です")
	}

	runID := uuid.NewString()
	slog.Info("絵本パイプラインを開始するのだ", "run_id", runID, "images", len(batch), "title", title)

	// --- Stage 1: Analyzing（バッチ全体を1回のアトミックな呼び出しで投入） ---
	r.transition(runID, StageAnalyzing)
	analysis, err := r.client.Analyze(ctx, batch)
	if err != nil {
		return r.fail(runID, fmt.Errorf("解析ステージに失敗しました: %w", err))
	}
	if err := domain.ValidatePages(analysis.Pages, len(batch)); err != nil {
		return r.fail(runID, contractErr("解析応答", err))
	}

	// --- Stage 2 以降は再合成と共通経路 ---
	result, err := r.synthesizeAndPersist(ctx, runID, analysis.Pages, analysis.Characters, "", title)
	if err != nil {
		return nil, err
	}

	slog.Info("絵本パイプラインが完了したのだ", "run_id", runID, "book_id", result.Book.BookID, "saved", result.Saved)
	return result, nil
}

// Resynthesize は保存済みの本の音声を作り直します。
// book_id を引き継いで合成するため、新規採番ではなくその場で更新されます。
func (r *Runner) Resynthesize(ctx context.Context, book domain.Book) (*Result, error) {
	if book.BookID == "" {
		return nil, fmt.Errorf("再合成には book_id が必要です")
	}
	if len(book.Pages) == 0 {
		return nil, fmt.Errorf("再合成対象のページがありません")
	}

	runID := uuid.NewString()
	slog.Info("音声の再合成を開始するのだ", "run_id", runID, "book_id", book.BookID)

	result, err := r.synthesizeAndPersist(ctx, runID, book.Pages, book.Characters, book.BookID, book.Title)
	if err != nil {
		return nil, err
	}
	if result.Book.BookID != book.BookID {
		// synthesize 応答の book_id が正であるという契約の下では起こらないはず。
		slog.Warn("再合成で book_id が変わりました", "before", book.BookID, "after", result.Book.BookID)
	}
	return result, nil
}

// synthesizeAndPersist は Synthesizing 以降の共通経路です。
func (r *Runner) synthesizeAndPersist(ctx context.Context, runID string, pages []domain.Page, characters map[string]domain.Character, bookID, title string) (*Result, error) {
	r.transition(runID, StageSynthesizing)
	synth, err := r.client.Synthesize(ctx, pages, characters, bookID)
	if err != nil {
		return r.fail(runID, fmt.Errorf("音声合成ステージに失敗しました: %w", err))
	}
	// 無音ページにも空クリップが割り当てられる契約なので、欠落は常に違反です。
	if len(synth.AudioPaths) != len(pages) {
		return r.fail(runID, contractErr("合成応答",
			fmt.Errorf("音声数 %d がページ数 %d と一致しません", len(synth.AudioPaths), len(pages))))
	}

	book := domain.Book{
		BookID:     synth.BookID, // 応答の book_id が正
		Title:      title,
		Pages:      pages,
		Characters: characters,
		AudioPaths: synth.AudioPaths,
	}

	// --- Stage 3: Persisting（UI 進行に対しては fire-and-forget） ---
	r.transition(runID, StagePersisting)
	saved := true
	if _, err := r.client.Save(ctx, book); err != nil {
		// 保存失敗はログのみ。手元の本はすでに再生可能です。
		slog.Warn("本の永続化に失敗しました（再生には影響しません）", "run_id", runID, "book_id", book.BookID, "error", err)
		saved = false
	}

	r.transition(runID, StageDone)
	return &Result{RunID: runID, Book: book, Saved: saved}, nil
}

// transition はステージ遷移をログと observer に通知します。
func (r *Runner) transition(runID string, stage Stage) {
	slog.Debug("パイプラインのステージが遷移しました", "run_id", runID, "stage", stage.String())
	if r.observer != nil {
		r.observer(runID, stage)
	}
}

// fail は Failed への遷移とエラー返却をまとめたヘルパーです。
func (r *Runner) fail(runID string, err error) (*Result, error) {
	slog.Error("パイプラインが失敗したのだ", "run_id", runID, "error", err)
	r.transition(runID, StageFailed)
	return nil, err
}

// contractErr は契約違反を gateway.ErrContract でマークして包みます。
func contractErr(subject string, err error) error {
	return fmt.Errorf("%s が契約に違反しています (%v): %w", subject, err, gateway.ErrContract)
}
