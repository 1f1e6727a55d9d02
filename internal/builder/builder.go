package builder

import (
	"fmt"

	"github.com/shouni/go-ehon-kit/internal/app"
	"github.com/shouni/go-ehon-kit/pkg/pipeline"
	"github.com/shouni/go-ehon-kit/pkg/playback"
)

// BuildRunner は取り込みパイプラインの実行部を構築します。
// observer には app.ProgressTicker の Observe などを渡せます（nil 可）。
func BuildRunner(appCtx *AppContext, observer pipeline.StageObserver) *pipeline.Runner {
	return pipeline.NewRunner(appCtx.Gateway, observer)
}

// BuildController は対話アプリ全体の制御部を構築します。
func BuildController(appCtx *AppContext, observer pipeline.StageObserver, onScreen func(app.Screen), onPlayback func(playback.State)) (*app.Controller, error) {
	// 無音モードではクリップを開かないので、先読みも不要なのだ
	var prefetch app.Prefetcher
	if !appCtx.Options.Silent {
		prefetch = appCtx.Prefetch
	}

	ctrl, err := app.NewController(app.Args{
		Media:          appCtx.Media,
		Pipeline:       BuildRunner(appCtx, observer),
		Store:          appCtx.Store,
		Opener:         appCtx.Opener,
		Prefetch:       prefetch,
		Title:          appCtx.Options.Title,
		AdvanceDelay:   appCtx.Options.AdvanceDelay,
		OnScreenChange: onScreen,
		OnPlayback:     onPlayback,
	})
	if err != nil {
		return nil, fmt.Errorf("制御部の構築に失敗しました: %w", err)
	}
	return ctrl, nil
}

// silentOpener は音を出さない開封部なのだ。Play された瞬間にクリップ終端として
// 振る舞うので、エンジンの自動送りだけがそのまま生きるのだ。
type silentOpener struct{}

type silentHandle struct {
	onEnd func()
}

func (silentOpener) Open(ref string, onEnd func()) (playback.Handle, error) {
	return &silentHandle{onEnd: onEnd}, nil
}

func (h *silentHandle) Play() {
	if h.onEnd != nil {
		end := h.onEnd
		h.onEnd = nil
		go end()
	}
}

func (h *silentHandle) Pause() {}

func (h *silentHandle) Close() error {
	h.onEnd = nil
	return nil
}
