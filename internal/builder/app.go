package builder

import (
	"fmt"

	"github.com/shouni/go-ehon-kit/internal/audio"
	"github.com/shouni/go-ehon-kit/internal/config"
	"github.com/shouni/go-ehon-kit/pkg/gateway"
	"github.com/shouni/go-ehon-kit/pkg/library"
	"github.com/shouni/go-ehon-kit/pkg/media"
	"github.com/shouni/go-ehon-kit/pkg/playback"
)

// AppContext は、アプリケーション実行に必要な共通コンテキストを保持する
// これを各Build関数に渡すことで、依存関係の注入を簡素化します。
type AppContext struct {
	Config  *config.Config          // Configは、環境変数から読み込まれたグローバルな設定です（API基点、タイムアウトなど）。
	Options config.Options          // Optionsは、コマンドラインから渡された実行時の設定です（タイトル、再生制御など）。
	Gateway gateway.ClientInterface // Gatewayは、バックエンドAPIとの通信に使う共通クライアントです。

	Media    *media.Manager      // Mediaは、アップロード画像のプレビュー資源を管理します。
	Store    *library.Store      // Storeは、保存済みの本のキャッシュ付き読み出し口です。
	Prefetch *audio.Prefetcher   // Prefetchは、音声クリップのローカルキャッシュです。
	Opener   playback.ClipOpener // Openerは、再生エンジンに渡すクリップの開封部です。
}

// NewAppContext は共通コンテキストを組み立てるのだ。
// --silent のときはスピーカーを一切初期化しない無音の開封部に差し替えるのだ。
func NewAppContext(cfg *config.Config) (*AppContext, error) {
	client := gateway.New(cfg.APIBaseURL, cfg.HTTPTimeout)

	mgr, err := media.NewManager(cfg.PreviewDir)
	if err != nil {
		return nil, fmt.Errorf("プレビュー領域の準備に失敗したのだ: %w", err)
	}

	prefetch, err := audio.NewPrefetcher(client.ResolveRef, cfg.AudioCacheDir)
	if err != nil {
		return nil, fmt.Errorf("音声キャッシュ領域の準備に失敗したのだ: %w", err)
	}

	var opener playback.ClipOpener = audio.NewPlayer(prefetch)
	if cfg.Options.Silent {
		opener = silentOpener{}
	}

	return &AppContext{
		Config:   cfg,
		Options:  cfg.Options,
		Gateway:  client,
		Media:    mgr,
		Store:    library.NewStore(client),
		Prefetch: prefetch,
		Opener:   opener,
	}, nil
}
