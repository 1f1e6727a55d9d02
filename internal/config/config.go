package config

import (
	"time"

	"github.com/shouni/go-utils/envutil"
)

// デフォルト値の定義なのだ
const (
	DefaultAPIBaseURL    = "http://localhost:8000/api"
	DefaultHTTPTimeout   = 120 * time.Second // 画像解析と音声合成は時間がかかるのだ
	DefaultBookTitle     = "わたしのえほん"
	DefaultPreviewDir    = "output/previews"    // プレビューハンドルの実体置き場なのだ
	DefaultAudioCacheDir = "output/audio-cache" // 先読みしたクリップの置き場なのだ
	DefaultAdvanceDelay  = 500 * time.Millisecond
)

// Config はアプリケーション全体の環境設定を保持する構造体なのだ。
type Config struct {
	APIBaseURL    string
	HTTPTimeout   time.Duration
	PreviewDir    string
	AudioCacheDir string

	Options Options
}

// LoadConfig は環境変数から設定を読み込み、構造体を返すのだ！
func LoadConfig() *Config {
	cfg := &Config{
		APIBaseURL:    envutil.GetEnv("EHON_API_BASE_URL", DefaultAPIBaseURL),
		HTTPTimeout:   getDuration("EHON_HTTP_TIMEOUT", DefaultHTTPTimeout),
		PreviewDir:    envutil.GetEnv("EHON_PREVIEW_DIR", DefaultPreviewDir),
		AudioCacheDir: envutil.GetEnv("EHON_AUDIO_CACHE_DIR", DefaultAudioCacheDir),
	}
	return cfg
}

// Options は CLI フラグから渡される実行時のパラメータなのだ。
type Options struct {
	// 作成関連
	Title  string // --title: 保存時の本のタイトル
	BookID string // --book-id: 再合成・再生対象の本

	// 再生関連
	NoPlay       bool          // --no-play: 作成後に再生へ進まない
	Silent       bool          // --silent: スピーカーを使わない（進行のみ）
	AdvanceDelay time.Duration // --advance-delay: 自動ページ送りの間

	// 実行制御
	HTTPTimeout time.Duration // --http-timeout
}

// getDuration は環境変数から時間設定を読み込むヘルパーなのだ。
func getDuration(key string, def time.Duration) time.Duration {
	raw := envutil.GetEnv(key, "")
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
