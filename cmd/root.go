package cmd

import (
	"fmt"
	"net/url"

	"github.com/shouni/go-ehon-kit/internal/config"

	clibase "github.com/shouni/go-cli-base"
	"github.com/spf13/cobra"
)

// opts は addAppFlags で各フラグに紐付く実行時オプションなのだ。
var opts config.Options

// apiBaseURL はグローバルフラグで差し替え可能なバックエンドの基点なのだ。
var apiBaseURL string

// addAppFlags は、アプリケーション全般に適用されるグローバルフラグを定義するのだ。
func addAppFlags(rootCmd *cobra.Command) {
	// --- バックエンド接続関連 ---
	rootCmd.PersistentFlags().StringVar(&apiBaseURL, "api-base", "", "バックエンドAPIの基点URLなのだ（未指定なら EHON_API_BASE_URL）。")
	rootCmd.PersistentFlags().DurationVar(&opts.HTTPTimeout, "http-timeout", config.DefaultHTTPTimeout, "APIリクエストのタイムアウトなのだ。")

	// --- 作成関連 ---
	rootCmd.PersistentFlags().StringVarP(&opts.Title, "title", "t", config.DefaultBookTitle, "保存するときの本のタイトルなのだ。")

	// --- 再生関連 ---
	rootCmd.PersistentFlags().BoolVar(&opts.NoPlay, "no-play", false, "作成後にそのまま再生へ進まないのだ。")
	rootCmd.PersistentFlags().BoolVar(&opts.Silent, "silent", false, "スピーカーを使わず、ページ送りだけで読み上げるのだ。")
	rootCmd.PersistentFlags().DurationVar(&opts.AdvanceDelay, "advance-delay", config.DefaultAdvanceDelay, "クリップ終端から自動ページ送りまでの間なのだ。")

	// --- 再合成・再生対象 ---
	resynthCmd.Flags().StringVar(&opts.BookID, "book-id", "", "再合成する保存済みの本のIDなのだ。")
}

// preRunAppE は、コマンド実行前に設定の妥当性チェックを行うのだ。
func preRunAppE(cmd *cobra.Command, args []string) error {
	if apiBaseURL != "" {
		if _, err := url.Parse(apiBaseURL); err != nil {
			return fmt.Errorf("エラー: --api-base のURLが不正なのだ: %w", err)
		}
	}
	if opts.AdvanceDelay < 0 {
		return fmt.Errorf("エラー: --advance-delay は負にできないのだ")
	}
	return nil
}

// loadAppConfig は環境変数の設定にフラグの上書きを重ねるのだ。
func loadAppConfig() *config.Config {
	cfg := config.LoadConfig()
	if apiBaseURL != "" {
		cfg.APIBaseURL = apiBaseURL
	}
	if opts.HTTPTimeout > 0 {
		cfg.HTTPTimeout = opts.HTTPTimeout
	}
	cfg.Options = opts
	return cfg
}

// Execute は、アプリケーションのメインエントリポイントなのだ。
// main.go から呼び出されて、cobra のコマンドライン解析を開始するのだよ。
func Execute() {
	clibase.Execute(
		"ehon-go",
		addAppFlags,
		preRunAppE,
		createCmd,
		libraryCmd,
		playCmd,
		resynthCmd,
		exportCmd,
		appCmd,
	)
}
