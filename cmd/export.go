package cmd

import (
	"fmt"
	"log/slog"

	"github.com/shouni/go-ehon-kit/internal/builder"
	"github.com/shouni/go-ehon-kit/pkg/publisher"

	"github.com/spf13/cobra"
)

// exportDir は書き出し先ディレクトリなのだ。
var exportDir string

// exportCmd は、保存済みの絵本を持ち出せる形で書き出すのだ。
var exportCmd = &cobra.Command{
	Use:   "export <book-id>",
	Short: "絵本を Markdown と音声クリップ一式として書き出すのだ。",
	Long: `本棚の絵本を丸ごと読み込み、本文の Markdown とページ順の音声クリップを
ひとつのディレクトリに揃えるのだ。サーバーがなくても読める形になるのだよ。`,
	Example: "  ehon-go export 2b1c9f -o output/ehon",
	Args:    cobra.ExactArgs(1),
	RunE:    exportCommand,
}

func init() {
	exportCmd.Flags().StringVarP(&exportDir, "output-dir", "o", "output/export", "書き出し先ディレクトリなのだ。")
}

func exportCommand(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	appCtx, err := builder.NewAppContext(loadAppConfig())
	if err != nil {
		return err
	}

	book, err := appCtx.Store.Get(ctx, args[0])
	if err != nil {
		return fmt.Errorf("絵本の読み込みに失敗したのだ: %w", err)
	}

	result, err := publisher.NewBookPublisher(appCtx.Prefetch).Publish(ctx, *book, publisher.Options{
		OutputDir: exportDir,
	})
	if err != nil {
		return fmt.Errorf("書き出しに失敗したのだ: %w", err)
	}

	slog.Info("書き出し完了なのだ！",
		"markdown", result.MarkdownPath,
		"clips", len(result.AudioPaths))
	return nil
}
