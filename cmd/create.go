package cmd

import (
	"fmt"
	"log/slog"

	"github.com/shouni/go-ehon-kit/internal/app"
	"github.com/shouni/go-ehon-kit/internal/builder"
	"github.com/shouni/go-ehon-kit/pkg/media"
	"github.com/shouni/go-ehon-kit/pkg/pipeline"

	"github.com/spf13/cobra"
)

// createCmd は、手元の画像からひとつの絵本を一気に錬成するのだ！
var createCmd = &cobra.Command{
	Use:   "create <画像ファイル>...",
	Short: "画像のバッチから解析・音声合成・保存までを一括実行するのだ！",
	Long: `指定した画像をファイル名の数え順（page2 は page10 より前）に並べ、
解析 → 音声合成 → 保存のパイプラインへアトミックに投入するのだ。
完成したら、そのまま同期再生へ進むのだよ（--no-play で抑止できるのだ）。`,
	Example: "  ehon-go create pages/*.png -t \"はらぺこなのだ\"",
	Args:    cobra.MinimumNArgs(1),
	RunE:    createCommand,
}

// createCommand は、create サブコマンドの実行ロジック本体なのだ。
func createCommand(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg := loadAppConfig()
	appCtx, err := builder.NewAppContext(cfg)
	if err != nil {
		return err
	}

	// 1. 画像の読み込みと並べ替え
	inputs := make([]media.ImageInput, 0, len(args))
	for _, path := range args {
		in, err := media.LoadImageFile(path)
		if err != nil {
			return fmt.Errorf("画像の読み込みに失敗したのだ: %w", err)
		}
		inputs = append(inputs, in)
	}
	batch := appCtx.Media.AddFiles(nil, inputs...)

	slog.Info("絵本の錬成を開始するのだ！",
		"images", len(batch),
		"title", cfg.Options.Title,
		"api_base", cfg.APIBaseURL)

	// 2. 進捗表示つきでパイプラインを実行
	progress := app.NewProgressTicker(app.DefaultProgressInterval, printProgress)
	progress.Start()
	runner := builder.BuildRunner(appCtx, progress.Observe)

	result, err := runner.Run(ctx, batch, cfg.Options.Title)
	progress.Stop()
	fmt.Println()
	if err != nil {
		return fmt.Errorf("絵本の錬成に失敗したのだ: %w", err)
	}

	if result.Saved {
		slog.Info("完成なのだ！本棚にも保存済みなのだよ。", "book_id", result.Book.BookID, "pages", len(result.Book.Pages))
	} else {
		slog.Warn("絵本はできたけれど、本棚への保存には失敗したのだ。再生はできるのだよ。", "book_id", result.Book.BookID)
	}

	// 3. そのまま再生へ
	if cfg.Options.NoPlay {
		return nil
	}
	return runPlayer(ctx, appCtx, &result.Book)
}

// printProgress は進捗インジケーターを1行で上書き表示するのだ。
func printProgress(percent int, stage pipeline.Stage) {
	fmt.Printf("\r[%3d%%] %s", percent, stage)
}
