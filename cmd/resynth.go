package cmd

import (
	"fmt"
	"log/slog"

	"github.com/shouni/go-ehon-kit/internal/app"
	"github.com/shouni/go-ehon-kit/internal/builder"

	"github.com/spf13/cobra"
)

// resynthCmd は、保存済みの絵本の音声を作り直すのだ。
var resynthCmd = &cobra.Command{
	Use:   "resynth [book-id]",
	Short: "保存済みの絵本の音声クリップを、同じIDのまま合成し直すのだ。",
	Long: `本棚の絵本を読み込み、解析はそのままに音声合成だけをやり直すのだ。
book_id を引き継ぐので、本棚には新しい本が増えず、同じ本が更新されるのだよ。`,
	Example: "  ehon-go resynth 2b1c9f",
	Args:    cobra.MaximumNArgs(1),
	RunE:    resynthCommand,
}

func resynthCommand(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	bookID := opts.BookID
	if len(args) > 0 {
		bookID = args[0]
	}
	if bookID == "" {
		return fmt.Errorf("再合成する本のID（引数か --book-id）を指定してほしいのだ")
	}

	cfg := loadAppConfig()
	appCtx, err := builder.NewAppContext(cfg)
	if err != nil {
		return err
	}

	book, err := appCtx.Store.Get(ctx, bookID)
	if err != nil {
		return fmt.Errorf("絵本の読み込みに失敗したのだ: %w", err)
	}

	slog.Info("音声の作り直しを開始するのだ！", "book_id", book.BookID, "pages", len(book.Pages))

	progress := app.NewProgressTicker(app.DefaultProgressInterval, printProgress)
	progress.Start()
	result, err := builder.BuildRunner(appCtx, progress.Observe).Resynthesize(ctx, *book)
	progress.Stop()
	fmt.Println()
	if err != nil {
		return fmt.Errorf("音声の作り直しに失敗したのだ: %w", err)
	}

	// 古いクリップの写しが残っていると、次の再生で違う声が出るのだ
	appCtx.Store.Invalidate(bookID)

	if !result.Saved {
		slog.Warn("新しい音声はできたけれど、本棚への保存には失敗したのだ。")
	}

	if cfg.Options.NoPlay {
		return nil
	}
	return runPlayer(ctx, appCtx, &result.Book)
}
