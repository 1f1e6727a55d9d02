package cmd

import (
	"fmt"
	"time"

	"github.com/shouni/go-ehon-kit/internal/builder"

	"github.com/spf13/cobra"
)

// libraryCmd は、本棚の一覧を新しい順に表示するのだ。
var libraryCmd = &cobra.Command{
	Use:     "library",
	Short:   "保存済みの絵本を新しい順に一覧するのだ。",
	Example: "  ehon-go library",
	RunE:    libraryCommand,
}

func libraryCommand(cmd *cobra.Command, args []string) error {
	appCtx, err := builder.NewAppContext(loadAppConfig())
	if err != nil {
		return err
	}

	books, err := appCtx.Store.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("本棚の読み込みに失敗したのだ: %w", err)
	}
	if len(books) == 0 {
		fmt.Println("本棚はまだ空っぽなのだ。`ehon-go create` で最初の1冊を作るのだ！")
		return nil
	}

	for _, b := range books {
		created := ""
		if b.CreatedAt > 0 {
			created = time.Unix(b.CreatedAt, 0).Format("2006-01-02 15:04")
		}
		fmt.Printf("%-12s  %2dページ  %-16s  %s\n", b.BookID, b.PageCount, created, b.Title)
	}
	return nil
}
