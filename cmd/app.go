package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/shouni/go-ehon-kit/internal/app"
	"github.com/shouni/go-ehon-kit/internal/builder"
	"github.com/shouni/go-ehon-kit/pkg/media"
	"github.com/shouni/go-ehon-kit/pkg/playback"

	"github.com/spf13/cobra"
)

// appCmd は、本棚・アップロード・再生を行き来する対話モードなのだ！
var appCmd = &cobra.Command{
	Use:   "app",
	Short: "本棚から作成・再生まで、ひとつの対話セッションで行き来するのだ！",
	Long: `ライブラリ → アップロード → 処理中 → プレイヤーの4画面を
対話コマンドで行き来するのだ。処理中に離脱しても壊れないのだよ。`,
	Example: "  ehon-go app",
	RunE:    appCommand,
}

// appCommand は対話モードの実行ロジック本体なのだ。
func appCommand(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg := loadAppConfig()
	appCtx, err := builder.NewAppContext(cfg)
	if err != nil {
		return err
	}

	progress := app.NewProgressTicker(app.DefaultProgressInterval, printProgress)

	var ctrl *app.Controller
	ctrl, err = builder.BuildController(appCtx, progress.Observe,
		func(screen app.Screen) { printScreenHelp(ctrl, screen) },
		func(st playback.State) {
			if book := ctrl.CurrentBook(); book != nil {
				renderPage(book, st)
			}
		},
	)
	if err != nil {
		return err
	}
	defer ctrl.Back()

	printScreenHelp(ctrl, app.ScreenLibrary)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "q" {
			return nil
		}

		switch ctrl.Screen() {
		case app.ScreenLibrary:
			handleLibraryInput(cmd, ctrl, line)
		case app.ScreenUpload:
			handleUploadInput(cmd, ctrl, line, progress)
		case app.ScreenProcessing:
			fmt.Println("いま錬成中なのだ。b で中断してライブラリへ戻れるのだ。")
			if line == "b" {
				ctrl.Back()
			}
		case app.ScreenPlayer:
			handlePlayerInput(ctrl, line)
		}
	}
	return scanner.Err()
}

func handleLibraryInput(cmd *cobra.Command, ctrl *app.Controller, line string) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "list":
		books, err := ctrl.ListBooks(cmd.Context())
		if err != nil {
			fmt.Printf("本棚の読み込みに失敗したのだ: %v\n", err)
			return
		}
		if len(books) == 0 {
			fmt.Println("本棚はまだ空っぽなのだ。new で最初の1冊を作るのだ！")
			return
		}
		for _, b := range books {
			fmt.Printf("%-12s  %2dページ  %s\n", b.BookID, b.PageCount, b.Title)
		}
	case "open":
		if len(fields) < 2 {
			fmt.Println("open <book-id> と指定してほしいのだ")
			return
		}
		if err := ctrl.SelectBook(cmd.Context(), fields[1]); err != nil {
			fmt.Printf("ひらけなかったのだ: %v\n", err)
		}
	case "new":
		if err := ctrl.CreateNew(); err != nil {
			fmt.Printf("%v\n", err)
		}
	default:
		fmt.Println("list / open <id> / new / q のどれかなのだ")
	}
}

func handleUploadInput(cmd *cobra.Command, ctrl *app.Controller, line string, progress *app.ProgressTicker) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "add":
		if len(fields) < 2 {
			fmt.Println("add <画像ファイル>... と指定してほしいのだ")
			return
		}
		inputs := make([]media.ImageInput, 0, len(fields)-1)
		for _, path := range fields[1:] {
			in, err := media.LoadImageFile(path)
			if err != nil {
				fmt.Printf("読み込めなかったのだ: %v\n", err)
				return
			}
			inputs = append(inputs, in)
		}
		if err := ctrl.AddImages(inputs...); err != nil {
			fmt.Printf("%v\n", err)
			return
		}
		printBatch(ctrl)
	case "rm":
		if len(fields) < 2 {
			fmt.Println("rm <番号> と指定してほしいのだ")
			return
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil {
			fmt.Println("番号は数字なのだ")
			return
		}
		if err := ctrl.RemoveImage(n - 1); err != nil {
			fmt.Printf("%v\n", err)
			return
		}
		printBatch(ctrl)
	case "ls":
		printBatch(ctrl)
	case "go":
		progress.Start()
		if err := ctrl.Submit(cmd.Context()); err != nil {
			fmt.Printf("%v\n", err)
		}
	case "b", "back":
		ctrl.Back()
	default:
		fmt.Println("add <files> / rm <n> / ls / go / back / q のどれかなのだ")
	}
}

func handlePlayerInput(ctrl *app.Controller, line string) {
	engine := ctrl.Engine()
	if engine == nil {
		return
	}
	switch line {
	case "n":
		engine.Next()
	case "p":
		engine.Prev()
	case "t":
		engine.TogglePlay()
	case "b", "back":
		ctrl.Back()
	default:
		page, err := strconv.Atoi(line)
		if err != nil {
			fmt.Println("n / p / t / 数字 / back / q のどれかなのだ")
			return
		}
		engine.Seek(page - 1)
	}
}

func printBatch(ctrl *app.Controller) {
	batch := ctrl.Batch()
	if len(batch) == 0 {
		fmt.Println("まだ画像がないのだ。add で追加するのだ。")
		return
	}
	for i, in := range batch {
		fmt.Printf("  %2d. %s\n", i+1, in.Name)
	}
}

// printScreenHelp は画面が切り替わるたびに操作の手引きを出すのだ。
func printScreenHelp(ctrl *app.Controller, screen app.Screen) {
	switch screen {
	case app.ScreenLibrary:
		fmt.Println("\n=== 本棚 ===  list / open <id> / new / q")
	case app.ScreenUpload:
		fmt.Println("\n=== 画像えらび ===  add <files> / rm <n> / ls / go / back / q")
		if ctrl != nil {
			if err := ctrl.LastErr(); err != nil {
				fmt.Printf("（さっきの失敗: %v。バッチは残っているのでそのまま go で再挑戦できるのだ）\n", err)
			}
		}
	case app.ScreenProcessing:
		fmt.Println("\n=== 錬成中 ===  できあがるまで少し待つのだ（b で中断）")
	case app.ScreenPlayer:
		fmt.Println("\n=== よみきかせ ===  n / p / t / 数字 / back / q")
	}
}
