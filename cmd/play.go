package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/shouni/go-ehon-kit/examples"
	"github.com/shouni/go-ehon-kit/internal/builder"
	"github.com/shouni/go-ehon-kit/pkg/domain"
	"github.com/shouni/go-ehon-kit/pkg/playback"

	"github.com/spf13/cobra"
)

// playCmd は、本棚の絵本をひらいて同期再生するのだ！
var playCmd = &cobra.Command{
	Use:   "play <book-id>",
	Short: "保存済みの絵本をひらいて、音声と同期したページ送りで読むのだ！",
	Long: `本棚から絵本を丸ごと読み込み、ページと音声を同期させて再生するのだ。
クリップが終わると少し間を置いて自動で次のページへ進むのだよ。`,
	Example: "  ehon-go play 2b1c9f --silent\n  ehon-go play sample   # 同梱のサンプル絵本（バックエンド不要）",
	Args:    cobra.ExactArgs(1),
	RunE:    playCommand,
}

// playCommand は、play サブコマンドの実行ロジック本体なのだ。
func playCommand(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	appCtx, err := builder.NewAppContext(loadAppConfig())
	if err != nil {
		return err
	}

	// "sample" は同梱の絵本なのだ。本棚には問い合わせないのだ
	if args[0] == "sample" {
		book, err := examples.LoadSampleBook()
		if err != nil {
			return err
		}
		return runPlayer(ctx, appCtx, book)
	}

	book, err := appCtx.Store.Get(ctx, args[0])
	if err != nil {
		return fmt.Errorf("絵本の読み込みに失敗したのだ: %w", err)
	}
	return runPlayer(ctx, appCtx, book)
}

// runPlayer は再生エンジンを標準入力の操作で動かす共通ループなのだ。
// create / play / resynth の3コマンドがここへ合流するのだ。
func runPlayer(ctx context.Context, appCtx *builder.AppContext, book *domain.Book) error {
	fmt.Printf("\n=== %s（全%dページ）===\n", book.Title, len(book.Pages))
	fmt.Println("操作: n=次 / p=前 / t=再生と一時停止 / 数字=そのページへ / q=閉じる")

	engine, err := playback.NewEngine(book, appCtx.Opener, playback.Options{
		AdvanceDelay: appCtx.Options.AdvanceDelay,
		OnUpdate: func(st playback.State) {
			renderPage(book, st)
		},
	})
	if err != nil {
		return fmt.Errorf("再生エンジンの起動に失敗したのだ: %w", err)
	}
	defer engine.Close()

	// 背景で音声を手元に揃えておくのだ（失敗してもページ送りは生きるのだ）
	if !appCtx.Options.Silent {
		go appCtx.Prefetch.PrefetchBook(ctx, *book)
	}

	renderPage(book, playback.State{Index: engine.Index(), Playing: engine.Playing()})

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "q":
			return nil
		case "n":
			engine.Next()
		case "p":
			engine.Prev()
		case "t":
			engine.TogglePlay()
		default:
			page, err := strconv.Atoi(line)
			if err != nil {
				fmt.Println("n / p / t / 数字 / q のどれかを入れてほしいのだ")
				continue
			}
			engine.Seek(page - 1) // 表示は1始まり、内部は0始まりなのだ
		}
	}
	return scanner.Err()
}

// renderPage は現在のページを1画面ぶん描くのだ。
func renderPage(book *domain.Book, st playback.State) {
	if st.Index < 0 || st.Index >= len(book.Pages) {
		return
	}
	page := book.Pages[st.Index]

	marker := "⏸"
	if st.Playing {
		marker = "▶"
	}
	fmt.Printf("\n--- %s ページ %d / %d ---\n", marker, st.Index+1, len(book.Pages))
	if page.Narrator != "" {
		fmt.Printf("  %s\n", page.Narrator)
	}
	for _, d := range page.Dialogues {
		fmt.Printf("  %s「%s」\n", d.Character, d.Text)
	}
}
