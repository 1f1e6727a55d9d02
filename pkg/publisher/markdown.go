package publisher

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/shouni/go-ehon-kit/pkg/domain"
)

// buildMarkdown は、絵本のタイトル、クリップパス、ページ情報を統合して
// 1冊ぶんの Markdown 文字列を生成します。
func buildMarkdown(book domain.Book, audioPaths []string) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# %s\n\n", book.Title))
	h := sha256.New()

	for i, page := range book.Pages {
		sb.WriteString(fmt.Sprintf("## ページ %d\n", page.PageNumber))

		if i < len(audioPaths) && audioPaths[i] != "" {
			sb.WriteString(fmt.Sprintf("- clip: %s\n", audioPaths[i]))
		}
		if page.SceneDescription != "" {
			sb.WriteString(fmt.Sprintf("- scene: %s\n", page.SceneDescription))
		}
		if page.Narrator != "" {
			sb.WriteString(fmt.Sprintf("- narration: %s\n", strings.TrimSpace(page.Narrator)))
		}

		for _, d := range page.Dialogues {
			// 日本語名などのマルチバイト文字を CSS 安全な ID に変換
			h.Reset()
			h.Write([]byte(d.Character))
			speakerClass := "speaker-" + hex.EncodeToString(h.Sum(nil))[:10]

			sb.WriteString(fmt.Sprintf("- speaker: %s (%s)\n", d.Character, speakerClass))
			sb.WriteString(fmt.Sprintf("- text: %s\n", strings.TrimSpace(d.Text)))
			if d.Emotion != "" {
				sb.WriteString(fmt.Sprintf("- emotion: %s\n", d.Emotion))
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
