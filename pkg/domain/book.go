package domain

import (
	"fmt"
	"strings"
)

// Dialogue は1ページ内でキャラクターが話すセリフ1行を保持します。
type Dialogue struct {
	Character string `json:"character"`
	Text      string `json:"text"`
	Emotion   string `json:"emotion"`
}

// Page は絵本の1ページ（入力画像1枚に対応）の解析結果を保持します。
// 解析ステージが生成した後は不変として扱います。
type Page struct {
	PageNumber       int        `json:"page_number"` // 1始まり・連番・入力順と一致
	SceneDescription string     `json:"scene_description"`
	Narrator         string     `json:"narrator"` // 空の場合もあります
	Dialogues        []Dialogue `json:"dialogues"`
}

// SpeakableText は、ページ内で読み上げ対象となるテキストを結合して返します。
// ナレーション → セリフの順で、音声合成の投入順と一致します。
func (p Page) SpeakableText() string {
	parts := make([]string, 0, len(p.Dialogues)+1)
	if p.Narrator != "" {
		parts = append(parts, p.Narrator)
	}
	for _, d := range p.Dialogues {
		if d.Text != "" {
			parts = append(parts, d.Text)
		}
	}
	return strings.Join(parts, " ")
}

// Book は1冊の絵本の完成形です。パイプラインの成功、または
// ライブラリからの読み込みによって丸ごと生成されます。
type Book struct {
	BookID     string               `json:"book_id"` // サーバー採番。保存時に確定します
	Title      string               `json:"title"`
	Pages      []Page               `json:"pages"`
	Characters map[string]Character `json:"characters"`
	AudioPaths []string             `json:"audio_paths"` // Pages と同じ長さ・同じ順序
}

// BookSummary はライブラリ一覧表示専用の読み取り投影です。クライアント側で変更しません。
type BookSummary struct {
	BookID    string `json:"book_id"`
	Title     string `json:"title"`
	PageCount int    `json:"page_count"`
	CreatedAt int64  `json:"created_at"` // epoch 秒
}

// AnalysisResult は analyze ステージの応答です。
type AnalysisResult struct {
	Pages      []Page               `json:"pages"`
	Characters map[string]Character `json:"characters"`
}

// SynthesisResult は synthesize ステージの応答です。
type SynthesisResult struct {
	BookID     string   `json:"book_id"`
	AudioPaths []string `json:"audio_paths"`
}

// SaveResult は保存エンドポイントの応答です。
type SaveResult struct {
	Status string `json:"status"`
	BookID string `json:"book_id"`
}

// ValidatePages は、ページ列が「1始まり・連番」という解析契約を満たすか検証します。
// expected が 0 より大きい場合は、ページ数が入力バッチ数と一致することも確認します。
func ValidatePages(pages []Page, expected int) error {
	if expected > 0 && len(pages) != expected {
		return fmt.Errorf("ページ数 %d が入力画像数 %d と一致しません", len(pages), expected)
	}
	for i, p := range pages {
		if p.PageNumber != i+1 {
			return fmt.Errorf("ページ番号が不正です: index=%d page_number=%d", i, p.PageNumber)
		}
	}
	return nil
}

// Validate は Book 全体の整合性を検証します。
// ページ数と音声数の一致は再生可否に直結するため、違反は致命的エラーとして扱います。
func (b Book) Validate() error {
	if len(b.Pages) == 0 {
		return fmt.Errorf("ページが1枚もありません")
	}
	if err := ValidatePages(b.Pages, 0); err != nil {
		return err
	}
	if len(b.AudioPaths) != len(b.Pages) {
		return fmt.Errorf("音声数 %d がページ数 %d と一致しません", len(b.AudioPaths), len(b.Pages))
	}
	for name, c := range b.Characters {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("キャラクター '%s' が不正です: %w", name, err)
		}
	}
	return nil
}

// PageCount はページ数を返します。
func (b Book) PageCount() int {
	return len(b.Pages)
}
