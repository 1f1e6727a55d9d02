package media

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// ImageInput はアップロード対象の画像1枚です。
// 表示名はページ順の導出にのみ使い、ペイロードの中身には関与しません。
type ImageInput struct {
	Name string // 表示名（通常はファイル名）
	Data []byte // 画像のバイナリ
}

// LoadImageFile はディスク上の画像ファイルを読み込んで ImageInput を返します。
func LoadImageFile(path string) (ImageInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ImageInput{}, fmt.Errorf("画像ファイル '%s' の読み込みに失敗しました: %w", path, err)
	}
	return ImageInput{Name: filepath.Base(path), Data: data}, nil
}

// PreviewHandle は ImageInput の描画可能形への一時的な参照です。
// 参照先は希少リソース（プレビュー用の実ファイル）なので、不要になったら
// 必ず Revoke で解放してください。解放漏れはリソースリークであり正しさの問題です。
type PreviewHandle struct {
	URL string // file:// 形式の参照 URL

	path    string
	mu      sync.Mutex
	revoked bool
}

// Revoke はプレビューの実体を破棄します。二重解放は no-op です。
func (h *PreviewHandle) Revoke() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.revoked {
		return
	}
	h.revoked = true
	if err := os.Remove(h.path); err != nil && !os.IsNotExist(err) {
		// リソースエラーはログに残すだけで、フローは止めません。
		slog.Warn("プレビューの破棄に失敗しました", "path", h.path, "error", err)
	}
}

// Revoked は解放済みかどうかを返します（主にテスト用）。
func (h *PreviewHandle) Revoked() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.revoked
}

// Manager はペンディング中の画像バッチとそのプレビューハンドルを所有する
// 末端ユーティリティです。ハンドルの生成と解放の責務はすべてここに集約します。
type Manager struct {
	dir      string
	collator *collate.Collator
}

// NewManager はプレビュー保存先ディレクトリを用意して Manager を返します。
func NewManager(previewDir string) (*Manager, error) {
	if err := os.MkdirAll(previewDir, 0o755); err != nil {
		return nil, fmt.Errorf("プレビュー用ディレクトリの作成に失敗しました: %w", err)
	}
	return &Manager{
		dir: previewDir,
		// collate.Numeric により "page2" < "page10" の数値順比較になります。
		collator: collate.New(language.Und, collate.Numeric),
	}, nil
}

// AddFiles は incoming を既存バッチへ統合し、バッチ全体を表示名で並べ直します。
// ページ順は選択順ではなく、常にファイル名だけから決まります。
func (m *Manager) AddFiles(existing []ImageInput, incoming ...ImageInput) []ImageInput {
	merged := make([]ImageInput, 0, len(existing)+len(incoming))
	merged = append(merged, existing...)
	merged = append(merged, incoming...)

	sort.SliceStable(merged, func(i, j int) bool {
		return m.collator.CompareString(merged[i].Name, merged[j].Name) < 0
	})
	return merged
}

// Preview は画像の描画可能なプレビューを実ファイルとして生成し、
// 解放可能なハンドルを返します。ハンドルは必ず Revoke してください。
func (m *Manager) Preview(in ImageInput) (*PreviewHandle, error) {
	f, err := os.CreateTemp(m.dir, "preview-*"+filepath.Ext(in.Name))
	if err != nil {
		return nil, fmt.Errorf("プレビューの割り当てに失敗しました: %w", err)
	}
	if _, err := f.Write(in.Data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("プレビューの書き込みに失敗しました: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("プレビューのクローズに失敗しました: %w", err)
	}

	path := f.Name()
	return &PreviewHandle{
		URL:  "file://" + path,
		path: path,
	}, nil
}

// Remove は index のハンドルを解放してから、バッチとハンドル列の両方から取り除きます。
// 解放より先に取り除くとリークするため、順序はここで固定します。
func (m *Manager) Remove(batch []ImageInput, handles []*PreviewHandle, index int) ([]ImageInput, []*PreviewHandle) {
	if index < 0 || index >= len(batch) || index >= len(handles) {
		return batch, handles
	}
	// プレビュー生成に失敗したスロットはハンドルが nil のまま残っています
	if h := handles[index]; h != nil {
		h.Revoke()
	}

	batch = append(batch[:index], batch[index+1:]...)
	handles = append(handles[:index], handles[index+1:]...)
	return batch, handles
}

// Clear はすべてのハンドルを解放します。バッチを放棄するとき
// （ライブラリへ戻る、新しい本を作り直す）には必ず呼んでください。
func (m *Manager) Clear(handles []*PreviewHandle) {
	for _, h := range handles {
		if h != nil {
			h.Revoke()
		}
	}
}
