package publisher

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/shouni/go-ehon-kit/pkg/domain"
)

// Options はエクスポート動作を制御する設定項目です。
type Options struct {
	OutputDir string
}

// ExportResult はエクスポート処理の結果として生成されたファイルの情報を保持します。
type ExportResult struct {
	MarkdownPath string   // 生成された book.md のパス
	AudioPaths   []string // 手元に揃えた全クリップのパスリスト
}

const (
	defaultBookFileName = "book.md"
	defaultAudioDirName = "audio"
)

// ClipFetcher は音声クリップ参照をローカルのファイルパスに落とす取得口です。
type ClipFetcher interface {
	LocalPath(ctx context.Context, ref string) (string, error)
}

// BookPublisher は完成した絵本の持ち出し用パッケージ化を担います。
type BookPublisher struct {
	fetcher ClipFetcher
}

// NewBookPublisher はエクスポーターを生成します。fetcher が nil の場合、
// 音声は集めず Markdown だけを書き出します。
func NewBookPublisher(fetcher ClipFetcher) *BookPublisher {
	return &BookPublisher{fetcher: fetcher}
}

// Publish はクリップの収集と Markdown の構築を一括して実行し、生成されたファイル情報を返却するのだ！
func (p *BookPublisher) Publish(ctx context.Context, book domain.Book, opts Options) (ExportResult, error) {
	result := ExportResult{}

	if err := book.Validate(); err != nil {
		return result, fmt.Errorf("エクスポートできない本なのだ: %w", err)
	}

	audioDir := filepath.Join(opts.OutputDir, defaultAudioDirName)
	if err := os.MkdirAll(audioDir, 0o755); err != nil {
		return result, fmt.Errorf("出力ディレクトリの作成に失敗しました: %w", err)
	}

	// 1. クリップの収集
	// 取れなかったクリップは空欄のまま進めるのだ。本文は常に完全に書き出すのだ。
	savedPaths, err := p.collectClips(ctx, book, audioDir)
	if err != nil {
		return result, err
	}
	result.AudioPaths = savedPaths

	// 2. Markdown用相対パスの作成
	relativePaths := make([]string, len(savedPaths))
	for i, pathStr := range savedPaths {
		if pathStr == "" {
			continue
		}
		relativePaths[i] = path.Join(defaultAudioDirName, filepath.Base(pathStr))
	}

	// 3. Markdownの構築と書き出し
	markdownPath := filepath.Join(opts.OutputDir, defaultBookFileName)
	content := buildMarkdown(book, relativePaths)
	if err := os.WriteFile(markdownPath, []byte(content), 0o644); err != nil {
		return result, fmt.Errorf("markdownファイルの書き込みに失敗しました: %w", err)
	}
	result.MarkdownPath = markdownPath

	return result, nil
}

// collectClips は各ページのクリップを出力ディレクトリへ写し取ります。
// 返り値はページ順のパス列で、取得できなかったページは空文字列です。
func (p *BookPublisher) collectClips(ctx context.Context, book domain.Book, audioDir string) ([]string, error) {
	paths := make([]string, len(book.AudioPaths))
	if p.fetcher == nil {
		return paths, nil
	}

	for i, ref := range book.AudioPaths {
		if ref == "" {
			continue
		}
		local, err := p.fetcher.LocalPath(ctx, ref)
		if err != nil {
			slog.Warn("クリップを取得できなかったのだ。このページは無音で書き出すのだ",
				"page", i+1, "ref", ref, "error", err)
			continue
		}

		name := fmt.Sprintf("page_%d%s", i+1, filepath.Ext(local))
		dst := filepath.Join(audioDir, name)
		if err := copyFile(local, dst); err != nil {
			return nil, fmt.Errorf("クリップの書き込みに失敗しました %s: %w", dst, err)
		}
		paths[i] = dst
	}
	return paths, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
