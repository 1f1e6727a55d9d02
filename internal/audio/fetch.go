package audio

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shouni/go-ehon-kit/pkg/domain"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	// DefaultFetchTimeout はクリップ1本あたりの取得タイムアウトなのだ。
	DefaultFetchTimeout = 30 * time.Second

	// fetchInterval は連続ダウンロードの最小間隔なのだ。
	// Burst 3 により、短い本なら待ちなしで取得が始まるのだ。
	fetchInterval = 100 * time.Millisecond
)

// Prefetcher は音声クリップ参照をローカルのキャッシュファイルに解決するのだ。
// 参照の解決（相対パス → 絶対 URL）は resolve 関数（通常は gateway.ResolveRef）に委ねるのだ。
type Prefetcher struct {
	resolve    func(string) string
	dir        string
	httpClient *http.Client
	limiter    *rate.Limiter

	mu    sync.Mutex
	local map[string]string // ref → ローカルパス
}

// NewPrefetcher はキャッシュディレクトリを用意して Prefetcher を返すのだ。
func NewPrefetcher(resolve func(string) string, cacheDir string) (*Prefetcher, error) {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("音声キャッシュディレクトリの作成に失敗したのだ: %w", err)
	}
	return &Prefetcher{
		resolve:    resolve,
		dir:        cacheDir,
		httpClient: &http.Client{Timeout: DefaultFetchTimeout},
		limiter:    rate.NewLimiter(rate.Every(fetchInterval), 3),
		local:      make(map[string]string),
	}, nil
}

// PrefetchBook は本のクリップを並列で先読みするのだ。
// 1本の取得失敗はそのページを無音に格下げするだけで、全体は失敗させないのだ。
func (p *Prefetcher) PrefetchBook(ctx context.Context, book domain.Book) {
	eg, egCtx := errgroup.WithContext(ctx)

	for _, ref := range book.AudioPaths {
		if ref == "" {
			continue // 無音ページにはクリップがないのだ
		}
		ref := ref

		eg.Go(func() error {
			if err := p.limiter.Wait(egCtx); err != nil {
				return err
			}
			if _, err := p.LocalPath(egCtx, ref); err != nil {
				// リソースエラー。ログに残すだけで再生フローは止めないのだ。
				slog.Warn("クリップの先読みに失敗したのだ（このページは無音になるのだ）", "ref", ref, "error", err)
			}
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		slog.Debug("先読みが中断されたのだ", "error", err)
		return
	}
	slog.Info("クリップの先読みが完了したのだ", "book_id", book.BookID, "clips", len(book.AudioPaths))
}

// LocalPath は参照をローカルファイルのパスに解決するのだ。キャッシュ済みなら即座に返すのだ。
func (p *Prefetcher) LocalPath(ctx context.Context, ref string) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("音声参照が空です")
	}

	p.mu.Lock()
	if path, ok := p.local[ref]; ok {
		p.mu.Unlock()
		return path, nil
	}
	p.mu.Unlock()

	path := filepath.Join(p.dir, cacheName(ref))
	if _, err := os.Stat(path); err != nil {
		if err := p.download(ctx, ref, path); err != nil {
			return "", err
		}
	}

	p.mu.Lock()
	p.local[ref] = path
	p.mu.Unlock()
	return path, nil
}

// download は参照先をキャッシュファイルへ取得するのだ。
func (p *Prefetcher) download(ctx context.Context, ref, path string) error {
	u := p.resolve(ref)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("クリップ要求の構築に失敗したのだ: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("クリップ '%s' の取得に失敗したのだ: %w", ref, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("クリップ '%s' が異常応答を返したのだ: status=%d", ref, resp.StatusCode)
	}

	tmp, err := os.CreateTemp(p.dir, "fetch-*")
	if err != nil {
		return fmt.Errorf("一時ファイルの作成に失敗したのだ: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("クリップの書き込みに失敗したのだ: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	// 書き込み完了後に rename することで、中途半端なキャッシュを読ませないのだ。
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("キャッシュへの移動に失敗したのだ: %w", err)
	}
	return nil
}

// cacheName は参照から決定論的なキャッシュファイル名を作るのだ。
func cacheName(ref string) string {
	sum := sha256.Sum256([]byte(ref))
	ext := filepath.Ext(ref)
	if ext == "" {
		ext = ".mp3"
	}
	return fmt.Sprintf("%x%s", sum[:8], ext)
}
