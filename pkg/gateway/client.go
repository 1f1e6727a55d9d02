// Package gateway は、絵本バックエンド（解析・音声合成・保存・一覧）への
// HTTP クライアントを提供します。AI モデルそのものの挙動は対象外で、
// ここで扱うのはリクエスト／レスポンス契約だけです。
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shouni/go-ehon-kit/pkg/domain"
	"github.com/shouni/go-ehon-kit/pkg/media"

	"golang.org/x/time/rate"
)

const (
	// DefaultRateInterval は連続呼び出しの最小間隔です。
	DefaultRateInterval = 200 * time.Millisecond

	// errorBodyLimit は診断用に保持する異常応答本文の上限です。
	errorBodyLimit = 1 << 10
)

// ClientInterface は、バックエンドゲートウェイとの通信に必要な操作を定義します。
// パイプラインやライブラリストアはこのインターフェースにのみ依存します。
type ClientInterface interface {
	// Analyze は画像バッチを1回のアトミックなリクエストとして解析に投入します。
	Analyze(ctx context.Context, images []media.ImageInput) (*domain.AnalysisResult, error)
	// Synthesize はページとキャラクターから音声を合成します。
	// bookID を渡すと新規採番ではなく既存の本を更新します。
	Synthesize(ctx context.Context, pages []domain.Page, characters map[string]domain.Character, bookID string) (*domain.SynthesisResult, error)
	// Save は完成した本を永続化します。
	Save(ctx context.Context, book domain.Book) (*domain.SaveResult, error)
	// ListBooks は保存済みの本の一覧を返します。並び順は契約上未規定です。
	ListBooks(ctx context.Context) ([]domain.BookSummary, error)
	// GetBook は本を丸ごと取得します。
	GetBook(ctx context.Context, bookID string) (*domain.Book, error)
	// ResolveRef は音声クリップ参照を取得可能な絶対 URL に解決します。
	ResolveRef(ref string) string
}

// Client は ClientInterface の HTTP 実装です。
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

var _ ClientInterface = (*Client)(nil)

// New は指定されたベース URL（例: "http://localhost:8000/api"）とタイムアウトで
// クライアントを生成します。
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		// Burst 2 により、ステージ間の連続呼び出しは待たされません。
		limiter: rate.NewLimiter(rate.Every(DefaultRateInterval), 2),
	}
}

// Analyze は POST /analyze を呼び出します。
// multipart の "files" フィールドを画像ごとに繰り返し、入力順をそのまま保ちます。
func (c *Client) Analyze(ctx context.Context, images []media.ImageInput) (*domain.AnalysisResult, error) {
	if len(images) == 0 {
		return nil, fmt.Errorf("解析対象の画像がありません")
	}

	body := new(bytes.Buffer)
	mw := multipart.NewWriter(body)
	for _, img := range images {
		fw, err := mw.CreateFormFile("files", img.Name)
		if err != nil {
			return nil, fmt.Errorf("multipart の構築に失敗しました: %w", err)
		}
		if _, err := fw.Write(img.Data); err != nil {
			return nil, fmt.Errorf("画像 '%s' の書き込みに失敗しました: %w", img.Name, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("multipart のクローズに失敗しました: %w", err)
	}

	var result domain.AnalysisResult
	if err := c.do(ctx, http.MethodPost, "/analyze", mw.FormDataContentType(), body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Synthesize は POST /synthesize を呼び出します。
func (c *Client) Synthesize(ctx context.Context, pages []domain.Page, characters map[string]domain.Character, bookID string) (*domain.SynthesisResult, error) {
	payload := struct {
		Pages      []domain.Page               `json:"pages"`
		Characters map[string]domain.Character `json:"characters"`
		BookID     string                      `json:"book_id,omitempty"`
	}{pages, characters, bookID}

	var result domain.SynthesisResult
	if err := c.doJSON(ctx, "/synthesize", payload, &result); err != nil {
		return nil, err
	}
	if result.BookID == "" {
		return nil, fmt.Errorf("synthesize 応答に book_id がありません: %w", ErrContract)
	}
	return &result, nil
}

// Save は POST /books/save を呼び出します。
func (c *Client) Save(ctx context.Context, book domain.Book) (*domain.SaveResult, error) {
	var result domain.SaveResult
	if err := c.doJSON(ctx, "/books/save", book, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListBooks は GET /books を呼び出します。
func (c *Client) ListBooks(ctx context.Context) ([]domain.BookSummary, error) {
	var result []domain.BookSummary
	if err := c.do(ctx, http.MethodGet, "/books", "", nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// GetBook は GET /books/{book_id} を呼び出します。
func (c *Client) GetBook(ctx context.Context, bookID string) (*domain.Book, error) {
	if bookID == "" {
		return nil, fmt.Errorf("book_id が空です")
	}
	var result domain.Book
	if err := c.do(ctx, http.MethodGet, "/books/"+url.PathEscape(bookID), "", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ResolveRef は音声クリップ参照を絶対 URL に解決します。
// すでに絶対 URL ならそのまま返し、相対パスならサーバーのオリジンに連結します。
func (c *Client) ResolveRef(ref string) string {
	if ref == "" {
		return ""
	}
	if strings.Contains(ref, "://") {
		return ref
	}
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return ref
	}
	origin := u.Scheme + "://" + u.Host
	return origin + "/" + strings.TrimLeft(ref, "/")
}

// doJSON は JSON ボディの POST を実行します。
func (c *Client) doJSON(ctx context.Context, endpoint string, payload, out any) error {
	body := new(bytes.Buffer)
	if err := json.NewEncoder(body).Encode(payload); err != nil {
		return fmt.Errorf("リクエストのエンコードに失敗しました: %w", err)
	}
	return c.do(ctx, http.MethodPost, endpoint, "application/json", body, out)
}

// do はレートリミット・送信・ステータス検査・デコードの共通経路です。
func (c *Client) do(ctx context.Context, method, endpoint, contentType string, body io.Reader, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("レートリミット待機が中断されました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return fmt.Errorf("リクエストの構築に失敗しました: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("バックエンド %s への送信に失敗しました: %w", endpoint, err)
	}
	defer resp.Body.Close()

	slog.Debug("バックエンド呼び出し", "endpoint", endpoint, "status", resp.StatusCode, "elapsed", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return &StatusError{Endpoint: endpoint, Code: resp.StatusCode, Body: string(snippet)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("応答 %s のデコードに失敗しました: %w", endpoint, err)
	}
	return nil
}
