// Package library は、保存済みの絵本の一覧取得と読み込みを提供します。
// 作成パイプラインからは独立しており、読み込んだ本はそのまま再生エンジンへ渡せます。
package library

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shouni/go-ehon-kit/pkg/domain"
	"github.com/shouni/go-ehon-kit/pkg/gateway"

	"github.com/patrickmn/go-cache"
)

const (
	defaultCacheExpiration = 5 * time.Minute
	cacheCleanupInterval   = 15 * time.Minute

	listCacheKey = "library:list"
)

// Store はゲートウェイ越しの一覧・取得に TTL キャッシュを重ねたライブラリストアです。
type Store struct {
	client gateway.ClientInterface
	cache  *cache.Cache
}

// NewStore はライブラリストアを生成します。
func NewStore(client gateway.ClientInterface) *Store {
	return &Store{
		client: client,
		cache:  cache.New(defaultCacheExpiration, cacheCleanupInterval),
	}
}

// List は保存済みの本の一覧を新しい順で返します。
// サーバー側の並び順は契約上未規定なので、表示用の並び替えはここで行います。
func (s *Store) List(ctx context.Context) ([]domain.BookSummary, error) {
	if cached, ok := s.cache.Get(listCacheKey); ok {
		return cached.([]domain.BookSummary), nil
	}

	summaries, err := s.client.ListBooks(ctx)
	if err != nil {
		return nil, fmt.Errorf("本の一覧取得に失敗しました: %w", err)
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt > summaries[j].CreatedAt
	})

	s.cache.Set(listCacheKey, summaries, cache.DefaultExpiration)
	slog.Debug("ライブラリ一覧を取得しました", "count", len(summaries))
	return summaries, nil
}

// Get は本を丸ごと読み込みます。読み込みに失敗しても画面遷移は起こさない
// （ライブラリに留まる）のが契約なので、エラーはそのまま呼び出し側へ返すだけです。
func (s *Store) Get(ctx context.Context, bookID string) (*domain.Book, error) {
	if cached, ok := s.cache.Get(bookCacheKey(bookID)); ok {
		book := cached.(domain.Book)
		return &book, nil
	}

	book, err := s.client.GetBook(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("本 '%s' の読み込みに失敗しました: %w", bookID, err)
	}

	// 半端に読み込まれた本を再生エンジンに渡さないための水際検査です。
	if err := book.Validate(); err != nil {
		return nil, fmt.Errorf("本 '%s' が契約に違反しています (%v): %w", bookID, err, gateway.ErrContract)
	}

	s.cache.Set(bookCacheKey(bookID), *book, cache.DefaultExpiration)
	return book, nil
}

// Invalidate は指定した本と一覧のキャッシュを破棄します。
// 保存や再合成の後に呼ぶことで、古い内容を読まされるのを防ぎます。
func (s *Store) Invalidate(bookID string) {
	s.cache.Delete(bookCacheKey(bookID))
	s.cache.Delete(listCacheKey)
}

// Flush はキャッシュ全体を破棄します。
func (s *Store) Flush() {
	s.cache.Flush()
}

func bookCacheKey(bookID string) string {
	return "library:book:" + bookID
}
