package library

import (
	"context"
	"errors"
	"testing"

	"github.com/shouni/go-ehon-kit/pkg/domain"
	"github.com/shouni/go-ehon-kit/pkg/gateway"
	"github.com/shouni/go-ehon-kit/pkg/media"
)

// countingGateway は呼び出し回数を数えるテスト用ゲートウェイです。
type countingGateway struct {
	listCalls int
	getCalls  int
	summaries []domain.BookSummary
	book      *domain.Book
	listErr   error
	getErr    error
}

func (g *countingGateway) ListBooks(ctx context.Context) ([]domain.BookSummary, error) {
	g.listCalls++
	if g.listErr != nil {
		return nil, g.listErr
	}
	return g.summaries, nil
}

func (g *countingGateway) GetBook(ctx context.Context, id string) (*domain.Book, error) {
	g.getCalls++
	if g.getErr != nil {
		return nil, g.getErr
	}
	return g.book, nil
}

func (g *countingGateway) Analyze(ctx context.Context, images []media.ImageInput) (*domain.AnalysisResult, error) {
	return nil, errors.New("not implemented")
}
func (g *countingGateway) Synthesize(ctx context.Context, p []domain.Page, c map[string]domain.Character, id string) (*domain.SynthesisResult, error) {
	return nil, errors.New("not implemented")
}
func (g *countingGateway) Save(ctx context.Context, b domain.Book) (*domain.SaveResult, error) {
	return nil, errors.New("not implemented")
}
func (g *countingGateway) ResolveRef(ref string) string { return ref }

func validBook() *domain.Book {
	return &domain.Book{
		BookID:     "b-1",
		Title:      "ねこの一日",
		Pages:      []domain.Page{{PageNumber: 1}, {PageNumber: 2}},
		AudioPaths: []string{"a/0.mp3", "a/1.mp3"},
	}
}

func TestListSortsAndCaches(t *testing.T) {
	g := &countingGateway{
		summaries: []domain.BookSummary{
			{BookID: "old", Title: "古い本", PageCount: 1, CreatedAt: 100},
			{BookID: "new", Title: "新しい本", PageCount: 2, CreatedAt: 300},
			{BookID: "mid", Title: "中間の本", PageCount: 3, CreatedAt: 200},
		},
	}
	s := NewStore(g)

	list, err := s.List(t.Context())
	if err != nil {
		t.Fatalf("一覧取得に失敗しました: %v", err)
	}
	if list[0].BookID != "new" || list[2].BookID != "old" {
		t.Errorf("新しい順に並んでいません: %+v", list)
	}

	t.Run("TTL 内の再取得は HTTP を呼ばないこと", func(t *testing.T) {
		if _, err := s.List(t.Context()); err != nil {
			t.Fatalf("キャッシュからの取得に失敗しました: %v", err)
		}
		if g.listCalls != 1 {
			t.Errorf("ListBooks が %d 回呼ばれました（1回のはず）", g.listCalls)
		}
	})
}

func TestGetValidatesAndCaches(t *testing.T) {
	g := &countingGateway{book: validBook()}
	s := NewStore(g)

	book, err := s.Get(t.Context(), "b-1")
	if err != nil {
		t.Fatalf("本の読み込みに失敗しました: %v", err)
	}
	if book.Title != "ねこの一日" {
		t.Errorf("読み込んだ本が不正です: %+v", book)
	}

	if _, err := s.Get(t.Context(), "b-1"); err != nil {
		t.Fatal(err)
	}
	if g.getCalls != 1 {
		t.Errorf("GetBook が %d 回呼ばれました（1回のはず）", g.getCalls)
	}

	t.Run("Invalidate 後は再取得されること", func(t *testing.T) {
		s.Invalidate("b-1")
		if _, err := s.Get(t.Context(), "b-1"); err != nil {
			t.Fatal(err)
		}
		if g.getCalls != 2 {
			t.Errorf("Invalidate 後に再取得されていません: calls=%d", g.getCalls)
		}
	})
}

func TestGetRejectsInconsistentBook(t *testing.T) {
	broken := validBook()
	broken.AudioPaths = broken.AudioPaths[:1] // ページ2枚・音声1本

	g := &countingGateway{book: broken}
	s := NewStore(g)

	_, err := s.Get(t.Context(), "b-1")
	if err == nil {
		t.Fatal("不整合な本が検査を通過しました")
	}
	if !gateway.IsContractViolation(err) {
		t.Errorf("契約違反として分類されませんでした: %v", err)
	}
}

func TestLoadFailurePropagates(t *testing.T) {
	g := &countingGateway{getErr: &gateway.StatusError{Endpoint: "/books/x", Code: 404}}
	s := NewStore(g)

	if _, err := s.Get(t.Context(), "x"); !gateway.IsTransport(err) {
		t.Errorf("読み込み失敗が転送エラーとして伝播していません: %v", err)
	}
}
