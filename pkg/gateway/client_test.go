package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shouni/go-ehon-kit/pkg/domain"
	"github.com/shouni/go-ehon-kit/pkg/media"
)

func testImages() []media.ImageInput {
	return []media.ImageInput{
		{Name: "page1.png", Data: []byte("img-1")},
		{Name: "page2.png", Data: []byte("img-2")},
	}
}

func TestAnalyzeMultipart(t *testing.T) {
	var gotNames []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/analyze" {
			t.Errorf("想定外のパスです: %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("multipart の解析に失敗しました: %v", err)
		}
		for _, fh := range r.MultipartForm.File["files"] {
			gotNames = append(gotNames, fh.Filename)
		}
		json.NewEncoder(w).Encode(domain.AnalysisResult{
			Pages: []domain.Page{
				{PageNumber: 1, SceneDescription: "森"},
				{PageNumber: 2, SceneDescription: "川"},
			},
			Characters: map[string]domain.Character{
				"うさぎ": {Gender: domain.GenderFemale, Age: domain.AgeChild, Voice: "voice-a"},
			},
		})
	}))
	defer srv.Close()

	c := New(srv.URL+"/api", 5*time.Second)
	result, err := c.Analyze(t.Context(), testImages())
	if err != nil {
		t.Fatalf("Analyze に失敗しました: %v", err)
	}

	if len(gotNames) != 2 || gotNames[0] != "page1.png" || gotNames[1] != "page2.png" {
		t.Errorf("files フィールドの順序が入力順と一致しません: %v", gotNames)
	}
	if len(result.Pages) != 2 {
		t.Errorf("ページ数が不正です: %d", len(result.Pages))
	}
	if result.Characters["うさぎ"].Voice != "voice-a" {
		t.Error("キャラクターのデコードに失敗しています")
	}

	t.Run("空バッチはエラーになること", func(t *testing.T) {
		if _, err := c.Analyze(t.Context(), nil); err == nil {
			t.Error("空バッチでエラーが発生しませんでした")
		}
	})
}

func TestAnalyzeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	_, err := c.Analyze(t.Context(), testImages())
	if err == nil {
		t.Fatal("500 応答でエラーが発生しませんでした")
	}
	if !IsTransport(err) {
		t.Errorf("転送エラーとして分類されていません: %v", err)
	}
	if IsContractViolation(err) {
		t.Errorf("転送エラーが契約違反として分類されました: %v", err)
	}
}

func TestSynthesizeContract(t *testing.T) {
	t.Run("book_id が返ること", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var body struct {
				BookID string `json:"book_id"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			if body.BookID != "existing-id" {
				t.Errorf("book_id が引き継がれていません: %q", body.BookID)
			}
			json.NewEncoder(w).Encode(domain.SynthesisResult{
				BookID:     "existing-id",
				AudioPaths: []string{"a/0.mp3"},
			})
		}))
		defer srv.Close()

		c := New(srv.URL, 5*time.Second)
		result, err := c.Synthesize(t.Context(), []domain.Page{{PageNumber: 1}}, nil, "existing-id")
		if err != nil {
			t.Fatalf("Synthesize に失敗しました: %v", err)
		}
		if result.BookID != "existing-id" {
			t.Errorf("book_id が不正です: %q", result.BookID)
		}
	})

	t.Run("book_id 欠落は契約違反になること", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{"audio_paths": []string{}})
		}))
		defer srv.Close()

		c := New(srv.URL, 5*time.Second)
		_, err := c.Synthesize(t.Context(), []domain.Page{{PageNumber: 1}}, nil, "")
		if !IsContractViolation(err) {
			t.Errorf("book_id 欠落が契約違反として分類されませんでした: %v", err)
		}
	})
}

func TestSaveAndGetBookRoundTrip(t *testing.T) {
	book := domain.Book{
		BookID: "b-42",
		Title:  "かめの冒険",
		Pages: []domain.Page{
			{PageNumber: 1, SceneDescription: "海", Narrator: "はじまり",
				Dialogues: []domain.Dialogue{{Character: "かめ", Text: "いくぞ", Emotion: "excited"}}},
		},
		Characters: map[string]domain.Character{
			"かめ": {Gender: domain.GenderMale, Age: domain.AgeAdult, Voice: "voice-b"},
		},
		AudioPaths: []string{"books/b-42/audio/0.mp3"},
	}

	var stored domain.Book
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/books/save":
			if err := json.NewDecoder(r.Body).Decode(&stored); err != nil {
				t.Fatalf("保存ボディのデコードに失敗しました: %v", err)
			}
			json.NewEncoder(w).Encode(domain.SaveResult{Status: "success", BookID: stored.BookID})
		case r.Method == http.MethodGet && r.URL.Path == "/books/b-42":
			json.NewEncoder(w).Encode(stored)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)

	saved, err := c.Save(t.Context(), book)
	if err != nil {
		t.Fatalf("Save に失敗しました: %v", err)
	}
	if saved.BookID != "b-42" {
		t.Errorf("保存応答の book_id が不正です: %q", saved.BookID)
	}

	loaded, err := c.GetBook(t.Context(), "b-42")
	if err != nil {
		t.Fatalf("GetBook に失敗しました: %v", err)
	}
	if loaded.Title != book.Title || len(loaded.Pages) != 1 || len(loaded.AudioPaths) != 1 {
		t.Error("保存した内容と読み込んだ内容が一致しません")
	}
	if loaded.Pages[0].Dialogues[0].Text != "いくぞ" {
		t.Error("セリフが往復で失われました")
	}

	t.Run("存在しない本は転送エラーになること", func(t *testing.T) {
		if _, err := c.GetBook(t.Context(), "missing"); !IsTransport(err) {
			t.Errorf("404 が転送エラーとして分類されませんでした: %v", err)
		}
	})
}

func TestResolveRef(t *testing.T) {
	c := New("http://localhost:8000/api", time.Second)

	cases := []struct {
		name string
		ref  string
		want string
	}{
		{"相対パスはオリジンに連結されること", "data/books/b/audio/0.mp3", "http://localhost:8000/data/books/b/audio/0.mp3"},
		{"先頭スラッシュ付きも同様であること", "/data/a.mp3", "http://localhost:8000/data/a.mp3"},
		{"絶対 URL はそのまま返ること", "http://cdn.example.com/a.mp3", "http://cdn.example.com/a.mp3"},
		{"空参照は空のままであること", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := c.ResolveRef(tc.ref); got != tc.want {
				t.Errorf("期待値 '%s', 実際の値 '%s'", tc.want, got)
			}
		})
	}
}
