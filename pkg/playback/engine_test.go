package playback

import (
	"sync"
	"testing"
	"time"

	"github.com/shouni/go-ehon-kit/pkg/domain"
)

// fakeHandle はテスト用の音声ハンドルです。finish() で自然終了を模倣します。
type fakeHandle struct {
	mu      sync.Mutex
	ref     string
	playing bool
	closed  bool
	onEnd   func()
}

func (h *fakeHandle) Play() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed {
		h.playing = true
	}
}

func (h *fakeHandle) Pause() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.playing = false
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

func (h *fakeHandle) isLive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.closed
}

func (h *fakeHandle) isPlaying() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.playing && !h.closed
}

// finish はクリップが最後まで再生されたことを通知します。
func (h *fakeHandle) finish() {
	h.onEnd()
}

// fakeOpener は生成したハンドルをすべて記録する ClipOpener です。
type fakeOpener struct {
	mu     sync.Mutex
	opened []*fakeHandle
}

func (o *fakeOpener) Open(ref string, onEnd func()) (Handle, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	h := &fakeHandle{ref: ref, onEnd: onEnd}
	o.opened = append(o.opened, h)
	return h, nil
}

func (o *fakeOpener) liveCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, h := range o.opened {
		if h.isLive() {
			n++
		}
	}
	return n
}

func (o *fakeOpener) last() *fakeHandle {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.opened) == 0 {
		return nil
	}
	return o.opened[len(o.opened)-1]
}

func testBook(refs ...string) *domain.Book {
	pages := make([]domain.Page, len(refs))
	for i := range pages {
		pages[i] = domain.Page{PageNumber: i + 1}
	}
	return &domain.Book{BookID: "b", Title: "t", Pages: pages, AudioPaths: refs}
}

// newTestEngine は短い自動送り遅延と状態通知チャネル付きのエンジンを返します。
func newTestEngine(t *testing.T, refs ...string) (*Engine, *fakeOpener, chan State) {
	t.Helper()
	opener := &fakeOpener{}
	updates := make(chan State, 64)
	eng, err := NewEngine(testBook(refs...), opener, Options{
		AdvanceDelay: 5 * time.Millisecond,
		OnUpdate:     func(s State) { updates <- s },
	})
	if err != nil {
		t.Fatalf("エンジンの生成に失敗しました: %v", err)
	}
	t.Cleanup(eng.Close)
	return eng, opener, updates
}

// waitState は条件を満たす状態通知が届くまで待ちます。
func waitState(t *testing.T, updates chan State, cond func(State) bool) State {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-updates:
			if cond(s) {
				return s
			}
		case <-deadline:
			t.Fatal("期待した状態に到達しませんでした")
			return State{}
		}
	}
}

func TestSeekResumesPlayback(t *testing.T) {
	eng, opener, _ := newTestEngine(t, "a.mp3", "b.mp3", "c.mp3")

	eng.Seek(1)
	if eng.Index() != 1 {
		t.Errorf("currentIndex が不正です: %d", eng.Index())
	}
	if !eng.Playing() {
		t.Error("Seek 後に playing = true になっていません")
	}
	if h := opener.last(); h == nil || h.ref != "b.mp3" {
		t.Error("ハンドルが refs[currentIndex] に束縛されていません")
	}

	t.Run("一時停止中でも移動すれば再生が再開されること", func(t *testing.T) {
		eng.TogglePlay() // pause
		if eng.Playing() {
			t.Fatal("TogglePlay で停止できませんでした")
		}
		eng.Seek(2)
		if !eng.Playing() {
			t.Error("停止中の Seek で再生が再開されませんでした")
		}
	})

	t.Run("範囲外 index は丸められること", func(t *testing.T) {
		eng.Seek(99)
		if eng.Index() != 2 {
			t.Errorf("上限に丸められていません: %d", eng.Index())
		}
		eng.Seek(-5)
		if eng.Index() != 0 {
			t.Errorf("下限に丸められていません: %d", eng.Index())
		}
	})
}

func TestAtMostOneLiveHandle(t *testing.T) {
	eng, opener, _ := newTestEngine(t, "a.mp3", "b.mp3", "c.mp3")

	eng.Seek(0)
	eng.Seek(1)
	eng.Seek(2)
	eng.Seek(0)

	if n := opener.liveCount(); n != 1 {
		t.Errorf("ライブなハンドルが %d 個あります（高々1個のはず）", n)
	}
	if h := opener.last(); h.ref != "a.mp3" {
		t.Errorf("ハンドルの束縛先が不正です: %s", h.ref)
	}
}

func TestTogglePlayKeepsIndex(t *testing.T) {
	eng, opener, _ := newTestEngine(t, "a.mp3", "b.mp3")

	eng.Seek(1)
	h := opener.last()

	eng.TogglePlay()
	if eng.Index() != 1 {
		t.Errorf("TogglePlay で currentIndex が変わりました: %d", eng.Index())
	}
	if eng.Playing() {
		t.Error("TogglePlay で停止できませんでした")
	}
	if !h.isLive() {
		t.Error("一時停止でハンドルが破棄されました（ページが変わるまで維持されるはず）")
	}
	if h.isPlaying() {
		t.Error("playing = false なのにハンドルが再生中です")
	}

	eng.TogglePlay()
	if !eng.Playing() || !h.isPlaying() {
		t.Error("再開後にハンドルが再生中になっていません")
	}
	if cnt := opener.liveCount(); cnt != 1 {
		t.Errorf("トグル往復でハンドル数が変化しました: %d", cnt)
	}
}

func TestAutoAdvanceOnNaturalEnd(t *testing.T) {
	eng, opener, updates := newTestEngine(t, "a.mp3", "b.mp3")

	eng.Seek(0)
	opener.last().finish() // 自然終了

	// 終了直後は playing = false に落ちること
	waitState(t, updates, func(s State) bool { return s.Index == 0 && !s.Playing })

	// 一定の間の後、次ページへ再生付きで自動送りされること
	s := waitState(t, updates, func(s State) bool { return s.Index == 1 })
	if !s.Playing {
		t.Error("自動送り後に再生が再開されていません")
	}
	if h := opener.last(); h.ref != "b.mp3" || !h.isPlaying() {
		t.Error("自動送り先のハンドルが再生されていません")
	}
}

func TestAutoAdvanceAfterPauseResume(t *testing.T) {
	eng, opener, updates := newTestEngine(t, "a.mp3", "b.mp3")

	eng.Seek(0)
	h := opener.last()

	// 一往復のトグルではハンドルは維持されること（前提の確認）
	eng.TogglePlay()
	eng.TogglePlay()
	if opener.last() != h || !h.isPlaying() {
		t.Fatal("トグル往復でハンドルが差し替わりました")
	}

	// 維持されたハンドルの自然終了は、トグルを挟んでも生きていること
	h.finish()
	s := waitState(t, updates, func(s State) bool { return s.Index == 1 })
	if !s.Playing {
		t.Error("一時停止と再開のあと、自然終了からの自動送りで再生が再開されていません")
	}
}

func TestAutoAdvanceAfterSeekToSamePage(t *testing.T) {
	eng, opener, updates := newTestEngine(t, "a.mp3", "b.mp3")

	eng.Seek(0)
	h := opener.last()
	eng.Seek(0) // 現在ページへのスクラブ。ハンドルは維持されること
	if opener.last() != h {
		t.Fatal("同じページへの Seek でハンドルが差し替わりました")
	}

	h.finish()
	waitState(t, updates, func(s State) bool { return s.Index == 1 })
}

func TestNoAdvancePastLastPage(t *testing.T) {
	eng, opener, updates := newTestEngine(t, "a.mp3", "b.mp3")

	eng.Seek(1) // 最終ページ
	opener.last().finish()

	waitState(t, updates, func(s State) bool { return !s.Playing })
	time.Sleep(30 * time.Millisecond) // 自動送り遅延の十分後まで待つ

	if eng.Index() != 1 {
		t.Errorf("最終ページを越えて自動送りされました: %d", eng.Index())
	}
	if eng.Playing() {
		t.Error("最終ページ終了後に再生状態が残っています")
	}
}

func TestNoAdvanceOnManualPause(t *testing.T) {
	eng, _, _ := newTestEngine(t, "a.mp3", "b.mp3")

	eng.Seek(0)
	eng.TogglePlay() // 手動停止。自然終了ではないので自動送りしないこと

	time.Sleep(30 * time.Millisecond)
	if eng.Index() != 0 {
		t.Errorf("手動停止で自動送りが発生しました: %d", eng.Index())
	}
}

func TestNavigationCancelsPendingAdvance(t *testing.T) {
	eng, opener, updates := newTestEngine(t, "a.mp3", "b.mp3", "c.mp3")

	eng.Seek(1)
	opener.last().finish()
	waitState(t, updates, func(s State) bool { return s.Index == 1 && !s.Playing })

	// 自動送りが発火する前にユーザーが別ページへ移動する
	eng.Seek(0)

	time.Sleep(30 * time.Millisecond)
	if eng.Index() != 0 {
		t.Errorf("取り消されるべき自動送りが発火しました: index=%d", eng.Index())
	}
}

func TestEmptyAudioRef(t *testing.T) {
	eng, opener, updates := newTestEngine(t, "", "b.mp3")

	// 音声参照が空のページではハンドルを作らないこと
	eng.Seek(0)
	if len(opener.opened) != 0 && opener.opened[0].ref == "" {
		t.Error("空参照に対してハンドルが生成されました")
	}

	// 合成された「即終了」シグナルにより自動送りは適用されること
	s := waitState(t, updates, func(s State) bool { return s.Index == 1 })
	if !s.Playing {
		t.Error("無音ページからの自動送り後に再生が再開されていません")
	}
	if h := opener.last(); h == nil || h.ref != "b.mp3" {
		t.Error("自動送り先のハンドルが束縛されていません")
	}
}

func TestStaleEndSignalIgnored(t *testing.T) {
	eng, opener, _ := newTestEngine(t, "a.mp3", "b.mp3", "c.mp3")

	eng.Seek(0)
	old := opener.last()
	eng.Seek(2) // ここで old は解放済み

	old.finish() // 解放済みハンドルからの遅延通知

	time.Sleep(30 * time.Millisecond)
	if eng.Index() != 2 {
		t.Errorf("古い終了通知が適用されました: index=%d", eng.Index())
	}
}

func TestCloseReleasesEverything(t *testing.T) {
	eng, opener, _ := newTestEngine(t, "a.mp3", "b.mp3")

	eng.Seek(0)
	opener.last().finish() // 自動送りを保留状態にする
	eng.Close()

	time.Sleep(30 * time.Millisecond)
	if n := opener.liveCount(); n != 0 {
		t.Errorf("Close 後もライブなハンドルが %d 個残っています", n)
	}
	if eng.Index() != 0 {
		t.Error("Close 後にタイマーが発火しました")
	}

	t.Run("Close 後の操作は no-op であること", func(t *testing.T) {
		eng.Seek(1)
		eng.TogglePlay()
		if eng.Playing() {
			t.Error("Close 後に再生状態が変化しました")
		}
	})
}

func TestNewEngineValidation(t *testing.T) {
	opener := &fakeOpener{}

	t.Run("音声数不一致の本は拒否されること", func(t *testing.T) {
		book := testBook("a.mp3", "b.mp3")
		book.AudioPaths = book.AudioPaths[:1]
		if _, err := NewEngine(book, opener, Options{}); err == nil {
			t.Error("長さ不一致でエラーが発生しませんでした")
		}
	})

	t.Run("空の本は拒否されること", func(t *testing.T) {
		if _, err := NewEngine(&domain.Book{}, opener, Options{}); err == nil {
			t.Error("空の本でエラーが発生しませんでした")
		}
	})
}
