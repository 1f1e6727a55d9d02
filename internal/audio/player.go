// Package audio は、再生エンジンが要求する音声ハンドルの実装を提供するのだ。
// クリップ参照のローカル解決（先読みキャッシュ）と、スピーカーへの実再生を担当するのだ。
package audio

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/shouni/go-ehon-kit/pkg/playback"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/mp3"
	"github.com/gopxl/beep/speaker"
)

// speakerSampleRate はスピーカーの固定サンプリングレートなのだ。
// クリップ側のレートが違う場合はリサンプリングして合わせるのだ。
const speakerSampleRate beep.SampleRate = 44100

var speakerOnce sync.Once

// initSpeaker はスピーカーデバイスを一度だけ初期化するのだ。
func initSpeaker() error {
	var err error
	speakerOnce.Do(func() {
		err = speaker.Init(speakerSampleRate, speakerSampleRate.N(100*time.Millisecond))
	})
	return err
}

// Player は gopxl/beep によるスピーカー再生の ClipOpener 実装なのだ。
type Player struct {
	fetch *Prefetcher
}

var _ playback.ClipOpener = (*Player)(nil)

// NewPlayer は Prefetcher を使ってクリップを解決する Player を返すのだ。
func NewPlayer(fetch *Prefetcher) *Player {
	return &Player{fetch: fetch}
}

// Open は参照をローカルの MP3 に解決し、再生可能なハンドルを返すのだ。
// クリップが自然に最後まで鳴り切ったときだけ onEnd が1回呼ばれるのだ。
func (p *Player) Open(ref string, onEnd func()) (playback.Handle, error) {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultFetchTimeout)
	defer cancel()

	path, err := p.fetch.LocalPath(ctx, ref)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("クリップファイルを開けなかったのだ: %w", err)
	}

	streamer, format, err := mp3.Decode(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("クリップ '%s' のデコードに失敗したのだ: %w", ref, err)
	}

	if err := initSpeaker(); err != nil {
		streamer.Close()
		return nil, fmt.Errorf("スピーカーの初期化に失敗したのだ: %w", err)
	}

	var stream beep.Streamer = streamer
	if format.SampleRate != speakerSampleRate {
		stream = beep.Resample(4, format.SampleRate, speakerSampleRate, streamer)
	}

	h := &clipHandle{streamer: streamer}
	h.ctrl = &beep.Ctrl{
		// Callback はスピーカーのロックを保持したまま呼ばれるため、
		// エンジン側の解放処理とデッドロックしないようゴルーチンへ逃がすのだ。
		Streamer: beep.Seq(stream, beep.Callback(func() { go onEnd() })),
		Paused:   true, // 再生開始はエンジンの Play 指示に従うのだ
	}
	speaker.Play(h.ctrl)
	return h, nil
}

// clipHandle は beep.Ctrl を包んだ再生ハンドルなのだ。
type clipHandle struct {
	ctrl     *beep.Ctrl
	streamer beep.StreamSeekCloser
	once     sync.Once
	closed   bool
	mu       sync.Mutex
}

// Play は再生を開始（または再開）するのだ。冪等なのだ。
func (h *clipHandle) Play() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	speaker.Lock()
	h.ctrl.Paused = false
	speaker.Unlock()
}

// Pause は再生を一時停止するのだ。冪等なのだ。
func (h *clipHandle) Pause() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	speaker.Lock()
	h.ctrl.Paused = true
	speaker.Unlock()
}

// Close はハンドルを解放するのだ。ミキサーから切り離してからストリームを閉じるのだ。
func (h *clipHandle) Close() error {
	var err error
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		h.mu.Unlock()

		speaker.Lock()
		h.ctrl.Paused = true
		h.ctrl.Streamer = nil // nil ストリーマーはミキサーが自動で取り除くのだ
		speaker.Unlock()

		err = h.streamer.Close()
	})
	return err
}
