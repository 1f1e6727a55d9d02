package app

import (
	"testing"
	"time"

	"github.com/shouni/go-ehon-kit/pkg/pipeline"
)

func TestProgressTickerStageFloors(t *testing.T) {
	p := NewProgressTicker(time.Hour, nil) // 刻みなし。ステージ遷移だけを見る
	defer p.Stop()

	if p.Percent() != 0 {
		t.Fatalf("初期値が 0 ではありません: %d", p.Percent())
	}

	p.Observe("run", pipeline.StageAnalyzing)
	if p.Percent() != 5 {
		t.Errorf("解析開始で床 5 へ跳んでいません: %d", p.Percent())
	}

	p.Observe("run", pipeline.StageSynthesizing)
	if p.Percent() != 55 {
		t.Errorf("合成開始で床 55 へ跳んでいません: %d", p.Percent())
	}

	p.Observe("run", pipeline.StagePersisting)
	if p.Percent() != 85 {
		t.Errorf("保存開始で床 85 へ跳んでいません: %d", p.Percent())
	}

	p.Observe("run", pipeline.StageDone)
	if p.Percent() != 100 {
		t.Errorf("完了で 100 になっていません: %d", p.Percent())
	}
}

func TestProgressTickerRespectsCeiling(t *testing.T) {
	p := NewProgressTicker(time.Hour, nil)
	defer p.Stop()

	p.Observe("run", pipeline.StageAnalyzing)
	// 解析中は刻みがいくら積まれても天井 55 を越えないこと
	for i := 0; i < 100; i++ {
		p.tick()
	}
	if got := p.Percent(); got != 55 {
		t.Errorf("天井を越えました: %d", got)
	}

	p.Observe("run", pipeline.StageSynthesizing)
	p.tick()
	if got := p.Percent(); got <= 55 || got > 85 {
		t.Errorf("合成帯の範囲外です: %d", got)
	}
}

func TestProgressTickerOnTick(t *testing.T) {
	done := make(chan int, 1)
	p := NewProgressTicker(2*time.Millisecond, func(pct int, stage pipeline.Stage) {
		select {
		case done <- pct:
		default:
		}
	})
	p.Observe("run", pipeline.StageAnalyzing)
	p.Start()
	defer p.Stop()

	select {
	case pct := <-done:
		if pct < 5 {
			t.Errorf("刻みの通知値が床を下回っています: %d", pct)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("刻みの通知が届きませんでした")
	}

	t.Run("二重停止しても落ちないこと", func(t *testing.T) {
		p.Stop()
		p.Stop()
	})
}
