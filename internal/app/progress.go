package app

import (
	"sync"
	"time"

	"github.com/shouni/go-ehon-kit/pkg/pipeline"
)

// DefaultProgressInterval は進捗インジケーターの刻み間隔なのだ。
const DefaultProgressInterval = 200 * time.Millisecond

// ProgressTicker は、パイプラインの離散的なステージ遷移を 0〜100 の連続的な
// インジケーターへ写す表示用の部品なのだ。実際の完了割合ではなく経過時間による
// 近似で、各ステージの天井までしか進まないのだ（ステージ重み付きの床・天井方式）。
// 中核の契約ではなく、純粋に表示のための層なのだ。
type ProgressTicker struct {
	interval time.Duration
	onTick   func(percent int, stage pipeline.Stage)

	mu       sync.Mutex
	pct      int
	ceiling  int
	stage    pipeline.Stage
	lastPct  int
	lastSent pipeline.Stage
	notified bool
	stop     chan struct{}
	stopped  bool
}

// NewProgressTicker は進捗インジケーターを生成するのだ。onTick は刻みごとに呼ばれるのだ。
func NewProgressTicker(interval time.Duration, onTick func(percent int, stage pipeline.Stage)) *ProgressTicker {
	if interval <= 0 {
		interval = DefaultProgressInterval
	}
	return &ProgressTicker{
		interval: interval,
		onTick:   onTick,
		stop:     make(chan struct{}),
	}
}

// Observe は pipeline.StageObserver として配線するのだ。
// ステージが進むたびに床へジャンプし、天井が引き上がるのだ。
func (p *ProgressTicker) Observe(runID string, stage pipeline.Stage) {
	floor, ceiling := stageBounds(stage)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.stage = stage
	if stage == pipeline.StageAnalyzing {
		// 実行は必ず解析から始まるので、前回の値が残っていてもここで巻き戻すのだ
		p.pct = floor
	} else if p.pct < floor {
		p.pct = floor
	}
	p.ceiling = ceiling
	if stage == pipeline.StageDone {
		p.pct = 100
	}
}

// stageBounds は各ステージの進捗の床と天井なのだ。
// 解析が最も長いので広い帯を割り当てているのだ。
func stageBounds(stage pipeline.Stage) (floor, ceiling int) {
	switch stage {
	case pipeline.StageAnalyzing:
		return 5, 55
	case pipeline.StageSynthesizing:
		return 55, 85
	case pipeline.StagePersisting:
		return 85, 98
	case pipeline.StageDone:
		return 100, 100
	default:
		return 0, 0
	}
}

// Start は刻みの供給を開始するのだ。
func (p *ProgressTicker) Start() {
	go func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
				p.tick()
			}
		}
	}()
}

// tick は天井を越えない範囲で進捗を少しずつ進めるのだ。
// 値もステージも変わっていないときは通知しないのだ（完了後に表示を上書きし続けないため）。
func (p *ProgressTicker) tick() {
	p.mu.Lock()
	if p.pct < p.ceiling {
		p.pct += 2
		if p.pct > p.ceiling {
			p.pct = p.ceiling
		}
	}
	changed := !p.notified || p.pct != p.lastPct || p.stage != p.lastSent
	p.notified = true
	p.lastPct, p.lastSent = p.pct, p.stage
	pct, stage := p.pct, p.stage
	cb := p.onTick
	p.mu.Unlock()

	if cb != nil && changed {
		cb(pct, stage)
	}
}

// Stop は供給を止めるのだ。二重停止しても安全なのだ。
func (p *ProgressTicker) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.stopped = true
	close(p.stop)
}

// Percent は現在の進捗値を返すのだ。
func (p *ProgressTicker) Percent() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pct
}
