package risk

import (
	"context"
	"time"

	"github.com/yanun0323/logs"
)

// Monitor periodically re-evaluates drawdown limits from the recorded
// equity series. A breach detected here queues forced closures exactly
// like a breach detected at snapshot time; the controller observes the
// halt before its next tick.
type Monitor struct {
	engine   *Engine
	interval time.Duration
	onHalt   func()
}

// NewMonitor creates a drawdown monitor. onHalt may be nil.
func NewMonitor(engine *Engine, interval time.Duration, onHalt func()) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{engine: engine, interval: interval, onHalt: onHalt}
}

// Run blocks until the context is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.engine.CheckDrawdown() {
				logs.Warn("drawdown monitor triggered risk halt")
				if m.onHalt != nil {
					m.onHalt()
				}
			}
		}
	}
}
