package paper

import (
	"context"

	"feedrouter/internal/model"
)

// Matcher decouples the aggregator's publish path from order
// execution. Best-touch updates queue into a buffered channel; the
// producer blocks rather than drop, so no crossing update is lost.
type Matcher struct {
	engine *Engine
	ch     chan model.BestTouch
}

// NewMatcher creates a matcher with the given queue depth.
func NewMatcher(engine *Engine, depth int) *Matcher {
	return &Matcher{
		engine: engine,
		ch:     make(chan model.BestTouch, depth),
	}
}

// Enqueue hands a best-touch update to the matcher. Blocks when the
// queue is full.
func (m *Matcher) Enqueue(bt model.BestTouch) {
	m.ch <- bt
}

// Run drains the queue until ctx is cancelled.
func (m *Matcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case bt := <-m.ch:
			m.engine.ExecuteBestTouch(bt.Symbol, bt.BestBid, bt.BestAsk)
		}
	}
}
