package market

import (
	"sync"

	"feedrouter/internal/model"
)

// capturePublisher records everything published, for assertions.
type capturePublisher struct {
	mu     sync.Mutex
	touches []model.BestTouch
	trades  []model.TradeEvent
	klines  []model.KlineEvent
}

func (p *capturePublisher) PublishBestTouch(bt model.BestTouch) {
	p.mu.Lock()
	p.touches = append(p.touches, bt)
	p.mu.Unlock()
}

func (p *capturePublisher) PublishTrade(tr model.TradeEvent) {
	p.mu.Lock()
	p.trades = append(p.trades, tr)
	p.mu.Unlock()
}

func (p *capturePublisher) PublishKline(k model.KlineEvent) {
	p.mu.Lock()
	p.klines = append(p.klines, k)
	p.mu.Unlock()
}

func (p *capturePublisher) lastTouch() model.BestTouch {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.touches[len(p.touches)-1]
}

func (p *capturePublisher) klineCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.klines)
}
