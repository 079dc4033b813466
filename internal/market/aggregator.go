// Package market maintains per-venue quote state, folds it into the
// synthetic cross-venue best-touch, and accumulates candles across the
// configured intervals.
package market

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"feedrouter/internal/model"
)

// Publisher receives normalized market events for fan-out. The gateway
// hub and the Redis mirror both implement it.
type Publisher interface {
	PublishBestTouch(bt model.BestTouch)
	PublishTrade(tr model.TradeEvent)
	PublishKline(k model.KlineEvent)
}

// MultiPublisher fans every event to each member publisher in order.
type MultiPublisher []Publisher

func (m MultiPublisher) PublishBestTouch(bt model.BestTouch) {
	for _, p := range m {
		p.PublishBestTouch(bt)
	}
}

func (m MultiPublisher) PublishTrade(tr model.TradeEvent) {
	for _, p := range m {
		p.PublishTrade(tr)
	}
}

func (m MultiPublisher) PublishKline(k model.KlineEvent) {
	for _, p := range m {
		p.PublishKline(k)
	}
}

// venueQuote is the latest top-of-book snapshot from one venue.
type venueQuote struct {
	bid float64
	ask float64
	ts  float64
}

// Aggregator folds per-venue quotes into a synthetic best-touch and
// routes trades into the candle table. It consumes feed events from a
// single channel, so per-symbol updates are totally ordered.
type Aggregator struct {
	mu        sync.Mutex
	quotes    map[string]map[string]venueQuote // symbol → venue → latest quote
	lastTrade map[string]map[string]float64    // symbol → venue → last price

	candles *CandleTable
	pub     Publisher
	log     zerolog.Logger

	// OnBestTouch hands the recomputed synthetic best to the paper
	// matcher after it has been published. Blocking: the matcher side
	// drains through a buffered channel to preserve per-symbol order.
	OnBestTouch func(bt model.BestTouch)
}

// NewAggregator creates an aggregator publishing through pub and
// accumulating candles in table.
func NewAggregator(table *CandleTable, pub Publisher, log zerolog.Logger) *Aggregator {
	return &Aggregator{
		quotes:    make(map[string]map[string]venueQuote),
		lastTrade: make(map[string]map[string]float64),
		candles:   table,
		pub:       pub,
		log:       log,
	}
}

// Run consumes normalized feed events until ctx is cancelled or the
// channel closes.
func (a *Aggregator) Run(ctx context.Context, events <-chan model.FeedEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Kind {
			case model.EventQuote:
				a.handleQuote(ev)
			case model.EventTrade:
				a.handleTrade(ev)
			}
		}
	}
}

// handleQuote overwrites the venue's snapshot, recomputes the synthetic
// best-touch, publishes it and notifies the matcher.
func (a *Aggregator) handleQuote(ev model.FeedEvent) {
	a.mu.Lock()
	perVenue := a.quotes[ev.Symbol]
	if perVenue == nil {
		perVenue = make(map[string]venueQuote)
		a.quotes[ev.Symbol] = perVenue
	}
	perVenue[ev.Venue] = venueQuote{bid: ev.Bid, ask: ev.Ask, ts: ev.TS}
	bt := foldBestTouch(ev.Symbol, perVenue)
	a.mu.Unlock()

	a.pub.PublishBestTouch(bt)
	if a.OnBestTouch != nil {
		a.OnBestTouch(bt)
	}
}

// handleTrade records the last price, publishes the trade, and updates
// candles for the venue key and the cross-venue "all" key.
func (a *Aggregator) handleTrade(ev model.FeedEvent) {
	a.mu.Lock()
	perVenue := a.lastTrade[ev.Symbol]
	if perVenue == nil {
		perVenue = make(map[string]float64)
		a.lastTrade[ev.Symbol] = perVenue
	}
	perVenue[ev.Venue] = ev.Price
	a.mu.Unlock()

	a.pub.PublishTrade(model.TradeEvent{
		Symbol:    ev.Symbol,
		Exchange:  ev.Venue,
		Price:     ev.Price,
		Quantity:  ev.Qty,
		Timestamp: ev.TS,
	})

	a.candles.Update(ev.Symbol, ev.Venue, ev.Price, ev.Qty, ev.TS)
	a.candles.Update(ev.Symbol, model.VenueAll, ev.Price, ev.Qty, ev.TS)
}

// LastTrade returns the most recent trade price for (symbol, venue),
// and whether one has been seen.
func (a *Aggregator) LastTrade(symbol, venue string) (float64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	price, ok := a.lastTrade[symbol][venue]
	return price, ok
}

// BestTouch returns the current synthetic best for a symbol.
func (a *Aggregator) BestTouch(symbol string) model.BestTouch {
	a.mu.Lock()
	defer a.mu.Unlock()
	perVenue := a.quotes[symbol]
	if perVenue == nil {
		return model.BestTouch{Symbol: symbol}
	}
	return foldBestTouch(symbol, perVenue)
}

// foldBestTouch computes max bid / min ask over all quoting venues.
// Venues are visited in sorted name order with strict comparisons, so
// ties go to the lexicographically first venue, deterministically.
func foldBestTouch(symbol string, perVenue map[string]venueQuote) model.BestTouch {
	venues := make([]string, 0, len(perVenue))
	for v := range perVenue {
		venues = append(venues, v)
	}
	sort.Strings(venues)

	bt := model.BestTouch{Symbol: symbol}
	for _, venue := range venues {
		q := perVenue[venue]
		if q.bid > 0 && (bt.BestBid == nil || q.bid > *bt.BestBid) {
			bid, v := q.bid, venue
			bt.BestBid = &bid
			bt.BestBidExchange = &v
		}
		if q.ask > 0 && (bt.BestAsk == nil || q.ask < *bt.BestAsk) {
			ask, v := q.ask, venue
			bt.BestAsk = &ask
			bt.BestAskExchange = &v
		}
	}
	return bt
}
