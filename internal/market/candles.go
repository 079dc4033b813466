package market

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"feedrouter/internal/model"
)

// CandleTable holds the active candle per (symbol, venue, interval)
// key. It has its own mutex, separate from the aggregator's, so candle
// publishing never stalls best-touch processing.
type CandleTable struct {
	mu        sync.Mutex
	intervals []int
	active    map[model.CandleKey]model.Candle

	pub Publisher
	log zerolog.Logger

	// OnClosed receives each finalized window (rolled over by a trade
	// or by the ticker). Wired to the archive/mirror fan-out.
	OnClosed func(cc model.ClosedCandle)

	// now is the ticker clock, replaceable in tests.
	now func() float64
}

// NewCandleTable creates a candle table for the given intervals.
func NewCandleTable(intervals []int, pub Publisher, log zerolog.Logger) *CandleTable {
	return &CandleTable{
		intervals: intervals,
		active:    make(map[model.CandleKey]model.Candle),
		pub:       pub,
		log:       log,
		now:       func() float64 { return float64(time.Now().UnixNano()) / 1e9 },
	}
}

// Update folds one trade into the active candle of every interval for
// the (symbol, venue) pair, opening fresh windows as needed, and
// publishes each touched candle.
func (t *CandleTable) Update(symbol, venue string, price, qty, ts float64) {
	type out struct {
		key    model.CandleKey
		candle model.Candle
		closed *model.ClosedCandle
	}
	outs := make([]out, 0, len(t.intervals))

	t.mu.Lock()
	for _, interval := range t.intervals {
		key := model.CandleKey{Symbol: symbol, Venue: venue, Interval: interval}
		start := ts - math.Mod(ts, float64(interval))

		candle, ok := t.active[key]
		var closed *model.ClosedCandle
		if !ok || ts >= candle.End {
			if ok && ts >= candle.End {
				prev := candle
				closed = &model.ClosedCandle{Key: key, Candle: prev}
			}
			candle = model.Candle{
				Start:  start,
				End:    start + float64(interval),
				Open:   price,
				High:   price,
				Low:    price,
				Close:  price,
				Volume: qty,
			}
		} else {
			if price > candle.High {
				candle.High = price
			}
			if price < candle.Low {
				candle.Low = price
			}
			candle.Close = price
			candle.Volume += qty
		}
		t.active[key] = candle
		outs = append(outs, out{key: key, candle: candle, closed: closed})
	}
	t.mu.Unlock()

	for _, o := range outs {
		if o.closed != nil && t.OnClosed != nil {
			t.OnClosed(*o.closed)
		}
		t.pub.PublishKline(o.key.Kline(o.candle))
	}
}

// RunTicker drives the once-per-second roll-and-republish pass until
// ctx is cancelled. Every active candle is published each pass whether
// it changed or not, so idle symbols stay at most one second silent.
func (t *CandleTable) RunTicker(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Tick(t.now())
		}
	}
}

// Tick rolls every candle whose window has elapsed (new window opens at
// the previous end with OHLC pinned to the previous close and zero
// volume) and publishes every active candle in sorted key order.
func (t *CandleTable) Tick(now float64) {
	type out struct {
		key    model.CandleKey
		candle model.Candle
		closed *model.ClosedCandle
	}

	t.mu.Lock()
	keys := make([]model.CandleKey, 0, len(t.active))
	for key := range t.active {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.Symbol != b.Symbol {
			return a.Symbol < b.Symbol
		}
		if a.Venue != b.Venue {
			return a.Venue < b.Venue
		}
		return a.Interval < b.Interval
	})

	outs := make([]out, 0, len(keys))
	for _, key := range keys {
		candle := t.active[key]
		var closed *model.ClosedCandle
		if now >= candle.End {
			prev := candle
			closed = &model.ClosedCandle{Key: key, Candle: prev}
			candle = model.Candle{
				Start:  prev.End,
				End:    prev.End + float64(key.Interval),
				Open:   prev.Close,
				High:   prev.Close,
				Low:    prev.Close,
				Close:  prev.Close,
				Volume: 0,
			}
			t.active[key] = candle
		}
		outs = append(outs, out{key: key, candle: candle, closed: closed})
	}
	t.mu.Unlock()

	for _, o := range outs {
		if o.closed != nil && t.OnClosed != nil {
			t.OnClosed(*o.closed)
		}
		t.pub.PublishKline(o.key.Kline(o.candle))
	}
}

// Active returns a copy of the current candle for a key, and whether
// one exists.
func (t *CandleTable) Active(key model.CandleKey) (model.Candle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.active[key]
	return c, ok
}
