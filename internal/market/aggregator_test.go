package market

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"feedrouter/internal/model"
)

func newTestAggregator(pub Publisher) *Aggregator {
	table := NewCandleTable([]int{60}, pub, zerolog.Nop())
	return NewAggregator(table, pub, zerolog.Nop())
}

func TestBestTouchFold(t *testing.T) {
	pub := &capturePublisher{}
	agg := newTestAggregator(pub)

	agg.handleQuote(model.FeedEvent{Kind: model.EventQuote, Venue: "binance", Symbol: "BTCUSDT", Bid: 100, Ask: 101, TS: 1})
	agg.handleQuote(model.FeedEvent{Kind: model.EventQuote, Venue: "okx", Symbol: "BTCUSDT", Bid: 100.5, Ask: 100.8, TS: 2})

	bt := pub.lastTouch()
	if bt.BestBid == nil || *bt.BestBid != 100.5 || *bt.BestBidExchange != "okx" {
		t.Errorf("best bid = %+v", bt)
	}
	if bt.BestAsk == nil || *bt.BestAsk != 100.8 || *bt.BestAskExchange != "okx" {
		t.Errorf("best ask = %+v", bt)
	}
}

func TestBestTouchTieGoesToFirstVenueName(t *testing.T) {
	pub := &capturePublisher{}
	agg := newTestAggregator(pub)

	agg.handleQuote(model.FeedEvent{Kind: model.EventQuote, Venue: "okx", Symbol: "BTCUSDT", Bid: 100, Ask: 101, TS: 1})
	agg.handleQuote(model.FeedEvent{Kind: model.EventQuote, Venue: "binance", Symbol: "BTCUSDT", Bid: 100, Ask: 101, TS: 2})

	bt := pub.lastTouch()
	if *bt.BestBidExchange != "binance" || *bt.BestAskExchange != "binance" {
		t.Errorf("tie should resolve to first venue in sorted order, got bid=%s ask=%s",
			*bt.BestBidExchange, *bt.BestAskExchange)
	}
}

func TestBestTouchSkipsUnquotedSides(t *testing.T) {
	pub := &capturePublisher{}
	agg := newTestAggregator(pub)

	agg.handleQuote(model.FeedEvent{Kind: model.EventQuote, Venue: "binance", Symbol: "BTCUSDT", Bid: 0, Ask: 101, TS: 1})

	bt := pub.lastTouch()
	if bt.BestBid != nil {
		t.Errorf("zero bid should yield nil best bid, got %v", *bt.BestBid)
	}
	if bt.BestAsk == nil || *bt.BestAsk != 101 {
		t.Errorf("best ask = %+v", bt.BestAsk)
	}
}

func TestTradeUpdatesVenueAndAggregateCandles(t *testing.T) {
	pub := &capturePublisher{}
	agg := newTestAggregator(pub)

	agg.handleTrade(model.FeedEvent{Kind: model.EventTrade, Venue: "binance", Symbol: "BTCUSDT", Price: 100, Qty: 2, TS: 65})

	if len(pub.trades) != 1 {
		t.Fatalf("trades published = %d, want 1", len(pub.trades))
	}
	tr := pub.trades[0]
	if tr.Exchange != "binance" || tr.Price != 100 || tr.Quantity != 2 || tr.Timestamp != 65 {
		t.Errorf("trade = %+v", tr)
	}

	// One kline per interval for the venue key and the aggregate key.
	if pub.klineCount() != 2 {
		t.Fatalf("klines published = %d, want 2", pub.klineCount())
	}
	if _, ok := agg.candles.Active(model.CandleKey{Symbol: "BTCUSDT", Venue: "binance", Interval: 60}); !ok {
		t.Error("missing venue candle")
	}
	if _, ok := agg.candles.Active(model.CandleKey{Symbol: "BTCUSDT", Venue: model.VenueAll, Interval: 60}); !ok {
		t.Error("missing aggregate candle")
	}

	if price, ok := agg.LastTrade("BTCUSDT", "binance"); !ok || price != 100 {
		t.Errorf("LastTrade = (%v, %v)", price, ok)
	}
}

func TestAggregatorRunConsumesChannel(t *testing.T) {
	pub := &capturePublisher{}
	agg := newTestAggregator(pub)

	var matched []model.BestTouch
	agg.OnBestTouch = func(bt model.BestTouch) { matched = append(matched, bt) }

	events := make(chan model.FeedEvent, 4)
	events <- model.FeedEvent{Kind: model.EventQuote, Venue: "binance", Symbol: "ETHUSDT", Bid: 10, Ask: 11, TS: 1}
	events <- model.FeedEvent{Kind: model.EventTrade, Venue: "binance", Symbol: "ETHUSDT", Price: 10.5, Qty: 1, TS: 2}
	close(events)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	agg.Run(ctx, events)

	if len(pub.touches) != 1 || len(pub.trades) != 1 {
		t.Errorf("published touches=%d trades=%d", len(pub.touches), len(pub.trades))
	}
	if len(matched) != 1 {
		t.Errorf("matcher hook calls = %d, want 1", len(matched))
	}
}
