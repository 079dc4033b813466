package model

import "encoding/json"

// VenueAll is the cross-venue aggregate key used for candles and as the
// wildcard venue filter on subscriptions.
const VenueAll = "all"

// EventKind discriminates the two normalized feed event types.
type EventKind int

const (
	EventQuote EventKind = iota
	EventTrade
)

func (k EventKind) String() string {
	if k == EventTrade {
		return "trade"
	}
	return "quote"
}

// FeedEvent is a normalized venue event pushed by an ingestor into the
// aggregator. Quote events carry Bid/Ask, trade events carry Price/Qty.
// TS is unix seconds; venue-provided millisecond timestamps are converted
// by the ingestor, otherwise it is local receive time.
type FeedEvent struct {
	Kind   EventKind
	Venue  string
	Symbol string
	Bid    float64
	Ask    float64
	Price  float64
	Qty    float64
	TS     float64
}

// BestTouch is the synthetic best bid/ask across venues for one symbol.
// A side is nil when no venue has quoted it.
type BestTouch struct {
	Symbol          string   `json:"symbol"`
	BestBid         *float64 `json:"best_bid"`
	BestAsk         *float64 `json:"best_ask"`
	BestBidExchange *string  `json:"best_bid_exchange"`
	BestAskExchange *string  `json:"best_ask_exchange"`
}

// TradeEvent is the wire shape of a normalized trade.
type TradeEvent struct {
	Symbol    string  `json:"symbol"`
	Exchange  string  `json:"exchange"`
	Price     float64 `json:"price"`
	Quantity  float64 `json:"quantity"`
	Timestamp float64 `json:"timestamp"`
}

// EwmaEvent is the wire shape of a per-subscription EWMA update.
// Exchange is the subscription's venue filter, not the trade's venue.
type EwmaEvent struct {
	Symbol    string  `json:"symbol"`
	Exchange  string  `json:"exchange"`
	HalfLife  float64 `json:"half_life"`
	Value     float64 `json:"value"`
	Timestamp float64 `json:"timestamp"`
}

// JSON returns the JSON-encoded event (ignoring errors for hot-path usage).
func (b *BestTouch) JSON() []byte {
	out, _ := json.Marshal(b)
	return out
}

func (t *TradeEvent) JSON() []byte {
	out, _ := json.Marshal(t)
	return out
}
