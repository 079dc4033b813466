package model

import (
	"encoding/json"
	"strconv"
)

// Candle is an OHLCV accumulator for one interval window.
// Start/End are unix seconds with End = Start + interval.
type Candle struct {
	Start  float64 `json:"start"`
	End    float64 `json:"end"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// CandleKey identifies one active candle: a symbol on a venue (or the
// cross-venue aggregate "all") at one interval in seconds.
type CandleKey struct {
	Symbol   string
	Venue    string
	Interval int
}

// ClosedCandle is a finalized candle window, emitted when a new window
// opens over an expired one. Consumed by the archive and the mirror.
type ClosedCandle struct {
	Key    CandleKey
	Candle Candle
}

// KlineEvent is the wire shape of a candle update. Interval is the
// rendered label ("1s", "5m"), not seconds.
type KlineEvent struct {
	Symbol   string  `json:"symbol"`
	Exchange string  `json:"exchange"`
	Interval string  `json:"interval"`
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume"`
}

// IntervalLabel renders an interval in seconds as a stream label:
// minutes at or above 60s, seconds below.
func IntervalLabel(seconds int) string {
	if seconds >= 60 {
		return strconv.Itoa(seconds/60) + "m"
	}
	return strconv.Itoa(seconds) + "s"
}

// Kline builds the wire event for this key/candle pair.
func (k CandleKey) Kline(c Candle) KlineEvent {
	return KlineEvent{
		Symbol:   k.Symbol,
		Exchange: k.Venue,
		Interval: IntervalLabel(k.Interval),
		Start:    c.Start,
		End:      c.End,
		Open:     c.Open,
		High:     c.High,
		Low:      c.Low,
		Close:    c.Close,
		Volume:   c.Volume,
	}
}

func (e *KlineEvent) JSON() []byte {
	out, _ := json.Marshal(e)
	return out
}
