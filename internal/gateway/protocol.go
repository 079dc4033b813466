package gateway

// Stream names clients can subscribe to.
const (
	StreamBestTouch = "best_touch"
	StreamTrades    = "trades"
	StreamKlines    = "klines"
	StreamEwma      = "ewma"
)

// clientMsg is the union of every inbound client frame. Action selects
// which fields apply.
type clientMsg struct {
	Action   string  `json:"action"`
	Token    string  `json:"token,omitempty"`
	Stream   string  `json:"stream,omitempty"`
	Symbol   string  `json:"symbol,omitempty"`
	Exchange string  `json:"exchange,omitempty"`
	Interval string  `json:"interval,omitempty"`
	HalfLife float64 `json:"half_life,omitempty"`
}

type authReply struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

type subReply struct {
	Type   string `json:"type"`
	Stream string `json:"stream"`
	Symbol string `json:"symbol"`
}

type errorReply struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Subscription is one client filter. Exchange defaults to "all".
// Interval applies to klines only, HalfLife to ewma only.
type Subscription struct {
	Stream   string
	Symbol   string
	Exchange string
	Interval string
	HalfLife float64
}
