// Package gateway fans aggregated market events out to authenticated
// websocket clients with per-subscription filtering and per-subscription
// EWMA series.
package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"feedrouter/internal/model"
)

// TokenVerifier resolves a bearer token to a username.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// Hub owns the client registry and implements the aggregator's
// Publisher interface. One fan-out pass walks every client and
// enqueues the frame once per matching subscription.
type Hub struct {
	verifier TokenVerifier
	log      zerolog.Logger

	mu      sync.RWMutex
	clients map[*Client]bool

	// Metrics hooks, all optional.
	OnFrameSent    func(stream string)
	OnFrameDropped func(stream string)
	OnClientCount  func(n int)
	ObserveFanout  func(d time.Duration)
}

// NewHub creates an empty hub.
func NewHub(verifier TokenVerifier, log zerolog.Logger) *Hub {
	return &Hub{
		verifier: verifier,
		log:      log,
		clients:  make(map[*Client]bool),
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()

	h.log.Info().Str("conn_id", c.id).Str("user", c.username).Int("total", n).Msg("ws client connected")
	if h.OnClientCount != nil {
		h.OnClientCount(n)
	}
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	n := len(h.clients)
	// Close under the write lock. Fan-out sends hold the read lock, so
	// no send can land on a closed channel.
	close(c.send)
	h.mu.Unlock()

	h.log.Info().Str("conn_id", c.id).Int("total", n).Msg("ws client disconnected")
	if h.OnClientCount != nil {
		h.OnClientCount(n)
	}
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// PublishBestTouch fans a best-touch update out to subscribers.
// Best-touch subscriptions have no venue dimension, so the exchange
// filter is skipped.
func (h *Hub) PublishBestTouch(bt model.BestTouch) {
	frame := marshalFrame(StreamBestTouch, &bt)
	h.broadcast(StreamBestTouch, bt.Symbol, "", "", frame)
}

// PublishTrade fans a trade out to subscribers and advances every
// matching EWMA series.
func (h *Hub) PublishTrade(t model.TradeEvent) {
	frame := marshalFrame(StreamTrades, &t)
	h.broadcast(StreamTrades, t.Symbol, t.Exchange, "", frame)

	h.mu.RLock()
	for c := range h.clients {
		c.updateEwma(h, t.Symbol, t.Exchange, t.Price, t.Timestamp)
	}
	h.mu.RUnlock()
}

// PublishKline fans a candle update out to subscribers. Klines filter
// on the interval label in addition to symbol and venue.
func (h *Hub) PublishKline(k model.KlineEvent) {
	frame := marshalFrame(StreamKlines, &k)
	h.broadcast(StreamKlines, k.Symbol, k.Exchange, k.Interval, frame)
}

// broadcast delivers one marshaled frame to every matching subscription.
// Duplicate subscriptions receive duplicate frames. An empty exchange
// skips the venue check, an empty interval skips the interval check.
// The registry read lock is held across delivery, so remove cannot
// close a send channel while a pass is enqueueing on it.
func (h *Hub) broadcast(stream, symbol, exchange, interval string, frame []byte) {
	start := time.Now()

	h.mu.RLock()
	for c := range h.clients {
		for i := 0; i < c.countMatches(stream, symbol, exchange, interval); i++ {
			h.deliver(c, stream, frame)
		}
	}
	h.mu.RUnlock()

	if h.ObserveFanout != nil {
		h.ObserveFanout(time.Since(start))
	}
}

// deliver enqueues without blocking; a full send buffer drops the frame.
func (h *Hub) deliver(c *Client, stream string, frame []byte) {
	select {
	case c.send <- frame:
		if h.OnFrameSent != nil {
			h.OnFrameSent(stream)
		}
	default:
		if h.OnFrameDropped != nil {
			h.OnFrameDropped(stream)
		}
	}
}

// marshalFrame wraps a payload in the {type, data} envelope.
func marshalFrame(stream string, data any) []byte {
	out, _ := json.Marshal(map[string]any{"type": stream, "data": data})
	return out
}
