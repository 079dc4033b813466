// cmd/feedsim is a synthetic venue websocket server.
//
// Broadcasts random-walk ticker and trade frames in the shape the
// "sim" venue ingestor consumes, so the full pipeline runs without
// real exchange connectivity.
//
// Frame shapes:
//
//	{"channel":"ticker","symbol":"BTCUSDT","bid":64999.5,"ask":65000.5,"ts":...}
//	{"channel":"trade","symbol":"BTCUSDT","price":65000.1,"qty":0.25,"ts":...}
//
// Config (env vars):
//
//	FEEDSIM_ADDR         listen address (default ":9001")
//	FEEDSIM_SYMBOLS      comma-separated symbols (default "BTCUSDT,ETHUSDT")
//	FEEDSIM_INTERVAL_MS  broadcast interval milliseconds (default "250")
package main

import (
	"encoding/json"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type frame struct {
	Channel string  `json:"channel"`
	Symbol  string  `json:"symbol"`
	Bid     float64 `json:"bid,omitempty"`
	Ask     float64 `json:"ask,omitempty"`
	Price   float64 `json:"price,omitempty"`
	Qty     float64 `json:"qty,omitempty"`
	TS      float64 `json:"ts"`
}

// instrument holds per-symbol random-walk state.
type instrument struct {
	symbol string
	price  float64
}

type hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]chan []byte
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]chan []byte)}
}

func (h *hub) register(conn *websocket.Conn) chan []byte {
	ch := make(chan []byte, 256)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	return ch
}

func (h *hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.clients[conn]; ok {
		close(ch)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

func (h *hub) broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.clients {
		select {
		case ch <- msg:
		default: // slow client, drop
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func wsHandler(h *hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[feedsim] upgrade error: %v", err)
			return
		}
		log.Printf("[feedsim] client connected: %s", r.RemoteAddr)

		ch := h.register(conn)
		defer func() {
			h.unregister(conn)
			conn.Close()
			log.Printf("[feedsim] client disconnected: %s", r.RemoteAddr)
		}()

		// Reader goroutine only to detect disconnects.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					h.unregister(conn)
					return
				}
			}
		}()

		for msg := range ch {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// step advances the random walk and emits one ticker and, with 40%
// probability, one trade frame.
func step(h *hub, inst *instrument, rng *rand.Rand) {
	drift := inst.price * 0.0005 * (rng.Float64()*2 - 1)
	inst.price += drift
	if inst.price < 1 {
		inst.price = 1
	}

	now := float64(time.Now().UnixNano()) / 1e9
	spread := inst.price * 0.0002

	tick, _ := json.Marshal(frame{
		Channel: "ticker",
		Symbol:  inst.symbol,
		Bid:     inst.price - spread/2,
		Ask:     inst.price + spread/2,
		TS:      now,
	})
	h.broadcast(tick)

	if rng.Float64() < 0.4 {
		trade, _ := json.Marshal(frame{
			Channel: "trade",
			Symbol:  inst.symbol,
			Price:   inst.price,
			Qty:     0.01 + rng.Float64()*0.5,
			TS:      now,
		})
		h.broadcast(trade)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	addr := envOr("FEEDSIM_ADDR", ":9001")
	symbolsEnv := envOr("FEEDSIM_SYMBOLS", "BTCUSDT,ETHUSDT")
	intervalMs, err := strconv.Atoi(envOr("FEEDSIM_INTERVAL_MS", "250"))
	if err != nil || intervalMs <= 0 {
		intervalMs = 250
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var instruments []*instrument
	for _, sym := range strings.Split(symbolsEnv, ",") {
		sym = strings.TrimSpace(sym)
		if sym == "" {
			continue
		}
		instruments = append(instruments, &instrument{
			symbol: sym,
			price:  100 + rng.Float64()*50000,
		})
	}
	if len(instruments) == 0 {
		log.Fatal("[feedsim] no symbols configured")
	}

	h := newHub()
	go func() {
		ticker := time.NewTicker(time.Duration(intervalMs) * time.Millisecond)
		defer ticker.Stop()
		for range ticker.C {
			for _, inst := range instruments {
				step(h, inst, rng)
			}
		}
	}()

	http.HandleFunc("/ws", wsHandler(h))
	log.Printf("[feedsim] listening on %s (%d symbols, %dms interval)", addr, len(instruments), intervalMs)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("[feedsim] server error: %v", err)
	}
}
