package gateway

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	sendBufferSize = 256
	readLimit      = 4096
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	writeWait      = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Client is one websocket peer. The first frame must authenticate;
// afterwards the client manages its subscription list through
// subscribe/unsubscribe actions.
type Client struct {
	id       string
	username string
	conn     *websocket.Conn
	send     chan []byte

	// subMu guards subs and ewma; fan-out reads them while the
	// readPump mutates them.
	subMu sync.Mutex
	subs  []Subscription
	ewma  map[ewmaKey]*ewmaState
}

// ServeWS upgrades the request and runs the client until disconnect.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}

	c := &Client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		ewma: make(map[ewmaKey]*ewmaState),
	}
	go c.writePump()
	c.readPump(h)
}

// readPump authenticates on the first frame, then serves actions until
// the connection drops.
func (c *Client) readPump(h *Hub) {
	registered := false
	defer func() {
		if registered {
			h.remove(c)
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(readLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Auth handshake: anything but a valid auth frame closes 1008.
	var first clientMsg
	if err := c.readMsg(&first); err != nil {
		return
	}
	if first.Action != "auth" {
		c.closePolicy("auth required")
		return
	}
	username, err := h.verifier.Verify(first.Token)
	if err != nil {
		c.closePolicy("invalid token")
		return
	}
	c.username = username
	h.add(c)
	registered = true
	c.reply(authReply{Type: "auth", Status: "ok"})

	for {
		var msg clientMsg
		if err := c.readMsg(&msg); err != nil {
			return
		}
		switch msg.Action {
		case "subscribe":
			c.subscribe(msg)
		case "unsubscribe":
			c.unsubscribe(msg)
		default:
			c.reply(errorReply{Type: "error", Message: "unknown action"})
		}
	}
}

func (c *Client) readMsg(into *clientMsg) error {
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}
		if json.Unmarshal(raw, into) == nil {
			return nil
		}
		// Undecodable frames are skipped, not fatal.
	}
}

// subscribe appends the filter as-is. Duplicates are allowed and yield
// duplicate frames.
func (c *Client) subscribe(msg clientMsg) {
	exchange := msg.Exchange
	if exchange == "" {
		exchange = "all"
	}
	sub := Subscription{
		Stream:   msg.Stream,
		Symbol:   msg.Symbol,
		Exchange: exchange,
		Interval: msg.Interval,
		HalfLife: msg.HalfLife,
	}

	c.subMu.Lock()
	c.subs = append(c.subs, sub)
	c.subMu.Unlock()

	c.reply(subReply{Type: "subscribed", Stream: sub.Stream, Symbol: sub.Symbol})
}

// unsubscribe removes every subscription matching (stream, symbol).
func (c *Client) unsubscribe(msg clientMsg) {
	c.subMu.Lock()
	kept := c.subs[:0]
	for _, s := range c.subs {
		if s.Stream == msg.Stream && s.Symbol == msg.Symbol {
			continue
		}
		kept = append(kept, s)
	}
	c.subs = kept
	c.subMu.Unlock()

	c.reply(subReply{Type: "unsubscribed", Stream: msg.Stream, Symbol: msg.Symbol})
}

// countMatches returns how many of this client's subscriptions match
// the frame. Empty exchange/interval disables the corresponding check.
func (c *Client) countMatches(stream, symbol, exchange, interval string) int {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	n := 0
	for _, s := range c.subs {
		if s.Stream != stream || s.Symbol != symbol {
			continue
		}
		if exchange != "" && s.Exchange != exchange && s.Exchange != "all" {
			continue
		}
		if interval != "" && s.Interval != interval {
			continue
		}
		n++
	}
	return n
}

// reply enqueues a control reply, dropping it if the buffer is full.
func (c *Client) reply(v any) {
	out, _ := json.Marshal(v)
	select {
	case c.send <- out:
	default:
	}
}

func (c *Client) closePolicy(reason string) {
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

// writePump drains the send buffer, coalescing queued frames into one
// websocket message, and pings on an interval.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
