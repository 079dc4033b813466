package feed

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pingInterval   = 20 * time.Second
	pingTimeout    = 20 * time.Second
	reconnectDelay = 2 * time.Second
	writeDeadline  = 10 * time.Second
)

// runConn dials a websocket endpoint, optionally sends a subscribe
// frame, and feeds every text message to onMessage until the session
// drops. A missed pong pushes the read past its deadline, which
// surfaces as a read error and lands in the reconnect path.
func runConn(ctx context.Context, url string, subscribe []byte, onMessage func(raw []byte)) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pingInterval + pingTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pingInterval + pingTimeout))
		return nil
	})

	if subscribe != nil {
		conn.SetWriteDeadline(time.Now().Add(writeDeadline))
		if err := conn.WriteMessage(websocket.TextMessage, subscribe); err != nil {
			return err
		}
	}

	// Ping loop and context watcher; closing the conn unblocks the
	// reader below.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
				conn.Close()
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeDeadline))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		onMessage(raw)
	}
}

// nowUnix returns the local wall clock as float64 unix seconds, used to
// stamp events whose venue frame carries no timestamp.
func nowUnix() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// msToUnix converts venue millisecond timestamps to float64 seconds,
// falling back to the local clock when absent.
func msToUnix(ms int64) float64 {
	if ms <= 0 {
		return nowUnix()
	}
	return float64(ms) / 1000.0
}
