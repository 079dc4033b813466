// Package redis mirrors live market events to pubsub channels and
// archives closed candles to capped streams. The mirror is a
// best-effort side-channel: Redis faults never touch the pipeline.
package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"feedrouter/internal/model"
)

const (
	queueDepth     = 4096
	maxPending     = 10000
	streamMaxLen   = 12000
	connectTimeout = 5 * time.Second
)

type mirrorMsg struct {
	channel string
	payload []byte
	closed  *model.ClosedCandle
}

// Mirror implements the aggregator Publisher over Redis. Live events
// enqueue without blocking (full queue drops); a writer goroutine
// publishes through a circuit breaker. Closed candles buffer while the
// breaker is open and flush when it closes.
type Mirror struct {
	client *goredis.Client
	cb     *gobreaker.CircuitBreaker
	log    zerolog.Logger
	ch     chan mirrorMsg

	mu      sync.Mutex
	pending []model.ClosedCandle

	writeClosed func(ctx context.Context, cc model.ClosedCandle) error

	// Metrics hooks, optional.
	OnPublished func()
	OnDropped   func()
	OnBuffered  func()
}

// Open connects and pings Redis. On error the caller disables the
// mirror and continues without it.
func Open(addr, password string, db int, log zerolog.Logger) (*Mirror, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	m := &Mirror{
		client: client,
		log:    log,
		ch:     make(chan mirrorMsg, queueDepth),
	}
	m.writeClosed = m.xaddClosed
	m.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "redis-mirror",
		Timeout: 10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("mirror breaker state change")
			if to == gobreaker.StateClosed {
				go m.flushPending()
			}
		},
	})

	log.Info().Str("addr", addr).Msg("redis mirror connected")
	return m, nil
}

// PublishBestTouch mirrors a best-touch update.
func (m *Mirror) PublishBestTouch(bt model.BestTouch) {
	m.enqueue(mirrorMsg{channel: "md:best_touch:" + bt.Symbol, payload: bt.JSON()})
}

// PublishTrade mirrors a trade.
func (m *Mirror) PublishTrade(t model.TradeEvent) {
	m.enqueue(mirrorMsg{channel: "md:trades:" + t.Symbol + ":" + t.Exchange, payload: t.JSON()})
}

// PublishKline mirrors a candle update.
func (m *Mirror) PublishKline(k model.KlineEvent) {
	m.enqueue(mirrorMsg{channel: "md:klines:" + k.Symbol + ":" + k.Exchange + ":" + k.Interval, payload: k.JSON()})
}

// ArchiveClosed queues a finalized candle for the capped stream.
func (m *Mirror) ArchiveClosed(cc model.ClosedCandle) {
	m.enqueue(mirrorMsg{closed: &cc})
}

func (m *Mirror) enqueue(msg mirrorMsg) {
	select {
	case m.ch <- msg:
	default:
		if m.OnDropped != nil {
			m.OnDropped()
		}
	}
}

// Run drains the queue until ctx is cancelled.
func (m *Mirror) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-m.ch:
			if msg.closed != nil {
				m.handleClosed(ctx, *msg.closed)
			} else {
				m.handleLive(ctx, msg)
			}
		}
	}
}

func (m *Mirror) handleLive(ctx context.Context, msg mirrorMsg) {
	_, err := m.cb.Execute(func() (any, error) {
		return nil, m.client.Publish(ctx, msg.channel, msg.payload).Err()
	})
	if err != nil {
		if m.OnDropped != nil {
			m.OnDropped()
		}
		return
	}
	if m.OnPublished != nil {
		m.OnPublished()
	}
}

// handleClosed writes through the breaker; while the breaker is open
// the candle buffers locally instead of being lost.
func (m *Mirror) handleClosed(ctx context.Context, cc model.ClosedCandle) {
	_, err := m.cb.Execute(func() (any, error) {
		return nil, m.writeClosed(ctx, cc)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		m.buffer(cc)
		return
	}
	if err != nil {
		m.log.Warn().Err(err).Msg("mirror closed-candle write failed")
		return
	}
	if m.OnPublished != nil {
		m.OnPublished()
	}
}

func (m *Mirror) buffer(cc model.ClosedCandle) {
	m.mu.Lock()
	if len(m.pending) >= maxPending {
		m.pending = m.pending[1:]
	}
	m.pending = append(m.pending, cc)
	m.mu.Unlock()
	if m.OnBuffered != nil {
		m.OnBuffered()
	}
}

// flushPending replays buffered closed candles after the breaker
// closes.
func (m *Mirror) flushPending() {
	m.mu.Lock()
	toFlush := m.pending
	m.pending = nil
	m.mu.Unlock()
	if len(toFlush) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, cc := range toFlush {
		if err := m.writeClosed(ctx, cc); err != nil {
			m.buffer(cc)
			continue
		}
		if m.OnPublished != nil {
			m.OnPublished()
		}
	}
	m.log.Info().Int("count", len(toFlush)).Msg("mirror flushed buffered candles")
}

// PendingCount returns the number of buffered closed candles.
func (m *Mirror) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func (m *Mirror) xaddClosed(ctx context.Context, cc model.ClosedCandle) error {
	k := cc.Key.Kline(cc.Candle)
	stream := fmt.Sprintf("md:candles:%s:%s:%s", cc.Key.Symbol, cc.Key.Venue, k.Interval)
	return m.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{"data": k.JSON()},
	}).Err()
}

// Close closes the client.
func (m *Mirror) Close() error {
	return m.client.Close()
}
