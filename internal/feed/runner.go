package feed

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"feedrouter/internal/model"
)

// Runner drives every session of a set of venues: an optional REST
// preflight, then a reconnect-forever loop per session. Ingestors never
// terminate the process; every fault is absorbed, logged and retried
// after a fixed delay.
type Runner struct {
	log zerolog.Logger

	// Metrics hooks (optional).
	OnReconnect func(venue string)
	OnEvent     func(venue string, kind model.EventKind)
	OnDrop      func(venue string)

	// OnLive flags venue liveness transitions for health reporting.
	OnLive func(venue string, live bool)
}

// NewRunner creates a runner logging through log.
func NewRunner(log zerolog.Logger) *Runner {
	return &Runner{log: log}
}

// Start launches one goroutine per session of each venue, feeding
// normalized events into out. Returns immediately; sessions stop when
// ctx is cancelled.
func (r *Runner) Start(ctx context.Context, venues []Venue, symbols []string, out chan<- model.FeedEvent) {
	for _, venue := range venues {
		venue := venue
		vlog := r.log.With().Str("venue", venue.Name()).Logger()

		if pf, ok := venue.(Preflighter); ok {
			go func() {
				pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
				defer cancel()
				if err := pf.Preflight(pctx); err != nil {
					vlog.Warn().Err(err).Msg("preflight probe failed")
				}
			}()
		}

		for _, sess := range venue.Sessions(symbols) {
			go r.runSession(ctx, venue.Name(), sess, out, vlog)
		}
	}
}

// runSession loops one session forever: run, log the fault, wait the
// fixed backoff, reconnect.
func (r *Runner) runSession(ctx context.Context, venue string, sess Session, out chan<- model.FeedEvent, vlog zerolog.Logger) {
	slog := vlog.With().Str("session", sess.Label()).Logger()

	// Wrap the output so per-event hooks fire without each venue
	// adapter knowing about metrics.
	wrapped := r.wrapOutput(ctx, venue, out)

	for {
		if ctx.Err() != nil {
			return
		}
		slog.Info().Msg("connecting")
		if r.OnLive != nil {
			r.OnLive(venue, true)
		}

		err := sess.Run(ctx, wrapped)
		if ctx.Err() != nil {
			return
		}
		if r.OnLive != nil {
			r.OnLive(venue, false)
		}
		slog.Warn().Err(err).Dur("backoff", reconnectDelay).Msg("session dropped, reconnecting")
		if r.OnReconnect != nil {
			r.OnReconnect(venue)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

// wrapOutput returns a channel whose consumer forwards into out,
// firing the per-event and drop hooks. One forwarder per venue
// session; skipped entirely when no hook is registered.
func (r *Runner) wrapOutput(ctx context.Context, venue string, out chan<- model.FeedEvent) chan<- model.FeedEvent {
	if r.OnEvent == nil && r.OnDrop == nil {
		return out
	}
	ch := make(chan model.FeedEvent, 256)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				if r.OnEvent != nil {
					r.OnEvent(venue, ev.Kind)
				}
				select {
				case out <- ev:
				default:
					if r.OnDrop != nil {
						r.OnDrop(venue)
					}
				}
			}
		}
	}()
	return ch
}
