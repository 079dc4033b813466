// Package feed contains the per-venue streaming ingestors. Each venue
// exposes one or more persistent websocket sessions that decode venue
// frames into normalized model.FeedEvent values; the runner keeps every
// session alive with a fixed reconnect backoff.
package feed

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"feedrouter/config"
	"feedrouter/internal/model"
)

// Session is one persistent streaming connection to a venue. Run blocks
// until the session drops or ctx is cancelled, returning the fault that
// ended it; the runner handles reconnecting.
type Session interface {
	Label() string
	Run(ctx context.Context, out chan<- model.FeedEvent) error
}

// Venue is the capability interface for an exchange adapter. Adding a
// venue means implementing this and registering it in New.
type Venue interface {
	Name() string
	Sessions(symbols []string) []Session
}

// Preflighter is optionally implemented by venues that can probe their
// REST API before streaming. Failures are logged, never fatal.
type Preflighter interface {
	Preflight(ctx context.Context) error
}

// New constructs a venue adapter by name.
func New(name string, cfg config.VenueConfig, log zerolog.Logger) (Venue, error) {
	vlog := log.With().Str("venue", name).Logger()
	switch name {
	case "binance":
		return newBinance(cfg, vlog), nil
	case "okx":
		return newOKX(cfg, vlog), nil
	case "sim":
		return newSim(cfg, vlog), nil
	}
	return nil, fmt.Errorf("unknown venue %q", name)
}

// emit pushes an event without blocking the read loop; a full channel
// drops the event and reports it through onDrop.
func emit(out chan<- model.FeedEvent, ev model.FeedEvent, onDrop func()) {
	select {
	case out <- ev:
	default:
		if onDrop != nil {
			onDrop()
		}
	}
}
