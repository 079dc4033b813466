package feed

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"feedrouter/config"
	"feedrouter/internal/model"
)

// simVenue connects to a local feedsim server (cmd/feedsim) emitting
// random-walk ticker/trade frames. A drop-in venue for development
// without real exchange connectivity.
type simVenue struct {
	cfg config.VenueConfig
	log zerolog.Logger
}

func newSim(cfg config.VenueConfig, log zerolog.Logger) *simVenue {
	return &simVenue{cfg: cfg, log: log}
}

func (v *simVenue) Name() string { return "sim" }

func (v *simVenue) Sessions(symbols []string) []Session {
	return []Session{&simSession{venue: v}}
}

// simFrame is the feedsim wire shape for both channels.
type simFrame struct {
	Channel string  `json:"channel"` // "ticker" or "trade"
	Symbol  string  `json:"symbol"`
	Bid     float64 `json:"bid"`
	Ask     float64 `json:"ask"`
	Price   float64 `json:"price"`
	Qty     float64 `json:"qty"`
	TS      float64 `json:"ts"`
}

type simSession struct {
	venue *simVenue
}

func (s *simSession) Label() string { return "stream" }

func (s *simSession) Run(ctx context.Context, out chan<- model.FeedEvent) error {
	onDrop := func() {
		s.venue.log.Warn().Msg("event channel full, dropping")
	}

	return runConn(ctx, s.venue.cfg.WSURL, nil, func(raw []byte) {
		var frame simFrame
		if err := json.Unmarshal(raw, &frame); err != nil || frame.Symbol == "" {
			return
		}
		ts := frame.TS
		if ts <= 0 {
			ts = nowUnix()
		}
		switch frame.Channel {
		case "ticker":
			emit(out, model.FeedEvent{
				Kind:   model.EventQuote,
				Venue:  "sim",
				Symbol: frame.Symbol,
				Bid:    frame.Bid,
				Ask:    frame.Ask,
				TS:     ts,
			}, onDrop)
		case "trade":
			emit(out, model.FeedEvent{
				Kind:   model.EventTrade,
				Venue:  "sim",
				Symbol: frame.Symbol,
				Price:  frame.Price,
				Qty:    frame.Qty,
				TS:     ts,
			}, onDrop)
		}
	})
}
