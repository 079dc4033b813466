package feed

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/rs/zerolog"

	"feedrouter/config"
	"feedrouter/internal/model"
)

// binanceVenue streams Binance spot top-of-book and trades over two
// combined-stream sessions. The REST preflight (server time skew +
// exchange-info symbol check) uses the go-binance client; the streams
// themselves stay on raw websockets.
type binanceVenue struct {
	cfg     config.VenueConfig
	log     zerolog.Logger
	symbols []string
}

func newBinance(cfg config.VenueConfig, log zerolog.Logger) *binanceVenue {
	return &binanceVenue{cfg: cfg, log: log}
}

func (b *binanceVenue) Name() string { return "binance" }

func (b *binanceVenue) Sessions(symbols []string) []Session {
	b.symbols = symbols
	return []Session{
		&binanceSession{venue: b, channel: "bookTicker", symbols: symbols},
		&binanceSession{venue: b, channel: "trade", symbols: symbols},
	}
}

// Preflight checks clock skew against the venue and verifies every
// configured symbol trades there. Log-only; streaming proceeds either
// way.
func (b *binanceVenue) Preflight(ctx context.Context) error {
	client := gobinance.NewClient("", "")
	if b.cfg.RestURL != "" {
		client.BaseURL = b.cfg.RestURL
	}

	serverTime, err := client.NewServerTimeService().Do(ctx)
	if err != nil {
		return err
	}
	skew := time.Since(time.UnixMilli(serverTime))
	b.log.Info().Dur("clock_skew", skew).Msg("server time probed")

	info, err := client.NewExchangeInfoService().Symbols(b.symbols...).Do(ctx)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(info.Symbols))
	for _, s := range info.Symbols {
		known[s.Symbol] = true
	}
	for _, sym := range b.symbols {
		if !known[sym] {
			b.log.Warn().Str("symbol", sym).Msg("symbol not listed on venue")
		}
	}
	return nil
}

// binanceSession is one combined-stream connection for a single
// channel (bookTicker or trade) across all configured symbols.
type binanceSession struct {
	venue   *binanceVenue
	channel string
	symbols []string
}

func (s *binanceSession) Label() string { return s.channel }

func (s *binanceSession) Run(ctx context.Context, out chan<- model.FeedEvent) error {
	streams := make([]string, len(s.symbols))
	for i, sym := range s.symbols {
		streams[i] = strings.ToLower(sym) + "@" + s.channel
	}
	url := s.venue.cfg.WSURL + "?streams=" + strings.Join(streams, "/")

	onDrop := func() {
		s.venue.log.Warn().Str("session", s.channel).Msg("event channel full, dropping")
	}

	return runConn(ctx, url, nil, func(raw []byte) {
		var frame struct {
			Stream string          `json:"stream"`
			Data   json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(raw, &frame); err != nil || frame.Data == nil {
			return
		}
		switch s.channel {
		case "bookTicker":
			s.decodeBookTicker(frame.Data, out, onDrop)
		case "trade":
			s.decodeTrade(frame.Data, out, onDrop)
		}
	})
}

// decodeBookTicker maps {s,b,a} into a quote event. bookTicker frames
// carry no event time, so the local clock stamps them.
func (s *binanceSession) decodeBookTicker(data []byte, out chan<- model.FeedEvent, onDrop func()) {
	var msg struct {
		Symbol string `json:"s"`
		Bid    string `json:"b"`
		Ask    string `json:"a"`
	}
	if err := json.Unmarshal(data, &msg); err != nil || msg.Symbol == "" {
		return
	}
	bid, err1 := strconv.ParseFloat(msg.Bid, 64)
	ask, err2 := strconv.ParseFloat(msg.Ask, 64)
	if err1 != nil || err2 != nil {
		return
	}
	emit(out, model.FeedEvent{
		Kind:   model.EventQuote,
		Venue:  "binance",
		Symbol: msg.Symbol,
		Bid:    bid,
		Ask:    ask,
		TS:     nowUnix(),
	}, onDrop)
}

// decodeTrade maps {s,p,q,T} into a trade event using the venue's
// millisecond trade time.
func (s *binanceSession) decodeTrade(data []byte, out chan<- model.FeedEvent, onDrop func()) {
	var msg struct {
		Symbol string `json:"s"`
		Price  string `json:"p"`
		Qty    string `json:"q"`
		TimeMS int64  `json:"T"`
	}
	if err := json.Unmarshal(data, &msg); err != nil || msg.Symbol == "" {
		return
	}
	price, err1 := strconv.ParseFloat(msg.Price, 64)
	qty, err2 := strconv.ParseFloat(msg.Qty, 64)
	if err1 != nil || err2 != nil {
		return
	}
	emit(out, model.FeedEvent{
		Kind:   model.EventTrade,
		Venue:  "binance",
		Symbol: msg.Symbol,
		Price:  price,
		Qty:    qty,
		TS:     msToUnix(msg.TimeMS),
	}, onDrop)
}
