package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"feedrouter/config"
	"feedrouter/internal/model"
)

// okxVenue streams OKX v5 public tickers and trades over a single
// session. Instrument ids are dashed on the wire ("BTC-USDT") and
// mapped back to the neutral symbol namespace on decode.
type okxVenue struct {
	cfg     config.VenueConfig
	log     zerolog.Logger
	symbols []string
}

func newOKX(cfg config.VenueConfig, log zerolog.Logger) *okxVenue {
	return &okxVenue{cfg: cfg, log: log}
}

func (o *okxVenue) Name() string { return "okx" }

func (o *okxVenue) Sessions(symbols []string) []Session {
	o.symbols = symbols
	return []Session{&okxSession{venue: o, symbols: symbols}}
}

// okxResponse is the REST envelope; any Code other than "0" is an
// API-level error.
type okxResponse struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// Preflight probes the public time endpoint and verifies configured
// symbols against the SPOT instrument list. Log-only.
func (o *okxVenue) Preflight(ctx context.Context) error {
	client := resty.New().
		SetBaseURL(o.cfg.RestURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(2)

	var timeResp okxResponse
	resp, err := client.R().SetContext(ctx).SetResult(&timeResp).Get("/api/v5/public/time")
	if err != nil {
		return err
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("public time: HTTP %d", resp.StatusCode())
	}
	if timeResp.Code != "0" {
		return fmt.Errorf("okx api error: %s - %s", timeResp.Code, timeResp.Msg)
	}
	var times []struct {
		TS string `json:"ts"`
	}
	if err := json.Unmarshal(timeResp.Data, &times); err == nil && len(times) > 0 {
		if ms, err := strconv.ParseInt(times[0].TS, 10, 64); err == nil {
			o.log.Info().Dur("clock_skew", time.Since(time.UnixMilli(ms))).Msg("server time probed")
		}
	}

	var instResp okxResponse
	resp, err = client.R().SetContext(ctx).SetResult(&instResp).
		SetQueryParam("instType", "SPOT").
		Get("/api/v5/public/instruments")
	if err != nil {
		return err
	}
	if resp.StatusCode() != 200 || instResp.Code != "0" {
		return fmt.Errorf("instruments: HTTP %d code %s", resp.StatusCode(), instResp.Code)
	}
	var instruments []struct {
		InstID string `json:"instId"`
	}
	if err := json.Unmarshal(instResp.Data, &instruments); err != nil {
		return err
	}
	listed := make(map[string]bool, len(instruments))
	for _, inst := range instruments {
		listed[inst.InstID] = true
	}
	for _, sym := range o.symbols {
		if !listed[okxInstID(sym)] {
			o.log.Warn().Str("symbol", sym).Msg("symbol not listed on venue")
		}
	}
	return nil
}

// okxInstID converts a neutral symbol to the dashed OKX instrument id.
func okxInstID(symbol string) string {
	for _, quote := range []string{"USDT", "USDC", "USD"} {
		if strings.HasSuffix(symbol, quote) && len(symbol) > len(quote) {
			return symbol[:len(symbol)-len(quote)] + "-" + quote
		}
	}
	return symbol
}

// okxSession is the single public-channel connection carrying tickers
// and trades for all configured symbols.
type okxSession struct {
	venue   *okxVenue
	symbols []string
}

func (s *okxSession) Label() string { return "public" }

func (s *okxSession) Run(ctx context.Context, out chan<- model.FeedEvent) error {
	type arg struct {
		Channel string `json:"channel"`
		InstID  string `json:"instId"`
	}
	args := make([]arg, 0, len(s.symbols)*2)
	for _, sym := range s.symbols {
		inst := okxInstID(sym)
		args = append(args,
			arg{Channel: "tickers", InstID: inst},
			arg{Channel: "trades", InstID: inst},
		)
	}
	subscribe, _ := json.Marshal(map[string]any{"op": "subscribe", "args": args})

	onDrop := func() {
		s.venue.log.Warn().Msg("event channel full, dropping")
	}

	return runConn(ctx, s.venue.cfg.WSURL, subscribe, func(raw []byte) {
		var frame struct {
			Arg struct {
				Channel string `json:"channel"`
			} `json:"arg"`
			Data []json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(raw, &frame); err != nil || len(frame.Data) == 0 {
			return
		}
		for _, item := range frame.Data {
			switch frame.Arg.Channel {
			case "tickers":
				s.decodeTicker(item, out, onDrop)
			case "trades":
				s.decodeTrade(item, out, onDrop)
			}
		}
	})
}

func (s *okxSession) decodeTicker(data []byte, out chan<- model.FeedEvent, onDrop func()) {
	var msg struct {
		InstID string `json:"instId"`
		BidPx  string `json:"bidPx"`
		AskPx  string `json:"askPx"`
		TS     string `json:"ts"`
	}
	if err := json.Unmarshal(data, &msg); err != nil || msg.InstID == "" {
		return
	}
	bid, err1 := strconv.ParseFloat(msg.BidPx, 64)
	ask, err2 := strconv.ParseFloat(msg.AskPx, 64)
	if err1 != nil || err2 != nil {
		return
	}
	emit(out, model.FeedEvent{
		Kind:   model.EventQuote,
		Venue:  "okx",
		Symbol: strings.ReplaceAll(msg.InstID, "-", ""),
		Bid:    bid,
		Ask:    ask,
		TS:     okxTS(msg.TS),
	}, onDrop)
}

func (s *okxSession) decodeTrade(data []byte, out chan<- model.FeedEvent, onDrop func()) {
	var msg struct {
		InstID string `json:"instId"`
		Px     string `json:"px"`
		Sz     string `json:"sz"`
		TS     string `json:"ts"`
	}
	if err := json.Unmarshal(data, &msg); err != nil || msg.InstID == "" {
		return
	}
	price, err1 := strconv.ParseFloat(msg.Px, 64)
	qty, err2 := strconv.ParseFloat(msg.Sz, 64)
	if err1 != nil || err2 != nil {
		return
	}
	emit(out, model.FeedEvent{
		Kind:   model.EventTrade,
		Venue:  "okx",
		Symbol: strings.ReplaceAll(msg.InstID, "-", ""),
		Price:  price,
		Qty:    qty,
		TS:     okxTS(msg.TS),
	}, onDrop)
}

// okxTS parses the venue's millisecond string timestamp, falling back
// to the local clock.
func okxTS(ts string) float64 {
	ms, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return nowUnix()
	}
	return msToUnix(ms)
}
