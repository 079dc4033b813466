// Package notify delivers fill alerts to external channels. Delivery
// is asynchronous and best-effort; failures are logged, never
// propagated into the engine.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"feedrouter/internal/model"
)

// FillAlert is the payload sent for every executed order.
type FillAlert struct {
	TokenID     string `json:"token_id"`
	Username    string `json:"username"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	Quantity    string `json:"quantity"`
	FilledPrice string `json:"filled_price"`
}

// Notifier is one delivery backend.
type Notifier interface {
	NotifyFill(ctx context.Context, alert FillAlert) error
}

// FromOrder builds the alert for a filled order.
func FromOrder(order model.Order) FillAlert {
	filled := order.Price
	if order.FilledPrice != nil {
		filled = *order.FilledPrice
	}
	return FillAlert{
		TokenID:     order.TokenID,
		Username:    order.Username,
		Symbol:      order.Symbol,
		Side:        string(order.Side),
		Quantity:    order.Quantity.String(),
		FilledPrice: filled.String(),
	}
}

// LogNotifier writes alerts to the service log.
type LogNotifier struct {
	Log zerolog.Logger
}

func (n *LogNotifier) NotifyFill(_ context.Context, alert FillAlert) error {
	n.Log.Info().
		Str("token_id", alert.TokenID).
		Str("symbol", alert.Symbol).
		Str("side", alert.Side).
		Str("price", alert.FilledPrice).
		Msg("fill")
	return nil
}

// Multi fans one alert out to several backends. Each backend gets its
// own timeout; errors are logged and swallowed.
type Multi struct {
	backends []Notifier
	log      zerolog.Logger
}

// NewMulti builds a fan-out notifier. Nil backends are skipped.
func NewMulti(log zerolog.Logger, backends ...Notifier) *Multi {
	m := &Multi{log: log}
	for _, b := range backends {
		if b != nil {
			m.backends = append(m.backends, b)
		}
	}
	return m
}

// Dispatch sends asynchronously to every backend.
func (m *Multi) Dispatch(alert FillAlert) {
	for _, b := range m.backends {
		go func(n Notifier) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := n.NotifyFill(ctx, alert); err != nil {
				m.log.Warn().Err(err).Str("notifier", fmt.Sprintf("%T", n)).Msg("fill notification failed")
			}
		}(b)
	}
}
