package gateway

import (
	"math"

	"feedrouter/internal/model"
)

// ewmaKey scopes one EWMA series inside a connection. Exchange is the
// subscription's venue filter, not the trade's venue, so two filters on
// the same symbol track independent series.
type ewmaKey struct {
	symbol   string
	exchange string
	halfLife float64
}

type ewmaState struct {
	value  float64
	lastTS float64
	seeded bool
}

// updateEwma advances every matching ewma subscription with one trade
// and emits an update frame per subscription. The first observation
// seeds the series at the trade price.
func (c *Client) updateEwma(h *Hub, symbol, exchange string, price, ts float64) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	for _, s := range c.subs {
		if s.Stream != StreamEwma || s.Symbol != symbol {
			continue
		}
		if s.Exchange != "all" && s.Exchange != exchange {
			continue
		}
		if s.HalfLife <= 0 {
			continue
		}

		key := ewmaKey{symbol: symbol, exchange: s.Exchange, halfLife: s.HalfLife}
		st, ok := c.ewma[key]
		if !ok {
			st = &ewmaState{}
			c.ewma[key] = st
		}
		if !st.seeded {
			st.value = price
			st.lastTS = ts
			st.seeded = true
		} else {
			dt := ts - st.lastTS
			if dt < 0 {
				dt = 0
			}
			alpha := 1 - math.Exp(-math.Ln2*dt/s.HalfLife)
			st.value = (1-alpha)*st.value + alpha*price
			st.lastTS = ts
		}

		frame := marshalFrame(StreamEwma, &model.EwmaEvent{
			Symbol:    symbol,
			Exchange:  s.Exchange,
			HalfLife:  s.HalfLife,
			Value:     st.value,
			Timestamp: ts,
		})
		h.deliver(c, StreamEwma, frame)
	}
}
