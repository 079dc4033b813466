package market

import (
	"testing"

	"github.com/rs/zerolog"

	"feedrouter/internal/model"
)

func TestCandleUpdateAccumulates(t *testing.T) {
	pub := &capturePublisher{}
	table := NewCandleTable([]int{10}, pub, zerolog.Nop())

	table.Update("BTCUSDT", "binance", 100, 1, 12)
	table.Update("BTCUSDT", "binance", 105, 2, 14)
	table.Update("BTCUSDT", "binance", 98, 1, 17)

	key := model.CandleKey{Symbol: "BTCUSDT", Venue: "binance", Interval: 10}
	c, ok := table.Active(key)
	if !ok {
		t.Fatal("no active candle")
	}
	if c.Start != 10 || c.End != 20 {
		t.Errorf("window = [%v, %v), want [10, 20)", c.Start, c.End)
	}
	if c.Open != 100 || c.High != 105 || c.Low != 98 || c.Close != 98 {
		t.Errorf("ohlc = %v/%v/%v/%v", c.Open, c.High, c.Low, c.Close)
	}
	if c.Volume != 4 {
		t.Errorf("volume = %v, want 4", c.Volume)
	}
}

func TestCandleUpdateRollsWindow(t *testing.T) {
	pub := &capturePublisher{}
	table := NewCandleTable([]int{10}, pub, zerolog.Nop())

	var closed []model.ClosedCandle
	table.OnClosed = func(cc model.ClosedCandle) { closed = append(closed, cc) }

	table.Update("BTCUSDT", "binance", 100, 1, 12)
	table.Update("BTCUSDT", "binance", 110, 1, 21)

	if len(closed) != 1 {
		t.Fatalf("closed candles = %d, want 1", len(closed))
	}
	if closed[0].Candle.Start != 10 || closed[0].Candle.Close != 100 {
		t.Errorf("closed = %+v", closed[0].Candle)
	}

	key := model.CandleKey{Symbol: "BTCUSDT", Venue: "binance", Interval: 10}
	c, _ := table.Active(key)
	if c.Start != 20 || c.End != 30 || c.Open != 110 || c.Volume != 1 {
		t.Errorf("fresh window = %+v", c)
	}
}

func TestTickRollsElapsedWindows(t *testing.T) {
	pub := &capturePublisher{}
	table := NewCandleTable([]int{10}, pub, zerolog.Nop())

	var closed []model.ClosedCandle
	table.OnClosed = func(cc model.ClosedCandle) { closed = append(closed, cc) }

	table.Update("BTCUSDT", "binance", 100, 3, 12)
	table.Tick(20)

	if len(closed) != 1 {
		t.Fatalf("closed candles = %d, want 1", len(closed))
	}

	key := model.CandleKey{Symbol: "BTCUSDT", Venue: "binance", Interval: 10}
	c, _ := table.Active(key)
	// Rolled window opens at the previous end with OHLC pinned to the
	// previous close and zero volume.
	if c.Start != 20 || c.End != 30 {
		t.Errorf("window = [%v, %v), want [20, 30)", c.Start, c.End)
	}
	if c.Open != 100 || c.High != 100 || c.Low != 100 || c.Close != 100 {
		t.Errorf("ohlc = %v/%v/%v/%v, want pinned to 100", c.Open, c.High, c.Low, c.Close)
	}
	if c.Volume != 0 {
		t.Errorf("volume = %v, want 0", c.Volume)
	}
}

func TestTickRepublishesEveryActiveCandle(t *testing.T) {
	pub := &capturePublisher{}
	table := NewCandleTable([]int{10, 60}, pub, zerolog.Nop())

	table.Update("BTCUSDT", "binance", 100, 1, 12)
	table.Update("ETHUSDT", "okx", 10, 1, 12)
	before := pub.klineCount()

	// Clock inside every window: nothing rolls, everything republishes.
	table.Tick(13)

	if got := pub.klineCount() - before; got != 4 {
		t.Errorf("tick published %d klines, want 4", got)
	}
}

func TestTickLeavesUnelapsedWindowsAlone(t *testing.T) {
	pub := &capturePublisher{}
	table := NewCandleTable([]int{60}, pub, zerolog.Nop())

	var closed []model.ClosedCandle
	table.OnClosed = func(cc model.ClosedCandle) { closed = append(closed, cc) }

	table.Update("BTCUSDT", "binance", 100, 1, 12)
	table.Tick(59)

	if len(closed) != 0 {
		t.Errorf("closed candles = %d, want 0", len(closed))
	}
	c, _ := table.Active(model.CandleKey{Symbol: "BTCUSDT", Venue: "binance", Interval: 60})
	if c.Start != 0 || c.Volume != 1 {
		t.Errorf("candle mutated by tick: %+v", c)
	}
}
