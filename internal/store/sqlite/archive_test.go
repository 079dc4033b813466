package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"feedrouter/internal/model"
)

func openTestArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := Open(filepath.Join(t.TempDir(), "candles.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func candleAt(start float64) model.ClosedCandle {
	return model.ClosedCandle{
		Key: model.CandleKey{Symbol: "BTCUSDT", Venue: "all", Interval: 60},
		Candle: model.Candle{
			Start: start, End: start + 60,
			Open: 100, High: 110, Low: 95, Close: 105, Volume: 3,
		},
	}
}

func TestArchiveInsertAndRecent(t *testing.T) {
	a := openTestArchive(t)

	batch := []model.ClosedCandle{candleAt(0), candleAt(60), candleAt(120)}
	if err := a.insertBatch(batch); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := a.Recent("BTCUSDT", "all", 60, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("rows = %d, want 3", len(got))
	}
	// Ascending start order, even though the query reads newest first.
	if got[0].Start != 0 || got[1].Start != 60 || got[2].Start != 120 {
		t.Errorf("starts = %v, %v, %v", got[0].Start, got[1].Start, got[2].Start)
	}
	if got[0].Interval != "1m" || got[0].High != 110 || got[0].Volume != 3 {
		t.Errorf("row = %+v", got[0])
	}
}

func TestArchiveRecentHonorsLimit(t *testing.T) {
	a := openTestArchive(t)

	var batch []model.ClosedCandle
	for i := 0; i < 5; i++ {
		batch = append(batch, candleAt(float64(i*60)))
	}
	if err := a.insertBatch(batch); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := a.Recent("BTCUSDT", "all", 60, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	// The two newest windows, ascending.
	if len(got) != 2 || got[0].Start != 180 || got[1].Start != 240 {
		t.Errorf("rows = %+v", got)
	}
}

func TestArchiveIgnoresDuplicateWindows(t *testing.T) {
	a := openTestArchive(t)

	first := candleAt(0)
	second := candleAt(0)
	second.Candle.Close = 999

	if err := a.insertBatch([]model.ClosedCandle{first, second}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := a.Recent("BTCUSDT", "all", 60, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("rows = %d, want 1", len(got))
	}
	if got[0].Close != 105 {
		t.Errorf("close = %v, want the first write to win", got[0].Close)
	}
}

func TestArchiveRecentScopesByKey(t *testing.T) {
	a := openTestArchive(t)

	other := candleAt(0)
	other.Key.Venue = "binance"
	if err := a.insertBatch([]model.ClosedCandle{candleAt(0), other}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := a.Recent("BTCUSDT", "binance", 60, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 1 || got[0].Exchange != "binance" {
		t.Errorf("rows = %+v", got)
	}
}
