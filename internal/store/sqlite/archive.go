// Package sqlite archives closed candles for the REST history endpoint.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	_ "github.com/mattn/go-sqlite3"

	"feedrouter/internal/model"
)

const (
	batchSize  = 100
	flushDelay = 200 * time.Millisecond
)

// Archive is a single-writer SQLite store for closed candles. Writes
// batch into transactions, flushed on size or delay.
type Archive struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open opens (or creates) the archive database in WAL mode.
func Open(path string, log zerolog.Logger) (*Archive, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS candles (
		symbol   TEXT    NOT NULL,
		venue    TEXT    NOT NULL,
		interval INTEGER NOT NULL,
		start_ts REAL    NOT NULL,
		end_ts   REAL    NOT NULL,
		open     REAL    NOT NULL,
		high     REAL    NOT NULL,
		low      REAL    NOT NULL,
		close    REAL    NOT NULL,
		volume   REAL    NOT NULL,
		PRIMARY KEY (symbol, venue, interval, start_ts)
	);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Info().Str("path", path).Msg("candle archive opened")
	return &Archive{db: db, log: log}, nil
}

// Run consumes closed candles and inserts them in batched
// transactions. Flushes every batchSize candles or every flushDelay,
// whichever comes first; a final flush runs on shutdown.
func (a *Archive) Run(ctx context.Context, in <-chan model.ClosedCandle) {
	batch := make([]model.ClosedCandle, 0, batchSize)
	timer := time.NewTimer(flushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := a.insertBatch(batch); err != nil {
			a.log.Error().Err(err).Int("count", len(batch)).Msg("archive batch insert failed")
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case cc, ok := <-in:
			if !ok {
				flush()
				return
			}
			batch = append(batch, cc)
			if len(batch) >= batchSize {
				flush()
				timer.Reset(flushDelay)
			}
		case <-timer.C:
			flush()
			timer.Reset(flushDelay)
		}
	}
}

// insertBatch writes a batch in one transaction. Re-closed windows
// (same key) are ignored rather than rewritten.
func (a *Archive) insertBatch(batch []model.ClosedCandle) error {
	tx, err := a.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO candles (symbol, venue, interval, start_ts, end_ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, cc := range batch {
		c := cc.Candle
		if _, err := stmt.Exec(cc.Key.Symbol, cc.Key.Venue, cc.Key.Interval,
			c.Start, c.End, c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Recent returns the newest archived candles for one key, ascending by
// window start.
func (a *Archive) Recent(symbol, venue string, interval, limit int) ([]model.KlineEvent, error) {
	rows, err := a.db.Query(`
		SELECT start_ts, end_ts, open, high, low, close, volume
		FROM candles
		WHERE symbol = ? AND venue = ? AND interval = ?
		ORDER BY start_ts DESC LIMIT ?
	`, symbol, venue, interval, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles: %w", err)
	}
	defer rows.Close()

	key := model.CandleKey{Symbol: symbol, Venue: venue, Interval: interval}
	var out []model.KlineEvent
	for rows.Next() {
		var c model.Candle
		if err := rows.Scan(&c.Start, &c.End, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("sqlite scan candle: %w", err)
		}
		out = append(out, key.Kline(c))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Reverse to ascending start order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Close closes the database.
func (a *Archive) Close() error {
	return a.db.Close()
}
