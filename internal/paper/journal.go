package paper

import (
	"database/sql"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"feedrouter/internal/model"
)

// Journal persists fills to SQLite for audit and the GET /fills
// endpoint. Optional; a nil *Journal is a no-op recorder.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// OpenJournal opens (or creates) the fills database.
func OpenJournal(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path+"?_journal=WAL&_sync=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS fills (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		token_id   TEXT NOT NULL,
		username   TEXT NOT NULL,
		symbol     TEXT NOT NULL,
		side       TEXT NOT NULL,
		price      TEXT NOT NULL,
		quantity   TEXT NOT NULL,
		created_at REAL NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_fills_username ON fills(username);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &Journal{db: db}, nil
}

// Record appends one fill row. Prices store as decimal strings.
func (j *Journal) Record(order model.Order) error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	price := order.Price
	if order.FilledPrice != nil {
		price = *order.FilledPrice
	}
	_, err := j.db.Exec(
		`INSERT INTO fills (token_id, username, symbol, side, price, quantity, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		order.TokenID,
		order.Username,
		order.Symbol,
		string(order.Side),
		price.String(),
		order.Quantity.String(),
		order.CreatedAt,
	)
	return err
}

// Fill is one journal row as served by GET /fills.
type Fill struct {
	TokenID   string  `json:"token_id"`
	Symbol    string  `json:"symbol"`
	Side      string  `json:"side"`
	Price     string  `json:"price"`
	Quantity  string  `json:"quantity"`
	CreatedAt float64 `json:"created_at"`
}

// RecentFills returns the user's latest fills, newest first.
func (j *Journal) RecentFills(username string, limit int) ([]Fill, error) {
	if j == nil {
		return nil, nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(
		`SELECT token_id, symbol, side, price, quantity, created_at
		 FROM fills WHERE username = ? ORDER BY id DESC LIMIT ?`, username, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fills []Fill
	for rows.Next() {
		var f Fill
		if err := rows.Scan(&f.TokenID, &f.Symbol, &f.Side, &f.Price, &f.Quantity, &f.CreatedAt); err != nil {
			continue
		}
		fills = append(fills, f)
	}
	return fills, rows.Err()
}

// Close closes the database.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	return j.db.Close()
}
