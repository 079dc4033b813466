// Package snapshot persists the paper-trading account state (users,
// balances, orders, open-order index) as a single JSON document,
// written whole on every mutation and loaded once at startup.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"feedrouter/internal/model"
)

// Document is the on-disk schema. Decimal fields round-trip exactly;
// documents written with plain JSON numbers also load.
type Document struct {
	Users              map[string]model.User               `json:"users"`
	Balances           map[string]map[string]model.Balance `json:"balances"`
	Orders             map[string]model.Order              `json:"orders"`
	OpenOrdersBySymbol map[string][]string                 `json:"open_orders_by_symbol"`
}

// NewDocument returns an empty document with all maps allocated.
func NewDocument() Document {
	return Document{
		Users:              make(map[string]model.User),
		Balances:           make(map[string]map[string]model.Balance),
		Orders:             make(map[string]model.Order),
		OpenOrdersBySymbol: make(map[string][]string),
	}
}

// Store serializes writers and owns the snapshot path.
type Store struct {
	mu   sync.Mutex
	path string
}

// New creates a store writing to path.
func New(path string) *Store {
	return &Store{path: path}
}

// Load reads the snapshot from disk. A missing file is a no-op and
// yields an empty document.
func (s *Store) Load() (Document, error) {
	doc := NewDocument()

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return doc, nil
		}
		return doc, fmt.Errorf("read snapshot: %w", err)
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return NewDocument(), fmt.Errorf("decode snapshot: %w", err)
	}
	if doc.Users == nil {
		doc.Users = make(map[string]model.User)
	}
	if doc.Balances == nil {
		doc.Balances = make(map[string]map[string]model.Balance)
	}
	if doc.Orders == nil {
		doc.Orders = make(map[string]model.Order)
	}
	if doc.OpenOrdersBySymbol == nil {
		doc.OpenOrdersBySymbol = make(map[string][]string)
	}
	return doc, nil
}

// Save writes the document through a temp file and renames it into
// place, so a crash mid-write leaves the previous snapshot intact.
func (s *Store) Save(doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}
