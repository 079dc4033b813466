package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"feedrouter/internal/model"
)

func TestLoadMissingFileReturnsEmptyDocument(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "state.json"))

	doc, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if doc.Users == nil || doc.Balances == nil || doc.Orders == nil || doc.OpenOrdersBySymbol == nil {
		t.Errorf("maps not initialized: %+v", doc)
	}
	if len(doc.Users) != 0 {
		t.Errorf("users = %d, want 0", len(doc.Users))
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store := New(path)

	fp := decimal.NewFromFloat(99.5)
	doc := NewDocument()
	doc.Users["alice"] = model.User{Username: "alice", PasswordHash: "x", TOTPEnabled: true, TOTPSecret: "s"}
	doc.Balances["alice"] = map[string]model.Balance{
		"USDT": {Total: decimal.NewFromInt(1000), Available: decimal.NewFromFloat(800.25)},
	}
	doc.Orders["ord-1"] = model.Order{
		TokenID:        "ord-1",
		Username:       "alice",
		Symbol:         "BTCUSDT",
		Side:           model.SideBuy,
		Price:          decimal.NewFromInt(100),
		Quantity:       decimal.NewFromInt(2),
		Status:         model.OrderFilled,
		FilledPrice:    &fp,
		ReservedAmount: decimal.NewFromInt(200),
		CreatedAt:      1700000000.5,
	}
	doc.OpenOrdersBySymbol["BTCUSDT"] = []string{"ord-1"}

	if err := store.Save(doc); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Users["alice"].TOTPSecret != "s" || !got.Users["alice"].TOTPEnabled {
		t.Errorf("user = %+v", got.Users["alice"])
	}
	bal := got.Balances["alice"]["USDT"]
	if !bal.Total.Equal(decimal.NewFromInt(1000)) || !bal.Available.Equal(decimal.NewFromFloat(800.25)) {
		t.Errorf("balance = %+v", bal)
	}
	order := got.Orders["ord-1"]
	if order.FilledPrice == nil || !order.FilledPrice.Equal(fp) {
		t.Errorf("filled price = %v, want %s", order.FilledPrice, fp)
	}
	if order.CreatedAt != 1700000000.5 {
		t.Errorf("created_at = %v", order.CreatedAt)
	}
	if len(got.OpenOrdersBySymbol["BTCUSDT"]) != 1 {
		t.Errorf("open orders = %+v", got.OpenOrdersBySymbol)
	}
}

func TestSaveCreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "state.json")
	store := New(path)

	if err := store.Save(NewDocument()); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("stat: %v", err)
	}
}

func TestSaveLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	store := New(path)

	if err := store.Save(NewDocument()); err != nil {
		t.Fatalf("save: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "state.json" {
		t.Errorf("dir entries = %v, want just state.json", entries)
	}
}
