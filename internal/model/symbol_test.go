package model

import (
	"reflect"
	"testing"
)

func TestSplitSymbol(t *testing.T) {
	cases := []struct {
		symbol string
		base   string
		quote  string
	}{
		{"BTCUSDT", "BTC", "USDT"},
		{"ETHUSDC", "ETH", "USDC"},
		{"SOLUSD", "SOL", "USD"},
		{"XRPUSDT", "XRP", "USDT"},
		{"FOOBAR", "FOO", "BAR"},
		{"USDT", "", "USDT"}, // degenerate pair, quote only
		{"ABC", "ABC", ""},   // too short to split
		{"ABCD", "A", "BCD"}, // unknown quote, last-3 fallback
	}
	for _, tc := range cases {
		base, quote := SplitSymbol(tc.symbol)
		if base != tc.base || quote != tc.quote {
			t.Errorf("SplitSymbol(%q) = (%q, %q), want (%q, %q)", tc.symbol, base, quote, tc.base, tc.quote)
		}
	}
}

func TestAssets(t *testing.T) {
	got := Assets([]string{"BTCUSDT", "ETHUSDT", "ETHUSDC"})
	want := []string{"BTC", "ETH", "USDC", "USDT"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Assets = %v, want %v", got, want)
	}
}

func TestAssetsDeduplicates(t *testing.T) {
	got := Assets([]string{"BTCUSDT", "BTCUSDT"})
	want := []string{"BTC", "USDT"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Assets = %v, want %v", got, want)
	}
}
