package model

import "sort"

// quoteSuffixes are the quote assets recognized when splitting a pair,
// checked in order.
var quoteSuffixes = []string{"USDT", "USDC", "USD"}

// SplitSymbol splits an exchange-neutral pair like "BTCUSDT" into its
// base and quote assets. Unknown quotes fall back to the last three
// characters, so "FOOBAR" splits as ("FOO", "BAR").
func SplitSymbol(symbol string) (base, quote string) {
	for _, q := range quoteSuffixes {
		if len(symbol) >= len(q) && symbol[len(symbol)-len(q):] == q {
			return symbol[:len(symbol)-len(q)], q
		}
	}
	if len(symbol) <= 3 {
		return symbol, ""
	}
	return symbol[:len(symbol)-3], symbol[len(symbol)-3:]
}

// Assets returns the sorted union of base and quote assets across the
// given symbols. This is the asset universe for /info and /balance.
func Assets(symbols []string) []string {
	seen := make(map[string]bool, len(symbols)*2)
	var assets []string
	add := func(a string) {
		if a != "" && !seen[a] {
			seen[a] = true
			assets = append(assets, a)
		}
	}
	for _, sym := range symbols {
		base, quote := SplitSymbol(sym)
		add(base)
		add(quote)
	}
	sort.Strings(assets)
	return assets
}
