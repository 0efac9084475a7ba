package symbols

import "strings"

// Venue returns the lower-case venue of an exchange name such as
// "Binance_Spot" -> "binance".
func Venue(exchange string) string {
	if i := strings.IndexByte(exchange, '_'); i >= 0 {
		exchange = exchange[:i]
	}
	return strings.ToLower(exchange)
}

// Normalize converts an exchange-specific instrument code to the common
// upper-case form without separators, using BTC instead of XBT. The exchange
// may be a venue ("kraken") or a full exchange name ("Kraken_Spot").
func Normalize(exchange, code string) string {
	sym := strings.ToUpper(strings.TrimSpace(code))
	switch Venue(exchange) {
	case "binance":
		switch sym {
		case "1000BONKUSDT":
			sym = "BONKUSDT"
		case "1000PEPEUSDT":
			sym = "PEPEUSDT"
		case "1000SHIBUSDT":
			sym = "SHIBUSDT"
		}
	case "bybit":
		switch sym {
		case "1000BONKUSDT":
			sym = "BONKUSDT"
		case "1000PEPEUSDT":
			sym = "PEPEUSDT"
		case "SHIB1000USDT":
			sym = "SHIBUSDT"
		}
	case "kraken":
		sym = strings.NewReplacer("/", "", "-", "").Replace(sym)
		// legacy pairs such as XXBTZUSD carry X/Z asset-class prefixes
		if len(sym) == 8 && (sym[0] == 'X' || sym[0] == 'Z') && (sym[4] == 'X' || sym[4] == 'Z') {
			sym = sym[1:4] + sym[5:]
		}
	case "kucoin":
		sym = strings.ReplaceAll(sym, "-", "")
		sym = strings.TrimSuffix(sym, "M")
	case "okx":
		sym = strings.TrimSuffix(sym, "-SWAP")
		sym = strings.ReplaceAll(sym, "-", "")
	case "gate":
		sym = strings.ReplaceAll(sym, "_", "")
	default:
		sym = strings.NewReplacer("-", "", "_", "", "/", "").Replace(sym)
	}
	if strings.HasPrefix(sym, "XBT") {
		sym = "BTC" + sym[3:]
	}
	return sym
}
