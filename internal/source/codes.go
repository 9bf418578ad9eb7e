package source

import (
	"fmt"
	"strings"
)

// Canonical instrument codes are exchange-suffixed ("000001.SZ",
// "600519.SH", "AAPL.US"). Each adapter translates to and from its native
// format deterministically; translation never loses information.

// splitCode splits a canonical code into symbol and exchange suffix.
func splitCode(code string) (symbol, exchange string, err error) {
	idx := strings.LastIndex(code, ".")
	if idx <= 0 || idx == len(code)-1 {
		return "", "", fmt.Errorf("malformed instrument code %q", code)
	}
	return code[:idx], code[idx+1:], nil
}

// canonicalCode joins a bare symbol and exchange suffix.
func canonicalCode(symbol, exchange string) string {
	return symbol + "." + strings.ToUpper(exchange)
}

// eastmoneySecID converts a canonical code to eastmoney's market-prefixed
// secid ("1.600519" for SH, "0.000001" for SZ and BJ).
func eastmoneySecID(code string) (string, error) {
	symbol, exchange, err := splitCode(code)
	if err != nil {
		return "", err
	}
	switch strings.ToUpper(exchange) {
	case "SH":
		return "1." + symbol, nil
	case "SZ", "BJ":
		return "0." + symbol, nil
	default:
		return "", fmt.Errorf("unsupported exchange %q in code %q", exchange, code)
	}
}

// eastmoneyCanonical converts an eastmoney market flag and symbol back to
// the canonical form. Market 1 is Shanghai, 0 is Shenzhen.
func eastmoneyCanonical(market int, symbol string) string {
	if market == 1 {
		return canonicalCode(symbol, "SH")
	}
	return canonicalCode(symbol, "SZ")
}

// finnhubSymbol converts a canonical code to finnhub's bare symbol.
func finnhubSymbol(code string) (string, error) {
	symbol, _, err := splitCode(code)
	if err != nil {
		return "", err
	}
	return symbol, nil
}
