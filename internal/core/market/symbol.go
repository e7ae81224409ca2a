// Package market defines the symbol model: the binding of an instrument to a
// matching engine, its currencies, precision, and trade bounds. The canonical
// symbol string is BASE/QUOTE-SETTLE:MARKET (e.g. AMM/USDT-USDT:SPOT).
package market

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Symbol is a tradable instrument bound to exactly one engine kind. The
// engine kind is immutable after creation.
type Symbol struct {
	ID             int64
	Symbol         string
	BaseAsset      string
	QuoteAsset     string
	SettleAsset    string
	Market         MarketClass
	Engine         EngineKind
	PricePrecision int32
	QtyPrecision   int32
	MinTradeAmount decimal.Decimal
	MaxTradeAmount decimal.Decimal
	FeeRate        decimal.Decimal
	EngineParams   json.RawMessage
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Spot reports whether the symbol is in the spot market class. The CLOB
// rejects placement on anything else.
func (s *Symbol) Spot() bool {
	return s.Market == MarketSpot
}

// LPCurrency is the ledger currency code carrying a user's LP shares for
// this symbol's pool.
func (s *Symbol) LPCurrency() string {
	return "LP-" + s.Symbol
}

// EngineParam reads a decimal value from the opaque engine-params blob,
// returning fallback when absent or malformed.
func (s *Symbol) EngineParam(key string, fallback decimal.Decimal) decimal.Decimal {
	if len(s.EngineParams) == 0 {
		return fallback
	}
	var params map[string]json.RawMessage
	if err := json.Unmarshal(s.EngineParams, &params); err != nil {
		return fallback
	}
	raw, ok := params[key]
	if !ok {
		return fallback
	}
	// Accept both "0.001" and 0.001 encodings.
	var str string
	if err := json.Unmarshal(raw, &str); err != nil {
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return fallback
		}
		return decimal.NewFromFloat(f)
	}
	d, err := decimal.NewFromString(str)
	if err != nil {
		return fallback
	}
	return d
}

// BuildSymbol assembles the canonical symbol string from its components.
func BuildSymbol(base, quote, settle string, market MarketClass) string {
	return fmt.Sprintf("%s/%s-%s:%s",
		strings.ToUpper(base), strings.ToUpper(quote),
		strings.ToUpper(settle), string(market))
}

// ParseSymbolPath canonicalizes a URL path form of a symbol. Both the slash
// form BASE/QUOTE/SETTLE/MARKET and the dashed form BASE-QUOTE-SETTLE-MARKET
// are accepted; a string already in canonical form passes through.
func ParseSymbolPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("market: empty symbol path")
	}

	// Canonical form already: BASE/QUOTE-SETTLE:MARKET.
	if strings.Contains(path, ":") {
		canon := strings.ToUpper(path)
		if err := validateCanonical(canon); err != nil {
			return "", err
		}
		return canon, nil
	}

	var parts []string
	if strings.Contains(path, "/") {
		parts = strings.Split(path, "/")
	} else {
		parts = strings.Split(path, "-")
	}
	if len(parts) != 4 {
		return "", fmt.Errorf("market: malformed symbol path %q", path)
	}
	mc := MarketClass(strings.ToUpper(parts[3]))
	if !mc.Valid() {
		return "", fmt.Errorf("market: unknown market class %q", parts[3])
	}
	return BuildSymbol(parts[0], parts[1], parts[2], mc), nil
}

func validateCanonical(s string) error {
	slash := strings.IndexByte(s, '/')
	dash := strings.IndexByte(s, '-')
	colon := strings.IndexByte(s, ':')
	if slash <= 0 || dash <= slash+1 || colon <= dash+1 || colon == len(s)-1 {
		return fmt.Errorf("market: malformed symbol %q", s)
	}
	if !MarketClass(s[colon+1:]).Valid() {
		return fmt.Errorf("market: unknown market class in %q", s)
	}
	return nil
}

// SplitSymbol decomposes a canonical symbol string into its components.
func SplitSymbol(symbol string) (base, quote, settle string, mc MarketClass, err error) {
	canon := strings.ToUpper(strings.TrimSpace(symbol))
	if err = validateCanonical(canon); err != nil {
		return
	}
	slash := strings.IndexByte(canon, '/')
	colon := strings.IndexByte(canon, ':')
	dash := strings.IndexByte(canon[slash:], '-') + slash

	base = canon[:slash]
	quote = canon[slash+1 : dash]
	settle = canon[dash+1 : colon]
	mc = MarketClass(canon[colon+1:])
	return
}
