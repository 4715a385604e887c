package market

import (
	"fmt"
	"sort"
	"strings"
)

// NormalizeSymbol trims and upper-cases a ticker.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// ValidateSymbol checks that a ticker looks like something a quote provider
// would accept: letters, digits and the separators . - ^ =
func ValidateSymbol(s string) error {
	if s == "" {
		return fmt.Errorf("symbol is empty")
	}
	if len(s) > 16 {
		return fmt.Errorf("symbol %q too long", s)
	}
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '.' || r == '-' || r == '^' || r == '=':
		default:
			return fmt.Errorf("symbol %q contains invalid character %q", s, r)
		}
	}
	return nil
}

// Universe is the set of symbols a simulation is allowed to trade.
// A nil or empty Universe allows any valid symbol.
type Universe map[string]struct{}

func NewUniverse(symbols ...string) Universe {
	u := make(Universe, len(symbols))
	for _, s := range symbols {
		if s = NormalizeSymbol(s); s != "" {
			u[s] = struct{}{}
		}
	}
	return u
}

func (u Universe) Contains(symbol string) bool {
	if len(u) == 0 {
		return true
	}
	_, ok := u[NormalizeSymbol(symbol)]
	return ok
}

// Symbols returns the members in sorted order.
func (u Universe) Symbols() []string {
	out := make([]string, 0, len(u))
	for s := range u {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
