package symbol

import (
	"fmt"
	"strings"
)

// Override maps one feed symbol to a venue symbol verbatim.
type Override struct {
	From string `mapstructure:"from"`
	To   string `mapstructure:"to"`
}

// Rule rewrites a trailing suffix of a feed symbol, e.g. "/USDT" -> "/USDC:USDC".
type Rule struct {
	Suffix      string
	Replacement string
}

// Normalizer converts feed-native symbols to venue-native ones. Overrides are
// consulted first, then the default suffix rule. Symbols matching neither are
// returned unchanged.
type Normalizer struct {
	overrides map[string]string
	rule      Rule
}

// NewNormalizer builds a normalizer from an override list and a default rule.
func NewNormalizer(rule Rule, overrides []Override) *Normalizer {
	m := make(map[string]string, len(overrides))
	for _, o := range overrides {
		m[canonical(o.From)] = o.To
	}
	return &Normalizer{overrides: m, rule: rule}
}

// Convert maps a feed symbol such as "BTC/USDT" to the venue format.
func (n *Normalizer) Convert(feedSymbol string) (string, error) {
	s := canonical(feedSymbol)
	if s == "" {
		return "", fmt.Errorf("empty symbol")
	}
	if to, ok := n.overrides[s]; ok {
		return to, nil
	}
	if n.rule.Suffix != "" && strings.HasSuffix(s, n.rule.Suffix) {
		base := strings.TrimSuffix(s, n.rule.Suffix)
		if base == "" {
			return "", fmt.Errorf("symbol %q has no base asset", feedSymbol)
		}
		return base + n.rule.Replacement, nil
	}
	return s, nil
}

// Base returns the base asset of a unified symbol: "BTC/USDC:USDC" -> "BTC".
func Base(unified string) string {
	if i := strings.IndexByte(unified, '/'); i >= 0 {
		return unified[:i]
	}
	return unified
}

func canonical(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
