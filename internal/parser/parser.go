package parser

import (
	"regexp"
	"strconv"
	"strings"

	"signal-trade-bot-go/internal/signal"
)

// UnknownTrader is used when the message carries no trader header.
const UnknownTrader = "Unknown"

var (
	traderRe = regexp.MustCompile(`^\s*(.*?)\s*APP`)
	symbolRe = regexp.MustCompile(`(?i)\b([A-Z0-9]{2,10}/USDT)\b`)
	stopRe   = regexp.MustCompile(`(?i)\b(?:stop|sl)[/ ]?(?:loss)?[:\s]+\$?\s*([\d.]+)`)
	tpRe     = regexp.MustCompile(`(?i)\b(?:take profit|tp)\s*\d*[:\s]+\$?\s*([\d.]+)`)
	closedRe = regexp.MustCompile(`(?i)\bclosed\s*(?:price)?[:\s]+\$?\s*([\d.]+)`)
	entryRe  = regexp.MustCompile(`(?i)\bentry\s*\d*[:\s]+\$?\s*([\d.]+)`)
	longRe   = regexp.MustCompile(`(?i)\blong\b`)
	shortRe  = regexp.MustCompile(`(?i)\bshort\b`)
)

// Parse extracts a signal from the free text of a feed message. It returns
// false when the text has no symbol, no direction, or neither entries nor a
// stop loss. Only an explicit "closed [price]: N" marks the trade closed;
// the word on its own is commentary.
func Parse(text string) (signal.Signal, bool) {
	var sig signal.Signal

	sig.Trader = UnknownTrader
	if m := traderRe.FindStringSubmatch(text); m != nil && m[1] != "" {
		sig.Trader = m[1]
	}

	m := symbolRe.FindStringSubmatch(text)
	if m == nil {
		return signal.Signal{}, false
	}
	sig.Symbol = strings.ToUpper(m[1])

	switch {
	case longRe.MatchString(text):
		sig.Side = signal.SideLong
	case shortRe.MatchString(text):
		sig.Side = signal.SideShort
	default:
		return signal.Signal{}, false
	}

	for _, m := range entryRe.FindAllStringSubmatch(text, -1) {
		if v, ok := price(m[1]); ok {
			sig.Entries = append(sig.Entries, v)
		}
	}
	for _, m := range tpRe.FindAllStringSubmatch(text, -1) {
		if v, ok := price(m[1]); ok {
			sig.TakeProfits = append(sig.TakeProfits, v)
		}
	}
	if m := stopRe.FindStringSubmatch(text); m != nil {
		if v, ok := price(m[1]); ok {
			sig.StopLoss = &v
		}
	}
	if m := closedRe.FindStringSubmatch(text); m != nil {
		if v, ok := price(m[1]); ok {
			sig.ClosedPrice = &v
		}
	}

	if len(sig.Entries) == 0 && sig.StopLoss == nil {
		return signal.Signal{}, false
	}
	return sig, true
}

func price(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimRight(s, "."), 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}
