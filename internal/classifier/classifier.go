package classifier

import (
	"errors"
	"fmt"
	"strings"

	"signal-trade-bot-go/internal/ledger"
	"signal-trade-bot-go/internal/signal"
)

var (
	// ErrNotFollowed rejects signals from traders outside the followed set.
	ErrNotFollowed = errors.New("trader not followed")
	// ErrIncomplete rejects signals missing symbol, side or both of entries
	// and stop loss.
	ErrIncomplete = errors.New("signal incomplete")
	// ErrCreateIncomplete rejects a new signal without entries, stop loss or side.
	ErrCreateIncomplete = errors.New("signal incomplete for create")
	// ErrTradeClosed rejects changes to a trade that was already closed.
	ErrTradeClosed = errors.New("trade already closed")
)

// Intent is the outcome of classifying one signal.
type Intent int

const (
	// IntentCreate opens a new trade.
	IntentCreate Intent = iota + 1
	// IntentUpdate changes a ledgered trade.
	IntentUpdate
	// IntentNoop means the ledgered trade is semantically unchanged.
	IntentNoop
)

func (i Intent) String() string {
	switch i {
	case IntentCreate:
		return "create"
	case IntentUpdate:
		return "update"
	case IntentNoop:
		return "noop"
	}
	return fmt.Sprintf("intent(%d)", int(i))
}

// Key is a tracked field of a trade.
type Key string

const (
	KeyEntries     Key = "entries"
	KeyStopLoss    Key = "stop_loss"
	KeyTakeProfit  Key = "take_profit"
	KeyClosedPrice Key = "closed_price"
)

// ActionKind is a venue action derived from a classification.
type ActionKind int

const (
	// ActionPlaceEntries places entries, stop and take-profits of a new trade.
	ActionPlaceEntries ActionKind = iota + 1
	// ActionReplaceEntries cancels resting entries and places the new ones.
	ActionReplaceEntries
	// ActionReplaceProtection replaces stop-loss and take-profit orders.
	ActionReplaceProtection
	// ActionClose cancels everything and closes the position.
	ActionClose
)

func (k ActionKind) String() string {
	switch k {
	case ActionPlaceEntries:
		return "place_entries"
	case ActionReplaceEntries:
		return "replace_entries"
	case ActionReplaceProtection:
		return "replace_protection"
	case ActionClose:
		return "close"
	}
	return fmt.Sprintf("action(%d)", int(k))
}

// Decision is the classification of one signal against the ledger. Target
// holds the trade fields once every action has succeeded.
type Decision struct {
	Intent  Intent
	URL     string
	Signal  signal.Signal
	Diff    []Key
	Actions []ActionKind
	Target  ledger.TradeRecord
}

// Has reports whether k is in the diff.
func (d Decision) Has(k Key) bool {
	for _, x := range d.Diff {
		if x == k {
			return true
		}
	}
	return false
}

// Classifier decides CREATE, UPDATE or no-op for signals.
type Classifier struct {
	followed map[string]struct{}
}

// New returns a classifier accepting signals from the listed traders.
func New(followed []string) *Classifier {
	m := make(map[string]struct{}, len(followed))
	for _, t := range followed {
		m[normalizeTrader(t)] = struct{}{}
	}
	return &Classifier{followed: m}
}

func normalizeTrader(t string) string {
	return strings.ToLower(strings.TrimSpace(t))
}

// Follows reports whether trader is followed.
func (c *Classifier) Follows(trader string) bool {
	_, ok := c.followed[normalizeTrader(trader)]
	return ok
}

// Classify compares sig with the stored record for url, if any. A nil stored
// record means url is not in the ledger.
func (c *Classifier) Classify(url string, sig signal.Signal, stored *ledger.TradeRecord) (Decision, error) {
	if !c.Follows(sig.Trader) {
		return Decision{}, fmt.Errorf("%w: %q", ErrNotFollowed, sig.Trader)
	}
	if strings.TrimSpace(sig.Symbol) == "" || !sig.Side.Valid() || (len(sig.Entries) == 0 && sig.StopLoss == nil) {
		return Decision{}, ErrIncomplete
	}

	if stored == nil {
		return c.create(url, sig)
	}
	return c.update(url, sig, *stored)
}

func (c *Classifier) create(url string, sig signal.Signal) (Decision, error) {
	if len(sig.Entries) == 0 || sig.StopLoss == nil {
		return Decision{}, ErrCreateIncomplete
	}
	target := ledger.TradeRecord{
		Trader:      sig.Trader,
		Symbol:      sig.Symbol,
		Side:        sig.Side,
		Entries:     append([]float64(nil), sig.Entries...),
		StopLoss:    copyPrice(sig.StopLoss),
		TakeProfits: append([]float64(nil), sig.TakeProfits...),
		ClosedPrice: copyPrice(sig.ClosedPrice),
	}
	d := Decision{Intent: IntentCreate, URL: url, Signal: sig}
	if sig.ClosedPrice != nil || sig.CloseRequested {
		// already over by the time it was first seen
		target.Closed = true
	} else {
		d.Actions = []ActionKind{ActionPlaceEntries}
	}
	d.Target = target
	return d, nil
}

func (c *Classifier) update(url string, sig signal.Signal, stored ledger.TradeRecord) (Decision, error) {
	if stored.Closed {
		return Decision{}, ErrTradeClosed
	}

	target := stored.Clone()
	var diff []Key

	if len(sig.Entries) > 0 && !equalPrices(sig.Entries, stored.Entries) {
		diff = append(diff, KeyEntries)
		target.Entries = append([]float64(nil), sig.Entries...)
	}
	if sig.StopLoss != nil && !equalPrice(sig.StopLoss, stored.StopLoss) {
		diff = append(diff, KeyStopLoss)
		target.StopLoss = copyPrice(sig.StopLoss)
	}
	if len(sig.TakeProfits) > 0 && !equalPrices(sig.TakeProfits, stored.TakeProfits) {
		diff = append(diff, KeyTakeProfit)
		target.TakeProfits = append([]float64(nil), sig.TakeProfits...)
	}
	closing := sig.CloseRequested
	if sig.ClosedPrice != nil && !equalPrice(sig.ClosedPrice, stored.ClosedPrice) {
		diff = append(diff, KeyClosedPrice)
		target.ClosedPrice = copyPrice(sig.ClosedPrice)
		closing = true
	}

	d := Decision{URL: url, Signal: sig, Diff: diff, Target: target}
	if len(diff) == 0 && !closing {
		d.Intent = IntentNoop
		return d, nil
	}

	d.Intent = IntentUpdate
	if d.Has(KeyEntries) {
		d.Actions = append(d.Actions, ActionReplaceEntries)
	}
	if d.Has(KeyStopLoss) || d.Has(KeyTakeProfit) {
		d.Actions = append(d.Actions, ActionReplaceProtection)
	}
	if closing {
		d.Actions = append(d.Actions, ActionClose)
		d.Target.Closed = true
	}
	return d, nil
}

func copyPrice(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func equalPrice(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalPrices(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
