package venue

import (
	"context"
	"errors"

	"signal-trade-bot-go/internal/signal"
)

var (
	// ErrNoExecutor is returned when a trader has no venue configured.
	ErrNoExecutor = errors.New("no executor configured for trader")
	// ErrNothingPlaced is returned when every entry order of a batch failed.
	ErrNothingPlaced = errors.New("no entry order could be placed")
	// ErrNoPositionSize is returned when protection is requested for a zero size.
	ErrNoPositionSize = errors.New("position size is zero")
)

// OrderSide is the venue-level direction of an order.
type OrderSide string

const (
	Buy  OrderSide = "buy"
	Sell OrderSide = "sell"
)

// OpeningSide is the order side that opens a position on s.
func OpeningSide(s signal.Side) OrderSide {
	if s.IsBuy() {
		return Buy
	}
	return Sell
}

// ClosingSide is the order side that reduces a position on s.
func ClosingSide(s signal.Side) OrderSide {
	return OpeningSide(s.Opposite())
}

// TriggerKind distinguishes stop-loss from take-profit trigger orders.
type TriggerKind string

const (
	TriggerStopLoss   TriggerKind = "sl"
	TriggerTakeProfit TriggerKind = "tp"
)

// Order is the venue-native order object returned by every placement.
type Order struct {
	ID         string    `json:"id"`
	ClientID   string    `json:"client_id,omitempty"`
	Symbol     string    `json:"symbol"`
	Side       OrderSide `json:"side"`
	Price      float64   `json:"price"`
	Size       float64   `json:"size"`
	ReduceOnly bool      `json:"reduce_only,omitempty"`
	Trigger    bool      `json:"trigger,omitempty"`
	Status     string    `json:"status"`
}

// Scope narrows which resting orders a cancel touches.
type Scope int

const (
	// ScopeAll cancels everything resting on the symbol.
	ScopeAll Scope = iota
	// ScopeEntries cancels plain limit orders that open or add to a position.
	ScopeEntries
	// ScopeProtective cancels reduce-only and trigger orders.
	ScopeProtective
)

// Matches reports whether o falls in the scope and, when side is set, belongs
// to a position on side.
func (s Scope) Matches(o Order, side signal.Side) bool {
	protective := o.ReduceOnly || o.Trigger
	switch s {
	case ScopeEntries:
		if protective {
			return false
		}
		return side == "" || o.Side == OpeningSide(side)
	case ScopeProtective:
		if !protective {
			return false
		}
		return side == "" || o.Side == ClosingSide(side)
	default:
		return side == "" || o.Side == OpeningSide(side)
	}
}

// EntryRequest carries what PlaceEntries needs to size and place entry orders.
type EntryRequest struct {
	Symbol   string
	Side     signal.Side
	Entries  []float64
	StopLoss float64
	Risk     float64
}

// ProtectionRequest carries the stop-loss and take-profit legs for a position.
type ProtectionRequest struct {
	Symbol      string
	Side        signal.Side
	StopLoss    *float64
	TakeProfits []float64
	Size        float64
}

// Executor is the uniform contract every venue implements. Symbols are in
// feed format; the executor converts them.
type Executor interface {
	Venue() string
	PlaceEntries(ctx context.Context, req EntryRequest) ([]Order, error)
	CancelOrders(ctx context.Context, symbol string, side signal.Side, scope Scope) (int, error)
	SetStopTakeProfit(ctx context.Context, req ProtectionRequest) (*Order, []Order, error)
	ClosePosition(ctx context.Context, symbol string, side signal.Side) (bool, error)
	PositionSize(ctx context.Context, symbol string) (float64, error)
}

// Gateway holds the venue-specific primitives an OrderExecutor drives. Symbols
// passed to a Gateway are already venue-native.
type Gateway interface {
	Name() string
	ConvertSymbol(feedSymbol string) (string, error)
	LimitOrder(ctx context.Context, symbol string, side OrderSide, size, price float64) (*Order, error)
	TriggerOrder(ctx context.Context, symbol string, side OrderSide, size, triggerPrice float64, kind TriggerKind) (*Order, error)
	MarketClose(ctx context.Context, symbol string, side OrderSide, size, slippage float64) (*Order, error)
	OpenOrders(ctx context.Context, symbol string) ([]Order, error)
	CancelOrder(ctx context.Context, symbol string, order Order) error
	// Position returns the signed position size: positive long, negative short.
	Position(ctx context.Context, symbol string) (float64, error)
}
