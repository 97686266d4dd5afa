package venue

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/sourcegraph/conc/iter"
	"go.uber.org/zap"

	"signal-trade-bot-go/internal/retry"
	"signal-trade-bot-go/internal/signal"
	"signal-trade-bot-go/internal/sizing"
)

// DefaultCloseSlippage is the price band a market close may move through.
const DefaultCloseSlippage = 0.20

// OrderExecutor implements Executor on top of a venue Gateway, wrapping every
// venue call in the retry policy.
type OrderExecutor struct {
	gw       Gateway
	sizer    sizing.Sizer
	policy   *retry.Policy
	slippage float64
	logger   *zap.Logger
}

// Options tune an OrderExecutor.
type Options struct {
	Sizer    sizing.Sizer
	Policy   *retry.Policy
	Slippage float64
}

// NewOrderExecutor builds an executor for gw.
func NewOrderExecutor(gw Gateway, opts Options, logger *zap.Logger) *OrderExecutor {
	if opts.Policy == nil {
		opts.Policy = retry.NewPolicy(logger)
	}
	if opts.Slippage <= 0 {
		opts.Slippage = DefaultCloseSlippage
	}
	return &OrderExecutor{
		gw:       gw,
		sizer:    opts.Sizer,
		policy:   opts.Policy,
		slippage: opts.Slippage,
		logger:   logger.Named(gw.Name()),
	}
}

var _ Executor = (*OrderExecutor)(nil)

// Venue returns the gateway name.
func (e *OrderExecutor) Venue() string {
	return e.gw.Name()
}

type placement struct {
	price float64
	order *Order
	err   error
}

// PlaceEntries sizes the request and places one limit order per entry price
// concurrently. Failed entries are logged and left out of the result; an error
// is returned only when sizing fails or no order at all could be placed.
func (e *OrderExecutor) PlaceEntries(ctx context.Context, req EntryRequest) ([]Order, error) {
	symbol, err := e.gw.ConvertSymbol(req.Symbol)
	if err != nil {
		return nil, err
	}
	size, err := e.sizer.Size(req.Entries, req.StopLoss, req.Risk)
	if err != nil {
		return nil, fmt.Errorf("size entries for %s: %w", req.Symbol, err)
	}
	side := OpeningSide(req.Side)

	l := e.logger.With(zap.String("symbol", symbol), zap.String("side", string(side)))
	l.Info("Placing entry orders",
		zap.Int("count", len(req.Entries)),
		zap.Float64("size", size.PerEntry),
		zap.Float64("total", size.Total(len(req.Entries))),
		zap.Bool("floored", size.Floored),
		zap.String("mode", string(size.Mode)),
	)

	results := iter.Map(req.Entries, func(price *float64) placement {
		px := *price
		order, err := retry.Do(ctx, e.policy, "place_entry", func(ctx context.Context) (*Order, error) {
			return e.gw.LimitOrder(ctx, symbol, side, size.PerEntry, px)
		})
		return placement{price: px, order: order, err: err}
	})

	var placed []Order
	var firstErr error
	for _, r := range results {
		switch {
		case r.err != nil:
			l.Error("Failed to place entry order", zap.Float64("price", r.price), zap.Error(r.err))
			if firstErr == nil {
				firstErr = r.err
			}
		case r.order == nil:
			l.Warn("Venue returned no order for entry", zap.Float64("price", r.price))
		default:
			placed = append(placed, *r.order)
		}
	}

	l.Info("Entry placement finished", zap.Int("placed", len(placed)), zap.Int("requested", len(req.Entries)))
	if len(placed) == 0 {
		if firstErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrNothingPlaced, firstErr)
		}
		return nil, ErrNothingPlaced
	}
	return placed, nil
}

// CancelOrders cancels the resting orders of symbol within scope, optionally
// limited to one position side, and returns how many are gone.
func (e *OrderExecutor) CancelOrders(ctx context.Context, symbol string, side signal.Side, scope Scope) (int, error) {
	venueSymbol, err := e.gw.ConvertSymbol(symbol)
	if err != nil {
		return 0, err
	}
	open, err := retry.Do(ctx, e.policy, "open_orders", func(ctx context.Context) ([]Order, error) {
		return e.gw.OpenOrders(ctx, venueSymbol)
	})
	if err != nil {
		return 0, fmt.Errorf("fetch open orders for %s: %w", venueSymbol, err)
	}

	l := e.logger.With(zap.String("symbol", venueSymbol))
	canceled := 0
	var errs []error
	for _, o := range open {
		if !scope.Matches(o, side) {
			continue
		}
		order := o
		_, err := retry.Do(ctx, e.policy, "cancel_order", func(ctx context.Context) (struct{}, error) {
			return struct{}{}, e.gw.CancelOrder(ctx, venueSymbol, order)
		})
		if err != nil {
			l.Warn("Failed to cancel order", zap.String("order_id", order.ID), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		canceled++
	}
	if canceled > 0 {
		l.Info("Canceled orders", zap.Int("count", canceled))
	}
	return canceled, errors.Join(errs...)
}

// SetStopTakeProfit places the stop-loss and take-profit legs as reduce-only
// trigger orders on the closing side. The stop covers the whole size; the
// take-profit levels split it evenly. A missing leg is skipped.
func (e *OrderExecutor) SetStopTakeProfit(ctx context.Context, req ProtectionRequest) (*Order, []Order, error) {
	if req.Size <= 0 {
		return nil, nil, ErrNoPositionSize
	}
	symbol, err := e.gw.ConvertSymbol(req.Symbol)
	if err != nil {
		return nil, nil, err
	}
	side := ClosingSide(req.Side)
	l := e.logger.With(zap.String("symbol", symbol), zap.String("side", string(side)), zap.Float64("size", req.Size))

	var errs []error
	var stop *Order
	if req.StopLoss != nil && *req.StopLoss > 0 {
		stop, err = retry.Do(ctx, e.policy, "place_stop", func(ctx context.Context) (*Order, error) {
			return e.gw.TriggerOrder(ctx, symbol, side, req.Size, *req.StopLoss, TriggerStopLoss)
		})
		if err != nil {
			l.Error("Failed to set stop loss", zap.Float64("stop_loss", *req.StopLoss), zap.Error(err))
			errs = append(errs, fmt.Errorf("stop loss: %w", err))
		}
	}

	var tps []Order
	if len(req.TakeProfits) > 0 {
		share := req.Size / float64(len(req.TakeProfits))
		for _, tp := range req.TakeProfits {
			px := tp
			order, err := retry.Do(ctx, e.policy, "place_take_profit", func(ctx context.Context) (*Order, error) {
				return e.gw.TriggerOrder(ctx, symbol, side, share, px, TriggerTakeProfit)
			})
			if err != nil {
				l.Error("Failed to set take profit", zap.Float64("take_profit", px), zap.Error(err))
				errs = append(errs, fmt.Errorf("take profit %v: %w", px, err))
				continue
			}
			if order != nil {
				tps = append(tps, *order)
			}
		}
	}

	return stop, tps, errors.Join(errs...)
}

// ClosePosition cancels every resting order on symbol and flattens any open
// position with a reduce-only market order bounded by the slippage band.
func (e *OrderExecutor) ClosePosition(ctx context.Context, symbol string, side signal.Side) (bool, error) {
	venueSymbol, err := e.gw.ConvertSymbol(symbol)
	if err != nil {
		return false, err
	}
	l := e.logger.With(zap.String("symbol", venueSymbol), zap.String("position_side", string(side)))

	if _, err := e.CancelOrders(ctx, symbol, "", ScopeAll); err != nil {
		l.Warn("Some orders could not be canceled before close", zap.Error(err))
	}

	pos, err := retry.Do(ctx, e.policy, "position", func(ctx context.Context) (float64, error) {
		return e.gw.Position(ctx, venueSymbol)
	})
	if err != nil {
		return false, fmt.Errorf("fetch position for %s: %w", venueSymbol, err)
	}
	if pos == 0 {
		l.Info("No open position to close")
		return true, nil
	}

	closeSide := Sell
	if pos < 0 {
		closeSide = Buy
	}
	size := math.Abs(pos)
	_, err = retry.Do(ctx, e.policy, "close_position", func(ctx context.Context) (*Order, error) {
		return e.gw.MarketClose(ctx, venueSymbol, closeSide, size, e.slippage)
	})
	if err != nil {
		l.Error("Failed to close position", zap.Float64("size", size), zap.Error(err))
		return false, err
	}
	l.Info("Position closed", zap.Float64("size", size), zap.String("close_side", string(closeSide)))
	return true, nil
}

// PositionSize returns the absolute size of the open position on symbol.
func (e *OrderExecutor) PositionSize(ctx context.Context, symbol string) (float64, error) {
	venueSymbol, err := e.gw.ConvertSymbol(symbol)
	if err != nil {
		return 0, err
	}
	pos, err := retry.Do(ctx, e.policy, "position", func(ctx context.Context) (float64, error) {
		return e.gw.Position(ctx, venueSymbol)
	})
	if err != nil {
		return 0, err
	}
	return math.Abs(pos), nil
}
