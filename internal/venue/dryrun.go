package venue

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"signal-trade-bot-go/internal/signal"
	"signal-trade-bot-go/internal/sizing"
)

// DryRun is an Executor that sizes and logs every action without touching a
// venue. Placed orders get synthetic ids and are reported as resting.
type DryRun struct {
	name   string
	sizer  sizing.Sizer
	logger *zap.Logger
}

// NewDryRun wraps the venue called name.
func NewDryRun(name string, sizer sizing.Sizer, logger *zap.Logger) *DryRun {
	return &DryRun{name: name, sizer: sizer, logger: logger.Named("dry-run").With(zap.String("venue", name))}
}

var _ Executor = (*DryRun)(nil)

func (d *DryRun) Venue() string {
	return d.name
}

func (d *DryRun) order(symbol string, side OrderSide, size, price float64, reduceOnly, trigger bool) Order {
	return Order{
		ID:         "dry-" + uuid.NewString(),
		Symbol:     symbol,
		Side:       side,
		Price:      price,
		Size:       size,
		ReduceOnly: reduceOnly,
		Trigger:    trigger,
		Status:     "resting",
	}
}

func (d *DryRun) PlaceEntries(_ context.Context, req EntryRequest) ([]Order, error) {
	size, err := d.sizer.Size(req.Entries, req.StopLoss, req.Risk)
	if err != nil {
		return nil, err
	}
	side := OpeningSide(req.Side)
	orders := make([]Order, 0, len(req.Entries))
	for _, px := range req.Entries {
		orders = append(orders, d.order(req.Symbol, side, size.PerEntry, px, false, false))
	}
	d.logger.Warn("[Dry Run] Simulating entry orders",
		zap.String("symbol", req.Symbol), zap.Int("count", len(orders)), zap.Float64("size", size.PerEntry))
	return orders, nil
}

func (d *DryRun) CancelOrders(_ context.Context, symbol string, side signal.Side, scope Scope) (int, error) {
	d.logger.Warn("[Dry Run] Simulating cancel", zap.String("symbol", symbol), zap.String("side", string(side)), zap.Int("scope", int(scope)))
	return 0, nil
}

func (d *DryRun) SetStopTakeProfit(_ context.Context, req ProtectionRequest) (*Order, []Order, error) {
	if req.Size <= 0 {
		return nil, nil, ErrNoPositionSize
	}
	side := ClosingSide(req.Side)
	var stop *Order
	if req.StopLoss != nil {
		o := d.order(req.Symbol, side, req.Size, *req.StopLoss, true, true)
		stop = &o
	}
	var tps []Order
	for _, tp := range req.TakeProfits {
		tps = append(tps, d.order(req.Symbol, side, req.Size/float64(len(req.TakeProfits)), tp, true, true))
	}
	d.logger.Warn("[Dry Run] Simulating stop/take-profit", zap.String("symbol", req.Symbol), zap.Int("take_profits", len(tps)))
	return stop, tps, nil
}

func (d *DryRun) ClosePosition(_ context.Context, symbol string, side signal.Side) (bool, error) {
	d.logger.Warn("[Dry Run] Simulating close", zap.String("symbol", symbol), zap.String("side", string(side)))
	return true, nil
}

func (d *DryRun) PositionSize(context.Context, string) (float64, error) {
	return 0, nil
}
