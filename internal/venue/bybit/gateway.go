package bybit

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"signal-trade-bot-go/internal/config"
	"signal-trade-bot-go/internal/symbol"
	"signal-trade-bot-go/internal/venue"
)

// Name is the venue name used in routes, counters and logs.
const Name = "bybit"

// DefaultRule maps feed pairs such as "BTC/USDT" onto linear symbols "BTCUSDT".
var DefaultRule = symbol.Rule{Suffix: "/USDT", Replacement: "USDT"}

// maxSlippagePercent is the largest percent slippage tolerance accepted on
// market orders.
const maxSlippagePercent = 10.0

// API is the subset of Client the gateway drives.
type API interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*OrderResult, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	OpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error)
	Positions(ctx context.Context, symbol string) ([]Position, error)
	Instrument(ctx context.Context, symbol string) (*Instrument, error)
}

var _ API = (*Client)(nil)

type rules struct {
	qtyStep  decimal.Decimal
	minQty   decimal.Decimal
	tickSize decimal.Decimal
}

// Gateway implements venue.Gateway for Bybit linear perpetuals.
type Gateway struct {
	api        API
	normalizer *symbol.Normalizer
	logger     *zap.Logger

	// minNotional is the smallest value an entry order may carry.
	minNotional decimal.Decimal

	mu    sync.Mutex
	rules map[string]rules
}

var _ venue.Gateway = (*Gateway)(nil)

// NewGateway wraps api with the symbol overrides from cfg.
func NewGateway(api API, cfg *config.Bybit, logger *zap.Logger) *Gateway {
	return &Gateway{
		api:        api,
		normalizer: symbol.NewNormalizer(DefaultRule, cfg.SymbolOverrides),
		logger:     logger,
		rules:      map[string]rules{},
	}
}

// WithMinNotional makes entry orders round their size up instead of down
// when lot rounding would take their value under v.
func (g *Gateway) WithMinNotional(v float64) *Gateway {
	g.minNotional = decimal.NewFromFloat(v)
	return g
}

// NewExecutor builds a ready-to-use executor for one API key.
func NewExecutor(cfg *config.Bybit, creds Credentials, opts venue.Options, logger *zap.Logger) *venue.OrderExecutor {
	client := NewClient(cfg, creds, logger.Named(Name))
	gw := NewGateway(client, cfg, logger).WithMinNotional(opts.Sizer.MinNotional)
	return venue.NewOrderExecutor(gw, opts, logger)
}

func (g *Gateway) Name() string { return Name }

func (g *Gateway) ConvertSymbol(feedSymbol string) (string, error) {
	return g.normalizer.Convert(feedSymbol)
}

func (g *Gateway) rulesFor(ctx context.Context, sym string) (rules, error) {
	g.mu.Lock()
	r, ok := g.rules[sym]
	g.mu.Unlock()
	if ok {
		return r, nil
	}

	inst, err := g.api.Instrument(ctx, sym)
	if err != nil {
		return rules{}, err
	}
	r = rules{
		qtyStep:  parseDecimal(inst.LotSizeFilter.QtyStep),
		minQty:   parseDecimal(inst.LotSizeFilter.MinOrderQty),
		tickSize: parseDecimal(inst.PriceFilter.TickSize),
	}
	g.mu.Lock()
	g.rules[sym] = r
	g.mu.Unlock()
	return r, nil
}

// qty rounds size down to the lot step.
func (r rules) qty(size float64) (string, error) {
	q := decimal.NewFromFloat(size)
	if r.qtyStep.IsPositive() {
		q = q.Div(r.qtyStep).Floor().Mul(r.qtyStep)
	}
	if !q.IsPositive() || q.LessThan(r.minQty) {
		return "", fmt.Errorf("size %v below minimum order quantity %s", size, r.minQty)
	}
	return q.String(), nil
}

// entryQty is qty, except that a size whose floored value at px falls under
// minNotional is rounded up to the next lot step.
func (r rules) entryQty(size float64, px string, minNotional decimal.Decimal) (string, error) {
	q, err := r.qty(size)
	if err != nil || !minNotional.IsPositive() || !r.qtyStep.IsPositive() {
		return q, err
	}
	price, err := decimal.NewFromString(px)
	if err != nil || !price.IsPositive() {
		return q, nil
	}
	if decimal.RequireFromString(q).Mul(price).GreaterThanOrEqual(minNotional) {
		return q, nil
	}
	return minNotional.Div(price).Div(r.qtyStep).Ceil().Mul(r.qtyStep).String(), nil
}

// price rounds px to the nearest tick.
func (r rules) price(px float64) (string, error) {
	p := decimal.NewFromFloat(px)
	if r.tickSize.IsPositive() {
		p = p.Div(r.tickSize).Round(0).Mul(r.tickSize)
	}
	if !p.IsPositive() {
		return "", fmt.Errorf("price %v rounds to zero", px)
	}
	return p.String(), nil
}

func sideString(s venue.OrderSide) string {
	if s == venue.Buy {
		return "Buy"
	}
	return "Sell"
}

func orderSide(s string) venue.OrderSide {
	if s == "Buy" {
		return venue.Buy
	}
	return venue.Sell
}

// triggerDirection is 1 when the trigger fires on a rise, 2 on a fall. A sell
// stop on a long fires on a fall, a sell take-profit on a rise.
func triggerDirection(side venue.OrderSide, kind venue.TriggerKind) int {
	rises := kind == venue.TriggerTakeProfit
	if side == venue.Buy {
		rises = !rises
	}
	if rises {
		return 1
	}
	return 2
}

func (g *Gateway) create(ctx context.Context, sym string, side venue.OrderSide, req CreateOrderRequest) (*venue.Order, error) {
	req.Symbol = sym
	req.Side = sideString(side)
	req.OrderLinkID = uuid.NewString()
	res, err := g.api.CreateOrder(ctx, req)
	if err != nil {
		return nil, err
	}
	return &venue.Order{
		ID:         res.OrderID,
		ClientID:   req.OrderLinkID,
		Symbol:     sym,
		Side:       side,
		Price:      parseFloat(req.Price),
		Size:       parseFloat(req.Qty),
		ReduceOnly: req.ReduceOnly,
		Trigger:    req.TriggerPrice != "",
		Status:     "new",
	}, nil
}

// LimitOrder places a good-til-cancelled limit order.
func (g *Gateway) LimitOrder(ctx context.Context, sym string, side venue.OrderSide, size, price float64) (*venue.Order, error) {
	r, err := g.rulesFor(ctx, sym)
	if err != nil {
		return nil, err
	}
	px, err := r.price(price)
	if err != nil {
		return nil, err
	}
	qty, err := r.entryQty(size, px, g.minNotional)
	if err != nil {
		return nil, err
	}
	return g.create(ctx, sym, side, CreateOrderRequest{
		OrderType:   "Limit",
		Qty:         qty,
		Price:       px,
		TimeInForce: "GTC",
	})
}

// TriggerOrder places a reduce-only conditional limit order at triggerPrice.
func (g *Gateway) TriggerOrder(ctx context.Context, sym string, side venue.OrderSide, size, triggerPrice float64, kind venue.TriggerKind) (*venue.Order, error) {
	r, err := g.rulesFor(ctx, sym)
	if err != nil {
		return nil, err
	}
	qty, err := r.qty(size)
	if err != nil {
		return nil, err
	}
	px, err := r.price(triggerPrice)
	if err != nil {
		return nil, err
	}
	return g.create(ctx, sym, side, CreateOrderRequest{
		OrderType:        "Limit",
		Qty:              qty,
		Price:            px,
		TimeInForce:      "GTC",
		ReduceOnly:       true,
		TriggerPrice:     px,
		TriggerDirection: triggerDirection(side, kind),
		TriggerBy:        "LastPrice",
	})
}

// MarketClose sends a reduce-only market order bounded by a percent slippage
// tolerance.
func (g *Gateway) MarketClose(ctx context.Context, sym string, side venue.OrderSide, size, slippage float64) (*venue.Order, error) {
	r, err := g.rulesFor(ctx, sym)
	if err != nil {
		return nil, err
	}
	qty, err := r.qty(size)
	if err != nil {
		return nil, err
	}
	pct := math.Min(slippage*100, maxSlippagePercent)
	return g.create(ctx, sym, side, CreateOrderRequest{
		OrderType:             "Market",
		Qty:                   qty,
		ReduceOnly:            true,
		SlippageToleranceType: "Percent",
		SlippageTolerance:     decimal.NewFromFloat(pct).Round(2).String(),
	})
}

// OpenOrders lists active and untriggered orders on sym.
func (g *Gateway) OpenOrders(ctx context.Context, sym string) ([]venue.Order, error) {
	raw, err := g.api.OpenOrders(ctx, sym)
	if err != nil {
		return nil, err
	}
	out := make([]venue.Order, 0, len(raw))
	for _, o := range raw {
		trigger := o.StopOrderType != "" || parseFloat(o.TriggerPrice) > 0
		out = append(out, venue.Order{
			ID:         o.OrderID,
			ClientID:   o.OrderLinkID,
			Symbol:     o.Symbol,
			Side:       orderSide(o.Side),
			Price:      parseFloat(o.Price),
			Size:       parseFloat(o.Qty),
			ReduceOnly: o.ReduceOnly,
			Trigger:    trigger,
			Status:     o.OrderStatus,
		})
	}
	return out, nil
}

// CancelOrder cancels order by its venue id.
func (g *Gateway) CancelOrder(ctx context.Context, sym string, order venue.Order) error {
	return g.api.CancelOrder(ctx, sym, order.ID)
}

// Position returns the signed size of the position on sym.
func (g *Gateway) Position(ctx context.Context, sym string) (float64, error) {
	positions, err := g.api.Positions(ctx, sym)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, p := range positions {
		size := parseFloat(p.Size)
		if p.Side == "Sell" {
			size = -size
		}
		total += size
	}
	return total, nil
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
