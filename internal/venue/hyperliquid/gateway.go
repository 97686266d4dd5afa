package hyperliquid

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"signal-trade-bot-go/internal/config"
	"signal-trade-bot-go/internal/symbol"
	"signal-trade-bot-go/internal/venue"
)

// Name is the venue name used in routes, counters and logs.
const Name = "hyperliquid"

// DefaultRule maps feed USDT pairs onto USDC-settled perpetuals.
var DefaultRule = symbol.Rule{Suffix: "/USDT", Replacement: "/USDC:USDC"}

// API is the subset of Client the gateway drives.
type API interface {
	Meta(ctx context.Context) (*Meta, error)
	OpenOrders(ctx context.Context) ([]OpenOrder, error)
	ClearinghouseState(ctx context.Context) (*ClearinghouseState, error)
	AllMids(ctx context.Context) (map[string]string, error)
	PlaceOrders(ctx context.Context, orders []orderWire) ([]orderStatus, error)
	Cancel(ctx context.Context, asset int, oid int64) error
}

var _ API = (*Client)(nil)

type assetInfo struct {
	index      int
	szDecimals int
}

// Gateway implements venue.Gateway for Hyperliquid perpetuals.
type Gateway struct {
	api        API
	normalizer *symbol.Normalizer
	logger     *zap.Logger

	// minNotional is the smallest value an entry order may carry.
	minNotional float64

	mu     sync.Mutex
	assets map[string]assetInfo
}

var _ venue.Gateway = (*Gateway)(nil)

// NewGateway wraps api with the symbol overrides from cfg.
func NewGateway(api API, cfg *config.Hyperliquid, logger *zap.Logger) *Gateway {
	return &Gateway{
		api:        api,
		normalizer: symbol.NewNormalizer(DefaultRule, cfg.SymbolOverrides),
		logger:     logger,
	}
}

// WithMinNotional makes entry orders round their size up when size
// rounding would take their value under v.
func (g *Gateway) WithMinNotional(v float64) *Gateway {
	g.minNotional = v
	return g
}

// NewExecutor builds a ready-to-use executor for one account.
func NewExecutor(cfg *config.Hyperliquid, creds Credentials, opts venue.Options, logger *zap.Logger) (*venue.OrderExecutor, error) {
	client, err := NewClient(cfg, creds, logger.Named(Name))
	if err != nil {
		return nil, err
	}
	gw := NewGateway(client, cfg, logger).WithMinNotional(opts.Sizer.MinNotional)
	return venue.NewOrderExecutor(gw, opts, logger), nil
}

func (g *Gateway) Name() string { return Name }

func (g *Gateway) ConvertSymbol(feedSymbol string) (string, error) {
	return g.normalizer.Convert(feedSymbol)
}

// asset resolves the coin of a unified symbol in the venue universe. The
// universe is fetched once and refreshed when a coin is unknown.
func (g *Gateway) asset(ctx context.Context, sym string) (string, assetInfo, error) {
	coin := symbol.Base(sym)
	g.mu.Lock()
	info, ok := g.assets[coin]
	g.mu.Unlock()
	if ok {
		return coin, info, nil
	}

	meta, err := g.api.Meta(ctx)
	if err != nil {
		return "", assetInfo{}, err
	}
	assets := make(map[string]assetInfo, len(meta.Universe))
	for i, a := range meta.Universe {
		assets[a.Name] = assetInfo{index: i, szDecimals: a.SzDecimals}
	}
	g.mu.Lock()
	g.assets = assets
	g.mu.Unlock()

	info, ok = assets[coin]
	if !ok {
		return "", assetInfo{}, fmt.Errorf("coin %s not listed on %s", coin, Name)
	}
	return coin, info, nil
}

func newCloid() string {
	id := uuid.New()
	return "0x" + common.Bytes2Hex(id[:])
}

func (g *Gateway) buildOrder(info assetInfo, side venue.OrderSide, size, price float64, reduceOnly bool) (orderWire, error) {
	px, err := formatPrice(price, info.szDecimals)
	if err != nil {
		return orderWire{}, err
	}
	sz, err := formatSize(size, info.szDecimals)
	if err != nil {
		return orderWire{}, err
	}
	return orderWire{
		Asset:      info.index,
		IsBuy:      side == venue.Buy,
		LimitPx:    px,
		Size:       sz,
		ReduceOnly: reduceOnly,
		Cloid:      newCloid(),
	}, nil
}

func (g *Gateway) submit(ctx context.Context, sym string, side venue.OrderSide, w orderWire) (*venue.Order, error) {
	statuses, err := g.api.PlaceOrders(ctx, []orderWire{w})
	if err != nil {
		return nil, err
	}
	if len(statuses) == 0 {
		return nil, fmt.Errorf("%w: empty order status", ErrRejected)
	}
	st := statuses[0]
	order := &venue.Order{
		ClientID:   w.Cloid,
		Symbol:     sym,
		Side:       side,
		Price:      parseFloat(w.LimitPx),
		Size:       parseFloat(w.Size),
		ReduceOnly: w.ReduceOnly,
		Trigger:    w.OrderType.Trigger != nil,
	}
	switch {
	case st.Error != "":
		return nil, fmt.Errorf("%w: %s", ErrRejected, st.Error)
	case st.Resting != nil:
		order.ID = strconv.FormatInt(st.Resting.Oid, 10)
		order.Status = "resting"
	case st.Filled != nil:
		order.ID = strconv.FormatInt(st.Filled.Oid, 10)
		order.Status = "filled"
	default:
		return nil, fmt.Errorf("%w: unrecognised order status", ErrRejected)
	}
	return order, nil
}

// LimitOrder places a good-til-cancelled limit order.
func (g *Gateway) LimitOrder(ctx context.Context, sym string, side venue.OrderSide, size, price float64) (*venue.Order, error) {
	_, info, err := g.asset(ctx, sym)
	if err != nil {
		return nil, err
	}
	w, err := g.buildOrder(info, side, size, price, false)
	if err != nil {
		return nil, err
	}
	w.Size = atLeastNotional(w.Size, w.LimitPx, g.minNotional, info.szDecimals)
	w.OrderType = orderTypeWire{Limit: &limitWire{Tif: "Gtc"}}
	return g.submit(ctx, sym, side, w)
}

// TriggerOrder places a reduce-only trigger limit order at triggerPrice.
func (g *Gateway) TriggerOrder(ctx context.Context, sym string, side venue.OrderSide, size, triggerPrice float64, kind venue.TriggerKind) (*venue.Order, error) {
	_, info, err := g.asset(ctx, sym)
	if err != nil {
		return nil, err
	}
	w, err := g.buildOrder(info, side, size, triggerPrice, true)
	if err != nil {
		return nil, err
	}
	w.OrderType = orderTypeWire{Trigger: &triggerWire{
		IsMarket:  false,
		TriggerPx: w.LimitPx,
		Tpsl:      string(kind),
	}}
	return g.submit(ctx, sym, side, w)
}

// MarketClose emulates a market order with an immediate-or-cancel limit
// priced slippage away from the mid.
func (g *Gateway) MarketClose(ctx context.Context, sym string, side venue.OrderSide, size, slippage float64) (*venue.Order, error) {
	coin, info, err := g.asset(ctx, sym)
	if err != nil {
		return nil, err
	}
	mids, err := g.api.AllMids(ctx)
	if err != nil {
		return nil, err
	}
	mid := parseFloat(mids[coin])
	if mid <= 0 {
		return nil, fmt.Errorf("no mid price for %s", coin)
	}
	price := mid * (1 - slippage)
	if side == venue.Buy {
		price = mid * (1 + slippage)
	}
	w, err := g.buildOrder(info, side, size, price, true)
	if err != nil {
		return nil, err
	}
	w.OrderType = orderTypeWire{Limit: &limitWire{Tif: "Ioc"}}
	return g.submit(ctx, sym, side, w)
}

// OpenOrders lists resting orders for the symbol's coin.
func (g *Gateway) OpenOrders(ctx context.Context, sym string) ([]venue.Order, error) {
	coin := symbol.Base(sym)
	raw, err := g.api.OpenOrders(ctx)
	if err != nil {
		return nil, err
	}
	var out []venue.Order
	for _, o := range raw {
		if !strings.EqualFold(o.Coin, coin) {
			continue
		}
		side := venue.Sell
		if o.Side == "B" {
			side = venue.Buy
		}
		out = append(out, venue.Order{
			ID:         strconv.FormatInt(o.Oid, 10),
			Symbol:     sym,
			Side:       side,
			Price:      parseFloat(o.LimitPx),
			Size:       parseFloat(o.Sz),
			ReduceOnly: o.ReduceOnly,
			Trigger:    o.IsTrigger,
			Status:     "open",
		})
	}
	return out, nil
}

// CancelOrder cancels order by its venue id.
func (g *Gateway) CancelOrder(ctx context.Context, sym string, order venue.Order) error {
	_, info, err := g.asset(ctx, sym)
	if err != nil {
		return err
	}
	oid, err := strconv.ParseInt(order.ID, 10, 64)
	if err != nil {
		return fmt.Errorf("order id %q: %w", order.ID, err)
	}
	return g.api.Cancel(ctx, info.index, oid)
}

// Position returns the signed size of the position in the symbol's coin.
func (g *Gateway) Position(ctx context.Context, sym string) (float64, error) {
	coin := symbol.Base(sym)
	state, err := g.api.ClearinghouseState(ctx)
	if err != nil {
		return 0, err
	}
	for _, p := range state.AssetPositions {
		if strings.EqualFold(p.Position.Coin, coin) {
			return parseFloat(p.Position.Szi), nil
		}
	}
	return 0, nil
}
