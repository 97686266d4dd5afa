package bybit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"signal-trade-bot-go/internal/config"
)

const (
	mainnetURL = "https://api.bybit.com"
	testnetURL = "https://api-testnet.bybit.com"
)

// ErrRejected is returned when a response carries a non-zero retCode.
var ErrRejected = errors.New("bybit rejected request")

// Credentials hold one API key pair.
type Credentials struct {
	APIKey    string
	APISecret string
}

type envelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// CreateOrderRequest is the body of /v5/order/create.
type CreateOrderRequest struct {
	Category              string `json:"category"`
	Symbol                string `json:"symbol"`
	Side                  string `json:"side"`
	OrderType             string `json:"orderType"`
	Qty                   string `json:"qty"`
	Price                 string `json:"price,omitempty"`
	TimeInForce           string `json:"timeInForce,omitempty"`
	OrderLinkID           string `json:"orderLinkId,omitempty"`
	ReduceOnly            bool   `json:"reduceOnly,omitempty"`
	TriggerPrice          string `json:"triggerPrice,omitempty"`
	TriggerDirection      int    `json:"triggerDirection,omitempty"`
	TriggerBy             string `json:"triggerBy,omitempty"`
	SlippageToleranceType string `json:"slippageToleranceType,omitempty"`
	SlippageTolerance     string `json:"slippageTolerance,omitempty"`
}

// OrderResult is returned by order create and cancel.
type OrderResult struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
}

// OpenOrder is one row of /v5/order/realtime.
type OpenOrder struct {
	OrderID       string `json:"orderId"`
	OrderLinkID   string `json:"orderLinkId"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Price         string `json:"price"`
	Qty           string `json:"qty"`
	ReduceOnly    bool   `json:"reduceOnly"`
	TriggerPrice  string `json:"triggerPrice"`
	StopOrderType string `json:"stopOrderType"`
	OrderStatus   string `json:"orderStatus"`
}

// Position is one row of /v5/position/list.
type Position struct {
	Symbol string `json:"symbol"`
	Side   string `json:"side"`
	Size   string `json:"size"`
}

// Instrument is one row of /v5/market/instruments-info.
type Instrument struct {
	Symbol        string `json:"symbol"`
	LotSizeFilter struct {
		QtyStep     string `json:"qtyStep"`
		MinOrderQty string `json:"minOrderQty"`
	} `json:"lotSizeFilter"`
	PriceFilter struct {
		TickSize string `json:"tickSize"`
	} `json:"priceFilter"`
}

type listResult[T any] struct {
	List []T `json:"list"`
}

// Client is a client for the Bybit v5 REST API.
type Client struct {
	client     *resty.Client
	apiKey     string
	secretKey  string
	category   string
	recvWindow string
	logger     *zap.Logger
	limiter    *rate.Limiter
	now        func() time.Time
}

// NewClient creates a new Bybit client for one API key.
func NewClient(cfg *config.Bybit, creds Credentials, logger *zap.Logger) *Client {
	url := cfg.BaseURL
	switch {
	case cfg.Testnet && (url == "" || url == mainnetURL):
		url = testnetURL
		logger.Warn("Using Bybit Testnet")
	case url == "":
		url = mainnetURL
	}
	category := cfg.Category
	if category == "" {
		category = "linear"
	}
	recv := cfg.RecvWindow
	if recv <= 0 {
		recv = 5000
	}

	return &Client{
		client:     resty.New().SetBaseURL(url),
		apiKey:     creds.APIKey,
		secretKey:  creds.APISecret,
		category:   category,
		recvWindow: strconv.Itoa(recv),
		logger:     logger,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst),
		now:        time.Now,
	}
}

// sign creates the HMAC-SHA256 signature over timestamp, key, window and payload.
func (c *Client) sign(timestamp, payload string) string {
	h := hmac.New(sha256.New, []byte(c.secretKey))
	h.Write([]byte(timestamp + c.apiKey + c.recvWindow + payload))
	return hex.EncodeToString(h.Sum(nil))
}

// CreateOrder places an order.
func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (*OrderResult, error) {
	req.Category = c.category
	var out OrderResult
	if err := c.post(ctx, "/v5/order/create", req, &out); err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	return &out, nil
}

// CancelOrder cancels an order by id.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	body := map[string]string{"category": c.category, "symbol": symbol, "orderId": orderID}
	if err := c.post(ctx, "/v5/order/cancel", body, &OrderResult{}); err != nil {
		return fmt.Errorf("failed to cancel order %s: %w", orderID, err)
	}
	return nil
}

// OpenOrders lists active and untriggered conditional orders for symbol.
func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error) {
	var out listResult[OpenOrder]
	q := url.Values{"category": {c.category}, "symbol": {symbol}}
	if err := c.get(ctx, "/v5/order/realtime", q, &out); err != nil {
		return nil, fmt.Errorf("failed to get open orders: %w", err)
	}
	return out.List, nil
}

// Positions lists positions for symbol.
func (c *Client) Positions(ctx context.Context, symbol string) ([]Position, error) {
	var out listResult[Position]
	q := url.Values{"category": {c.category}, "symbol": {symbol}}
	if err := c.get(ctx, "/v5/position/list", q, &out); err != nil {
		return nil, fmt.Errorf("failed to get positions: %w", err)
	}
	return out.List, nil
}

// Instrument fetches the trading rules of symbol.
func (c *Client) Instrument(ctx context.Context, symbol string) (*Instrument, error) {
	var out listResult[Instrument]
	q := url.Values{"category": {c.category}, "symbol": {symbol}}
	if err := c.get(ctx, "/v5/market/instruments-info", q, &out); err != nil {
		return nil, fmt.Errorf("failed to get instrument: %w", err)
	}
	if len(out.List) == 0 {
		return nil, fmt.Errorf("instrument %s not found", symbol)
	}
	return &out.List[0], nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	qs := q.Encode()
	req := c.client.R().SetContext(ctx).SetQueryString(qs)
	return c.doRequest(ctx, http.MethodGet, path, qs, req, out)
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req := c.client.R().SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(raw)
	return c.doRequest(ctx, http.MethodPost, path, string(raw), req, out)
}

// doRequest signs and executes the request with rate limiting, then unwraps
// the response envelope into out. Retrying is left to the caller.
func (c *Client) doRequest(ctx context.Context, method, path, payload string, req *resty.Request, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}

	ts := strconv.FormatInt(c.now().UnixMilli(), 10)
	req.SetHeader("X-BAPI-API-KEY", c.apiKey).
		SetHeader("X-BAPI-TIMESTAMP", ts).
		SetHeader("X-BAPI-RECV-WINDOW", c.recvWindow).
		SetHeader("X-BAPI-SIGN", c.sign(ts, payload))

	c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.client.BaseURL+path))
	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("request %s failed: %w", path, err)
	}
	if resp.IsError() {
		return fmt.Errorf("request %s failed with status %s: %s", path, resp.Status(), resp.String())
	}

	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	if env.RetCode != 0 {
		return fmt.Errorf("%w: %d %s", ErrRejected, env.RetCode, env.RetMsg)
	}
	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", path, err)
		}
	}
	return nil
}
