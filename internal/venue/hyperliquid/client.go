package hyperliquid

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"signal-trade-bot-go/internal/config"
)

const (
	mainnetURL = "https://api.hyperliquid.xyz"
	testnetURL = "https://api.hyperliquid-testnet.xyz"
)

// ErrRejected is returned when the exchange answers with status "err" or a
// per-order error.
var ErrRejected = errors.New("hyperliquid rejected request")

// Credentials identify one trading account. PrivateKey signs actions; the
// subaccount, when set, is traded on behalf of and queried for state.
type Credentials struct {
	AccountAddress string
	PrivateKey     string
	Subaccount     string
}

// Client is a client for the Hyperliquid info and exchange endpoints.
type Client struct {
	client  *resty.Client
	logger  *zap.Logger
	limiter *rate.Limiter
	key     *ecdsa.PrivateKey
	account string
	vault   string
	mainnet bool

	nonceMu   sync.Mutex
	lastNonce int64
	now       func() time.Time
}

// NewClient creates a new Hyperliquid client for one account.
func NewClient(cfg *config.Hyperliquid, creds Credentials, logger *zap.Logger) (*Client, error) {
	key, err := parsePrivateKey(creds.PrivateKey)
	if err != nil {
		return nil, err
	}

	url := cfg.BaseURL
	switch {
	case cfg.Testnet && (url == "" || url == mainnetURL):
		url = testnetURL
		logger.Warn("Using Hyperliquid Testnet")
	case url == "":
		url = mainnetURL
	}

	account := creds.AccountAddress
	if account == "" {
		account = crypto.PubkeyToAddress(key.PublicKey).Hex()
	}

	return &Client{
		client:  resty.New().SetBaseURL(url).SetHeader("Content-Type", "application/json"),
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst),
		key:     key,
		account: account,
		vault:   strings.TrimSpace(creds.Subaccount),
		mainnet: !cfg.Testnet,
		now:     time.Now,
	}, nil
}

// User is the address whose orders and positions are queried: the
// subaccount when trading one, the main account otherwise.
func (c *Client) User() string {
	if c.vault != "" {
		return c.vault
	}
	return c.account
}

// Meta fetches the perpetual universe.
func (c *Client) Meta(ctx context.Context) (*Meta, error) {
	var out Meta
	if err := c.info(ctx, map[string]any{"type": "meta"}, &out); err != nil {
		return nil, fmt.Errorf("failed to get meta: %w", err)
	}
	return &out, nil
}

// OpenOrders fetches the resting orders of the traded account.
func (c *Client) OpenOrders(ctx context.Context) ([]OpenOrder, error) {
	var out []OpenOrder
	req := map[string]any{"type": "frontendOpenOrders", "user": c.User()}
	if err := c.info(ctx, req, &out); err != nil {
		return nil, fmt.Errorf("failed to get open orders: %w", err)
	}
	return out, nil
}

// ClearinghouseState fetches positions of the traded account.
func (c *Client) ClearinghouseState(ctx context.Context) (*ClearinghouseState, error) {
	var out ClearinghouseState
	req := map[string]any{"type": "clearinghouseState", "user": c.User()}
	if err := c.info(ctx, req, &out); err != nil {
		return nil, fmt.Errorf("failed to get clearinghouse state: %w", err)
	}
	return &out, nil
}

// AllMids fetches mid prices keyed by coin.
func (c *Client) AllMids(ctx context.Context) (map[string]string, error) {
	out := map[string]string{}
	if err := c.info(ctx, map[string]any{"type": "allMids"}, &out); err != nil {
		return nil, fmt.Errorf("failed to get mids: %w", err)
	}
	return out, nil
}

// PlaceOrders submits a batch of orders and returns one status per order.
func (c *Client) PlaceOrders(ctx context.Context, orders []orderWire) ([]orderStatus, error) {
	action := orderAction{Type: "order", Orders: orders, Grouping: "na"}
	raw, err := c.exchange(ctx, action)
	if err != nil {
		return nil, err
	}
	statuses := make([]orderStatus, 0, len(raw))
	for _, r := range raw {
		var st orderStatus
		if err := json.Unmarshal(r, &st); err != nil {
			return nil, fmt.Errorf("decode order status %s: %w", string(r), err)
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}

// Cancel cancels one order by asset index and order id.
func (c *Client) Cancel(ctx context.Context, asset int, oid int64) error {
	action := cancelAction{Type: "cancel", Cancels: []cancelWire{{Asset: asset, Oid: oid}}}
	raw, err := c.exchange(ctx, action)
	if err != nil {
		return err
	}
	for _, r := range raw {
		var s string
		if json.Unmarshal(r, &s) == nil {
			if s == "success" {
				continue
			}
			return fmt.Errorf("%w: cancel %d: %s", ErrRejected, oid, s)
		}
		var st orderStatus
		if err := json.Unmarshal(r, &st); err == nil && st.Error != "" {
			return fmt.Errorf("%w: cancel %d: %s", ErrRejected, oid, st.Error)
		}
	}
	return nil
}

func (c *Client) info(ctx context.Context, body any, out any) error {
	req := c.client.R().SetContext(ctx).SetBody(body).SetResult(out)
	_, err := c.doRequest(ctx, "/info", req)
	return err
}

// exchange signs and submits an action, returning the raw per-item statuses.
func (c *Client) exchange(ctx context.Context, action any) ([]json.RawMessage, error) {
	nonce := c.nextNonce()
	sig, err := signL1Action(c.key, action, c.vault, nonce, c.mainnet)
	if err != nil {
		return nil, fmt.Errorf("sign action: %w", err)
	}
	payload := exchangeRequest{Action: action, Nonce: nonce, Signature: sig}
	if c.vault != "" {
		v := c.vault
		payload.VaultAddress = &v
	}

	var out exchangeResponse
	req := c.client.R().SetContext(ctx).SetBody(payload).SetResult(&out)
	if _, err := c.doRequest(ctx, "/exchange", req); err != nil {
		return nil, err
	}

	if out.Status != "ok" {
		var msg string
		if json.Unmarshal(out.Response, &msg) != nil {
			msg = string(out.Response)
		}
		return nil, fmt.Errorf("%w: %s", ErrRejected, msg)
	}
	var data statusesData
	if err := json.Unmarshal(out.Response, &data); err != nil {
		return nil, fmt.Errorf("decode exchange response: %w", err)
	}
	return data.Data.Statuses, nil
}

// nextNonce returns a millisecond timestamp strictly greater than the last
// one handed out, so concurrent actions never share a nonce.
func (c *Client) nextNonce() int64 {
	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()
	n := c.now().UnixMilli()
	if n <= c.lastNonce {
		n = c.lastNonce + 1
	}
	c.lastNonce = n
	return n
}

// doRequest executes a POST with rate limiting. Retrying is left to the
// caller's retry policy.
func (c *Client) doRequest(ctx context.Context, path string, req *resty.Request) (*resty.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	c.logger.Debug("Executing request", zap.String("url", c.client.BaseURL+path))
	resp, err := req.Post(path)
	if err != nil {
		return nil, fmt.Errorf("request %s failed: %w", path, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("request %s failed with status %s: %s", path, resp.Status(), resp.String())
	}
	return resp, nil
}
