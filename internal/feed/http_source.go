package feed

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"signal-trade-bot-go/internal/config"
)

// HTTPSource reads channels from the scraping service over HTTP.
type HTTPSource struct {
	client        *resty.Client
	activeChannel string
	updateChannel string
	logger        *zap.Logger
}

var _ Source = (*HTTPSource)(nil)

// NewHTTPSource creates a source for the channels named in cfg.
func NewHTTPSource(cfg *config.Feed, logger *zap.Logger) *HTTPSource {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPSource{
		client:        resty.New().SetBaseURL(cfg.BaseURL).SetTimeout(timeout),
		activeChannel: cfg.ActiveTradesChannel,
		updateChannel: cfg.TradeUpdatesChannel,
		logger:        logger,
	}
}

func (s *HTTPSource) channel(ctx context.Context, name string) ([]Message, error) {
	var out []Message
	path := "/channels/" + url.PathEscape(name) + "/messages"
	resp, err := s.client.R().SetContext(ctx).SetResult(&out).Get(path)
	if err != nil {
		return nil, fmt.Errorf("fetch channel %s: %w", name, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch channel %s failed with status %s", name, resp.Status())
	}
	s.logger.Debug("Fetched channel", zap.String("channel", name), zap.Int("messages", len(out)))
	return out, nil
}

// ActiveTrades lists the visible blocks of the active-trades channel.
func (s *HTTPSource) ActiveTrades(ctx context.Context) ([]Item, error) {
	msgs, err := s.channel(ctx, s.activeChannel)
	if err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(msgs))
	for _, m := range msgs {
		if m.URL == "" {
			continue
		}
		items = append(items, Item{URL: m.URL, Text: m.Text})
	}
	return items, nil
}

// TradeUpdates lists the visible posts of the trade-updates channel.
func (s *HTTPSource) TradeUpdates(ctx context.Context) ([]Message, error) {
	return s.channel(ctx, s.updateChannel)
}

// Trade fetches the current text of one signal.
func (s *HTTPSource) Trade(ctx context.Context, link string) (Item, error) {
	var out Item
	resp, err := s.client.R().SetContext(ctx).
		SetQueryParam("url", link).
		SetResult(&out).
		Get("/messages")
	if err != nil {
		return Item{}, fmt.Errorf("fetch trade %s: %w", link, err)
	}
	if resp.IsError() {
		return Item{}, fmt.Errorf("fetch trade %s failed with status %s", link, resp.Status())
	}
	if out.URL == "" {
		out.URL = link
	}
	return out, nil
}
