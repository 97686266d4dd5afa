package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte(body), 0o644))
	return dir
}

func TestLoadConfig_Defaults(t *testing.T) {
	dir := writeConfig(t, `
feed:
  base_url: "http://feed"
  followed_traders: ["Perdu"]
traders:
  - name: "Perdu"
    venue: "hyperliquid"
    account: 1
`)
	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, "hash", cfg.Feed.Dedup)
	assert.Equal(t, 60, cfg.Feed.PollInterval)
	assert.Equal(t, 1.0, cfg.Trading.RiskPerTrade)
	assert.Equal(t, 10.0, cfg.Trading.MinNotional)
	assert.Equal(t, 0.20, cfg.Trading.CloseSlippage)
	assert.Equal(t, "linear", cfg.Bybit.Category)
	assert.Equal(t, "data/ledger.json", cfg.Ledger.Path)
	assert.Equal(t, []string{"Perdu"}, cfg.Feed.FollowedTraders)
	require.Len(t, cfg.Traders, 1)
	assert.Equal(t, Route{Name: "Perdu", Venue: VenueHyperliquid, Account: 1}, cfg.Traders[0])
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	dir := writeConfig(t, "feed:\n  poll_interval: 30\n")
	t.Setenv("FEED_POLL_INTERVAL", "5")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Feed.PollInterval)
}

func TestLoadConfig_SymbolOverrides(t *testing.T) {
	dir := writeConfig(t, `
bybit:
  symbol_overrides:
    - from: "1000PEPE/USDT"
      to: "1000PEPEUSDT"
`)
	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	require.Len(t, cfg.Bybit.SymbolOverrides, 1)
	assert.Equal(t, "1000PEPEUSDT", cfg.Bybit.SymbolOverrides[0].To)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(t.TempDir())
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Feed:    Feed{Dedup: "seen_set", PollInterval: 1},
			Trading: Trading{RiskPerTrade: 1, MinNotional: 10},
			Traders: []Route{{Name: "A", Venue: VenueBybit, Account: 1}},
		}
	}
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"unknown dedup", func(c *Config) { c.Feed.Dedup = "bloom" }, "feed.dedup"},
		{"zero interval", func(c *Config) { c.Feed.PollInterval = 0 }, "poll_interval"},
		{"negative risk", func(c *Config) { c.Trading.RiskPerTrade = -1 }, "risk_per_trade"},
		{"zero min notional", func(c *Config) { c.Trading.MinNotional = 0 }, "min_notional"},
		{"unknown venue", func(c *Config) { c.Traders[0].Venue = "binance" }, "unknown venue"},
		{"zero account", func(c *Config) { c.Traders[0].Account = 0 }, "account"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
