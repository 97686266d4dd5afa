package trader

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"signal-trade-bot-go/internal/config"
	"signal-trade-bot-go/internal/retry"
	"signal-trade-bot-go/internal/sizing"
	"signal-trade-bot-go/internal/venue"
	"signal-trade-bot-go/internal/venue/bybit"
	"signal-trade-bot-go/internal/venue/hyperliquid"
)

// EnvFunc looks up an environment variable; os.Getenv in production.
type EnvFunc func(key string) string

// BuildRegistry creates one executor per (venue, account) referenced by the
// trader routes and registers it for every trader routed to it. A route whose
// credentials are missing is skipped with a warning.
func BuildRegistry(cfg *config.Config, logger *zap.Logger, env EnvFunc) *venue.Registry {
	if env == nil {
		env = os.Getenv
	}
	sizer := sizing.Sizer{
		MinNotional:        cfg.Trading.MinNotional,
		FallbackOnZeroStop: cfg.Trading.DegenerateStopFallback,
	}
	opts := venue.Options{
		Sizer:    sizer,
		Policy:   retry.NewPolicy(logger.Named("retry")),
		Slippage: cfg.Trading.CloseSlippage,
	}

	registry := venue.NewRegistry()
	clients := map[string]venue.Executor{}
	for _, route := range cfg.Traders {
		l := logger.With(zap.String("trader", route.Name), zap.String("venue", route.Venue), zap.Int("account", route.Account))
		key := fmt.Sprintf("%s/%d", route.Venue, route.Account)

		ex, ok := clients[key]
		if !ok {
			var err error
			ex, err = newExecutor(cfg, route, opts, logger, env)
			if err != nil {
				l.Warn("Skipping trader, venue client unavailable", zap.Error(err))
				continue
			}
			clients[key] = ex
			l.Info("Venue client initialised")
		}
		registry.Register(route.Name, ex)
	}

	for _, t := range cfg.Feed.FollowedTraders {
		if len(registry.Executors(t)) == 0 {
			logger.Warn("Followed trader has no venue route", zap.String("trader", t))
		}
	}
	return registry
}

func newExecutor(cfg *config.Config, route config.Route, opts venue.Options, logger *zap.Logger, env EnvFunc) (venue.Executor, error) {
	if cfg.Trading.DryRun {
		return venue.NewDryRun(route.Venue, opts.Sizer, logger), nil
	}
	n := route.Account
	switch route.Venue {
	case config.VenueHyperliquid:
		creds := hyperliquid.Credentials{
			AccountAddress: lookupNumbered(env, "HYPERLIQUID_ACCOUNT_ADDRESS", n),
			PrivateKey:     lookupNumbered(env, "HYPERLIQUID_PRIVATE_KEY", n),
			Subaccount:     lookupNumbered(env, "HYPERLIQUID_SUBACCOUNT", n),
		}
		if creds.PrivateKey == "" {
			return nil, fmt.Errorf("HYPERLIQUID_PRIVATE_KEY_%d is not set", n)
		}
		return hyperliquid.NewExecutor(&cfg.Hyperliquid, creds, opts, logger)
	case config.VenueBybit:
		creds := bybit.Credentials{
			APIKey:    lookupNumbered(env, "BYBIT_API_KEY", n),
			APISecret: lookupNumbered(env, "BYBIT_API_SECRET", n),
		}
		if creds.APIKey == "" || creds.APISecret == "" {
			return nil, fmt.Errorf("BYBIT_API_KEY_%d / BYBIT_API_SECRET_%d are not set", n, n)
		}
		return bybit.NewExecutor(&cfg.Bybit, creds, opts, logger), nil
	}
	return nil, fmt.Errorf("unknown venue %q", route.Venue)
}

// lookupNumbered reads NAME_n, falling back to plain NAME for account 1.
func lookupNumbered(env EnvFunc, name string, n int) string {
	if v := strings.TrimSpace(env(fmt.Sprintf("%s_%d", name, n))); v != "" {
		return v
	}
	if n == 1 {
		return strings.TrimSpace(env(name))
	}
	return ""
}
