package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"signal-trade-bot-go/internal/config"
	"signal-trade-bot-go/internal/database"
	"signal-trade-bot-go/internal/feed"
	"signal-trade-bot-go/internal/ledger"
	"signal-trade-bot-go/internal/logger"
	"signal-trade-bot-go/internal/metrics"
	"signal-trade-bot-go/internal/trader"
)

var runOnce bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the polling loop",
	Args:  cobra.NoArgs,
	RunE:  runTrader,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&runOnce, "once", false, "run a single cycle and exit")
}

func runTrader(cmd *cobra.Command, args []string) error {
	// Load application configuration
	cfg, err := config.LoadConfig(configDir)
	if err != nil {
		return fmt.Errorf("could not load config: %w", err)
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		return err
	}
	defer log.Sync()
	log.Info("Configuration loaded", zap.Bool("dry_run", cfg.Trading.DryRun))

	// The execution journal is optional; the ledger is not.
	var recorder trader.Recorder
	if cfg.Database.DSN != "" {
		db, err := database.NewDatabase(&cfg.Database)
		if err != nil {
			return err
		}
		recorder = database.NewJournal(db)
		log.Info("Execution journal ready")
	}

	book, err := ledger.Open(cfg.Ledger.Path, log.Named("ledger"))
	if err != nil {
		return fmt.Errorf("could not open ledger: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	counters, err := metrics.NewCounters(reg)
	if err != nil {
		return err
	}

	registry := trader.BuildRegistry(&cfg, log, os.Getenv)
	engine := trader.NewEngine(log, &cfg, trader.Deps{
		Source:   feed.NewHTTPSource(&cfg.Feed, log.Named("feed")),
		Ledger:   book,
		Registry: registry,
		Counters: counters,
		Recorder: recorder,
	})

	if runOnce {
		return engine.RunCycle(context.Background())
	}

	// Setup context for graceful shutdown
	ctx, stop := shutdownContext(context.Background(), log)
	defer stop()

	var api *trader.APIServer
	if cfg.Metrics.Addr != "" {
		api = trader.NewAPIServer(cfg.Metrics.Addr, engine, reg, log)
		api.Start()
	}

	err = engine.Run(ctx)

	if api != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := api.Stop(shutdownCtx); serr != nil {
			log.Warn("API server shutdown failed", zap.Error(serr))
		}
	}
	log.Info("Bot has been shut down.")
	return err
}

// shutdownContext is canceled by the first SIGINT or SIGTERM. Signal handling
// is released at that point, so a second signal kills the process even while
// a cycle is still running.
func shutdownContext(parent context.Context, log *zap.Logger) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		stop()
		if parent.Err() == nil {
			log.Info("Shutdown signal received, finishing current cycle (signal again to force exit)...")
		}
	}()
	return ctx, stop
}
