package trader

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"signal-trade-bot-go/internal/classifier"
	"signal-trade-bot-go/internal/config"
	"signal-trade-bot-go/internal/feed"
	"signal-trade-bot-go/internal/ledger"
	"signal-trade-bot-go/internal/metrics"
	"signal-trade-bot-go/internal/models"
	"signal-trade-bot-go/internal/parser"
	"signal-trade-bot-go/internal/signal"
	"signal-trade-bot-go/internal/venue"
)

// Recorder journals attempted venue actions.
type Recorder interface {
	Record(ctx context.Context, exec models.Execution) error
}

// ParseFunc turns the raw text of a feed message into a signal.
type ParseFunc func(text string) (signal.Signal, bool)

// Deps are the collaborators of an Engine.
type Deps struct {
	Source   feed.Source
	Ledger   *ledger.Ledger
	Registry *venue.Registry
	Counters *metrics.Counters
	// Recorder is optional.
	Recorder Recorder
	// Parse defaults to parser.Parse.
	Parse ParseFunc
}

// Engine runs the reconciliation loop: detect feed changes, classify them
// against the ledger, drive the venues and commit the outcome.
type Engine struct {
	logger     *zap.Logger
	cfg        *config.Config
	source     feed.Source
	detector   feed.Detector
	ledger     *ledger.Ledger
	classifier *classifier.Classifier
	registry   *venue.Registry
	counters   *metrics.Counters
	recorder   Recorder
	parse      ParseFunc
	now        func() time.Time

	// ID identifies this process in logs and the status endpoint.
	ID        string
	StartTime time.Time

	// deferred holds URLs whose last execution failed in part; they are
	// offered again on the next cycle even when the channel looks unchanged.
	deferred map[string]struct{}
}

// NewEngine creates a new reconciliation engine.
func NewEngine(logger *zap.Logger, cfg *config.Config, deps Deps) *Engine {
	parse := deps.Parse
	if parse == nil {
		parse = parser.Parse
	}
	return &Engine{
		logger:     logger,
		cfg:        cfg,
		source:     deps.Source,
		detector:   feed.NewDetector(cfg.Feed.Dedup),
		ledger:     deps.Ledger,
		classifier: classifier.New(cfg.Feed.FollowedTraders),
		registry:   deps.Registry,
		counters:   deps.Counters,
		recorder:   deps.Recorder,
		parse:      parse,
		now:        time.Now,
		ID:         uuid.NewString(),
		StartTime:  time.Now(),
		deferred:   map[string]struct{}{},
	}
}

// Run polls until ctx is canceled. Shutdown is only observed between cycles;
// a running cycle always completes. The ledger is flushed on exit.
func (e *Engine) Run(ctx context.Context) error {
	defer func() {
		if err := e.ledger.Flush(); err != nil {
			e.logger.Error("Failed to flush ledger on shutdown", zap.Error(err))
		}
	}()

	interval := time.Duration(e.cfg.Feed.PollInterval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.Info("Starting poll loop",
		zap.Duration("interval", interval),
		zap.String("dedup", e.detector.Name()),
		zap.Strings("traders", e.registry.Traders()),
	)

	for {
		if err := e.RunCycle(context.WithoutCancel(ctx)); err != nil {
			e.logger.Error("Cycle failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			e.logger.Info("Stopping reconciliation engine...")
			return nil
		case <-ticker.C:
		}
	}
}

// RunCycle processes one snapshot of both channels and flushes the ledger.
func (e *Engine) RunCycle(ctx context.Context) error {
	cycle := uuid.NewString()
	l := e.logger.With(zap.String("cycle", cycle))
	l.Debug("Cycle started")

	activeErr := e.processActiveTrades(ctx, l)
	if activeErr != nil {
		l.Error("Active trades channel failed", zap.Error(activeErr))
	}
	updatesErr := e.processTradeUpdates(ctx, l)
	if updatesErr != nil {
		l.Error("Trade updates channel failed", zap.Error(updatesErr))
	}

	if err := e.ledger.Flush(); err != nil {
		return fmt.Errorf("flush ledger: %w", err)
	}
	l.Debug("Cycle complete", zap.Any("counters", e.counters.Snapshot()))
	if activeErr != nil {
		return activeErr
	}
	return updatesErr
}

func (e *Engine) processActiveTrades(ctx context.Context, l *zap.Logger) error {
	items, err := e.source.ActiveTrades(ctx)
	if err != nil {
		return fmt.Errorf("fetch active trades: %w", err)
	}

	prev := e.ledger.ActiveState()
	candidates, next := e.detector.Detect(items, prev)
	if gone := feed.Disappeared(items, prev); len(gone) > 0 && e.detector.Name() == feed.SeenSetName {
		l.Info("Trades no longer visible", zap.Strings("urls", gone))
	}
	candidates = e.withDeferred(candidates, items)
	if len(candidates) == 0 {
		l.Info("No change detected in active trades")
		e.ledger.SetActiveState(next)
		return nil
	}

	l.Info("Active trades changed", zap.Int("candidates", len(candidates)))
	for _, it := range candidates {
		e.handle(ctx, it.URL, it.Text)
	}
	// committed only after the batch was attempted
	e.ledger.SetActiveState(next)
	return nil
}

// withDeferred appends still-visible deferred URLs that the detector did not
// offer. Deferred URLs that vanished are forgotten.
func (e *Engine) withDeferred(candidates, visible []feed.Item) []feed.Item {
	if len(e.deferred) == 0 {
		return candidates
	}
	offered := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		offered[c.URL] = struct{}{}
	}
	still := make(map[string]struct{}, len(e.deferred))
	for _, it := range visible {
		if _, ok := e.deferred[it.URL]; !ok {
			continue
		}
		still[it.URL] = struct{}{}
		if _, ok := offered[it.URL]; !ok {
			candidates = append(candidates, it)
			offered[it.URL] = struct{}{}
		}
	}
	e.deferred = still
	return candidates
}

func (e *Engine) processTradeUpdates(ctx context.Context, l *zap.Logger) error {
	msgs, err := e.source.TradeUpdates(ctx)
	if err != nil {
		return fmt.Errorf("fetch trade updates: %w", err)
	}

	anchor := e.ledger.UpdatesAnchor()
	fresh, next := feed.AfterAnchor(msgs, anchor)
	if anchor == "" {
		if next != "" {
			l.Info("Initialising trade updates anchor", zap.String("message_id", next))
			e.ledger.SetUpdatesAnchor(next)
		}
		return nil
	}
	if len(fresh) == 0 {
		return nil
	}

	l.Info("New trade updates", zap.Int("messages", len(fresh)))
	handled := map[string]struct{}{}
	processed := anchor
	for _, m := range fresh {
		if _, ok := handled[m.URL]; ok || m.URL == "" {
			processed = m.ID
			continue
		}
		if !e.ledger.Has(m.URL) {
			l.Debug("Update for untracked trade", zap.String("url", m.URL))
			e.counters.Inc(metrics.NonActionableUpdates)
			processed = m.ID
			continue
		}

		item, err := e.source.Trade(ctx, m.URL)
		if err != nil {
			// stop here so this message is retried next cycle
			e.ledger.SetUpdatesAnchor(processed)
			return fmt.Errorf("fetch trade %s: %w", m.URL, err)
		}
		e.handle(ctx, m.URL, item.Text)
		handled[m.URL] = struct{}{}
		processed = m.ID
	}
	e.ledger.SetUpdatesAnchor(next)
	return nil
}

// handle parses, classifies and executes one feed item. Execution defers the
// URL again when part of it failed.
func (e *Engine) handle(ctx context.Context, url, text string) {
	delete(e.deferred, url)
	stored, exists := e.ledger.Get(url)
	nonActionable := metrics.NonActionableNewTrades
	if exists {
		nonActionable = metrics.NonActionableUpdates
	}
	l := e.logger.With(zap.String("url", url))

	sig, ok := e.parse(text)
	if !ok {
		l.Debug("Could not parse trade content")
		e.counters.Inc(nonActionable)
		return
	}
	l = l.With(zap.String("trader", sig.Trader), zap.String("symbol", sig.Symbol))

	var prev *ledger.TradeRecord
	if exists {
		prev = &stored
	}
	d, err := e.classifier.Classify(url, sig, prev)
	if err != nil {
		l.Warn("Signal rejected", zap.Error(err))
		e.counters.Inc(nonActionable)
		return
	}

	switch d.Intent {
	case classifier.IntentNoop:
		l.Debug("Trade unchanged")
		e.counters.Inc(metrics.NoopUpdates)
	case classifier.IntentCreate:
		e.executeCreate(ctx, l, d)
	case classifier.IntentUpdate:
		e.executeUpdate(ctx, l, d, stored)
	}
}
