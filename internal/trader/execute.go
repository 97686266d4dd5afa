package trader

import (
	"context"
	"math"
	"strings"

	"go.uber.org/zap"

	"signal-trade-bot-go/internal/classifier"
	"signal-trade-bot-go/internal/ledger"
	"signal-trade-bot-go/internal/metrics"
	"signal-trade-bot-go/internal/models"
	"signal-trade-bot-go/internal/venue"
)

// executeCreate opens the trade on every venue routed for its trader. The
// record is written when at least one venue accepted entries; otherwise the
// URL is deferred to the next cycle.
func (e *Engine) executeCreate(ctx context.Context, l *zap.Logger, d classifier.Decision) {
	target := d.Target
	now := e.now()

	if len(d.Actions) == 0 {
		l.Info("Trade already closed when first seen, recording without orders")
		target.CreatedAt, target.UpdatedAt = now, now
		e.ledger.Put(d.URL, target)
		e.counters.Inc(metrics.NonActionableNewTrades)
		return
	}

	executors := e.registry.Executors(target.Trader)
	if len(executors) == 0 {
		l.Warn("Skipping trade", zap.Error(venue.ErrNoExecutor))
		e.counters.Inc(metrics.NonActionableNewTrades)
		return
	}

	risk := e.cfg.Trading.RiskPerTrade
	if d.Signal.RiskOverride != nil {
		risk = *d.Signal.RiskOverride
	}

	var executed [][]float64
	protected := true
	for _, ex := range executors {
		vl := l.With(zap.String("venue", ex.Venue()))
		orders, err := ex.PlaceEntries(ctx, venue.EntryRequest{
			Symbol:   target.Symbol,
			Side:     target.Side,
			Entries:  target.Entries,
			StopLoss: *target.StopLoss,
			Risk:     risk,
		})
		e.journal(ctx, d, ex.Venue(), classifier.ActionPlaceEntries, orders, err)
		if err != nil {
			vl.Error("Failed to open trade", zap.String("action", classifier.ActionPlaceEntries.String()), zap.Error(err))
			e.counters.Inc(metrics.FailedActions)
			continue
		}

		vo := target.VenueOrders(ex.Venue())
		vo.Entries = orderRefs(orders)
		executed = append(executed, matchEntries(target.Entries, orders))

		if !e.protect(ctx, vl, d, ex, &target, vo.EntrySize()) {
			protected = false
		}
		e.counters.Inc(metrics.VenueNewTrades(ex.Venue()))
	}

	if len(executed) == 0 {
		l.Warn("Trade not opened on any venue, will retry next cycle")
		e.deferred[d.URL] = struct{}{}
		return
	}

	target.Entries = intersectEntries(target.Entries, executed)
	if !protected {
		// recorded without protection so the next diff places it again
		l.Warn("Trade opened without stop loss / take profit, will retry next cycle")
		target.StopLoss, target.TakeProfits = nil, nil
		e.deferred[d.URL] = struct{}{}
	}
	target.CreatedAt, target.UpdatedAt = now, now
	e.ledger.Put(d.URL, target)
	e.counters.Inc(metrics.ActionableNewTrades)
	l.Info("Trade opened", zap.Float64s("entries", target.Entries), zap.Int("venues", len(executed)))
}

// protect places stop-loss and take-profit legs for size on one venue and
// records them on target. It reports whether every requested leg was placed.
func (e *Engine) protect(ctx context.Context, l *zap.Logger, d classifier.Decision, ex venue.Executor, target *ledger.TradeRecord, size float64) bool {
	stop, tps, err := ex.SetStopTakeProfit(ctx, venue.ProtectionRequest{
		Symbol:      target.Symbol,
		Side:        target.Side,
		StopLoss:    target.StopLoss,
		TakeProfits: target.TakeProfits,
		Size:        size,
	})
	placed := tps
	if stop != nil {
		placed = append([]venue.Order{*stop}, tps...)
	}
	e.journal(ctx, d, ex.Venue(), classifier.ActionReplaceProtection, placed, err)

	vo := target.VenueOrders(ex.Venue())
	vo.StopLoss = nil
	if stop != nil {
		ref := orderRef(*stop)
		vo.StopLoss = &ref
	}
	vo.TakeProfits = orderRefs(tps)

	if err != nil {
		l.Error("Failed to set stop loss / take profit",
			zap.String("action", classifier.ActionReplaceProtection.String()), zap.Error(err))
		e.counters.Inc(metrics.FailedActions)
		return false
	}
	return true
}

// executeUpdate runs the actions of an update in order on every venue. A
// field only takes its new value in the ledger when its action succeeded on
// all venues, so a failed action shows up in the next diff again. The URL is
// then deferred so that diff is taken on the next cycle.
func (e *Engine) executeUpdate(ctx context.Context, l *zap.Logger, d classifier.Decision, stored ledger.TradeRecord) {
	executors := e.registry.Executors(stored.Trader)
	if len(executors) == 0 {
		l.Warn("Skipping update", zap.Error(venue.ErrNoExecutor))
		e.counters.Inc(metrics.NonActionableUpdates)
		return
	}

	target := d.Target
	failed := false
	venueOK := make(map[string]bool, len(executors))
	for _, ex := range executors {
		venueOK[ex.Venue()] = true
	}

	for _, action := range d.Actions {
		al := l.With(zap.String("action", action.String()))
		switch action {
		case classifier.ActionReplaceEntries:
			ok := e.replaceEntries(ctx, al, d, executors, &target, venueOK)
			if !ok {
				failed = true
				target.Entries = stored.Entries
			}
		case classifier.ActionReplaceProtection:
			ok := e.replaceProtection(ctx, al, d, executors, &target, venueOK)
			if !ok {
				failed = true
				target.StopLoss = stored.StopLoss
				target.TakeProfits = stored.TakeProfits
			}
		case classifier.ActionClose:
			ok := e.closePosition(ctx, al, d, executors, &target, venueOK)
			if !ok {
				failed = true
				target.Closed = false
				target.ClosedPrice = stored.ClosedPrice
			}
		case classifier.ActionPlaceEntries:
			al.Error("Entry placement is not an update action")
		}
	}

	if failed {
		e.deferred[d.URL] = struct{}{}
	}
	target.UpdatedAt = e.now()
	e.ledger.Put(d.URL, target)
	e.counters.Inc(metrics.ActionableUpdates)
	for v, ok := range venueOK {
		if ok {
			e.counters.Inc(metrics.VenueUpdates(v))
		}
	}
	l.Info("Trade updated", zap.Strings("diff", diffNames(d.Diff)), zap.Bool("closed", target.Closed))
}

func (e *Engine) replaceEntries(ctx context.Context, l *zap.Logger, d classifier.Decision, executors []venue.Executor, target *ledger.TradeRecord, venueOK map[string]bool) bool {
	var stop float64
	if target.StopLoss != nil {
		stop = *target.StopLoss
	}
	risk := e.cfg.Trading.RiskPerTrade
	if d.Signal.RiskOverride != nil {
		risk = *d.Signal.RiskOverride
	}

	all := true
	var executed [][]float64
	for _, ex := range executors {
		vl := l.With(zap.String("venue", ex.Venue()))
		if _, err := ex.CancelOrders(ctx, target.Symbol, target.Side, venue.ScopeEntries); err != nil {
			// re-placing without the cancel would stack entries
			vl.Error("Failed to cancel entry orders", zap.Error(err))
			e.journal(ctx, d, ex.Venue(), classifier.ActionReplaceEntries, nil, err)
			e.counters.Inc(metrics.FailedActions)
			venueOK[ex.Venue()], all = false, false
			continue
		}
		orders, err := ex.PlaceEntries(ctx, venue.EntryRequest{
			Symbol:   target.Symbol,
			Side:     target.Side,
			Entries:  target.Entries,
			StopLoss: stop,
			Risk:     risk,
		})
		e.journal(ctx, d, ex.Venue(), classifier.ActionReplaceEntries, orders, err)
		target.VenueOrders(ex.Venue()).Entries = orderRefs(orders)
		if err != nil {
			vl.Error("Failed to replace entry orders", zap.Error(err))
			e.counters.Inc(metrics.FailedActions)
			venueOK[ex.Venue()], all = false, false
			continue
		}
		executed = append(executed, matchEntries(target.Entries, orders))
	}
	if all {
		target.Entries = intersectEntries(target.Entries, executed)
	}
	return all
}

func (e *Engine) replaceProtection(ctx context.Context, l *zap.Logger, d classifier.Decision, executors []venue.Executor, target *ledger.TradeRecord, venueOK map[string]bool) bool {
	all := true
	for _, ex := range executors {
		vl := l.With(zap.String("venue", ex.Venue()))
		if _, err := ex.CancelOrders(ctx, target.Symbol, target.Side, venue.ScopeProtective); err != nil {
			vl.Warn("Some protective orders could not be canceled", zap.Error(err))
		}

		size, err := ex.PositionSize(ctx, target.Symbol)
		if err != nil {
			vl.Error("Failed to read position size", zap.Error(err))
			e.journal(ctx, d, ex.Venue(), classifier.ActionReplaceProtection, nil, err)
			e.counters.Inc(metrics.FailedActions)
			venueOK[ex.Venue()], all = false, false
			continue
		}
		if size == 0 {
			// entries still resting: protect what they will fill to
			size = target.VenueOrders(ex.Venue()).EntrySize()
		}
		if size == 0 {
			vl.Warn("Nothing to protect", zap.Error(venue.ErrNoPositionSize))
			continue
		}
		if !e.protect(ctx, vl, d, ex, target, size) {
			venueOK[ex.Venue()], all = false, false
		}
	}
	return all
}

func (e *Engine) closePosition(ctx context.Context, l *zap.Logger, d classifier.Decision, executors []venue.Executor, target *ledger.TradeRecord, venueOK map[string]bool) bool {
	all := true
	for _, ex := range executors {
		vl := l.With(zap.String("venue", ex.Venue()))
		ok, err := ex.ClosePosition(ctx, target.Symbol, target.Side)
		e.journal(ctx, d, ex.Venue(), classifier.ActionClose, nil, err)
		if err != nil || !ok {
			vl.Error("Failed to close position", zap.Error(err))
			e.counters.Inc(metrics.FailedActions)
			venueOK[ex.Venue()], all = false, false
			continue
		}
		vo := target.VenueOrders(ex.Venue())
		vo.Entries, vo.StopLoss, vo.TakeProfits = nil, nil, nil
	}
	return all
}

// journal records one attempted venue action. Journal failures are logged
// and otherwise ignored.
func (e *Engine) journal(ctx context.Context, d classifier.Decision, venueName string, action classifier.ActionKind, orders []venue.Order, err error) {
	if e.recorder == nil {
		return
	}
	exec := models.Execution{
		URL:     d.URL,
		Trader:  d.Target.Trader,
		Venue:   venueName,
		Symbol:  d.Target.Symbol,
		Side:    string(d.Target.Side),
		Intent:  d.Intent.String(),
		Action:  action.String(),
		Success: err == nil,
		DryRun:  e.cfg.Trading.DryRun,
	}
	if err != nil {
		exec.Error = err.Error()
	}
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
		exec.Size += o.Size
	}
	exec.OrderIDs = strings.Join(ids, ",")
	if rerr := e.recorder.Record(ctx, exec); rerr != nil {
		e.logger.Warn("Failed to journal execution", zap.Error(rerr))
	}
}

func orderRef(o venue.Order) ledger.OrderRef {
	return ledger.OrderRef{ID: o.ID, Price: o.Price, Size: o.Size}
}

func orderRefs(orders []venue.Order) []ledger.OrderRef {
	if len(orders) == 0 {
		return nil
	}
	out := make([]ledger.OrderRef, len(orders))
	for i, o := range orders {
		out[i] = orderRef(o)
	}
	return out
}

// matchEntries returns the requested prices that have a placed order. Each
// order is matched to the nearest unmatched requested price, since venues
// round prices to their tick.
func matchEntries(requested []float64, orders []venue.Order) []float64 {
	used := make([]bool, len(requested))
	for _, o := range orders {
		best := -1
		for i, p := range requested {
			if used[i] {
				continue
			}
			if best < 0 || math.Abs(p-o.Price) < math.Abs(requested[best]-o.Price) {
				best = i
			}
		}
		if best >= 0 {
			used[best] = true
		}
	}
	out := make([]float64, 0, len(requested))
	for i, p := range requested {
		if used[i] {
			out = append(out, p)
		}
	}
	return out
}

// intersectEntries keeps the requested prices executed on every venue, in
// requested order.
func intersectEntries(requested []float64, executed [][]float64) []float64 {
	out := make([]float64, 0, len(requested))
	for _, p := range requested {
		everywhere := true
		for _, ex := range executed {
			if !containsPrice(ex, p) {
				everywhere = false
				break
			}
		}
		if everywhere {
			out = append(out, p)
		}
	}
	return out
}

func containsPrice(prices []float64, p float64) bool {
	for _, x := range prices {
		if x == p {
			return true
		}
	}
	return false
}

func diffNames(keys []classifier.Key) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = string(k)
	}
	return out
}
