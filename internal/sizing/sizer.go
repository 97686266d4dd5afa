package sizing

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrNoEntries is returned when there is nothing to size.
	ErrNoEntries = errors.New("no entry prices")
	// ErrZeroStopDistance is returned in risk mode when the stop equals the
	// average entry and minimum-notional fallback is disabled.
	ErrZeroStopDistance = errors.New("stop loss equals average entry price")
)

// Mode tells which sizing path produced a result.
type Mode string

const (
	ModeRisk        Mode = "risk"
	ModeMinNotional Mode = "min_notional"
)

// Sizer turns a risk budget into a per-entry order quantity.
type Sizer struct {
	// MinNotional is the venue floor on price * quantity for a single order.
	MinNotional float64
	// FallbackOnZeroStop selects minimum-notional sizing instead of failing
	// when the stop distance is zero.
	FallbackOnZeroStop bool
}

// Result is the outcome of a sizing call.
type Result struct {
	// PerEntry is the quantity of every entry order.
	PerEntry float64
	Mode     Mode
	// PositionValue is the notional the risk budget buys across all entries.
	PositionValue float64
	// Floored is set when PerEntry was raised to meet MinNotional.
	Floored bool
}

// Total is the quantity across n entry orders.
func (r Result) Total(n int) float64 {
	return r.PerEntry * float64(n)
}

// Size computes the quantity for each entry order.
//
// A zero risk budget selects minimum-notional mode, where every entry receives
// the minimum size on its own. Otherwise the position value implied by the
// stop distance is split evenly across the entries, and each share is raised
// to the minimum notional if it falls under it. The floor is measured at the
// lowest entry price so that no single order goes below the venue minimum.
func (s Sizer) Size(entries []float64, stopLoss, riskBudget float64) (Result, error) {
	if len(entries) == 0 {
		return Result{}, ErrNoEntries
	}
	lowest := math.Inf(1)
	var sum float64
	for _, p := range entries {
		if p <= 0 || math.IsNaN(p) || math.IsInf(p, 0) {
			return Result{}, fmt.Errorf("invalid entry price %v", p)
		}
		sum += p
		lowest = math.Min(lowest, p)
	}
	avg := sum / float64(len(entries))
	minQty := s.MinNotional / lowest

	if riskBudget <= 0 {
		return Result{PerEntry: minQty, Mode: ModeMinNotional, PositionValue: minQty * avg * float64(len(entries))}, nil
	}

	distance := math.Abs(avg-stopLoss) / avg
	if distance == 0 {
		if !s.FallbackOnZeroStop {
			return Result{}, ErrZeroStopDistance
		}
		return Result{PerEntry: minQty, Mode: ModeMinNotional, PositionValue: minQty * avg * float64(len(entries))}, nil
	}

	positionValue := riskBudget / distance
	perEntry := positionValue / avg / float64(len(entries))
	res := Result{PerEntry: perEntry, Mode: ModeRisk, PositionValue: positionValue}
	if perEntry < minQty {
		res.PerEntry = minQty
		res.Floored = true
	}
	return res, nil
}
