package metrics

import (
	"net/http"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Event kinds counted by the reconciliation loop.
const (
	ActionableNewTrades    = "actionable_new_trades"
	NonActionableNewTrades = "non-actionable_new_trades"
	ActionableUpdates      = "actionable_updates"
	NonActionableUpdates   = "non-actionable_updates"
	NoopUpdates            = "noop_updates"
	FailedActions          = "failed_actions"
)

// VenueNewTrades is the per-venue count of trades opened.
func VenueNewTrades(venue string) string { return venue + "_new_trades" }

// VenueUpdates is the per-venue count of updates applied.
func VenueUpdates(venue string) string { return venue + "_updates" }

// Counters is the event counter map, mirrored into signal_trader_events_total.
type Counters struct {
	mu     sync.Mutex
	counts map[string]int64
	events *prometheus.CounterVec
}

// NewCounters creates the counters and registers the Prometheus vector on reg.
// A nil reg skips registration.
func NewCounters(reg prometheus.Registerer) (*Counters, error) {
	events := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signal_trader_events_total",
			Help: "Reconciliation events by kind",
		},
		[]string{"kind"},
	)
	if reg != nil {
		if err := reg.Register(events); err != nil {
			return nil, err
		}
	}
	return &Counters{counts: map[string]int64{}, events: events}, nil
}

// Inc adds one to kind.
func (c *Counters) Inc(kind string) {
	c.Add(kind, 1)
}

// Add adds n to kind.
func (c *Counters) Add(kind string, n int64) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	c.counts[kind] += n
	c.mu.Unlock()
	c.events.WithLabelValues(kind).Add(float64(n))
}

// Get returns the count of kind.
func (c *Counters) Get(kind string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[kind]
}

// Snapshot returns a copy of all counts.
func (c *Counters) Snapshot() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int64, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}

// Kinds lists the kinds counted so far in sorted order.
func (c *Counters) Kinds() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.counts))
	for k := range c.counts {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
