package venue

import (
	"sort"
	"strings"
	"sync"
)

// Registry maps trader names to the executors that mirror their calls. It is
// built once at startup and handed to the engine; executors are long-lived
// and shared between traders routed to the same account. Trader lookups
// ignore case and surrounding space.
type Registry struct {
	mu     sync.RWMutex
	routes map[string]*route
}

type route struct {
	name      string
	executors []Executor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{routes: make(map[string]*route)}
}

func traderKey(trader string) string {
	return strings.ToLower(strings.TrimSpace(trader))
}

// Register routes trader to ex. A trader may be routed to several venues.
func (r *Registry) Register(trader string, ex Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := traderKey(trader)
	rt, ok := r.routes[k]
	if !ok {
		rt = &route{name: strings.TrimSpace(trader)}
		r.routes[k] = rt
	}
	rt.executors = append(rt.executors, ex)
}

// Executors returns the executors for trader, or nil.
func (r *Registry) Executors(trader string) []Executor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.routes[traderKey(trader)]
	if !ok {
		return nil
	}
	out := make([]Executor, len(rt.executors))
	copy(out, rt.executors)
	return out
}

// Traders lists every routed trader in name order.
func (r *Registry) Traders() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.routes))
	for _, rt := range r.routes {
		names = append(names, rt.name)
	}
	sort.Strings(names)
	return names
}
