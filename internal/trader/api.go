package trader

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"signal-trade-bot-go/internal/metrics"
)

// APIServer provides an HTTP interface for the reconciliation engine.
type APIServer struct {
	server *http.Server
	engine *Engine
	logger *zap.Logger
}

// NewAPIServer creates a new APIServer listening on addr. Prometheus metrics
// are served from gatherer when it is non-nil.
func NewAPIServer(addr string, engine *Engine, gatherer prometheus.Gatherer, logger *zap.Logger) *APIServer {
	s := &APIServer{
		engine: engine,
		logger: logger.Named("api-server"),
	}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.routes(gatherer),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *APIServer) routes(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.statusHandler)
	mux.HandleFunc("/health", s.healthHandler)
	if gatherer != nil {
		mux.Handle("/metrics", metrics.Handler(gatherer))
	}
	return mux
}

// Start runs the HTTP server in a new goroutine.
func (s *APIServer) Start() {
	s.logger.Info("Starting API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Error("API server failed", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *APIServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server...")
	return s.server.Shutdown(ctx)
}

type statusResponse struct {
	UUID          string           `json:"uuid"`
	StartTime     string           `json:"start_time"`
	Uptime        string           `json:"uptime"`
	Dedup         string           `json:"dedup"`
	DryRun        bool             `json:"dry_run"`
	Traders       []string         `json:"traders"`
	TrackedTrades int              `json:"tracked_trades"`
	Anchor        string           `json:"trade_updates_anchor"`
	Counters      map[string]int64 `json:"counters"`
}

func (s *APIServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	e := s.engine
	status := statusResponse{
		UUID:          e.ID,
		StartTime:     e.StartTime.Format(time.RFC3339),
		Uptime:        time.Since(e.StartTime).Truncate(time.Second).String(),
		Dedup:         e.detector.Name(),
		DryRun:        e.cfg.Trading.DryRun,
		Traders:       e.registry.Traders(),
		TrackedTrades: e.ledger.Len(),
		Anchor:        e.ledger.UpdatesAnchor(),
		Counters:      e.counters.Snapshot(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Error("Failed to write status response", zap.Error(err))
		http.Error(w, "Failed to encode status", http.StatusInternalServerError)
	}
}

func (s *APIServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}
