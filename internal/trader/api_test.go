package trader

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"signal-trade-bot-go/internal/metrics"
)

func TestAPIServer_Status(t *testing.T) {
	env := setupEngine(t, nil)
	env.counters.Inc(metrics.ActionableNewTrades)
	s := NewAPIServer(":0", env.engine, nil, zap.NewNop())

	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, env.engine.ID, got.UUID)
	assert.Equal(t, "hash", got.Dedup)
	assert.Equal(t, []string{"A"}, got.Traders)
	assert.Equal(t, int64(1), got.Counters[metrics.ActionableNewTrades])
}

func TestAPIServer_HealthAndMetrics(t *testing.T) {
	env := setupEngine(t, nil)
	reg := prometheus.NewRegistry()
	counters, err := metrics.NewCounters(reg)
	require.NoError(t, err)
	counters.Inc(metrics.NoopUpdates)
	s := NewAPIServer(":0", env.engine, reg, zap.NewNop())

	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK\n", rec.Body.String())

	rec = httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `signal_trader_events_total{kind="noop_updates"} 1`))
}
