package main

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"signal-trade-bot-go/internal/database"
	"signal-trade-bot-go/internal/ledger"
)

const defaultExecutionLimit = 100

// APIHandler holds dependencies for the API endpoints.
type APIHandler struct {
	log        *zap.Logger
	journal    *database.Journal
	ledgerPath string
	now        func() time.Time
}

// NewAPIHandler creates a new APIHandler.
func NewAPIHandler(log *zap.Logger, journal *database.Journal, ledgerPath string) *APIHandler {
	return &APIHandler{log: log, journal: journal, ledgerPath: ledgerPath, now: time.Now}
}

// ExecutionsHandler returns the latest journaled venue actions. The optional
// limit query parameter caps the result.
func (h *APIHandler) ExecutionsHandler(w http.ResponseWriter, r *http.Request) {
	limit := defaultExecutionLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	execs, err := h.journal.Recent(r.Context(), limit)
	if err != nil {
		h.log.Error("Failed to get executions from database", zap.Error(err))
		http.Error(w, "Failed to get executions", http.StatusInternalServerError)
		return
	}
	writeJSON(w, h.log, execs)
}

// StatisticsResponse is the structure for the /api/stats endpoint.
type StatisticsResponse struct {
	Since24h database.Stats `json:"since_24h"`
	AllTime  database.Stats `json:"all_time"`
}

// StatisticsHandler summarizes execution outcomes.
func (h *APIHandler) StatisticsHandler(w http.ResponseWriter, r *http.Request) {
	day, err := h.journal.Stats(r.Context(), h.now().Add(-24*time.Hour))
	if err != nil {
		h.log.Error("Failed to get executions for statistics", zap.Error(err))
		http.Error(w, "Failed to calculate statistics", http.StatusInternalServerError)
		return
	}
	all, err := h.journal.Stats(r.Context(), time.Time{})
	if err != nil {
		h.log.Error("Failed to get executions for statistics", zap.Error(err))
		http.Error(w, "Failed to calculate statistics", http.StatusInternalServerError)
		return
	}
	writeJSON(w, h.log, StatisticsResponse{Since24h: day, AllTime: all})
}

// LedgerTrade is one tracked trade as shown by the UI.
type LedgerTrade struct {
	URL string `json:"url"`
	*ledger.TradeRecord
}

// LedgerResponse is the structure for the /api/ledger endpoint.
type LedgerResponse struct {
	TradeUpdatesAnchor string        `json:"trade_updates_anchor"`
	Open               int           `json:"open"`
	Closed             int           `json:"closed"`
	Trades             []LedgerTrade `json:"trades"`
}

// LedgerHandler reads the ledger file written by the trader. Open trades are
// listed first, newest first.
func (h *APIHandler) LedgerHandler(w http.ResponseWriter, r *http.Request) {
	doc, err := ledger.Load(h.ledgerPath)
	if err != nil {
		h.log.Error("Failed to read ledger", zap.Error(err))
		http.Error(w, "Failed to read ledger", http.StatusInternalServerError)
		return
	}

	resp := LedgerResponse{TradeUpdatesAnchor: doc.LastTradeUpdatesMessageID, Trades: []LedgerTrade{}}
	for url, rec := range doc.ActiveTrades {
		if rec.Closed {
			resp.Closed++
		} else {
			resp.Open++
		}
		resp.Trades = append(resp.Trades, LedgerTrade{URL: url, TradeRecord: rec})
	}
	sort.Slice(resp.Trades, func(i, j int) bool {
		a, b := resp.Trades[i], resp.Trades[j]
		if a.Closed != b.Closed {
			return !a.Closed
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.URL < b.URL
	})
	writeJSON(w, h.log, resp)
}

func writeJSON(w http.ResponseWriter, log *zap.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("Failed to write response", zap.Error(err))
	}
}
