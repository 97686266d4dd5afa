package main

import (
	"fmt"
	"net/http"
	"os"

	"go.uber.org/zap"

	"signal-trade-bot-go/internal/config"
	"signal-trade-bot-go/internal/database"
	"signal-trade-bot-go/internal/logger"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Connect to the database
	db, err := database.NewDatabase(&cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}

	apiHandler := NewAPIHandler(log, database.NewJournal(db), cfg.Ledger.Path)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Info("Starting web server", zap.String("address", addr))

	if err := http.ListenAndServe(addr, newMux(apiHandler)); err != nil {
		log.Fatal("Web server failed", zap.Error(err))
	}
}

func newMux(h *APIHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/executions", h.ExecutionsHandler)
	mux.HandleFunc("/api/stats", h.StatisticsHandler)
	mux.HandleFunc("/api/ledger", h.LedgerHandler)
	return mux
}
