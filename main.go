package main

import (
	"fmt"
	"log"
	"net/http"

	"tig/internal/api"
	"tig/internal/config"
	"tig/internal/logging"
	"tig/internal/middleware"
	"tig/internal/objectstore"
	"tig/internal/refs"
	"tig/internal/worktree"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load("config.json")
	if err != nil {
		log.Fatal("failed to load config:", err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger:", err)
	}
	defer logger.Sync()

	wt, err := worktree.Open(cfg.Database.Path, cfg.WorkTree.DotName)
	if err != nil {
		logger.Fatal("failed to open work tree", zap.Error(err))
	}
	defer wt.Close()

	// The object store and ref store are out-of-scope external
	// collaborators (spec.md §1); the HTTP surface wires the in-memory
	// implementation here the same way cmd/tig does.
	store := objectstore.NewMemory()
	refStore := refs.NewMemory()

	handler := api.NewWorkTreeHandler(wt, store, refStore)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthCheck)
	mux.HandleFunc("GET /api/status", handler.Status)
	mux.HandleFunc("POST /api/stage", handler.Stage)
	mux.HandleFunc("POST /api/unstage", handler.Unstage)
	mux.HandleFunc("POST /api/commit", handler.Commit)
	mux.HandleFunc("POST /api/checkout/{commit}", handler.Checkout)
	mux.HandleFunc("POST /api/revert", handler.Revert)

	chained := middleware.Chain(
		mux,
		middleware.RequestID,
		middleware.Logger(logger),
		middleware.Recover(logger),
	)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	logger.Info("starting server", zap.String("address", addr))

	if err := http.ListenAndServe(addr, chained); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"healthy"}`))
}
