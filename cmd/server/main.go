// Command server exposes the boardscan pipeline over HTTP.
//
// Run with FTS5 compiled in so note text search works against the history
// database:
//
//	go run -tags "cgo sqlite_fts5" ./cmd/server --addr :8080
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/felixgrant/boardscan"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (JSON)")
	addr := flag.String("addr", ":8080", "Listen address")
	flag.Parse()

	// Structured JSON logging.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg := boardscan.DefaultConfig()
	if *configPath != "" {
		f, err := os.Open(*configPath)
		if err != nil {
			slog.Error("opening config", "error", err)
			os.Exit(1)
		}
		if err := json.NewDecoder(f).Decode(&cfg); err != nil {
			f.Close()
			slog.Error("parsing config", "error", err)
			os.Exit(1)
		}
		f.Close()
	}

	// Override from environment variables.
	if v := os.Getenv("BOARDSCAN_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("BOARDSCAN_DB_NAME"); v != "" {
		cfg.DBName = v
	}
	if v := os.Getenv("BOARDSCAN_VISION_BASE_URL"); v != "" {
		cfg.Vision.BaseURL = v
	}
	if v := os.Getenv("BOARDSCAN_EMBED_BASE_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}
	if v := os.Getenv("BOARDSCAN_VISION_API_KEY"); v != "" {
		cfg.Vision.APIKey = v
	}
	if v := os.Getenv("BOARDSCAN_EMBED_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("BOARDSCAN_VISION_MODEL"); v != "" {
		cfg.Vision.Model = v
	}
	if v := os.Getenv("BOARDSCAN_EMBED_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("BOARDSCAN_VISION_PROVIDER"); v != "" {
		cfg.Vision.Provider = v
	}
	if v := os.Getenv("BOARDSCAN_EMBED_PROVIDER"); v != "" {
		cfg.Embedding.Provider = v
	}

	// Fallback: the well-known provider env var for API keys.
	if cfg.Vision.APIKey == "" && cfg.Vision.Provider == "gemini" {
		cfg.Vision.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.Embedding.APIKey == "" && cfg.Embedding.Provider == "gemini" {
		cfg.Embedding.APIKey = os.Getenv("GEMINI_API_KEY")
	}

	apiKey := os.Getenv("BOARDSCAN_API_KEY")
	corsOrigins := os.Getenv("BOARDSCAN_CORS_ORIGINS")

	scanner, err := boardscan.New(cfg)
	if err != nil {
		slog.Error("creating scanner", "error", err)
		os.Exit(1)
	}
	defer scanner.Close()

	h := newHandler(scanner)
	mux := http.NewServeMux()

	mux.HandleFunc("POST /scan", h.handleScan)
	mux.HandleFunc("POST /batch", h.handleBatch)
	mux.HandleFunc("GET /models", h.handleModels)
	mux.HandleFunc("GET /batches", h.handleListBatches)
	mux.HandleFunc("GET /batches/{id}", h.handleGetBatch)
	mux.HandleFunc("GET /batches/{id}/export", h.handleExportBatch)
	mux.HandleFunc("DELETE /batches/{id}", h.handleDeleteBatch)
	mux.HandleFunc("POST /search", h.handleSearch)
	mux.HandleFunc("GET /health", h.handleHealth)

	// Middleware chain: recovery -> cors -> auth -> logging -> mux
	var handler http.Handler = mux
	handler = logMiddleware(handler)
	handler = authMiddleware(apiKey, handler)
	handler = corsMiddleware(corsOrigins, handler)
	handler = recoveryMiddleware(handler)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // batch runs can outlast any fixed write deadline
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown on SIGTERM/SIGINT.
	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}
