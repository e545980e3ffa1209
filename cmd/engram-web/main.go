// cmd/engram-web serves the HTTP side of Engram: a WebSocket event
// stream at /ws broadcasting memory lifecycle events, and a /healthz
// endpoint reporting store and embedding status.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"github.com/engramlabs/engram/internal/config"
	"github.com/engramlabs/engram/internal/embedding"
	"github.com/engramlabs/engram/internal/notify"
	"github.com/engramlabs/engram/internal/service"
	"github.com/engramlabs/engram/internal/storage"
	"github.com/engramlabs/engram/internal/storage/postgres"
	"github.com/engramlabs/engram/internal/storage/sqlite"
)

func main() {
	logger := log.NewWithOptions(os.Stderr, log.Options{Prefix: "engram-web"})
	log.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("loading config failed", "err", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		logger.Fatal("opening store failed", "err", err)
	}

	hub := notify.NewHub()
	go hub.Run()
	defer hub.Stop()

	// Bridge events written by engram-mcp and engram-decay into the hub.
	watcher := notify.NewEventWatcher(cfg.Notify.EventsDir, hub.Publish)
	if err := watcher.Start(); err != nil {
		logger.Fatal("starting event watcher failed", "err", err)
	}
	defer watcher.Stop()

	svc := service.New(store, buildProvider(cfg),
		service.WithMinSimilarity(cfg.Search.MinSimilarity),
		service.WithDefaultLimit(cfg.Search.DefaultLimit),
		service.WithNotifier(hub.Publish),
	)
	defer func() { _ = svc.Close() }()

	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":          "ok",
			"semantic_search": svc.HasSemanticSearch(r.Context()),
		})
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", "err", err)
		}
	}()

	logger.Info("listening", "addr", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server failed", "err", err)
	}
}

func openStore(cfg *config.Config) (storage.MemoryStore, error) {
	policy := storage.DecayPolicy{
		HalfLifeDays: cfg.Decay.HalfLifeDays,
		Floor:        cfg.Decay.Floor,
	}
	if cfg.Storage.Engine == "postgres" {
		return postgres.NewMemoryStore(cfg.Storage.PostgresDSN, postgres.WithDecayPolicy(policy))
	}
	if dir := filepath.Dir(cfg.Storage.SQLitePath); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, err
		}
	}
	return sqlite.NewMemoryStore(cfg.Storage.SQLitePath, sqlite.WithDecayPolicy(policy))
}

func buildProvider(cfg *config.Config) embedding.Provider {
	switch cfg.Embedding.Provider {
	case "ollama":
		return embedding.NewOllamaProvider(embedding.OllamaConfig{
			BaseURL: cfg.Embedding.OllamaURL,
			Model:   cfg.Embedding.OllamaModel,
		})
	case "openai":
		return embedding.NewOpenAIProvider(embedding.OpenAIConfig{
			APIKey:            cfg.Embedding.OpenAIAPIKey,
			Model:             cfg.Embedding.OpenAIModel,
			BaseURL:           cfg.Embedding.OpenAIBaseURL,
			RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
		})
	default:
		return embedding.NewDisabled()
	}
}
