// cmd/engram-mcp is the stdio entry point for the Engram memory server.
// It serves line-delimited JSON-RPC 2.0 on stdin/stdout for AI agent
// hosts.
//
// Startup sequence:
//  1. Load configuration (YAML file + ENGRAM_ environment overrides).
//  2. Open the configured store backend (SQLite or PostgreSQL).
//  3. Build the embedding provider, or the disabled provider when none
//     is configured.
//  4. Construct the memory service and the RPC server around it.
//  5. Serve requests until stdin closes or a signal arrives.
//
// All logging goes to stderr. Stray bytes on stdout would corrupt the
// JSON-RPC framing.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/charmbracelet/log"

	"github.com/engramlabs/engram/internal/api/rpc"
	"github.com/engramlabs/engram/internal/config"
	"github.com/engramlabs/engram/internal/embedding"
	"github.com/engramlabs/engram/internal/notify"
	"github.com/engramlabs/engram/internal/service"
	"github.com/engramlabs/engram/internal/storage"
	"github.com/engramlabs/engram/internal/storage/postgres"
	"github.com/engramlabs/engram/internal/storage/sqlite"
)

func main() {
	logger := log.NewWithOptions(os.Stderr, log.Options{Prefix: "engram-mcp"})
	log.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("loading config failed", "err", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		logger.Fatal("opening store failed", "err", err)
	}

	provider := buildProvider(cfg)
	events := notify.NewEventWriter(cfg.Notify.EventsDir)
	svc := service.New(store, provider,
		service.WithMinSimilarity(cfg.Search.MinSimilarity),
		service.WithDefaultLimit(cfg.Search.DefaultLimit),
		service.WithNotifier(events.Publish),
	)
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Error("closing service failed", "err", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	srv := rpc.NewServer(svc)
	transport := rpc.NewStdioTransport(srv, os.Stdin, os.Stdout)
	logger.Info("serving", "engine", cfg.Storage.Engine, "embedding", cfg.Embedding.Provider)
	if err := transport.Serve(ctx); err != nil && err != context.Canceled {
		logger.Fatal("transport failed", "err", err)
	}
}

// openStore opens the configured backend with the configured decay
// policy.
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

// buildProvider constructs the embedding backend named in the config.
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
