// cmd/engram-decay runs the importance decay pass. By default it runs
// once and exits, which suits cron; with -every it stays resident and
// repeats on the given interval.
package main

import (
	"context"
	"flag"
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
	every := flag.Duration("every", 0, "repeat the decay pass on this interval (0 = run once)")
	flag.Parse()

	logger := log.NewWithOptions(os.Stderr, log.Options{Prefix: "engram-decay"})
	log.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("loading config failed", "err", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		logger.Fatal("opening store failed", "err", err)
	}

	// Decay needs no embedding backend; events still go out through the
	// file bridge so the web server can announce the pass.
	events := notify.NewEventWriter(cfg.Notify.EventsDir)
	svc := service.New(store, embedding.NewDisabled(),
		service.WithNotifier(events.Publish),
	)
	defer func() { _ = svc.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	run := func() {
		changed, err := svc.ApplyDecay(ctx)
		if err != nil {
			logger.Error("decay pass failed", "err", err)
			return
		}
		logger.Info("decay pass complete", "changed", changed)
	}

	run()
	if *every <= 0 {
		return
	}

	ticker := time.NewTicker(*every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			run()
		case <-ctx.Done():
			logger.Info("shutting down")
			return
		}
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
