// Command coordinator runs a standalone PET round coordinator.
//
// The coordinator drives one round's worth of federated-learning
// aggregation at a time: it admits sum, update, and sum2 participant
// messages over HTTP, accumulates masked models in the background, and
// advances the round's phase machine on its own timer.
//
// # Configuration File
//
// Create a YAML file with coordinator settings:
//
//	model_length: 1000000
//	http:
//	  listen_addr: ":8080"
//	store:
//	  backend: memory   # or postgres
//	  postgres_dsn: ""
//	restore:
//	  enable: false
//	pet:
//	  thresholds: {sum_prob: 0.1, update_prob: 0.5}
//	  sum_count: {min: 1, max: 100}
//	  sum_time: {min: 10s, max: 2m}
//
// # Usage
//
//	go run ./cmd/coordinator --config=coordinator.yaml
//	COORD_MODEL_LENGTH=1000000 go run ./cmd/coordinator --addr=:8080 --store=memory
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/xaynetwork/xaynet/aggregator"
	"github.com/xaynetwork/xaynet/config"
	"github.com/xaynetwork/xaynet/httpapi"
	"github.com/xaynetwork/xaynet/phase"
	"github.com/xaynetwork/xaynet/store"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to YAML config file")
		addr       = flag.String("addr", "", "HTTP listen address, overrides config file")
		backend    = flag.String("store", "", "Store backend: memory or postgres, overrides config file")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			logger.Error("failed to load config", "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnvOverrides(); err != nil {
		logger.Error("failed to apply environment overrides", "error", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.HTTP.ListenAddr = *addr
	}
	if *backend != "" {
		cfg.Store.Backend = *backend
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	st, err := newStore(cfg)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Restore.Enable {
		snap, err := st.LoadSnapshot(ctx)
		if err != nil {
			logger.Error("failed to load snapshot", "error", err)
			os.Exit(1)
		}
		logger.Info("restored round state", "round", snap.State.Round, "phase", snap.State.Phase)
	}

	agg, err := aggregator.New(cfg.Mask, st, cfg.QueueDepth)
	if err != nil {
		logger.Error("failed to build aggregator", "error", err)
		os.Exit(1)
	}
	agg.Start(ctx, cfg.Workers)
	defer agg.Stop()

	coord := phase.NewCoordinator(st, agg, cfg.Mask, cfg.ModelLength, cfg.Phase, logger)
	go coord.Run(ctx)

	srv := httpapi.New(httpapi.Config{
		ListenAddr:               cfg.HTTP.ListenAddr,
		ReadTimeout:              cfg.HTTP.ReadTimeout,
		WriteTimeout:             cfg.HTTP.WriteTimeout,
		GracefulShutdownDuration: cfg.HTTP.GracefulShutdownDuration,
		CORSAllowedOrigins:       cfg.HTTP.CORSAllowedOrigins,
		Log:                      logger,
	}, coord)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("shutting down coordinator")
		cancel()
		if err := <-errCh; err != nil {
			logger.Error("error during shutdown", "error", err)
			os.Exit(1)
		}
	case err := <-errCh:
		cancel()
		if err != nil {
			logger.Error("http server exited", "error", err)
			os.Exit(1)
		}
	}
}

// newStore builds the configured store backend, following the
// teacher's services.NewPostgresStore/NewInMemoryStore backend switch
// in cmd/multiservice/main.go's service construction.
func newStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case "postgres":
		return store.NewPostgresStore(&store.PostgresConfig{DSN: cfg.Store.PostgresDSN})
	case "memory":
		return store.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
