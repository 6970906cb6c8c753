package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/tap-tilroy/pkg/catalog"
	"github.com/ajitpratap0/tap-tilroy/pkg/config"
	"github.com/ajitpratap0/tap-tilroy/pkg/logger"
	"github.com/ajitpratap0/tap-tilroy/pkg/metrics"
	"github.com/ajitpratap0/tap-tilroy/pkg/observability"
	"github.com/ajitpratap0/tap-tilroy/pkg/sink"
	"github.com/ajitpratap0/tap-tilroy/pkg/state"
	"github.com/ajitpratap0/tap-tilroy/pkg/synchronizer"
	"github.com/ajitpratap0/tap-tilroy/pkg/tap"
	"github.com/ajitpratap0/tap-tilroy/pkg/tilroy"
)

const shutdownTimeout = 10 * time.Second

// loadConfig reads the config file and applies command line overrides.
func loadConfig(f flags) (*config.Config, error) {
	cfg := config.NewConfig()
	if err := config.Load(f.config, cfg); err != nil {
		return nil, err
	}
	if f.logLevel != "" {
		cfg.Observability.LogLevel = f.logLevel
	}
	if f.metrics != "" {
		cfg.Observability.MetricsAddr = f.metrics
	}
	if f.streams > 0 {
		cfg.Sync.MaxConcurrentStreams = f.streams
	}
	if f.policy != "" {
		cfg.Sync.ValidationPolicy = f.policy
	}
	if f.startDate != "" {
		cfg.StartDate = f.startDate
	}
	if f.state != "" && (cfg.State.Backend == "" || cfg.State.Backend == "file") {
		cfg.State.Path = f.state
	}
	return cfg, nil
}

func initLogger(cfg *config.Config) (*zap.Logger, error) {
	if err := logger.Init(logger.Config{
		Level:    cfg.Observability.LogLevel,
		Encoding: cfg.Observability.LogEncoding,
	}); err != nil {
		return nil, err
	}
	return logger.Get().With(zap.String("component", "tap-tilroy")), nil
}

func source(cfg *config.Config) tilroy.Source {
	if cfg.Database.DSN != "" {
		return tilroy.SourceDatabase
	}
	return tilroy.SourceAPI
}

// registry builds the stream registry and applies the catalog, then the
// per-stream config overrides.
func registry(cfg *config.Config, f flags, log *zap.Logger) (*catalog.Registry, error) {
	reg := tilroy.Registry(source(cfg), log)
	if f.catalog != "" {
		c, err := catalog.LoadCatalog(f.catalog)
		if err != nil {
			return nil, err
		}
		if err := reg.ApplyCatalog(c); err != nil {
			return nil, err
		}
	}
	if err := reg.ApplyConfig(cfg.Streams); err != nil {
		return nil, err
	}
	return reg, nil
}

func discover(_ context.Context, f flags, stdout io.Writer) error {
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}
	log, err := initLogger(cfg)
	if err != nil {
		return err
	}
	reg, err := registry(cfg, f, log)
	if err != nil {
		return err
	}
	return reg.Discover().Write(stdout)
}

func run(ctx context.Context, f flags, stdout io.Writer) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	policy, err := synchronizer.ParsePolicy(cfg.Sync.ValidationPolicy)
	if err != nil {
		return err
	}
	log, err := initLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if addr := cfg.Observability.MetricsAddr; addr != "" {
		srv := metrics.NewServer(addr, log)
		if err := srv.Start(); err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
		defer shutdown(log, "metrics server", srv.Shutdown)
	}

	tracing := observability.DefaultConfig()
	tracing.Enabled = cfg.Observability.Tracing
	tracing.SamplingRate = cfg.Observability.TracingSampleRate
	tracing.ServiceVersion = version
	stopTracing, err := observability.Initialize(tracing)
	if err != nil {
		return err
	}
	defer shutdown(log, "tracing", stopTracing)

	reg, err := registry(cfg, f, log)
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cfg, f, log)
	if err != nil {
		return err
	}
	defer store.Close()

	out, err := sink.New(cfg.Output, stdout, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := out.Close(); err != nil {
			log.Error("closing output failed", zap.Error(err))
		}
	}()

	execs, err := tap.NewExecutors(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer execs.Close()

	report, err := tap.New(reg, execs, store, out, tap.Options{
		MaxConcurrentStreams: cfg.Sync.MaxConcurrentStreams,
		Policy:               policy,
		PersistEvery:         cfg.Sync.PersistEveryPages,
		StartDate:            cfg.StartTime(),
	}, log).Run(ctx)
	if err != nil {
		return err
	}
	if !report.OK() {
		return fmt.Errorf("run %s did not complete: %w", report.RunID, report.Err())
	}
	return nil
}

// openStore opens the configured backend and loads it. For backends other
// than file, a --state document seeds a store that holds no streams yet.
func openStore(ctx context.Context, cfg *config.Config, f flags, log *zap.Logger) (*state.Store, error) {
	backend, err := state.NewBackend(ctx, cfg.State, log)
	if err != nil {
		return nil, err
	}
	store := state.NewStore(backend, log)
	if err := store.Load(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	if f.state == "" || backend.Name() == "file" {
		return store, nil
	}
	if len(store.Snapshot().Streams) > 0 {
		log.Info("ignoring --state, backend already holds state", zap.String("backend", backend.Name()))
		return store, nil
	}
	data, err := os.ReadFile(f.state) //nolint:gosec // G304: operator supplied path
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("read state: %w", err)
	}
	st, err := state.Decode(data)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	store.Seed(st)
	return store, nil
}

func shutdown(log *zap.Logger, what string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		log.Warn("shutdown failed", zap.String("what", what), zap.Error(err))
	}
}
