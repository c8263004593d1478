package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/haasonsaas/kirogate/internal/accounts"
	"github.com/haasonsaas/kirogate/internal/auth"
	"github.com/haasonsaas/kirogate/internal/config"
	"github.com/haasonsaas/kirogate/internal/dispatch"
	"github.com/haasonsaas/kirogate/internal/observability"
	"github.com/haasonsaas/kirogate/internal/server"
	"github.com/haasonsaas/kirogate/internal/store"
	"github.com/haasonsaas/kirogate/internal/translate"
	"github.com/haasonsaas/kirogate/internal/usage"
)

// loadConfig tolerates a missing default config file so the gateway runs
// with defaults out of the box. An explicitly named file must exist.
func loadConfig(path string) (*config.Config, error) {
	if path == defaultConfigName {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return config.Default(), nil
		}
	}
	return config.Load(path)
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return store.NewPostgresStore(cfg.Store.DSN)
	default:
		return store.NewSQLiteStore(cfg.Store.DSN)
	}
}

// runServe wires every component together and runs the gateway until a
// termination signal arrives.
func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if debug {
		cfg.Logging.Level = "debug"
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:          cfg.Logging.Level,
		Format:         cfg.Logging.Format,
		RedactPatterns: cfg.Logging.Redact,
	})
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, observability.TraceConfig{
		ServiceName:    "kirogate",
		ServiceVersion: version,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SampleRate,
		EnableInsecure: cfg.Tracing.Insecure,
	})
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics()
	}

	// Account roster, persistence, and the live pool.
	list, err := accounts.LoadRoster(cfg.Accounts.Path)
	if err != nil {
		return fmt.Errorf("load roster: %w", err)
	}
	roster := accounts.NewRoster(cfg.Accounts.Path, logger)
	defer roster.Close()

	pool := accounts.NewPool(list, accounts.PoolConfig{
		Policy:   accounts.SelectionPolicy(cfg.Accounts.SelectionPolicy),
		Cooldown: cfg.Accounts.Cooldown,
	}, roster, logger)
	logger.Info("roster loaded", "accounts", pool.Len(), "active", pool.ActiveCount())

	if cfg.Accounts.Watch {
		watcher, err := accounts.WatchRoster(ctx, cfg.Accounts.Path, pool, logger)
		if err != nil {
			return fmt.Errorf("watch roster: %w", err)
		}
		defer watcher.Close()
	}

	// Request-log and mapping store with the async telemetry sink.
	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	sink := store.NewAsyncLogSink(st, cfg.Store.LogBuffer, logger)
	defer sink.Close()

	// Token refresh for both auth methods.
	tokens := auth.NewManager(
		auth.NewSocialClient(nil),
		auth.NewIdCClient(),
		pool,
		auth.ManagerConfig{
			RefreshMargin: cfg.Auth.RefreshMargin,
			MaxAttempts:   cfg.Auth.RetryAttempts,
		},
		logger,
	)
	if metrics != nil {
		tokens.SetRecorder(metrics)
	}

	translator := translate.NewTranslator(translate.NewModelMapper(st, logger), logger)
	dispatcher, err := dispatch.NewDispatcher(translator, pool, tokens, sink, dispatch.Config{
		Region:         cfg.Upstream.Region,
		BaseURL:        cfg.Upstream.BaseURL,
		ProxyURL:       cfg.Upstream.ProxyURL,
		KiroVersion:    cfg.Upstream.KiroVersion,
		RequestTimeout: cfg.Upstream.RequestTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("build dispatcher: %w", err)
	}

	// Periodic quota sweep.
	sweeper := usage.NewSweeper(usage.NewProbe(nil, cfg.Upstream.Region), pool, tokens, logger)
	if err := sweeper.Start(cfg.Usage.RefreshSchedule); err != nil {
		return fmt.Errorf("schedule usage sweep: %w", err)
	}
	defer sweeper.Stop()

	srv := server.New(server.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		EnableMetrics:   cfg.Metrics.Enabled,
	}, dispatcher, pool, metrics, logger)
	srv.StartMetricsLoop(ctx, 15*time.Second)

	logger.Info("kirogate starting",
		"version", version,
		"region", cfg.Upstream.Region,
		"store", cfg.Store.Driver,
		"policy", cfg.Accounts.SelectionPolicy,
	)
	return srv.Start(ctx)
}
