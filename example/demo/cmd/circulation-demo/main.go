package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openshelf/circulation-go/circulation/postgresengine"
)

func main() {
	logHandler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: "15:04:05",
	})
	slog.SetDefault(slog.New(logHandler))

	cfg := mustLoadConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		fatal("invalid database DSN", err)
	}

	pgxPool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		fatal("failed to create pgx pool", err)
	}
	defer pgxPool.Close()

	if err = pgxPool.Ping(ctx); err != nil {
		fatal("failed to connect to database", err)
	}

	storeOptions, providers, err := buildStoreOptions(ctx, cfg, logHandler)
	if err != nil {
		fatal("failed to set up observability", err)
	}
	if providers != nil {
		defer func() {
			if shutdownErr := providers.Shutdown(); shutdownErr != nil {
				slog.Error("observability shutdown failed", "error", shutdownErr)
			}
		}()
	}

	store, err := postgresengine.NewCirculationStoreFromPGXPool(pgxPool, storeOptions...)
	if err != nil {
		fatal("failed to create circulation store", err)
	}

	if err = store.Migrate(ctx); err != nil {
		fatal("failed to migrate schema", err)
	}

	var metricsServer *http.Server
	if cfg.ObservabilityBackend == backendPrometheus {
		metricsServer = startMetricsServer(cfg.MetricsListenAddr)
	}

	driver := NewTrafficDriver(store, cfg)
	if err = driver.Seed(ctx); err != nil {
		fatal("failed to seed demo data", err)
	}

	monitor := postgresengine.NewOverdueMonitor(store, time.Duration(cfg.SweepSeconds)*time.Second)
	go monitor.Run(ctx)

	errChan := make(chan error, 1)
	go func() {
		if startErr := driver.Start(ctx); startErr != nil && !errors.Is(startErr, context.Canceled) {
			errChan <- fmt.Errorf("traffic driver failed: %w", startErr)
		}
	}()

	slog.Info("circulation demo started",
		"rate", cfg.Rate,
		"initial_books", cfg.InitialBooks,
		"initial_patrons", cfg.InitialPatrons,
		"scenario_weights", cfg.ScenarioWeights,
		"sweep_interval", time.Duration(cfg.SweepSeconds)*time.Second,
		"observability", cfg.ObservabilityBackend)
	slog.Info("press Ctrl+C to stop")

	select {
	case sig := <-sigChan:
		slog.Info("received signal, initiating graceful shutdown", "signal", sig.String())
		cancel()
	case runErr := <-errChan:
		slog.Error("demo failed", "error", runErr)
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err = driver.Stop(shutdownCtx); err != nil {
		slog.Error("error during shutdown", "error", err)
	}

	if metricsServer != nil {
		if err = metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", "error", err)
		}
	}

	slog.Info("circulation demo stopped")
}

func mustLoadConfig() Config {
	var (
		configPath    = flag.String("config", "", "Path to a TOML config file (optional)")
		rate          = flag.Int("rate", 0, "Requests per second (overrides the config file)")
		observability = flag.String("observability", "", "Observability backend: none|otel|prometheus (overrides the config file)")
	)

	flag.Parse()

	cfg := DefaultConfig()

	if *configPath != "" {
		loaded, err := loadConfigFile(*configPath)
		if err != nil {
			fatal("failed to load config file", err)
		}
		cfg = loaded
	}

	if *rate > 0 {
		cfg.Rate = *rate
	}
	if *observability != "" {
		cfg.ObservabilityBackend = *observability
	}

	if err := cfg.Validate(); err != nil {
		fatal("invalid configuration", err)
	}

	return cfg
}

// startMetricsServer exposes the Prometheus registry on /metrics.
func startMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("metrics endpoint listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "error", err)
		}
	}()

	return server
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}
