package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/pvmonitor/pvdash/internal/alerting"
	"github.com/pvmonitor/pvdash/internal/config"
	"github.com/pvmonitor/pvdash/internal/filterchain"
	"github.com/pvmonitor/pvdash/internal/handlers"
	"github.com/pvmonitor/pvdash/internal/influx"
	"github.com/pvmonitor/pvdash/internal/logging"
	"github.com/pvmonitor/pvdash/internal/metadata"
	"github.com/pvmonitor/pvdash/internal/metrics"
	"github.com/pvmonitor/pvdash/internal/resolver"
	"github.com/pvmonitor/pvdash/internal/router"
	"github.com/pvmonitor/pvdash/internal/services"
)

var (
	Version   = "dev"     // Injected via ldflags during build
	GitCommit = "unknown" // Injected via ldflags during build
	BuildTime = "unknown" // Injected via ldflags during build
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	envFile := flag.String("env", ".env", "Optional env file loaded before configuration")
	flag.Parse()

	// A missing env file is normal in containers.
	_ = godotenv.Load(*envFile)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewFromConfig(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobal(logger)
	logger.Info("Dashboard service starting...",
		"version", Version, "commit", GitCommit, "build time", BuildTime)

	client := influx.New(cfg.Influx, logger)
	defer client.Close()
	if client.Configured() {
		logger.Info("Time-series backend configured", "url", cfg.Influx.URL, "org", cfg.Influx.Org)
	} else {
		logger.Warn("Time-series backend not configured, serving fallbacks", "missing", client.Missing())
	}

	store := metadata.NewStore(cfg.Cache, logger)
	defer func() { _ = store.Close() }()

	res := resolver.New(client, store, cfg.Resolver, logger)

	sessions := filterchain.NewManager(res, filterchain.Options{
		Debounce: cfg.Filters.Debounce,
		Stagger:  cfg.Filters.Stagger,
	}, cfg.Filters.SessionTTL, logger)
	defer sessions.Close()

	metricSvc := metrics.NewService(client, cfg.Influx, cfg.Metrics, logger)
	defer metricSvc.Close()

	grafana := alerting.NewClient(cfg.Grafana, logger)
	if !grafana.Configured() {
		logger.Warn("Alerting backend not configured", "missing", grafana.Missing())
	}
	monitor := alerting.NewMonitor(client, cfg.Influx.Bucket, logger)

	if cfg.Auth.Enabled {
		logger.Info("API key authentication enabled", "num_keys", len(cfg.Auth.APIKeys))
	} else {
		logger.Warn("API key authentication DISABLED - all requests will be allowed")
	}

	app := router.New(logger, cfg, handlers.Deps{
		Explorer:  services.NewExplorerService(client, res, cfg.Cache.LookupTTL, logger),
		Dashboard: services.NewDashboardService(client, metricSvc, monitor, grafana, cfg.Cache.LookupTTL, logger),
		Sessions:  sessions,
		Influx:    client,
		Grafana:   grafana,
	})

	go func() {
		addr := cfg.Server.Address()
		logger.Info("Server listening", "address", addr)
		if err := app.Listen(addr); err != nil {
			logger.Fatal("Failed to start server", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown with 10 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	logger.Info("Server exited")
}
