package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"time"

	"github.com/migadu/sieveforge/analyze"
	"github.com/migadu/sieveforge/config"
	"github.com/migadu/sieveforge/logger"
	"github.com/migadu/sieveforge/pkg/metrics"
	"github.com/migadu/sieveforge/server/httpapi"
	"github.com/migadu/sieveforge/storage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to TOML configuration file")
	collectInterval := fs.Duration("collect-interval", time.Minute, "How often to refresh the stored-scripts gauge")

	fs.Usage = func() {
		fmt.Fprintf(stderr, `Run the HTTP API and metrics servers

Usage:
  sieveforge serve [options]

The HTTP API is configured in [http_api] and needs an API key, either in
the file or in SIEVEFORGE_HTTP_API_KEY. Metrics are served when
[metrics] enabled is true.

Options:
  --collect-interval duration  How often to refresh the stored-scripts gauge (default: 1m)
  --config string              Path to TOML configuration file (default: %s)
`, defaultConfigPath)
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	env, err := setup(fs, *configPath)
	if err != nil {
		return err
	}
	defer env.close()
	cfg := env.cfg

	logger.Info("sieveforge starting", "version", version, "commit", commit, "built", date)
	logger.Info("Logging configured", "format", cfg.Logging.Format, "level", cfg.Logging.Level)

	repo, err := storage.New(cfg.Storage, env.backoff)
	if err != nil {
		return err
	}

	collector := metrics.NewCollector(repo, *collectInterval)
	go collector.Start(ctx)
	defer collector.Stop()

	errChan := make(chan error, 2)
	go httpapi.Start(ctx, analyze.NewPipeline(cfg), repo, cfg.HTTPAPI, errChan)
	if cfg.Metrics.Enabled {
		go startMetricsServer(ctx, cfg.Metrics, errChan)
	}

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
		// Let the servers finish their graceful shutdown.
		time.Sleep(time.Second)
		return nil
	case err := <-errChan:
		return err
	}
}

func startMetricsServer(ctx context.Context, cfg config.MetricsConfig, errChan chan error) {
	path := cfg.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("Shutting down metrics server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Error shutting down metrics server", "error", err)
		}
	}()

	logger.Info("Metrics server listening", "addr", cfg.Addr, "path", path)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		errChan <- fmt.Errorf("metrics server failed: %w", err)
	}
}
