// Command yieldserver serves yield predictions from a trained artifact set
// and runs field imagery analyses.
//
// Routes:
//
//	POST /predict   score farm-season records
//	POST /analyze   indices, health, zones and change for one field
//	GET  /model     current model selection
//	GET  /healthz   503 until an artifact set is loaded
//	GET  /metrics   Prometheus metrics
//
// Usage:
//
//	yieldserver -artifact-dir=./artifacts -listen=:8080 \
//	  -imagery-url=https://imagery.internal -imagery-token=$TOKEN
//
// Imagery settings are optional. Without them /analyze still computes
// indices, health and zones, and reports change detection as unavailable.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/HatiCode/agroyield/cmd/yieldserver/config"
	"github.com/HatiCode/agroyield/cmd/yieldserver/metrics"
	"github.com/HatiCode/agroyield/cmd/yieldserver/router"
	"github.com/HatiCode/agroyield/internal/appconfig"
	"github.com/HatiCode/agroyield/pkg/analysis"
	"github.com/HatiCode/agroyield/pkg/change"
	"github.com/HatiCode/agroyield/pkg/ensemble"
	"github.com/HatiCode/agroyield/pkg/httpx"
	"github.com/HatiCode/agroyield/pkg/imagery"
	agrotls "github.com/HatiCode/agroyield/pkg/tls"
	"github.com/HatiCode/agroyield/pkg/zones"
)

// version is set via ldflags at build time
var version = "dev"

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(2)
	}

	logger := appconfig.NewLogger(cfg.Common, os.Stderr)
	slog.SetDefault(logger)
	logger.Info("starting agroyield server", "version", version, "listen", cfg.Listen, "storage", cfg.Storage)

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	store, closeStore, err := appconfig.OpenStore(cfg.Common, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Error("failed to close store", "error", err)
		}
	}()

	registry := ensemble.NewRegistry(store, logger)
	rl := &reloader{registry: registry, logger: logger, metrics: m}
	if err := rl.load(ctx); err != nil {
		logger.Warn("no usable artifact set; /predict answers 503 until one is loaded", "error", err)
	}
	if cfg.ReloadInterval > 0 {
		go rl.run(ctx, cfg.ReloadInterval)
	}

	var (
		source    change.ImageSource
		historian analysis.Historian
	)
	client, err := imagery.New(cfg.Imagery, logger)
	if err != nil {
		logger.Warn("imagery disabled; change detection unavailable", "error", err)
	} else {
		defer client.Close()
		source, historian = client, client
	}
	processor := analysis.NewProcessor(source, historian, zones.Options{Seed: cfg.ZoneSeed}, logger, m)

	deps := routerDeps(cfg, logger)
	deps.Predictor = registry
	deps.Analyzer = processor
	deps.Metrics = promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
	deps.Recorder = m
	mux := router.SetupRoutes(deps)

	srv := httpx.NewServer(cfg.Listen, mux, logger)
	if cfg.TLS.Enabled {
		tlsCfg, err := agrotls.ServerConfig(cfg.TLS)
		if err != nil {
			return fmt.Errorf("server tls: %w", err)
		}
		srv.EnableTLS(tlsCfg, cfg.TLS.CertFile, cfg.TLS.KeyFile)
	}
	return srv.Run(ctx, cfg.DrainTimeout)
}

// routerDeps carries the request limits from cfg into the route setup.
func routerDeps(cfg *config.Config, logger *slog.Logger) router.Deps {
	return router.Deps{
		Logger:         logger,
		MaxBodyBytes:   cfg.MaxBodyBytes,
		RequestTimeout: cfg.RequestTimeout,
	}
}
