// Command trainer fits the yield models on a CSV of farm-season records and
// persists the resulting artifact set for yieldserver.
//
// Usage:
//
//	trainer -input=data/farms.csv -artifact-dir=./artifacts -trials=50
//
// Environment variables mirror the flags (INPUT, ARTIFACT_DIR, TRIALS,
// FOLDS, FAMILIES, STORAGE, REDIS_ADDR, LOG_LEVEL, ...). See -help.
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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/HatiCode/agroyield/cmd/trainer/config"
	"github.com/HatiCode/agroyield/cmd/trainer/metrics"
	"github.com/HatiCode/agroyield/internal/appconfig"
	"github.com/HatiCode/agroyield/pkg/features"
	"github.com/HatiCode/agroyield/pkg/httpx"
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
	logger.Info("starting agroyield trainer",
		"version", version,
		"input", cfg.Input,
		"storage", cfg.Storage,
		"families", cfg.Families,
		"trials", cfg.Trials,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		srv := httpx.NewServer(cfg.MetricsAddr, mux, logger)
		metricsCtx, cancelMetrics := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := srv.Run(metricsCtx, 5*time.Second); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer func() {
			cancelMetrics()
			<-done
		}()
	}

	if err := run(ctx, cfg, logger, m); err != nil {
		m.RecordRun("failure")
		logger.Error("training failed", "error", err)
		stop()
		os.Exit(1)
	}
	m.RecordRun("success")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) error {
	store, closeStore, err := appconfig.OpenStore(cfg.Common, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Error("failed to close store", "error", err)
		}
	}()

	f, err := os.Open(cfg.Input)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	records, err := features.LoadCSV(f, logger)
	f.Close()
	if err != nil {
		return fmt.Errorf("load records: %w", err)
	}

	_, err = train(ctx, cfg, records, store, logger, m)
	return err
}
