package main

import (
	"context"
	"log/slog"
	"time"
)

// loader is the subset of *ensemble.Registry the reload loop needs.
type loader interface {
	Load(ctx context.Context) error
	Ready() bool
}

type reloadRecorder interface {
	RecordReload(ok, ready bool)
}

// reloader refreshes the installed artifact set from storage so replicas
// pick up a new training run without a restart.
type reloader struct {
	registry loader
	logger   *slog.Logger
	metrics  reloadRecorder
}

// load runs one reload. A failed reload keeps the previously installed set.
func (r *reloader) load(ctx context.Context) error {
	err := r.registry.Load(ctx)
	ready := r.registry.Ready()
	if r.metrics != nil {
		r.metrics.RecordReload(err == nil, ready)
	}
	if err != nil {
		r.logger.Warn("artifact reload failed", "error", err, "serving", ready)
		return err
	}
	return nil
}

// run reloads every interval until ctx ends.
func (r *reloader) run(ctx context.Context, interval time.Duration) {
	r.logger.Info("starting artifact reload loop", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("artifact reload loop stopped")
			return
		case <-ticker.C:
			_ = r.load(ctx)
		}
	}
}
