package refresh

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RegistryLister enumerates registries for the scheduled worker.
type RegistryLister interface {
	ListRegistryIDs() ([]string, error)
}

// Worker periodically runs a scheduled refresh cycle for every registry.
// The budget gate and freshness policy inside RunCycle keep repeated passes
// cheap: a pass where nothing is due makes no preview calls.
type Worker struct {
	orch       *Orchestrator
	registries RegistryLister
	interval   time.Duration
	logger     *slog.Logger
}

// NewWorker creates a Worker. If interval is <= 0, it defaults to one hour.
func NewWorker(orch *Orchestrator, registries RegistryLister, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Worker{
		orch:       orch,
		registries: registries,
		interval:   interval,
		logger:     slog.Default(),
	}
}

// Run executes refresh passes until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		if err := w.RunOnce(ctx); err != nil {
			w.logger.Error("scheduled refresh pass failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.interval):
		}
	}
}

// RunOnce runs one scheduled cycle per registry. A failing registry does
// not stop the pass.
func (w *Worker) RunOnce(ctx context.Context) error {
	ids, err := w.registries.ListRegistryIDs()
	if err != nil {
		return fmt.Errorf("listing registries: %w", err)
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			return nil
		}
		if _, err := w.orch.RunCycle(ctx, id, ModeScheduled, time.Now().UTC()); err != nil {
			w.logger.Error("refresh cycle failed", "registry", id, "error", err)
		}
	}
	return nil
}
