package service

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/sheryldeakin/mindstorm-sub000/internal/model"
	registrystore "github.com/sheryldeakin/mindstorm-sub000/internal/registry/store"
	"github.com/sheryldeakin/mindstorm-sub000/internal/security"
	"golang.org/x/sync/errgroup"
)

// Worker polls the scope ledger for stale scopes and recomputes them kind by
// kind: theme series, then connections, then cycles, then snapshots.
type Worker struct {
	svc         *Service
	interval    time.Duration
	concurrency int
	batch       int
}

// TickStats summarizes one worker pass.
type TickStats struct {
	Scopes     int
	Recomputed int
	Superseded int
	Failed     int
}

// NewWorker creates a worker using the service's configuration.
func NewWorker(svc *Service) *Worker {
	concurrency := svc.cfg.WorkerConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &Worker{
		svc:         svc,
		interval:    svc.cfg.WorkerInterval,
		concurrency: concurrency,
		batch:       svc.cfg.ResolvedWorkerBatchSize(),
	}
}

// Start runs one pass immediately and then one per interval until ctx is
// cancelled.
func (w *Worker) Start(ctx context.Context) {
	if w == nil || w.svc == nil || w.interval <= 0 {
		return
	}
	if w.svc.cfg.WorkerDisabled {
		log.Info("Derived worker disabled")
		return
	}
	log.Info("Derived worker started", "interval", w.interval, "concurrency", w.concurrency)
	w.RunOnce(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs one scan over every kind. Per-scope failures are logged
// and left stale for the next pass.
func (w *Worker) RunOnce(ctx context.Context) TickStats {
	security.CountWorkerTick()
	var total TickStats
	for _, kind := range model.DerivedKinds {
		if ctx.Err() != nil {
			break
		}
		stats := w.runKind(ctx, kind)
		total.Scopes += stats.Scopes
		total.Recomputed += stats.Recomputed
		total.Superseded += stats.Superseded
		total.Failed += stats.Failed
	}
	if total.Scopes > 0 {
		log.Info("Derived worker tick finished",
			"scopes", total.Scopes, "recomputed", total.Recomputed, "superseded", total.Superseded, "failed", total.Failed)
	}
	return total
}

func (w *Worker) runKind(ctx context.Context, kind model.DerivedKind) TickStats {
	scopes, err := w.svc.store.ListStaleScopes(ctx, kind, w.batch)
	if err != nil {
		log.Error("Derived worker: list stale scopes failed", "kind", kind, "err", err)
		return TickStats{}
	}
	var recomputed, superseded, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(w.concurrency)
	for _, scope := range scopes {
		g.Go(func() error {
			err := w.svc.Recompute(ctx, kind, scope.UserID, scope.RangeKey)
			switch {
			case err == nil:
				recomputed.Add(1)
			case registrystore.IsSuperseded(err):
				superseded.Add(1)
				log.Debug("Derived worker: recompute superseded", "kind", kind, "user", scope.UserID, "range", scope.RangeKey)
			default:
				failed.Add(1)
				log.Error("Derived worker: recompute failed", "kind", kind, "user", scope.UserID, "range", scope.RangeKey, "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return TickStats{
		Scopes:     len(scopes),
		Recomputed: int(recomputed.Load()),
		Superseded: int(superseded.Load()),
		Failed:     int(failed.Load()),
	}
}
