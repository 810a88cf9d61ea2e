package fetcher

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/0x0BSoD/feedRelay/internal/metrics"
	"github.com/0x0BSoD/feedRelay/internal/model"
	"github.com/0x0BSoD/feedRelay/internal/reconciler"
)

type Source interface {
	Fetch(ctx context.Context) (model.Batch, error)
	Commit(batch model.Batch)
}

type Engine interface {
	Run(ctx context.Context, batch model.Batch) (reconciler.Report, error)
}

// Fetcher polls the feed and hands every batch to the reconciliation engine.
type Fetcher struct {
	source Source
	engine Engine

	fetchInterval time.Duration
}

func New(source Source, engine Engine, fetchInterval time.Duration) *Fetcher {
	return &Fetcher{
		source:        source,
		engine:        engine,
		fetchInterval: fetchInterval,
	}
}

// Start runs a cycle immediately and then on every tick until ctx is done. Failed cycles are
// logged and retried on the next tick.
func (f *Fetcher) Start(ctx context.Context) error {
	ticker := time.NewTicker(f.fetchInterval)
	defer ticker.Stop()

	_ = f.Fetch(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_ = f.Fetch(ctx)
		}
	}
}

// Fetch runs one fetch and reconcile cycle. The batch is committed to the source only when the
// cycle handled every entry, so anything that failed is fetched and retried next time.
func (f *Fetcher) Fetch(ctx context.Context) error {
	started := time.Now()

	batch, err := f.source.Fetch(ctx)
	if err != nil {
		slog.Error("failed to fetch feed", "err", err)
		metrics.ObserveCycle(metrics.StatusFetchError, time.Since(started))
		return err
	}

	report, err := f.engine.Run(ctx, batch)
	metrics.ObserveEntries(report.Counts())

	if err != nil {
		var storeErr *reconciler.StoreError
		switch {
		case errors.Is(err, reconciler.ErrCycleInProgress):
			slog.Warn("previous cycle still running, skipping")
			metrics.ObserveCycle(metrics.StatusBusy, time.Since(started))
		case errors.As(err, &storeErr):
			slog.Error("cycle aborted by store failure", "op", storeErr.Op, "err", storeErr.Err)
			metrics.ObserveCycle(metrics.StatusStoreError, time.Since(started))
		default:
			slog.Error("cycle failed", "err", err)
			metrics.ObserveCycle(metrics.StatusError, time.Since(started))
		}
		return err
	}

	if report.NotModified {
		slog.Debug("feed not modified")
		metrics.ObserveCycle(metrics.StatusNotModified, time.Since(started))
		return nil
	}

	// a 304 next time would hide the failed entries until the feed changes
	if report.Failed == 0 {
		f.source.Commit(batch)
	}

	slog.Info("cycle finished",
		"took", time.Since(started).Round(time.Millisecond),
		"seeded", report.Seeded,
		"created", report.Created,
		"updated", report.Updated,
		"rejected", report.Rejected,
		"repaired", report.Repaired,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"malformed", report.Malformed,
	)
	metrics.ObserveCycle(metrics.StatusOK, time.Since(started))

	return nil
}
