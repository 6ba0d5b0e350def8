// Package aggregator folds the append-only event log into per-tenant,
// per-day metrics rows so dashboard reads never scan raw events.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xaenox/chatflow/internal/models"
	"github.com/xaenox/chatflow/internal/storage"
)

const (
	DefaultInterval  = 5 * time.Minute
	DefaultRetention = 90 * 24 * time.Hour

	// batchLimit caps how many new events one pass reads per tenant;
	// the remainder carries over to the next tick via the watermark.
	batchLimit = 5000

	retryAttempts = 3
	retryDelay    = 500 * time.Millisecond
)

type Worker struct {
	store     storage.Store
	logger    *zap.Logger
	interval  time.Duration
	retention time.Duration
	parallel  int

	mu       sync.Mutex
	inflight map[string]bool
}

func NewWorker(store storage.Store, interval, retention time.Duration, logger *zap.Logger) *Worker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Worker{
		store:     store,
		logger:    logger,
		interval:  interval,
		retention: retention,
		parallel:  4,
		inflight:  make(map[string]bool),
	}
}

// Run aggregates once immediately, then on every tick until ctx is
// cancelled. Cancellation mid-pass loses at most the in-flight date of
// the current tenant: each (tenant, date) upsert is atomic and the
// watermark only advances after a tenant's dates are all written.
func (w *Worker) Run(ctx context.Context) {
	w.RunOnce(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.RunOnce(ctx)
		case <-ctx.Done():
			w.logger.Info("Aggregation worker stopped")
			return
		}
	}
}

// RunOnce executes a single aggregation pass over all tenants. Tenants
// are independent: one tenant's failure is logged and retried on the
// next pass without blocking the others.
func (w *Worker) RunOnce(ctx context.Context) {
	tenants, err := w.store.ListTenants(ctx)
	if err != nil {
		w.logger.Error("Failed to list tenants for aggregation", zap.Error(err))
		return
	}

	var g errgroup.Group
	g.SetLimit(w.parallel)
	for _, tenant := range tenants {
		tenant := tenant
		g.Go(func() error {
			if err := w.AggregateTenant(ctx, tenant.ID); err != nil {
				w.logger.Error("Tenant aggregation failed",
					zap.Error(err),
					zap.String("tenant_id", tenant.ID))
			}
			return nil
		})
	}
	g.Wait()

	if removed, err := w.store.DeleteEventsBefore(ctx, time.Now().Add(-w.retention)); err != nil {
		w.logger.Error("Event retention cleanup failed", zap.Error(err))
	} else if removed > 0 {
		w.logger.Info("Old events removed", zap.Int64("count", removed))
	}
}

// AggregateTenant folds the tenant's events past its watermark into
// daily metrics. At most one pass per tenant runs at a time; a second
// caller returns immediately.
func (w *Worker) AggregateTenant(ctx context.Context, tenantID string) error {
	if !w.acquire(tenantID) {
		return nil
	}
	defer w.release(tenantID)

	watermark, err := w.store.GetWatermark(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to read watermark: %w", err)
	}

	events, err := w.store.GetEventsAfter(ctx, tenantID, watermark, batchLimit)
	if err != nil {
		return fmt.Errorf("failed to read new events: %w", err)
	}
	if len(events) == 0 {
		return nil
	}

	// Recompute every date the new events touch from that date's full
	// event set. Re-running a range is a no-op in effect, not a
	// double-count.
	dates := make(map[time.Time]struct{})
	maxSeq := watermark
	for _, event := range events {
		dates[storage.Day(event.CreatedAt)] = struct{}{}
		if event.Seq > maxSeq {
			maxSeq = event.Seq
		}
	}

	for date := range dates {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.aggregateDate(ctx, tenantID, date); err != nil {
			return err
		}
	}

	if err := withRetry(ctx, func() error {
		return w.store.SetWatermark(ctx, tenantID, maxSeq)
	}); err != nil {
		return fmt.Errorf("failed to advance watermark: %w", err)
	}

	w.logger.Debug("Tenant aggregated",
		zap.String("tenant_id", tenantID),
		zap.Int("events", len(events)),
		zap.Int64("watermark", maxSeq))
	return nil
}

func (w *Worker) aggregateDate(ctx context.Context, tenantID string, date time.Time) error {
	events, err := w.store.GetEventsForDate(ctx, tenantID, date)
	if err != nil {
		return fmt.Errorf("failed to read events for %s: %w", date.Format("2006-01-02"), err)
	}

	metrics := Fold(tenantID, date, events)
	if err := withRetry(ctx, func() error {
		return w.store.UpsertDailyMetrics(ctx, metrics)
	}); err != nil {
		return fmt.Errorf("failed to upsert metrics for %s: %w", date.Format("2006-01-02"), err)
	}
	return nil
}

// GetDailyMetrics serves dashboard reads from the pre-aggregated rows
// only; it never touches raw events.
func (w *Worker) GetDailyMetrics(ctx context.Context, tenantID string, from, to time.Time) ([]*models.DailyMetrics, error) {
	return w.store.GetDailyMetrics(ctx, tenantID, from, to)
}

func (w *Worker) acquire(tenantID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.inflight[tenantID] {
		return false
	}
	w.inflight[tenantID] = true
	return true
}

func (w *Worker) release(tenantID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.inflight, tenantID)
}

// withRetry retries transient store failures a bounded number of times.
// Validation errors are surfaced immediately.
func withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if errors.Is(err, models.ErrInvalidPayload) || errors.Is(err, storage.ErrDuplicate) {
			return err
		}
		select {
		case <-time.After(retryDelay * time.Duration(attempt+1)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
