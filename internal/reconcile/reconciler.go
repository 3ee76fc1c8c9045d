package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"ms-checkin/internal/logger"
	"ms-checkin/internal/models"
)

// ErrSyncFailure means the backend did not acknowledge a batch. The queue is
// left as it was.
var ErrSyncFailure = errors.New("sync batch not acknowledged")

// Queue is the local side of the sync queue.
type Queue interface {
	ListUnsyncedCheckins(ctx context.Context) ([]models.CheckinQueueEntry, error)
	AcknowledgeSynced(ctx context.Context, entries []models.CheckinQueueEntry) error
}

// Backend accepts a batch of offline check-ins.
type Backend interface {
	SyncOfflineCheckins(ctx context.Context, entries []models.CheckinQueueEntry) error
}

// Result describes one run.
type Result struct {
	Submitted int
	// Skipped is set when another run was already in flight.
	Skipped bool
}

// Reconciler drains the offline queue to the backend, one run at a time.
type Reconciler struct {
	queue   Queue
	backend Backend
	logger  *logger.Logger

	running atomic.Bool
	lastRun atomic.Int64
}

func NewReconciler(queue Queue, backend Backend, log *logger.Logger) *Reconciler {
	return &Reconciler{queue: queue, backend: backend, logger: log}
}

// Run submits everything queued as one batch. A call made while another run
// is in flight returns immediately with Skipped set. On failure nothing is
// removed, so the next run retries the same entries.
func (r *Reconciler) Run(ctx context.Context) (Result, error) {
	if !r.running.CompareAndSwap(false, true) {
		r.logger.Debug("SYNC", "Run already in flight, skipping")
		return Result{Skipped: true}, nil
	}
	defer r.running.Store(false)

	entries, err := r.queue.ListUnsyncedCheckins(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("read sync queue: %w", err)
	}
	if len(entries) == 0 {
		r.lastRun.Store(time.Now().Unix())
		return Result{}, nil
	}

	r.logger.LogSync("SUBMIT", fmt.Sprintf("%d queued check-ins", len(entries)))
	if err := r.backend.SyncOfflineCheckins(ctx, entries); err != nil {
		r.logger.Warn("SYNC", fmt.Sprintf("Batch of %d not acknowledged: %v", len(entries), err))
		return Result{}, fmt.Errorf("%w: %v", ErrSyncFailure, err)
	}

	// The backend has the batch; a failure here only means it is sent again.
	if err := r.queue.AcknowledgeSynced(ctx, entries); err != nil {
		r.logger.Error("SYNC", fmt.Sprintf("Batch acknowledged but local cleanup failed: %v", err))
		return Result{Submitted: len(entries)}, fmt.Errorf("acknowledge synced batch: %w", err)
	}

	r.lastRun.Store(time.Now().Unix())
	r.logger.LogSync("DONE", fmt.Sprintf("%d check-ins synced", len(entries)))
	return Result{Submitted: len(entries)}, nil
}

// Running reports whether a run is in flight.
func (r *Reconciler) Running() bool {
	return r.running.Load()
}

// LastSuccess returns the time of the last run that left the queue empty or
// acknowledged, zero before the first.
func (r *Reconciler) LastSuccess() time.Time {
	unix := r.lastRun.Load()
	if unix == 0 {
		return time.Time{}
	}
	return time.Unix(unix, 0)
}

// Start runs the reconciler on every tick of interval and on every value
// received from triggers, until ctx is cancelled.
func (r *Reconciler) Start(ctx context.Context, interval time.Duration, triggers <-chan struct{}) {
	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	run := func(reason string) {
		r.logger.Debug("SYNC", "Run triggered by "+reason)
		if _, err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Warn("SYNC", err.Error())
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			run("timer")
		case _, ok := <-triggers:
			if !ok {
				triggers = nil
				continue
			}
			run("connectivity")
		}
	}
}
