// Package worker drives due scheduled items through the dispatcher.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/postforge-api/internal/metrics"
	"github.com/jmylchreest/postforge-api/internal/models"
	"github.com/jmylchreest/postforge-api/internal/repository"
	"github.com/jmylchreest/postforge-api/internal/service"
)

// Dispatcher publishes one claimed item.
type Dispatcher interface {
	Dispatch(ctx context.Context, item *models.ScheduledItem) (*service.DispatchOutcome, error)
}

// Worker polls for due items. Each poller claims with a conditional update,
// so any number of pollers across any number of processes never dispatch the
// same item concurrently.
type Worker struct {
	items        repository.ScheduledItemRepository
	dispatcher   Dispatcher
	pollInterval time.Duration
	concurrency  int
	lease        time.Duration
	stop         chan struct{}
	stopOnce     sync.Once
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	logger       *slog.Logger
	now          func() time.Time
}

// Config holds worker configuration.
type Config struct {
	PollInterval time.Duration
	Concurrency  int
	// Lease is how long a claimed item stays reserved for one poller.
	Lease time.Duration
}

// New creates a new worker.
func New(items repository.ScheduledItemRepository, dispatcher Dispatcher, cfg Config, logger *slog.Logger) *Worker {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 3
	}
	if cfg.Lease == 0 {
		cfg.Lease = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		items:        items,
		dispatcher:   dispatcher,
		pollInterval: cfg.PollInterval,
		concurrency:  cfg.Concurrency,
		lease:        cfg.Lease,
		stop:         make(chan struct{}),
		logger:       logger.With("component", "worker"),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Start begins polling.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("starting", "concurrency", w.concurrency, "poll_interval", w.pollInterval)

	ctx, w.cancel = context.WithCancel(ctx)
	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.runWorker(ctx, i)
	}
}

// Stop stops polling and waits for running dispatches. When ctx ends first
// the running dispatches are cancelled; their attempts are left for the next
// claim once the lease expires.
func (w *Worker) Stop(ctx context.Context) error {
	w.logger.Info("stopping")
	w.stopOnce.Do(func() { close(w.stop) })

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("stopped")
		return nil
	case <-ctx.Done():
		w.logger.Warn("shutdown grace period exceeded, cancelling dispatches")
		if w.cancel != nil {
			w.cancel()
		}
		<-done
		return ctx.Err()
	}
}

func (w *Worker) runWorker(ctx context.Context, workerID int) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Drain everything due before waiting for the next tick.
			for w.processNext(ctx, workerID) {
				select {
				case <-w.stop:
					return
				default:
				}
			}
		}
	}
}

// processNext claims and dispatches one due item. It reports whether an
// item was claimed.
func (w *Worker) processNext(ctx context.Context, workerID int) bool {
	if ctx.Err() != nil {
		return false
	}

	token := ulid.Make().String()
	item, err := w.items.ClaimDue(ctx, token, w.now(), w.lease)
	if err != nil {
		metrics.SchedulerClaimsTotal.WithLabelValues("error").Inc()
		w.logger.Error("failed to claim item", "worker_id", workerID, "error", err)
		return false
	}
	if item == nil {
		metrics.SchedulerClaimsTotal.WithLabelValues("empty").Inc()
		return false
	}
	metrics.SchedulerClaimsTotal.WithLabelValues("claimed").Inc()

	w.logger.Info("dispatching item",
		"worker_id", workerID,
		"item_id", item.ID,
		"destinations", len(item.Destinations),
	)

	metrics.SchedulerActiveDispatches.Inc()
	defer metrics.SchedulerActiveDispatches.Dec()

	outcome, err := w.dispatcher.Dispatch(ctx, item)
	if err != nil {
		w.logger.Error("dispatch failed", "worker_id", workerID, "item_id", item.ID, "error", err)
		return true
	}

	w.logger.Info("dispatch pass complete",
		"worker_id", workerID,
		"item_id", item.ID,
		"status", outcome.Status,
	)
	return true
}
