package worker

import (
	"context"
	"sync"
	"time"

	"github.com/krkn12/cred30-sub003/internal/observability"
	"github.com/krkn12/cred30-sub003/internal/service"
	"go.uber.org/zap"
)

// ExpiryWorker cancels withdrawals that sat unconfirmed past their TTL,
// refunding the up-front debit. Safe to run in multiple instances thanks to
// FOR UPDATE SKIP LOCKED on the candidate query.
type ExpiryWorker struct {
	svc          *service.WithdrawalService
	ttl          time.Duration
	pollInterval time.Duration
	batchSize    int32
	stopCh       chan struct{}
	stopOnce     sync.Once
}

func NewExpiryWorker(svc *service.WithdrawalService, ttl time.Duration) *ExpiryWorker {
	return &ExpiryWorker{
		svc:          svc,
		ttl:          ttl,
		pollInterval: time.Minute,
		batchSize:    50,
		stopCh:       make(chan struct{}),
	}
}

// WithPollInterval sets how often the worker scans for stale withdrawals.
func (w *ExpiryWorker) WithPollInterval(interval time.Duration) *ExpiryWorker {
	if interval > 0 {
		w.pollInterval = interval
	}
	return w
}

// WithBatchSize caps how many withdrawals one sweep cancels.
func (w *ExpiryWorker) WithBatchSize(size int32) *ExpiryWorker {
	if size > 0 {
		w.batchSize = size
	}
	return w
}

// Start blocks and sweeps until Stop is called or the context ends.
func (w *ExpiryWorker) Start(ctx context.Context) {
	zap.L().Info("withdrawal expiry worker starting",
		zap.Duration("ttl", w.ttl),
		zap.Duration("poll_interval", w.pollInterval),
		zap.Int32("batch_size", w.batchSize),
	)
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("withdrawal expiry worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("withdrawal expiry worker stop signal received")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// Stop signals the worker to stop.
func (w *ExpiryWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *ExpiryWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

// SweepOnce runs a single sweep immediately. Useful for manual triggering.
func (w *ExpiryWorker) SweepOnce(ctx context.Context) (int, error) {
	return w.svc.ExpireStale(ctx, w.ttl, w.batchSize)
}

func (w *ExpiryWorker) sweep(ctx context.Context) {
	if _, err := w.svc.ExpireStale(ctx, w.ttl, w.batchSize); err != nil {
		observability.IncrementWorkerRun("withdrawal_expiry", "failed")
		zap.L().Error("withdrawal expiry sweep failed", zap.Error(err))
		return
	}
	observability.IncrementWorkerRun("withdrawal_expiry", "success")
}
