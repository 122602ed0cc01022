package enrichment

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

// AssetAttacher is what the dispatcher runs in the background.
type AssetAttacher interface {
	AttachAssets(ctx context.Context, eventID, description string)
}

// Dispatcher runs enrichment on a bounded worker pool, detached from the request that triggered it.
// Dispatch never blocks the caller; jobs beyond the pool size wait for a free worker.
type Dispatcher struct {
	pool     *ants.Pool
	attacher AssetAttacher
	timeout  time.Duration
	logger   *zap.Logger
	pending  sync.WaitGroup
}

// DispatcherConfig tunes the pool.
type DispatcherConfig struct {
	PoolSize   int
	JobTimeout time.Duration
	Logger     *zap.Logger
}

// NewDispatcher builds the pool. A non-positive size defaults to half the CPUs.
func NewDispatcher(attacher AssetAttacher, cfg DispatcherConfig) (*Dispatcher, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	size := cfg.PoolSize
	if size < 1 {
		size = runtime.NumCPU() / 2
		if size < 1 {
			size = 1
		}
	}
	timeout := cfg.JobTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	pool, err := ants.NewPool(size,
		ants.WithPanicHandler(func(recovered any) {
			logger.Error("enrichment job panicked", zap.String("panic", fmt.Sprint(recovered)))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("enrichment: create pool: %w", err)
	}
	return &Dispatcher{pool: pool, attacher: attacher, timeout: timeout, logger: logger}, nil
}

// Dispatch schedules AttachAssets for an event and returns immediately.
// Submission happens on its own goroutine because the pool blocks while every worker is busy.
func (d *Dispatcher) Dispatch(eventID, description string) {
	d.pending.Add(1)
	go func() {
		err := d.pool.Submit(func() {
			defer d.pending.Done()
			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			defer cancel()
			d.attacher.AttachAssets(ctx, eventID, description)
		})
		if err != nil {
			d.pending.Done()
			d.logger.Warn("enrichment job not scheduled", zap.String("event_id", eventID), zap.Error(err))
		}
	}()
}

// Wait blocks until every accepted job has finished.
func (d *Dispatcher) Wait() {
	d.pending.Wait()
}

// Release stops the pool, waiting up to timeout for running jobs.
func (d *Dispatcher) Release(timeout time.Duration) error {
	return d.pool.ReleaseTimeout(timeout)
}
