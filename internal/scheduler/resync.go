package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrSnakeDoc/smartmarks/internal/logger"
	"github.com/MrSnakeDoc/smartmarks/internal/reconcile"
)

// ViewSet is the set of open views the scheduler maintains.
type ViewSet interface {
	Each(fn func(e *reconcile.Engine))
	Sweep(idle time.Duration) int
	Count() int
}

// Resyncer periodically refetches every open view from the store.
// It bounds how long a view stays stale after its change-feed dropped.
type Resyncer struct {
	views         ViewSet
	logger        logger.Logger
	interval      time.Duration
	stopCh        chan struct{}
	stopOnce      sync.Once
	manualTrigger chan struct{}
	lastRun       atomic.Int64 // unix nanos
}

// NewResyncer creates a new resyncer. manualTrigger may be nil.
func NewResyncer(
	views ViewSet,
	log logger.Logger,
	interval time.Duration,
	manualTrigger chan struct{},
) *Resyncer {
	return &Resyncer{
		views:         views,
		logger:        log,
		interval:      interval,
		stopCh:        make(chan struct{}),
		manualTrigger: manualTrigger,
	}
}

// Start begins the periodic resync process
func (rs *Resyncer) Start(ctx context.Context) error {
	ticker := time.NewTicker(rs.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rs.Resync(ctx)
			case <-rs.manualTrigger:
				rs.logger.Info("manual resync triggered")
				rs.Resync(ctx)
			case <-rs.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop stops the resyncer
func (rs *Resyncer) Stop() {
	rs.stopOnce.Do(func() { close(rs.stopCh) })
}

// Resync refreshes every open view and returns how many failed.
func (rs *Resyncer) Resync(ctx context.Context) int {
	var total, failed int
	rs.views.Each(func(e *reconcile.Engine) {
		total++
		if err := e.Refresh(ctx); err != nil {
			failed++
			rs.logger.Warn("failed to resync view",
				logger.String("owner", e.Owner().ID),
				logger.Error(err))
		}
	})
	rs.lastRun.Store(time.Now().UnixNano())

	if total > 0 {
		rs.logger.Debug("views resynced",
			logger.Int("views", total),
			logger.Int("failed", failed))
	}
	return failed
}

// LastRun returns when Resync last completed, zero if never.
func (rs *Resyncer) LastRun() time.Time {
	n := rs.lastRun.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
