package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/MrSnakeDoc/smartmarks/internal/logger"
)

const (
	// DefaultIdleTTL is how long a view may go unused before it is closed
	DefaultIdleTTL = 30 * time.Minute
)

// Reaper closes views nobody has used for a while, releasing their change-feed subscriptions.
type Reaper struct {
	views     ViewSet
	logger    logger.Logger
	interval  time.Duration
	threshold time.Duration
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// NewReaper creates a new reaper
func NewReaper(
	views ViewSet,
	log logger.Logger,
	interval time.Duration,
	threshold time.Duration,
) *Reaper {
	if threshold == 0 {
		threshold = DefaultIdleTTL
	}

	return &Reaper{
		views:     views,
		logger:    log,
		interval:  interval,
		threshold: threshold,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the periodic reaping process
func (rp *Reaper) Start(ctx context.Context) error {
	ticker := time.NewTicker(rp.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rp.Collect()
			case <-rp.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop stops the reaper
func (rp *Reaper) Stop() {
	rp.stopOnce.Do(func() { close(rp.stopCh) })
}

// Collect closes idle views and returns how many were closed
func (rp *Reaper) Collect() int {
	closed := rp.views.Sweep(rp.threshold)

	if closed > 0 {
		rp.logger.Info("closed idle views",
			logger.Int("closed", closed),
			logger.Int("remaining", rp.views.Count()),
			logger.String("idle_for", rp.threshold.String()))
	} else {
		rp.logger.Debug("no idle views to close")
	}

	return closed
}
