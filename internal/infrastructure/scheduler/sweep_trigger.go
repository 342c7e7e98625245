package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ordo/vendor-engine/internal/domain/vendor"
)

// PairSource enumerates the linked office-vendor pairs to sweep.
type PairSource interface {
	ActivePairs(ctx context.Context) ([]vendor.OfficeVendor, error)
}

// SweepTriggerConfig holds configuration for the periodic sweep.
type SweepTriggerConfig struct {
	// Interval is how often every linked pair is queued for a fetch.
	Interval time.Duration
}

// DefaultSweepTriggerConfig returns default sweep configuration.
func DefaultSweepTriggerConfig() SweepTriggerConfig {
	return SweepTriggerConfig{Interval: 6 * time.Hour}
}

// SweepTrigger periodically queues a history fetch for every linked pair.
// Pairs already queued or running are skipped silently; a full queue ends
// the sweep early and the next interval retries.
type SweepTrigger struct {
	config    SweepTriggerConfig
	scheduler *HistoryScheduler
	pairs     PairSource
	logger    *zap.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// NewSweepTrigger creates a sweep trigger.
func NewSweepTrigger(config SweepTriggerConfig, scheduler *HistoryScheduler, pairs PairSource, logger *zap.Logger) *SweepTrigger {
	return &SweepTrigger{
		config:    config,
		scheduler: scheduler,
		pairs:     pairs,
		logger:    logger,
	}
}

// Start starts the sweep loop.
func (t *SweepTrigger) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.isRunning {
		t.mu.Unlock()
		return nil
	}
	t.isRunning = true
	t.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	t.wg.Add(1)
	go t.runLoop(ctx)

	t.logger.Info("History sweep trigger started",
		zap.Duration("interval", t.config.Interval))
	return nil
}

// Stop stops the sweep loop.
func (t *SweepTrigger) Stop() {
	t.mu.Lock()
	if !t.isRunning {
		t.mu.Unlock()
		return
	}
	t.isRunning = false
	t.mu.Unlock()

	if t.cancel != nil {
		t.cancel()
	}
	t.wg.Wait()
}

func (t *SweepTrigger) runLoop(ctx context.Context) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.config.Interval)
	defer ticker.Stop()

	// First sweep happens immediately on start.
	t.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.sweep(ctx)
		}
	}
}

func (t *SweepTrigger) sweep(ctx context.Context) {
	pairs, err := t.pairs.ActivePairs(ctx)
	if err != nil {
		t.logger.Error("Sweep could not list active pairs", zap.Error(err))
		return
	}

	queued, skipped := 0, 0
	for _, pair := range pairs {
		err := t.scheduler.ScheduleFetchWithDefaults(pair)
		switch {
		case err == nil:
			queued++
		case errors.Is(err, ErrFetchAlreadyQueued):
			skipped++
		case errors.Is(err, ErrJobQueueFull):
			t.logger.Warn("Sweep ended early, job queue full",
				zap.Int("queued", queued),
				zap.Int("remaining", len(pairs)-queued-skipped))
			return
		case errors.Is(err, ErrSchedulerNotRunning):
			return
		default:
			t.logger.Error("Sweep could not queue pair",
				zap.String("office_id", pair.OfficeID.String()),
				zap.String("slug", pair.Slug.String()),
				zap.Error(err))
		}
	}

	t.logger.Info("History sweep queued",
		zap.Int("pairs", len(pairs)),
		zap.Int("queued", queued),
		zap.Int("skipped", skipped))
}
