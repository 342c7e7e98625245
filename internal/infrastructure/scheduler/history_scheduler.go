package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ordo/vendor-engine/internal/domain/shared"
	"github.com/ordo/vendor-engine/internal/domain/vendor"
)

// ---------------------------------------------------------------------------
// History Fetch Job Types
// ---------------------------------------------------------------------------

// HistoryFetchJobStatus represents the status of a scheduled history fetch.
type HistoryFetchJobStatus string

const (
	HistoryFetchJobStatusPending HistoryFetchJobStatus = "PENDING"
	HistoryFetchJobStatusRunning HistoryFetchJobStatus = "RUNNING"
	HistoryFetchJobStatusSuccess HistoryFetchJobStatus = "SUCCESS"
	HistoryFetchJobStatusSkipped HistoryFetchJobStatus = "SKIPPED"
	HistoryFetchJobStatusFailed  HistoryFetchJobStatus = "FAILED"
)

// HistoryFetchJob represents one scheduled order history fetch for an
// office-vendor pair.
type HistoryFetchJob struct {
	ID          uuid.UUID
	Pair        vendor.OfficeVendor
	Range       vendor.DateRange
	Status      HistoryFetchJobStatus
	Error       string
	StartedAt   *time.Time
	CompletedAt *time.Time

	// Fetch results
	Created int
	Updated int
}

// NewHistoryFetchJob creates a pending fetch job.
func NewHistoryFetchJob(pair vendor.OfficeVendor, rng vendor.DateRange) *HistoryFetchJob {
	return &HistoryFetchJob{
		ID:     uuid.New(),
		Pair:   pair,
		Range:  rng,
		Status: HistoryFetchJobStatusPending,
	}
}

func (j *HistoryFetchJob) start() {
	now := time.Now()
	j.Status = HistoryFetchJobStatusRunning
	j.StartedAt = &now
	j.Error = ""
}

func (j *HistoryFetchJob) complete(created, updated int) {
	now := time.Now()
	j.Status = HistoryFetchJobStatusSuccess
	j.Created = created
	j.Updated = updated
	j.CompletedAt = &now
}

func (j *HistoryFetchJob) skip(reason string) {
	now := time.Now()
	j.Status = HistoryFetchJobStatusSkipped
	j.Error = reason
	j.CompletedAt = &now
}

func (j *HistoryFetchJob) fail(err string) {
	now := time.Now()
	j.Status = HistoryFetchJobStatusFailed
	j.Error = err
	j.CompletedAt = &now
}

// ---------------------------------------------------------------------------
// HistoryFetcher Interface
// ---------------------------------------------------------------------------

// HistoryFetcher executes one history fetch against the vendor. The engine
// satisfies this.
type HistoryFetcher interface {
	FetchHistory(ctx context.Context, pair vendor.OfficeVendor, rng vendor.DateRange, knownIDs []string) (created, updated int, err error)
}

// ---------------------------------------------------------------------------
// Config
// ---------------------------------------------------------------------------

// Config holds history fetch scheduler configuration.
type Config struct {
	// Enabled indicates if the scheduler is enabled.
	Enabled bool
	// MaxConcurrentJobs is the maximum number of concurrently running
	// fetches.
	MaxConcurrentJobs int
	// JobTimeout is the maximum time one fetch may run.
	JobTimeout time.Duration
	// RetryAttempts bounds retries of transient network failures. Other
	// failure classes are never retried.
	RetryAttempts int
	// RetryDelay is the initial backoff delay between retries.
	RetryDelay time.Duration
	// FetchWindow is how far back each scheduled fetch reaches.
	FetchWindow time.Duration
}

// DefaultConfig returns default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		MaxConcurrentJobs: 4,
		JobTimeout:        30 * time.Minute,
		RetryAttempts:     3,
		RetryDelay:        30 * time.Second,
		FetchWindow:       14 * 24 * time.Hour,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.MaxConcurrentJobs <= 0 {
		return ErrInvalidConfig
	}
	if c.JobTimeout <= 0 {
		return ErrInvalidConfig
	}
	if c.RetryAttempts < 0 {
		return ErrInvalidConfig
	}
	if c.FetchWindow <= 0 {
		return ErrInvalidConfig
	}
	return nil
}

// ---------------------------------------------------------------------------
// HistoryScheduler
// ---------------------------------------------------------------------------

// HistoryScheduler manages scheduled order history fetches. One fetch per
// office-vendor pair may be queued or running at a time; the engine
// additionally holds the distributed run lock, so a pair busy elsewhere is
// skipped rather than retried.
type HistoryScheduler struct {
	config  Config
	fetcher HistoryFetcher
	logger  *zap.Logger

	jobs      chan *HistoryFetchJob
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
	inFlight  map[string]struct{}

	// Job history for monitoring (in-memory, limited size)
	historyMu  sync.RWMutex
	history    []*HistoryFetchJob
	maxHistory int
}

// NewHistoryScheduler creates a history fetch scheduler.
func NewHistoryScheduler(config Config, fetcher HistoryFetcher, logger *zap.Logger) (*HistoryScheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &HistoryScheduler{
		config:     config,
		fetcher:    fetcher,
		logger:     logger,
		jobs:       make(chan *HistoryFetchJob, 100),
		inFlight:   make(map[string]struct{}),
		history:    make([]*HistoryFetchJob, 0, 100),
		maxHistory: 100,
	}, nil
}

// Start starts the worker pool.
func (s *HistoryScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for i := 0; i < s.config.MaxConcurrentJobs; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}

	s.logger.Info("History fetch scheduler started",
		zap.Int("workers", s.config.MaxConcurrentJobs),
		zap.Duration("job_timeout", s.config.JobTimeout),
		zap.Duration("fetch_window", s.config.FetchWindow),
	)
	return nil
}

// Stop gracefully stops the scheduler.
func (s *HistoryScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	close(s.jobs)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("History fetch scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("History fetch scheduler stop timed out")
		return ctx.Err()
	}
}

// ScheduleFetch queues a history fetch for one pair over the given range.
func (s *HistoryScheduler) ScheduleFetch(pair vendor.OfficeVendor, rng vendor.DateRange) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	key := pairKey(pair)
	if _, busy := s.inFlight[key]; busy {
		s.mu.Unlock()
		return ErrFetchAlreadyQueued
	}
	s.inFlight[key] = struct{}{}
	s.mu.Unlock()

	job := NewHistoryFetchJob(pair, rng)
	select {
	case s.jobs <- job:
		s.logger.Debug("History fetch queued",
			zap.String("job_id", job.ID.String()),
			zap.String("office_id", pair.OfficeID.String()),
			zap.String("slug", pair.Slug.String()),
		)
		return nil
	default:
		s.release(key)
		return ErrJobQueueFull
	}
}

// ScheduleFetchWithDefaults queues a fetch covering the configured window up
// to now.
func (s *HistoryScheduler) ScheduleFetchWithDefaults(pair vendor.OfficeVendor) error {
	now := time.Now()
	return s.ScheduleFetch(pair, vendor.DateRange{Start: now.Add(-s.config.FetchWindow), End: now})
}

func (s *HistoryScheduler) release(key string) {
	s.mu.Lock()
	delete(s.inFlight, key)
	s.mu.Unlock()
}

func (s *HistoryScheduler) worker(ctx context.Context, workerID int) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-s.jobs:
			if !ok {
				return
			}
			s.processJob(ctx, job, workerID)
			s.release(pairKey(job.Pair))
		}
	}
}

func (s *HistoryScheduler) processJob(ctx context.Context, job *HistoryFetchJob, workerID int) {
	job.start()
	s.logger.Info("Processing history fetch",
		zap.Int("worker_id", workerID),
		zap.String("job_id", job.ID.String()),
		zap.String("office_id", job.Pair.OfficeID.String()),
		zap.String("slug", job.Pair.Slug.String()),
	)

	jobCtx, cancel := context.WithTimeout(ctx, s.config.JobTimeout)
	defer cancel()

	created, updated, err := s.fetchWithRetry(jobCtx, job)
	switch {
	case err == nil:
		job.complete(created, updated)
		s.logger.Info("History fetch completed",
			zap.Int("worker_id", workerID),
			zap.String("job_id", job.ID.String()),
			zap.Int("created", created),
			zap.Int("updated", updated),
		)
	case errors.Is(err, shared.ErrConcurrencyConflict):
		// Another run already holds the pair lock; the next sweep catches
		// up.
		job.skip(err.Error())
		s.logger.Info("History fetch skipped, pair busy",
			zap.String("job_id", job.ID.String()),
			zap.String("office_id", job.Pair.OfficeID.String()),
		)
	default:
		job.fail(err.Error())
		s.logger.Error("History fetch failed",
			zap.Int("worker_id", workerID),
			zap.String("job_id", job.ID.String()),
			zap.String("office_id", job.Pair.OfficeID.String()),
			zap.String("slug", job.Pair.Slug.String()),
			zap.Error(err),
		)
	}
	s.addToHistory(job)
}

// fetchWithRetry retries transient network failures with exponential
// backoff. Authentication and vendor-site failures surface immediately: a
// bad credential does not heal by retrying, and hammering a broken vendor
// page only gets the account throttled.
func (s *HistoryScheduler) fetchWithRetry(ctx context.Context, job *HistoryFetchJob) (int, int, error) {
	var created, updated int

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.config.RetryDelay
	policy.MaxInterval = 30 * time.Minute

	operation := func() error {
		var err error
		created, updated, err = s.fetcher.FetchHistory(ctx, job.Pair, job.Range, nil)
		if err == nil {
			return nil
		}
		if vendor.Retryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}

	err := backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(policy, uint64(s.config.RetryAttempts)), ctx))
	return created, updated, err
}

func (s *HistoryScheduler) addToHistory(job *HistoryFetchJob) {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()

	s.history = append([]*HistoryFetchJob{job}, s.history...)
	if len(s.history) > s.maxHistory {
		s.history = s.history[:s.maxHistory]
	}
}

// JobHistory returns recent jobs, newest first.
func (s *HistoryScheduler) JobHistory(limit int) []*HistoryFetchJob {
	s.historyMu.RLock()
	defer s.historyMu.RUnlock()

	if limit <= 0 || limit > len(s.history) {
		limit = len(s.history)
	}
	result := make([]*HistoryFetchJob, limit)
	copy(result, s.history[:limit])
	return result
}

// JobHistoryByOffice returns recent jobs for one office, newest first.
func (s *HistoryScheduler) JobHistoryByOffice(officeID uuid.UUID, limit int) []*HistoryFetchJob {
	s.historyMu.RLock()
	defer s.historyMu.RUnlock()

	result := make([]*HistoryFetchJob, 0, limit)
	for _, job := range s.history {
		if job.Pair.OfficeID == officeID {
			result = append(result, job)
			if len(result) >= limit {
				break
			}
		}
	}
	return result
}

func pairKey(pair vendor.OfficeVendor) string {
	return pair.OfficeID.String() + "/" + pair.VendorID.String()
}
