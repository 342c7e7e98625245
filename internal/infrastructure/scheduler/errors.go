package scheduler

import "errors"

var (
	// ErrSchedulerNotRunning is returned when submitting a job to a stopped
	// scheduler.
	ErrSchedulerNotRunning = errors.New("scheduler is not running")

	// ErrJobQueueFull is returned when the job queue is full.
	ErrJobQueueFull = errors.New("job queue is full")

	// ErrInvalidConfig is returned when configuration is invalid.
	ErrInvalidConfig = errors.New("invalid scheduler configuration")

	// ErrFetchAlreadyQueued is returned when a fetch for the same
	// office-vendor pair is already queued or running.
	ErrFetchAlreadyQueued = errors.New("history fetch already queued for this office/vendor")
)
