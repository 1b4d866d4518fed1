package jobs

import "errors"

var (
	// ErrJobRepositoryRequired is returned when a job repository is not provided.
	ErrJobRepositoryRequired = errors.New("job repository required")

	// ErrCollectionRepositoryRequired is returned when a collection repository is not provided.
	ErrCollectionRepositoryRequired = errors.New("collection repository required")

	// ErrEngineRequired is returned when an engine is not provided.
	ErrEngineRequired = errors.New("engine required")

	// ErrSubmitterRequired is returned when a pool is not provided.
	ErrSubmitterRequired = errors.New("submitter required")

	// ErrNoRunner is returned when no runner handles a job type.
	ErrNoRunner = errors.New("no runner for job type")

	// ErrQueueFull is returned when the pool queue has no room left.
	ErrQueueFull = errors.New("job queue is full")

	// ErrPoolClosed is returned when submitting to a pool that is shutting down.
	ErrPoolClosed = errors.New("job pool is closed")
)
