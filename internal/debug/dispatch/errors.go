package dispatch

import "errors"

// Dispatcher errors.
var (
	// ErrStopped indicates the dispatcher has been stopped.
	ErrStopped = errors.New("dispatch: dispatcher is stopped")

	// ErrQueueFull indicates the job queue has no room.
	ErrQueueFull = errors.New("dispatch: queue full")

	// ErrCancelled indicates a pre-dispatch hook rejected the job.
	ErrCancelled = errors.New("dispatch: job cancelled by hook")

	// ErrPanic indicates the job panicked.
	ErrPanic = errors.New("dispatch: job panic")
)
