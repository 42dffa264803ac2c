package dispatch

import "time"

// Config holds dispatcher configuration options.
type Config struct {
	// QueueSize is the number of jobs that may wait behind the running one.
	QueueSize int

	// CompletionBufferSize is the buffer size of the Done channel. When it
	// is full further completions are dropped.
	CompletionBufferSize int

	// RecoverFromPanic wraps job execution in panic recovery.
	RecoverFromPanic bool

	// JobTimeout bounds each job through its context. Zero means none.
	JobTimeout time.Duration
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		QueueSize:            64,
		CompletionBufferSize: 64,
		RecoverFromPanic:     true,
	}
}

// WithQueueSize returns a copy of the config with the queue size set.
func (c Config) WithQueueSize(n int) Config {
	if n > 0 {
		c.QueueSize = n
	}
	return c
}

// WithTimeout returns a copy of the config with the job timeout set.
func (c Config) WithTimeout(timeout time.Duration) Config {
	c.JobTimeout = timeout
	return c
}

// WithPanicRecovery returns a copy of the config with panic recovery set.
func (c Config) WithPanicRecovery(recover bool) Config {
	c.RecoverFromPanic = recover
	return c
}
