package dispatch

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dshills/scriptdbg/internal/logflags"
)

// Job is one unit of work. The context is cancelled when the dispatcher
// stops or the configured timeout expires.
type Job func(ctx context.Context) error

// Completion reports the outcome of a job.
type Completion struct {
	Name     string
	Err      error
	Duration time.Duration
}

type task struct {
	name string
	job  Job
}

// Dispatcher runs submitted jobs one at a time on a background worker.
type Dispatcher struct {
	config  Config
	metrics *Metrics
	log     *logrus.Entry

	mu        sync.RWMutex
	preHooks  []PreDispatchHook
	postHooks []PostDispatchHook

	submitMu sync.RWMutex
	closed   bool
	queue    chan task

	completions chan Completion
	ctx         context.Context
	cancel      context.CancelFunc
	finished    chan struct{}
	stopOnce    sync.Once
}

// New creates a dispatcher and starts its worker.
func New(config Config) *Dispatcher {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultConfig().QueueSize
	}
	if config.CompletionBufferSize <= 0 {
		config.CompletionBufferSize = DefaultConfig().CompletionBufferSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		config:      config,
		metrics:     NewMetrics(),
		log:         logflags.AdapterLogger().WithField("component", "dispatch"),
		queue:       make(chan task, config.QueueSize),
		completions: make(chan Completion, config.CompletionBufferSize),
		ctx:         ctx,
		cancel:      cancel,
		finished:    make(chan struct{}),
	}
	go d.loop()
	return d
}

// NewWithDefaults creates a dispatcher with the default configuration.
func NewWithDefaults() *Dispatcher {
	return New(DefaultConfig())
}

// Submit queues job under name and returns without waiting for it.
func (d *Dispatcher) Submit(name string, job Job) error {
	d.submitMu.RLock()
	defer d.submitMu.RUnlock()

	if d.closed {
		return ErrStopped
	}
	select {
	case d.queue <- task{name: name, job: job}:
		return nil
	default:
		return fmt.Errorf("%s: %w", name, ErrQueueFull)
	}
}

// Done returns the completion channel. It is closed after Stop once the
// worker has exited.
func (d *Dispatcher) Done() <-chan Completion {
	return d.completions
}

// Stop cancels the running job, discards queued ones and waits for the
// worker to exit. It must not be called from a job.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.submitMu.Lock()
		d.closed = true
		close(d.queue)
		d.submitMu.Unlock()

		d.cancel()
	})
	<-d.finished
}

// Stopped reports whether Stop has been called.
func (d *Dispatcher) Stopped() bool {
	d.submitMu.RLock()
	defer d.submitMu.RUnlock()
	return d.closed
}

// RegisterPreHook adds a hook run before every job.
func (d *Dispatcher) RegisterPreHook(h PreDispatchHook) {
	d.mu.Lock()
	d.preHooks = append(d.preHooks, h)
	d.mu.Unlock()
}

// RegisterPostHook adds a hook run after every job.
func (d *Dispatcher) RegisterPostHook(h PostDispatchHook) {
	d.mu.Lock()
	d.postHooks = append(d.postHooks, h)
	d.mu.Unlock()
}

// Metrics returns the job statistics.
func (d *Dispatcher) Metrics() *Metrics {
	return d.metrics
}

// Config returns the dispatcher configuration.
func (d *Dispatcher) Config() Config {
	return d.config
}

func (d *Dispatcher) loop() {
	defer close(d.finished)
	defer close(d.completions)

	for t := range d.queue {
		if d.ctx.Err() != nil {
			d.deliver(Completion{Name: t.name, Err: ErrStopped})
			continue
		}
		d.run(t)
	}
}

func (d *Dispatcher) run(t task) {
	start := time.Now()

	var err error
	if d.runPreHooks(t.name) {
		err = d.executeWithRecovery(t)
	} else {
		err = ErrCancelled
	}

	c := Completion{Name: t.name, Err: err, Duration: time.Since(start)}
	if err != nil {
		d.log.WithError(err).Debugf("job %s failed", t.name)
	}
	d.metrics.Record(c)
	d.runPostHooks(c)
	d.deliver(c)
}

// executeWithRecovery runs a job with panic recovery when configured.
func (d *Dispatcher) executeWithRecovery(t task) (err error) {
	if d.config.RecoverFromPanic {
		defer func() {
			if r := recover(); r != nil {
				stack := make([]byte, 4096)
				n := runtime.Stack(stack, false)
				err = fmt.Errorf("%w in %s: %v\n%s", ErrPanic, t.name, r, stack[:n])
				d.metrics.recordPanic()
			}
		}()
	}

	ctx := d.ctx
	if d.config.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.JobTimeout)
		defer cancel()
	}
	return t.job(ctx)
}

func (d *Dispatcher) deliver(c Completion) {
	select {
	case d.completions <- c:
	default:
		// Completion channel full, drop completion.
		d.metrics.recordDropped()
	}
}
