package dispatch

// PreDispatchHook runs on the worker before each job. Returning false
// cancels the job, which then completes with ErrCancelled.
type PreDispatchHook interface {
	PreDispatch(name string) bool
}

// PostDispatchHook runs on the worker after each job.
type PostDispatchHook interface {
	PostDispatch(c Completion)
}

// PreDispatchFunc is a function adapter for PreDispatchHook.
type PreDispatchFunc func(name string) bool

// PreDispatch implements PreDispatchHook.
func (f PreDispatchFunc) PreDispatch(name string) bool {
	return f(name)
}

// PostDispatchFunc is a function adapter for PostDispatchHook.
type PostDispatchFunc func(c Completion)

// PostDispatch implements PostDispatchHook.
func (f PostDispatchFunc) PostDispatch(c Completion) {
	f(c)
}

func (d *Dispatcher) runPreHooks(name string) bool {
	d.mu.RLock()
	hooks := d.preHooks
	d.mu.RUnlock()

	for _, h := range hooks {
		if !h.PreDispatch(name) {
			return false
		}
	}
	return true
}

func (d *Dispatcher) runPostHooks(c Completion) {
	d.mu.RLock()
	hooks := d.postHooks
	d.mu.RUnlock()

	for _, h := range hooks {
		h.PostDispatch(c)
	}
}
