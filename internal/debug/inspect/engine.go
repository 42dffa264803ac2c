// Package inspect fetches and renders the state of a suspended script:
// variables in scope, the call stack, and watch expressions.
package inspect

import (
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/dshills/scriptdbg/internal/debug/codec"
	"github.com/dshills/scriptdbg/internal/debug/session"
	"github.com/dshills/scriptdbg/internal/debug/wire"
	"github.com/dshills/scriptdbg/internal/logflags"
)

// PasswordMask replaces the value of password-like properties.
const PasswordMask = "******"

// Frame is one call stack entry. Level 0 is the innermost frame.
type Frame struct {
	Level int    `json:"level"`
	File  string `json:"file"`
	Line  int    `json:"line"`
	Where string `json:"where"`
	Type  string `json:"type,omitempty"`
}

// Backend issues the dialect specific commands that read engine state.
type Backend interface {
	// Context returns the variables of the current scope, optionally
	// merged with the engine's superglobals.
	Context(tx *session.Tx, superGlobals bool) (*codec.Properties, error)

	// Stack returns the call stack, innermost frame first.
	Stack(tx *session.Tx) ([]Frame, error)

	// Evaluate evaluates expr in the current scope. Anonymous results
	// and engine errors are keyed by expr.
	Evaluate(tx *session.Tx, expr string) (*codec.Properties, error)
}

// Options controls how results are post-processed.
type Options struct {
	// SuperGlobals includes superglobals in the context.
	SuperGlobals bool

	// HidePassword masks properties whose name contains "password".
	HidePassword bool
}

// Snapshot is the state collected when execution breaks.
type Snapshot struct {
	Context *codec.Properties
	Stack   []Frame
	Watches []Watch
}

// Engine caches the last fetched context and stack and owns the watches.
type Engine struct {
	backend Backend
	watches *WatchList
	log     *logrus.Entry

	mu      sync.RWMutex
	opts    Options
	context *codec.Properties
	stack   []Frame
}

// NewEngine creates an engine over backend.
func NewEngine(backend Backend, opts Options) *Engine {
	return &Engine{
		backend: backend,
		watches: NewWatchList(),
		opts:    opts,
		log:     logflags.AdapterLogger().WithField("component", "inspect"),
	}
}

// SetOptions replaces the options.
func (e *Engine) SetOptions(opts Options) {
	e.mu.Lock()
	e.opts = opts
	e.mu.Unlock()
}

func (e *Engine) options() Options {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.opts
}

// Watches returns the watch list.
func (e *Engine) Watches() *WatchList {
	return e.watches
}

// Context returns the cached context.
func (e *Engine) Context() *codec.Properties {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.context
}

// Stack returns the cached stack.
func (e *Engine) Stack() []Frame {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Frame(nil), e.stack...)
}

// FetchContext reads the current scope and caches it.
func (e *Engine) FetchContext(tx *session.Tx) (*codec.Properties, error) {
	opts := e.options()
	props, err := e.backend.Context(tx, opts.SuperGlobals)
	if err != nil {
		return nil, err
	}
	if opts.HidePassword {
		Redact(props, PasswordMask)
	}

	e.mu.Lock()
	e.context = props
	e.mu.Unlock()
	return props, nil
}

// FetchStack reads the call stack and caches it.
func (e *Engine) FetchStack(tx *session.Tx) ([]Frame, error) {
	frames, err := e.backend.Stack(tx)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.stack = frames
	e.mu.Unlock()
	return frames, nil
}

// Evaluate evaluates expr. Engine errors come back as a property whose
// type carries the message.
func (e *Engine) Evaluate(tx *session.Tx, expr string) (*codec.Properties, error) {
	props, err := e.backend.Evaluate(tx, expr)
	if err != nil {
		return nil, err
	}
	if e.options().HidePassword {
		Redact(props, PasswordMask)
	}
	return props, nil
}

// RefreshWatches re-evaluates every enabled watch. A failed evaluation
// leaves that watch without a value; only connection failures abort.
func (e *Engine) RefreshWatches(tx *session.Tx) error {
	e.watches.ResetValues()

	for i, expr := range e.watches.pending() {
		if expr == "" {
			continue
		}
		value, err := e.Evaluate(tx, expr)
		if err != nil {
			if wire.IsFatal(err) {
				return err
			}
			e.log.WithError(err).Debugf("watch %q failed", expr)
			continue
		}
		e.watches.store(i, expr, value)
	}
	return nil
}

// OnBreak collects context, stack and watches in one pass while the
// engine is suspended.
func (e *Engine) OnBreak(tx *session.Tx) (Snapshot, error) {
	ctx, err := e.FetchContext(tx)
	if err != nil {
		return Snapshot{}, err
	}
	stack, err := e.FetchStack(tx)
	if err != nil {
		return Snapshot{}, err
	}
	if err := e.RefreshWatches(tx); err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Context: ctx, Stack: stack, Watches: e.watches.Entries()}, nil
}

// Reset drops cached state and watch values.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.context = nil
	e.stack = nil
	e.mu.Unlock()
	e.watches.ResetValues()
}

// Redact replaces the value of every property whose name contains
// "password", at any depth.
func Redact(props *codec.Properties, mask string) {
	for key, p := range props.All() {
		if isPassword(key) || isPassword(p.Name) {
			p.Value = mask
			p.Children = nil
			continue
		}
		Redact(p.Children, mask)
	}
}

func isPassword(name string) bool {
	return strings.Contains(strings.ToLower(name), "password")
}

// Find searches props recursively for name.
func Find(props *codec.Properties, name string) (*codec.Property, bool) {
	if p, ok := props.Get(name); ok {
		return p, true
	}
	for _, p := range props.All() {
		if found, ok := Find(p.Children, name); ok {
			return found, true
		}
	}
	return nil, false
}
