package debug

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dshills/scriptdbg/internal/config"
	"github.com/dshills/scriptdbg/internal/debug/breakpoint"
	"github.com/dshills/scriptdbg/internal/debug/dialect"
	"github.com/dshills/scriptdbg/internal/debug/dispatch"
	"github.com/dshills/scriptdbg/internal/debug/inspect"
	"github.com/dshills/scriptdbg/internal/debug/session"
	"github.com/dshills/scriptdbg/internal/debug/wire"
	"github.com/dshills/scriptdbg/internal/logflags"
)

// DefaultEventBuffer is the default capacity of the event channel.
const DefaultEventBuffer = 256

// Option configures an Adapter.
type Option func(*options)

type options struct {
	eventBuffer int
	dispatch    dispatch.Config
	acceptPoll  time.Duration
}

// WithEventBuffer sets the event channel capacity.
func WithEventBuffer(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.eventBuffer = n
		}
	}
}

// WithDispatchConfig sets the dispatcher configuration.
func WithDispatchConfig(c dispatch.Config) Option {
	return func(o *options) {
		o.dispatch = c
	}
}

// WithAcceptPoll sets how often a pending accept checks for cancellation.
func WithAcceptPoll(d time.Duration) Option {
	return func(o *options) {
		o.acceptPoll = d
	}
}

// Adapter owns one debugging session: the connection, the breakpoint
// registry, the watch list and the worker that serializes every remote
// action. Operations return immediately; results arrive on Events.
type Adapter struct {
	id      string
	log     *logrus.Entry
	dialect wire.Dialect

	cfgMu sync.RWMutex
	cfg   *config.Config

	sess     *session.Session
	driver   dialect.Driver
	mapper   *breakpoint.PathMapper
	registry *breakpoint.Registry
	engine   *inspect.Engine
	disp     *dispatch.Dispatcher

	events chan Event
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// live is set while an engine is attached. It is only cleared by the
	// worker, so a lost connection is reported once.
	live atomic.Bool

	mu           sync.Mutex
	closed       bool
	listening    bool
	listenCancel context.CancelFunc
	pollCancel   context.CancelFunc
	last         dialect.StopInfo
}

// New creates an adapter for cfg. Call Start to wait for an engine.
func New(cfg *config.Config, opts ...Option) (*Adapter, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d, err := cfg.WireDialect()
	if err != nil {
		return nil, err
	}

	o := options{eventBuffer: DefaultEventBuffer, dispatch: dispatch.DefaultConfig()}
	for _, opt := range opts {
		opt(&o)
	}

	cfg = cfg.Clone()
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())

	a := &Adapter{
		id:      id,
		log:     logflags.AdapterLogger().WithFields(logrus.Fields{"session": id, "dialect": d.String()}),
		dialect: d,
		cfg:     cfg,
		mapper:  breakpoint.NewPathMapper(cfg.PathMapping),
		events:  make(chan Event, o.eventBuffer),
		ctx:     ctx,
		cancel:  cancel,
		last:    dialect.StopInfo{Status: session.StatusUnknown},
	}
	a.mapper.OnUnmapped = func(p string) {
		a.emit(Event{Kind: EventWarning, Text: fmt.Sprintf("no path mapping for %s", p)})
	}
	a.registry = breakpoint.NewRegistry(a.mapper)
	a.driver = dialect.New(d, a.mapper, driverOptions(cfg))
	a.engine = inspect.NewEngine(a.driver, engineOptions(cfg))

	a.sess = session.New(session.Config{Dialect: d, Addr: cfg.Addr(), AcceptPoll: o.acceptPoll})
	a.sess.SetHandlers(session.Handlers{OnStateChanged: a.onStateChanged})
	if g, ok := a.driver.(*dialect.GRLD); ok {
		g.OnWarning = func(msg string) {
			a.emit(Event{Kind: EventWarning, Text: msg})
		}
		a.registerPushHandlers(g)
	}

	a.disp = dispatch.New(o.dispatch)
	a.disp.RegisterPreHook(dispatch.PreDispatchFunc(a.beforeJob))
	a.disp.RegisterPostHook(dispatch.PostDispatchFunc(a.afterJob))
	a.wg.Add(1)
	go a.drainCompletions()

	return a, nil
}

func driverOptions(cfg *config.Config) dialect.Options {
	return dialect.Options{
		MaxChildren: cfg.MaxChildren,
		MaxData:     cfg.MaxData,
		MaxDepth:    cfg.MaxDepth,
	}
}

func engineOptions(cfg *config.Config) inspect.Options {
	return inspect.Options{
		SuperGlobals: cfg.SuperGlobals,
		HidePassword: cfg.HidePassword,
	}
}

// ID returns the session id used in logs and events.
func (a *Adapter) ID() string {
	return a.id
}

// Dialect returns the wire dialect.
func (a *Adapter) Dialect() wire.Dialect {
	return a.dialect
}

// Events returns the event channel. It is closed by Close.
func (a *Adapter) Events() <-chan Event {
	return a.events
}

// Addr returns the listening address, or nil when not listening.
func (a *Adapter) Addr() net.Addr {
	return a.sess.Addr()
}

// Connected reports whether an engine is attached.
func (a *Adapter) Connected() bool {
	return a.live.Load()
}

// Config returns a copy of the current configuration.
func (a *Adapter) Config() *config.Config {
	a.cfgMu.RLock()
	defer a.cfgMu.RUnlock()
	return a.cfg.Clone()
}

// Metrics returns the dispatcher statistics.
func (a *Adapter) Metrics() dispatch.Snapshot {
	return a.disp.Metrics().Snapshot()
}

// Close stops the session and the worker and closes the event channel.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	a.cancel()
	a.stopListening()
	a.disp.Stop()
	a.stopPoll()
	a.sess.Clear()
	a.wg.Wait()
	close(a.events)
	return nil
}

// Start listens for an engine in the background.
func (a *Adapter) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrAdapterClosed
	}
	if a.listening || a.live.Load() {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(a.ctx)
	a.listening = true
	a.listenCancel = cancel
	a.wg.Add(1)
	go a.listen(ctx)
	return nil
}

func (a *Adapter) listen(ctx context.Context) {
	defer a.wg.Done()

	err := a.sess.Listen(ctx)

	a.mu.Lock()
	a.listening = false
	a.listenCancel = nil
	if err == nil {
		a.live.Store(true)
	}
	a.mu.Unlock()

	switch {
	case err == nil:
	case errors.Is(err, wire.ErrListenCanceled):
		a.log.Debug("listening canceled")
		return
	default:
		a.emit(Event{Kind: EventError, Err: err, Text: err.Error()})
		return
	}

	if err := a.disp.Submit("connect", a.connect); err != nil {
		a.live.Store(false)
		a.sess.Clear()
		a.emit(Event{Kind: EventError, Err: err, Text: err.Error()})
	}
}

func (a *Adapter) stopListening() {
	a.mu.Lock()
	cancel := a.listenCancel
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	a.sess.StopListening()
}

func (a *Adapter) onStateChanged(old, state session.State) {
	a.log.Debugf("session %s -> %s", old, state)
	if state == session.StateListening {
		text := "listening"
		if addr := a.sess.Addr(); addr != nil {
			text = "listening on " + addr.String()
		}
		a.emit(Event{Kind: EventListening, Text: text})
	}
}

// connect runs on the worker once an engine is accepted: handshake,
// breakpoint replay, exception breakpoints, then the first continuation.
func (a *Adapter) connect(ctx context.Context) error {
	cfg := a.Config()

	var info dialect.StopInfo
	err := a.sess.Exchange(ctx, func(tx *session.Tx) error {
		hello, err := a.driver.Handshake(tx)
		if err != nil {
			return err
		}
		a.emit(Event{
			Kind:     EventConnected,
			Text:     connectedText(hello),
			Location: Location{File: hello.File},
		})

		remote := a.remote(tx)
		if _, err := a.registry.Replay(remote); err != nil {
			if wire.IsFatal(err) {
				return err
			}
			a.emitError(err)
		}
		a.emitBreakpoints()

		for _, name := range cfg.BreakOnException {
			if _, err := a.driver.SetExceptionBreakpoint(tx, name); err != nil {
				if wire.IsFatal(err) {
					return err
				}
				a.emit(Event{Kind: EventWarning, Err: err, Text: fmt.Sprintf("exception breakpoint %s: %v", name, err)})
			}
		}

		switch {
		case a.dialect == wire.GRLD && cfg.BreakOnStart:
			// GRLD engines wait for a command after connecting.
			info, err = a.driver.Status(tx)
		case cfg.BreakOnStart:
			info, err = a.driver.Execute(tx, dialect.StepInto)
		default:
			info, err = a.driver.Execute(tx, dialect.Run)
		}
		if err != nil {
			return err
		}
		return a.afterExecute(tx, info)
	})
	if err != nil {
		if !wire.IsFatal(err) {
			// A half-initialized engine is not kept.
			a.teardown()
		}
		return err
	}

	if a.dialect == wire.GRLD {
		a.startPoll(cfg.PollInterval.Std())
	}
	return a.finishIfEnded(ctx, info, true)
}

func connectedText(init dialect.Init) string {
	text := "engine connected"
	if init.Language != "" {
		text += " (" + init.Language + ")"
	}
	if init.File != "" {
		text += ": " + init.File
	}
	return text
}

// afterExecute records the new status and, on a break, collects the
// engine state within the same exchange.
func (a *Adapter) afterExecute(tx *session.Tx, info dialect.StopInfo) error {
	a.mu.Lock()
	a.last = info
	a.mu.Unlock()

	a.emit(Event{
		Kind:     EventStatus,
		Status:   info.Status,
		Location: Location{File: info.File, Line: info.Line},
		Text:     statusText(info),
	})
	if info.Status != session.StatusBreak {
		return nil
	}

	if err := a.registry.ClearRun(a.remote(tx)); err != nil {
		if wire.IsFatal(err) {
			return err
		}
		a.emitError(err)
	}
	return a.collect(tx, info)
}

// collect fetches context, stack and watches while the engine is
// suspended.
func (a *Adapter) collect(tx *session.Tx, info dialect.StopInfo) error {
	text := "break"
	if info.File != "" {
		text = fmt.Sprintf("break at %s:%d", info.File, info.Line)
	}
	a.emit(Event{
		Kind:     EventBreak,
		Status:   info.Status,
		Location: Location{File: info.File, Line: info.Line},
		Text:     text,
	})

	snap, err := a.engine.OnBreak(tx)
	if err != nil {
		if wire.IsFatal(err) {
			return err
		}
		a.emitError(err)
		return nil
	}
	a.emit(Event{Kind: EventContext, Context: snap.Context, Text: inspect.RenderContext(snap.Context)})
	a.emit(Event{Kind: EventStack, Stack: snap.Stack, Text: inspect.RenderStack(snap.Stack)})
	a.emitWatches(snap.Watches)
	return nil
}

func statusText(info dialect.StopInfo) string {
	reason := info.Reason
	if reason == "" {
		reason = "ok"
	}
	return fmt.Sprintf("%s - %s", reason, info.Status)
}

// finishIfEnded ends the session when the script stopped. A stopping DBGp
// engine is told to stop unless it was detached.
func (a *Adapter) finishIfEnded(ctx context.Context, info dialect.StopInfo, sendStop bool) error {
	if info.Status != session.StatusStopping && info.Status != session.StatusStopped {
		return nil
	}
	if sendStop && info.Status == session.StatusStopping && a.dialect == wire.DBGp {
		err := a.sess.Exchange(ctx, func(tx *session.Tx) error {
			_, err := a.driver.Execute(tx, dialect.Stop)
			return err
		})
		if err != nil {
			a.log.WithError(err).Debug("stop after stopping")
		}
	}

	a.teardown()
	a.emit(Event{Kind: EventStopped, Status: info.Status, Text: "session stopped"})

	if a.Config().RestartOnStop {
		if err := a.Start(); err != nil && !errors.Is(err, ErrAdapterClosed) {
			return err
		}
	}
	return nil
}

// teardown drops the connection and everything tied to it.
func (a *Adapter) teardown() {
	a.live.Store(false)
	a.stopPoll()
	a.sess.Clear()
	a.registry.ResetRemoteIDs()
	a.engine.Reset()

	a.mu.Lock()
	a.last = dialect.StopInfo{Status: session.StatusUnknown}
	a.mu.Unlock()
}

// connectionLost tears down after a transport or framing failure and
// reports it once.
func (a *Adapter) connectionLost(err error) {
	if !a.live.CompareAndSwap(true, false) {
		return
	}
	a.teardown()
	a.emit(Event{Kind: EventConnectionLost, Err: err, Text: fmt.Sprintf("connection lost: %v", err)})
}

// afterJob runs on the worker after every job and turns failures into
// events.
// beforeJob drops jobs still queued once Close has begun.
func (a *Adapter) beforeJob(string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.closed
}

func (a *Adapter) afterJob(c dispatch.Completion) {
	switch err := c.Err; {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, dispatch.ErrStopped), errors.Is(err, dispatch.ErrCancelled):
	case errors.Is(err, session.ErrNotConnected), errors.Is(err, ErrNotConnected):
		a.emit(Event{Kind: EventWarning, Err: ErrNotConnected, Text: fmt.Sprintf("%s: %v", c.Name, ErrNotConnected)})
	case wire.IsFatal(err):
		a.connectionLost(err)
	default:
		a.emit(Event{Kind: EventError, Err: err, Text: fmt.Sprintf("%s: %v", c.Name, err)})
	}
}

func (a *Adapter) drainCompletions() {
	defer a.wg.Done()
	for c := range a.disp.Done() {
		a.log.WithField("duration", c.Duration).Debugf("job %s done", c.Name)
	}
}

func (a *Adapter) registerPushHandlers(g *dialect.GRLD) {
	a.sess.OnCommand(session.CommandBreak, func(tx *session.Tx, cmd session.Command) error {
		return a.fatalOnly(a.afterExecute(tx, g.HandleBreak(cmd)))
	})
	a.sess.OnCommand(session.CommandSynchronize, func(tx *session.Tx, _ session.Command) error {
		_, err := a.registry.Replay(a.remote(tx))
		a.emitBreakpoints()
		return a.fatalOnly(err)
	})
}

// fatalOnly reports non-fatal errors as events and passes fatal ones on.
func (a *Adapter) fatalOnly(err error) error {
	if err == nil || wire.IsFatal(err) {
		return err
	}
	a.emitError(err)
	return nil
}

func (a *Adapter) startPoll(interval time.Duration) {
	ctx, cancel := context.WithCancel(a.ctx)

	a.mu.Lock()
	if a.pollCancel != nil {
		a.pollCancel()
	}
	a.pollCancel = cancel
	a.mu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		err := a.sess.Poll(ctx, interval)
		if err == nil || ctx.Err() != nil {
			return
		}
		// Teardown belongs to the worker.
		if serr := a.disp.Submit("connection_lost", func(context.Context) error { return err }); serr != nil {
			a.log.WithError(serr).Debug("report poll failure")
		}
	}()
}

func (a *Adapter) stopPoll() {
	a.mu.Lock()
	cancel := a.pollCancel
	a.pollCancel = nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (a *Adapter) remote(tx *session.Tx) breakpoint.Remote {
	return dialect.BoundRemote{Driver: a.driver, Tx: tx}
}

// withRemote runs fn inside an exchange when an engine is attached and
// with a nil remote otherwise.
func (a *Adapter) withRemote(ctx context.Context, fn func(remote breakpoint.Remote) error) error {
	if !a.live.Load() {
		return fn(nil)
	}
	ran := false
	err := a.sess.Exchange(ctx, func(tx *session.Tx) error {
		ran = true
		return fn(a.remote(tx))
	})
	if !ran && errors.Is(err, session.ErrNotConnected) {
		return fn(nil)
	}
	return err
}

func (a *Adapter) emit(ev Event) {
	ev.Session = a.id
	ev.Time = time.Now()
	select {
	case a.events <- ev:
	case <-a.ctx.Done():
	}
}

func (a *Adapter) emitError(err error) {
	a.emit(Event{Kind: EventError, Err: err, Text: err.Error()})
}

func (a *Adapter) emitBreakpoints() {
	a.emit(Event{
		Kind:        EventBreakpoints,
		Breakpoints: a.registry.Export(),
		Text:        a.registry.Render(),
	})
}

func (a *Adapter) emitWatches(watches []inspect.Watch) {
	a.emit(Event{Kind: EventWatches, Watches: watches, Text: inspect.RenderWatches(watches)})
}

func (a *Adapter) lastStatus() dialect.StopInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}
