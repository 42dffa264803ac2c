// Package session manages the lifecycle of the single engine connection and
// serializes request/response exchanges over it.
package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dshills/scriptdbg/internal/debug/wire"
	"github.com/dshills/scriptdbg/internal/logflags"
)

// State represents the connection state of a session.
type State int

const (
	// StateDisconnected means no socket and no listener.
	StateDisconnected State = iota
	// StateListening means waiting for the engine to connect.
	StateListening
	// StateConnected means an engine connection is established.
	StateConnected
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateListening:
		return "listening"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Status is the execution status reported by the engine.
type Status int

const (
	// StatusUnknown means no status has been reported.
	StatusUnknown Status = iota
	// StatusStarting is the state before the first continuation command.
	StatusStarting
	// StatusRunning means the script is executing.
	StatusRunning
	// StatusBreak means execution is suspended.
	StatusBreak
	// StatusStopping means the script finished and the engine awaits final commands.
	StatusStopping
	// StatusStopped means the engine is done with the connection.
	StatusStopped
)

// String returns the protocol name of the status.
func (s Status) String() string {
	switch s {
	case StatusStarting:
		return "starting"
	case StatusRunning:
		return "running"
	case StatusBreak:
		return "break"
	case StatusStopping:
		return "stopping"
	case StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ParseStatus converts a protocol status name.
func ParseStatus(s string) Status {
	switch strings.ToLower(s) {
	case "starting":
		return StatusStarting
	case "running":
		return StatusRunning
	case "break":
		return StatusBreak
	case "stopping":
		return StatusStopping
	case "stopped":
		return StatusStopped
	default:
		return StatusUnknown
	}
}

// Config configures a session.
type Config struct {
	// Dialect selects the wire protocol.
	Dialect wire.Dialect

	// Addr is the address the engine connects to.
	Addr string

	// AcceptPoll overrides the accept cancellation poll interval.
	AcceptPoll time.Duration
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		Dialect: wire.DBGp,
		Addr:    ":9000",
	}
}

// Handlers contains callbacks for session events.
type Handlers struct {
	// OnStateChanged is called after the state changes.
	OnStateChanged func(old, new State)
}

// Session owns the engine connection. All socket access goes through
// Exchange, which holds the session lock for the whole interaction.
type Session struct {
	cfg    Config
	framer wire.Framer
	log    *logrus.Entry

	// mu is the exchange lock. It guards txID and pending.
	mu      sync.Mutex
	txID    int
	pending []wire.Frame

	stateMu      sync.RWMutex
	state        State
	conn         *wire.Conn
	listener     *wire.Listener
	cancelListen context.CancelFunc

	handlersMu sync.RWMutex
	handlers   Handlers
	commands   map[string][]CommandHandler
}

// New creates a disconnected session.
func New(cfg Config) *Session {
	return &Session{
		cfg:      cfg,
		framer:   wire.NewFramer(cfg.Dialect),
		log:      logflags.SessionLogger().WithField("dialect", cfg.Dialect.String()),
		commands: make(map[string][]CommandHandler),
	}
}

// Dialect returns the session dialect.
func (s *Session) Dialect() wire.Dialect {
	return s.cfg.Dialect
}

// SetHandlers sets the session event handlers.
func (s *Session) SetHandlers(h Handlers) {
	s.handlersMu.Lock()
	s.handlers = h
	s.handlersMu.Unlock()
}

// State returns the current state.
func (s *Session) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// Connected reports whether an engine is connected.
func (s *Session) Connected() bool {
	return s.State() == StateConnected
}

// Addr returns the listening address while listening.
func (s *Session) Addr() net.Addr {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Session) setState(state State) {
	s.stateMu.Lock()
	old := s.state
	s.state = state
	s.stateMu.Unlock()

	if old == state {
		return
	}
	s.log.Debugf("state %s -> %s", old, state)

	s.handlersMu.RLock()
	h := s.handlers.OnStateChanged
	s.handlersMu.RUnlock()
	if h != nil {
		h(old, state)
	}
}

// Listen waits for one engine connection. It blocks until a peer connects,
// ctx is done, or StopListening is called.
func (s *Session) Listen(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.stateMu.Lock()
	if s.state != StateDisconnected {
		s.stateMu.Unlock()
		return ErrBusy
	}
	l, err := wire.NewListener(s.cfg.Addr, s.framer)
	if err != nil {
		s.stateMu.Unlock()
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	l.PollInterval = s.cfg.AcceptPoll
	s.listener = l
	s.cancelListen = cancel
	s.stateMu.Unlock()

	s.setState(StateListening)
	s.log.Debugf("listening on %s", l.Addr())

	conn, err := l.Accept(ctx)

	s.stateMu.Lock()
	s.listener = nil
	s.cancelListen = nil
	s.stateMu.Unlock()

	if err == nil && ctx.Err() != nil {
		conn.Close()
		err = wire.ErrListenCanceled
	}
	if err != nil {
		s.setState(StateDisconnected)
		return err
	}

	s.mu.Lock()
	s.txID = 0
	s.pending = nil
	s.mu.Unlock()

	s.stateMu.Lock()
	s.conn = conn
	s.stateMu.Unlock()

	s.log.Debugf("engine connected from %s", conn.RemoteAddr())
	s.setState(StateConnected)
	return nil
}

// StopListening aborts a pending Listen.
func (s *Session) StopListening() {
	s.stateMu.RLock()
	cancel, l := s.cancelListen, s.listener
	s.stateMu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if l != nil {
		l.Close()
	}
}

// Clear closes the connection and resets the transaction counter. A
// blocked read in a running exchange fails with a connection error.
func (s *Session) Clear() {
	s.StopListening()

	s.stateMu.Lock()
	conn := s.conn
	s.conn = nil
	s.stateMu.Unlock()

	if conn != nil {
		conn.Close()
	}

	s.mu.Lock()
	s.txID = 0
	s.pending = nil
	s.mu.Unlock()

	s.setState(StateDisconnected)
}

// Exchange runs fn while holding the session lock. Every request sent in
// fn is answered before the lock is released. When ctx is done while fn
// is blocked, the connection is closed so the blocked read returns.
func (s *Session) Exchange(ctx context.Context, fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stateMu.RLock()
	conn := s.conn
	s.stateMu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()

	start := time.Now()
	err := fn(&Tx{s: s, conn: conn})
	exchangeDuration.WithLabelValues(s.cfg.Dialect.String()).Observe(time.Since(start).Seconds())

	if kind := errorKind(err); kind != "" {
		protocolErrors.WithLabelValues(s.cfg.Dialect.String(), kind).Inc()
	}
	if err != nil && ctx.Err() != nil && wire.IsFatal(err) {
		return errors.Join(ctx.Err(), err)
	}
	return err
}

// Poll drains unsolicited engine commands every interval until ctx is done
// or the connection fails. It returns nil when the session disconnects.
func (s *Session) Poll(ctx context.Context, interval time.Duration) error {
	if s.cfg.Dialect != wire.GRLD {
		return ErrWrongDialect
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		err := s.Exchange(ctx, func(tx *Tx) error {
			return tx.Drain()
		})
		switch {
		case err == nil:
		case errors.Is(err, ErrNotConnected), ctx.Err() != nil:
			return nil
		default:
			return err
		}
	}
}
