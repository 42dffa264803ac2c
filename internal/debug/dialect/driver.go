// Package dialect implements the engine commands of each wire dialect on
// top of a session transaction.
package dialect

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dshills/scriptdbg/internal/debug/breakpoint"
	"github.com/dshills/scriptdbg/internal/debug/inspect"
	"github.com/dshills/scriptdbg/internal/debug/session"
	"github.com/dshills/scriptdbg/internal/debug/wire"
)

// ErrUnsupported is returned for commands a dialect has no equivalent for.
var ErrUnsupported = errors.New("command not supported by dialect")

// Continuation is an execution control command.
type Continuation string

const (
	Run      Continuation = "run"
	StepInto Continuation = "step_into"
	StepOver Continuation = "step_over"
	StepOut  Continuation = "step_out"
	Stop     Continuation = "stop"
	Detach   Continuation = "detach"

	// Pause interrupts a running script.
	Pause Continuation = "break"
)

// ParseContinuation converts a command name.
func ParseContinuation(s string) (Continuation, error) {
	switch c := Continuation(strings.ToLower(strings.TrimSpace(s))); c {
	case Run, StepInto, StepOver, StepOut, Stop, Detach, Pause:
		return c, nil
	}
	return "", fmt.Errorf("unknown execution command %q", s)
}

// Init describes the engine that connected.
type Init struct {
	FileURI         string
	File            string
	IDEKey          string
	Language        string
	ProtocolVersion string
	AppID           string
}

// StopInfo reports the execution status after a command.
type StopInfo struct {
	Status session.Status
	Reason string

	// File and Line give the break location when the engine reports one.
	File string
	Line int

	// Message is the engine's description of the stop, if any.
	Message string
}

// Options are engine feature settings applied during the handshake.
type Options struct {
	MaxChildren int
	MaxData     int
	MaxDepth    int
}

// Driver speaks one dialect. Every method runs inside a session exchange.
type Driver interface {
	inspect.Backend

	// Dialect returns the wire dialect.
	Dialect() wire.Dialect

	// SetOptions replaces the feature settings. Engine limits apply at the
	// next handshake.
	SetOptions(opts Options)

	// Handshake reads the engine greeting and negotiates features.
	Handshake(tx *session.Tx) (Init, error)

	// SetBreakpoint registers a line breakpoint and returns its engine id.
	SetBreakpoint(tx *session.Tx, path string, line int, expr string, temporary bool) (string, error)

	// SetExceptionBreakpoint breaks when the named exception is thrown.
	SetExceptionBreakpoint(tx *session.Tx, name string) (string, error)

	// UpdateBreakpoint enables or disables a breakpoint.
	UpdateBreakpoint(tx *session.Tx, id string, enabled bool) error

	// RemoveBreakpoint unregisters a breakpoint.
	RemoveBreakpoint(tx *session.Tx, id string) error

	// Execute sends an execution command and returns the resulting status.
	Execute(tx *session.Tx, cmd Continuation) (StopInfo, error)

	// Status queries the execution status.
	Status(tx *session.Tx) (StopInfo, error)

	// Raw sends a user command line and returns the raw reply.
	Raw(tx *session.Tx, line string) (string, error)
}

// New returns the driver for d.
func New(d wire.Dialect, mapper *breakpoint.PathMapper, opts Options) Driver {
	if d == wire.GRLD {
		return NewGRLD(mapper, opts)
	}
	return NewDBGp(mapper, opts)
}

// BoundRemote adapts a driver and an open transaction to breakpoint.Remote.
type BoundRemote struct {
	Driver Driver
	Tx     *session.Tx
}

// SetBreakpoint implements breakpoint.Remote.
func (b BoundRemote) SetBreakpoint(path string, line int, expr string, temporary bool) (string, error) {
	return b.Driver.SetBreakpoint(b.Tx, path, line, expr, temporary)
}

// UpdateBreakpoint implements breakpoint.Remote.
func (b BoundRemote) UpdateBreakpoint(id string, enabled bool) error {
	return b.Driver.UpdateBreakpoint(b.Tx, id, enabled)
}

// RemoveBreakpoint implements breakpoint.Remote.
func (b BoundRemote) RemoveBreakpoint(id string) error {
	return b.Driver.RemoveBreakpoint(b.Tx, id)
}

// EngineError is an error reported by the engine in reply to a command.
type EngineError struct {
	Command string
	Code    string
	Message string
}

func (e *EngineError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: engine error %s: %s", e.Command, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: engine error: %s", e.Command, e.Message)
}
