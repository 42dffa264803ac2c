package debug

import (
	"time"

	"github.com/dshills/scriptdbg/internal/debug/breakpoint"
	"github.com/dshills/scriptdbg/internal/debug/codec"
	"github.com/dshills/scriptdbg/internal/debug/inspect"
	"github.com/dshills/scriptdbg/internal/debug/session"
)

// EventKind identifies an adapter event.
type EventKind int

const (
	EventListening EventKind = iota
	EventConnected
	EventBreak
	EventContext
	EventStack
	EventWatches
	EventBreakpoints
	EventEvaluate
	EventStatus
	EventOutput
	EventWarning
	EventStopped
	EventConnectionLost
	EventError
)

var eventNames = [...]string{
	EventListening:      "listening",
	EventConnected:      "connected",
	EventBreak:          "break",
	EventContext:        "context",
	EventStack:          "stack",
	EventWatches:        "watches",
	EventBreakpoints:    "breakpoints",
	EventEvaluate:       "evaluate",
	EventStatus:         "status",
	EventOutput:         "output",
	EventWarning:        "warning",
	EventStopped:        "stopped",
	EventConnectionLost: "connection_lost",
	EventError:          "error",
}

func (k EventKind) String() string {
	if k >= 0 && int(k) < len(eventNames) {
		return eventNames[k]
	}
	return "unknown"
}

// Location is a position in a local file.
type Location struct {
	File string
	Line int
}

// Event is delivered to the collaborator. Text is always the rendered
// form; the structured fields depend on Kind.
type Event struct {
	Kind    EventKind
	Session string
	Time    time.Time
	Text    string
	Err     error

	// EventBreak, EventStatus.
	Status   session.Status
	Location Location

	// EventContext.
	Context *codec.Properties

	// EventStack.
	Stack []inspect.Frame

	// EventWatches.
	Watches []inspect.Watch

	// EventBreakpoints.
	Breakpoints map[string]map[string]breakpoint.Breakpoint

	// EventEvaluate.
	Expression string
	Result     *codec.Properties
}
