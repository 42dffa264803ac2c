package dialect

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/dshills/scriptdbg/internal/debug/breakpoint"
	"github.com/dshills/scriptdbg/internal/debug/codec"
	"github.com/dshills/scriptdbg/internal/debug/inspect"
	"github.com/dshills/scriptdbg/internal/debug/session"
	"github.com/dshills/scriptdbg/internal/debug/wire"
	"github.com/dshills/scriptdbg/internal/logflags"
)

// GRLD request names.
const (
	grldRun           = "run"
	grldStepOver      = "stepover"
	grldStepIn        = "stepin"
	grldStepOut       = "stepout"
	grldBreak         = "break"
	grldSetBreakpoint = "setbreakpoint"
	grldCallstack     = "callstack"
	grldLocals        = "locals"
	grldUpvalues      = "upvalues"
	grldEvaluate      = "evaluate"
	grldGetValue      = "getValue"
)

const (
	currentThread = "current"
	topLevel      = 1
)

// GRLD drives Lua engines speaking the GRLD protocol. The engine never
// reports its status on request, so the driver tracks it from the
// commands it sends and the breaks the engine pushes.
type GRLD struct {
	mapper *breakpoint.PathMapper

	mu   sync.Mutex
	opts Options
	last StopInfo

	// OnWarning receives degradations the engine cannot honor, such as
	// a dropped breakpoint condition.
	OnWarning func(msg string)
}

// NewGRLD creates a GRLD driver.
func NewGRLD(mapper *breakpoint.PathMapper, opts Options) *GRLD {
	if mapper == nil {
		mapper = breakpoint.NewPathMapper(nil)
	}
	return &GRLD{mapper: mapper, opts: opts, last: StopInfo{Status: session.StatusUnknown}}
}

// Dialect implements Driver.
func (g *GRLD) Dialect() wire.Dialect {
	return wire.GRLD
}

// SetOptions implements Driver. Only MaxDepth is used; it bounds table
// expansion.
func (g *GRLD) SetOptions(opts Options) {
	g.mu.Lock()
	g.opts = opts
	g.mu.Unlock()
}

// Handshake implements Driver. GRLD engines send no greeting; a break
// pushed right after connecting is handled here.
func (g *GRLD) Handshake(tx *session.Tx) (Init, error) {
	g.setStatus(StopInfo{Status: session.StatusStarting})
	if err := tx.Drain(); err != nil {
		return Init{}, err
	}
	return Init{Language: "lua"}, nil
}

// HandleBreak records a break pushed by the engine and returns its
// location in local terms.
func (g *GRLD) HandleBreak(cmd session.Command) StopInfo {
	info := StopInfo{Status: session.StatusBreak, Reason: "ok"}
	if len(cmd.Args) > 0 {
		if src, ok := cmd.Args[0].(string); ok {
			info.File = g.localPath(src)
		}
	}
	if len(cmd.Args) > 1 {
		if n, ok := cmd.Args[1].(float64); ok {
			info.Line = int(n)
		}
	}
	g.setStatus(info)
	return info
}

// SetBreakpoint implements Driver. GRLD has no conditional or temporary
// breakpoints; a condition is ignored with a warning and the id is derived
// from the location.
func (g *GRLD) SetBreakpoint(tx *session.Tx, path string, line int, expr string, temporary bool) (string, error) {
	if expr != "" {
		msg := fmt.Sprintf("%s:%d: condition %q ignored, not supported by GRLD", path, line, expr)
		logflags.AdapterLogger().Warn(msg)
		if g.OnWarning != nil {
			g.OnWarning(msg)
		}
	}
	source := "@" + path
	if err := g.sendBreakpoint(tx, source, line, true); err != nil {
		return "", err
	}
	return source + ":" + strconv.Itoa(line), nil
}

// SetExceptionBreakpoint implements Driver.
func (g *GRLD) SetExceptionBreakpoint(*session.Tx, string) (string, error) {
	return "", fmt.Errorf("exception breakpoints: %w", ErrUnsupported)
}

// UpdateBreakpoint implements Driver.
func (g *GRLD) UpdateBreakpoint(tx *session.Tx, id string, enabled bool) error {
	source, line, err := splitBreakpointID(id)
	if err != nil {
		return err
	}
	return g.sendBreakpoint(tx, source, line, enabled)
}

// RemoveBreakpoint implements Driver.
func (g *GRLD) RemoveBreakpoint(tx *session.Tx, id string) error {
	return g.UpdateBreakpoint(tx, id, false)
}

func (g *GRLD) sendBreakpoint(tx *session.Tx, source string, line int, value bool) error {
	if err := tx.SendValue(grldSetBreakpoint); err != nil {
		return err
	}
	return tx.SendValue(codec.NewTable("source", source, "line", line, "value", value))
}

func splitBreakpointID(id string) (string, int, error) {
	i := strings.LastIndexByte(id, ':')
	if i <= 0 {
		return "", 0, fmt.Errorf("malformed breakpoint id %q", id)
	}
	line, err := strconv.Atoi(id[i+1:])
	if err != nil {
		return "", 0, fmt.Errorf("malformed breakpoint id %q", id)
	}
	return id[:i], line, nil
}

// Execute implements Driver. Continuations have no reply; the next stop
// arrives as a pushed break. Stop and detach need no request: the
// connection is simply dropped.
func (g *GRLD) Execute(tx *session.Tx, cmd Continuation) (StopInfo, error) {
	var name string
	switch cmd {
	case Run:
		name = grldRun
	case StepInto:
		name = grldStepIn
	case StepOver:
		name = grldStepOver
	case StepOut:
		name = grldStepOut
	case Pause:
		if err := tx.SendValue(grldBreak); err != nil {
			return StopInfo{}, err
		}
		return g.Status(tx)
	case Stop, Detach:
		info := StopInfo{Status: session.StatusStopped, Reason: "ok"}
		g.setStatus(info)
		return info, nil
	default:
		return StopInfo{}, fmt.Errorf("%s: %w", cmd, ErrUnsupported)
	}

	if err := tx.SendValue(name); err != nil {
		return StopInfo{}, err
	}
	info := StopInfo{Status: session.StatusRunning, Reason: "ok"}
	g.setStatus(info)
	return info, nil
}

// Status implements Driver. Pending pushes are handled first so a break
// that already arrived is reported.
func (g *GRLD) Status(tx *session.Tx) (StopInfo, error) {
	if err := tx.Drain(); err != nil {
		return StopInfo{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last, nil
}

// Raw implements Driver.
func (g *GRLD) Raw(*session.Tx, string) (string, error) {
	return "", fmt.Errorf("raw commands: %w", ErrUnsupported)
}

// Context implements inspect.Backend. Upvalues stand in for superglobals
// and are overridden by locals of the same name.
func (g *GRLD) Context(tx *session.Tx, superGlobals bool) (*codec.Properties, error) {
	props := codec.NewProperties()
	if superGlobals {
		up, err := g.scope(tx, grldUpvalues)
		if err != nil {
			return nil, err
		}
		props.Merge(up)
	}
	locals, err := g.scope(tx, grldLocals)
	if err != nil {
		return nil, err
	}
	props.Merge(locals)
	return props, nil
}

// scope fetches a list of { name = ..., value = ... } entries.
func (g *GRLD) scope(tx *session.Tx, request string) (*codec.Properties, error) {
	reply, err := tx.Request(request, currentThread, topLevel)
	if err != nil {
		return nil, err
	}
	t, ok := reply.(*codec.Table)
	if !ok {
		return nil, unexpectedReply(request, reply)
	}

	b := g.builder(tx)
	props := codec.NewProperties()
	for _, v := range t.Index() {
		entry, ok := v.(*codec.Table)
		if !ok {
			continue
		}
		name, ok := entry.GetString("name")
		if !ok || name == "" {
			continue
		}
		value, _ := entry.Get("value")
		p, err := b.Build(name, value)
		if err != nil {
			return nil, err
		}
		props.Set(name, p)
	}
	return props, nil
}

// Stack implements inspect.Backend.
func (g *GRLD) Stack(tx *session.Tx) ([]inspect.Frame, error) {
	reply, err := tx.Request(grldCallstack, currentThread)
	if err != nil {
		return nil, err
	}
	t, ok := reply.(*codec.Table)
	if !ok {
		return nil, unexpectedReply(grldCallstack, reply)
	}

	var frames []inspect.Frame
	for i, v := range t.Index() {
		entry, ok := v.(*codec.Table)
		if !ok {
			continue
		}
		source, _ := entry.GetString("source")
		name, _ := entry.GetString("name")
		what, _ := entry.GetString("what")
		var line int
		if n, ok := entry.Get("line"); ok {
			if f, ok := n.(float64); ok {
				line = int(f)
			}
		}
		frames = append(frames, inspect.Frame{
			Level: i,
			File:  g.localPath(source),
			Line:  line,
			Where: name,
			Type:  what,
		})
	}
	return frames, nil
}

// Evaluate implements inspect.Backend. The engine replies
// { result = value } or { error = message }.
func (g *GRLD) Evaluate(tx *session.Tx, expr string) (*codec.Properties, error) {
	reply, err := tx.Request(grldEvaluate, expr, currentThread, topLevel)
	if err != nil {
		return nil, err
	}
	t, ok := reply.(*codec.Table)
	if !ok {
		return nil, unexpectedReply(grldEvaluate, reply)
	}

	props := codec.NewProperties()
	if msg, ok := t.GetString("error"); ok {
		props.Set(expr, &codec.Property{Type: msg})
		return props, nil
	}
	result, _ := t.Get("result")
	p, err := g.builder(tx).Build("", result)
	if err != nil {
		return nil, err
	}
	props.Set(expr, p)
	return props, nil
}

func (g *GRLD) builder(tx *session.Tx) *codec.TreeBuilder {
	g.mu.Lock()
	depth := g.opts.MaxDepth
	g.mu.Unlock()

	return &codec.TreeBuilder{
		MaxDepth: depth,
		Fetch: func(id string) (any, error) {
			var key any = id
			if n, err := strconv.ParseFloat(id, 64); err == nil {
				key = n
			}
			return tx.Request(grldGetValue, key)
		},
	}
}

func (g *GRLD) setStatus(info StopInfo) {
	g.mu.Lock()
	g.last = info
	g.mu.Unlock()
}

func (g *GRLD) localPath(source string) string {
	if source == "" {
		return ""
	}
	if source == "=[C]" {
		return source
	}
	local, _ := g.mapper.ToLocal(strings.TrimPrefix(source, "@"))
	return local
}

func unexpectedReply(request string, v any) error {
	return &codec.DecodeError{
		Format: "lua",
		Reason: fmt.Sprintf("unexpected %s reply of type %s", request, codec.LuaType(v)),
	}
}
