// Package breakpoint keeps the in-memory breakpoint map and mirrors it to
// the connected engine.
package breakpoint

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/dshills/scriptdbg/internal/debug/wire"
)

// ErrNotFound is returned when no breakpoint exists at a location.
var ErrNotFound = errors.New("breakpoint not found")

// Breakpoint is a line breakpoint record. Records are keyed by file and
// line in the Registry.
type Breakpoint struct {
	// ID is the engine's id. It is empty until the engine acknowledges
	// the breakpoint and is reset when the connection ends.
	ID string `json:"id"`

	// Enabled indicates if the breakpoint is active.
	Enabled bool `json:"enabled"`

	// Expression is the condition. Empty means unconditional.
	Expression string `json:"expression,omitempty"`
}

// RunBreakpoint is the transient breakpoint used to run to a line.
type RunBreakpoint struct {
	File string
	Line string
	ID   string
}

// Remote is the engine side of breakpoint management. A nil Remote means
// no engine is connected.
type Remote interface {
	// SetBreakpoint registers a line breakpoint and returns its engine id.
	SetBreakpoint(path string, line int, expr string, temporary bool) (string, error)

	// UpdateBreakpoint enables or disables a breakpoint in place.
	UpdateBreakpoint(id string, enabled bool) error

	// RemoveBreakpoint unregisters a breakpoint.
	RemoveBreakpoint(id string) error
}

// Registry maps file -> line -> breakpoint. Line keys are kept as strings
// so imported data with unusual keys survives a round trip.
type Registry struct {
	mu     sync.RWMutex
	files  map[string]map[string]*Breakpoint
	run    *RunBreakpoint
	mapper *PathMapper
}

// NewRegistry creates an empty registry. A nil mapper passes paths through.
func NewRegistry(mapper *PathMapper) *Registry {
	if mapper == nil {
		mapper = NewPathMapper(nil)
	}
	return &Registry{
		files:  make(map[string]map[string]*Breakpoint),
		mapper: mapper,
	}
}

// Mapper returns the path mapper used for remote calls.
func (r *Registry) Mapper() *PathMapper {
	return r.mapper
}

// Set adds or replaces the breakpoint at file:line and enables it. When
// remote is non-nil the breakpoint is registered with the engine and its
// id recorded; on failure the local record is kept without an id. If the
// previous breakpoint cannot be removed from the engine, the previous record
// is left in place.
func (r *Registry) Set(remote Remote, file string, line int, expr string) (Breakpoint, error) {
	key := strconv.Itoa(line)
	expr = strings.TrimSpace(expr)

	r.mu.Lock()
	defer r.mu.Unlock()

	lines := r.files[file]
	if lines == nil {
		lines = make(map[string]*Breakpoint)
		r.files[file] = lines
	}

	if old, ok := lines[key]; ok && old.ID != "" && remote != nil {
		if err := remote.RemoveBreakpoint(old.ID); err != nil {
			// The engine still holds the old id; keep it addressable.
			return *old, fmt.Errorf("remove previous breakpoint %s: %w", old.ID, err)
		}
	}

	bp := &Breakpoint{Enabled: true, Expression: expr}
	lines[key] = bp

	if remote != nil {
		id, err := remote.SetBreakpoint(r.remotePath(file), line, expr, false)
		if err != nil {
			return *bp, fmt.Errorf("set breakpoint %s:%d: %w", file, line, err)
		}
		bp.ID = id
	}
	return *bp, nil
}

// Remove deletes the breakpoint at file:line, unregistering it from the
// engine first when it has an id.
func (r *Registry) Remove(remote Remote, file string, line int) error {
	key := strconv.Itoa(line)

	r.mu.Lock()
	defer r.mu.Unlock()

	bp, ok := r.files[file][key]
	if !ok {
		return ErrNotFound
	}

	var err error
	if bp.ID != "" && remote != nil {
		if rerr := remote.RemoveBreakpoint(bp.ID); rerr != nil {
			err = fmt.Errorf("remove breakpoint %s: %w", bp.ID, rerr)
		}
	}

	delete(r.files[file], key)
	if len(r.files[file]) == 0 {
		delete(r.files, file)
	}
	return err
}

// Toggle enables or disables the breakpoint at file:line. The id and
// expression are left untouched; a registered breakpoint is updated in
// place on the engine.
func (r *Registry) Toggle(remote Remote, file string, line int, enabled bool) error {
	key := strconv.Itoa(line)

	r.mu.Lock()
	defer r.mu.Unlock()

	bp, ok := r.files[file][key]
	if !ok {
		return ErrNotFound
	}
	bp.Enabled = enabled

	if bp.ID != "" && remote != nil {
		if err := remote.UpdateBreakpoint(bp.ID, enabled); err != nil {
			return fmt.Errorf("update breakpoint %s: %w", bp.ID, err)
		}
	}
	return nil
}

// Get returns the breakpoint at file:line.
func (r *Registry) Get(file string, line int) (Breakpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bp, ok := r.files[file][strconv.Itoa(line)]
	if !ok {
		return Breakpoint{}, false
	}
	return *bp, true
}

// Len returns the number of breakpoints.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, lines := range r.files {
		n += len(lines)
	}
	return n
}

// Replay registers every enabled breakpoint with a freshly connected
// engine and records the returned ids. It returns the number registered.
// An engine refusing one breakpoint does not stop the others; the errors
// are joined. A fatal connection error ends the replay.
func (r *Registry) Replay(remote Remote) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	var errs []error
	for _, file := range sortedFiles(r.files) {
		lines := r.files[file]
		for _, key := range SortedLines(lines) {
			bp := lines[key]
			if !bp.Enabled {
				continue
			}
			line, err := strconv.Atoi(key)
			if err != nil {
				continue
			}
			id, err := remote.SetBreakpoint(r.remotePath(file), line, bp.Expression, false)
			if err != nil {
				err = fmt.Errorf("replay breakpoint %s:%s: %w", file, key, err)
				if wire.IsFatal(err) {
					return n, errors.Join(append(errs, err)...)
				}
				errs = append(errs, err)
				continue
			}
			bp.ID = id
			n++
		}
	}
	return n, errors.Join(errs...)
}

// ResetRemoteIDs forgets every engine id. Ids are only valid for the
// connection that issued them.
func (r *Registry) ResetRemoteIDs() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, lines := range r.files {
		for _, bp := range lines {
			bp.ID = ""
		}
	}
	r.run = nil
}

// SetRun places the transient run-to-line breakpoint. An enabled user
// breakpoint at the same line already stops there, so none is set.
func (r *Registry) SetRun(remote Remote, file string, line int) (RunBreakpoint, error) {
	if remote == nil {
		return RunBreakpoint{}, errors.New("run to line requires a connected engine")
	}
	run := RunBreakpoint{File: file, Line: strconv.Itoa(line)}

	r.mu.Lock()
	defer r.mu.Unlock()

	if bp, ok := r.files[file][run.Line]; !ok || !bp.Enabled {
		id, err := remote.SetBreakpoint(r.remotePath(file), line, "", true)
		if err != nil {
			return RunBreakpoint{}, fmt.Errorf("set run breakpoint %s:%d: %w", file, line, err)
		}
		run.ID = id
	}
	r.run = &run
	return run, nil
}

// Run returns the pending run-to-line breakpoint.
func (r *Registry) Run() (RunBreakpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.run == nil {
		return RunBreakpoint{}, false
	}
	return *r.run, true
}

// ClearRun discards the run-to-line breakpoint and removes it from the
// engine.
func (r *Registry) ClearRun(remote Remote) error {
	r.mu.Lock()
	run := r.run
	r.run = nil
	r.mu.Unlock()

	if run == nil || run.ID == "" || remote == nil {
		return nil
	}
	return remote.RemoveBreakpoint(run.ID)
}

// Export returns a copy of the map in its persisted shape.
func (r *Registry) Export() map[string]map[string]Breakpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]map[string]Breakpoint, len(r.files))
	for file, lines := range r.files {
		m := make(map[string]Breakpoint, len(lines))
		for key, bp := range lines {
			m[key] = *bp
		}
		out[file] = m
	}
	return out
}

// Import replaces the map. Ids are dropped since they belong to an old
// connection.
func (r *Registry) Import(data map[string]map[string]Breakpoint) {
	files := make(map[string]map[string]*Breakpoint, len(data))
	for file, lines := range data {
		if len(lines) == 0 {
			continue
		}
		m := make(map[string]*Breakpoint, len(lines))
		for key, bp := range lines {
			bp.ID = ""
			m[key] = &bp
		}
		files[file] = m
	}

	r.mu.Lock()
	r.files = files
	r.mu.Unlock()
}

// Render lists breakpoints per file:
//
//	=> /path/file.php
//		|+| 10 -- "$x > 1"
//
// The run-to-line marker is not shown.
func (r *Registry) Render() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var sb strings.Builder
	for _, file := range sortedFiles(r.files) {
		lines := r.files[file]
		if len(lines) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "=> %s\n", file)
		for _, key := range SortedLines(lines) {
			if r.run != nil && r.run.ID != "" && r.run.File == file && r.run.Line == key {
				continue
			}
			bp := lines[key]
			mark := "|-|"
			if bp.Enabled {
				mark = "|+|"
			}
			fmt.Fprintf(&sb, "\t%s %s", mark, key)
			if bp.Expression != "" {
				fmt.Fprintf(&sb, " -- \"%s\"", bp.Expression)
			}
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

func (r *Registry) remotePath(file string) string {
	p, _ := r.mapper.ToRemote(file)
	return p
}

func sortedFiles(files map[string]map[string]*Breakpoint) []string {
	out := make([]string, 0, len(files))
	for f := range files {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// SortedLines orders line keys numerically, with keys that are not
// integers sorted lexically after all numeric ones.
func SortedLines[V any](lines map[string]V) []string {
	keys := make([]string, 0, len(lines))
	for k := range lines {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return lineLess(keys[i], keys[j])
	})
	return keys
}

func lineLess(a, b string) bool {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	switch {
	case errA == nil && errB == nil:
		if na != nb {
			return na < nb
		}
		return a < b
	case errA == nil:
		return true
	case errB == nil:
		return false
	default:
		return a < b
	}
}
