package inspect

import (
	"fmt"
	"strings"
	"sync"

	"github.com/dshills/scriptdbg/internal/debug/codec"
)

// Watch is a watch expression and its last evaluated value.
type Watch struct {
	// Expression is the watched expression.
	Expression string `json:"expression"`

	// Enabled indicates if the expression is evaluated on each stop.
	Enabled bool `json:"enabled"`

	// Value is the last result, nil when not evaluated or failed.
	Value *codec.Properties `json:"value"`

	// Type is the type of the last result.
	Type string `json:"type,omitempty"`
}

// WatchList is an ordered list of watch expressions.
type WatchList struct {
	mu    sync.RWMutex
	items []*Watch
}

// NewWatchList creates an empty watch list.
func NewWatchList() *WatchList {
	return &WatchList{}
}

// Add appends an enabled watch. Duplicate expressions are ignored and
// report false.
func (w *WatchList) Add(expr string) (int, bool) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return -1, false
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for i, item := range w.items {
		if item.Expression == expr {
			return i, false
		}
	}
	w.items = append(w.items, &Watch{Expression: expr, Enabled: true})
	return len(w.items) - 1, true
}

// Remove deletes the watch at index.
func (w *WatchList) Remove(index int) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if index < 0 || index >= len(w.items) {
		return fmt.Errorf("watch index %d out of range", index)
	}
	w.items = append(w.items[:index], w.items[index+1:]...)
	return nil
}

// SetEnabled enables or disables the watch at index. A disabled watch
// loses its value.
func (w *WatchList) SetEnabled(index int, enabled bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if index < 0 || index >= len(w.items) {
		return fmt.Errorf("watch index %d out of range", index)
	}
	w.items[index].Enabled = enabled
	if !enabled {
		w.items[index].Value = nil
		w.items[index].Type = ""
	}
	return nil
}

// Len returns the number of watches.
func (w *WatchList) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.items)
}

// Entries returns a copy of the list.
func (w *WatchList) Entries() []Watch {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]Watch, len(w.items))
	for i, item := range w.items {
		out[i] = *item
		out[i].Value = item.Value.Clone()
	}
	return out
}

// Export returns the list in its persisted shape.
func (w *WatchList) Export() []Watch {
	return w.Entries()
}

// Import replaces the list. Values are reset and duplicate expressions dropped.
func (w *WatchList) Import(entries []Watch) {
	items := make([]*Watch, 0, len(entries))
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		expr := strings.TrimSpace(e.Expression)
		if expr == "" || seen[expr] {
			continue
		}
		seen[expr] = true
		items = append(items, &Watch{Expression: expr, Enabled: e.Enabled})
	}

	w.mu.Lock()
	w.items = items
	w.mu.Unlock()
}

// ResetValues clears every cached value.
func (w *WatchList) ResetValues() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, item := range w.items {
		item.Value = nil
		item.Type = ""
	}
}

// pending returns the expressions to evaluate, indexed like the list.
func (w *WatchList) pending() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]string, len(w.items))
	for i, item := range w.items {
		if item.Enabled {
			out[i] = item.Expression
		}
	}
	return out
}

// store sets the value of the watch at index if it still holds expr.
func (w *WatchList) store(index int, expr string, value *codec.Properties) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if index >= len(w.items) || w.items[index].Expression != expr {
		return
	}
	item := w.items[index]
	item.Value = value
	item.Type = ""
	if p, ok := value.Get(expr); ok {
		item.Type = p.Type
	}
}
