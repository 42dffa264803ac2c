package debug

import (
	"context"
	"fmt"
	"strings"

	"github.com/dshills/scriptdbg/internal/config"
	"github.com/dshills/scriptdbg/internal/debug/breakpoint"
	"github.com/dshills/scriptdbg/internal/debug/codec"
	"github.com/dshills/scriptdbg/internal/debug/dialect"
	"github.com/dshills/scriptdbg/internal/debug/inspect"
	"github.com/dshills/scriptdbg/internal/debug/session"
)

// Stop ends the session without restarting. The engine is asked to stop
// when one is attached.
func (a *Adapter) Stop() error {
	a.stopListening()
	return a.submit("stop", func(ctx context.Context) error {
		if a.live.Load() {
			err := a.sess.Exchange(ctx, func(tx *session.Tx) error {
				_, err := a.driver.Execute(tx, dialect.Stop)
				return err
			})
			if err != nil {
				a.log.WithError(err).Debug("stop")
			}
		}
		a.teardown()
		a.emit(Event{Kind: EventStopped, Status: session.StatusStopped, Text: "session stopped"})
		return nil
	})
}

// Execute sends a continuation command. Detach ends the session without
// a stop command.
func (a *Adapter) Execute(cmd dialect.Continuation) error {
	return a.submit(string(cmd), func(ctx context.Context) error {
		if !a.live.Load() {
			return ErrNotConnected
		}
		var info dialect.StopInfo
		err := a.sess.Exchange(ctx, func(tx *session.Tx) error {
			var err error
			info, err = a.driver.Execute(tx, cmd)
			if err != nil {
				return err
			}
			return a.afterExecute(tx, info)
		})
		if err != nil {
			return err
		}
		if cmd == dialect.Detach || cmd == dialect.Stop {
			info.Status = session.StatusStopped
		}
		return a.finishIfEnded(ctx, info, true)
	})
}

// RunToLine runs until file:line is reached or another breakpoint hits.
func (a *Adapter) RunToLine(file string, line int) error {
	return a.submit("run_to_line", func(ctx context.Context) error {
		if !a.live.Load() {
			return ErrNotConnected
		}
		var info dialect.StopInfo
		err := a.sess.Exchange(ctx, func(tx *session.Tx) error {
			if _, err := a.registry.SetRun(a.remote(tx), file, line); err != nil {
				return err
			}
			var err error
			info, err = a.driver.Execute(tx, dialect.Run)
			if err != nil {
				return err
			}
			return a.afterExecute(tx, info)
		})
		if err != nil {
			return err
		}
		return a.finishIfEnded(ctx, info, true)
	})
}

// SetBreakpoint adds or replaces the breakpoint at file:line.
func (a *Adapter) SetBreakpoint(file string, line int, expr string) error {
	return a.submit("breakpoint_set", func(ctx context.Context) error {
		err := a.withRemote(ctx, func(remote breakpoint.Remote) error {
			_, err := a.registry.Set(remote, file, line, expr)
			return err
		})
		a.emitBreakpoints()
		return err
	})
}

// RemoveBreakpoint deletes the breakpoint at file:line.
func (a *Adapter) RemoveBreakpoint(file string, line int) error {
	return a.submit("breakpoint_remove", func(ctx context.Context) error {
		err := a.withRemote(ctx, func(remote breakpoint.Remote) error {
			return a.registry.Remove(remote, file, line)
		})
		a.emitBreakpoints()
		return err
	})
}

// ToggleBreakpoint enables or disables the breakpoint at file:line.
func (a *Adapter) ToggleBreakpoint(file string, line int, enabled bool) error {
	return a.submit("breakpoint_update", func(ctx context.Context) error {
		err := a.withRemote(ctx, func(remote breakpoint.Remote) error {
			return a.registry.Toggle(remote, file, line, enabled)
		})
		a.emitBreakpoints()
		return err
	})
}

// ImportBreakpoints replaces the breakpoint map and registers the enabled
// entries when an engine is attached.
func (a *Adapter) ImportBreakpoints(data map[string]map[string]breakpoint.Breakpoint) error {
	return a.submit("breakpoint_import", func(ctx context.Context) error {
		err := a.withRemote(ctx, func(remote breakpoint.Remote) error {
			if remote != nil {
				// Old engine ids are dropped by Import.
				for file, lines := range a.registry.Export() {
					for key, bp := range lines {
						if bp.ID == "" {
							continue
						}
						if err := remote.RemoveBreakpoint(bp.ID); err != nil {
							return fmt.Errorf("remove breakpoint %s:%s: %w", file, key, err)
						}
					}
				}
			}
			a.registry.Import(data)
			if remote == nil {
				return nil
			}
			_, err := a.registry.Replay(remote)
			return err
		})
		a.emitBreakpoints()
		return err
	})
}

// Evaluate evaluates expr in the current scope.
func (a *Adapter) Evaluate(expr string) error {
	return a.submit("eval", func(ctx context.Context) error {
		if !a.live.Load() {
			return ErrNotConnected
		}
		return a.sess.Exchange(ctx, func(tx *session.Tx) error {
			props, err := a.engine.Evaluate(tx, expr)
			if err != nil {
				return err
			}
			a.emit(Event{
				Kind:       EventEvaluate,
				Expression: expr,
				Result:     props,
				Text:       inspect.RenderContext(props),
			})
			return nil
		})
	})
}

// Status reports the execution status as "reason - status". Without an
// engine the local status is reported.
func (a *Adapter) Status() error {
	return a.submit("status", func(ctx context.Context) error {
		if !a.live.Load() {
			info := a.lastStatus()
			a.emit(Event{Kind: EventStatus, Status: info.Status, Text: statusText(info)})
			return nil
		}
		var info dialect.StopInfo
		err := a.sess.Exchange(ctx, func(tx *session.Tx) error {
			var err error
			info, err = a.driver.Status(tx)
			if err != nil {
				return err
			}
			a.mu.Lock()
			a.last = info
			a.mu.Unlock()
			return nil
		})
		if err != nil {
			return err
		}
		a.emit(Event{
			Kind:     EventStatus,
			Status:   info.Status,
			Location: Location{File: info.File, Line: info.Line},
			Text:     statusText(info),
		})
		return nil
	})
}

// UserCommand sends a raw "command args" line and reports the raw reply.
func (a *Adapter) UserCommand(line string) error {
	line = strings.TrimSpace(line)
	return a.submit("user_command", func(ctx context.Context) error {
		if !a.live.Load() {
			return ErrNotConnected
		}
		if line == "" {
			return nil
		}
		return a.sess.Exchange(ctx, func(tx *session.Tx) error {
			out, err := a.driver.Raw(tx, line)
			if err != nil {
				return err
			}
			a.emit(Event{Kind: EventOutput, Expression: line, Text: out})
			return nil
		})
	})
}

// SetWatch adds a watch expression. It is evaluated at once when the
// engine is suspended.
func (a *Adapter) SetWatch(expr string) error {
	return a.submit("watch_add", func(ctx context.Context) error {
		if _, added := a.engine.Watches().Add(expr); !added {
			a.emit(Event{Kind: EventWarning, Text: fmt.Sprintf("watch %q not added", strings.TrimSpace(expr))})
		}
		return a.refreshWatches(ctx)
	})
}

// RemoveWatch deletes the watch at index.
func (a *Adapter) RemoveWatch(index int) error {
	return a.submit("watch_remove", func(ctx context.Context) error {
		if err := a.engine.Watches().Remove(index); err != nil {
			return err
		}
		return a.refreshWatches(ctx)
	})
}

// ToggleWatch enables or disables the watch at index.
func (a *Adapter) ToggleWatch(index int, enabled bool) error {
	return a.submit("watch_update", func(ctx context.Context) error {
		if err := a.engine.Watches().SetEnabled(index, enabled); err != nil {
			return err
		}
		return a.refreshWatches(ctx)
	})
}

// ImportWatches replaces the watch list.
func (a *Adapter) ImportWatches(entries []inspect.Watch) error {
	return a.submit("watch_import", func(ctx context.Context) error {
		a.engine.Watches().Import(entries)
		return a.refreshWatches(ctx)
	})
}

func (a *Adapter) refreshWatches(ctx context.Context) error {
	if a.live.Load() && a.lastStatus().Status == session.StatusBreak {
		err := a.sess.Exchange(ctx, func(tx *session.Tx) error {
			return a.engine.RefreshWatches(tx)
		})
		if err != nil {
			return err
		}
	}
	a.emitWatches(a.engine.Watches().Entries())
	return nil
}

// UpdateConfig applies a reloaded configuration. Path mappings, redaction
// and engine limits take effect at once; limits reach the engine on the
// next connection. Listener settings need a new adapter.
func (a *Adapter) UpdateConfig(cfg *config.Config) error {
	if cfg == nil {
		return nil
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg = cfg.Clone()
	return a.submit("config_update", func(context.Context) error {
		a.cfgMu.Lock()
		old := a.cfg
		a.cfg = cfg
		a.cfgMu.Unlock()

		if old.Dialect != cfg.Dialect || old.Addr() != cfg.Addr() {
			a.emit(Event{Kind: EventWarning, Text: "dialect and listen address changes apply to a new adapter"})
		}
		a.mapper.SetMappings(cfg.PathMapping)
		a.engine.SetOptions(engineOptions(cfg))
		a.driver.SetOptions(driverOptions(cfg))
		a.log.Debug("configuration updated")
		return nil
	})
}

// Breakpoints returns a copy of the breakpoint map.
func (a *Adapter) Breakpoints() map[string]map[string]breakpoint.Breakpoint {
	return a.registry.Export()
}

// Watches returns a copy of the watch list.
func (a *Adapter) Watches() []inspect.Watch {
	return a.engine.Watches().Export()
}

// Context returns the variables fetched at the last break.
func (a *Adapter) Context() *codec.Properties {
	return a.engine.Context()
}

// Stack returns the call stack fetched at the last break.
func (a *Adapter) Stack() []inspect.Frame {
	return a.engine.Stack()
}

// Find looks up a variable by name in the last fetched context.
func (a *Adapter) Find(name string) (*codec.Property, bool) {
	return inspect.Find(a.engine.Context(), name)
}

func (a *Adapter) submit(name string, job func(ctx context.Context) error) error {
	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return ErrAdapterClosed
	}
	return a.disp.Submit(name, job)
}
