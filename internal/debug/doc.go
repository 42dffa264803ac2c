// Package debug is the debug adapter: one debugging session against a
// remote script engine, driven by an external collaborator such as an
// editor or the scriptdbg console.
//
// # Architecture
//
//	┌─────────────────────────────────────────────────────────────┐
//	│                      Collaborator                           │
//	│       Start / Execute / SetBreakpoint / Evaluate ...        │
//	└───────────────┬──────────────────────────────▲──────────────┘
//	                │ Submit (never blocks)        │ Events()
//	┌───────────────▼──────────────┐               │
//	│   dispatch.Dispatcher        │───────────────┤
//	│   (single worker)            │               │
//	└───────────────┬──────────────┘               │
//	                │ Exchange                     │
//	┌───────────────▼──────────────┐   ┌───────────┴──────────────┐
//	│   session.Session            │◀──│ listener / GRLD poll     │
//	│   (exchange lock, tx ids)    │   │ goroutines               │
//	└───────────────┬──────────────┘   └──────────────────────────┘
//	                │
//	┌───────────────▼──────────────┐
//	│ dialect.DBGp / dialect.GRLD  │── breakpoint.Registry
//	│                              │── inspect.Engine
//	└───────────────┬──────────────┘
//	                │
//	┌───────────────▼──────────────┐
//	│ wire.Conn + codec            │
//	└──────────────────────────────┘
//
// # Errors
//
// Transport and framing failures tear the session down and are reported
// once as EventConnectionLost. Engine errors become EventError, and
// evaluation errors become property nodes.
package debug
