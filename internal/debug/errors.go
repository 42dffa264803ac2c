package debug

import "errors"

var (
	// ErrAdapterClosed is returned by operations after Close.
	ErrAdapterClosed = errors.New("debug adapter closed")

	// ErrNotConnected is reported when an operation needs an engine.
	ErrNotConnected = errors.New("no engine connected")

	// ErrAlreadyStarted is returned by Start while listening or connected.
	ErrAlreadyStarted = errors.New("debug session already started")
)
