package wire

import (
	"errors"
	"fmt"
)

var (
	// ErrListenCanceled is returned when listening is aborted before a peer connects.
	ErrListenCanceled = errors.New("listen canceled")

	// ErrFrameTooLarge is returned when a frame declares a size above MaxFrameSize.
	ErrFrameTooLarge = errors.New("frame too large")

	// ErrClosed is returned when using a connection after Close.
	ErrClosed = errors.New("connection closed")
)

// ConnectionError reports an I/O failure on the engine socket.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// FramingError reports a violation of a dialect's framing rule. The stream
// cannot be trusted after one is returned.
type FramingError struct {
	Dialect Dialect
	Reason  string
	Err     error
}

func (e *FramingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s framing: %s: %v", e.Dialect, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s framing: %s", e.Dialect, e.Reason)
}

func (e *FramingError) Unwrap() error {
	return e.Err
}

func framingErr(d Dialect, format string, args ...any) *FramingError {
	return &FramingError{Dialect: d, Reason: fmt.Sprintf(format, args...)}
}

// IsFatal reports whether err leaves the connection unusable.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var ce *ConnectionError
	var fe *FramingError
	return errors.As(err, &ce) || errors.As(err, &fe) || errors.Is(err, ErrClosed)
}
