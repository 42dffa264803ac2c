package session

import (
	"errors"

	"github.com/dshills/scriptdbg/internal/debug/codec"
	"github.com/dshills/scriptdbg/internal/debug/wire"
)

var (
	// ErrNotConnected is returned when an exchange is attempted without an engine.
	ErrNotConnected = errors.New("not connected to debugger engine")

	// ErrBusy is returned when Listen is called while listening or connected.
	ErrBusy = errors.New("session already listening or connected")

	// ErrWrongDialect is returned when a dialect specific call is made on the other dialect.
	ErrWrongDialect = errors.New("operation not supported by dialect")
)

func errorKind(err error) string {
	var ce *wire.ConnectionError
	var fe *wire.FramingError
	var de *codec.DecodeError
	switch {
	case errors.As(err, &fe):
		return "framing"
	case errors.As(err, &ce):
		return "connection"
	case errors.As(err, &de):
		return "decode"
	default:
		return ""
	}
}
