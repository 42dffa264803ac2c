package wire

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"
)

// AcceptPollInterval is how often a pending accept checks for cancellation.
const AcceptPollInterval = time.Second

// Listener accepts exactly one engine connection.
type Listener struct {
	ln     *net.TCPListener
	framer Framer

	// PollInterval overrides AcceptPollInterval when non-zero.
	PollInterval time.Duration
}

// NewListener binds addr for the given dialect.
func NewListener(addr string, framer Framer) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, &ConnectionError{Op: "listen", Err: err}
	}
	tcp, ok := ln.(*net.TCPListener)
	if !ok {
		ln.Close()
		return nil, fmt.Errorf("listen %s: not a TCP listener", addr)
	}
	return &Listener{ln: tcp, framer: framer}, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Accept waits for one connection, then closes the listener. The wait is
// abandoned with ErrListenCanceled once ctx is done.
func (l *Listener) Accept(ctx context.Context) (*Conn, error) {
	defer l.ln.Close()

	interval := l.PollInterval
	if interval <= 0 {
		interval = AcceptPollInterval
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrListenCanceled, err)
		}
		if err := l.ln.SetDeadline(time.Now().Add(interval)); err != nil {
			return nil, &ConnectionError{Op: "accept", Err: err}
		}

		conn, err := l.ln.Accept()
		if err == nil {
			return NewConn(conn, l.framer), nil
		}
		if errors.Is(err, os.ErrDeadlineExceeded) {
			continue
		}
		if errors.Is(err, net.ErrClosed) {
			return nil, ErrListenCanceled
		}
		return nil, &ConnectionError{Op: "accept", Err: err}
	}
}

// Close stops listening. A pending Accept returns ErrListenCanceled.
func (l *Listener) Close() error {
	return l.ln.Close()
}

// Listen binds addr and waits for a single engine connection.
func Listen(ctx context.Context, addr string, framer Framer) (*Conn, error) {
	l, err := NewListener(addr, framer)
	if err != nil {
		return nil, err
	}
	return l.Accept(ctx)
}
