package wire

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

// pipe returns a framed server side connection and the raw engine side.
func pipe(t *testing.T, framer Framer) (*Conn, net.Conn) {
	t.Helper()

	l, err := NewListener("127.0.0.1:0", framer)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	type result struct {
		conn *Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		c, err := l.Accept(context.Background())
		done <- result{c, err}
	}()

	engine, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	r := <-done
	if r.err != nil {
		t.Fatalf("accept: %v", r.err)
	}
	t.Cleanup(func() {
		r.conn.Close()
		engine.Close()
	})
	return r.conn, engine
}

func TestConn_ReadFramePartialWrites(t *testing.T) {
	conn, engine := pipe(t, DBGpFramer{})

	data := DBGpFramer{}.Encode(Frame{Payload: []byte(`<response command="status" status="break"/>`)})
	go func() {
		for _, b := range data {
			engine.Write([]byte{b})
			time.Sleep(time.Millisecond)
		}
	}()

	f, err := conn.ReadFrame()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if string(f.Payload) != `<response command="status" status="break"/>` {
		t.Errorf("unexpected payload %q", f.Payload)
	}
}

func TestConn_ReadFrameFraming(t *testing.T) {
	conn, engine := pipe(t, DBGpFramer{})

	engine.Write([]byte("0\x00feature_set -i 1 -n show_hidden -v 1\x00"))

	_, err := conn.ReadFrame()
	var fe *FramingError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FramingError, got %v", err)
	}

	// The stream is not reused after a framing error.
	engine.Write(DBGpFramer{}.Encode(Frame{Payload: []byte("<ok/>")}))
	if _, err := conn.ReadFrame(); !errors.As(err, &fe) {
		t.Errorf("expected the connection to stay failed, got %v", err)
	}
}

func TestConn_TryReadFrame(t *testing.T) {
	conn, engine := pipe(t, GRLDFramer{})

	_, ok, err := conn.TryReadFrame()
	if err != nil || ok {
		t.Fatalf("expected nothing available, got ok=%v err=%v", ok, err)
	}

	engine.Write(GRLDFramer{}.Encode(Frame{Channel: "push", Payload: []byte(`"break"`)}))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f, ok, err := conn.TryReadFrame()
		if err != nil {
			t.Fatalf("poll: %v", err)
		}
		if ok {
			if f.Channel != "push" || string(f.Payload) != `"break"` {
				t.Errorf("unexpected frame %+v", f)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("pushed frame never arrived")
}

func TestConn_WriteRequest(t *testing.T) {
	conn, engine := pipe(t, DBGpFramer{})

	if err := conn.WriteRequest([]byte("run -i 3")); err != nil {
		t.Fatalf("write: %v", err)
	}

	buf := make([]byte, 64)
	engine.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := engine.Read(buf)
	if err != nil {
		t.Fatalf("engine read: %v", err)
	}
	if string(buf[:n]) != "run -i 3\x00" {
		t.Errorf("unexpected bytes %q", buf[:n])
	}
}

func TestConn_CloseUnblocksRead(t *testing.T) {
	conn, _ := pipe(t, DBGpFramer{})

	done := make(chan error, 1)
	go func() {
		_, err := conn.ReadFrame()
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	conn.Close()

	select {
	case err := <-done:
		var ce *ConnectionError
		if !errors.As(err, &ce) {
			t.Errorf("expected ConnectionError, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("read did not unblock")
	}
}

func TestConn_PeerClosed(t *testing.T) {
	conn, engine := pipe(t, GRLDFramer{})

	engine.Write([]byte("default\n10\nabc"))
	engine.Close()

	_, err := conn.ReadFrame()
	var fe *FramingError
	if !errors.As(err, &fe) {
		t.Errorf("expected FramingError for truncated frame, got %v", err)
	}
}

func TestListener_Cancel(t *testing.T) {
	l, err := NewListener("127.0.0.1:0", DBGpFramer{})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	l.PollInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := l.Accept(ctx)
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, ErrListenCanceled) {
			t.Errorf("expected ErrListenCanceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("accept did not observe cancellation")
	}
}
