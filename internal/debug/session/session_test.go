package session

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/scriptdbg/internal/debug/codec"
	"github.com/dshills/scriptdbg/internal/debug/wire"
)

// connect starts listening and dials in as the engine.
func connect(t *testing.T, s *Session) net.Conn {
	t.Helper()

	done := make(chan error, 1)
	go func() { done <- s.Listen(context.Background()) }()

	var addr net.Addr
	require.Eventually(t, func() bool {
		addr = s.Addr()
		return addr != nil
	}, 2*time.Second, 5*time.Millisecond)

	engine, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	require.NoError(t, <-done)
	t.Cleanup(func() {
		engine.Close()
		s.Clear()
	})
	return engine
}

func newSession(d wire.Dialect) *Session {
	return New(Config{Dialect: d, Addr: "127.0.0.1:0", AcceptPoll: 10 * time.Millisecond})
}

// readRequest reads one NUL terminated DBGp command from the engine side.
func readRequest(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	line, err := r.ReadString(0)
	require.NoError(t, err)
	return line[:len(line)-1]
}

func writeDBGp(t *testing.T, engine net.Conn, payload string) {
	t.Helper()
	_, err := engine.Write(wire.DBGpFramer{}.Encode(wire.Frame{Payload: []byte(payload)}))
	require.NoError(t, err)
}

func writeGRLD(t *testing.T, engine net.Conn, channel, payload string) {
	t.Helper()
	_, err := engine.Write(wire.GRLDFramer{}.Encode(wire.Frame{Channel: channel, Payload: []byte(payload)}))
	require.NoError(t, err)
}

func TestSession_Lifecycle(t *testing.T) {
	s := newSession(wire.DBGp)

	var mu sync.Mutex
	var states []State
	s.SetHandlers(Handlers{OnStateChanged: func(_, st State) {
		mu.Lock()
		states = append(states, st)
		mu.Unlock()
	}})

	assert.Equal(t, StateDisconnected, s.State())
	connect(t, s)
	assert.True(t, s.Connected())

	s.Clear()
	assert.Equal(t, StateDisconnected, s.State())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateListening, StateConnected, StateDisconnected}, states)
}

func TestSession_ListenBusy(t *testing.T) {
	s := newSession(wire.DBGp)
	connect(t, s)
	assert.ErrorIs(t, s.Listen(context.Background()), ErrBusy)
}

func TestSession_StopListening(t *testing.T) {
	s := newSession(wire.DBGp)

	done := make(chan error, 1)
	go func() { done <- s.Listen(context.Background()) }()
	require.Eventually(t, func() bool { return s.State() == StateListening }, 2*time.Second, 5*time.Millisecond)

	s.StopListening()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, wire.ErrListenCanceled)
	case <-time.After(3 * time.Second):
		t.Fatal("Listen did not return")
	}
	assert.Equal(t, StateDisconnected, s.State())
}

func TestSession_ExchangeNotConnected(t *testing.T) {
	s := newSession(wire.DBGp)
	err := s.Exchange(context.Background(), func(*Tx) error { return nil })
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestSession_TransactionIDs(t *testing.T) {
	s := newSession(wire.DBGp)
	engine := connect(t, s)
	r := bufio.NewReader(engine)

	go func() {
		readRequest(t, r)
		writeDBGp(t, engine, `<response command="status" transaction_id="1" status="starting" reason="ok"/>`)
		readRequest(t, r)
		writeDBGp(t, engine, `<response command="eval" transaction_id="2"><property type="int"><![CDATA[2]]></property></response>`)
	}()

	err := s.Exchange(context.Background(), func(tx *Tx) error {
		resp, err := tx.Command("status")
		if err != nil {
			return err
		}
		assert.Equal(t, "starting", resp.AttrOr("status", ""))

		resp, err = tx.Command("eval", Expression("1+1"))
		if err != nil {
			return err
		}
		p, ok := codec.ParseProperties(resp, "1+1").Get("1+1")
		assert.True(t, ok)
		assert.Equal(t, "2", p.Value)
		return nil
	})
	require.NoError(t, err)
}

func TestSession_ClearResetsTransactionID(t *testing.T) {
	s := newSession(wire.DBGp)

	for round := 0; round < 2; round++ {
		engine := connect(t, s)
		r := bufio.NewReader(engine)

		err := s.Exchange(context.Background(), func(tx *Tx) error {
			id, err := tx.Send("run")
			assert.Equal(t, 1, id)
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, "run -i 1", readRequest(t, r))

		s.Clear()
		engine.Close()
	}
}

func TestBuildCommand(t *testing.T) {
	got := BuildCommand("breakpoint_set", 7,
		Flag("t", "line"),
		Expression("$x > 1"),
		Flag("f", "file:///var/www/index.php"),
		Flag("n", "10"),
	)
	want := "breakpoint_set -i 7 -t line -f file:///var/www/index.php -n 10 -- " +
		base64.StdEncoding.EncodeToString([]byte("$x > 1"))
	assert.Equal(t, want, got)

	assert.Equal(t, "property_get -i 2 -n $a", BuildCommand("property_get", 2, Flag("n", "$a")))
	assert.Equal(t, "feature_get -i 3 max_depth", BuildCommand("feature_get", 3, Positional("max_depth")))
}

func TestSession_SendRaw(t *testing.T) {
	s := newSession(wire.DBGp)
	engine := connect(t, s)
	r := bufio.NewReader(engine)

	go func() {
		readRequest(t, r)
		writeDBGp(t, engine, `<response command="stack_depth" depth="3"/>`)
	}()

	var raw string
	err := s.Exchange(context.Background(), func(tx *Tx) error {
		if _, err := tx.SendRaw("stack_depth"); err != nil {
			return err
		}
		var err error
		raw, err = tx.ReadRaw()
		return err
	})
	require.NoError(t, err)
	assert.Contains(t, raw, `depth="3"`)
}

func TestSession_ReadSkipsNotify(t *testing.T) {
	s := newSession(wire.DBGp)
	engine := connect(t, s)
	r := bufio.NewReader(engine)

	go func() {
		readRequest(t, r)
		writeDBGp(t, engine, `<notify name="breakpoint_resolved"/>`)
		writeDBGp(t, engine, `<stream type="stdout">aGk=</stream>`)
		writeDBGp(t, engine, `<response command="run" status="break" reason="ok"/>`)
	}()

	err := s.Exchange(context.Background(), func(tx *Tx) error {
		resp, err := tx.Command("run")
		if err != nil {
			return err
		}
		assert.Equal(t, "response", resp.Name())
		return nil
	})
	require.NoError(t, err)
}

func TestSession_FramingErrorIsFatal(t *testing.T) {
	s := newSession(wire.DBGp)
	engine := connect(t, s)
	r := bufio.NewReader(engine)

	go func() {
		readRequest(t, r)
		engine.Write([]byte("0\x00feature_set -i 1 -n show_hidden -v 1\x00"))
	}()

	err := s.Exchange(context.Background(), func(tx *Tx) error {
		_, err := tx.Command("feature_set", Flag("n", "show_hidden"), Flag("v", "1"))
		return err
	})
	var fe *wire.FramingError
	require.ErrorAs(t, err, &fe)
	assert.True(t, wire.IsFatal(err))
}

func TestSession_GRLDPushedBreak(t *testing.T) {
	s := newSession(wire.GRLD)
	engine := connect(t, s)

	var got []Command
	s.OnCommand(CommandBreak, func(_ *Tx, cmd Command) error {
		got = append(got, cmd)
		return nil
	})

	go func() {
		buf := make([]byte, 256)
		engine.Read(buf)
		writeGRLD(t, engine, "push", `"break"`)
		writeGRLD(t, engine, "push", `"@/srv/game/main.lua"`)
		writeGRLD(t, engine, "push", `12`)
		writeGRLD(t, engine, "default", `{ [1] = { ["source"] = "@/srv/game/main.lua", ["line"] = 12, }, }`)
	}()

	var reply any
	err := s.Exchange(context.Background(), func(tx *Tx) error {
		var err error
		reply, err = tx.Request("callstack")
		return err
	})
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, []any{"@/srv/game/main.lua", 12.0}, got[0].Args)

	tbl, ok := reply.(*codec.Table)
	require.True(t, ok)
	assert.Equal(t, 1, tbl.Len())
}

func TestSession_PollDrainsCommands(t *testing.T) {
	s := newSession(wire.GRLD)
	engine := connect(t, s)

	synced := make(chan struct{}, 1)
	s.OnCommand(CommandSynchronize, func(tx *Tx, _ Command) error {
		synced <- struct{}{}
		return tx.SendValue("setbreakpoint")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pollErr := make(chan error, 1)
	go func() { pollErr <- s.Poll(ctx, 5*time.Millisecond) }()

	writeGRLD(t, engine, "push", `"synchronize"`)

	select {
	case <-synced:
	case <-time.After(2 * time.Second):
		t.Fatal("synchronize handler was not called")
	}

	buf := make([]byte, 64)
	engine.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := engine.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "default\n15\n\"setbreakpoint\"", string(buf[:n]))

	cancel()
	assert.NoError(t, <-pollErr)
}

func TestSession_PollKeepsEarlyReplies(t *testing.T) {
	s := newSession(wire.GRLD)
	engine := connect(t, s)

	writeGRLD(t, engine, "default", `"early"`)

	require.Eventually(t, func() bool {
		var drained bool
		s.Exchange(context.Background(), func(tx *Tx) error {
			if err := tx.Drain(); err != nil {
				return err
			}
			drained = len(s.pending) > 0
			return nil
		})
		return drained
	}, 2*time.Second, 5*time.Millisecond)

	err := s.Exchange(context.Background(), func(tx *Tx) error {
		v, err := tx.ReadValue()
		assert.Equal(t, "early", v)
		return err
	})
	require.NoError(t, err)
}

func TestSession_WrongDialect(t *testing.T) {
	s := newSession(wire.GRLD)
	connect(t, s)

	err := s.Exchange(context.Background(), func(tx *Tx) error {
		_, err := tx.Send("status")
		return err
	})
	assert.True(t, errors.Is(err, ErrWrongDialect))
	assert.ErrorIs(t, newSession(wire.DBGp).Poll(context.Background(), time.Millisecond), ErrWrongDialect)
}

func TestParseStatus(t *testing.T) {
	for _, st := range []Status{StatusStarting, StatusRunning, StatusBreak, StatusStopping, StatusStopped} {
		assert.Equal(t, st, ParseStatus(st.String()))
	}
	assert.Equal(t, StatusUnknown, ParseStatus("bogus"))
}
