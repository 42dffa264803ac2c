// Package enginetest provides scripted debug engines for tests. An Engine
// dials the adapter like a real interpreter would and lets the test read
// the commands it receives and write the replies.
package enginetest

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dshills/scriptdbg/internal/debug/codec"
	"github.com/dshills/scriptdbg/internal/debug/wire"
)

// Timeout bounds every read the engine performs.
const Timeout = 5 * time.Second

// Engine is the engine side of a debug connection.
type Engine struct {
	t       testing.TB
	dialect wire.Dialect
	conn    net.Conn
	r       *bufio.Reader
	grld    *wire.Conn
}

// Dial connects to addr as an engine of dialect d. The connection is
// closed when the test ends.
func Dial(t testing.TB, d wire.Dialect, addr string) *Engine {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, Timeout)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	e := &Engine{t: t, dialect: d, conn: conn}
	if d == wire.GRLD {
		e.grld = wire.NewConn(conn, wire.GRLDFramer{})
	} else {
		e.r = bufio.NewReader(conn)
	}
	return e
}

// Close drops the connection.
func (e *Engine) Close() {
	e.conn.Close()
}

// Command is a parsed DBGp command line.
type Command struct {
	Name  string
	TxID  string
	Flags map[string]string

	// Data is the decoded expression after --.
	Data string
	Line string
}

// ReadCommand reads the next DBGp command.
func (e *Engine) ReadCommand() Command {
	e.t.Helper()
	require.NoError(e.t, e.conn.SetReadDeadline(time.Now().Add(Timeout)))
	line, err := e.r.ReadString(0)
	require.NoError(e.t, err)
	line = strings.TrimSuffix(line, "\x00")
	return ParseCommand(e.t, line)
}

// ParseCommand splits a DBGp command line.
func ParseCommand(t testing.TB, line string) Command {
	t.Helper()
	cmd := Command{Line: line, Flags: make(map[string]string)}
	head, data, hasData := strings.Cut(line, " -- ")
	if hasData {
		decoded, err := base64.StdEncoding.DecodeString(data)
		require.NoError(t, err)
		cmd.Data = string(decoded)
	}
	fields := strings.Fields(head)
	require.NotEmpty(t, fields)
	cmd.Name = fields[0]
	for i := 1; i+1 < len(fields); i += 2 {
		cmd.Flags[strings.TrimPrefix(fields[i], "-")] = fields[i+1]
	}
	cmd.TxID = cmd.Flags["i"]
	return cmd
}

// Expect reads the next command and requires its name.
func (e *Engine) Expect(name string) Command {
	e.t.Helper()
	cmd := e.ReadCommand()
	require.Equal(e.t, name, cmd.Name, "command line %q", cmd.Line)
	return cmd
}

// Send writes a raw DBGp packet.
func (e *Engine) Send(payload string) {
	e.t.Helper()
	_, err := e.conn.Write(wire.DBGpFramer{}.Encode(wire.Frame{Payload: []byte(payload)}))
	require.NoError(e.t, err)
}

// Init sends the DBGp greeting.
func (e *Engine) Init(fileURI string) {
	e.t.Helper()
	e.Send(fmt.Sprintf(`<?xml version="1.0" encoding="iso-8859-1"?>`+
		`<init xmlns="urn:debugger_protocol_v1" fileuri="%s" language="PHP" protocol_version="1.0" appid="42" idekey="scriptdbg"/>`, fileURI))
}

// Reply answers cmd with a response carrying the extra attributes and body.
func (e *Engine) Reply(cmd Command, attrs, body string) {
	e.t.Helper()
	e.Send(fmt.Sprintf(`<?xml version="1.0" encoding="iso-8859-1"?>`+
		`<response xmlns="urn:debugger_protocol_v1" xmlns:xdebug="https://xdebug.org/dbgp/xdebug" command="%s" transaction_id="%s" %s>%s</response>`,
		cmd.Name, cmd.TxID, attrs, body))
}

// Respond reads the next command, requires its name and replies.
func (e *Engine) Respond(name, attrs, body string) Command {
	e.t.Helper()
	cmd := e.Expect(name)
	e.Reply(cmd, attrs, body)
	return cmd
}

// ReadValue reads the next GRLD value.
func (e *Engine) ReadValue() any {
	e.t.Helper()
	f, err := e.grld.ReadFrame()
	require.NoError(e.t, err)
	v, err := codec.DecodeLua(f.Payload)
	require.NoError(e.t, err, "payload %q", f.Payload)
	return v
}

// ExpectValues reads len(want) values and requires them to be the listed
// scalars. A nil want entry matches anything.
func (e *Engine) ExpectValues(want ...any) []any {
	e.t.Helper()
	got := make([]any, len(want))
	for i, w := range want {
		got[i] = e.ReadValue()
		if w != nil {
			require.Equal(e.t, w, got[i], "value %d", i)
		}
	}
	return got
}

// SendValue writes v as a Lua literal on the default channel.
func (e *Engine) SendValue(v any) {
	e.t.Helper()
	data, err := codec.EncodeLua(v)
	require.NoError(e.t, err)
	require.NoError(e.t, e.grld.WriteFrame(wire.Frame{Payload: []byte(data)}))
}

// SendRaw writes a raw GRLD payload on the default channel.
func (e *Engine) SendRaw(payload string) {
	e.t.Helper()
	require.NoError(e.t, e.grld.WriteFrame(wire.Frame{Payload: []byte(payload)}))
}

// Break pushes a break command for file:line.
func (e *Engine) Break(file string, line int) {
	e.t.Helper()
	e.SendValue("break")
	e.SendValue(file)
	e.SendValue(line)
}
