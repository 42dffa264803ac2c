package session

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/dshills/scriptdbg/internal/debug/codec"
	"github.com/dshills/scriptdbg/internal/debug/wire"
)

// Arg is one argument of a DBGp command.
type Arg struct {
	flag  string
	value string
	expr  bool
}

// Flag returns a `-name value` argument.
func Flag(name, value string) Arg {
	return Arg{flag: name, value: value}
}

// Positional returns a bare argument.
func Positional(value string) Arg {
	return Arg{value: value}
}

// Expression returns the trailing `-- base64(data)` argument.
func Expression(data string) Arg {
	return Arg{value: data, expr: true}
}

// Tx is a handle on the connection valid only inside Exchange.
type Tx struct {
	s    *Session
	conn *wire.Conn
}

// Dialect returns the connection dialect.
func (tx *Tx) Dialect() wire.Dialect {
	return tx.s.cfg.Dialect
}

// BuildCommand formats a DBGp command line with the given transaction id.
// Flags keep the order given; the expression, if any, is always last.
func BuildCommand(name string, txID int, args ...Arg) string {
	var sb strings.Builder
	sb.WriteString(name)
	sb.WriteString(" -i ")
	sb.WriteString(strconv.Itoa(txID))

	var expr *Arg
	for i := range args {
		a := &args[i]
		switch {
		case a.expr:
			expr = a
		case a.flag != "":
			sb.WriteString(" -")
			sb.WriteString(a.flag)
			sb.WriteByte(' ')
			sb.WriteString(a.value)
		default:
			sb.WriteByte(' ')
			sb.WriteString(a.value)
		}
	}
	if expr != nil {
		sb.WriteString(" -- ")
		sb.WriteString(base64.StdEncoding.EncodeToString([]byte(expr.value)))
	}
	return sb.String()
}

// Send writes a DBGp command with a fresh transaction id and returns the id.
func (tx *Tx) Send(name string, args ...Arg) (int, error) {
	if tx.Dialect() != wire.DBGp {
		return 0, ErrWrongDialect
	}
	tx.s.txID++
	id := tx.s.txID
	if err := tx.write([]byte(BuildCommand(name, id, args...))); err != nil {
		return 0, err
	}
	return id, nil
}

// SendRaw writes a user supplied command line. A transaction id is
// inserted after the command name when the line does not carry one.
func (tx *Tx) SendRaw(line string) (int, error) {
	if tx.Dialect() != wire.DBGp {
		return 0, ErrWrongDialect
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return 0, fmt.Errorf("empty command")
	}
	tx.s.txID++
	id := tx.s.txID
	if !strings.Contains(" "+line+" ", " -i ") {
		name, rest, _ := strings.Cut(line, " ")
		line = strings.TrimSpace(name + " -i " + strconv.Itoa(id) + " " + rest)
	}
	return id, tx.write([]byte(line))
}

// Read reads one DBGp response document. Asynchronous stream and notify
// packets are skipped.
func (tx *Tx) Read() (*codec.Element, error) {
	for {
		f, err := tx.readFrame()
		if err != nil {
			return nil, err
		}
		root, err := codec.ParseXML(f.Payload)
		if err != nil {
			return nil, err
		}
		switch root.Name() {
		case "stream", "notify":
			tx.s.log.Debugf("skipping %s packet", root.Name())
			continue
		}
		return root, nil
	}
}

// ReadRaw reads one frame and returns its payload as text.
func (tx *Tx) ReadRaw() (string, error) {
	if tx.Dialect() == wire.GRLD {
		f, err := tx.nextMessage(true)
		if err != nil {
			return "", err
		}
		return string(f.Payload), nil
	}
	f, err := tx.readFrame()
	if err != nil {
		return "", err
	}
	return string(f.Payload), nil
}

// Command sends a DBGp command and reads its response.
func (tx *Tx) Command(name string, args ...Arg) (*codec.Element, error) {
	if _, err := tx.Send(name, args...); err != nil {
		return nil, err
	}
	return tx.Read()
}

// SendValue drains pending engine commands, then writes v as a Lua literal
// on the default channel.
func (tx *Tx) SendValue(v any) error {
	if tx.Dialect() != wire.GRLD {
		return ErrWrongDialect
	}
	if err := tx.Drain(); err != nil {
		return err
	}
	data, err := codec.EncodeLua(v)
	if err != nil {
		return err
	}
	return tx.write([]byte(data))
}

// ReadValue reads and decodes the next GRLD reply. Commands pushed by the
// engine in the meantime are handled first.
func (tx *Tx) ReadValue() (any, error) {
	if tx.Dialect() != wire.GRLD {
		return nil, ErrWrongDialect
	}
	f, err := tx.nextMessage(true)
	if err != nil {
		return nil, err
	}
	return codec.DecodeLua(f.Payload)
}

// Request sends each value in turn and reads one reply.
func (tx *Tx) Request(values ...any) (any, error) {
	for _, v := range values {
		if err := tx.SendValue(v); err != nil {
			return nil, err
		}
	}
	return tx.ReadValue()
}

// Drain handles any commands the engine pushed without blocking. Replies
// that arrive early are kept for the next ReadValue.
func (tx *Tx) Drain() error {
	if tx.Dialect() != wire.GRLD {
		return nil
	}
	f, err := tx.nextMessage(false)
	if err != nil || f == nil {
		return err
	}
	tx.s.pending = append(tx.s.pending, *f)
	return nil
}

func (tx *Tx) write(payload []byte) error {
	if err := tx.conn.WriteRequest(payload); err != nil {
		return err
	}
	framesWritten.WithLabelValues(tx.Dialect().String()).Inc()
	return nil
}

func (tx *Tx) readFrame() (wire.Frame, error) {
	f, err := tx.conn.ReadFrame()
	if err != nil {
		return wire.Frame{}, err
	}
	framesRead.WithLabelValues(tx.Dialect().String()).Inc()
	return f, nil
}

func (tx *Tx) tryReadFrame() (wire.Frame, bool, error) {
	f, ok, err := tx.conn.TryReadFrame()
	if err != nil || !ok {
		return f, ok, err
	}
	framesRead.WithLabelValues(tx.Dialect().String()).Inc()
	return f, true, nil
}

// nextMessage returns the next GRLD frame that is not a pushed command,
// handling commands as they are found. Without block it returns nil once
// nothing more is available.
func (tx *Tx) nextMessage(block bool) (*wire.Frame, error) {
	if block && len(tx.s.pending) > 0 {
		f := tx.s.pending[0]
		tx.s.pending = tx.s.pending[1:]
		return &f, nil
	}

	for {
		var f wire.Frame
		if block {
			var err error
			if f, err = tx.readFrame(); err != nil {
				return nil, err
			}
		} else {
			var ok bool
			var err error
			if f, ok, err = tx.tryReadFrame(); err != nil || !ok {
				return nil, err
			}
		}

		name, ok := tx.s.pushedCommand(f)
		if !ok {
			return &f, nil
		}
		if err := tx.handleCommand(name); err != nil {
			return nil, err
		}
	}
}
