// Package wire implements the frame layer shared by the DBGp and GRLD
// dialects: a buffered socket that turns the byte stream into frames.
package wire

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// MaxFrameSize is the largest payload accepted from the engine.
const MaxFrameSize = 10 * 1024 * 1024

// maxHeaderLen bounds the length header and channel name lines.
const maxHeaderLen = 256

// DefaultChannel is the GRLD channel used for requests and replies.
const DefaultChannel = "default"

// Dialect identifies a wire protocol variant.
type Dialect int

const (
	// DBGp is the XML over socket dialect.
	DBGp Dialect = iota
	// GRLD is the newline framed Lua literal dialect.
	GRLD
)

// String returns a string representation of the dialect.
func (d Dialect) String() string {
	switch d {
	case DBGp:
		return "dbgp"
	case GRLD:
		return "grld"
	default:
		return "unknown"
	}
}

// ParseDialect converts a dialect name into a Dialect.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dbgp", "xdebug":
		return DBGp, nil
	case "grld", "lua":
		return GRLD, nil
	default:
		return 0, fmt.Errorf("unknown dialect %q", s)
	}
}

// Frame is one self-delimited unit of wire data.
type Frame struct {
	// Dialect is the dialect the frame was read with.
	Dialect Dialect

	// Channel is the GRLD channel name. Empty for DBGp.
	Channel string

	// Payload is the frame body.
	Payload []byte
}

// Framer splits a byte stream into frames and encodes frames for writing.
type Framer interface {
	// Dialect returns the dialect implemented by the framer.
	Dialect() Dialect

	// Split extracts the first complete frame from buf. It returns the
	// number of bytes consumed, which is zero when more data is needed.
	Split(buf []byte) (Frame, int, error)

	// Encode returns the wire form of a frame.
	Encode(f Frame) []byte

	// EncodeRequest returns the wire form of an outbound request.
	EncodeRequest(payload []byte) []byte
}

// NewFramer returns the framer for a dialect.
func NewFramer(d Dialect) Framer {
	if d == GRLD {
		return GRLDFramer{}
	}
	return DBGpFramer{}
}

// DBGpFramer implements the `length\0payload\0` framing used by engines.
// Requests travel the other way as a bare `command\0`.
type DBGpFramer struct{}

// Dialect returns DBGp.
func (DBGpFramer) Dialect() Dialect { return DBGp }

// Split extracts one `length\0payload\0` frame.
func (DBGpFramer) Split(buf []byte) (Frame, int, error) {
	i := bytes.IndexByte(buf, 0)
	if i < 0 {
		if len(buf) > maxHeaderLen {
			return Frame{}, 0, framingErr(DBGp, "length header exceeds %d bytes", maxHeaderLen)
		}
		return Frame{}, 0, nil
	}

	n, err := parseSize(buf[:i])
	if err != nil {
		return Frame{}, 0, &FramingError{Dialect: DBGp, Reason: "bad length header", Err: err}
	}

	rest := buf[i+1:]
	if j := bytes.IndexByte(rest[:min(len(rest), n)], 0); j >= 0 {
		return Frame{}, 0, framingErr(DBGp, "declared length %d, payload terminated after %d bytes", n, j)
	}
	if len(rest) < n+1 {
		return Frame{}, 0, nil
	}
	if rest[n] != 0 {
		return Frame{}, 0, framingErr(DBGp, "declared length %d does not match payload", n)
	}

	payload := make([]byte, n)
	copy(payload, rest[:n])
	return Frame{Dialect: DBGp, Payload: payload}, i + 1 + n + 1, nil
}

// Encode returns `length\0payload\0`.
func (DBGpFramer) Encode(f Frame) []byte {
	out := make([]byte, 0, len(f.Payload)+12)
	out = strconv.AppendInt(out, int64(len(f.Payload)), 10)
	out = append(out, 0)
	out = append(out, f.Payload...)
	return append(out, 0)
}

// EncodeRequest returns `payload\0`.
func (DBGpFramer) EncodeRequest(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+1)
	out = append(out, payload...)
	return append(out, 0)
}

// GRLDFramer implements the `channel\nsize\npayload` framing.
type GRLDFramer struct{}

// Dialect returns GRLD.
func (GRLDFramer) Dialect() Dialect { return GRLD }

// Split extracts one `channel\nsize\npayload` frame.
func (GRLDFramer) Split(buf []byte) (Frame, int, error) {
	i := bytes.IndexByte(buf, '\n')
	if i < 0 {
		if len(buf) > maxHeaderLen {
			return Frame{}, 0, framingErr(GRLD, "channel line exceeds %d bytes", maxHeaderLen)
		}
		return Frame{}, 0, nil
	}
	channel := strings.TrimSuffix(string(buf[:i]), "\r")

	rest := buf[i+1:]
	j := bytes.IndexByte(rest, '\n')
	if j < 0 {
		if len(rest) > maxHeaderLen {
			return Frame{}, 0, framingErr(GRLD, "size line exceeds %d bytes", maxHeaderLen)
		}
		return Frame{}, 0, nil
	}

	n, err := parseSize(bytes.TrimSuffix(rest[:j], []byte("\r")))
	if err != nil {
		return Frame{}, 0, &FramingError{Dialect: GRLD, Reason: "bad size line", Err: err}
	}

	body := rest[j+1:]
	if len(body) < n {
		return Frame{}, 0, nil
	}

	payload := make([]byte, n)
	copy(payload, body[:n])
	return Frame{Dialect: GRLD, Channel: channel, Payload: payload}, i + 1 + j + 1 + n, nil
}

// Encode returns `channel\nsize\npayload`.
func (GRLDFramer) Encode(f Frame) []byte {
	channel := f.Channel
	if channel == "" {
		channel = DefaultChannel
	}
	out := make([]byte, 0, len(channel)+len(f.Payload)+14)
	out = append(out, channel...)
	out = append(out, '\n')
	out = strconv.AppendInt(out, int64(len(f.Payload)), 10)
	out = append(out, '\n')
	return append(out, f.Payload...)
}

// EncodeRequest encodes payload on the default channel.
func (g GRLDFramer) EncodeRequest(payload []byte) []byte {
	return g.Encode(Frame{Channel: DefaultChannel, Payload: payload})
}

func parseSize(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, fmt.Errorf("empty")
	}
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("non-numeric %q", b)
		}
	}
	n, err := strconv.Atoi(string(b))
	if err != nil {
		return 0, err
	}
	if n > MaxFrameSize {
		return 0, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	return n, nil
}
