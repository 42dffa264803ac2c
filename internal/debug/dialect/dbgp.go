package dialect

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/dshills/scriptdbg/internal/debug/breakpoint"
	"github.com/dshills/scriptdbg/internal/debug/codec"
	"github.com/dshills/scriptdbg/internal/debug/inspect"
	"github.com/dshills/scriptdbg/internal/debug/session"
	"github.com/dshills/scriptdbg/internal/debug/wire"
	"github.com/dshills/scriptdbg/internal/logflags"
)

// DBGp drives engines speaking the DBGp XML protocol.
type DBGp struct {
	mapper *breakpoint.PathMapper

	mu   sync.Mutex
	opts Options
}

// NewDBGp creates a DBGp driver.
func NewDBGp(mapper *breakpoint.PathMapper, opts Options) *DBGp {
	if mapper == nil {
		mapper = breakpoint.NewPathMapper(nil)
	}
	return &DBGp{mapper: mapper, opts: opts}
}

// Dialect implements Driver.
func (d *DBGp) Dialect() wire.Dialect {
	return wire.DBGp
}

// SetOptions implements Driver.
func (d *DBGp) SetOptions(opts Options) {
	d.mu.Lock()
	d.opts = opts
	d.mu.Unlock()
}

// Handshake reads the <init> packet and applies the feature limits.
// A feature the engine refuses is logged and skipped.
func (d *DBGp) Handshake(tx *session.Tx) (Init, error) {
	root, err := tx.Read()
	if err != nil {
		return Init{}, err
	}
	if root.Name() != "init" {
		return Init{}, &EngineError{
			Command: "init",
			Message: fmt.Sprintf("expected init packet, got <%s>", root.Name()),
		}
	}

	info := Init{
		FileURI:         root.AttrOr("fileuri", ""),
		IDEKey:          root.AttrOr("idekey", ""),
		Language:        root.AttrOr("language", ""),
		ProtocolVersion: root.AttrOr("protocol_version", ""),
		AppID:           root.AttrOr("appid", ""),
	}
	if info.FileURI != "" {
		info.File = d.localPath(info.FileURI)
	}

	d.mu.Lock()
	opts := d.opts
	d.mu.Unlock()

	features := []struct {
		name  string
		value int
	}{
		{"max_children", opts.MaxChildren},
		{"max_data", opts.MaxData},
		{"max_depth", opts.MaxDepth},
	}
	for _, f := range features {
		if f.value <= 0 {
			continue
		}
		_, err := d.command(tx, "feature_set",
			session.Flag("n", f.name),
			session.Flag("v", strconv.Itoa(f.value)))
		if err != nil {
			var engineErr *EngineError
			if !errors.As(err, &engineErr) {
				return info, err
			}
			logflags.AdapterLogger().Warnf("feature %s: %v", f.name, err)
		}
	}
	return info, nil
}

// SetBreakpoint implements Driver.
func (d *DBGp) SetBreakpoint(tx *session.Tx, path string, line int, expr string, temporary bool) (string, error) {
	args := []session.Arg{
		session.Flag("t", "line"),
		session.Flag("f", FileURI(path)),
		session.Flag("n", strconv.Itoa(line)),
	}
	if temporary {
		args = append(args, session.Flag("r", "1"))
	}
	if expr != "" {
		args = append(args, session.Expression(expr))
	}
	return d.setBreakpoint(tx, args)
}

// SetExceptionBreakpoint implements Driver.
func (d *DBGp) SetExceptionBreakpoint(tx *session.Tx, name string) (string, error) {
	return d.setBreakpoint(tx, []session.Arg{
		session.Flag("t", "exception"),
		session.Flag("x", name),
	})
}

func (d *DBGp) setBreakpoint(tx *session.Tx, args []session.Arg) (string, error) {
	resp, err := d.command(tx, "breakpoint_set", args...)
	if err != nil {
		return "", err
	}
	id := resp.AttrOr("id", "")
	if id == "" {
		return "", &EngineError{Command: "breakpoint_set", Message: "response carries no breakpoint id"}
	}
	return id, nil
}

// UpdateBreakpoint implements Driver.
func (d *DBGp) UpdateBreakpoint(tx *session.Tx, id string, enabled bool) error {
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	_, err := d.command(tx, "breakpoint_update", session.Flag("d", id), session.Flag("s", state))
	return err
}

// RemoveBreakpoint implements Driver.
func (d *DBGp) RemoveBreakpoint(tx *session.Tx, id string) error {
	_, err := d.command(tx, "breakpoint_remove", session.Flag("d", id))
	return err
}

// Execute implements Driver.
func (d *DBGp) Execute(tx *session.Tx, cmd Continuation) (StopInfo, error) {
	resp, err := d.command(tx, string(cmd))
	if err != nil {
		return StopInfo{}, err
	}
	return d.stopInfo(resp), nil
}

// Status implements Driver.
func (d *DBGp) Status(tx *session.Tx) (StopInfo, error) {
	resp, err := d.command(tx, "status")
	if err != nil {
		return StopInfo{}, err
	}
	return d.stopInfo(resp), nil
}

// Raw implements Driver.
func (d *DBGp) Raw(tx *session.Tx, line string) (string, error) {
	if _, err := tx.SendRaw(line); err != nil {
		return "", err
	}
	return tx.ReadRaw()
}

// Context implements inspect.Backend. Superglobals come from context 1
// and are overridden by locals of the same name.
func (d *DBGp) Context(tx *session.Tx, superGlobals bool) (*codec.Properties, error) {
	props := codec.NewProperties()
	if superGlobals {
		resp, err := tx.Command("context_get", session.Flag("c", "1"))
		if err != nil {
			return nil, err
		}
		props.Merge(codec.ParseProperties(resp, ""))
	}
	resp, err := tx.Command("context_get")
	if err != nil {
		return nil, err
	}
	props.Merge(codec.ParseProperties(resp, ""))
	return props, nil
}

// Stack implements inspect.Backend.
func (d *DBGp) Stack(tx *session.Tx) ([]inspect.Frame, error) {
	resp, err := d.command(tx, "stack_get")
	if err != nil {
		return nil, err
	}
	var frames []inspect.Frame
	for _, c := range resp.Children {
		if c.Name() != "stack" {
			continue
		}
		level, _ := strconv.Atoi(c.AttrOr("level", "0"))
		line, _ := strconv.Atoi(c.AttrOr("lineno", "0"))
		frames = append(frames, inspect.Frame{
			Level: level,
			File:  d.localPath(c.AttrOr("filename", "")),
			Line:  line,
			Where: c.AttrOr("where", ""),
			Type:  c.AttrOr("type", ""),
		})
	}
	return frames, nil
}

// Evaluate implements inspect.Backend.
func (d *DBGp) Evaluate(tx *session.Tx, expr string) (*codec.Properties, error) {
	resp, err := tx.Command("eval", session.Expression(expr))
	if err != nil {
		return nil, err
	}
	return codec.ParseProperties(resp, expr), nil
}

// command sends a command and converts an <error> response into an
// EngineError.
func (d *DBGp) command(tx *session.Tx, name string, args ...session.Arg) (*codec.Element, error) {
	resp, err := tx.Command(name, args...)
	if err != nil {
		return nil, err
	}
	if msg, ok := codec.ResponseError(resp); ok {
		return resp, &EngineError{
			Command: name,
			Code:    resp.Child("error").AttrOr("code", ""),
			Message: msg,
		}
	}
	return resp, nil
}

func (d *DBGp) stopInfo(resp *codec.Element) StopInfo {
	info := StopInfo{
		Status: session.ParseStatus(resp.AttrOr("status", "")),
		Reason: resp.AttrOr("reason", ""),
	}
	if msg := resp.Child("message"); msg != nil {
		info.Message = strings.TrimSpace(msg.Text)
		if f := msg.AttrOr("filename", ""); f != "" {
			info.File = d.localPath(f)
		}
		info.Line, _ = strconv.Atoi(msg.AttrOr("lineno", ""))
	}
	return info
}

func (d *DBGp) localPath(uri string) string {
	if uri == "" {
		return ""
	}
	local, _ := d.mapper.ToLocal(PathFromURI(uri))
	return local
}

// FileURI converts an engine file path to a file:// URI.
func FileURI(p string) string {
	if strings.HasPrefix(p, "file://") {
		return p
	}
	p = strings.ReplaceAll(p, "\\", "/")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return (&url.URL{Scheme: "file", Path: p}).String()
}

// PathFromURI converts a file:// URI back to a path. Other strings are
// returned unchanged.
func PathFromURI(uri string) string {
	if !strings.HasPrefix(uri, "file://") {
		return uri
	}
	u, err := url.Parse(uri)
	if err != nil {
		return strings.TrimPrefix(uri, "file://")
	}
	p := u.Path
	if u.Host != "" {
		p = "//" + u.Host + p
	}
	// file:///C:/dir keeps only the drive path.
	if len(p) >= 3 && p[0] == '/' && p[2] == ':' {
		p = p[1:]
	}
	return p
}
