package inspect

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/scriptdbg/internal/debug/codec"
	"github.com/dshills/scriptdbg/internal/debug/session"
	"github.com/dshills/scriptdbg/internal/debug/wire"
)

// fakeBackend serves canned results without touching a connection.
type fakeBackend struct {
	context      *codec.Properties
	stack        []Frame
	results      map[string]*codec.Properties
	failures     map[string]error
	superGlobals bool
	evaluated    []string
}

func (f *fakeBackend) Context(_ *session.Tx, superGlobals bool) (*codec.Properties, error) {
	f.superGlobals = superGlobals
	return f.context.Clone(), nil
}

func (f *fakeBackend) Stack(*session.Tx) ([]Frame, error) {
	return f.stack, nil
}

func (f *fakeBackend) Evaluate(_ *session.Tx, expr string) (*codec.Properties, error) {
	f.evaluated = append(f.evaluated, expr)
	if err, ok := f.failures[expr]; ok {
		return nil, err
	}
	return f.results[expr].Clone(), nil
}

func scalar(name, typ, value string) *codec.Property {
	return &codec.Property{Name: name, Type: typ, Value: value}
}

func TestEngine_WatchFailureDegradesToNil(t *testing.T) {
	b := &fakeBackend{
		failures: map[string]error{"$a+1": &codec.DecodeError{Format: "xml", Reason: "malformed document"}},
	}
	e := NewEngine(b, Options{})
	e.Watches().Add("$a+1")

	require.NoError(t, e.RefreshWatches(nil))

	entries := e.Watches().Entries()
	require.Len(t, entries, 1)
	assert.Nil(t, entries[0].Value)
	assert.True(t, entries[0].Enabled)
}

func TestEngine_WatchRefresh(t *testing.T) {
	ok := codec.NewProperties()
	ok.Set("$b", scalar("$b", "int", "5"))
	b := &fakeBackend{
		results: map[string]*codec.Properties{"$b": ok},
		failures: map[string]error{
			"$broken": errors.New("remote said no"),
		},
	}

	e := NewEngine(b, Options{})
	e.Watches().Add("$broken")
	e.Watches().Add("$b")
	e.Watches().Add("$off")
	require.NoError(t, e.Watches().SetEnabled(2, false))

	require.NoError(t, e.RefreshWatches(nil))
	assert.Equal(t, []string{"$broken", "$b"}, b.evaluated)

	entries := e.Watches().Entries()
	assert.Nil(t, entries[0].Value)
	require.NotNil(t, entries[1].Value)
	assert.Equal(t, "int", entries[1].Type)
	assert.Nil(t, entries[2].Value)
}

func TestEngine_WatchConnectionFailureAborts(t *testing.T) {
	lost := &wire.ConnectionError{Op: "read", Err: errors.New("reset")}
	b := &fakeBackend{failures: map[string]error{"$x": lost}}

	e := NewEngine(b, Options{})
	e.Watches().Add("$x")
	e.Watches().Add("$y")

	err := e.RefreshWatches(nil)
	assert.ErrorIs(t, err, lost)
	assert.Equal(t, []string{"$x"}, b.evaluated)
}

func TestEngine_RedactsPasswords(t *testing.T) {
	inner := codec.NewProperties()
	inner.Set("$cfg['db_password']", scalar("$cfg['db_password']", "string", "hunter2"))
	inner.Set("$cfg['user']", scalar("$cfg['user']", "string", "root"))
	deeper := codec.NewProperties()
	deeper.Set("PassWord", scalar("PassWord", "string", "x"))
	inner.Set("$cfg['nested']", &codec.Property{Name: "$cfg['nested']", Type: "array", NumChildren: codec.IntPtr(1), Children: deeper})

	ctx := codec.NewProperties()
	ctx.Set("$cfg", &codec.Property{Name: "$cfg", Type: "array", NumChildren: codec.IntPtr(3), Children: inner})
	ctx.Set("$password", &codec.Property{Name: "$password", Type: "string", Value: "secret"})

	e := NewEngine(&fakeBackend{context: ctx}, Options{HidePassword: true, SuperGlobals: true})
	props, err := e.FetchContext(nil)
	require.NoError(t, err)

	pw, _ := Find(props, "$password")
	assert.Equal(t, PasswordMask, pw.Value)
	db, _ := Find(props, "$cfg['db_password']")
	assert.Equal(t, PasswordMask, db.Value)
	user, _ := Find(props, "$cfg['user']")
	assert.Equal(t, "root", user.Value)
	deep, _ := Find(props, "PassWord")
	assert.Equal(t, PasswordMask, deep.Value)

	assert.Same(t, props, e.Context())
}

func TestEngine_NoRedactionWhenDisabled(t *testing.T) {
	ctx := codec.NewProperties()
	ctx.Set("$password", scalar("$password", "string", "secret"))

	b := &fakeBackend{context: ctx}
	e := NewEngine(b, Options{})
	props, err := e.FetchContext(nil)
	require.NoError(t, err)

	pw, _ := props.Get("$password")
	assert.Equal(t, "secret", pw.Value)
	assert.False(t, b.superGlobals)
}

func TestEngine_OnBreak(t *testing.T) {
	ctx := codec.NewProperties()
	ctx.Set("$i", scalar("$i", "int", "1"))
	res := codec.NewProperties()
	res.Set("$i * 2", scalar("", "int", "2"))

	b := &fakeBackend{
		context: ctx,
		stack:   []Frame{{Level: 0, File: "/a.php", Line: 3, Where: "{main}"}},
		results: map[string]*codec.Properties{"$i * 2": res},
	}
	e := NewEngine(b, Options{})
	e.Watches().Add("$i * 2")

	snap, err := e.OnBreak(nil)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Context.Len())
	assert.Len(t, snap.Stack, 1)
	require.Len(t, snap.Watches, 1)
	assert.NotNil(t, snap.Watches[0].Value)

	e.Reset()
	assert.Nil(t, e.Context())
	assert.Empty(t, e.Stack())
	assert.Nil(t, e.Watches().Entries()[0].Value)
}

func TestWatchList(t *testing.T) {
	w := NewWatchList()

	i, added := w.Add("$a")
	assert.True(t, added)
	assert.Equal(t, 0, i)
	_, added = w.Add(" $a ")
	assert.False(t, added)
	_, added = w.Add("")
	assert.False(t, added)
	w.Add("$b")

	assert.Error(t, w.Remove(5))
	require.NoError(t, w.Remove(0))
	assert.Equal(t, "$b", w.Entries()[0].Expression)

	w.Import([]Watch{{Expression: "$x", Enabled: true}, {Expression: "$x"}, {Expression: "$y"}})
	entries := w.Export()
	require.Len(t, entries, 2)
	assert.True(t, entries[0].Enabled)
	assert.False(t, entries[1].Enabled)
}
