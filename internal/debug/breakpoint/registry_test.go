package breakpoint

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/dshills/scriptdbg/internal/debug/wire"
)

// mockRemote records calls and hands out sequential ids.
type mockRemote struct {
	nextID     int
	calls      []string
	failSet    bool
	failLines  map[int]error
	failRemove bool
}

func (m *mockRemote) SetBreakpoint(path string, line int, expr string, temporary bool) (string, error) {
	m.calls = append(m.calls, fmt.Sprintf("set %s:%d %q temp=%v", path, line, expr, temporary))
	if m.failSet {
		return "", errors.New("engine refused")
	}
	if err := m.failLines[line]; err != nil {
		return "", err
	}
	m.nextID++
	return fmt.Sprintf("%d", m.nextID), nil
}

func (m *mockRemote) UpdateBreakpoint(id string, enabled bool) error {
	m.calls = append(m.calls, fmt.Sprintf("update %s %v", id, enabled))
	return nil
}

func (m *mockRemote) RemoveBreakpoint(id string) error {
	m.calls = append(m.calls, "remove "+id)
	if m.failRemove {
		return errors.New("engine refused")
	}
	return nil
}

func TestRegistry_SetDisconnected(t *testing.T) {
	reg := NewRegistry(nil)

	bp, err := reg.Set(nil, "/var/www/foo.php", 10, "")
	if err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if bp.ID != "" {
		t.Errorf("expected empty id while disconnected, got %q", bp.ID)
	}
	if !bp.Enabled {
		t.Error("expected breakpoint to be enabled")
	}
}

func TestRegistry_ReplayPopulatesIDs(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Set(nil, "/var/www/foo.php", 10, "")
	reg.Set(nil, "/var/www/foo.php", 2, "$a == 1")
	reg.Set(nil, "/var/www/bar.php", 5, "")
	reg.Toggle(nil, "/var/www/bar.php", 5, false)

	remote := &mockRemote{}
	n, err := reg.Replay(remote)
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 breakpoints replayed, got %d", n)
	}

	want := []string{
		`set /var/www/foo.php:2 "$a == 1" temp=false`,
		`set /var/www/foo.php:10 "" temp=false`,
	}
	if !reflect.DeepEqual(remote.calls, want) {
		t.Errorf("unexpected calls:\n got %q\nwant %q", remote.calls, want)
	}

	bp, _ := reg.Get("/var/www/foo.php", 10)
	if bp.ID != "2" {
		t.Errorf("expected id 2, got %q", bp.ID)
	}
	bp, _ = reg.Get("/var/www/bar.php", 5)
	if bp.ID != "" {
		t.Errorf("disabled breakpoint should have no id, got %q", bp.ID)
	}
}

func TestRegistry_SetThenRemoveRestoresState(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Set(nil, "/a.php", 1, "")
	before := reg.Export()

	remote := &mockRemote{}
	if _, err := reg.Set(remote, "/b.php", 7, "$x"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := reg.Remove(remote, "/b.php", 7); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	if !reflect.DeepEqual(before, reg.Export()) {
		t.Errorf("registry changed: before %v after %v", before, reg.Export())
	}
	if remote.calls[len(remote.calls)-1] != "remove 1" {
		t.Errorf("expected remote removal, got %v", remote.calls)
	}
}

func TestRegistry_ToggleKeepsIDAndExpression(t *testing.T) {
	reg := NewRegistry(nil)
	remote := &mockRemote{}
	reg.Set(remote, "/a.php", 3, "$i > 10")

	for _, enabled := range []bool{false, true, false} {
		if err := reg.Toggle(remote, "/a.php", 3, enabled); err != nil {
			t.Fatalf("Toggle failed: %v", err)
		}
		bp, _ := reg.Get("/a.php", 3)
		if bp.ID != "1" || bp.Expression != "$i > 10" {
			t.Errorf("toggle mutated record: %+v", bp)
		}
		if bp.Enabled != enabled {
			t.Errorf("expected enabled=%v", enabled)
		}
	}

	if remote.calls[1] != "update 1 false" {
		t.Errorf("expected in-place update, got %v", remote.calls)
	}
	if err := reg.Toggle(remote, "/a.php", 99, true); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRegistry_SetReplacesRemote(t *testing.T) {
	reg := NewRegistry(nil)
	remote := &mockRemote{}
	reg.Set(remote, "/a.php", 3, "")
	bp, err := reg.Set(remote, "/a.php", 3, "$y")
	if err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if bp.ID != "2" || bp.Expression != "$y" {
		t.Errorf("unexpected record %+v", bp)
	}
	if remote.calls[1] != "remove 1" {
		t.Errorf("expected old breakpoint removal, got %v", remote.calls)
	}
}

func TestRegistry_SetRemoteFailureKeepsLocal(t *testing.T) {
	reg := NewRegistry(nil)
	bp, err := reg.Set(&mockRemote{failSet: true}, "/a.php", 3, "")
	if err == nil {
		t.Fatal("expected error")
	}
	if bp.ID != "" || reg.Len() != 1 {
		t.Errorf("expected local-only record, got %+v len=%d", bp, reg.Len())
	}
}

func TestRegistry_RunBreakpoint(t *testing.T) {
	reg := NewRegistry(nil)
	remote := &mockRemote{}
	reg.Set(nil, "/a.php", 1, "")

	run, err := reg.SetRun(remote, "/a.php", 20)
	if err != nil {
		t.Fatalf("SetRun failed: %v", err)
	}
	if run.ID != "1" {
		t.Errorf("expected id 1, got %q", run.ID)
	}
	if strings.Contains(reg.Render(), "20") {
		t.Error("run breakpoint should not be rendered")
	}

	if err := reg.ClearRun(remote); err != nil {
		t.Fatalf("ClearRun failed: %v", err)
	}
	if _, ok := reg.Run(); ok {
		t.Error("expected run breakpoint to be cleared")
	}
	if remote.calls[len(remote.calls)-1] != "remove 1" {
		t.Errorf("expected removal, got %v", remote.calls)
	}

	if _, err := reg.SetRun(remote, "/a.php", 1); err != nil {
		t.Fatalf("SetRun failed: %v", err)
	}
	if run, _ := reg.Run(); run.ID != "" {
		t.Errorf("existing breakpoint should be reused, got id %q", run.ID)
	}
	if _, err := reg.SetRun(nil, "/a.php", 1); err == nil {
		t.Error("expected error when disconnected")
	}
}

func TestRegistry_Render(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Set(nil, "/b.php", 10, "")
	reg.Set(nil, "/b.php", 9, "$x > 1")
	reg.Set(nil, "/a.php", 100, "")
	reg.Toggle(nil, "/a.php", 100, false)

	want := "=> /a.php\n\t|-| 100\n=> /b.php\n\t|+| 9 -- \"$x > 1\"\n\t|+| 10\n"
	if got := reg.Render(); got != want {
		t.Errorf("unexpected render:\n%s\nwant:\n%s", got, want)
	}
}

func TestSortedLines(t *testing.T) {
	lines := map[string]int{"10": 0, "9": 0, "abc": 0, "100": 0, "2": 0, "Z": 0}
	got := SortedLines(lines)
	want := []string{"2", "9", "10", "100", "Z", "abc"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestRegistry_ExportImport(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Set(&mockRemote{}, "/a.php", 4, "$z")

	data := reg.Export()
	if data["/a.php"]["4"].ID != "1" {
		t.Fatalf("expected exported id, got %+v", data)
	}

	other := NewRegistry(nil)
	other.Import(data)
	bp, ok := other.Get("/a.php", 4)
	if !ok || bp.ID != "" || bp.Expression != "$z" || !bp.Enabled {
		t.Errorf("unexpected imported record %+v", bp)
	}
}

func TestRegistry_ResetRemoteIDs(t *testing.T) {
	reg := NewRegistry(nil)
	remote := &mockRemote{}
	reg.Set(remote, "/a.php", 4, "")
	reg.SetRun(remote, "/a.php", 8)

	reg.ResetRemoteIDs()
	bp, _ := reg.Get("/a.php", 4)
	if bp.ID != "" {
		t.Errorf("expected id reset, got %q", bp.ID)
	}
	if _, ok := reg.Run(); ok {
		t.Error("expected run breakpoint dropped")
	}
}

func TestRegistry_RemotePathMapping(t *testing.T) {
	reg := NewRegistry(NewPathMapper([]Mapping{{Remote: "/var/www", Local: "/home/dev/site"}}))
	remote := &mockRemote{}
	reg.Set(remote, "/home/dev/site/index.php", 3, "")

	if remote.calls[0] != `set /var/www/index.php:3 "" temp=false` {
		t.Errorf("expected mapped path, got %v", remote.calls)
	}
}

func TestRegistry_ReplayContinuesAfterEngineError(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Set(nil, "/a.php", 10, "")
	reg.Set(nil, "/a.php", 20, "")
	reg.Set(nil, "/b.php", 5, "")

	remote := &mockRemote{failLines: map[int]error{10: errors.New("invalid line")}}
	n, err := reg.Replay(remote)
	if err == nil || !strings.Contains(err.Error(), "/a.php:10") {
		t.Fatalf("expected error naming /a.php:10, got %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 replayed, got %d", n)
	}
	if len(remote.calls) != 3 {
		t.Errorf("expected one set per enabled breakpoint, got %v", remote.calls)
	}

	if bp, _ := reg.Get("/a.php", 10); bp.ID != "" {
		t.Errorf("refused breakpoint got id %q", bp.ID)
	}
	if bp, _ := reg.Get("/a.php", 20); bp.ID == "" {
		t.Error("expected /a.php:20 to be registered")
	}
	if bp, _ := reg.Get("/b.php", 5); bp.ID == "" {
		t.Error("expected /b.php:5 to be registered")
	}
}

func TestRegistry_ReplayStopsOnFatalError(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Set(nil, "/a.php", 10, "")
	reg.Set(nil, "/a.php", 20, "")

	remote := &mockRemote{failLines: map[int]error{10: wire.ErrClosed}}
	n, err := reg.Replay(remote)
	if !errors.Is(err, wire.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if n != 0 || len(remote.calls) != 1 {
		t.Errorf("expected replay to stop after the first call, got n=%d calls=%v", n, remote.calls)
	}
}

func TestRegistry_SetKeepsOldIDWhenRemoveFails(t *testing.T) {
	reg := NewRegistry(nil)
	remote := &mockRemote{}
	if _, err := reg.Set(remote, "/a.php", 3, ""); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	remote.failRemove = true
	bp, err := reg.Set(remote, "/a.php", 3, "$x > 1")
	if err == nil {
		t.Fatal("expected remove error")
	}
	if bp.ID != "1" || bp.Expression != "" {
		t.Errorf("expected previous record to be kept, got %+v", bp)
	}
	if got, _ := reg.Get("/a.php", 3); got.ID != "1" {
		t.Errorf("registry lost the engine id: %+v", got)
	}
	for _, c := range remote.calls {
		if strings.HasPrefix(c, "set") && strings.Contains(c, "$x") {
			t.Errorf("new breakpoint should not be sent: %v", remote.calls)
		}
	}
}
