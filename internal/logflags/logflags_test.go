package logflags

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestSetup(t *testing.T) {
	var buf bytes.Buffer
	if err := Setup("wire,adapter", &buf); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	defer Setup("", nil)

	if !Wire() || Session() || !Adapter() {
		t.Errorf("unexpected layers: wire=%v session=%v adapter=%v", Wire(), Session(), Adapter())
	}

	WireLogger().Debug("frame")
	if !bytes.Contains(buf.Bytes(), []byte("layer=wire")) {
		t.Errorf("expected layer field in output, got %q", buf.String())
	}

	buf.Reset()
	SessionLogger().Debug("quiet")
	if buf.Len() != 0 {
		t.Errorf("disabled layer wrote %q", buf.String())
	}
}

func TestSetup_Unknown(t *testing.T) {
	if err := Setup("bogus", nil); err == nil {
		t.Fatal("expected error for unknown layer")
	}
	Setup("", nil)
}

func TestDisabledLevel(t *testing.T) {
	Setup("", nil)
	if lvl := AdapterLogger().Logger.Level; lvl != logrus.PanicLevel {
		t.Errorf("expected panic level, got %v", lvl)
	}
}
