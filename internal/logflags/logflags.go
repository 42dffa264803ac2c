// Package logflags configures the per-layer loggers used by the adapter.
package logflags

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	mu      sync.RWMutex
	wire    bool
	session bool
	adapter bool
	out     io.Writer = os.Stderr
)

func makeLogger(flag bool, fields logrus.Fields) *logrus.Entry {
	mu.RLock()
	w := out
	mu.RUnlock()

	logger := logrus.New()
	logger.Out = w
	logger.Level = logrus.DebugLevel
	if !flag {
		logger.Level = logrus.PanicLevel
	}
	return logger.WithFields(fields)
}

// Wire returns true if every frame exchanged with the engine should be logged.
func Wire() bool {
	mu.RLock()
	defer mu.RUnlock()
	return wire
}

// WireLogger returns a logger for the frame transport.
func WireLogger() *logrus.Entry {
	return makeLogger(Wire(), logrus.Fields{"layer": "wire"})
}

// Session returns true if the session layer should log.
func Session() bool {
	mu.RLock()
	defer mu.RUnlock()
	return session
}

// SessionLogger returns a logger for the session state machine.
func SessionLogger() *logrus.Entry {
	return makeLogger(Session(), logrus.Fields{"layer": "session"})
}

// Adapter returns true if the adapter and dispatcher should log.
func Adapter() bool {
	mu.RLock()
	defer mu.RUnlock()
	return adapter
}

// AdapterLogger returns a logger for the adapter.
func AdapterLogger() *logrus.Entry {
	return makeLogger(Adapter(), logrus.Fields{"layer": "adapter"})
}

// Setup enables the layers named in logstr, a comma separated list of
// wire, session, adapter or all. An empty string disables every layer.
func Setup(logstr string, w io.Writer) error {
	mu.Lock()
	defer mu.Unlock()

	wire, session, adapter = false, false, false
	if w != nil {
		out = w
	}
	if logstr == "" {
		return nil
	}
	for _, name := range strings.Split(logstr, ",") {
		switch strings.TrimSpace(name) {
		case "wire":
			wire = true
		case "session":
			session = true
		case "adapter":
			adapter = true
		case "all":
			wire, session, adapter = true, true, true
		case "":
		default:
			return fmt.Errorf("unknown log layer %q", name)
		}
	}
	return nil
}
