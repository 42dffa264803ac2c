package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatch_Reloads(t *testing.T) {
	path := writeFile(t, "scriptdbg.toml", "port = 9001\n")

	changes := make(chan *Config, 4)
	w, err := Watch(path, func(cfg *Config) { changes <- cfg }, WithDebounce(10*time.Millisecond))
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("port = 9002\nsuper_globals = true\n"), 0o644))

	select {
	case cfg := <-changes:
		assert.Equal(t, 9002, cfg.Port)
		assert.True(t, cfg.SuperGlobals)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after write")
	}
}

func TestWatch_ReportsInvalidFile(t *testing.T) {
	path := writeFile(t, "scriptdbg.toml", "port = 9001\n")

	errs := make(chan error, 4)
	w, err := Watch(path, func(*Config) { t.Error("invalid config delivered") },
		WithDebounce(10*time.Millisecond),
		WithErrorHandler(func(err error) { errs <- err }))
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("port = -5\n"), 0o644))

	select {
	case err := <-errs:
		var ve *ValidationError
		assert.ErrorAs(t, err, &ve)
	case <-time.After(5 * time.Second):
		t.Fatal("no error after invalid write")
	}
}

func TestWatch_IgnoresSiblings(t *testing.T) {
	path := writeFile(t, "scriptdbg.toml", "port = 9001\n")

	changes := make(chan *Config, 4)
	w, err := Watch(path, func(cfg *Config) { changes <- cfg }, WithDebounce(10*time.Millisecond))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path+".bak", []byte("junk"), 0o644))
	select {
	case <-changes:
		t.Fatal("reload triggered by another file")
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}
