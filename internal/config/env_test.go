package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/scriptdbg/internal/debug/breakpoint"
)

func TestApplyEnv(t *testing.T) {
	t.Setenv("SCRIPTDBG_DIALECT", "grld")
	t.Setenv("SCRIPTDBG_PORT", "8172")
	t.Setenv("SCRIPTDBG_HIDE_PASSWORD", "off")
	t.Setenv("SCRIPTDBG_SUPER_GLOBALS", "yes")
	t.Setenv("SCRIPTDBG_PATH_MAPPING", "/srv/game=/home/dev/game; /var/www = /home/dev/site")
	t.Setenv("SCRIPTDBG_BREAK_ON_EXCEPTION", "Exception, Error")
	t.Setenv("SCRIPTDBG_POLL_INTERVAL", "50ms")
	t.Setenv("SCRIPTDBG_UNKNOWN", "ignored")

	cfg := Default()
	require.NoError(t, ApplyEnv(cfg, EnvPrefix))

	assert.Equal(t, "grld", cfg.Dialect)
	assert.Equal(t, 8172, cfg.Port)
	assert.False(t, cfg.HidePassword)
	assert.True(t, cfg.SuperGlobals)
	assert.Equal(t, []breakpoint.Mapping{
		{Remote: "/srv/game", Local: "/home/dev/game"},
		{Remote: "/var/www", Local: "/home/dev/site"},
	}, cfg.PathMapping)
	assert.Equal(t, []string{"Exception", "Error"}, cfg.BreakOnException)
	assert.Equal(t, 50*time.Millisecond, cfg.PollInterval.Std())
}

func TestApplyEnv_OverridesFile(t *testing.T) {
	path := writeFile(t, "scriptdbg.toml", "port = 9001\n")
	t.Setenv("SCRIPTDBG_PORT", "9002")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9002, cfg.Port)
}

func TestApplyEnv_Errors(t *testing.T) {
	tests := map[string]string{
		"SCRIPTDBG_PORT":           "ninety",
		"SCRIPTDBG_BREAK_ON_START": "maybe",
		"SCRIPTDBG_PATH_MAPPING":   "/srv/game",
		"SCRIPTDBG_POLL_INTERVAL":  "fast",
	}
	for env, value := range tests {
		t.Run(env, func(t *testing.T) {
			t.Setenv(env, value)
			err := ApplyEnv(Default(), EnvPrefix)
			require.Error(t, err)
			assert.Contains(t, err.Error(), env)
		})
	}
}
