package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/dshills/scriptdbg/internal/debug/breakpoint"
)

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "SCRIPTDBG_"

// envSetter applies one environment value to the config.
type envSetter func(c *Config, value string) error

// envMapping maps a variable name, without prefix, to its setter.
var envMapping = map[string]envSetter{
	"DIALECT":            func(c *Config, v string) error { c.Dialect = v; return nil },
	"HOST":               func(c *Config, v string) error { c.Host = v; return nil },
	"PORT":               intSetter(func(c *Config) *int { return &c.Port }),
	"PATH_MAPPING":       setPathMapping,
	"SUPER_GLOBALS":      boolSetter(func(c *Config) *bool { return &c.SuperGlobals }),
	"HIDE_PASSWORD":      boolSetter(func(c *Config) *bool { return &c.HidePassword }),
	"MAX_CHILDREN":       intSetter(func(c *Config) *int { return &c.MaxChildren }),
	"MAX_DATA":           intSetter(func(c *Config) *int { return &c.MaxData }),
	"MAX_DEPTH":          intSetter(func(c *Config) *int { return &c.MaxDepth }),
	"BREAK_ON_START":     boolSetter(func(c *Config) *bool { return &c.BreakOnStart }),
	"BREAK_ON_EXCEPTION": setBreakOnException,
	"RESTART_ON_STOP":    boolSetter(func(c *Config) *bool { return &c.RestartOnStop }),
	"POLL_INTERVAL":      func(c *Config, v string) error { return c.PollInterval.UnmarshalText([]byte(v)) },
	"LOG_LEVEL":          func(c *Config, v string) error { c.LogLevel = v; return nil },
}

// ApplyEnv overrides settings from environment variables named prefix plus
// the upper-case key, e.g. SCRIPTDBG_PORT. Unknown prefixed variables are
// ignored.
func ApplyEnv(c *Config, prefix string) error {
	keys := make([]string, 0, len(envMapping))
	for k := range envMapping {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		value, ok := os.LookupEnv(prefix + k)
		if !ok {
			continue
		}
		if err := envMapping[k](c, value); err != nil {
			return fmt.Errorf("environment %s%s: %w", prefix, k, err)
		}
	}
	return nil
}

func intSetter(field func(*Config) *int) envSetter {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func boolSetter(field func(*Config) *bool) envSetter {
	return func(c *Config, v string) error {
		b, err := parseBool(v)
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}

// parseBool accepts true/false, yes/no, on/off and 1/0.
func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "on", "1":
		return true, nil
	case "false", "no", "off", "0", "":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", s)
}

// setPathMapping parses remote=local pairs separated by semicolons.
func setPathMapping(c *Config, v string) error {
	var mappings []breakpoint.Mapping
	for _, pair := range strings.Split(v, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		remote, local, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("path mapping %q: want remote=local", pair)
		}
		mappings = append(mappings, breakpoint.Mapping{
			Remote: strings.TrimSpace(remote),
			Local:  strings.TrimSpace(local),
		})
	}
	c.PathMapping = mappings
	return nil
}

func setBreakOnException(c *Config, v string) error {
	var names []string
	for _, name := range strings.Split(v, ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	c.BreakOnException = names
	return nil
}
