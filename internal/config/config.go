package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/dshills/scriptdbg/internal/debug/breakpoint"
	"github.com/dshills/scriptdbg/internal/debug/wire"
)

// Default values.
const (
	DefaultHost         = ""
	DefaultPort         = 9000
	DefaultPollInterval = 100 * time.Millisecond
)

// Config holds the adapter settings.
type Config struct {
	// Dialect is the engine protocol: dbgp or grld.
	Dialect string `toml:"dialect" yaml:"dialect"`

	// Host and Port are the address the adapter listens on.
	Host string `toml:"host" yaml:"host"`
	Port int    `toml:"port" yaml:"port"`

	// PathMapping translates engine paths to local ones, first match wins.
	PathMapping []breakpoint.Mapping `toml:"path_mapping" yaml:"path_mapping"`

	// SuperGlobals includes superglobals (GRLD: upvalues) in the context.
	SuperGlobals bool `toml:"super_globals" yaml:"super_globals"`

	// HidePassword masks values whose name contains "password".
	HidePassword bool `toml:"hide_password" yaml:"hide_password"`

	// Engine limits negotiated at connect. Zero leaves the engine default.
	MaxChildren int `toml:"max_children" yaml:"max_children"`
	MaxData     int `toml:"max_data" yaml:"max_data"`
	MaxDepth    int `toml:"max_depth" yaml:"max_depth"`

	// BreakOnStart stops on the first line instead of running.
	BreakOnStart bool `toml:"break_on_start" yaml:"break_on_start"`

	// BreakOnException lists exception names to break on.
	BreakOnException []string `toml:"break_on_exception" yaml:"break_on_exception"`

	// RestartOnStop listens again when the script finishes.
	RestartOnStop bool `toml:"restart_on_stop" yaml:"restart_on_stop"`

	// PollInterval is how often pushed GRLD commands are drained.
	PollInterval Duration `toml:"poll_interval" yaml:"poll_interval"`

	// LogLevel names the log layers to enable, e.g. "wire,session".
	LogLevel string `toml:"log_level" yaml:"log_level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Dialect:       wire.DBGp.String(),
		Host:          DefaultHost,
		Port:          DefaultPort,
		HidePassword:  true,
		RestartOnStop: true,
		PollInterval:  Duration(DefaultPollInterval),
	}
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.PathMapping = slices.Clone(c.PathMapping)
	out.BreakOnException = slices.Clone(c.BreakOnException)
	return &out
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// WireDialect returns the parsed dialect.
func (c *Config) WireDialect() (wire.Dialect, error) {
	return wire.ParseDialect(c.Dialect)
}

// Validate checks every setting and reports all problems found.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.WireDialect(); err != nil {
		errs = append(errs, &ValidationError{Key: "dialect", Value: c.Dialect, Message: "must be dbgp or grld"})
	}
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, &ValidationError{Key: "port", Value: c.Port, Message: "must be between 0 and 65535"})
	}
	for _, lim := range []struct {
		key   string
		value int
	}{
		{"max_children", c.MaxChildren},
		{"max_data", c.MaxData},
		{"max_depth", c.MaxDepth},
	} {
		if lim.value < 0 {
			errs = append(errs, &ValidationError{Key: lim.key, Value: lim.value, Message: "must not be negative"})
		}
	}
	if c.PollInterval <= 0 {
		errs = append(errs, &ValidationError{Key: "poll_interval", Value: c.PollInterval, Message: "must be positive"})
	}
	for i, m := range c.PathMapping {
		if strings.TrimSpace(m.Remote) == "" || strings.TrimSpace(m.Local) == "" {
			errs = append(errs, &ValidationError{
				Key:     fmt.Sprintf("path_mapping[%d]", i),
				Value:   m,
				Message: "remote and local must both be set",
			})
		}
	}
	return errors.Join(errs...)
}

// Load builds the configuration from the defaults, the file at path (if
// path is not empty), and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := ApplyEnv(cfg, EnvPrefix); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays the settings in a TOML or YAML file. Keys absent from
// the file keep their current value; unknown keys are an error.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}
	return c.Parse(path, data)
}

// Parse overlays data, whose format is chosen by the extension of name.
func (c *Config) Parse(name string, data []byte) error {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(c); err != nil {
			pe := &ParseError{Path: name, Message: err.Error(), Err: err}
			var de *toml.DecodeError
			if errors.As(err, &de) {
				pe.Line, pe.Column = de.Position()
			}
			return pe
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
			return &ParseError{Path: name, Message: err.Error(), Err: err}
		}
	default:
		return fmt.Errorf("%s: %w", name, ErrUnsupportedFormat)
	}
	return nil
}

// Duration is a time.Duration written as a string such as "250ms".
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}
