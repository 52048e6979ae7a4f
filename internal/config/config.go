// Package config loads the server's YAML configuration file and applies
// defaults. Every field can also be overridden by a command-line flag in
// main.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Default listen ports for the two planes.
const (
	DefaultTextPort  = 5557
	DefaultVoicePort = 5556
)

// Config is the full server configuration.
type Config struct {
	ServerName string `yaml:"server_name"` // human-readable display name
	Bind       string `yaml:"bind"`        // bind address for both planes
	TextPort   int    `yaml:"text_port"`
	VoicePort  int    `yaml:"voice_port"`
	HTTPAddr   string `yaml:"http_addr"` // status API address; empty disables it
	DBPath     string `yaml:"db_path"`
	LogLevel   string `yaml:"log_level"` // debug, info, warn, error

	// Wire-protocol limits.
	MaxVoiceFrame int `yaml:"max_voice_frame"` // max voice frame payload bytes
	MaxLineLen    int `yaml:"max_line_len"`    // max text protocol line bytes
}

// ApplyDefaults fills zero values with the standard defaults.
func (c *Config) ApplyDefaults() {
	if c.ServerName == "" {
		c.ServerName = "hybrid server"
	}
	if c.Bind == "" {
		c.Bind = "0.0.0.0"
	}
	if c.TextPort == 0 {
		c.TextPort = DefaultTextPort
	}
	if c.VoicePort == 0 {
		c.VoicePort = DefaultVoicePort
	}
	if c.DBPath == "" {
		c.DBPath = "hybrid.db"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.MaxVoiceFrame == 0 {
		c.MaxVoiceFrame = 65536
	}
	if c.MaxLineLen == 0 {
		c.MaxLineLen = 64 * 1024
	}
}

// TextAddr returns the text plane listen address.
func (c *Config) TextAddr() string {
	return fmt.Sprintf("%s:%d", c.Bind, c.TextPort)
}

// VoiceAddr returns the voice plane listen address.
func (c *Config) VoiceAddr() string {
	return fmt.Sprintf("%s:%d", c.Bind, c.VoicePort)
}

// Validate checks that cfg holds a coherent set of values.
func (c *Config) Validate() error {
	var errs []error
	if c.TextPort < 1 || c.TextPort > 65535 {
		errs = append(errs, fmt.Errorf("text_port %d is out of range", c.TextPort))
	}
	if c.VoicePort < 1 || c.VoicePort > 65535 {
		errs = append(errs, fmt.Errorf("voice_port %d is out of range", c.VoicePort))
	}
	if c.TextPort == c.VoicePort {
		errs = append(errs, fmt.Errorf("text_port and voice_port must differ (both %d)", c.TextPort))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", c.LogLevel))
	}
	if c.MaxVoiceFrame < 0 {
		errs = append(errs, fmt.Errorf("max_voice_frame must be non-negative"))
	}
	return errors.Join(errs...)
}

// Load reads the YAML config at path, applies defaults, and validates the
// result. A missing file is not an error: defaults are returned, so the
// server runs without any config file at all.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg := &Config{}
		cfg.ApplyDefaults()
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates. Useful in tests where configs are string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
