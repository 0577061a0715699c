// Package config reads the settings shared by the example programs.
package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/pion/logging"
	"gopkg.in/yaml.v3"

	mdns "github.com/elum-utils/minimdns"
)

// Defaults applied to options left out of the configuration file.
const (
	DefaultTimeout  = 3 * time.Second
	DefaultLogLevel = "warn"
)

// ApplicationConfig is a top-level block for application-level configuration.
type ApplicationConfig struct {
	SentryDSN string `yaml:"sentry_dsn"`
}

// NetworkConfig is a top-level block for the multicast socket.
type NetworkConfig struct {
	Interfaces    []string      `yaml:"interfaces"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	MaxPacketSize int           `yaml:"max_packet_size"`
}

// LookupConfig is a top-level block for discovery lookups.
type LookupConfig struct {
	Timeout  time.Duration `yaml:"timeout"`
	Capacity int           `yaml:"capacity"`
}

// LogConfig is a top-level block for diagnostics.
type LogConfig struct {
	Level      string            `yaml:"level"`
	Scopes     map[string]string `yaml:"scopes"`
	PacketDump bool              `yaml:"packet_dump"`
}

// CaptureConfig is a top-level block for record capture files.
type CaptureConfig struct {
	Path string `yaml:"path"`
}

// Config describes all application configuration options.
type Config struct {
	Application ApplicationConfig `yaml:"application"`
	Network     NetworkConfig     `yaml:"network"`
	Lookup      LookupConfig      `yaml:"lookup"`
	Log         LogConfig         `yaml:"log"`
	Capture     CaptureConfig     `yaml:"capture"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// ParseConfig parses a Config struct instance from a file specified as a path
// on disk. An empty path yields the defaults.
func ParseConfig(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: error reading config: err=%v", err)
	}
	return Parse(data)
}

// Load reads the file at path, or the defaults when path is empty, and
// applies a log level override given on the command line.
func Load(path, verbosity string) (*Config, error) {
	cfg, err := ParseConfig(path)
	if err != nil {
		return nil, err
	}
	if verbosity != "" {
		cfg.Log.Level = verbosity
		if err := cfg.validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// Parse parses and validates a YAML document.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: error parsing config: err=%v", err)
	}
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills in every option left at its zero value.
func (c *Config) applyDefaults() {
	if c.Network.PollInterval == 0 {
		c.Network.PollInterval = mdns.DefaultPollInterval
	}
	if c.Network.MaxPacketSize == 0 {
		c.Network.MaxPacketSize = mdns.MaxPacketSize
	}
	if c.Lookup.Timeout == 0 {
		c.Lookup.Timeout = DefaultTimeout
	}
	if c.Lookup.Capacity == 0 {
		c.Lookup.Capacity = mdns.MaxHosts
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}

// validate the contents of the configuration. Returns an error if validation
// failed; nil otherwise.
func (c *Config) validate() error {
	/* Network */

	if c.Network.PollInterval < 0 {
		return fmt.Errorf("config: poll interval must not be negative: poll_interval=%v", c.Network.PollInterval)
	}

	if c.Network.MaxPacketSize < 12 || c.Network.MaxPacketSize > 65535 {
		return fmt.Errorf("config: max packet size must be in range [12, 65535]: max_packet_size=%d", c.Network.MaxPacketSize)
	}

	for idx, name := range c.Network.Interfaces {
		if name == "" {
			return fmt.Errorf("config: empty interface name: idx=%d", idx)
		}
	}

	/* Lookup */

	if c.Lookup.Timeout < 0 {
		return fmt.Errorf("config: lookup timeout must not be negative: timeout=%v", c.Lookup.Timeout)
	}

	if c.Lookup.Capacity < 0 {
		return fmt.Errorf("config: lookup capacity must not be negative: capacity=%d", c.Lookup.Capacity)
	}

	/* Log */

	if _, ok := ParseLevel(c.Log.Level); !ok {
		return fmt.Errorf("config: unknown log level: level=%s", c.Log.Level)
	}

	for scope, level := range c.Log.Scopes {
		if _, ok := ParseLevel(level); !ok {
			return fmt.Errorf("config: unknown log level: scope=%s level=%s", scope, level)
		}
	}

	return nil
}

// ParseLevel looks up a log level by its (case-insensitive) name.
func ParseLevel(level string) (logging.LogLevel, bool) {
	switch strings.ToLower(level) {
	case "disabled", "off":
		return logging.LogLevelDisabled, true
	case "error":
		return logging.LogLevelError, true
	case "warn", "warning":
		return logging.LogLevelWarn, true
	case "info":
		return logging.LogLevelInfo, true
	case "debug":
		return logging.LogLevelDebug, true
	case "trace":
		return logging.LogLevelTrace, true
	}
	return logging.LogLevelError, false
}

// Interfaces resolves the configured interface names. No names means all
// multicast capable interfaces.
func (c *Config) Interfaces() ([]net.Interface, error) {
	var ifaces []net.Interface
	for _, name := range c.Network.Interfaces {
		iface, err := net.InterfaceByName(name)
		if err != nil {
			return nil, fmt.Errorf("config: unknown interface: name=%s err=%v", name, err)
		}
		ifaces = append(ifaces, *iface)
	}
	return ifaces, nil
}
