package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so config files can say "5s" or "1m" in any
// of the supported formats.
type Duration time.Duration

func (d *Duration) UnmarshalText(b []byte) error {
	parsed, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Connection selects the discovery endpoint and the remote-wait bounds.
type Connection struct {
	Host           string   `json:"host" yaml:"host" toml:"host"`
	Port           int      `json:"port" yaml:"port" toml:"port"`
	ConnectTimeout Duration `json:"connect_timeout" yaml:"connect_timeout" toml:"connect_timeout"`
	RequestTimeout Duration `json:"request_timeout" yaml:"request_timeout" toml:"request_timeout"`
	StreamTimeout  Duration `json:"stream_timeout" yaml:"stream_timeout" toml:"stream_timeout"`
}

// Reconnect tunes the backoff between reconnect attempts.
type Reconnect struct {
	InitialDelay   Duration `json:"initial_delay" yaml:"initial_delay" toml:"initial_delay"`
	MaxDelay       Duration `json:"max_delay" yaml:"max_delay" toml:"max_delay"`
	Multiplier     float64  `json:"multiplier" yaml:"multiplier" toml:"multiplier"`
	JitterFraction float64  `json:"jitter_fraction" yaml:"jitter_fraction" toml:"jitter_fraction"`
	MaxAttempts    int      `json:"max_attempts" yaml:"max_attempts" toml:"max_attempts"`
}

// HTTP configures the API server.
type HTTP struct {
	Addr        string   `json:"addr" yaml:"addr" toml:"addr"`
	CORSEnabled bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled"`
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
	CORSMethods []string `json:"cors_methods" yaml:"cors_methods" toml:"cors_methods"`
	CORSHeaders []string `json:"cors_headers" yaml:"cors_headers" toml:"cors_headers"`
}

// Config holds runtime parameters for the monitor.
// Zero values mean "unspecified" and will be replaced by defaults in main.
type Config struct {
	Connection Connection `json:"connection" yaml:"connection" toml:"connection"`
	Reconnect  Reconnect  `json:"reconnect" yaml:"reconnect" toml:"reconnect"`
	HTTP       HTTP       `json:"http" yaml:"http" toml:"http"`
	// Refresh interval between monitoring passes.
	RefreshInterval Duration `json:"refresh_interval" yaml:"refresh_interval" toml:"refresh_interval"`
	LogLevel        string   `json:"log_level" yaml:"log_level" toml:"log_level"`
}

// Default returns the documented defaults.
func Default() Config {
	return Config{
		Connection: Connection{
			Host:           "localhost",
			Port:           9502,
			ConnectTimeout: Duration(5 * time.Second),
			RequestTimeout: Duration(30 * time.Second),
			StreamTimeout:  Duration(5 * time.Second),
		},
		Reconnect: Reconnect{
			InitialDelay:   Duration(time.Second),
			MaxDelay:       Duration(30 * time.Second),
			Multiplier:     2.0,
			JitterFraction: 0.1,
		},
		HTTP: HTTP{
			Addr: ":8090",
		},
		RefreshInterval: Duration(time.Second),
		LogLevel:        "info",
	}
}

// Load reads a configuration file based on its extension and layers it over
// the defaults. Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
