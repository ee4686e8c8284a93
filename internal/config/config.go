// Package config centralizes runtime configuration for lwm. It loads a
// configuration file (YAML, TOML or JSON, chosen by extension) and exposes a
// process-wide configuration with sensible defaults. Development builds run
// with defaults when no file is present; operators point LWM_CONFIG at a file
// or pass -config. The node list can also be supplied via LWM_NODES.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so it can be written as "10s" in every
// supported config format.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	return d.parse(value.Value)
}

// UnmarshalText is used by the TOML decoder.
func (d *Duration) UnmarshalText(text []byte) error {
	return d.parse(string(text))
}

// UnmarshalJSON accepts "10s" or a number of seconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		return d.parse(s)
	}
	var secs float64
	if err := json.Unmarshal(b, &secs); err != nil {
		return fmt.Errorf("duration must be string or number of seconds")
	}
	d.Duration = time.Duration(secs * float64(time.Second))
	return nil
}

// MarshalJSON writes the duration in its string form.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) parse(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config holds configurable options for the lwm service.
type Config struct {
	Nodes              []string `json:"nodes" yaml:"nodes" toml:"nodes"`
	Port               int      `json:"port" yaml:"port" toml:"port"`
	RefreshInterval    Duration `json:"refresh_interval" yaml:"refresh_interval" toml:"refresh_interval"`
	RecentWindow       int      `json:"recent_window" yaml:"recent_window" toml:"recent_window"`
	RequestTimeout     Duration `json:"request_timeout" yaml:"request_timeout" toml:"request_timeout"`
	ProbeTimeout       Duration `json:"probe_timeout" yaml:"probe_timeout" toml:"probe_timeout"`
	SettleDelay        Duration `json:"settle_delay" yaml:"settle_delay" toml:"settle_delay"`
	RequestRate        float64  `json:"request_rate" yaml:"request_rate" toml:"request_rate"`
	RequestBurst       int      `json:"request_burst" yaml:"request_burst" toml:"request_burst"`
	AdminRatePerMinute float64  `json:"admin_rate_per_minute" yaml:"admin_rate_per_minute" toml:"admin_rate_per_minute"`
	AdminBurst         int      `json:"admin_burst" yaml:"admin_burst" toml:"admin_burst"`
	LogLevel           string   `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFile            string   `json:"log_file" yaml:"log_file" toml:"log_file"`
	LogBuffer          int      `json:"log_buffer" yaml:"log_buffer" toml:"log_buffer"`
	DocsDir            string   `json:"docs_dir" yaml:"docs_dir" toml:"docs_dir"`
}

// Defaults returns the configuration used when no file is supplied.
func Defaults() *Config {
	return &Config{
		Nodes:              []string{"http://localhost:5000", "http://localhost:5001"},
		Port:               8080,
		RefreshInterval:    Duration{10 * time.Second},
		RecentWindow:       10,
		RequestTimeout:     Duration{5 * time.Second},
		ProbeTimeout:       Duration{5 * time.Second},
		SettleDelay:        Duration{time.Second},
		RequestRate:        0,
		RequestBurst:       1,
		AdminRatePerMinute: 30,
		AdminBurst:         5,
		LogLevel:           "info",
		LogFile:            "",
		LogBuffer:          200,
		DocsDir:            "docs",
	}
}

// LoadConfig reads the file at path. An empty path or a missing file yields
// defaults; a file that exists but cannot be parsed is an error, since running
// against the wrong node set is worse than not starting. LWM_NODES, when set,
// replaces the configured node list.
func LoadConfig(path string) (*Config, error) {
	def := Defaults()

	c := &Config{}
	if path == "" {
		c = Defaults()
	} else if b, err := os.ReadFile(path); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		c = Defaults()
	} else if err := decode(path, b, c); err != nil {
		return nil, err
	}

	if env := strings.TrimSpace(os.Getenv("LWM_NODES")); env != "" {
		c.Nodes = SplitNodes(env)
	}

	mergeDefaults(c, def)

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return c, nil
}

func decode(path string, b []byte, c *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, c); err != nil {
			return fmt.Errorf("decode yaml config: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(string(b), c); err != nil {
			return fmt.Errorf("decode toml config: %w", err)
		}
	case ".json", "":
		if err := json.Unmarshal(b, c); err != nil {
			return fmt.Errorf("decode json config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	return nil
}

// merge defaults for any zero-value fields
func mergeDefaults(c, def *Config) {
	if len(c.Nodes) == 0 {
		c.Nodes = def.Nodes
	}
	if c.Port == 0 {
		c.Port = def.Port
	}
	if c.RefreshInterval.Duration == 0 {
		c.RefreshInterval = def.RefreshInterval
	}
	if c.RecentWindow == 0 {
		c.RecentWindow = def.RecentWindow
	}
	if c.RequestTimeout.Duration == 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	if c.ProbeTimeout.Duration == 0 {
		c.ProbeTimeout = def.ProbeTimeout
	}
	if c.SettleDelay.Duration == 0 {
		c.SettleDelay = def.SettleDelay
	}
	if c.RequestBurst == 0 {
		c.RequestBurst = def.RequestBurst
	}
	if c.AdminRatePerMinute == 0 {
		c.AdminRatePerMinute = def.AdminRatePerMinute
	}
	if c.AdminBurst == 0 {
		c.AdminBurst = def.AdminBurst
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.LogBuffer == 0 {
		c.LogBuffer = def.LogBuffer
	}
	if c.DocsDir == "" {
		c.DocsDir = def.DocsDir
	}
}

// Validate checks the node list and numeric settings.
func (c *Config) Validate() error {
	if len(c.Nodes) == 0 {
		return fmt.Errorf("at least one node must be configured")
	}
	seen := make(map[string]struct{}, len(c.Nodes))
	for i, raw := range c.Nodes {
		node := strings.TrimRight(strings.TrimSpace(raw), "/")
		u, err := url.Parse(node)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("node %d: %q is not an http(s) base URI", i, raw)
		}
		if _, dup := seen[node]; dup {
			return fmt.Errorf("node %q configured twice", node)
		}
		seen[node] = struct{}{}
		c.Nodes[i] = node
	}
	if c.RecentWindow < 0 {
		return fmt.Errorf("recent_window must not be negative")
	}
	if c.RefreshInterval.Duration <= 0 {
		return fmt.Errorf("refresh_interval must be positive")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.RequestRate < 0 {
		return fmt.Errorf("request_rate must not be negative")
	}
	return nil
}

// SplitNodes parses a comma-separated node list.
func SplitNodes(raw string) []string {
	var nodes []string
	for _, p := range strings.Split(raw, ",") {
		if n := strings.TrimSpace(p); n != "" {
			nodes = append(nodes, n)
		}
	}
	return nodes
}
