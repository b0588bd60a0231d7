// Package config loads the agent configuration from a YAML file and fills
// in workable defaults, so a minimal file (or none at all) still yields a
// runnable agent.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root of the agent's YAML configuration.
type Config struct {
	Server    Server    `yaml:"server"`
	Device    Device    `yaml:"device"`
	Browser   Browser   `yaml:"browser"`
	Control   Control   `yaml:"control"`
	Heartbeat Heartbeat `yaml:"heartbeat"`
	Content   Content   `yaml:"content"`
	Store     Store     `yaml:"store"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// Server names the reporting endpoint.
type Server struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// Device describes how this machine reports itself.
type Device struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// Browser selects the Chrome instance to observe.
type Browser struct {
	// Remote is a DevTools URL of an already running Chrome. Empty means
	// launch one locally.
	Remote   string `yaml:"remote"`
	Headless bool   `yaml:"headless"`
	StartURL string `yaml:"start_url"`
}

// Control configures the local control API listener.
type Control struct {
	Addr string `yaml:"addr"`
}

// Heartbeat tunes the reporting cadence.
type Heartbeat struct {
	CoarseInterval time.Duration `yaml:"coarse_interval"`
	FineInterval   time.Duration `yaml:"fine_interval"`
}

// Content tunes page content capture.
type Content struct {
	MaxChars int `yaml:"max_chars"`
}

// Store locates the durable state database.
type Store struct {
	Path string `yaml:"path"`
}

// Load reads path and returns the parsed config with defaults applied.
// A missing file is not an error: defaults alone are returned.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// fall through to defaults
	default:
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Name == "" {
		c.Server.Name = "default"
	}
	if c.Device.Name == "" {
		if host, err := os.Hostname(); err == nil {
			c.Device.Name = host
		} else {
			c.Device.Name = "unknown"
		}
	}
	if c.Device.Type == "" {
		c.Device.Type = "workstation"
	}
	if c.Control.Addr == "" {
		c.Control.Addr = "127.0.0.1:8691"
	}
	if c.Heartbeat.CoarseInterval <= 0 {
		c.Heartbeat.CoarseInterval = time.Minute
	}
	if c.Heartbeat.FineInterval <= 0 {
		c.Heartbeat.FineInterval = time.Second
	}
	if c.Content.MaxChars <= 0 {
		c.Content.MaxChars = 8000
	}
	if c.Store.Path == "" {
		c.Store.Path = defaultStorePath()
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func defaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "tabpulse.db"
	}
	return filepath.Join(dir, "tabpulse", "tabpulse.db")
}
