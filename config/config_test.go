package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Heartbeat.CoarseInterval != time.Minute {
		t.Fatalf("coarse interval: %v", cfg.Heartbeat.CoarseInterval)
	}
	if cfg.Heartbeat.FineInterval != time.Second {
		t.Fatalf("fine interval: %v", cfg.Heartbeat.FineInterval)
	}
	if cfg.Content.MaxChars != 8000 {
		t.Fatalf("max chars: %d", cfg.Content.MaxChars)
	}
	if cfg.Control.Addr == "" {
		t.Fatal("control addr default missing")
	}
	if cfg.Device.Type != "workstation" {
		t.Fatalf("device type: %q", cfg.Device.Type)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("log level: %q", cfg.LogLevel)
	}
	if cfg.Store.Path == "" {
		t.Fatal("store path default missing")
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tabpulse.yaml")
	doc := `
server:
  name: eu
  url: https://pulse.example
device:
  name: laptop
  type: portable
browser:
  remote: ws://127.0.0.1:9222
heartbeat:
  coarse_interval: 5m
  fine_interval: 2s
content:
  max_chars: 1200
log_level: debug
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.URL != "https://pulse.example" || cfg.Server.Name != "eu" {
		t.Fatalf("server: %+v", cfg.Server)
	}
	if cfg.Device.Name != "laptop" || cfg.Device.Type != "portable" {
		t.Fatalf("device: %+v", cfg.Device)
	}
	if cfg.Browser.Remote != "ws://127.0.0.1:9222" {
		t.Fatalf("browser remote: %q", cfg.Browser.Remote)
	}
	if cfg.Heartbeat.CoarseInterval != 5*time.Minute {
		t.Fatalf("coarse interval: %v", cfg.Heartbeat.CoarseInterval)
	}
	if cfg.Heartbeat.FineInterval != 2*time.Second {
		t.Fatalf("fine interval: %v", cfg.Heartbeat.FineInterval)
	}
	if cfg.Content.MaxChars != 1200 {
		t.Fatalf("max chars: %d", cfg.Content.MaxChars)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log level: %q", cfg.LogLevel)
	}
	// Unset sections still get defaults.
	if cfg.Control.Addr == "" {
		t.Fatal("control addr default missing")
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("server: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("malformed yaml must fail")
	}
}
