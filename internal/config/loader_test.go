package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTemp(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Connection.Host != "localhost" || cfg.Connection.Port != 9502 {
		t.Fatalf("unexpected connection defaults: %+v", cfg.Connection)
	}
	if cfg.Reconnect.InitialDelay.Std() != time.Second || cfg.Reconnect.MaxDelay.Std() != 30*time.Second {
		t.Fatalf("unexpected reconnect defaults: %+v", cfg.Reconnect)
	}
	if cfg.Reconnect.MaxAttempts != 0 {
		t.Fatal("default must retry forever")
	}
	if cfg.RefreshInterval.Std() != time.Second {
		t.Fatalf("unexpected refresh interval: %v", cfg.RefreshInterval.Std())
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeTemp(t, "config.yaml", `
connection:
  host: localhost
  port: 9999
  connect_timeout: 2s
reconnect:
  initial_delay: 500ms
  max_attempts: 5
http:
  addr: ":9090"
refresh_interval: 3s
log_level: debug
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Connection.Port != 9999 {
		t.Fatalf("port = %d", cfg.Connection.Port)
	}
	if cfg.Connection.ConnectTimeout.Std() != 2*time.Second {
		t.Fatalf("connect timeout = %v", cfg.Connection.ConnectTimeout.Std())
	}
	if cfg.Reconnect.InitialDelay.Std() != 500*time.Millisecond || cfg.Reconnect.MaxAttempts != 5 {
		t.Fatalf("reconnect = %+v", cfg.Reconnect)
	}
	if cfg.HTTP.Addr != ":9090" || cfg.LogLevel != "debug" {
		t.Fatalf("http/log = %+v %q", cfg.HTTP, cfg.LogLevel)
	}
	// Unspecified fields keep their defaults.
	if cfg.Connection.RequestTimeout.Std() != 30*time.Second {
		t.Fatalf("request timeout default lost: %v", cfg.Connection.RequestTimeout.Std())
	}
	if cfg.RefreshInterval.Std() != 3*time.Second {
		t.Fatalf("refresh interval = %v", cfg.RefreshInterval.Std())
	}
}

func TestLoadTOML(t *testing.T) {
	path := writeTemp(t, "config.toml", `
refresh_interval = "2s"

[connection]
port = 9999

[http]
cors_enabled = true
cors_origins = ["http://localhost:5173"]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Connection.Port != 9999 || cfg.RefreshInterval.Std() != 2*time.Second {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if !cfg.HTTP.CORSEnabled || len(cfg.HTTP.CORSOrigins) != 1 {
		t.Fatalf("cors not loaded: %+v", cfg.HTTP)
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeTemp(t, "config.json", `{
  "connection": {"port": 9999, "connect_timeout": "1s"},
  "log_level": "warn"
}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Connection.Port != 9999 || cfg.Connection.ConnectTimeout.Std() != time.Second {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("log level = %q", cfg.LogLevel)
	}
}

func TestLoadRejectsUnknownExtension(t *testing.T) {
	path := writeTemp(t, "config.ini", "port=9999")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unsupported extension")
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeTemp(t, "config.yaml", "refresh_interval: fast\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unparseable duration")
	}
}

func TestLoadEmptyPath(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}
