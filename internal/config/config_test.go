package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kfcemployee/htdocsd/server/engine"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "htdocsd.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

// TestLoadDefaults checks values of the raw socket server
func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("host: got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != DefaultPort {
		t.Errorf("port: got %d", cfg.Server.Port)
	}
	if cfg.Server.IdleTimeout != 100*time.Millisecond {
		t.Errorf("idle timeout: got %s", cfg.Server.IdleTimeout)
	}
	if cfg.Server.Backlog < engine.MinBacklog {
		t.Errorf("backlog too small: %d", cfg.Server.Backlog)
	}
	if cfg.Static.ContentType != "fixed" || cfg.Static.DecodePath || cfg.Static.AllowTraversal {
		t.Errorf("static defaults: %+v", cfg.Static)
	}

	root, err := cfg.DocumentRoot()
	if err != nil {
		t.Fatal(err)
	}
	wd, _ := os.Getwd()
	if root != filepath.Join(wd, "htdocs") {
		t.Errorf("document root: got %s", root)
	}
}

func TestLoadFile(t *testing.T) {
	p := writeFile(t, `
server:
  host: 127.0.0.1
  port: 9090
  idle_timeout: 2s
static:
  root: /srv/www
  decode_path: true
  content_type: extension
log:
  level: debug
  format: json
`)

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.ServerAddress() != "127.0.0.1:9090" {
		t.Errorf("address: got %s", cfg.ServerAddress())
	}
	if cfg.Server.IdleTimeout != 2*time.Second {
		t.Errorf("idle timeout: got %s", cfg.Server.IdleTimeout)
	}
	// untouched keys keep defaults
	if cfg.Server.Backlog != DefaultBacklog || cfg.Static.Index != "index.html" {
		t.Errorf("defaults lost: %+v", cfg)
	}
	if !cfg.Static.DecodePath || cfg.Static.ContentType != "extension" {
		t.Errorf("static: %+v", cfg.Static)
	}
	if root, _ := cfg.DocumentRoot(); root != "/srv/www" {
		t.Errorf("root: got %s", root)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("log: %+v", cfg.Log)
	}
}

func TestLoadFileErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown key", "server:\n  hots: 1.2.3.4\n", "hots"},
		{"bad duration", "server:\n  idle_timeout: soon\n", "time.Duration"},
		{"invalid value", "server:\n  port: 70000\n", "invalid port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.body))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should mention %q", err, tt.want)
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file should fail")
	}
}

func TestEnvironmentVariables(t *testing.T) {
	t.Setenv("HTDOCSD_HOST", "127.0.0.1")
	t.Setenv("HTDOCSD_PORT", "9999")
	t.Setenv("HTDOCSD_ROOT", "/tmp/site")
	t.Setenv("HTDOCSD_IDLE_TIMEOUT", "250ms")
	t.Setenv("HTDOCSD_LOG_LEVEL", "warn")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9999 {
		t.Errorf("env address not applied: %s", cfg.ServerAddress())
	}
	if cfg.Static.Root != "/tmp/site" {
		t.Errorf("env root not applied: %s", cfg.Static.Root)
	}
	if cfg.Server.IdleTimeout != 250*time.Millisecond {
		t.Errorf("env idle timeout not applied: %s", cfg.Server.IdleTimeout)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("env log level not applied: %s", cfg.Log.Level)
	}

	t.Setenv("HTDOCSD_PORT", "eighty")
	if _, err := Load(""); err == nil {
		t.Error("bad port in env should fail")
	}
}

func TestConfigValidation(t *testing.T) {
	testCases := []struct {
		name      string
		mutate    func(c *Config)
		expectErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"ephemeral port", func(c *Config) { c.Server.Port = 0 }, false},
		{"loopback only", func(c *Config) { c.Server.Host = "127.0.0.1" }, false},
		{"idle timeout disabled", func(c *Config) { c.Server.IdleTimeout = 0 }, false},
		{"negative port", func(c *Config) { c.Server.Port = -1 }, true},
		{"port too big", func(c *Config) { c.Server.Port = 65536 }, true},
		{"hostname", func(c *Config) { c.Server.Host = "localhost" }, true},
		{"ipv6", func(c *Config) { c.Server.Host = "::1" }, true},
		{"small backlog", func(c *Config) { c.Server.Backlog = engine.MinBacklog - 1 }, true},
		{"minimal backlog", func(c *Config) { c.Server.Backlog = engine.MinBacklog }, false},
		{"negative idle timeout", func(c *Config) { c.Server.IdleTimeout = -time.Second }, true},
		{"zero max line", func(c *Config) { c.Server.MaxRequestLine = 0 }, true},
		{"index with dir", func(c *Config) { c.Static.Index = "a/index.html" }, true},
		{"empty index", func(c *Config) { c.Static.Index = "" }, true},
		{"unknown content type", func(c *Config) { c.Static.ContentType = "guess" }, true},
		{"unknown log format", func(c *Config) { c.Log.Format = "xml" }, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)

			err := cfg.Validate()
			if tc.expectErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tc.expectErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestBindAddr(t *testing.T) {
	cfg := Default()
	cfg.Server.Host = "192.168.1.100"

	addr, err := cfg.BindAddr()
	if err != nil {
		t.Fatal(err)
	}
	if addr != [4]byte{192, 168, 1, 100} {
		t.Errorf("got %v", addr)
	}
}
