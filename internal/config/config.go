package config

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kfcemployee/htdocsd/server/engine"
	"github.com/kfcemployee/htdocsd/server/static"
)

const (
	DefaultPort        = 8080
	DefaultDocDir      = "htdocs" // document root under working directory
	DefaultIdleTimeout = 100 * time.Millisecond
	DefaultBacklog     = engine.DefaultBacklog
	DefaultMaxLine     = engine.DefaultMaxLine
)

// Config holds all settings, fixed once the server starts
type Config struct {
	Server ServerConfig `yaml:"server"`
	Static StaticConfig `yaml:"static"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig is about the listening socket and connections
type ServerConfig struct {
	Host    string `yaml:"host"` // IPv4 to bind, 0.0.0.0 or 127.0.0.1 for loopback only
	Port    int    `yaml:"port"` // 0 picks an ephemeral port
	Backlog int    `yaml:"backlog"`

	IdleTimeout    time.Duration `yaml:"idle_timeout"`     // connection closed when no bytes move for this long
	MaxRequestLine int           `yaml:"max_request_line"` // longer request lines close the connection
}

// StaticConfig is about mapping targets to files and framing responses
type StaticConfig struct {
	Root  string `yaml:"root"`  // empty means <cwd>/htdocs
	Index string `yaml:"index"` // directory index file

	DecodePath     bool   `yaml:"decode_path"`      // percent-decode targets and drop the query
	AllowTraversal bool   `yaml:"allow_traversal"`  // follow ".." segments, unsafe
	ContentType    string `yaml:"content_type"`     // fixed, extension or sniff
	LegacyNotFound bool   `yaml:"legacy_not_found"` // old 404 bytes, Content-Length one short
}

type LogConfig struct {
	Level  string `yaml:"level"`  // zerolog level name
	Format string `yaml:"format"` // console or json
}

// Default returns settings of the raw socket server
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           DefaultPort,
			Backlog:        DefaultBacklog,
			IdleTimeout:    DefaultIdleTimeout,
			MaxRequestLine: DefaultMaxLine,
		},
		Static: StaticConfig{
			Index:       static.DefaultIndex,
			ContentType: string(static.TypeFixed),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads defaults, then the yaml file at path (if path is not empty),
// then environment overrides, and validates the result
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Server.Host = getEnvOrDefault("HTDOCSD_HOST", c.Server.Host)
	c.Static.Root = getEnvOrDefault("HTDOCSD_ROOT", c.Static.Root)
	c.Log.Level = getEnvOrDefault("HTDOCSD_LOG_LEVEL", c.Log.Level)

	if v := os.Getenv("HTDOCSD_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("HTDOCSD_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("HTDOCSD_IDLE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("HTDOCSD_IDLE_TIMEOUT: %w", err)
		}
		c.Server.IdleTimeout = d
	}
	return nil
}

// Validate checks values that would otherwise fail deep inside the engine
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if _, err := c.BindAddr(); err != nil {
		return err
	}
	if c.Server.Backlog < engine.MinBacklog {
		return fmt.Errorf("backlog must be at least %d, got %d", engine.MinBacklog, c.Server.Backlog)
	}
	if c.Server.IdleTimeout < 0 {
		return fmt.Errorf("negative idle timeout: %s", c.Server.IdleTimeout)
	}
	if c.Server.MaxRequestLine <= 0 {
		return fmt.Errorf("invalid max request line: %d", c.Server.MaxRequestLine)
	}
	if c.Static.Index == "" || filepath.Base(c.Static.Index) != c.Static.Index {
		return fmt.Errorf("index must be a plain file name, got %q", c.Static.Index)
	}
	if _, err := static.ParseTypeMode(c.Static.ContentType); err != nil {
		return err
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

// ServerAddress returns host:port to listen on
func (c *Config) ServerAddress() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// BindAddr is the host as raw IPv4 bytes for the socket layer
func (c *Config) BindAddr() ([4]byte, error) {
	var addr [4]byte
	ip := net.ParseIP(c.Server.Host).To4()
	if ip == nil {
		return addr, fmt.Errorf("host must be an IPv4 address, got %q", c.Server.Host)
	}
	copy(addr[:], ip)
	return addr, nil
}

// DocumentRoot is the absolute directory files are served from
func (c *Config) DocumentRoot() (string, error) {
	if c.Static.Root != "" {
		root, err := filepath.Abs(c.Static.Root)
		if err != nil {
			return "", fmt.Errorf("document root: %w", err)
		}
		return root, nil
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	return filepath.Join(wd, DefaultDocDir), nil
}

// getEnvOrDefault returns env value, or def when it is unset or empty
func getEnvOrDefault(key, def string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return def
}
