package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultPort       = 7777
	MinPort           = 1024
	MaxPort           = 65535
	DefaultConfigPath = "~/.msgserver/config.toml"
)

var (
	ErrInvalidAddress = errors.New("listen address is not a valid IP")
	ErrInvalidPort    = errors.New("listen port out of range")
	ErrInvalidDriver  = errors.New("database driver must be sqlite3 or sqlite")

	// ErrDefaultNotWritten comes back together with a usable config.
	ErrDefaultNotWritten = errors.New("default config file not written")
)

type Config struct {
	Server   ServerSection   `toml:"server"`
	Database DatabaseSection `toml:"database"`
	Log      LogSection      `toml:"log"`
}

type ServerSection struct {
	ListenAddress       string `toml:"listen_address"`
	ListenPort          int    `toml:"listen_port"`
	AcceptTimeoutMs     int    `toml:"accept_timeout_ms"`
	WriteTimeoutSeconds int    `toml:"write_timeout_seconds"`
	ControlSocket       string `toml:"control_socket"`
	MetricsAddress      string `toml:"metrics_address"`
}

type DatabaseSection struct {
	Driver string `toml:"driver"`
	Path   string `toml:"path"`
}

type LogSection struct {
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
}

func Default() *Config {
	return &Config{
		Server: ServerSection{
			ListenAddress:       "",
			ListenPort:          DefaultPort,
			AcceptTimeoutMs:     500,
			WriteTimeoutSeconds: 30,
			ControlSocket:       "/tmp/msgserver.sock",
		},
		Database: DatabaseSection{
			Driver: "sqlite3",
			Path:   "server_base.db3",
		},
		Log: LogSection{
			Level: "info",
		},
	}
}

// Load reads the TOML file at path, writing one with defaults when it does
// not exist, then applies environment overrides. Keys absent from the file
// keep their defaults.
//
// Failing to write the defaults file is not fatal: Load then returns the
// config along with an error wrapping ErrDefaultNotWritten.
func Load(path string) (*Config, error) {
	cfg := Default()

	path, err := expandHome(path)
	if err != nil {
		return nil, err
	}

	var warning error
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeDefault(path, cfg); err != nil {
			warning = fmt.Errorf("%w: %v", ErrDefaultNotWritten, err)
		}
	} else if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnv()
	return cfg, warning
}

func (c *Config) applyEnv() {
	if addr, ok := os.LookupEnv("MSG_LISTEN_ADDRESS"); ok {
		c.Server.ListenAddress = addr
	}

	if portStr := os.Getenv("MSG_PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			c.Server.ListenPort = port
		}
	}

	if dbPath := os.Getenv("MSG_DB_PATH"); dbPath != "" {
		c.Database.Path = dbPath
	}

	if driver := os.Getenv("MSG_DB_DRIVER"); driver != "" {
		c.Database.Driver = driver
	}

	if level := os.Getenv("MSG_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}

	if addr := os.Getenv("MSG_METRICS_ADDRESS"); addr != "" {
		c.Server.MetricsAddress = addr
	}
}

// Validate checks the listen endpoint and database driver. An empty address
// means every interface.
func (c *Config) Validate() error {
	if err := ValidateAddress(c.Server.ListenAddress); err != nil {
		return err
	}
	if err := ValidatePort(c.Server.ListenPort); err != nil {
		return err
	}
	switch c.Database.Driver {
	case "sqlite3", "sqlite":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidDriver, c.Database.Driver)
	}
	return nil
}

func ValidateAddress(addr string) error {
	if addr == "" {
		return nil
	}
	if net.ParseIP(addr) == nil {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	return nil
}

func ValidatePort(port int) error {
	if port < MinPort || port > MaxPort {
		return fmt.Errorf("%w: %d (want %d-%d)", ErrInvalidPort, port, MinPort, MaxPort)
	}
	return nil
}

// ListenAddr is the host:port the server binds.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Server.ListenAddress, strconv.Itoa(c.Server.ListenPort))
}

func (c *Config) AcceptTimeout() time.Duration {
	return time.Duration(c.Server.AcceptTimeoutMs) * time.Millisecond
}

func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.Server.WriteTimeoutSeconds) * time.Second
}

// DatabasePath returns the database path with ~ expanded.
func (c *Config) DatabasePath() (string, error) {
	return expandHome(c.Database.Path)
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, path[2:]), nil
}

func writeDefault(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	header := `# msgserver configuration
# Generated with default values. Restart the server after editing.

`
	if _, err := f.WriteString(header); err != nil {
		return err
	}

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
