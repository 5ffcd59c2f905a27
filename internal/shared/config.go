package shared

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Environment variables that override values read from the config file.
const (
	EnvBaseURL      = "AGX_BASE_URL"
	EnvBridgeSocket = "AGX_BRIDGE_SOCKET"
)

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Backend   BackendConfig   `toml:"backend"`
	Transport TransportConfig `toml:"transport"`
	Session   SessionConfig   `toml:"session"`
	OAuth     OAuthConfig     `toml:"oauth"`
	Import    ImportConfig    `toml:"import"`
	Database  DatabaseConfig  `toml:"database"`
	Log       LogConfig       `toml:"log"`
}

// BackendConfig points the network transport at the admin API.
type BackendConfig struct {
	BaseURL     string `toml:"base_url"`
	TimeoutSecs int    `toml:"timeout_secs"`
}

// Timeout returns the HTTP client timeout, defaulting to 30 seconds.
func (b BackendConfig) Timeout() time.Duration {
	if b.TimeoutSecs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(b.TimeoutSecs) * time.Second
}

// TransportConfig selects between the native bridge and the network admin API.
type TransportConfig struct {
	Mode         string `toml:"mode"`
	BridgeSocket string `toml:"bridge_socket"`
}

// SessionConfig contains login rules enforced before contacting the backend.
type SessionConfig struct {
	MinPasswordLength int `toml:"min_password_length"`
}

// OAuthConfig controls the browser based account authorization flow.
type OAuthConfig struct {
	CallbackListener bool   `toml:"callback_listener"`
	CallbackAddr     string `toml:"callback_addr"`
	OpenBrowser      bool   `toml:"open_browser"`
}

// ImportConfig controls batch credential imports.
type ImportConfig struct {
	DelayMS int `toml:"delay_ms"`
}

// Delay returns the pause between consecutive import items. A negative setting disables throttling and is
// returned as a negative duration.
func (i ImportConfig) Delay() time.Duration {
	if i.DelayMS < 0 {
		return -1
	}
	return time.Duration(i.DelayMS) * time.Millisecond
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Keys missing from the file keep their default values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %w", ErrInvalidConfig, err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// Validate checks values that cannot be corrected silently.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Transport.Mode) {
	case "", "auto", "network", "bridge":
	default:
		return fmt.Errorf("%w: unknown transport mode %q", ErrInvalidConfig, c.Transport.Mode)
	}

	if c.Session.MinPasswordLength < 0 {
		return fmt.Errorf("%w: min_password_length must not be negative", ErrInvalidConfig)
	}
	return nil
}

// ApplyEnv overrides config values from environment variables using the provided lookup.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := strings.TrimSpace(getenv(EnvBaseURL)); v != "" {
		c.Backend.BaseURL = v
	}
	if v := strings.TrimSpace(getenv(EnvBridgeSocket)); v != "" {
		c.Transport.BridgeSocket = v
	}
}

// SaveConfig writes the configuration to path as TOML.
func SaveConfig(path string, c *Config) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
