// ABOUTME: Configuration loading and parsing for switchboard
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete switchboard configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Connections ConnectionsConfig `yaml:"connections"`
	Daemons     DaemonsConfig     `yaml:"daemons"`
	Routing     RoutingConfig     `yaml:"routing"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ServerConfig holds server address configuration.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds ledger database configuration.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ConnectionsConfig holds client connection limits and heartbeat timing.
type ConnectionsConfig struct {
	MaxClients        int           `yaml:"max_clients"`
	HeartbeatInterval time.Duration `yaml:"-"`
	HeartbeatTimeout  time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	HeartbeatIntervalRaw string `yaml:"heartbeat_interval"`
	HeartbeatTimeoutRaw  string `yaml:"heartbeat_timeout"`
}

// DaemonsConfig holds daemon-level timing configuration.
type DaemonsConfig struct {
	HeartbeatInterval time.Duration `yaml:"-"`

	HeartbeatIntervalRaw string `yaml:"heartbeat_interval"`
}

// RoutingConfig holds the capability-preference overrides.
// Absent, the router's built-in table applies.
type RoutingConfig struct {
	Preferences map[string][]string `yaml:"preferences"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration with sensible local defaults.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{HTTPAddr: "localhost:8192"},
		Database: DatabaseConfig{Path: "data/switchboard.db"},
		Connections: ConnectionsConfig{
			MaxClients:        100,
			HeartbeatInterval: 30 * time.Second,
			HeartbeatTimeout:  90 * time.Second,
		},
		Daemons: DaemonsConfig{
			HeartbeatInterval: 30 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment
// variable values. An unset variable is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Connections.MaxClients <= 0 {
		return fmt.Errorf("connections.max_clients must be positive")
	}
	if c.Connections.HeartbeatInterval <= 0 {
		return fmt.Errorf("connections.heartbeat_interval must be positive")
	}
	if c.Connections.HeartbeatTimeout <= c.Connections.HeartbeatInterval {
		return fmt.Errorf("connections.heartbeat_timeout must exceed heartbeat_interval")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Connections.HeartbeatIntervalRaw != "" {
		cfg.Connections.HeartbeatInterval, err = time.ParseDuration(cfg.Connections.HeartbeatIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing connections.heartbeat_interval %q: %w", cfg.Connections.HeartbeatIntervalRaw, err)
		}
	}

	if cfg.Connections.HeartbeatTimeoutRaw != "" {
		cfg.Connections.HeartbeatTimeout, err = time.ParseDuration(cfg.Connections.HeartbeatTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing connections.heartbeat_timeout %q: %w", cfg.Connections.HeartbeatTimeoutRaw, err)
		}
	}

	if cfg.Daemons.HeartbeatIntervalRaw != "" {
		cfg.Daemons.HeartbeatInterval, err = time.ParseDuration(cfg.Daemons.HeartbeatIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing daemons.heartbeat_interval %q: %w", cfg.Daemons.HeartbeatIntervalRaw, err)
		}
	}

	return nil
}
