// ABOUTME: Configuration loading and parsing for location-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// MCP session manager modes.
const (
	MCPModeStateful  = "stateful"
	MCPModeStateless = "stateless"
)

// DefaultSessionIdleTimeout is applied when no session_idle_timeout is set.
const DefaultSessionIdleTimeout = 30 * time.Minute

// Config represents the complete location-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	MCP       MCPConfig       `yaml:"mcp"`
	Geocoding GeocodingConfig `yaml:"geocoding"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration.
// JWTSecret verifies the identity-provider tokens accepted by the
// key-management endpoints.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// MCPConfig holds MCP adapter configuration.
// Mode selects the session strategy: "stateful" keeps one live session per
// identity (bounded by SessionIdleTimeout), "stateless" builds a fresh
// server per request. A deployment runs exactly one mode.
type MCPConfig struct {
	Mode string `yaml:"mode"`

	// SessionIdleTimeout bounds how long an idle stateful session is kept.
	// Zero disables eviction entirely (NoEviction), matching the original
	// serverless deployment where the hosting process was short-lived.
	SessionIdleTimeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	SessionIdleTimeoutRaw string `yaml:"session_idle_timeout"`
}

// GeocodingConfig holds reverse-geocoding configuration
type GeocodingConfig struct {
	GoogleMapsAPIKey string `yaml:"google_maps_api_key"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in optional fields that were left unset.
func applyDefaults(cfg *Config) {
	if cfg.MCP.Mode == "" {
		cfg.MCP.Mode = MCPModeStateful
	}
	if cfg.MCP.SessionIdleTimeoutRaw == "" {
		cfg.MCP.SessionIdleTimeout = DefaultSessionIdleTimeout
	}
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

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}

	if c.MCP.Mode != MCPModeStateful && c.MCP.Mode != MCPModeStateless {
		return fmt.Errorf("mcp.mode must be %q or %q, got %q", MCPModeStateful, MCPModeStateless, c.MCP.Mode)
	}

	if c.MCP.SessionIdleTimeout < 0 {
		return fmt.Errorf("mcp.session_idle_timeout must not be negative")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.MCP.SessionIdleTimeoutRaw != "" {
		cfg.MCP.SessionIdleTimeout, err = time.ParseDuration(cfg.MCP.SessionIdleTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing session_idle_timeout %q: %w", cfg.MCP.SessionIdleTimeoutRaw, err)
		}
	}

	return nil
}
