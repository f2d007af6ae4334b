// ABOUTME: Tests for configuration loading, env expansion and validation
// ABOUTME: Covers defaults, duration parsing and required-field errors

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeConfig writes YAML content to a temp file and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

const minimalConfig = `
server:
  http_addr: "localhost:8080"
database:
  path: "/tmp/gateway.db"
auth:
  jwt_secret: "secret"
`

func TestLoad_Minimal(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("loading config: %v", err)
	}

	if cfg.Server.HTTPAddr != "localhost:8080" {
		t.Errorf("unexpected http_addr: %q", cfg.Server.HTTPAddr)
	}
	if cfg.MCP.Mode != MCPModeStateful {
		t.Errorf("expected default mode %q, got %q", MCPModeStateful, cfg.MCP.Mode)
	}
	if cfg.MCP.SessionIdleTimeout != DefaultSessionIdleTimeout {
		t.Errorf("expected default idle timeout %v, got %v", DefaultSessionIdleTimeout, cfg.MCP.SessionIdleTimeout)
	}
}

func TestLoad_FullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
server:
  http_addr: "0.0.0.0:9090"
database:
  path: "/data/gateway.db"
auth:
  jwt_secret: "secret"
mcp:
  mode: "stateless"
  session_idle_timeout: "5m"
geocoding:
  google_maps_api_key: "maps-key"
logging:
  level: "debug"
  format: "json"
`))
	if err != nil {
		t.Fatalf("loading config: %v", err)
	}

	if cfg.MCP.Mode != MCPModeStateless {
		t.Errorf("expected stateless mode, got %q", cfg.MCP.Mode)
	}
	if cfg.MCP.SessionIdleTimeout != 5*time.Minute {
		t.Errorf("expected 5m idle timeout, got %v", cfg.MCP.SessionIdleTimeout)
	}
	if cfg.Geocoding.GoogleMapsAPIKey != "maps-key" {
		t.Errorf("unexpected maps key: %q", cfg.Geocoding.GoogleMapsAPIKey)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("unexpected logging config: %+v", cfg.Logging)
	}
}

func TestLoad_ZeroIdleTimeoutDisablesEviction(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig+`
mcp:
  session_idle_timeout: "0s"
`))
	if err != nil {
		t.Fatalf("loading config: %v", err)
	}
	if cfg.MCP.SessionIdleTimeout != 0 {
		t.Errorf("expected 0 idle timeout, got %v", cfg.MCP.SessionIdleTimeout)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_JWT_SECRET", "from-env")

	cfg, err := Load(writeConfig(t, `
server:
  http_addr: "localhost:8080"
database:
  path: "/tmp/gateway.db"
auth:
  jwt_secret: "${TEST_JWT_SECRET}"
`))
	if err != nil {
		t.Fatalf("loading config: %v", err)
	}
	if cfg.Auth.JWTSecret != "from-env" {
		t.Errorf("expected env-expanded secret, got %q", cfg.Auth.JWTSecret)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+`
mcp:
  session_idle_timeout: "soon"
`))
	if err == nil {
		t.Fatal("expected error for unparseable duration")
	}
}

func TestValidate_RequiredFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"missing http_addr", func(c *Config) { c.Server.HTTPAddr = "" }},
		{"missing database path", func(c *Config) { c.Database.Path = "" }},
		{"missing jwt secret", func(c *Config) { c.Auth.JWTSecret = "" }},
		{"bad mcp mode", func(c *Config) { c.MCP.Mode = "clustered" }},
		{"negative idle timeout", func(c *Config) { c.MCP.SessionIdleTimeout = -time.Minute }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Server:   ServerConfig{HTTPAddr: "localhost:8080"},
				Database: DatabaseConfig{Path: "/tmp/gateway.db"},
				Auth:     AuthConfig{JWTSecret: "secret"},
				MCP:      MCPConfig{Mode: MCPModeStateful},
			}
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
