// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, defaults and duration parsing

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  grpc_addr: "0.0.0.0:50051"
  http_addr: "0.0.0.0:8080"

database:
  path: "./test.db"

auth:
  jwt_secret: "0123456789abcdef0123456789abcdef"
  device_token_ttl: "720h"

agents:
  heartbeat_interval: "15s"

jobs:
  max_output_bytes: 1024

events:
  nats_url: "nats://localhost:4222"

logging:
  level: "debug"
  format: "json"

metrics:
  enabled: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:50051", cfg.Server.GRPCAddr)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.HTTPAddr)
	assert.Equal(t, "./test.db", cfg.Database.Path)
	assert.Equal(t, 720*time.Hour, cfg.Auth.DeviceTokenTTL)
	assert.Equal(t, 15*time.Second, cfg.Agents.HeartbeatInterval)
	assert.Equal(t, 1024, cfg.Jobs.MaxOutputBytes)
	assert.Equal(t, "nats://localhost:4222", cfg.Events.NATSURL)
	assert.Equal(t, "fleet", cfg.Events.SubjectPrefix)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
server:
  grpc_addr: ":50051"
  http_addr: ":8080"
database:
  path: "fleet.db"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultHeartbeatInterval, cfg.Agents.HeartbeatInterval)
	assert.Equal(t, DefaultMaxOutputBytes, cfg.Jobs.MaxOutputBytes)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Zero(t, cfg.Auth.DeviceTokenTTL)
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("FLEET_TEST_SECRET", "env-secret-that-is-32-bytes-long")
	t.Setenv("FLEET_TEST_GRPC", "127.0.0.1:6000")

	path := writeConfig(t, `
server:
  grpc_addr: "${FLEET_TEST_GRPC}"
  http_addr: ":8080"
database:
  path: "fleet.db"
auth:
  jwt_secret: "${FLEET_TEST_SECRET}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:6000", cfg.Server.GRPCAddr)
	assert.Equal(t, "env-secret-that-is-32-bytes-long", cfg.Auth.JWTSecret)
}

func TestLoad_EnvVarExpansion_UnsetVar(t *testing.T) {
	path := writeConfig(t, `
server:
  grpc_addr: ":50051"
  http_addr: ":8080"
database:
  path: "fleet.db"
auth:
  jwt_secret: "${FLEET_TEST_DEFINITELY_UNSET}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.Auth.JWTSecret)
}

func TestLoad_DBPathOverride(t *testing.T) {
	t.Setenv("FLEET_DB_PATH", "/tmp/override.db")
	path := writeConfig(t, `
server:
  grpc_addr: ":50051"
  http_addr: ":8080"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/override.db", cfg.Database.Path)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"invalid yaml", "server: [", "parsing config file"},
		{"invalid duration", "server: {grpc_addr: a, http_addr: b}\ndatabase: {path: x}\nagents: {heartbeat_interval: soon}", "heartbeat_interval"},
		{"missing grpc addr", "server: {http_addr: b}\ndatabase: {path: x}", "server.grpc_addr"},
		{"missing database", "server: {grpc_addr: a, http_addr: b}", "database.path"},
		{"short secret", "server: {grpc_addr: a, http_addr: b}\ndatabase: {path: x}\nauth: {jwt_secret: short}", "jwt_secret"},
		{"tailscale without hostname", "tailscale: {enabled: true}\ndatabase: {path: x}", "tailscale.hostname"},
		{"bad log format", "server: {grpc_addr: a, http_addr: b}\ndatabase: {path: x}\nlogging: {format: xml}", "logging.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
