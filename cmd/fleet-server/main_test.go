// ABOUTME: Tests for fleet-server argument parsing and generated config
// ABOUTME: The generated config must load through the real config loader

package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/fleetd/internal/config"
)

func TestParseTokenArgs(t *testing.T) {
	got, err := parseTokenArgs([]string{"--name", "alice"})
	require.NoError(t, err)
	assert.Equal(t, "alice", got.name)
	assert.Equal(t, defaultTokenTTL, got.ttl)

	got, err = parseTokenArgs([]string{"--name=bob", "--ttl=2h"})
	require.NoError(t, err)
	assert.Equal(t, "bob", got.name)
	assert.Equal(t, 2*time.Hour, got.ttl)

	errCases := map[string][]string{
		"missing name":  {},
		"blank name":    {"--name", "  "},
		"dangling flag": {"--name"},
		"unknown flag":  {"--name", "a", "--role", "x"},
		"positional":    {"alice"},
		"bad ttl":       {"--name", "a", "--ttl", "soon"},
		"negative ttl":  {"--name", "a", "--ttl", "-1h"},
	}
	for name, args := range errCases {
		_, err := parseTokenArgs(args)
		assert.Error(t, err, name)
	}
}

func TestRenderConfig_Loads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.yaml")
	secret := "0123456789abcdef0123456789abcdef0123"
	require.NoError(t, os.WriteFile(path, []byte(renderConfig(filepath.Join(dir, "fleet.db"), secret)), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, secret, cfg.Auth.JWTSecret)
	assert.Equal(t, 720*time.Hour, cfg.Auth.DeviceTokenTTL)
	assert.Equal(t, 30*time.Second, cfg.Agents.HeartbeatInterval)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("FLEET_CONFIG", "/etc/fleetd/server.yaml")
	assert.Equal(t, "/etc/fleetd/server.yaml", getConfigPath())

	t.Setenv("FLEET_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	assert.Equal(t, filepath.Join("/tmp/xdg", "fleetd", "server.yaml"), getConfigPath())
}
