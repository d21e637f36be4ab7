// ABOUTME: Tests for agent configuration parsing
// ABOUTME: Verifies defaults, duration parsing, env expansion and validation

package agent

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := ParseConfig(`server_addr = "localhost:50051"`)
	require.NoError(t, err)

	assert.Equal(t, DefaultRegisterRetryInterval, cfg.RegisterRetryInterval)
	assert.Equal(t, DefaultHeartbeatInterval, cfg.HeartbeatInterval)
	assert.Equal(t, DefaultJobTimeout, cfg.JobTimeout)
	assert.False(t, cfg.Reconnect)
	assert.Zero(t, cfg.MaxConcurrentJobs)
	assert.NotEmpty(t, cfg.ModulesDir)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestParseConfig_Overrides(t *testing.T) {
	cfg, err := ParseConfig(`
server_addr = "fleet:50051"
tls = true
device_secret = "s3cret"
modules_dir = "/opt/modules"
register_retry_interval = "5s"
heartbeat_interval = "10s"
job_timeout = "2m"
reconnect = true
max_concurrent_jobs = 2

[logging]
level = "debug"
format = "json"
`)
	require.NoError(t, err)

	assert.True(t, cfg.TLS)
	assert.Equal(t, "s3cret", cfg.DeviceSecret)
	assert.Equal(t, "/opt/modules", cfg.ModulesDir)
	assert.Equal(t, 5*time.Second, cfg.RegisterRetryInterval)
	assert.Equal(t, 10*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 2*time.Minute, cfg.JobTimeout)
	assert.True(t, cfg.Reconnect)
	assert.Equal(t, 2, cfg.MaxConcurrentJobs)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestParseConfig_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"missing server", `heartbeat_interval = "5s"`, "server_addr is required"},
		{"bad duration", "server_addr = \"x:1\"\njob_timeout = \"soon\"", "parsing job_timeout"},
		{"zero heartbeat", "server_addr = \"x:1\"\nheartbeat_interval = \"0s\"", "heartbeat_interval must be positive"},
		{"negative concurrency", "server_addr = \"x:1\"\nmax_concurrent_jobs = -1", "max_concurrent_jobs"},
		{"invalid toml", "server_addr = ", "parsing config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig(tt.input)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadConfig_ExpandsEnv(t *testing.T) {
	t.Setenv("TEST_FLEET_SECRET", "from-env")
	path := filepath.Join(t.TempDir(), "agent.toml")
	require.NoError(t, os.WriteFile(path, []byte("server_addr = \"x:1\"\ndevice_secret = \"${TEST_FLEET_SECRET}\"\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.DeviceSecret)
}

func TestDefaultConfigPath_Env(t *testing.T) {
	t.Setenv("FLEET_AGENT_CONFIG", "/etc/fleetd/agent.toml")
	assert.Equal(t, "/etc/fleetd/agent.toml", DefaultConfigPath())
}
