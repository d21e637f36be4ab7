// ABOUTME: Configuration loading for fleet-agent
// ABOUTME: Loads agent.toml with environment variable expansion and duration defaults

package agent

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Defaults applied by LoadConfig when a value is not configured.
const (
	DefaultRegisterRetryInterval = 30 * time.Second
	DefaultHeartbeatInterval     = 30 * time.Second
	DefaultJobTimeout            = 30 * time.Minute
)

// Config is the fleet-agent configuration.
type Config struct {
	// ServerAddr is the fleet-server gRPC address, host:port.
	ServerAddr string `toml:"server_addr"`
	// TLS enables transport security; plaintext is used otherwise.
	TLS bool `toml:"tls"`
	// DeviceSecret authenticates the session when the server does not issue tokens.
	DeviceSecret string `toml:"device_secret"`
	ModulesDir   string `toml:"modules_dir"`

	RegisterRetryInterval    time.Duration `toml:"-"`
	RegisterRetryIntervalRaw string        `toml:"register_retry_interval"`
	HeartbeatInterval        time.Duration `toml:"-"`
	HeartbeatIntervalRaw     string        `toml:"heartbeat_interval"`
	JobTimeout               time.Duration `toml:"-"`
	JobTimeoutRaw            string        `toml:"job_timeout"`

	// Reconnect returns to registration after the session ends instead of exiting.
	Reconnect bool `toml:"reconnect"`
	// MaxConcurrentJobs bounds parallel jobs; 0 is unbounded.
	MaxConcurrentJobs int `toml:"max_concurrent_jobs"`

	Logging LoggingConfig `toml:"logging"`
}

// LoggingConfig holds agent logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DefaultConfigPath returns the agent config path: $FLEET_AGENT_CONFIG or
// ~/.config/fleetd/agent.toml.
func DefaultConfigPath() string {
	if p := os.Getenv("FLEET_AGENT_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "agent.toml"
	}
	return filepath.Join(home, ".config", "fleetd", "agent.toml")
}

// defaultModulesDir returns ~/.local/share/fleetd/modules.
func defaultModulesDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "modules"
	}
	return filepath.Join(home, ".local", "share", "fleetd", "modules")
}

// LoadConfig reads the config at path, expanding ${VAR} references.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return ParseConfig(expandEnvVars(string(data)))
}

// ParseConfig decodes TOML, applies defaults and validates.
func ParseConfig(data string) (*Config, error) {
	var cfg Config
	if _, err := toml.Decode(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}

func parseDuration(field, raw string, def time.Duration) (time.Duration, error) {
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", field, err)
	}
	return d, nil
}

func (c *Config) applyDefaults() error {
	var err error
	if c.RegisterRetryInterval, err = parseDuration("register_retry_interval", c.RegisterRetryIntervalRaw, DefaultRegisterRetryInterval); err != nil {
		return err
	}
	if c.HeartbeatInterval, err = parseDuration("heartbeat_interval", c.HeartbeatIntervalRaw, DefaultHeartbeatInterval); err != nil {
		return err
	}
	if c.JobTimeout, err = parseDuration("job_timeout", c.JobTimeoutRaw, DefaultJobTimeout); err != nil {
		return err
	}
	if c.ModulesDir == "" {
		c.ModulesDir = defaultModulesDir()
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	return nil
}

// Validate checks that required config fields are present and valid.
func (c *Config) Validate() error {
	if c.ServerAddr == "" {
		return errors.New("server_addr is required")
	}
	if c.RegisterRetryInterval <= 0 {
		return errors.New("register_retry_interval must be positive")
	}
	if c.HeartbeatInterval <= 0 {
		return errors.New("heartbeat_interval must be positive")
	}
	if c.JobTimeout <= 0 {
		return errors.New("job_timeout must be positive")
	}
	if c.MaxConcurrentJobs < 0 {
		return errors.New("max_concurrent_jobs must not be negative")
	}
	return nil
}
