// ABOUTME: Entry point for fleet-server, the device fleet control server
// ABOUTME: Subcommands: serve, init, token, health

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/fleetd/internal/auth"
	"github.com/2389/fleetd/internal/config"
	"github.com/2389/fleetd/internal/gateway"
	"github.com/2389/fleetd/internal/logging"
)

// Version is set at build time.
var version = "dev"

const banner = `
   __ _            _
  / _| | ___  ___| |_      ___  ___ _ ____   _____ _ __
 | |_| |/ _ \/ _ \ __|____/ __|/ _ \ '__\ \ / / _ \ '__|
 |  _| |  __/  __/ ||_____\__ \  __/ |   \ V /  __/ |
 |_| |_|\___|\___|\__|    |___/\___|_|    \_/ \___|_|
`

const defaultTokenTTL = 30 * 24 * time.Hour

// getConfigPath returns the path to the server config file.
// Priority: FLEET_CONFIG env var > XDG_CONFIG_HOME/fleetd/server.yaml > ~/.config/fleetd/server.yaml
func getConfigPath() string {
	if envPath := os.Getenv("FLEET_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "server.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "fleetd", "server.yaml")
}

// getDataPath returns the fleetd data directory.
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "fleetd")
}

func usage() {
	fmt.Println("Usage: fleet-server <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                          Start the server")
	fmt.Println("  init                           Write a config file with a fresh JWT secret")
	fmt.Println("  token --name NAME [--ttl DUR]  Issue an operator token")
	fmt.Println("  health                         Check server health")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(os.Args[2:])
	case "token":
		err = runToken(os.Args[2:])
	case "health":
		err = runHealth(ctx)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("gRPC:      %s\n", cfg.Server.GRPCAddr)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}
	if cfg.Events.NATSURL != "" {
		green.Print("    ▶ ")
		fmt.Printf("NATS:      %s (%s.*)\n", cfg.Events.NATSURL, cfg.Events.SubjectPrefix)
	}
	if cfg.Auth.JWTSecret == "" {
		yellow.Println("    ! no auth.jwt_secret: device secrets only, operator API is open")
	}

	fmt.Println()

	logger.Info("starting fleet-server",
		"config", configPath,
		"grpc_addr", cfg.Server.GRPCAddr,
		"http_addr", cfg.Server.HTTPAddr,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// runInit writes a starter config with a random JWT secret. It refuses to
// overwrite an existing file unless --force is given.
func runInit(args []string) error {
	force := false
	for _, arg := range args {
		switch arg {
		case "--force", "-f":
			force = true
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	configPath := getConfigPath()
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
	}

	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return fmt.Errorf("generating JWT secret: %w", err)
	}

	dataPath := getDataPath()
	content := renderConfig(filepath.Join(dataPath, "fleet.db"), base64.StdEncoding.EncodeToString(secretBytes))

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.MkdirAll(dataPath, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(content), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Created config: %s\n", configPath)
	green.Printf("  ✓ Data directory: %s\n", dataPath)
	fmt.Println()
	color.New(color.FgYellow).Println("  Next:")
	fmt.Println("    fleet-server serve")
	fmt.Println("    fleet-server token --name you")
	return nil
}

func renderConfig(dbPath, jwtSecret string) string {
	return fmt.Sprintf(`# fleet-server configuration
# Generated by fleet-server init

server:
  grpc_addr: "localhost:50051"
  http_addr: "localhost:8080"

database:
  path: "%s"

auth:
  jwt_secret: "%s"
  device_token_ttl: "720h"

agents:
  heartbeat_interval: "30s"

jobs:
  max_output_bytes: %d

events:
  nats_url: ""

logging:
  level: "info"
  format: "text"

metrics:
  enabled: true
  path: "/metrics"
`, dbPath, jwtSecret, config.DefaultMaxOutputBytes)
}

type tokenArgs struct {
	name string
	ttl  time.Duration
}

// parseTokenArgs accepts "--name value", "--name=value" and the same for --ttl.
func parseTokenArgs(args []string) (tokenArgs, error) {
	out := tokenArgs{ttl: defaultTokenTTL}
	value := func(i *int, flag string) (string, error) {
		if *i+1 >= len(args) {
			return "", fmt.Errorf("%s requires a value", flag)
		}
		*i++
		return args[*i], nil
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		var raw string
		var err error
		switch {
		case arg == "--name" || arg == "-n":
			out.name, err = value(&i, "--name")
		case strings.HasPrefix(arg, "--name="):
			out.name = strings.TrimPrefix(arg, "--name=")
		case arg == "--ttl":
			raw, err = value(&i, "--ttl")
		case strings.HasPrefix(arg, "--ttl="):
			raw = strings.TrimPrefix(arg, "--ttl=")
		case strings.HasPrefix(arg, "-"):
			return out, fmt.Errorf("unknown flag: %s", arg)
		default:
			return out, fmt.Errorf("unexpected argument: %s", arg)
		}
		if err != nil {
			return out, err
		}
		if raw != "" {
			out.ttl, err = time.ParseDuration(raw)
			if err != nil {
				return out, fmt.Errorf("parsing --ttl: %w", err)
			}
			if out.ttl <= 0 {
				return out, errors.New("--ttl must be positive")
			}
		}
	}

	out.name = strings.TrimSpace(out.name)
	if out.name == "" {
		return out, errors.New("--name flag is required")
	}
	if len(out.name) > 100 {
		return out, errors.New("name exceeds maximum length of 100 characters")
	}
	return out, nil
}

// runToken issues an operator token for the admin API and prints it to stdout.
func runToken(args []string) error {
	parsed, err := parseTokenArgs(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is not configured; the operator API is open")
	}

	issuer, err := auth.NewJWTIssuer([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("creating JWT issuer: %w", err)
	}
	token, err := issuer.IssueOperatorToken(parsed.name, parsed.ttl)
	if err != nil {
		return fmt.Errorf("issuing token: %w", err)
	}

	expires := time.Now().Add(parsed.ttl).UTC()
	color.New(color.FgHiBlack).Fprintf(os.Stderr, "operator %q, expires %s\n", parsed.name, expires.Format("Jan 02, 2006"))
	fmt.Println(token)
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health/ready", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	color.New(color.FgGreen).Println("healthy")
	return nil
}
