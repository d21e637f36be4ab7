// ABOUTME: Entry point for fleet-agent, the per-device job executor
// ABOUTME: Usage: fleet-agent [-config path] [-server host:port]

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/2389/fleetd/internal/agent"
	"github.com/2389/fleetd/internal/logging"
	"github.com/2389/fleetd/internal/module/builtin"
	pb "github.com/2389/fleetd/proto/fleet"
)

var version = "dev"

func main() {
	configPath := flag.String("config", agent.DefaultConfigPath(), "path to agent.toml")
	server := flag.String("server", "", "override server_addr from the config")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	if err := run(*configPath, *server); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, server string) error {
	cfg, err := agent.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if server != "" {
		cfg.ServerAddr = server
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("starting fleet-agent",
		"version", version,
		"config", configPath,
		"server", cfg.ServerAddr,
		"modules_dir", cfg.ModulesDir,
	)

	conn, err := agent.Dial(cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt := agent.New(agent.Options{
		Config:    cfg,
		Client:    pb.NewFleetControlClient(conn),
		Factories: builtin.Factories(),
		Logger:    logger,
	})
	return rt.Run(ctx)
}
