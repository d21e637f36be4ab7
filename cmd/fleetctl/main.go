// ABOUTME: Entry point for fleetctl, the operator CLI for fleet-server
// ABOUTME: Wraps the operator HTTP API: devices, jobs and sessions

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/2389/fleetd/internal/client"
)

const defaultServer = "http://localhost:8080"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// globals holds the persistent flags shared by every subcommand.
type globals struct {
	server  string
	token   string
	jsonOut bool
}

func (g *globals) client() *client.Client {
	var opts []client.Option
	if g.token != "" {
		opts = append(opts, client.WithToken(g.token))
	}
	return client.New(g.server, opts...)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newRootCommand() *cobra.Command {
	g := &globals{}

	cmd := &cobra.Command{
		Use:           "fleetctl",
		Short:         "Operate a fleet-server: approve devices, dispatch jobs, inspect sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&g.server, "server", envOr("FLEET_SERVER", defaultServer), "fleet-server HTTP base URL (env FLEET_SERVER)")
	cmd.PersistentFlags().StringVar(&g.token, "token", os.Getenv("FLEET_TOKEN"), "operator token (env FLEET_TOKEN)")
	cmd.PersistentFlags().BoolVar(&g.jsonOut, "json", false, "print raw JSON")

	cmd.AddCommand(newDevicesCommand(g))
	cmd.AddCommand(newJobsCommand(g))
	cmd.AddCommand(newSessionsCommand(g))
	return cmd
}

func newSessionsCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List live device sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sessions, err := g.client().ListSessions(cmd.Context())
			if err != nil {
				return err
			}
			if g.jsonOut {
				return printJSON(cmd.OutOrStdout(), sessions)
			}
			tw := newTable(cmd.OutOrStdout(), "DEVICE", "SESSION")
			for _, s := range sessions {
				tw.row(s.DeviceID, s.SessionID)
			}
			return tw.flush()
		},
	}
}
