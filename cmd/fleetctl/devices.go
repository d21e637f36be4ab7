// ABOUTME: fleetctl devices subcommands
// ABOUTME: list, get, approve, status, rotate-secret and jobs

package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/fleetd/internal/api"
)

func newDevicesCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "devices",
		Aliases: []string{"device", "dev"},
		Short:   "Inspect and manage enrolled devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(
		newDevicesListCommand(g),
		newDevicesGetCommand(g),
		newDevicesApproveCommand(g),
		newDevicesStatusCommand(g),
		newDevicesRotateSecretCommand(g),
		newDevicesJobsCommand(g),
	)
	return cmd
}

func newDevicesListCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := g.client().ListDevices(cmd.Context())
			if err != nil {
				return err
			}
			if g.jsonOut {
				return printJSON(cmd.OutOrStdout(), devices)
			}
			tw := newTable(cmd.OutOrStdout(), "ID", "HOSTNAME", "MAC", "PLATFORM", "STATUS", "ONLINE", "LAST SEEN")
			for _, d := range devices {
				tw.row(d.ID, d.Hostname, d.MACAddress, d.Platform, deviceStatus(d), online(d.Online), ago(d.LastSeenAt))
			}
			return tw.flush()
		},
	}
}

func newDevicesGetCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "get DEVICE_ID",
		Short: "Show one device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := g.client().GetDevice(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printDevice(cmd, g, d)
		},
	}
}

func newDevicesApproveCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "approve DEVICE_ID",
		Short: "Approve a pending device so it may open a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := g.client().ApproveDevice(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if g.jsonOut {
				return printJSON(cmd.OutOrStdout(), d)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s approved %s (%s)\n", color.GreenString("✓"), d.ID, d.Hostname)
			return nil
		},
	}
}

func newDevicesStatusCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "status DEVICE_ID STATUS",
		Short: "Set a device's lifecycle status (pending, active, maintenance, blocked)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := g.client().SetDeviceStatus(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if g.jsonOut {
				return printJSON(cmd.OutOrStdout(), d)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s is now %s\n", color.GreenString("✓"), d.ID, deviceStatus(*d))
			return nil
		},
	}
}

func newDevicesRotateSecretCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "rotate-secret DEVICE_ID",
		Short: "Generate a new device secret; it is shown only once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := g.client().RotateSecret(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if g.jsonOut {
				return printJSON(cmd.OutOrStdout(), res)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "device_secret for %s:\n\n  %s\n\n", res.DeviceID, res.Secret)
			fmt.Fprintln(out, color.YellowString("Store it in the agent's config now; it cannot be retrieved again."))
			return nil
		},
	}
}

func newDevicesJobsCommand(g *globals) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "jobs DEVICE_ID",
		Short: "List a device's recent jobs, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := g.client().ListDeviceJobs(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			if g.jsonOut {
				return printJSON(cmd.OutOrStdout(), jobs)
			}
			return printJobTable(cmd.OutOrStdout(), jobs)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of jobs to show")
	return cmd
}

func printDevice(cmd *cobra.Command, g *globals, d *api.Device) error {
	if g.jsonOut {
		return printJSON(cmd.OutOrStdout(), d)
	}
	out := cmd.OutOrStdout()
	field := func(k, v string) {
		fmt.Fprintf(out, "%s %s\n", color.HiBlackString("%-11s", k+":"), v)
	}
	field("ID", d.ID)
	field("Hostname", d.Hostname)
	field("MAC", d.MACAddress)
	field("Platform", d.Platform)
	field("OS", d.OSVersion)
	field("IP", d.IPAddress)
	field("Status", deviceStatus(*d))
	field("Approved", fmt.Sprint(d.Approved))
	field("Online", online(d.Online))
	if d.SessionID != "" {
		field("Session", d.SessionID)
	}
	field("Secret", fmt.Sprint(d.HasSecret))
	field("Registered", d.RegisteredAt.Local().Format("2006-01-02 15:04:05"))
	field("Last seen", ago(d.LastSeenAt))
	return nil
}
