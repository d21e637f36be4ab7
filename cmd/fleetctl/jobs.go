// ABOUTME: fleetctl jobs subcommands
// ABOUTME: dispatch a job, optionally waiting for its result, and show a job

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/fleetd/internal/api"
)

func newJobsCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "jobs",
		Aliases: []string{"job"},
		Short:   "Dispatch and inspect jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newJobsDispatchCommand(g))
	cmd.AddCommand(newJobsGetCommand(g))
	return cmd
}

func newJobsDispatchCommand(g *globals) *cobra.Command {
	var (
		arguments  string
		scriptFile string
		wait       bool
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "dispatch DEVICE_ID COMMAND",
		Short: "Create a job and push it to the device if it is connected",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := api.DispatchRequest{DeviceID: args[0], Command: args[1], Arguments: arguments}
			if scriptFile != "" {
				script, err := readScript(cmd.InOrStdin(), scriptFile)
				if err != nil {
					return err
				}
				req.Script = &script
			}

			c := g.client()
			res, err := c.DispatchJob(cmd.Context(), req)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !wait {
				if g.jsonOut {
					return printJSON(out, res)
				}
				fmt.Fprintf(out, "%s job %s %s\n", color.GreenString("✓"), res.Job.ID, res.Delivery)
				switch res.Delivery {
				case "queued":
					fmt.Fprintln(out, color.YellowString("device is offline; the job stays pending"))
				case "push_failed":
					fmt.Fprintln(out, color.YellowString("push to the device failed; the job stays pending"))
				}
				return nil
			}

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			job, err := c.WaitJob(ctx, res.Job.ID, 500*time.Millisecond)
			if err != nil {
				return fmt.Errorf("waiting for job %s: %w", res.Job.ID, err)
			}
			if g.jsonOut {
				return printJSON(out, job)
			}
			return printJobResult(out, job)
		},
	}

	cmd.Flags().StringVarP(&arguments, "args", "a", "", `job arguments ("key=value ..." or a JSON object)`)
	cmd.Flags().StringVar(&scriptFile, "script-file", "", `attach a script body from a file ("-" for stdin)`)
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "wait for the job to finish and print its output")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "give up waiting after this long (0 waits forever)")
	return cmd
}

func newJobsGetCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "get JOB_ID",
		Short: "Show a job and its status history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := g.client().GetJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if g.jsonOut {
				return printJSON(cmd.OutOrStdout(), job)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s on %s: %s\n", job.ID, job.Command, job.DeviceID, jobStatus(job.Status))
			for _, tr := range job.Transitions {
				from := tr.From
				if from == "" {
					from = "-"
				}
				fmt.Fprintf(out, "  %s  %s → %s\n", color.HiBlackString(tr.At.Local().Format("15:04:05.000")), from, tr.To)
			}
			if job.Status == "completed" || job.Status == "failed" {
				fmt.Fprintln(out)
				return printJobResult(out, job)
			}
			return nil
		},
	}
}

func readScript(stdin io.Reader, path string) (string, error) {
	var (
		b   []byte
		err error
	)
	if path == "-" {
		b, err = io.ReadAll(stdin)
	} else {
		b, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("reading script: %w", err)
	}
	if len(b) == 0 {
		return "", errors.New("script is empty")
	}
	return string(b), nil
}

// printJobResult prints the output of a finished job and returns an error
// for a failed one so the process exits non-zero.
func printJobResult(out io.Writer, job *api.Job) error {
	output := ""
	if job.Output != nil {
		output = *job.Output
	}
	code := 0
	if job.ExitCode != nil {
		code = *job.ExitCode
	}

	fmt.Fprint(out, output)
	if output != "" && output[len(output)-1] != '\n' {
		fmt.Fprintln(out)
	}
	if job.Status != "completed" {
		return fmt.Errorf("job %s %s (exit code %d)", job.ID, job.Status, code)
	}
	return nil
}
