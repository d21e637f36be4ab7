// ABOUTME: Table, JSON and colorized status rendering for fleetctl
// ABOUTME: Tables use tabwriter; colors follow fatih/color's terminal detection

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/2389/fleetd/internal/api"
)

type table struct {
	tw *tabwriter.Writer
}

func newTable(w io.Writer, headers ...string) *table {
	t := &table{tw: tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)}
	t.row(headers...)
	return t
}

func (t *table) row(cols ...string) {
	fmt.Fprintln(t.tw, strings.Join(cols, "\t"))
}

func (t *table) flush() error {
	return t.tw.Flush()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printJobTable(w io.Writer, jobs []api.Job) error {
	t := newTable(w, "ID", "COMMAND", "STATUS", "EXIT", "CREATED")
	for _, j := range jobs {
		exit := "-"
		if j.ExitCode != nil {
			exit = fmt.Sprint(*j.ExitCode)
		}
		t.row(j.ID, j.Command, jobStatus(j.Status), exit, ago(j.CreatedAt))
	}
	return t.flush()
}

func deviceStatus(d api.Device) string {
	switch d.Status {
	case "active":
		return color.GreenString(d.Status)
	case "pending":
		return color.YellowString(d.Status)
	case "blocked":
		return color.RedString(d.Status)
	}
	return d.Status
}

func jobStatus(s string) string {
	switch s {
	case "completed":
		return color.GreenString(s)
	case "failed", "cancelled":
		return color.RedString(s)
	case "running":
		return color.CyanString(s)
	}
	return s
}

func online(b bool) string {
	if b {
		return color.GreenString("yes")
	}
	return color.HiBlackString("no")
}

// ago renders t relative to now, coarsely.
func ago(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := max(time.Since(t), 0)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
	return t.Local().Format("2006-01-02")
}
