// ABOUTME: Module contract for agent capability providers
// ABOUTME: Defines Module, Factory, Context, Result and Descriptor

package module

import (
	"context"
	"log/slog"

	"github.com/2389/fleetd/internal/device"
)

// ScriptParam is the reserved parameter carrying a job's script body.
const ScriptParam = "__script"

// Context is handed to Init. It carries what a module may need from the agent.
type Context struct {
	Logger   *slog.Logger
	Platform device.Platform
	// DataDir is the agent's module directory.
	DataDir string
}

// Result is the outcome of one execution. Data is rendered as the job
// output on success, Error on failure.
type Result struct {
	Success bool
	Data    any
	Error   string
}

// OK returns a successful Result carrying data.
func OK(data any) Result {
	return Result{Success: true, Data: data}
}

// Fail returns a failed Result with msg.
func Fail(msg string) Result {
	return Result{Error: msg}
}

// Module is a named capability provider.
type Module interface {
	Name() string
	Version() string
	// Init prepares the module. A module that fails Init is not registered.
	Init(mc Context) error
	CanHandle(command string) bool
	// Execute runs command. A returned error and a Result with Success false
	// both fail the job.
	Execute(ctx context.Context, command string, params map[string]string) (Result, error)
}

// Factory constructs a Module.
type Factory func() (Module, error)

// Descriptor describes a loaded module.
type Descriptor struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	// Source is "builtin" or the manifest path.
	Source string `json:"source"`
	// Index is the module's position in load order.
	Index int `json:"index"`
}

// SourceBuiltin marks modules constructed from the factory list.
const SourceBuiltin = "builtin"
