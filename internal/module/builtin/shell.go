// ABOUTME: Shell module running operator scripts and programs on the device
// ABOUTME: RunScript takes the job script; Exec runs a program with positional arguments

package builtin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/2389/fleetd/internal/module"
)

// Shell handles RunScript and Exec.
type Shell struct {
	interpreter []string
}

// NewShell creates the shell module with the platform's default interpreter.
func NewShell() *Shell {
	interp := []string{"/bin/sh", "-c"}
	if runtime.GOOS == "windows" {
		interp = []string{"powershell.exe", "-NoProfile", "-NonInteractive", "-Command"}
	}
	return &Shell{interpreter: interp}
}

func (s *Shell) Name() string    { return "shell" }
func (s *Shell) Version() string { return "1.0.0" }

// Init verifies the interpreter can be found.
func (s *Shell) Init(module.Context) error {
	if _, err := exec.LookPath(s.interpreter[0]); err != nil {
		return fmt.Errorf("shell interpreter: %w", err)
	}
	return nil
}

func (s *Shell) CanHandle(command string) bool {
	return handles(command, "RunScript", "Exec")
}

func (s *Shell) Execute(ctx context.Context, command string, params map[string]string) (module.Result, error) {
	if strings.EqualFold(command, "RunScript") {
		script := params[module.ScriptParam]
		if strings.TrimSpace(script) == "" {
			return module.Fail("RunScript requires a script"), nil
		}
		args := append(append([]string{}, s.interpreter[1:]...), script)
		return run(ctx, exec.CommandContext(ctx, s.interpreter[0], args...))
	}

	args := positional(params)
	program := params["cmd"]
	if program == "" {
		if len(args) == 0 {
			return module.Fail("Exec requires a program (cmd=<program> or a first positional argument)"), nil
		}
		program, args = args[0], args[1:]
	}
	return run(ctx, exec.CommandContext(ctx, program, args...))
}

// run executes cmd and returns its combined output.
func run(ctx context.Context, cmd *exec.Cmd) (module.Result, error) {
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if err == nil {
		return module.OK(out.String()), nil
	}
	if ctx.Err() != nil {
		return module.Result{}, ctx.Err()
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return module.Fail(fmt.Sprintf("exit status %d: %s", exitErr.ExitCode(), strings.TrimSpace(out.String()))), nil
	}
	return module.Result{}, fmt.Errorf("running %s: %w", cmd.Path, err)
}
