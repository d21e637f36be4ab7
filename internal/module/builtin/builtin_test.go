// ABOUTME: Tests for the bundled modules and their factory list
// ABOUTME: Shell tests rely on /bin/sh and skip on Windows

package builtin

import (
	"context"
	"io"
	"log/slog"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/fleetd/internal/module"
)

func TestFactories_LoadIntoRegistry(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell module requires powershell")
	}
	r := module.NewRegistry(module.Context{}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	loaded, errs := r.LoadAll(context.Background(), Factories(), "")
	require.Empty(t, errs)

	var names []string
	for _, d := range loaded {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"system", "shell", "echo"}, names)

	for _, cmd := range []string{"GetSystemInfo", "CollectMetrics", "RunScript", "Exec", "Echo", "Ping"} {
		_, ok := r.Resolve(cmd)
		assert.True(t, ok, cmd)
	}
}

func TestEcho(t *testing.T) {
	e := NewEcho()
	ctx := context.Background()

	res, err := e.Execute(ctx, "Ping", nil)
	require.NoError(t, err)
	assert.Equal(t, module.OK("pong"), res)

	res, err = e.Execute(ctx, "Echo", map[string]string{"message": "hi there"})
	require.NoError(t, err)
	assert.Equal(t, "hi there", res.Data)

	res, err = e.Execute(ctx, "Echo", map[string]string{"arg0": "a", "arg1": "b"})
	require.NoError(t, err)
	assert.Equal(t, "a b", res.Data)

	res, err = e.Execute(ctx, "Echo", map[string]string{"z": "1", "a": "2"})
	require.NoError(t, err)
	assert.Equal(t, "a=2 z=1", res.Data)
}

func TestPositional_StopsAtGap(t *testing.T) {
	got := positional(map[string]string{"arg0": "x", "arg1": "y", "arg3": "skipped"})
	assert.Equal(t, []string{"x", "y"}, got)
	assert.Nil(t, positional(map[string]string{"key": "v"}))
}

func TestSystem_GetSystemInfo(t *testing.T) {
	s := NewSystem()
	assert.True(t, s.CanHandle("getsysteminfo"))
	assert.False(t, s.CanHandle("RunScript"))

	res, err := s.Execute(context.Background(), "GetSystemInfo", nil)
	require.NoError(t, err)
	require.True(t, res.Success)

	info, ok := res.Data.(SystemInfo)
	require.True(t, ok)
	assert.Equal(t, runtime.GOOS, info.OS)
	assert.Equal(t, runtime.GOARCH, info.Arch)
	assert.Positive(t, info.CPUs)
	if runtime.GOOS == "linux" {
		assert.Equal(t, "Linux", info.KernelName)
		assert.NotEmpty(t, info.KernelRelease)
	}
}

func TestSystem_CollectMetrics(t *testing.T) {
	res, err := NewSystem().Execute(context.Background(), "CollectMetrics", nil)
	require.NoError(t, err)

	m, ok := res.Data.(Metrics)
	require.True(t, ok)
	assert.False(t, m.CollectedAt.IsZero())
	assert.Positive(t, m.AgentGoroutine)
	if runtime.GOOS == "linux" {
		assert.Len(t, m.Load, 3)
		assert.Positive(t, m.MemTotalBytes)
		require.NotNil(t, m.Disk)
		assert.Equal(t, "/", m.Disk.Path)
		assert.Positive(t, m.Disk.TotalBytes)
	}
}

func skipOnWindows(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh")
	}
}

func TestShell_RunScript(t *testing.T) {
	skipOnWindows(t)
	s := NewShell()
	require.NoError(t, s.Init(module.Context{}))

	res, err := s.Execute(context.Background(), "RunScript", map[string]string{
		module.ScriptParam: "echo out; echo err >&2",
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Contains(t, res.Data, "out")
	assert.Contains(t, res.Data, "err")
}

func TestShell_RunScriptFailure(t *testing.T) {
	skipOnWindows(t)

	res, err := NewShell().Execute(context.Background(), "RunScript", map[string]string{
		module.ScriptParam: "echo broken; exit 4",
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "exit status 4: broken", res.Error)
}

func TestShell_RunScriptRequiresScript(t *testing.T) {
	res, err := NewShell().Execute(context.Background(), "RunScript", map[string]string{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "requires a script")
}

func TestShell_Exec(t *testing.T) {
	skipOnWindows(t)
	s := NewShell()

	res, err := s.Execute(context.Background(), "Exec", map[string]string{"arg0": "echo", "arg1": "hello", "arg2": "fleet"})
	require.NoError(t, err)
	assert.Equal(t, "hello fleet\n", res.Data)

	res, err = s.Execute(context.Background(), "Exec", map[string]string{"cmd": "echo", "arg0": "via-cmd"})
	require.NoError(t, err)
	assert.Equal(t, "via-cmd\n", res.Data)

	res, err = s.Execute(context.Background(), "Exec", map[string]string{})
	require.NoError(t, err)
	assert.False(t, res.Success)

	_, err = s.Execute(context.Background(), "Exec", map[string]string{"arg0": "definitely-not-a-real-binary-xyz"})
	assert.Error(t, err)
}

func TestShell_ContextCancelled(t *testing.T) {
	skipOnWindows(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewShell().Execute(ctx, "RunScript", map[string]string{module.ScriptParam: "sleep 5"})
	assert.ErrorIs(t, err, context.Canceled)
}
