// ABOUTME: TOML manifests describing external executable modules
// ABOUTME: ExecModule passes parameters as JSON on stdin and reads stdout as output

package module

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Manifest is the on-disk description of an external module.
type Manifest struct {
	Name     string            `toml:"name"`
	Version  string            `toml:"version"`
	Commands []string          `toml:"commands"`
	Exec     string            `toml:"exec"`
	Args     []string          `toml:"args"`
	Env      map[string]string `toml:"env"`
}

// ParseManifest decodes a manifest. Unknown keys are rejected.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown manifest keys: %s", strings.Join(keys, ", "))
	}
	if m.Exec == "" {
		return nil, errors.New("manifest exec is required")
	}
	if len(m.Commands) == 0 {
		return nil, errors.New("manifest lists no commands")
	}
	return &m, nil
}

// LoadManifest reads the manifest at path and builds its ExecModule.
// A relative exec path is resolved against the manifest's directory.
func LoadManifest(path string) (*ExecModule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, err
	}

	bin := m.Exec
	if !filepath.IsAbs(bin) {
		bin = filepath.Join(filepath.Dir(path), bin)
	}
	return &ExecModule{manifest: *m, path: bin}, nil
}

// ExecModule runs an external executable per job.
type ExecModule struct {
	manifest Manifest
	path     string
}

// execRequest is written to the executable's stdin.
type execRequest struct {
	Command string            `json:"command"`
	Params  map[string]string `json:"params"`
}

func (m *ExecModule) Name() string    { return m.manifest.Name }
func (m *ExecModule) Version() string { return m.manifest.Version }

// Init checks the executable exists and is not a directory.
func (m *ExecModule) Init(Context) error {
	info, err := os.Stat(m.path)
	if err != nil {
		return fmt.Errorf("module executable: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("module executable %s is a directory", m.path)
	}
	return nil
}

// CanHandle matches the manifest's commands, ignoring case.
func (m *ExecModule) CanHandle(command string) bool {
	for _, c := range m.manifest.Commands {
		if strings.EqualFold(c, command) {
			return true
		}
	}
	return false
}

// Execute runs the executable once. Stdout is the output on success;
// on a non-zero exit the error carries stderr, or stdout if stderr is empty.
func (m *ExecModule) Execute(ctx context.Context, command string, params map[string]string) (Result, error) {
	if params == nil {
		params = map[string]string{}
	}
	input, err := json.Marshal(execRequest{Command: command, Params: params})
	if err != nil {
		return Result{}, fmt.Errorf("encoding module input: %w", err)
	}

	cmd := exec.CommandContext(ctx, m.path, m.manifest.Args...)
	cmd.Dir = filepath.Dir(m.path)
	cmd.Stdin = bytes.NewReader(input)
	cmd.Env = os.Environ()
	for k, v := range m.manifest.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return Result{}, fmt.Errorf("running %s: %w", m.path, err)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		return Fail(fmt.Sprintf("%s exited with status %d: %s", filepath.Base(m.path), exitErr.ExitCode(), msg)), nil
	}
	return OK(stdout.String()), nil
}
