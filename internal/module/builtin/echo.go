// ABOUTME: Echo module for connectivity checks from the operator side
// ABOUTME: Ping answers pong; Echo returns its message or arguments

package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/2389/fleetd/internal/module"
)

// Echo handles Echo and Ping.
type Echo struct{}

// NewEcho creates the echo module.
func NewEcho() *Echo { return &Echo{} }

func (*Echo) Name() string                  { return "echo" }
func (*Echo) Version() string               { return "1.0.0" }
func (*Echo) Init(module.Context) error     { return nil }
func (*Echo) CanHandle(command string) bool { return handles(command, "Echo", "Ping") }

func (*Echo) Execute(_ context.Context, command string, params map[string]string) (module.Result, error) {
	if strings.EqualFold(command, "Ping") {
		return module.OK("pong"), nil
	}

	if msg, ok := params["message"]; ok {
		return module.OK(msg), nil
	}
	if args := positional(params); len(args) > 0 {
		return module.OK(strings.Join(args, " ")), nil
	}

	var pairs []string
	for _, k := range sortedKeys(params) {
		pairs = append(pairs, fmt.Sprintf("%s=%s", k, params[k]))
	}
	return module.OK(strings.Join(pairs, " ")), nil
}
