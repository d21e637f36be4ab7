// ABOUTME: Factory list of the modules bundled with fleet-agent
// ABOUTME: Shared helpers for positional parameter handling

package builtin

import (
	"sort"
	"strconv"
	"strings"

	"github.com/2389/fleetd/internal/module"
)

// Factories returns the bundled module constructors in load order.
func Factories() []module.Factory {
	return []module.Factory{
		func() (module.Module, error) { return NewSystem(), nil },
		func() (module.Module, error) { return NewShell(), nil },
		func() (module.Module, error) { return NewEcho(), nil },
	}
}

// positional returns arg0, arg1, ... in order until the first gap.
func positional(params map[string]string) []string {
	var out []string
	for i := 0; ; i++ {
		v, ok := params["arg"+strconv.Itoa(i)]
		if !ok {
			return out
		}
		out = append(out, v)
	}
}

// handles reports whether command is one of names, ignoring case.
func handles(command string, names ...string) bool {
	for _, n := range names {
		if strings.EqualFold(n, command) {
			return true
		}
	}
	return false
}

// sortedKeys returns the keys of m in order.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
