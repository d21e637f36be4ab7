// Package module defines the capability contract fleet-agent executes jobs
// through, and the registry that loads and resolves modules.
//
// # Contract
//
// A Module has a name, a version, an Init hook, a CanHandle predicate and an
// Execute method. Modules are constructed by Factory functions: bundled
// modules come from a fixed factory list compiled into the agent (see
// package builtin), and external modules are executables described by TOML
// manifests in the agent's module directory.
//
// # Loading
//
// Registry.LoadAll runs once, before the agent registers. Candidates are
// processed sequentially in order: factories first, then manifests sorted
// by file name. A candidate is dropped with an error when:
//
//   - its factory, manifest or Init fails (*LoadError)
//   - its name is empty (ErrEmptyName)
//   - its name matches an earlier module case-insensitively (ErrNameConflict)
//
// An empty version is accepted with a warning. Loading never stops early.
//
// # Resolution
//
// Resolve returns the first module in load order whose CanHandle accepts
// the command. After LoadAll the registry is read-only.
//
// # Manifests
//
//	name = "inventory"
//	version = "1.2.0"
//	commands = ["ListPackages", "ListServices"]
//	exec = "inventory"          # relative to the manifest's directory
//	args = ["--json"]
//
//	[env]
//	INVENTORY_CACHE = "/var/cache/inventory"
//
// The executable receives {"command": ..., "params": {...}} as JSON on
// stdin. Exit status zero is success and stdout becomes the job output.
package module
