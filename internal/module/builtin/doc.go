// Package builtin provides the modules compiled into fleet-agent.
//
//   - system: GetSystemInfo, CollectMetrics
//   - shell: RunScript, Exec
//   - echo: Echo, Ping
//
// Factories returns them in that load order.
package builtin
