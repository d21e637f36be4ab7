// Package metrics defines the Prometheus collectors exported by fleet-server
// on its HTTP listener.
package metrics
