//go:build !linux

package builtin

func fillHostMetrics(*Metrics) {}
