//go:build !(linux || darwin || freebsd)

// ABOUTME: OS version fallback for platforms without uname(2)
// ABOUTME: Reports only the GOOS name

package agent

import "runtime"

func osVersion() string {
	return runtime.GOOS
}
