//go:build linux || darwin || freebsd

// ABOUTME: OS version string from uname(2) on unix platforms
// ABOUTME: Reports the kernel name and release, e.g. "Linux 6.8.0"

package agent

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// osVersion returns "<sysname> <release>" from uname(2).
func osVersion() string {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return runtime.GOOS
	}
	return unix.ByteSliceToString(u.Sysname[:]) + " " + unix.ByteSliceToString(u.Release[:])
}
