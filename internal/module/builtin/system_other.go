//go:build !(linux || darwin || freebsd)

package builtin

import "errors"

func fillKernelInfo(*SystemInfo) {}

func diskUsage(string) (*DiskUsage, error) {
	return nil, errors.New("disk usage not supported on this platform")
}
