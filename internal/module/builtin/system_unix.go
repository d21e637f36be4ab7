//go:build linux || darwin || freebsd

// ABOUTME: Unix kernel identity and filesystem usage probes
// ABOUTME: Uses uname(2) and statfs(2) through golang.org/x/sys/unix

package builtin

import (
	"golang.org/x/sys/unix"
)

func fillKernelInfo(info *SystemInfo) {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return
	}
	info.KernelName = unix.ByteSliceToString(u.Sysname[:])
	info.KernelRelease = unix.ByteSliceToString(u.Release[:])
	info.KernelVersion = unix.ByteSliceToString(u.Version[:])
	info.Machine = unix.ByteSliceToString(u.Machine[:])
}

func diskUsage(path string) (*DiskUsage, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return nil, err
	}
	bsize := uint64(st.Bsize)
	return &DiskUsage{
		Path:       path,
		TotalBytes: uint64(st.Blocks) * bsize,
		FreeBytes:  uint64(st.Bavail) * bsize,
	}, nil
}
