// ABOUTME: Linux host metrics from sysinfo(2)
// ABOUTME: Load averages are fixed-point with 16 fractional bits

package builtin

import (
	"golang.org/x/sys/unix"
)

const loadScale = 1 << 16

func fillHostMetrics(m *Metrics) {
	var si unix.Sysinfo_t
	if err := unix.Sysinfo(&si); err != nil {
		return
	}
	unit := uint64(si.Unit)
	if unit == 0 {
		unit = 1
	}
	m.UptimeSeconds = int64(si.Uptime)
	m.Load = []float64{
		float64(si.Loads[0]) / loadScale,
		float64(si.Loads[1]) / loadScale,
		float64(si.Loads[2]) / loadScale,
	}
	m.MemTotalBytes = uint64(si.Totalram) * unit
	m.MemFreeBytes = uint64(si.Freeram) * unit
	m.Procs = int(si.Procs)
}
