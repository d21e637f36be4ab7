// ABOUTME: System module reporting host information and resource metrics
// ABOUTME: Platform probes live in system_unix.go, system_linux.go and fallbacks

package builtin

import (
	"context"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/2389/fleetd/internal/module"
)

// SystemInfo is the GetSystemInfo payload.
type SystemInfo struct {
	Hostname      string `json:"hostname"`
	OS            string `json:"os"`
	Arch          string `json:"arch"`
	CPUs          int    `json:"cpus"`
	KernelName    string `json:"kernel_name,omitempty"`
	KernelRelease string `json:"kernel_release,omitempty"`
	KernelVersion string `json:"kernel_version,omitempty"`
	Machine       string `json:"machine,omitempty"`
	AgentVersion  string `json:"agent_version"`
}

// Metrics is the CollectMetrics payload. Fields a platform cannot report are omitted.
type Metrics struct {
	CollectedAt    time.Time  `json:"collected_at"`
	UptimeSeconds  int64      `json:"uptime_seconds,omitempty"`
	Load           []float64  `json:"load,omitempty"`
	MemTotalBytes  uint64     `json:"mem_total_bytes,omitempty"`
	MemFreeBytes   uint64     `json:"mem_free_bytes,omitempty"`
	Procs          int        `json:"procs,omitempty"`
	Disk           *DiskUsage `json:"disk,omitempty"`
	AgentGoroutine int        `json:"agent_goroutines"`
}

// DiskUsage describes one filesystem.
type DiskUsage struct {
	Path       string `json:"path"`
	TotalBytes uint64 `json:"total_bytes"`
	FreeBytes  uint64 `json:"free_bytes"`
}

// System handles GetSystemInfo and CollectMetrics.
type System struct {
	version string
}

// NewSystem creates the system module.
func NewSystem() *System { return &System{version: "1.0.0"} }

func (s *System) Name() string              { return "system" }
func (s *System) Version() string           { return s.version }
func (s *System) Init(module.Context) error { return nil }

func (s *System) CanHandle(command string) bool {
	return handles(command, "GetSystemInfo", "CollectMetrics")
}

func (s *System) Execute(_ context.Context, command string, params map[string]string) (module.Result, error) {
	if strings.EqualFold(command, "GetSystemInfo") {
		return module.OK(s.info()), nil
	}

	path := params["path"]
	if path == "" {
		path = defaultDiskPath()
	}
	return module.OK(collectMetrics(path)), nil
}

func (s *System) info() SystemInfo {
	hostname, _ := os.Hostname()
	info := SystemInfo{
		Hostname:     hostname,
		OS:           runtime.GOOS,
		Arch:         runtime.GOARCH,
		CPUs:         runtime.NumCPU(),
		AgentVersion: s.version,
	}
	fillKernelInfo(&info)
	return info
}

func collectMetrics(diskPath string) Metrics {
	m := Metrics{
		CollectedAt:    time.Now().UTC(),
		AgentGoroutine: runtime.NumGoroutine(),
	}
	fillHostMetrics(&m)
	if d, err := diskUsage(diskPath); err == nil {
		m.Disk = d
	}
	return m
}

func defaultDiskPath() string {
	if runtime.GOOS == "windows" {
		return `C:\`
	}
	return "/"
}
