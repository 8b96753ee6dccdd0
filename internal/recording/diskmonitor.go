package recording

import (
	"log/slog"
	"sync"

	"github.com/shirou/gopsutil/v3/disk"
)

// DiskStatus is the last observed state of the archive volume.
type DiskStatus struct {
	Path        string  `json:"path"`
	TotalBytes  uint64  `json:"total_bytes"`
	FreeBytes   uint64  `json:"free_bytes"`
	UsedPercent float64 `json:"used_percent"`
	Low         bool    `json:"low"`
}

// DiskMonitor samples free space on the archive volume and warns when usage
// crosses the low-space threshold. It runs on the shared cron scheduler.
type DiskMonitor struct {
	path        string
	warnPercent float64

	mu      sync.Mutex
	status  DiskStatus
	warning bool

	usage  func(path string) (*disk.UsageStat, error)
	logger *slog.Logger
}

// NewDiskMonitor builds a monitor for path. warnPercent is the used-percent
// level at which warnings start.
func NewDiskMonitor(path string, warnPercent float64) *DiskMonitor {
	return &DiskMonitor{
		path:        path,
		warnPercent: warnPercent,
		usage:       disk.Usage,
		logger:      slog.Default().With("component", "disk_monitor"),
	}
}

// Check samples the volume once. Warnings fire on the crossing, not on every
// sample, so a full disk does not flood the log.
func (m *DiskMonitor) Check() {
	stat, err := m.usage(m.path)
	if err != nil {
		m.logger.Warn("Failed to stat archive volume", "path", m.path, "error", err)
		return
	}

	low := stat.UsedPercent >= m.warnPercent

	m.mu.Lock()
	m.status = DiskStatus{
		Path:        m.path,
		TotalBytes:  stat.Total,
		FreeBytes:   stat.Free,
		UsedPercent: stat.UsedPercent,
		Low:         low,
	}
	crossed := low && !m.warning
	recovered := !low && m.warning
	m.warning = low
	m.mu.Unlock()

	if crossed {
		m.logger.Warn("Archive volume low on space",
			"path", m.path,
			"used_percent", stat.UsedPercent,
			"free_bytes", stat.Free,
		)
	}
	if recovered {
		m.logger.Info("Archive volume space recovered",
			"path", m.path,
			"used_percent", stat.UsedPercent,
		)
	}
}

// Status returns the last sampled state.
func (m *DiskMonitor) Status() DiskStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}
