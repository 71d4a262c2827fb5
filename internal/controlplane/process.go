package controlplane

import (
	"fmt"
	"os"
	"runtime"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v4/process"
)

type ProcessStats struct {
	PID           int32   `json:"pid"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float32 `json:"memory_percent"`
	RSS           uint64  `json:"rss"`
	RSSHuman      string  `json:"rss_human"`
	NumThreads    int32   `json:"num_threads"`
	NumGoroutines int     `json:"num_goroutines"`
}

// selfStats samples the current process. Fields the platform cannot report
// are left zero.
func selfStats() (*ProcessStats, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("open process: %w", err)
	}

	stats := &ProcessStats{
		PID:           p.Pid,
		NumGoroutines: runtime.NumGoroutine(),
	}

	if cpu, err := p.CPUPercent(); err == nil {
		stats.CPUPercent = cpu
	}
	if mem, err := p.MemoryPercent(); err == nil {
		stats.MemoryPercent = mem
	}
	if info, err := p.MemoryInfo(); err == nil && info != nil {
		stats.RSS = info.RSS
		stats.RSSHuman = humanize.IBytes(info.RSS)
	}
	if n, err := p.NumThreads(); err == nil {
		stats.NumThreads = n
	}

	return stats, nil
}
