package ffmpeg

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// ProcessStats contains resource usage statistics for an FFmpeg process.
type ProcessStats struct {
	PID        int       `json:"pid"`
	Running    bool      `json:"running"`
	CPUPercent float64   `json:"cpu_percent"` // since the previous sample, 100 per core
	MemoryRSS  uint64    `json:"memory_rss_bytes"`
	SampledAt  time.Time `json:"sampled_at"`
}

// ProcessMonitor samples resource usage of one process on demand.
type ProcessMonitor struct {
	pid int

	mu   sync.Mutex
	proc *process.Process
	last ProcessStats
}

// NewProcessMonitor creates a monitor for pid. The process handle is
// resolved lazily on the first sample.
func NewProcessMonitor(pid int) *ProcessMonitor {
	return &ProcessMonitor{pid: pid, last: ProcessStats{PID: pid}}
}

// Sample reads current CPU and memory usage. Once the process has exited the
// last successful sample is returned with Running=false.
func (pm *ProcessMonitor) Sample(ctx context.Context) ProcessStats {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.pid <= 0 {
		return pm.last
	}

	if pm.proc == nil {
		proc, err := process.NewProcessWithContext(ctx, int32(pm.pid)) //nolint:gosec // pids fit in int32
		if err != nil {
			pm.last.Running = false
			return pm.last
		}
		pm.proc = proc
	}

	running, err := pm.proc.IsRunningWithContext(ctx)
	if err != nil || !running {
		pm.last.Running = false
		return pm.last
	}

	stats := ProcessStats{PID: pm.pid, Running: true, SampledAt: time.Now()}
	if pct, err := pm.proc.PercentWithContext(ctx, 0); err == nil {
		stats.CPUPercent = pct
	}
	if mem, err := pm.proc.MemoryInfoWithContext(ctx); err == nil && mem != nil {
		stats.MemoryRSS = mem.RSS
	}
	pm.last = stats
	return stats
}
