package metrics

import (
	"log/slog"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

type usage struct {
	rss        uint64
	cpuSeconds float64
}

// sample reads the current resource usage of pid.
func sample(pid int) (usage, bool) {
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return usage{}, false
	}
	var u usage
	mem, err := p.MemoryInfo()
	if err != nil {
		slog.Debug("Failed to get memory info", "pid", pid, "error", err)
		return usage{}, false
	}
	u.rss = mem.RSS
	if t, err := p.Times(); err == nil {
		u.cpuSeconds = t.User + t.System
	}
	return u, true
}
