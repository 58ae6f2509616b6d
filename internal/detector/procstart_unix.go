//go:build !windows

package detector

import (
	"bufio"
	"os"
	"runtime"
	"strconv"
	"strings"

	gopsproc "github.com/shirou/gopsutil/v4/process"
	"github.com/tklauser/go-sysconf"
)

// StartUnix returns the process start time as Unix seconds, or 0 when it
// cannot be determined.
func StartUnix(pid int) int64 {
	if pid <= 0 {
		return 0
	}
	if runtime.GOOS == "linux" {
		if v := startUnixLinux(pid); v > 0 {
			return v
		}
	}
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return 0
	}
	ms, err := p.CreateTime()
	if err != nil || ms <= 0 {
		return 0
	}
	return ms / 1000
}

func startUnixLinux(pid int) int64 {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return 0
	}
	ticks := parseStartTicks(string(b))
	if ticks <= 0 {
		return 0
	}
	btime := bootTime()
	if btime == 0 {
		return 0
	}
	clk, err := sysconf.Sysconf(sysconf.SC_CLK_TCK)
	if err != nil || clk <= 0 {
		clk = 100
	}
	return btime + ticks/clk
}

// parseStartTicks extracts starttime (field 22) from a /proc/<pid>/stat line.
// The comm field may contain spaces and parentheses, so parsing starts after
// the last ") ".
func parseStartTicks(line string) int64 {
	end := strings.LastIndex(line, ") ")
	if end == -1 {
		return 0
	}
	parts := strings.Fields(line[end+2:])
	if len(parts) < 20 {
		return 0
	}
	v, err := strconv.ParseInt(parts[19], 10, 64)
	if err != nil || v <= 0 {
		return 0
	}
	return v
}

func bootTime() int64 {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return 0
	}
	defer func() { _ = f.Close() }()
	s := bufio.NewScanner(f)
	for s.Scan() {
		if v, ok := strings.CutPrefix(s.Text(), "btime "); ok {
			bt, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				return 0
			}
			return bt
		}
	}
	return 0
}
