//go:build !windows

package detector

import (
	"bytes"
	"os"
	"runtime"
	"strconv"
	"syscall"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// Alive sends signal 0 to pid. EPERM counts as not alive: a process we may
// not signal is not one we launched. Zombies are not alive either.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	if err := syscall.Kill(pid, 0); err != nil {
		return false
	}
	return !isZombie(pid)
}

func isZombie(pid int) bool {
	if runtime.GOOS == "linux" {
		b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/status")
		if err != nil {
			return false
		}
		return bytes.Contains(b, []byte("State:\tZ"))
	}
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	st, err := p.Status()
	if err != nil {
		return false
	}
	for _, s := range st {
		if s == gopsproc.Zombie {
			return true
		}
	}
	return false
}
