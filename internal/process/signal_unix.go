//go:build !windows

package process

import (
	"errors"
	"syscall"
)

var (
	sigTerm = syscall.SIGTERM
	sigKill = syscall.SIGKILL
)

// signalGroup signals the process group led by pid, falling back to pid
// alone when it does not lead a group.
func signalGroup(pid int, sig syscall.Signal) error {
	err := syscall.Kill(-pid, sig)
	if err == nil {
		return nil
	}
	if errors.Is(err, syscall.ESRCH) || errors.Is(err, syscall.EPERM) {
		return syscall.Kill(pid, sig)
	}
	return err
}
