//go:build windows

package process

import (
	"syscall"

	"golang.org/x/sys/windows"
)

var (
	sigTerm = syscall.SIGTERM
	sigKill = syscall.SIGKILL
)

// signalGroup terminates pid. A detached child has no console to deliver a
// control event to, so both signals end in TerminateProcess.
func signalGroup(pid int, _ syscall.Signal) error {
	h, err := windows.OpenProcess(windows.PROCESS_TERMINATE, false, uint32(pid))
	if err != nil {
		return err
	}
	defer func() { _ = windows.CloseHandle(h) }()
	return windows.TerminateProcess(h, 1)
}
