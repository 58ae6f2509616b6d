//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// detach starts the child in a new session (setsid) so it has no controlling
// terminal, outlives the invoking process, and leads its own process group.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
