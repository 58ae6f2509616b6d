//go:build !windows

package process

import "os/exec"

// shellCommand runs script under /bin/sh. The absolute path avoids a PATH
// lookup in an overridden environment.
func shellCommand(script string) *exec.Cmd {
	// #nosec G204
	return exec.Command("/bin/sh", "-c", script)
}

func trueCommand() *exec.Cmd {
	// #nosec G204
	return exec.Command("/bin/true")
}
