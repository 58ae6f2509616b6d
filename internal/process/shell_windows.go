//go:build windows

package process

import "os/exec"

func shellCommand(script string) *exec.Cmd {
	// #nosec G204
	return exec.Command("cmd", "/c", script)
}

func trueCommand() *exec.Cmd {
	// #nosec G204
	return exec.Command("cmd", "/c", "rem")
}
