//go:build windows

package process

func getpgid(pid int) (int, error) { return pid, nil }
