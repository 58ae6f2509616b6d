// Package detector answers whether a recorded process is still the one that
// was launched. A pid alone is not enough: the OS recycles pids, so a record
// also carries the start time observed at launch.
package detector

import "fmt"

// startSkew is the tolerated difference between the recorded and the observed
// start time. Linux derives it from clock ticks since boot, which rounds.
const startSkew = 1

// Identity names one concrete process instance.
type Identity struct {
	PID       int
	StartUnix int64 // 0 when unknown
}

// Capture probes pid and records its current start time.
func Capture(pid int) Identity {
	return Identity{PID: pid, StartUnix: StartUnix(pid)}
}

// Alive reports whether the pid is alive and still belongs to the recorded
// instance. An unknown start time on either side falls back to the pid probe.
func (id Identity) Alive() bool {
	if !Alive(id.PID) {
		return false
	}
	if id.StartUnix <= 0 {
		return true
	}
	cur := StartUnix(id.PID)
	if cur <= 0 {
		return true
	}
	d := cur - id.StartUnix
	if d < 0 {
		d = -d
	}
	return d <= startSkew
}

func (id Identity) String() string {
	if id.StartUnix > 0 {
		return fmt.Sprintf("pid:%d@%d", id.PID, id.StartUnix)
	}
	return fmt.Sprintf("pid:%d", id.PID)
}
