package registry

import (
	"sort"
	"strings"
	"time"
)

// Status is the lifecycle state recorded for a supervised process.
type Status string

const (
	StatusRunning    Status = "running"
	StatusStopped    Status = "stopped"
	StatusErrored    Status = "errored"
	StatusRestarting Status = "restarting"
)

// Record is the durable description of one supervised process.
// PID is non-zero only while Status is running; reconciliation repairs drift.
type Record struct {
	Name            string    `json:"name"`
	Command         string    `json:"command"`
	Args            []string  `json:"args,omitempty"`
	WorkDir         string    `json:"work_dir"`
	Env             []string  `json:"env,omitempty"`
	PID             int       `json:"pid,omitempty"`
	StartUnix       int64     `json:"start_unix,omitempty"` // OS start time of PID, seconds
	InstanceID      string    `json:"instance_id,omitempty"`
	Generation      int       `json:"generation"`
	Status          Status    `json:"status"`
	RestartCount    int       `json:"restart_count"`
	StartTime       time.Time `json:"start_time,omitempty"`
	LastRestartTime time.Time `json:"last_restart_time,omitempty"`
	LastError       string    `json:"last_error,omitempty"`
}

// CommandLine returns the command and its arguments joined for display.
func (r Record) CommandLine() string {
	if len(r.Args) == 0 {
		return r.Command
	}
	return r.Command + " " + strings.Join(r.Args, " ")
}

// MarkStopped clears the pid and identity and sets status stopped.
func (r *Record) MarkStopped() {
	r.PID = 0
	r.StartUnix = 0
	r.Status = StatusStopped
}

// Uptime reports how long the record has been running, or zero.
func (r Record) Uptime(now time.Time) time.Duration {
	if r.Status != StatusRunning || r.StartTime.IsZero() {
		return 0
	}
	return now.Sub(r.StartTime)
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	c := r
	if r.Args != nil {
		c.Args = append([]string(nil), r.Args...)
	}
	if r.Env != nil {
		c.Env = append([]string(nil), r.Env...)
	}
	return c
}

// Registry maps process names to their records.
type Registry map[string]*Record

// Get returns the record for name, or nil.
func (g Registry) Get(name string) *Record { return g[name] }

// Put inserts or replaces the record keyed by its name.
func (g Registry) Put(r *Record) { g[r.Name] = r }

// Delete removes name and reports whether it existed.
func (g Registry) Delete(name string) bool {
	if _, ok := g[name]; !ok {
		return false
	}
	delete(g, name)
	return true
}

// Names returns the record names in sorted order.
func (g Registry) Names() []string {
	out := make([]string, 0, len(g))
	for name := range g {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Snapshot returns copies of all records sorted by name.
func (g Registry) Snapshot() []Record {
	out := make([]Record, 0, len(g))
	for _, name := range g.Names() {
		out = append(out, g[name].Clone())
	}
	return out
}
