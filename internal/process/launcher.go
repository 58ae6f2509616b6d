package process

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/pmgr/internal/detector"
	"github.com/loykin/pmgr/internal/env"
	"github.com/loykin/pmgr/internal/logs"
	"github.com/loykin/pmgr/internal/registry"
)

// SpawnError reports that the OS refused to create the child. The record has
// been marked errored by the time the caller sees it.
type SpawnError struct {
	Name string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to start process %q: %v", e.Name, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Launcher spawns detached children wired to their log files.
type Launcher struct {
	Logs *logs.Manager
	Env  *env.Env
	Now  func() time.Time
}

func (l *Launcher) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

func (l *Launcher) environ(perProc []string) []string {
	if l.Env == nil {
		l.Env = env.New()
	}
	return l.Env.Merge(perProc)
}

// Launch starts the process described by rec and returns the updated record.
// On failure the returned record is marked errored with LastError set and the
// error is a *SpawnError.
func (l *Launcher) Launch(rec registry.Record) (registry.Record, error) {
	spec := Spec{Name: rec.Name, Command: rec.Command, Args: rec.Args, WorkDir: rec.WorkDir, Env: rec.Env}
	rec.Generation++
	if err := spec.Validate(); err != nil {
		return l.fail(rec, err)
	}
	if l.Logs == nil {
		return l.fail(rec, errors.New("launcher has no log manager"))
	}
	l.note(rec.Name, fmt.Sprintf("Starting process in %s: %s", rec.WorkDir, spec.CommandLine()), logs.LevelInfo)

	out, err := l.Logs.OpenForChild(rec.Name)
	if err != nil {
		return l.fail(rec, err)
	}
	defer func() { _ = out.Close() }()
	devnull, err := os.Open(os.DevNull)
	if err != nil {
		return l.fail(rec, err)
	}
	defer func() { _ = devnull.Close() }()

	cmd := spec.BuildCommand()
	cmd.Dir = spec.WorkDir
	cmd.Env = l.environ(spec.Env)
	cmd.Stdin = devnull
	// one descriptor for both streams keeps their lines interleaved in order
	cmd.Stdout = out
	cmd.Stderr = out
	detach(cmd)

	if err := cmd.Start(); err != nil {
		return l.fail(rec, err)
	}
	pid := cmd.Process.Pid
	// reap in-process; a CLI invocation exits first and the child is reparented
	go func() { _ = cmd.Wait() }()

	rec.PID = pid
	rec.StartUnix = detector.StartUnix(pid)
	rec.InstanceID = uuid.NewString()
	rec.Status = registry.StatusRunning
	rec.StartTime = l.now().UTC()
	rec.LastError = ""
	l.note(rec.Name, fmt.Sprintf("Process started with PID: %d", pid), logs.LevelInfo)
	slog.Info("Process started", "name", rec.Name, "pid", pid, "instance", rec.InstanceID, "generation", rec.Generation)
	return rec, nil
}

func (l *Launcher) fail(rec registry.Record, err error) (registry.Record, error) {
	rec.PID = 0
	rec.StartUnix = 0
	rec.Status = registry.StatusErrored
	rec.LastError = err.Error()
	l.note(rec.Name, "Failed to start: "+err.Error(), logs.LevelStderr)
	slog.Warn("Process spawn failed", "name", rec.Name, "error", err)
	return rec, &SpawnError{Name: rec.Name, Err: err}
}

// note appends a lifecycle line; the log is advisory so failures only warn.
func (l *Launcher) note(name, msg string, level logs.Level) {
	if l.Logs == nil || ValidateName(name) != nil {
		return
	}
	if err := l.Logs.Append(name, msg, level); err != nil {
		slog.Warn("Failed to write process log", "name", name, "error", err)
	}
}
