// Package manager is the supervisor facade. Every action runs as one locked
// load-mutate-save cycle on the registry store; no goroutine outlives the
// call, so the package works the same from a one-shot CLI or an embedder.
package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loykin/pmgr/internal/detector"
	"github.com/loykin/pmgr/internal/env"
	"github.com/loykin/pmgr/internal/history"
	"github.com/loykin/pmgr/internal/logs"
	"github.com/loykin/pmgr/internal/metrics"
	"github.com/loykin/pmgr/internal/process"
	"github.com/loykin/pmgr/internal/registry"
)

// DefaultRestartDelay separates termination from relaunch on Restart.
const DefaultRestartDelay = 2 * time.Second

// historyTimeout bounds each best-effort history delivery.
const historyTimeout = 5 * time.Second

// Options wires a Manager. Store and Logs are required.
type Options struct {
	Store              registry.Store
	Logs               *logs.Manager
	Env                *env.Env
	Terminator         process.Terminator
	RestartDelay       time.Duration // negative means no delay
	RemoveLogsOnDelete bool
	History            []history.Sink
	MetricsTextfile    string
	Now                func() time.Time
}

// Manager starts, stops and inspects supervised processes.
type Manager struct {
	store        registry.Store
	logs         *logs.Manager
	launcher     *process.Launcher
	term         process.Terminator
	restartDelay time.Duration
	removeLogs   bool
	sinks        []history.Sink
	metrics      *metrics.Metrics
	textfile     string
	now          func() time.Time
}

// New returns a manager over opts.
func New(opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, errors.New("manager requires a registry store")
	}
	if opts.Logs == nil {
		return nil, errors.New("manager requires a log manager")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	delay := opts.RestartDelay
	if delay == 0 {
		delay = DefaultRestartDelay
	}
	if delay < 0 {
		delay = 0
	}
	m := &Manager{
		store:        opts.Store,
		logs:         opts.Logs,
		launcher:     &process.Launcher{Logs: opts.Logs, Env: opts.Env, Now: now},
		term:         opts.Terminator,
		restartDelay: delay,
		removeLogs:   opts.RemoveLogsOnDelete,
		sinks:        append([]history.Sink(nil), opts.History...),
		textfile:     opts.MetricsTextfile,
		now:          now,
	}
	if m.textfile != "" {
		m.metrics = metrics.New()
	}
	return m, nil
}

// Close releases the store and any history sinks that hold connections.
func (m *Manager) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if c, ok := s.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	errs = append(errs, m.store.Close())
	return errors.Join(errs...)
}

// update runs fn inside one locked registry cycle. fn may return keep(err)
// to save its mutations and still report err. Collected events are sent
// once the lock is released.
func (m *Manager) update(ctx context.Context, action string, fn func(reg registry.Registry, ev *events) error) error {
	var ev events
	var kept error
	err := m.store.Update(ctx, func(reg registry.Registry) error {
		ev = ev[:0]
		err := fn(reg, &ev)
		m.observe(action, err, reg)
		var k *keepErr
		if errors.As(err, &k) {
			kept = k.err
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}
	m.publish(ctx, ev)
	return kept
}

func identity(r *registry.Record) detector.Identity {
	return detector.Identity{PID: r.PID, StartUnix: r.StartUnix}
}

// Start launches spec under a new or previously stopped name. A name that
// is tracked and alive yields ErrAlreadyRunning and the registry is left
// untouched. A spawn failure is saved as an errored record and returned as
// a *process.SpawnError.
func (m *Manager) Start(ctx context.Context, spec process.Spec) (registry.Record, error) {
	if err := spec.Validate(); err != nil {
		return registry.Record{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if spec.WorkDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return registry.Record{}, fmt.Errorf("resolve working directory: %w", err)
		}
		spec.WorkDir = wd
	}
	wd, err := filepath.Abs(spec.WorkDir)
	if err != nil {
		return registry.Record{}, fmt.Errorf("%w: working directory: %v", ErrInvalid, err)
	}
	spec.WorkDir = wd

	var out registry.Record
	err = m.update(ctx, "start", func(reg registry.Registry, ev *events) error {
		prev := reg.Get(spec.Name)
		if prev != nil && prev.PID != 0 && identity(prev).Alive() {
			return fmt.Errorf("%w: %s (pid %d)", ErrAlreadyRunning, spec.Name, prev.PID)
		}
		rec := registry.Record{
			Name:    spec.Name,
			Command: spec.Command,
			Args:    append([]string(nil), spec.Args...),
			WorkDir: spec.WorkDir,
			Env:     append([]string(nil), spec.Env...),
		}
		if prev != nil {
			rec.Generation = prev.Generation
			rec.LastRestartTime = prev.LastRestartTime
		}
		launched, lerr := m.launcher.Launch(rec)
		reg.Put(&launched)
		out = launched.Clone()
		if lerr != nil {
			ev.add(history.EventSpawnError, launched)
			return keep(lerr)
		}
		ev.add(history.EventStart, launched)
		return nil
	})
	return out, err
}

// Stop terminates the named process: SIGTERM, the grace period, then
// SIGKILL. It returns once the outcome is known. Stopping a process that is
// not alive only repairs its record.
func (m *Manager) Stop(ctx context.Context, name string) (process.Outcome, error) {
	outcome := process.NotRunning
	err := m.update(ctx, "stop", func(reg registry.Registry, ev *events) error {
		rec := reg.Get(name)
		if rec == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		o, err := m.terminate(ctx, rec, ev)
		outcome = o
		return err
	})
	return outcome, err
}

// terminate stops rec's process and marks it stopped. A record with no pid,
// errored ones included, is only normalized to stopped.
func (m *Manager) terminate(ctx context.Context, rec *registry.Record, ev *events) (process.Outcome, error) {
	if rec.PID == 0 {
		rec.MarkStopped()
		return process.NotRunning, nil
	}
	id := identity(rec)
	alive := id.Alive()
	if alive {
		m.note(rec.Name, "Stopping process...")
	}
	outcome, err := m.term.Terminate(ctx, id)
	if err != nil {
		m.note(rec.Name, "Failed to stop: "+err.Error())
		return outcome, fmt.Errorf("stop %s: %w", rec.Name, err)
	}
	rec.MarkStopped()
	switch outcome {
	case process.Graceful:
		m.note(rec.Name, "Process stopped")
		ev.add(history.EventStop, *rec)
	case process.Killed:
		m.note(rec.Name, "Process killed after grace period")
		ev.add(history.EventKill, *rec)
	}
	slog.Info("Process terminated", "name", rec.Name, "pid", id.PID, "outcome", outcome.String())
	return outcome, nil
}

// Restart terminates the named process if it is alive, waits the restart
// delay, and launches it again with its restart count reset.
func (m *Manager) Restart(ctx context.Context, name string) (registry.Record, error) {
	var out registry.Record
	err := m.update(ctx, "restart", func(reg registry.Registry, ev *events) error {
		rec := reg.Get(name)
		if rec == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		if rec.PID != 0 {
			rec.Status = registry.StatusRestarting
			outcome, err := m.terminate(ctx, rec, ev)
			if err != nil {
				return err
			}
			if outcome != process.NotRunning && m.restartDelay > 0 {
				t := time.NewTimer(m.restartDelay)
				select {
				case <-ctx.Done():
					t.Stop()
					out = rec.Clone()
					return keep(ctx.Err())
				case <-t.C:
				}
			}
		}
		next := rec.Clone()
		next.RestartCount = 0
		next.LastRestartTime = m.now().UTC()
		launched, lerr := m.launcher.Launch(next)
		reg.Put(&launched)
		out = launched.Clone()
		if lerr != nil {
			ev.add(history.EventSpawnError, launched)
			return keep(lerr)
		}
		ev.add(history.EventRestart, launched)
		return nil
	})
	return out, err
}

// Delete stops the named process if it is alive and forgets it. When the
// process survives termination the record is kept.
func (m *Manager) Delete(ctx context.Context, name string) error {
	err := m.update(ctx, "delete", func(reg registry.Registry, ev *events) error {
		rec := reg.Get(name)
		if rec == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		if _, err := m.terminate(ctx, rec, ev); err != nil {
			return err
		}
		reg.Delete(name)
		ev.add(history.EventDelete, *rec)
		return nil
	})
	if err != nil {
		return err
	}
	if m.removeLogs {
		if err := m.logs.Remove(name); err != nil {
			slog.Warn("Failed to remove process log", "name", name, "error", err)
		}
	}
	return nil
}

// Get returns the stored record for name without reconciling it.
func (m *Manager) Get(ctx context.Context, name string) (registry.Record, error) {
	reg, err := m.store.Load(ctx)
	if err != nil {
		return registry.Record{}, err
	}
	rec := reg.Get(name)
	if rec == nil {
		return registry.Record{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return rec.Clone(), nil
}

// Logs returns the last n lines of the process log; n <= 0 uses the default.
func (m *Manager) Logs(name string, n int) ([]string, error) {
	if err := process.ValidateName(name); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return m.logs.Tail(name, n)
}

// Follow prints the last n lines of the process log to w and then streams
// new lines until ctx is cancelled.
func (m *Manager) Follow(ctx context.Context, name string, n int, w io.Writer) error {
	if err := process.ValidateName(name); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return m.logs.Follow(ctx, name, n, w)
}

// note appends a supervisor line to the process log. Failures only warn.
func (m *Manager) note(name, msg string) {
	if process.ValidateName(name) != nil {
		return
	}
	if err := m.logs.Append(name, msg, logs.LevelInfo); err != nil {
		slog.Warn("Failed to write process log", "name", name, "error", err)
	}
}
