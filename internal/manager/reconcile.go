package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/loykin/pmgr/internal/history"
	"github.com/loykin/pmgr/internal/process"
	"github.com/loykin/pmgr/internal/registry"
)

// reconcile brings every record in line with the liveness probe: a pid is
// kept only while its identity is alive. It reports the names it changed.
func reconcile(reg registry.Registry) []string {
	var changed []string
	for _, name := range reg.Names() {
		rec := reg[name]
		before := *rec
		switch {
		case rec.PID != 0 && identity(rec).Alive():
			if rec.Status != registry.StatusRunning {
				rec.Status = registry.StatusRunning
			}
		case rec.Status == registry.StatusErrored:
			rec.PID = 0
			rec.StartUnix = 0
		default:
			rec.MarkStopped()
		}
		if rec.PID != before.PID || rec.Status != before.Status {
			slog.Debug("Reconciled process", "name", name, "pid", before.PID, "from", before.Status, "to", rec.Status)
			changed = append(changed, name)
		}
	}
	return changed
}

// List reconciles the registry and returns all records sorted by name.
func (m *Manager) List(ctx context.Context) ([]registry.Record, error) {
	var out []registry.Record
	err := m.update(ctx, "list", func(reg registry.Registry, _ *events) error {
		reconcile(reg)
		out = reg.Snapshot()
		return nil
	})
	return out, err
}

// Cleanup reconciles the registry and removes stopped records with no pid.
// It returns the removed names in sorted order.
func (m *Manager) Cleanup(ctx context.Context) ([]string, error) {
	var removed []string
	err := m.update(ctx, "cleanup", func(reg registry.Registry, ev *events) error {
		removed = removed[:0]
		reconcile(reg)
		for _, name := range reg.Names() {
			rec := reg[name]
			if rec.Status != registry.StatusStopped || rec.PID != 0 {
				continue
			}
			reg.Delete(name)
			ev.add(history.EventCleanup, *rec)
			removed = append(removed, name)
		}
		return nil
	})
	if removed == nil {
		removed = []string{}
	}
	return removed, err
}

// StopResult is the outcome of stopping one process in StopAll.
type StopResult struct {
	Name    string
	PID     int
	Outcome process.Outcome
	Err     error
}

// StopAll reconciles the registry and terminates every live process in
// parallel. Records are updated from the calling goroutine once all
// terminations finish. The returned error joins the per-process failures.
func (m *Manager) StopAll(ctx context.Context) ([]StopResult, error) {
	var results []StopResult
	err := m.update(ctx, "stop-all", func(reg registry.Registry, ev *events) error {
		reconcile(reg)
		var targets []*registry.Record
		for _, name := range reg.Names() {
			if rec := reg[name]; rec.PID != 0 {
				targets = append(targets, rec)
			}
		}
		results = make([]StopResult, len(targets))
		var g errgroup.Group
		for i, rec := range targets {
			id := identity(rec)
			results[i] = StopResult{Name: rec.Name, PID: rec.PID}
			m.note(rec.Name, "Stopping process...")
			g.Go(func() error {
				o, err := m.term.Terminate(ctx, id)
				results[i].Outcome = o
				results[i].Err = err
				return nil
			})
		}
		_ = g.Wait()

		var errs []error
		for i, rec := range targets {
			r := results[i]
			if r.Err != nil {
				m.note(rec.Name, "Failed to stop: "+r.Err.Error())
				errs = append(errs, fmt.Errorf("stop %s: %w", rec.Name, r.Err))
				continue
			}
			rec.MarkStopped()
			switch r.Outcome {
			case process.Graceful:
				m.note(rec.Name, "Process stopped")
				ev.add(history.EventStop, *rec)
			case process.Killed:
				m.note(rec.Name, "Process killed after grace period")
				ev.add(history.EventKill, *rec)
			}
		}
		return keep(errors.Join(errs...))
	})
	return results, err
}
