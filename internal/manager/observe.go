package manager

import (
	"context"
	"errors"
	"log/slog"

	"github.com/loykin/pmgr/internal/history"
	"github.com/loykin/pmgr/internal/registry"
)

// events collects history events produced inside a registry update.
type events []history.Event

func (e *events) add(t history.EventType, rec registry.Record) {
	*e = append(*e, history.NewEvent(t, rec))
}

// publish sends evs to every sink. Delivery is best-effort: failures are
// logged and never fail the action. Sends survive caller cancellation so
// an interrupted stop is still exported.
func (m *Manager) publish(ctx context.Context, evs events) {
	if len(m.sinks) == 0 || len(evs) == 0 {
		return
	}
	base := context.WithoutCancel(ctx)
	for _, e := range evs {
		for _, s := range m.sinks {
			sctx, cancel := context.WithTimeout(base, historyTimeout)
			if err := s.Send(sctx, e); err != nil {
				slog.Warn("History export failed", "event", e.Type, "name", e.Record.Name, "error", err)
			}
			cancel()
		}
	}
}

// observe records the action and the registry state in the metrics textfile.
// It runs under the registry lock, which serializes textfile writers.
func (m *Manager) observe(action string, err error, reg registry.Registry) {
	if m.metrics == nil {
		return
	}
	var k *keepErr
	if errors.As(err, &k) {
		err = k.err
	}
	m.metrics.ObserveAction(action, err)
	m.metrics.ObserveRegistry(reg.Snapshot())
	if werr := m.metrics.WriteTextfile(m.textfile); werr != nil {
		slog.Warn("Metrics textfile write failed", "path", m.textfile, "error", werr)
	}
}
