// Package metrics exports supervisor state in the Prometheus text format for
// the node-exporter textfile collector. Each invocation rebuilds the gauges
// from the registry and rewrites the file.
package metrics

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/prometheus/common/model"

	"github.com/loykin/pmgr/internal/registry"
)

const namespace = "pmgr"

// Metrics holds the collectors on a private registry.
type Metrics struct {
	reg *prometheus.Registry

	processes  *prometheus.GaugeVec
	restarts   *prometheus.GaugeVec
	startTime  *prometheus.GaugeVec
	generation *prometheus.GaugeVec
	rss        *prometheus.GaugeVec
	cpu        *prometheus.GaugeVec
	actions    *prometheus.CounterVec

	seeded bool
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		processes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "processes",
			Help:      "Number of tracked processes per status.",
		}, []string{"status"}),
		restarts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "restarts",
			Help:      "Restart count recorded for the process.",
		}, []string{"name"}),
		startTime: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "start_time_seconds",
			Help:      "Start time of the running process since unix epoch in seconds.",
		}, []string{"name"}),
		generation: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "generation",
			Help:      "Number of launch attempts for the process.",
		}, []string{"name"}),
		rss: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "resident_memory_bytes",
			Help:      "Resident memory of the running process.",
		}, []string{"name"}),
		cpu: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "cpu_seconds",
			Help:      "User plus system CPU time consumed by the running process.",
		}, []string{"name"}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Supervisor actions by result.",
		}, []string{"action", "result"}),
	}
	m.reg.MustRegister(m.processes, m.restarts, m.startTime, m.generation, m.rss, m.cpu, m.actions)
	return m
}

// Registry exposes the private registry for gathering.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// ObserveAction counts one action with result "ok" or "error".
func (m *Metrics) ObserveAction(action string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.actions.WithLabelValues(action, result).Inc()
}

// ObserveRegistry replaces the per-process gauges with the state of recs.
func (m *Metrics) ObserveRegistry(recs []registry.Record) {
	m.processes.Reset()
	m.restarts.Reset()
	m.startTime.Reset()
	m.generation.Reset()
	m.rss.Reset()
	m.cpu.Reset()
	for _, st := range []registry.Status{registry.StatusRunning, registry.StatusStopped, registry.StatusErrored} {
		m.processes.WithLabelValues(string(st)).Set(0)
	}
	for _, r := range recs {
		m.processes.WithLabelValues(string(r.Status)).Inc()
		m.restarts.WithLabelValues(r.Name).Set(float64(r.RestartCount))
		m.generation.WithLabelValues(r.Name).Set(float64(r.Generation))
		if r.Status != registry.StatusRunning || r.PID == 0 {
			continue
		}
		if !r.StartTime.IsZero() {
			m.startTime.WithLabelValues(r.Name).Set(float64(r.StartTime.Unix()))
		}
		if u, ok := sample(r.PID); ok {
			m.rss.WithLabelValues(r.Name).Set(float64(u.rss))
			m.cpu.WithLabelValues(r.Name).Set(u.cpuSeconds)
		}
	}
}

// WriteTextfile writes the metrics to path atomically. Action counters from
// a previous file at path are carried over so they keep counting across
// invocations. Seeding happens on the first write only.
func (m *Metrics) WriteTextfile(path string) error {
	if !m.seeded {
		if err := m.seedActions(path); err != nil {
			return err
		}
		m.seeded = true
	}
	if err := prometheus.WriteToTextfile(path, m.reg); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

func (m *Metrics) seedActions(path string) error {
	// #nosec G304
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read metrics textfile: %w", err)
	}
	defer func() { _ = f.Close() }()
	parser := expfmt.NewTextParser(model.UTF8Validation)
	families, err := parser.TextToMetricFamilies(f)
	if err != nil {
		slog.Warn("Ignoring unreadable metrics textfile", "path", path, "error", err)
		return nil
	}
	fam, ok := families[namespace+"_actions_total"]
	if !ok {
		return nil
	}
	for _, metric := range fam.GetMetric() {
		var action, result string
		for _, lp := range metric.GetLabel() {
			switch lp.GetName() {
			case "action":
				action = lp.GetValue()
			case "result":
				result = lp.GetValue()
			}
		}
		v := metric.GetUntyped().GetValue()
		if c := metric.GetCounter(); c != nil {
			v = c.GetValue()
		}
		if action == "" || result == "" || v <= 0 {
			continue
		}
		m.actions.WithLabelValues(action, result).Add(v)
	}
	return nil
}
