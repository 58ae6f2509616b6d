// Package pmgr embeds the local process supervisor in other programs. It is
// the same engine the pmgr command drives: every call is one locked update
// of the on-disk registry, so embedders and CLI invocations can share a home
// directory.
package pmgr

import (
	"context"
	"io"

	cfg "github.com/loykin/pmgr/internal/config"
	"github.com/loykin/pmgr/internal/history"
	"github.com/loykin/pmgr/internal/logs"
	"github.com/loykin/pmgr/internal/manager"
	"github.com/loykin/pmgr/internal/process"
	"github.com/loykin/pmgr/internal/registry"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = cfg.Config

type ConfigOptions = cfg.Options

type Spec = process.Spec

type Record = registry.Record

type Status = registry.Status

type Outcome = process.Outcome

type StopResult = manager.StopResult

type HistorySink = history.Sink

type HistoryEvent = history.Event

const (
	StatusRunning = registry.StatusRunning
	StatusStopped = registry.StatusStopped
	StatusErrored = registry.StatusErrored
)

var (
	ErrNotFound       = manager.ErrNotFound
	ErrAlreadyRunning = manager.ErrAlreadyRunning
	ErrInvalid        = manager.ErrInvalid
	ErrStillAlive     = process.ErrStillAlive
	ErrNoLogs         = logs.ErrNoLogs
)

// SpawnError reports a child the OS refused to create.
type SpawnError = process.SpawnError

// LoadConfig resolves configuration from defaults, the config file and
// PMGR_* variables.
func LoadConfig(opts ConfigOptions) (*Config, error) { return cfg.Load(opts) }

// DefaultConfig returns the configuration rooted at ~/.pm-manager.
func DefaultConfig() (*Config, error) { return cfg.Default() }

// Manager is a thin facade over internal/manager.Manager.
type Manager struct{ inner *manager.Manager }

// New opens a manager for c.
func New(c *Config) (*Manager, error) {
	inner, err := manager.Open(c)
	if err != nil {
		return nil, err
	}
	return &Manager{inner: inner}, nil
}

func (m *Manager) Close() error { return m.inner.Close() }

func (m *Manager) Start(ctx context.Context, s Spec) (Record, error) { return m.inner.Start(ctx, s) }
func (m *Manager) Stop(ctx context.Context, name string) (Outcome, error) {
	return m.inner.Stop(ctx, name)
}
func (m *Manager) Restart(ctx context.Context, name string) (Record, error) {
	return m.inner.Restart(ctx, name)
}
func (m *Manager) Delete(ctx context.Context, name string) error { return m.inner.Delete(ctx, name) }
func (m *Manager) Get(ctx context.Context, name string) (Record, error) {
	return m.inner.Get(ctx, name)
}
func (m *Manager) List(ctx context.Context) ([]Record, error)        { return m.inner.List(ctx) }
func (m *Manager) StopAll(ctx context.Context) ([]StopResult, error) { return m.inner.StopAll(ctx) }
func (m *Manager) Cleanup(ctx context.Context) ([]string, error)     { return m.inner.Cleanup(ctx) }
func (m *Manager) Logs(name string, lines int) ([]string, error)     { return m.inner.Logs(name, lines) }
func (m *Manager) Follow(ctx context.Context, name string, lines int, w io.Writer) error {
	return m.inner.Follow(ctx, name, lines, w)
}
