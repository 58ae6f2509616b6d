package manager

import (
	"fmt"
	"io"

	"github.com/loykin/pmgr/internal/config"
	"github.com/loykin/pmgr/internal/env"
	"github.com/loykin/pmgr/internal/history"
	"github.com/loykin/pmgr/internal/history/factory"
	"github.com/loykin/pmgr/internal/logs"
	"github.com/loykin/pmgr/internal/process"
	"github.com/loykin/pmgr/internal/registry"
)

// Open builds a manager from resolved configuration: it opens the store,
// prepares the log directory, loads the global child environment and, when
// enabled, connects the history sink.
func Open(cfg *config.Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	lm, err := logs.New(cfg.Logs.Dir)
	if err != nil {
		return nil, err
	}
	lm.DefaultLines = cfg.Logs.DefaultLines

	vars, err := cfg.GlobalEnv()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	e := env.FromMap(vars)
	e.FromOS()

	var sinks []history.Sink
	if cfg.History.Enabled {
		s, err := factory.NewSinkFromDSN(cfg.History.DSN)
		if err != nil {
			return nil, fmt.Errorf("history sink: %w", err)
		}
		sinks = append(sinks, s)
	}

	st, err := registry.Open(cfg.Store)
	if err != nil {
		closeSinks(sinks)
		return nil, err
	}
	delay := cfg.Restart.Delay
	if delay == 0 {
		delay = -1
	}
	return New(Options{
		Store: st,
		Logs:  lm,
		Env:   e,
		Terminator: process.Terminator{
			GracePeriod: cfg.Stop.GracePeriod,
			KillWait:    cfg.Stop.KillWait,
		},
		RestartDelay:       delay,
		RemoveLogsOnDelete: cfg.Logs.RemoveOnDelete,
		History:            sinks,
		MetricsTextfile:    cfg.Metrics.Textfile,
	})
}

func closeSinks(sinks []history.Sink) {
	for _, s := range sinks {
		if c, ok := s.(io.Closer); ok {
			_ = c.Close()
		}
	}
}
