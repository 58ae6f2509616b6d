package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loykin/pmgr/internal/detector"
)

// Outcome is how a termination ended.
type Outcome int

const (
	NotRunning Outcome = iota // nothing alive to stop
	Graceful                  // exited within the grace period
	Killed                    // needed SIGKILL
)

func (o Outcome) String() string {
	switch o {
	case NotRunning:
		return "not running"
	case Graceful:
		return "stopped"
	case Killed:
		return "killed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// ErrStillAlive is returned when a process survives SIGKILL and the kill wait.
var ErrStillAlive = errors.New("process still alive after kill")

const (
	DefaultGracePeriod  = 5 * time.Second
	DefaultKillWait     = 2 * time.Second
	defaultPollInterval = 50 * time.Millisecond
)

// Terminator stops a process group: SIGTERM, wait up to GracePeriod, then
// SIGKILL and wait up to KillWait. Terminate returns only once the outcome
// is known.
type Terminator struct {
	GracePeriod  time.Duration
	KillWait     time.Duration
	PollInterval time.Duration
}

func (t Terminator) grace() time.Duration {
	if t.GracePeriod > 0 {
		return t.GracePeriod
	}
	return DefaultGracePeriod
}

func (t Terminator) killWait() time.Duration {
	if t.KillWait > 0 {
		return t.KillWait
	}
	return DefaultKillWait
}

func (t Terminator) poll() time.Duration {
	if t.PollInterval > 0 {
		return t.PollInterval
	}
	return defaultPollInterval
}

// Terminate stops the process named by id. Cancelling ctx cuts the grace
// period short and escalates to SIGKILL immediately; the kill wait itself
// is not cancellable.
func (t Terminator) Terminate(ctx context.Context, id detector.Identity) (Outcome, error) {
	if !id.Alive() {
		return NotRunning, nil
	}
	if err := signalGroup(id.PID, sigTerm); err != nil {
		if !id.Alive() {
			return Graceful, nil
		}
		slog.Warn("SIGTERM failed, escalating", "pid", id.PID, "error", err)
	} else if t.waitGone(ctx, id, t.grace()) {
		return Graceful, nil
	}

	slog.Info("Grace period elapsed, sending SIGKILL", "pid", id.PID, "grace", t.grace())
	if err := signalGroup(id.PID, sigKill); err != nil && id.Alive() {
		return Killed, fmt.Errorf("kill pid %d: %w", id.PID, err)
	}
	if t.waitGone(context.Background(), id, t.killWait()) {
		return Killed, nil
	}
	return Killed, fmt.Errorf("%w: pid %d", ErrStillAlive, id.PID)
}

// waitGone polls until id is no longer alive, d elapses, or ctx is done.
func (t Terminator) waitGone(ctx context.Context, id detector.Identity, d time.Duration) bool {
	deadline := time.NewTimer(d)
	defer deadline.Stop()
	tick := time.NewTicker(t.poll())
	defer tick.Stop()
	for {
		if !id.Alive() {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return !id.Alive()
		case <-tick.C:
		}
	}
}
