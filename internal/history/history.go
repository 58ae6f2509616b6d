// Package history exports process lifecycle events to external systems.
package history

import (
	"context"
	"time"

	"github.com/loykin/pmgr/internal/registry"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart      EventType = "start"
	EventStop       EventType = "stop"
	EventKill       EventType = "kill"
	EventSpawnError EventType = "spawn_error"
	EventRestart    EventType = "restart"
	EventDelete     EventType = "delete"
	EventCleanup    EventType = "cleanup"
)

// Event is one lifecycle transition with a snapshot of the record after it.
type Event struct {
	Type       EventType       `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Record     registry.Record `json:"record"`
}

// NewEvent stamps an event for rec at the current time.
func NewEvent(t EventType, rec registry.Record) Event {
	return Event{Type: t, OccurredAt: time.Now().UTC(), Record: rec.Clone()}
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Row is the flat projection the SQL sinks store.
type Row struct {
	OccurredAt   time.Time
	Type         string
	Name         string
	PID          int
	InstanceID   string
	Generation   int
	Status       string
	RestartCount int
	Error        string
}

// Flatten projects e onto a Row.
func Flatten(e Event) Row {
	return Row{
		OccurredAt:   e.OccurredAt.UTC(),
		Type:         string(e.Type),
		Name:         e.Record.Name,
		PID:          e.Record.PID,
		InstanceID:   e.Record.InstanceID,
		Generation:   e.Record.Generation,
		Status:       string(e.Record.Status),
		RestartCount: e.Record.RestartCount,
		Error:        e.Record.LastError,
	}
}
