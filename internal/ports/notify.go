package ports

import (
	"context"
	"time"

	"redflag/internal/domain"
)

type EventKind string

const (
	EventFlagCreated     EventKind = "flag.created"
	EventFlagUpdated     EventKind = "flag.updated"
	EventEvidenceAdded   EventKind = "flag.evidence_added"
	EventExportCompleted EventKind = "export.completed"
	EventExportFailed    EventKind = "export.failed"
)

// Event is emitted after a mutation or export has been committed.
type Event struct {
	Kind       EventKind         `json:"kind"`
	FlagID     string            `json:"flag_id,omitempty"`
	JobID      string            `json:"job_id,omitempty"`
	ActionType domain.ActionType `json:"action_type,omitempty"`
	ActorID    string            `json:"actor_id,omitempty"`
	Status     string            `json:"status,omitempty"`
	At         time.Time         `json:"at"`
}

// Notifier delivers events to whatever transport is configured. Delivery is
// best effort; the core does not retry.
type Notifier interface {
	Publish(ctx context.Context, ev Event) error
}

type NotifierFunc func(ctx context.Context, ev Event) error

func (f NotifierFunc) Publish(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Notifiers fans an event out to every member and returns the first error.
type Notifiers []Notifier

func (ns Notifiers) Publish(ctx context.Context, ev Event) error {
	var first error
	for _, n := range ns {
		if err := n.Publish(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// NopNotifier drops every event.
var NopNotifier Notifier = NotifierFunc(func(context.Context, Event) error { return nil })
