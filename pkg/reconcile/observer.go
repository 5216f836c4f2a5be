package reconcile

import (
	"context"
	"time"

	"github.com/example/marketplace/pkg/models"
)

type EventKind string

const (
	EventCreated    EventKind = "created"
	EventCommitted  EventKind = "committed"
	EventRolledBack EventKind = "rolled_back"
	EventRejected   EventKind = "rejected"
)

// Event describes the outcome of one mutation attempt.
type Event struct {
	Kind     EventKind
	OrderID  string
	Action   string
	Actor    models.Actor
	From     models.Status
	To       models.Status
	Order    *models.Order
	Err      error
	Duration time.Duration
}

// Observer is notified after the outcome of a mutation is known. Observers run
// on the order's actor and must not call back into the coordinator.
type Observer interface {
	Observe(ctx context.Context, ev Event)
}

type ObserverFunc func(ctx context.Context, ev Event)

func (f ObserverFunc) Observe(ctx context.Context, ev Event) {
	f(ctx, ev)
}
