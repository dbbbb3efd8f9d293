// Package events is the in-process publish/subscribe bus that carries lead,
// property and outbox notifications between modules.
package events

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event is a notification published on the bus. Names have the form
// "<module>.<entity>.<action>", e.g. "leads.lead.created".
type Event interface {
	EventName() string
	OccurredAt() time.Time
}

// Scoped is implemented by events that belong to one organization.
type Scoped interface {
	Organization() uuid.UUID
}

// Module returns the first segment of the event's name.
func Module(event Event) string {
	name := event.EventName()
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return name[:i]
	}
	return name
}

// OrganizationOf returns the owning organization of a scoped event, or uuid.Nil.
func OrganizationOf(event Event) uuid.UUID {
	if s, ok := event.(Scoped); ok {
		return s.Organization()
	}
	return uuid.Nil
}

// BaseEvent carries the publication time.
type BaseEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// NewBaseEvent stamps an event with the wall clock.
func NewBaseEvent() BaseEvent {
	return NewBaseEventAt(time.Now())
}

// NewBaseEventAt stamps an event with t, normalised to UTC.
func NewBaseEventAt(t time.Time) BaseEvent {
	return BaseEvent{Timestamp: t.UTC()}
}

// Handler reacts to one published event.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, event Event) error

func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Bus routes events to the handlers subscribed to their name.
type Bus interface {
	// Publish runs handlers in the background; failures are only logged.
	Publish(ctx context.Context, event Event)
	// PublishSync runs handlers in order and returns their joined errors.
	PublishSync(ctx context.Context, event Event) error
	Subscribe(eventName string, handler Handler)
}
