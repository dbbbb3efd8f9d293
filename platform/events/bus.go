package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"estate_portal_backend/platform/logger"

	"github.com/google/uuid"
)

// InMemoryBus is a process-local Bus. Async handlers run on their own
// goroutine with a context detached from the publisher's cancellation.
type InMemoryBus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	log      *logger.Logger
	wg       sync.WaitGroup
}

// NewInMemoryBus creates an empty bus.
func NewInMemoryBus(log *logger.Logger) *InMemoryBus {
	return &InMemoryBus{
		handlers: make(map[string][]Handler),
		log:      log,
	}
}

// Subscribe registers handler for eventName.
func (b *InMemoryBus) Subscribe(eventName string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventName] = append(b.handlers[eventName], handler)
}

func (b *InMemoryBus) handlersFor(name string) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	hs := b.handlers[name]
	out := make([]Handler, len(hs))
	copy(out, hs)
	return out
}

// Publish dispatches event to every handler in the background.
func (b *InMemoryBus) Publish(ctx context.Context, event Event) {
	detached := context.WithoutCancel(ctx)
	for _, h := range b.handlersFor(event.EventName()) {
		b.wg.Add(1)
		go func(h Handler) {
			defer b.wg.Done()
			defer func() {
				if r := recover(); r != nil && b.log != nil {
					b.log.Error("event handler panicked", append(eventFields(event), "panic", fmt.Sprint(r))...)
				}
			}()
			if err := h.Handle(detached, event); err != nil && b.log != nil {
				b.log.Error("event handler failed", append(eventFields(event), "error", err)...)
			}
		}(h)
	}
}

// PublishSync runs every handler in registration order and joins their errors.
func (b *InMemoryBus) PublishSync(ctx context.Context, event Event) error {
	var errs []error
	for _, h := range b.handlersFor(event.EventName()) {
		if err := h.Handle(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Wait blocks until in-flight async handlers finish. Used on shutdown and in tests.
func (b *InMemoryBus) Wait() {
	b.wg.Wait()
}

// eventFields names the event, its module and, when scoped, its organization.
func eventFields(event Event) []any {
	fields := []any{"event", event.EventName(), "module", Module(event)}
	if org := OrganizationOf(event); org != uuid.Nil {
		fields = append(fields, "organization_id", org.String())
	}
	return fields
}

var _ Bus = (*InMemoryBus)(nil)
