package events

import (
	platformevents "estate_portal_backend/platform/events"
	"estate_portal_backend/platform/logger"
)

// InMemoryBus is the process-local bus shared by every module of a binary.
type InMemoryBus = platformevents.InMemoryBus

// NewInMemoryBus creates the bus; call Wait on shutdown to drain async handlers.
func NewInMemoryBus(log *logger.Logger) *InMemoryBus {
	return platformevents.NewInMemoryBus(log)
}
