// Package events holds the domain events exchanged between the leads,
// properties and outbox modules. The bus itself lives in platform/events.
package events

import (
	"encoding/json"

	"estate_portal_backend/platform/events"

	"github.com/google/uuid"
)

type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

var (
	NewBaseEvent   = events.NewBaseEvent
	NewBaseEventAt = events.NewBaseEventAt
)

var (
	_ events.Scoped = LeadCreated{}
	_ events.Scoped = LeadPropertyLinked{}
	_ events.Scoped = PropertyCreated{}
	_ events.Scoped = PropertyEnriched{}
	_ events.Scoped = OutboxMessageFailed{}
)

// =============================================================================
// Lead Domain Events
// =============================================================================

// LeadCreated is published after a new lead is committed.
type LeadCreated struct {
	BaseEvent
	LeadID         uuid.UUID `json:"leadId"`
	OrganizationID uuid.UUID `json:"organizationId"`
	Channel        string    `json:"channel"`
}

func (e LeadCreated) EventName() string       { return "leads.lead.created" }
func (e LeadCreated) Organization() uuid.UUID { return e.OrganizationID }

// LeadPropertyLinked is published when a lead gets a new or stronger property link.
type LeadPropertyLinked struct {
	BaseEvent
	LeadID         uuid.UUID `json:"leadId"`
	PropertyID     uuid.UUID `json:"propertyId"`
	OrganizationID uuid.UUID `json:"organizationId"`
	Confidence     float64   `json:"confidence"`
	Strategy       string    `json:"strategy"`
}

func (e LeadPropertyLinked) EventName() string       { return "leads.property.linked" }
func (e LeadPropertyLinked) Organization() uuid.UUID { return e.OrganizationID }

// =============================================================================
// Property Domain Events
// =============================================================================

// PropertyCreated is published when an upload is promoted to a live property.
type PropertyCreated struct {
	BaseEvent
	PropertyID     uuid.UUID  `json:"propertyId"`
	OrganizationID uuid.UUID  `json:"organizationId"`
	UploadID       *uuid.UUID `json:"uploadId,omitempty"`
}

func (e PropertyCreated) EventName() string       { return "properties.property.created" }
func (e PropertyCreated) Organization() uuid.UUID { return e.OrganizationID }

// PropertyEnriched is published when external enrichment data is stored on a property.
type PropertyEnriched struct {
	BaseEvent
	PropertyID     uuid.UUID `json:"propertyId"`
	OrganizationID uuid.UUID `json:"organizationId"`
}

func (e PropertyEnriched) EventName() string       { return "properties.property.enriched" }
func (e PropertyEnriched) Organization() uuid.UUID { return e.OrganizationID }

// =============================================================================
// Outbox Domain Events
// =============================================================================

// OutboxMessageFailed is published when an outbox row reaches the terminal failed state.
type OutboxMessageFailed struct {
	BaseEvent
	OutboxID       uuid.UUID       `json:"outboxId"`
	OrganizationID uuid.UUID       `json:"organizationId"`
	EventType      string          `json:"eventType"`
	Target         string          `json:"target"`
	Attempts       int             `json:"attempts"`
	LastStatusCode *int            `json:"lastStatusCode,omitempty"`
	LastError      string          `json:"lastError"`
	Payload        json.RawMessage `json:"payload"`
}

func (e OutboxMessageFailed) EventName() string       { return "outbox.message.failed" }
func (e OutboxMessageFailed) Organization() uuid.UUID { return e.OrganizationID }
