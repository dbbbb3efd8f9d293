package repository

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound             = errors.New("lead not found")
	ErrMessageNotFound      = errors.New("lead message not found")
	ErrOrganizationNotFound = errors.New("organization not found")
)

// Message channels accepted by ingestion.
const (
	ChannelChat      = "chat"
	ChannelFacebook  = "facebook"
	ChannelInstagram = "instagram"
	ChannelEmail     = "email"
	ChannelWebform   = "webform"
)

const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

type Lead struct {
	ID               uuid.UUID       `json:"id"`
	OrganizationID   uuid.UUID       `json:"organizationId"`
	Name             string          `json:"name"`
	Email            string          `json:"email"`
	Phone            string          `json:"phone"`
	BuyOrRent        string          `json:"buyOrRent,omitempty"`
	BudgetMax        *int64          `json:"budgetMax,omitempty"`
	Beds             *int            `json:"beds,omitempty"`
	Areas            string          `json:"areas,omitempty"`
	UTMSource        string          `json:"utmSource,omitempty"`
	UTMMedium        string          `json:"utmMedium,omitempty"`
	UTMCampaign      string          `json:"utmCampaign,omitempty"`
	Referrer         string          `json:"referrer,omitempty"`
	ConsentContact   bool            `json:"consentContact"`
	ProcessingStatus json.RawMessage `json:"processingStatus"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

type NewLead struct {
	OrganizationID uuid.UUID
	Name           string
	Email          string
	Phone          string
	BuyOrRent      string
	BudgetMax      *int64
	Beds           *int
	Areas          string
	UTMSource      string
	UTMMedium      string
	UTMCampaign    string
	Referrer       string
	ConsentContact bool
}

// Contact holds the identifying fields ingestion may learn about a lead over time.
type Contact struct {
	Name  string
	Email string
	Phone string
}

// LeadMatch is the identity used to find an existing lead, tried in field order.
type LeadMatch struct {
	Email    string
	Phone    string
	Channel  string
	ThreadID string
}

type Message struct {
	ID                uuid.UUID       `json:"id"`
	OrganizationID    uuid.UUID       `json:"organizationId"`
	LeadID            *uuid.UUID      `json:"leadId,omitempty"`
	Channel           string          `json:"channel"`
	Direction         string          `json:"direction"`
	ThreadID          string          `json:"threadId"`
	ExternalMessageID *string         `json:"externalMessageId,omitempty"`
	Body              string          `json:"body"`
	RawPayload        json.RawMessage `json:"rawPayload"`
	CreatedAt         time.Time       `json:"createdAt"`
}

type NewMessage struct {
	OrganizationID    uuid.UUID
	LeadID            uuid.UUID
	Channel           string
	Direction         string
	ThreadID          string
	ExternalMessageID string
	Body              string
	RawPayload        json.RawMessage
}

// Link is a scored association between a lead and a property.
type Link struct {
	ID             uuid.UUID `json:"id"`
	OrganizationID uuid.UUID `json:"organizationId"`
	LeadID         uuid.UUID `json:"leadId"`
	PropertyID     uuid.UUID `json:"propertyId"`
	Confidence     float64   `json:"confidence"`
	Evidence       string    `json:"evidence"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// LinkOutcome reports what an upsert did to the stored link.
type LinkOutcome string

const (
	LinkCreated   LinkOutcome = "created"
	LinkUpgraded  LinkOutcome = "upgraded"
	LinkUnchanged LinkOutcome = "unchanged"
)

// Changed reports whether the upsert wrote anything.
func (o LinkOutcome) Changed() bool {
	return o == LinkCreated || o == LinkUpgraded
}
