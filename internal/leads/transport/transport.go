package transport

import (
	"time"

	"github.com/google/uuid"
)

// IngestMessageRequest is one inbound conversation message from a channel integration.
type IngestMessageRequest struct {
	Channel        string         `json:"channel" validate:"required,oneof=chat facebook instagram email webform"`
	Direction      string         `json:"direction" validate:"omitempty,oneof=inbound outbound"`
	ThreadID       string         `json:"thread_id" validate:"required,max=255"`
	MessageID      string         `json:"message_id" validate:"omitempty,max=255"`
	Text           string         `json:"text" validate:"max=20000"`
	Name           string         `json:"name" validate:"omitempty,max=200"`
	Email          string         `json:"email" validate:"omitempty,email,max=254"`
	Phone          string         `json:"phone" validate:"omitempty,max=40"`
	BuyOrRent      string         `json:"buy_or_rent" validate:"omitempty,oneof=buy rent"`
	BudgetMax      *int64         `json:"budget_max" validate:"omitempty,gte=0"`
	Beds           *int           `json:"beds" validate:"omitempty,gte=0,lte=50"`
	Areas          string         `json:"areas" validate:"omitempty,max=500"`
	Payload        map[string]any `json:"payload"`
	UTMSource      string         `json:"utm_source" validate:"omitempty,max=200"`
	UTMMedium      string         `json:"utm_medium" validate:"omitempty,max=200"`
	UTMCampaign    string         `json:"utm_campaign" validate:"omitempty,max=200"`
	Referrer       string         `json:"referrer" validate:"omitempty,max=2000"`
	ConsentContact bool           `json:"consent_contact"`
}

// LinkResponse describes the property a message was linked to.
type LinkResponse struct {
	PropertyID   uuid.UUID `json:"property_id"`
	PropertySlug string    `json:"property_slug"`
	Confidence   float64   `json:"confidence"`
	Evidence     string    `json:"evidence"`
	Strategy     string    `json:"strategy"`
	Outcome      string    `json:"outcome"`
}

// IngestMessageResponse is returned for every accepted message, duplicates included.
type IngestMessageResponse struct {
	LeadID      uuid.UUID     `json:"lead_id"`
	MessageID   uuid.UUID     `json:"message_id"`
	LeadCreated bool          `json:"lead_created"`
	Duplicate   bool          `json:"duplicate"`
	Link        *LinkResponse `json:"link,omitempty"`
}

// ProcessingResultRequest is n8n's report after it processed a lead.
type ProcessingResultRequest struct {
	LeadID      uuid.UUID      `json:"lead_id" validate:"required"`
	WebhookSent *bool          `json:"webhook_sent"`
	Status      string         `json:"status" validate:"omitempty,max=64"`
	Details     map[string]any `json:"details"`
	ProcessedAt *time.Time     `json:"processed_at"`
}
