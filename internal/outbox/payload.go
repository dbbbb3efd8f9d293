package outbox

import (
	"time"

	"github.com/google/uuid"
)

// Event types carried by the outbox.
const (
	EventLeadCreated     = "lead.created"
	EventPropertyEnrich  = "property.enrich"
	EventChatInquiry     = "chat_inquiry"
	EventPropertyListing = "property_listing"
	EventPropertyInquiry = "property_inquiry"
)

// Payload is the closed set of outbox event bodies. Each implementation is
// validated with struct tags before it is rendered and stored.
type Payload interface {
	EventType() string
	isPayload()
}

// LeadSnapshot is the lead state captured at enqueue time.
type LeadSnapshot struct {
	ID             uuid.UUID      `json:"id" validate:"required"`
	Name           string         `json:"name"`
	Email          string         `json:"email" validate:"omitempty,email"`
	Phone          string         `json:"phone"`
	Source         string         `json:"source" validate:"required"`
	Status         string         `json:"status"`
	BuyOrRent      string         `json:"buy_or_rent,omitempty"`
	BudgetMax      *int64         `json:"budget_max,omitempty"`
	Beds           *int           `json:"beds,omitempty"`
	Areas          string         `json:"areas,omitempty"`
	Message        string         `json:"message,omitempty"`
	ConversationID string         `json:"conversation_id,omitempty"`
	UTMSource      string         `json:"utm_source,omitempty"`
	UTMCampaign    string         `json:"utm_campaign,omitempty"`
	Referrer       string         `json:"referrer,omitempty"`
	Attributes     map[string]any `json:"attributes,omitempty"`
	CreatedAt      time.Time      `json:"created_at" validate:"required"`
}

// PropertyRef is a short reference to a property.
type PropertyRef struct {
	ID    uuid.UUID `json:"id" validate:"required"`
	Slug  string    `json:"slug" validate:"required"`
	Title string    `json:"title"`
	City  string    `json:"city"`
	Price *int64    `json:"price,omitempty"`
}

// PropertySnapshot is the full property state captured at enqueue time.
type PropertySnapshot struct {
	ID           uuid.UUID `json:"id" validate:"required"`
	Slug         string    `json:"slug" validate:"required"`
	Title        string    `json:"title" validate:"required"`
	Description  string    `json:"description"`
	PriceAmount  *int64    `json:"price_amount,omitempty"`
	City         string    `json:"city"`
	Area         string    `json:"area"`
	Beds         *int      `json:"beds,omitempty"`
	Baths        *int      `json:"baths,omitempty"`
	FloorAreaSqm *int      `json:"floor_area_sqm,omitempty"`
	Badges       []string  `json:"badges"`
	CreatedAt    time.Time `json:"created_at"`
}

// LeadCreated announces a new lead to CRM and automation targets.
type LeadCreated struct {
	Lead LeadSnapshot `json:"lead"`
}

func (LeadCreated) EventType() string { return EventLeadCreated }
func (LeadCreated) isPayload()        {}

// PropertyEnrich asks n8n to enrich a draft upload or property.
type PropertyEnrich struct {
	UploadID    uuid.UUID  `json:"upload_id" validate:"required"`
	PropertyID  *uuid.UUID `json:"property_id,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	City        string     `json:"city"`
	Area        string     `json:"area"`
	PriceAmount *int64     `json:"price_amount,omitempty"`
	Beds        *int       `json:"beds,omitempty"`
	Baths       *int       `json:"baths,omitempty"`
	CallbackURL string     `json:"callback_url" validate:"omitempty,url"`
}

func (PropertyEnrich) EventType() string { return EventPropertyEnrich }
func (PropertyEnrich) isPayload()        {}

// ChatInquiry forwards a chat conversation that produced a lead.
type ChatInquiry struct {
	SessionID string       `json:"session_id" validate:"required"`
	Lead      LeadSnapshot `json:"lead"`
	Property  *PropertyRef `json:"property,omitempty"`
}

func (ChatInquiry) EventType() string { return EventChatInquiry }
func (ChatInquiry) isPayload()        {}

// PropertyListing announces a newly listed property.
type PropertyListing struct {
	Property         PropertySnapshot `json:"property"`
	UploadID         *uuid.UUID       `json:"upload_id,omitempty"`
	ValidationResult map[string]any   `json:"validation_result,omitempty"`
	MissingFields    []string         `json:"missing_fields,omitempty"`
	Source           string           `json:"source" validate:"required"`
}

func (PropertyListing) EventType() string { return EventPropertyListing }
func (PropertyListing) isPayload()        {}

// PropertyInquiry forwards a chat message that was matched to a property.
type PropertyInquiry struct {
	SessionID string      `json:"session_id" validate:"required"`
	LeadID    uuid.UUID   `json:"lead_id" validate:"required"`
	Property  PropertyRef `json:"property"`
	Message   string      `json:"message" validate:"required"`
	Referrer  string      `json:"referrer,omitempty"`
}

func (PropertyInquiry) EventType() string { return EventPropertyInquiry }
func (PropertyInquiry) isPayload()        {}
