// Package properties owns listings and the draft uploads that n8n jobs enrich,
// validate and finally promote into live properties.
package properties

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Property statuses.
const (
	StatusActive   = "active"
	StatusArchived = "archived"
)

// UploadStatus is the lifecycle of a draft listing.
type UploadStatus string

const (
	UploadPending    UploadStatus = "pending"
	UploadProcessing UploadStatus = "processing"
	UploadComplete   UploadStatus = "complete"
	UploadFailed     UploadStatus = "failed"
)

// BadgeAIValidated marks properties promoted from an AI-checked upload.
const BadgeAIValidated = "AI-Validated"

var (
	ErrNotFound       = errors.New("property not found")
	ErrUploadNotFound = errors.New("property upload not found")
)

// Property is a live listing.
type Property struct {
	ID             uuid.UUID       `json:"id"`
	OrganizationID uuid.UUID       `json:"organizationId"`
	Slug           string          `json:"slug"`
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	PriceAmount    *int64          `json:"priceAmount,omitempty"`
	City           string          `json:"city"`
	Area           string          `json:"area"`
	Beds           *int            `json:"beds,omitempty"`
	Baths          *int            `json:"baths,omitempty"`
	FloorAreaSqm   *int            `json:"floorAreaSqm,omitempty"`
	Badges         []string        `json:"badges"`
	Status         string          `json:"status"`
	Enrichment     json.RawMessage `json:"enrichment,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// NewProperty is the insert shape used by promotion.
type NewProperty struct {
	OrganizationID uuid.UUID
	Slug           string
	Title          string
	Description    string
	PriceAmount    *int64
	City           string
	Area           string
	Beds           *int
	Baths          *int
	FloorAreaSqm   *int
	Badges         []string
}

// Upload is a draft listing.
type Upload struct {
	ID                 uuid.UUID       `json:"id"`
	OrganizationID     uuid.UUID       `json:"organizationId"`
	Title              string          `json:"title"`
	Description        string          `json:"description"`
	PriceAmount        *int64          `json:"priceAmount,omitempty"`
	City               string          `json:"city"`
	Area               string          `json:"area"`
	Beds               *int            `json:"beds,omitempty"`
	Baths              *int            `json:"baths,omitempty"`
	FloorAreaSqm       *int            `json:"floorAreaSqm,omitempty"`
	Features           []string        `json:"features"`
	Status             UploadStatus    `json:"status"`
	AIEnrichment       json.RawMessage `json:"aiEnrichment,omitempty"`
	EnrichedAt         *time.Time      `json:"enrichedAt,omitempty"`
	AIValidationResult json.RawMessage `json:"aiValidationResult,omitempty"`
	MissingFields      []string        `json:"missingFields"`
	PropertyID         *uuid.UUID      `json:"propertyId,omitempty"`
	CreatedAt          time.Time       `json:"createdAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`
}

// HasListingBasics reports whether the upload can be listed without further validation.
func (u Upload) HasListingBasics() bool {
	return u.Title != "" && u.PriceAmount != nil && *u.PriceAmount > 0 && u.City != ""
}

// NewUpload is the insert shape for a draft.
type NewUpload struct {
	OrganizationID uuid.UUID
	Title          string
	Description    string
	PriceAmount    *int64
	City           string
	Area           string
	Beds           *int
	Baths          *int
	FloorAreaSqm   *int
	Features       []string
}

// Enrichment is the n8n market-data callback stored on a property.
type Enrichment struct {
	Narrative       string `json:"narrative,omitempty"`
	Estimate        *int64 `json:"estimate,omitempty"`
	NeighborhoodAvg *int64 `json:"neighborhood_avg,omitempty"`
	Source          string `json:"source"`
}
