package properties

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"estate_portal_backend/internal/outbox"
	"estate_portal_backend/platform/db"
	"estate_portal_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
)

const maxSlugSuffix = 1000

// UploadStore is the persistence used by promotion and the job result appliers.
type UploadStore interface {
	LockUpload(ctx context.Context, q db.DBTX, id uuid.UUID) (Upload, error)
	SaveEnrichment(ctx context.Context, q db.DBTX, id uuid.UUID, description string, enrichment json.RawMessage, at time.Time) (Upload, error)
	SaveValidation(ctx context.Context, q db.DBTX, id uuid.UUID, validation json.RawMessage, missing []string) (Upload, error)
	SlugExists(ctx context.Context, q db.DBTX, orgID uuid.UUID, slug string) (bool, error)
	InsertProperty(ctx context.Context, q db.DBTX, np NewProperty) (Property, error)
	CompleteUpload(ctx context.Context, q db.DBTX, id, propertyID uuid.UUID) error
	OrganizationSlug(ctx context.Context, q db.DBTX, orgID uuid.UUID) (string, error)
}

// OutboxWriter enqueues webhook messages inside the caller's transaction.
type OutboxWriter interface {
	Enqueue(ctx context.Context, q db.DBTX, msg outbox.Message) (outbox.Record, error)
	HasTarget(name string) bool
}

// Promoter turns a validated upload into a live property.
type Promoter struct {
	store  UploadStore
	outbox OutboxWriter
	log    *logger.Logger
}

// NewPromoter creates a promoter. outbox may be nil.
func NewPromoter(store UploadStore, ob OutboxWriter, log *logger.Logger) *Promoter {
	return &Promoter{store: store, outbox: ob, log: log}
}

// Promote creates the property for u using q, marks the upload complete and
// enqueues a property_listing announcement. An upload that already has a
// property is returned as is with promoted=false.
func (p *Promoter) Promote(ctx context.Context, q db.DBTX, u Upload) (prop Property, promoted bool, err error) {
	if u.PropertyID != nil {
		return Property{ID: *u.PropertyID, OrganizationID: u.OrganizationID}, false, nil
	}

	s, err := p.UniqueSlug(ctx, q, u.OrganizationID, u.Title, u.City)
	if err != nil {
		return Property{}, false, err
	}

	title := strings.TrimSpace(u.Title)
	if title == "" {
		title = "Untitled Property"
	}
	prop, err = p.store.InsertProperty(ctx, q, NewProperty{
		OrganizationID: u.OrganizationID,
		Slug:           s,
		Title:          title,
		Description:    u.Description,
		PriceAmount:    u.PriceAmount,
		City:           u.City,
		Area:           u.Area,
		Beds:           u.Beds,
		Baths:          u.Baths,
		FloorAreaSqm:   u.FloorAreaSqm,
		Badges:         []string{BadgeAIValidated},
	})
	if err != nil {
		return Property{}, false, err
	}
	if err := p.store.CompleteUpload(ctx, q, u.ID, prop.ID); err != nil {
		return Property{}, false, err
	}

	p.announce(ctx, q, u, prop)
	return prop, true, nil
}

// UniqueSlug derives a slug from title and city and appends -2, -3, ... until it
// is free within the organization.
func (p *Promoter) UniqueSlug(ctx context.Context, q db.DBTX, orgID uuid.UUID, title, city string) (string, error) {
	base := slug.Make(strings.TrimSpace(title + " " + city))
	if base == "" {
		base = "property"
	}

	candidate := base
	for n := 2; n <= maxSlugSuffix; n++ {
		taken, err := p.store.SlugExists(ctx, q, orgID, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, n)
	}
	return "", errors.New("no free slug for " + base)
}

// announce enqueues the listing inside its own savepoint of q. A failure is
// logged and rolls back only the announcement, never the promotion.
func (p *Promoter) announce(ctx context.Context, q db.DBTX, u Upload, prop Property) {
	if p.outbox == nil || !p.outbox.HasTarget(outbox.TargetN8N) {
		return
	}

	var validation map[string]any
	if len(u.AIValidationResult) > 0 {
		_ = json.Unmarshal(u.AIValidationResult, &validation)
	}
	uploadID := u.ID

	err := db.WithSavepoint(ctx, q, func(sq db.DBTX) error {
		orgSlug, err := p.store.OrganizationSlug(ctx, sq, u.OrganizationID)
		if err != nil {
			return err
		}
		_, err = p.outbox.Enqueue(ctx, sq, outbox.Message{
			OrganizationID:   u.OrganizationID,
			OrganizationSlug: orgSlug,
			Target:           outbox.TargetN8N,
			Payload: outbox.PropertyListing{
				Property:         snapshot(prop),
				UploadID:         &uploadID,
				ValidationResult: validation,
				MissingFields:    u.MissingFields,
				Source:           "upload_promotion",
			},
		})
		return err
	})
	if err != nil {
		p.log.Warn("property listing not announced", "property_id", prop.ID.String(), "error", err)
	}
}

func snapshot(p Property) outbox.PropertySnapshot {
	return outbox.PropertySnapshot{
		ID:           p.ID,
		Slug:         p.Slug,
		Title:        p.Title,
		Description:  p.Description,
		PriceAmount:  p.PriceAmount,
		City:         p.City,
		Area:         p.Area,
		Beds:         p.Beds,
		Baths:        p.Baths,
		FloorAreaSqm: p.FloorAreaSqm,
		Badges:       p.Badges,
		CreatedAt:    p.CreatedAt,
	}
}
