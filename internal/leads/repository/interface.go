package repository

import (
	"context"
	"encoding/json"

	"estate_portal_backend/platform/db"

	"github.com/google/uuid"
)

// IngestTx is the transactional view used while appending a message.
type IngestTx interface {
	// Querier exposes the transaction for writers owned by other modules.
	Querier() db.DBTX
	// LockIdentity serialises concurrent ingests for the same contact until commit.
	LockIdentity(ctx context.Context, orgID uuid.UUID, key string) error
	FindMessage(ctx context.Context, orgID uuid.UUID, channel, externalID string) (Message, error)
	FindLead(ctx context.Context, orgID uuid.UUID, match LeadMatch) (Lead, error)
	InsertLead(ctx context.Context, nl NewLead) (Lead, error)
	FillContact(ctx context.Context, leadID uuid.UUID, c Contact) (Lead, error)
	// InsertMessage reports false when the external message id was already stored.
	InsertMessage(ctx context.Context, nm NewMessage) (Message, bool, error)
	// Savepoint runs fn in a nested transaction whose failure does not abort the outer one.
	Savepoint(ctx context.Context, fn func(q db.DBTX) error) error
}

// LeadReader provides read-only access to leads.
type LeadReader interface {
	GetByID(ctx context.Context, orgID, id uuid.UUID) (Lead, error)
	OrganizationIDBySlug(ctx context.Context, slug string) (uuid.UUID, error)
	OrganizationSlug(ctx context.Context, orgID uuid.UUID) (string, error)
}

// LinkStore persists lead to property links.
type LinkStore interface {
	UpsertLink(ctx context.Context, orgID, leadID, propertyID uuid.UUID, confidence float64, evidence string) (Link, LinkOutcome, error)
	ListLinks(ctx context.Context, leadID uuid.UUID) ([]Link, error)
}

// LeadStore is everything the leads service needs from storage.
type LeadStore interface {
	LeadReader
	LinkStore
	InTx(ctx context.Context, fn func(tx IngestTx) error) error
	MergeProcessingStatus(ctx context.Context, leadID uuid.UUID, status json.RawMessage) (Lead, error)
}
