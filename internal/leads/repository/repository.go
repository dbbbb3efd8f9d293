package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"estate_portal_backend/platform/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const leadColumns = `id, organization_id, name, email, phone, buy_or_rent, budget_max, beds, areas,
	utm_source, utm_medium, utm_campaign, referrer, consent_contact, processing_status, created_at, updated_at`

const messageColumns = `id, organization_id, lead_id, channel, direction, external_thread_id,
	external_message_id, body, raw_payload, created_at`

const linkColumns = `id, organization_id, lead_id, property_id, confidence, evidence, created_at, updated_at`

const upsertLinkSQL = `
	INSERT INTO lead_property_links (organization_id, lead_id, property_id, confidence, evidence)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (lead_id, property_id) DO UPDATE
	SET confidence = EXCLUDED.confidence,
	    evidence = EXCLUDED.evidence,
	    updated_at = now()
	WHERE lead_property_links.confidence < EXCLUDED.confidence
	RETURNING ` + linkColumns + `, (xmax = 0) AS inserted`

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ LeadStore = (*Repository)(nil)

// prefixed qualifies every column in cols with alias.
func prefixed(alias, cols string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = alias + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func scanLead(row pgx.Row) (Lead, error) {
	var l Lead
	err := row.Scan(&l.ID, &l.OrganizationID, &l.Name, &l.Email, &l.Phone, &l.BuyOrRent, &l.BudgetMax, &l.Beds,
		&l.Areas, &l.UTMSource, &l.UTMMedium, &l.UTMCampaign, &l.Referrer, &l.ConsentContact, &l.ProcessingStatus,
		&l.CreatedAt, &l.UpdatedAt)
	return l, err
}

func scanMessage(row pgx.Row) (Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.OrganizationID, &m.LeadID, &m.Channel, &m.Direction, &m.ThreadID,
		&m.ExternalMessageID, &m.Body, &m.RawPayload, &m.CreatedAt)
	return m, err
}

func scanLink(row pgx.Row) (Link, error) {
	var l Link
	err := row.Scan(&l.ID, &l.OrganizationID, &l.LeadID, &l.PropertyID, &l.Confidence, &l.Evidence, &l.CreatedAt, &l.UpdatedAt)
	return l, err
}

// InTx runs fn inside one database transaction.
func (r *Repository) InTx(ctx context.Context, fn func(tx IngestTx) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(&ingestTx{tx: tx})
	})
}

func (r *Repository) GetByID(ctx context.Context, orgID, id uuid.UUID) (Lead, error) {
	l, err := scanLead(r.pool.QueryRow(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE id = $1 AND organization_id = $2`, id, orgID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Lead{}, ErrNotFound
	}
	if err != nil {
		return Lead{}, fmt.Errorf("get lead: %w", err)
	}
	return l, nil
}

func (r *Repository) OrganizationIDBySlug(ctx context.Context, slug string) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.pool.QueryRow(ctx, `SELECT id FROM organizations WHERE slug = $1`, slug).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, ErrOrganizationNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("organization by slug: %w", err)
	}
	return id, nil
}

func (r *Repository) OrganizationSlug(ctx context.Context, orgID uuid.UUID) (string, error) {
	var slug string
	err := r.pool.QueryRow(ctx, `SELECT slug FROM organizations WHERE id = $1`, orgID).Scan(&slug)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrOrganizationNotFound
	}
	if err != nil {
		return "", fmt.Errorf("organization slug: %w", err)
	}
	return slug, nil
}

// UpsertLink stores a link or raises the confidence of an existing one in a single
// statement. A weaker or equal confidence leaves the stored row untouched.
func (r *Repository) UpsertLink(ctx context.Context, orgID, leadID, propertyID uuid.UUID, confidence float64, evidence string) (Link, LinkOutcome, error) {
	var (
		l        Link
		inserted bool
	)
	err := r.pool.QueryRow(ctx, upsertLinkSQL, orgID, leadID, propertyID, confidence, evidence).Scan(
		&l.ID, &l.OrganizationID, &l.LeadID, &l.PropertyID, &l.Confidence, &l.Evidence, &l.CreatedAt, &l.UpdatedAt, &inserted)
	if err == nil {
		if inserted {
			return l, LinkCreated, nil
		}
		return l, LinkUpgraded, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Link{}, "", fmt.Errorf("upsert lead property link: %w", err)
	}

	existing, err := scanLink(r.pool.QueryRow(ctx,
		`SELECT `+linkColumns+` FROM lead_property_links WHERE lead_id = $1 AND property_id = $2`, leadID, propertyID))
	if err != nil {
		return Link{}, "", fmt.Errorf("read lead property link: %w", err)
	}
	return existing, LinkUnchanged, nil
}

// ListLinks returns a lead's links, strongest first.
func (r *Repository) ListLinks(ctx context.Context, leadID uuid.UUID) ([]Link, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+linkColumns+`
		FROM lead_property_links
		WHERE lead_id = $1
		ORDER BY confidence DESC, created_at ASC
	`, leadID)
	if err != nil {
		return nil, fmt.Errorf("list lead property links: %w", err)
	}
	defer rows.Close()

	links := make([]Link, 0)
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lead property link: %w", err)
		}
		links = append(links, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list lead property links: %w", err)
	}
	return links, nil
}

// MergeProcessingStatus merges status into the lead's processing_status document.
func (r *Repository) MergeProcessingStatus(ctx context.Context, leadID uuid.UUID, status json.RawMessage) (Lead, error) {
	l, err := scanLead(r.pool.QueryRow(ctx, `
		UPDATE leads
		SET processing_status = processing_status || $2::jsonb,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+leadColumns, leadID, status))
	if errors.Is(err, pgx.ErrNoRows) {
		return Lead{}, ErrNotFound
	}
	if err != nil {
		return Lead{}, fmt.Errorf("merge processing status: %w", err)
	}
	return l, nil
}
