package repository

import (
	"context"
	"errors"
	"fmt"

	"estate_portal_backend/platform/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type ingestTx struct {
	tx pgx.Tx
}

func (t *ingestTx) Querier() db.DBTX { return t.tx }

func (t *ingestTx) LockIdentity(ctx context.Context, orgID uuid.UUID, key string) error {
	if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, orgID.String()+":"+key); err != nil {
		return fmt.Errorf("lock lead identity: %w", err)
	}
	return nil
}

func (t *ingestTx) FindMessage(ctx context.Context, orgID uuid.UUID, channel, externalID string) (Message, error) {
	m, err := scanMessage(t.tx.QueryRow(ctx, `
		SELECT `+messageColumns+`
		FROM lead_messages
		WHERE organization_id = $1 AND channel = $2 AND external_message_id = $3
	`, orgID, channel, externalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, ErrMessageNotFound
	}
	if err != nil {
		return Message{}, fmt.Errorf("find lead message: %w", err)
	}
	return m, nil
}

// FindLead looks a lead up by email, then phone, then conversation thread.
func (t *ingestTx) FindLead(ctx context.Context, orgID uuid.UUID, match LeadMatch) (Lead, error) {
	if match.Email != "" {
		l, err := t.findOne(ctx, `
			SELECT `+leadColumns+` FROM leads
			WHERE organization_id = $1 AND email <> '' AND lower(email) = lower($2)
			ORDER BY created_at ASC LIMIT 1`, orgID, match.Email)
		if !errors.Is(err, ErrNotFound) {
			return l, err
		}
	}
	if match.Phone != "" {
		l, err := t.findOne(ctx, `
			SELECT `+leadColumns+` FROM leads
			WHERE organization_id = $1 AND phone <> '' AND phone = $2
			ORDER BY created_at ASC LIMIT 1`, orgID, match.Phone)
		if !errors.Is(err, ErrNotFound) {
			return l, err
		}
	}
	if match.ThreadID != "" {
		return t.findOne(ctx, `
			SELECT `+prefixed("l.", leadColumns)+`
			FROM lead_messages m
			JOIN leads l ON l.id = m.lead_id
			WHERE m.organization_id = $1 AND m.channel = $2 AND m.external_thread_id = $3
			ORDER BY m.created_at DESC LIMIT 1`, orgID, match.Channel, match.ThreadID)
	}
	return Lead{}, ErrNotFound
}

func (t *ingestTx) findOne(ctx context.Context, sql string, args ...any) (Lead, error) {
	l, err := scanLead(t.tx.QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return Lead{}, ErrNotFound
	}
	if err != nil {
		return Lead{}, fmt.Errorf("find lead: %w", err)
	}
	return l, nil
}

func (t *ingestTx) InsertLead(ctx context.Context, nl NewLead) (Lead, error) {
	l, err := scanLead(t.tx.QueryRow(ctx, `
		INSERT INTO leads (organization_id, name, email, phone, buy_or_rent, budget_max, beds, areas,
			utm_source, utm_medium, utm_campaign, referrer, consent_contact)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING `+leadColumns,
		nl.OrganizationID, nl.Name, nl.Email, nl.Phone, nl.BuyOrRent, nl.BudgetMax, nl.Beds, nl.Areas,
		nl.UTMSource, nl.UTMMedium, nl.UTMCampaign, nl.Referrer, nl.ConsentContact))
	if err != nil {
		return Lead{}, fmt.Errorf("insert lead: %w", err)
	}
	return l, nil
}

// FillContact sets name, email and phone only where the lead has none yet.
func (t *ingestTx) FillContact(ctx context.Context, leadID uuid.UUID, c Contact) (Lead, error) {
	l, err := scanLead(t.tx.QueryRow(ctx, `
		UPDATE leads
		SET name = CASE WHEN name = '' THEN $2 ELSE name END,
		    email = CASE WHEN email = '' THEN $3 ELSE email END,
		    phone = CASE WHEN phone = '' THEN $4 ELSE phone END,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+leadColumns, leadID, c.Name, c.Email, c.Phone))
	if errors.Is(err, pgx.ErrNoRows) {
		return Lead{}, ErrNotFound
	}
	if err != nil {
		return Lead{}, fmt.Errorf("fill lead contact: %w", err)
	}
	return l, nil
}

func (t *ingestTx) InsertMessage(ctx context.Context, nm NewMessage) (Message, bool, error) {
	var externalID *string
	if nm.ExternalMessageID != "" {
		externalID = &nm.ExternalMessageID
	}
	raw := nm.RawPayload
	if len(raw) == 0 {
		raw = []byte(`{}`)
	}

	m, err := scanMessage(t.tx.QueryRow(ctx, `
		INSERT INTO lead_messages (organization_id, lead_id, channel, direction, external_thread_id,
			external_message_id, body, raw_payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (organization_id, channel, external_message_id) WHERE external_message_id IS NOT NULL
		DO NOTHING
		RETURNING `+messageColumns,
		nm.OrganizationID, nm.LeadID, nm.Channel, nm.Direction, nm.ThreadID, externalID, nm.Body, raw))
	if err == nil {
		return m, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Message{}, false, fmt.Errorf("insert lead message: %w", err)
	}

	existing, err := t.FindMessage(ctx, nm.OrganizationID, nm.Channel, nm.ExternalMessageID)
	if err != nil {
		return Message{}, false, err
	}
	return existing, false, nil
}

func (t *ingestTx) Savepoint(ctx context.Context, fn func(q db.DBTX) error) error {
	return db.WithSavepoint(ctx, t.tx, fn)
}
