package properties

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"estate_portal_backend/platform/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const propertyColumns = `id, organization_id, slug, title, description, price_amount, city, area, beds, baths,
	floor_area_sqm, badges, status, enrichment, created_at, updated_at`

const uploadColumns = `id, organization_id, title, description, price_amount, city, area, beds, baths, floor_area_sqm,
	features, status, ai_enrichment, enriched_at, ai_validation_result, missing_fields, property_id, created_at, updated_at`

// Repository persists properties and uploads.
type Repository struct {
	pool db.DBTX
}

// NewRepository creates a repository on pool.
func NewRepository(pool db.DBTX) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) q(q db.DBTX) db.DBTX {
	if q == nil {
		return r.pool
	}
	return q
}

func scanProperty(row pgx.Row) (Property, error) {
	var p Property
	err := row.Scan(
		&p.ID, &p.OrganizationID, &p.Slug, &p.Title, &p.Description, &p.PriceAmount, &p.City, &p.Area, &p.Beds, &p.Baths,
		&p.FloorAreaSqm, &p.Badges, &p.Status, &p.Enrichment, &p.CreatedAt, &p.UpdatedAt,
	)
	return p, err
}

func collectProperties(rows pgx.Rows) ([]Property, error) {
	defer rows.Close()
	var out []Property
	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanUpload(row pgx.Row) (Upload, error) {
	var u Upload
	var status string
	var enrichment, validation []byte
	err := row.Scan(
		&u.ID, &u.OrganizationID, &u.Title, &u.Description, &u.PriceAmount, &u.City, &u.Area, &u.Beds, &u.Baths, &u.FloorAreaSqm,
		&u.Features, &status, &enrichment, &u.EnrichedAt, &validation, &u.MissingFields, &u.PropertyID, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return Upload{}, err
	}
	u.Status = UploadStatus(status)
	if len(enrichment) > 0 {
		u.AIEnrichment = enrichment
	}
	if len(validation) > 0 {
		u.AIValidationResult = validation
	}
	return u, nil
}

// GetByID loads a property scoped to an organization.
func (r *Repository) GetByID(ctx context.Context, orgID, id uuid.UUID) (Property, error) {
	p, err := scanProperty(r.pool.QueryRow(ctx,
		`SELECT `+propertyColumns+` FROM properties WHERE id = $1 AND organization_id = $2`, id, orgID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Property{}, ErrNotFound
	}
	if err != nil {
		return Property{}, fmt.Errorf("get property: %w", err)
	}
	return p, nil
}

// GetBySlug loads a property by its per-organization slug.
func (r *Repository) GetBySlug(ctx context.Context, orgID uuid.UUID, slug string) (Property, error) {
	p, err := scanProperty(r.pool.QueryRow(ctx,
		`SELECT `+propertyColumns+` FROM properties WHERE organization_id = $1 AND slug = $2`, orgID, slug))
	if errors.Is(err, pgx.ErrNoRows) {
		return Property{}, ErrNotFound
	}
	if err != nil {
		return Property{}, fmt.Errorf("get property by slug: %w", err)
	}
	return p, nil
}

// ListByIDs loads the organization's properties in the order of ids, skipping missing ones.
func (r *Repository) ListByIDs(ctx context.Context, orgID uuid.UUID, ids []uuid.UUID) ([]Property, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+propertyColumns+`
		FROM properties
		WHERE organization_id = $1 AND id = ANY($2)
	`, orgID, ids)
	if err != nil {
		return nil, fmt.Errorf("list properties by id: %w", err)
	}
	found, err := collectProperties(rows)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]Property, len(found))
	for _, p := range found {
		byID[p.ID] = p
	}
	out := make([]Property, 0, len(found))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// FindByReference returns active properties whose badges contain code or whose
// description mentions it.
func (r *Repository) FindByReference(ctx context.Context, orgID uuid.UUID, code string, limit int) ([]Property, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+propertyColumns+`
		FROM properties
		WHERE organization_id = $1 AND status = 'active'
		  AND (EXISTS (SELECT 1 FROM unnest(badges) b WHERE b ILIKE '%' || $2 || '%')
		       OR description ILIKE '%' || $2 || '%')
		ORDER BY created_at ASC
		LIMIT $3
	`, orgID, code, limit)
	if err != nil {
		return nil, fmt.Errorf("find property by reference: %w", err)
	}
	return collectProperties(rows)
}

// FuzzyQuery holds the signals extracted from free text. Every present signal must match.
type FuzzyQuery struct {
	MinPrice *int64
	MaxPrice *int64
	Cities   []string
	Keywords []string
	Limit    int
}

// FuzzySearch returns active properties matching all present signals of fq.
func (r *Repository) FuzzySearch(ctx context.Context, orgID uuid.UUID, fq FuzzyQuery) ([]Property, error) {
	where := []string{"organization_id = $1", "status = 'active'"}
	args := []any{orgID}

	if fq.MinPrice != nil && fq.MaxPrice != nil {
		args = append(args, *fq.MinPrice, *fq.MaxPrice)
		where = append(where, fmt.Sprintf("price_amount BETWEEN $%d AND $%d", len(args)-1, len(args)))
	}
	if len(fq.Cities) > 0 {
		args = append(args, likePatterns(fq.Cities))
		where = append(where, fmt.Sprintf("(city ILIKE ANY($%d) OR area ILIKE ANY($%d))", len(args), len(args)))
	}
	if len(fq.Keywords) > 0 {
		args = append(args, likePatterns(fq.Keywords))
		where = append(where, fmt.Sprintf("title ILIKE ANY($%d)", len(args)))
	}
	limit := fq.Limit
	if limit <= 0 {
		limit = 5
	}
	args = append(args, limit)

	rows, err := r.pool.Query(ctx, `
		SELECT `+propertyColumns+`
		FROM properties
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY created_at ASC
		LIMIT `+fmt.Sprintf("$%d", len(args)), args...)
	if err != nil {
		return nil, fmt.Errorf("fuzzy property search: %w", err)
	}
	return collectProperties(rows)
}

func likePatterns(terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(t)
		out = append(out, "%"+t+"%")
	}
	return out
}

// ListActiveIDs returns the ids of an organization's active properties.
func (r *Repository) ListActiveIDs(ctx context.Context, orgID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM properties WHERE organization_id = $1 AND status = 'active' ORDER BY created_at`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list active properties: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

// ListOrganizationIDs returns every organization id.
func (r *Repository) ListOrganizationIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM organizations ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

// OrganizationSlug returns the slug of an organization.
func (r *Repository) OrganizationSlug(ctx context.Context, q db.DBTX, orgID uuid.UUID) (string, error) {
	var slug string
	err := r.q(q).QueryRow(ctx, `SELECT slug FROM organizations WHERE id = $1`, orgID).Scan(&slug)
	if err != nil {
		return "", fmt.Errorf("get organization slug: %w", err)
	}
	return slug, nil
}

// OrganizationIDBySlug resolves an organization slug.
func (r *Repository) OrganizationIDBySlug(ctx context.Context, slug string) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.pool.QueryRow(ctx, `SELECT id FROM organizations WHERE slug = $1`, slug).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, ErrNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("get organization by slug: %w", err)
	}
	return id, nil
}

// SlugExists reports whether slug is taken within the organization.
func (r *Repository) SlugExists(ctx context.Context, q db.DBTX, orgID uuid.UUID, slug string) (bool, error) {
	var exists bool
	err := r.q(q).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM properties WHERE organization_id = $1 AND slug = $2)`, orgID, slug).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check property slug: %w", err)
	}
	return exists, nil
}

// InsertProperty creates an active property.
func (r *Repository) InsertProperty(ctx context.Context, q db.DBTX, np NewProperty) (Property, error) {
	badges := np.Badges
	if badges == nil {
		badges = []string{}
	}
	p, err := scanProperty(r.q(q).QueryRow(ctx, `
		INSERT INTO properties (organization_id, slug, title, description, price_amount, city, area, beds, baths,
		                        floor_area_sqm, badges, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 'active')
		RETURNING `+propertyColumns,
		np.OrganizationID, np.Slug, np.Title, np.Description, np.PriceAmount, np.City, np.Area, np.Beds, np.Baths,
		np.FloorAreaSqm, badges,
	))
	if err != nil {
		return Property{}, fmt.Errorf("insert property: %w", err)
	}
	return p, nil
}

// SetEnrichment stores n8n market data on a property.
func (r *Repository) SetEnrichment(ctx context.Context, id uuid.UUID, enrichment Enrichment) (Property, error) {
	raw, err := json.Marshal(enrichment)
	if err != nil {
		return Property{}, err
	}
	p, err := scanProperty(r.pool.QueryRow(ctx, `
		UPDATE properties
		SET enrichment = enrichment || $2::jsonb, updated_at = now()
		WHERE id = $1
		RETURNING `+propertyColumns, id, raw))
	if errors.Is(err, pgx.ErrNoRows) {
		return Property{}, ErrNotFound
	}
	if err != nil {
		return Property{}, fmt.Errorf("set property enrichment: %w", err)
	}
	return p, nil
}

// InsertUpload creates a pending draft.
func (r *Repository) InsertUpload(ctx context.Context, q db.DBTX, nu NewUpload) (Upload, error) {
	features := nu.Features
	if features == nil {
		features = []string{}
	}
	u, err := scanUpload(r.q(q).QueryRow(ctx, `
		INSERT INTO property_uploads (organization_id, title, description, price_amount, city, area, beds, baths,
		                              floor_area_sqm, features, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'pending')
		RETURNING `+uploadColumns,
		nu.OrganizationID, nu.Title, nu.Description, nu.PriceAmount, nu.City, nu.Area, nu.Beds, nu.Baths,
		nu.FloorAreaSqm, features,
	))
	if err != nil {
		return Upload{}, fmt.Errorf("insert upload: %w", err)
	}
	return u, nil
}

// GetUpload loads an organization's upload.
func (r *Repository) GetUpload(ctx context.Context, orgID, id uuid.UUID) (Upload, error) {
	u, err := scanUpload(r.pool.QueryRow(ctx,
		`SELECT `+uploadColumns+` FROM property_uploads WHERE id = $1 AND organization_id = $2`, id, orgID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Upload{}, ErrUploadNotFound
	}
	if err != nil {
		return Upload{}, fmt.Errorf("get upload: %w", err)
	}
	return u, nil
}

// LockUpload loads an upload with a row lock held until q's transaction ends.
func (r *Repository) LockUpload(ctx context.Context, q db.DBTX, id uuid.UUID) (Upload, error) {
	u, err := scanUpload(r.q(q).QueryRow(ctx,
		`SELECT `+uploadColumns+` FROM property_uploads WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Upload{}, ErrUploadNotFound
	}
	if err != nil {
		return Upload{}, fmt.Errorf("lock upload: %w", err)
	}
	return u, nil
}

// SaveEnrichment stores an AI enrichment result and the extended description.
func (r *Repository) SaveEnrichment(ctx context.Context, q db.DBTX, id uuid.UUID, description string, enrichment json.RawMessage, at time.Time) (Upload, error) {
	u, err := scanUpload(r.q(q).QueryRow(ctx, `
		UPDATE property_uploads
		SET description = $2, ai_enrichment = $3, enriched_at = $4,
		    status = CASE WHEN status = 'pending' THEN 'processing' ELSE status END,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+uploadColumns, id, description, []byte(enrichment), at))
	if err != nil {
		return Upload{}, fmt.Errorf("save upload enrichment: %w", err)
	}
	return u, nil
}

// SaveValidation merges a validation result into the upload. missing replaces
// the stored missing fields only when non-nil.
func (r *Repository) SaveValidation(ctx context.Context, q db.DBTX, id uuid.UUID, validation json.RawMessage, missing []string) (Upload, error) {
	var merge []byte
	if len(validation) > 0 {
		merge = validation
	}
	u, err := scanUpload(r.q(q).QueryRow(ctx, `
		UPDATE property_uploads
		SET ai_validation_result = CASE WHEN $2::jsonb IS NULL THEN ai_validation_result
		                                ELSE COALESCE(ai_validation_result, '{}'::jsonb) || $2::jsonb END,
		    missing_fields = COALESCE($3, missing_fields),
		    status = CASE WHEN status = 'pending' THEN 'processing' ELSE status END,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+uploadColumns, id, merge, missing))
	if err != nil {
		return Upload{}, fmt.Errorf("save upload validation: %w", err)
	}
	return u, nil
}

// CompleteUpload marks an upload complete and links it to its property.
func (r *Repository) CompleteUpload(ctx context.Context, q db.DBTX, id, propertyID uuid.UUID) error {
	_, err := r.q(q).Exec(ctx, `
		UPDATE property_uploads
		SET status = 'complete', property_id = $2, updated_at = now()
		WHERE id = $1
	`, id, propertyID)
	if err != nil {
		return fmt.Errorf("complete upload: %w", err)
	}
	return nil
}
