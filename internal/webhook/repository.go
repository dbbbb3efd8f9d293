// Package webhook holds the machine-facing edges of the portal: per-organization
// API keys for channel integrations and website forms, and the signed n8n callbacks.
package webhook

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrAPIKeyNotFound = errors.New("webhook API key not found")

const apiKeyColumns = `id, organization_id, name, key_hash, key_prefix, allowed_domains, is_active, created_at, updated_at`

// APIKey authenticates inbound messages for one organization.
type APIKey struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Name           string
	KeyHash        string
	KeyPrefix      string
	AllowedDomains []string
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// KeyStore is the persistence behind key management and the auth middleware.
type KeyStore interface {
	Create(ctx context.Context, orgID uuid.UUID, name, keyHash, keyPrefix string, allowedDomains []string) (APIKey, error)
	GetByHash(ctx context.Context, keyHash string) (APIKey, error)
	ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]APIKey, error)
	Revoke(ctx context.Context, keyID, orgID uuid.UUID) error
}

// Repository stores API keys in webhook_api_keys.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new webhook repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ KeyStore = (*Repository)(nil)

// GenerateAPIKey creates a random key. Only the hash is stored; the plaintext is shown once.
func GenerateAPIKey() (plaintext string, hash string, prefix string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", "", err
	}
	plaintext = "whk_" + hex.EncodeToString(buf)
	return plaintext, HashKey(plaintext), plaintext[:12], nil
}

// HashKey hashes a plaintext API key for lookup.
func HashKey(plaintext string) string {
	h := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(h[:])
}

func scanAPIKey(row pgx.Row) (APIKey, error) {
	var key APIKey
	err := row.Scan(
		&key.ID, &key.OrganizationID, &key.Name, &key.KeyHash, &key.KeyPrefix,
		&key.AllowedDomains, &key.IsActive, &key.CreatedAt, &key.UpdatedAt,
	)
	return key, err
}

// Create inserts a new API key record.
func (r *Repository) Create(ctx context.Context, orgID uuid.UUID, name, keyHash, keyPrefix string, allowedDomains []string) (APIKey, error) {
	key, err := scanAPIKey(r.pool.QueryRow(ctx, `
		INSERT INTO webhook_api_keys (organization_id, name, key_hash, key_prefix, allowed_domains)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+apiKeyColumns, orgID, name, keyHash, keyPrefix, allowedDomains))
	if err != nil {
		return APIKey{}, fmt.Errorf("insert api key: %w", err)
	}
	return key, nil
}

// GetByHash retrieves an active API key by its hash.
func (r *Repository) GetByHash(ctx context.Context, keyHash string) (APIKey, error) {
	key, err := scanAPIKey(r.pool.QueryRow(ctx, `
		SELECT `+apiKeyColumns+`
		FROM webhook_api_keys
		WHERE key_hash = $1 AND is_active = true`, keyHash))
	if errors.Is(err, pgx.ErrNoRows) {
		return APIKey{}, ErrAPIKeyNotFound
	}
	if err != nil {
		return APIKey{}, fmt.Errorf("get api key: %w", err)
	}
	return key, nil
}

// ListByOrganization returns all API keys for an organization, newest first.
func (r *Repository) ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]APIKey, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+apiKeyColumns+`
		FROM webhook_api_keys
		WHERE organization_id = $1
		ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	keys := make([]APIKey, 0)
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Revoke deactivates an API key.
func (r *Repository) Revoke(ctx context.Context, keyID, orgID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE webhook_api_keys SET is_active = false, updated_at = now()
		WHERE id = $1 AND organization_id = $2`, keyID, orgID)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAPIKeyNotFound
	}
	return nil
}
