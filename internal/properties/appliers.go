package properties

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"estate_portal_backend/internal/jobs"
	"estate_portal_backend/platform/clock"
	"estate_portal_backend/platform/db"
	"estate_portal_backend/platform/logger"

	"github.com/google/uuid"
)

const (
	maxFeatureBullets     = 10
	completionScoreListed = 0.7
)

type uploadJobPayload struct {
	UploadID uuid.UUID `json:"upload_id"`
}

type enrichmentResult struct {
	EnhancedDescription string   `json:"enhanced_description"`
	PropertyFeatures    []string `json:"property_features"`
}

type validationResult struct {
	ValidationResult map[string]any `json:"validation_result"`
	MissingFields    []string       `json:"missing_fields"`
	CompletionScore  float64        `json:"completion_score"`
}

// EnrichmentApplier applies property_ai_enrichment results to the upload and
// promotes it once title, price and city are present.
type EnrichmentApplier struct {
	store    UploadStore
	promoter *Promoter
	clk      clock.Clock
	log      *logger.Logger
}

// NewEnrichmentApplier creates the enrichment applier.
func NewEnrichmentApplier(store UploadStore, promoter *Promoter, clk clock.Clock, log *logger.Logger) *EnrichmentApplier {
	return &EnrichmentApplier{store: store, promoter: promoter, clk: clk, log: log}
}

// ApplyJobResult implements jobs.ResultApplier.
func (a *EnrichmentApplier) ApplyJobResult(ctx context.Context, q db.DBTX, job jobs.Job, raw json.RawMessage) (jobs.Applied, error) {
	uploadID, ok, err := payloadUploadID(job)
	if err != nil || !ok {
		return jobs.Applied{}, err
	}
	var res enrichmentResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return jobs.Applied{}, fmt.Errorf("decode enrichment result: %w", err)
	}

	upload, err := a.store.LockUpload(ctx, q, uploadID)
	if err != nil {
		return jobs.Applied{}, err
	}
	applied := jobs.Applied{UploadID: &upload.ID}

	description := enrichDescription(upload.Description, res)
	upload, err = a.store.SaveEnrichment(ctx, q, upload.ID, description, raw, a.clk.Now())
	if err != nil {
		return applied, err
	}

	if upload.HasListingBasics() {
		prop, promoted, err := a.promoter.Promote(ctx, q, upload)
		if err != nil {
			return applied, err
		}
		applied.PropertyID = &prop.ID
		applied.Promoted = promoted
	}
	a.log.Info("property enrichment applied", "upload_id", upload.ID.String(), "promoted", applied.Promoted)
	return applied, nil
}

// ValidationApplier applies property_validation_deep results and promotes the
// upload when the completion score is high enough or nothing is missing.
type ValidationApplier struct {
	store    UploadStore
	promoter *Promoter
	log      *logger.Logger
}

// NewValidationApplier creates the deep validation applier.
func NewValidationApplier(store UploadStore, promoter *Promoter, log *logger.Logger) *ValidationApplier {
	return &ValidationApplier{store: store, promoter: promoter, log: log}
}

// ApplyJobResult implements jobs.ResultApplier.
func (a *ValidationApplier) ApplyJobResult(ctx context.Context, q db.DBTX, job jobs.Job, raw json.RawMessage) (jobs.Applied, error) {
	uploadID, ok, err := payloadUploadID(job)
	if err != nil || !ok {
		return jobs.Applied{}, err
	}
	var res validationResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return jobs.Applied{}, fmt.Errorf("decode validation result: %w", err)
	}

	upload, err := a.store.LockUpload(ctx, q, uploadID)
	if err != nil {
		return jobs.Applied{}, err
	}
	applied := jobs.Applied{UploadID: &upload.ID}

	var merge json.RawMessage
	if len(res.ValidationResult) > 0 {
		if merge, err = json.Marshal(res.ValidationResult); err != nil {
			return applied, err
		}
	}
	var missing []string
	if len(res.MissingFields) > 0 {
		missing = res.MissingFields
	}
	upload, err = a.store.SaveValidation(ctx, q, upload.ID, merge, missing)
	if err != nil {
		return applied, err
	}

	if res.CompletionScore >= completionScoreListed || len(upload.MissingFields) == 0 {
		prop, promoted, err := a.promoter.Promote(ctx, q, upload)
		if err != nil {
			return applied, err
		}
		applied.PropertyID = &prop.ID
		applied.Promoted = promoted
	}
	a.log.Info("property validation applied", "upload_id", upload.ID.String(), "promoted", applied.Promoted)
	return applied, nil
}

func payloadUploadID(job jobs.Job) (uuid.UUID, bool, error) {
	if len(job.Payload) == 0 {
		return uuid.Nil, false, nil
	}
	var p uploadJobPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return uuid.Nil, false, fmt.Errorf("decode job payload: %w", err)
	}
	return p.UploadID, p.UploadID != uuid.Nil, nil
}

// enrichDescription appends the enhanced description and up to ten feature bullets.
func enrichDescription(current string, res enrichmentResult) string {
	description := current
	if enhanced := strings.TrimSpace(res.EnhancedDescription); enhanced != "" {
		if description != "" {
			description += "\n\n" + enhanced
		} else {
			description = enhanced
		}
	}

	features := res.PropertyFeatures
	if len(features) > maxFeatureBullets {
		features = features[:maxFeatureBullets]
	}
	if len(features) > 0 {
		var b strings.Builder
		b.WriteString("\n\nFeatures:")
		for _, f := range features {
			b.WriteString("\n• ")
			b.WriteString(f)
		}
		description += b.String()
	}
	return description
}

var (
	_ jobs.ResultApplier = (*EnrichmentApplier)(nil)
	_ jobs.ResultApplier = (*ValidationApplier)(nil)
)
