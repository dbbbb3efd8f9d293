package webhook

import (
	"context"
	"errors"
	"strings"

	"estate_portal_backend/internal/leads/repository"
	"estate_portal_backend/internal/leads/transport"
	"estate_portal_backend/internal/outbox"
	"estate_portal_backend/internal/properties"
	"estate_portal_backend/platform/apperr"
	"estate_portal_backend/platform/logger"

	"github.com/google/uuid"
)

// LeadIngestor is the leads service as seen from forms and n8n callbacks.
type LeadIngestor interface {
	Ingest(ctx context.Context, orgID uuid.UUID, req transport.IngestMessageRequest) (transport.IngestMessageResponse, error)
	ApplyProcessingResult(ctx context.Context, req transport.ProcessingResultRequest) (repository.Lead, error)
}

// PropertyEnricher stores n8n market data on a property.
type PropertyEnricher interface {
	ApplyEnrichment(ctx context.Context, propertyID uuid.UUID, e properties.Enrichment) (properties.Property, error)
}

// OutboxOperator is the outbox surface n8n drives when it sends messages itself.
type OutboxOperator interface {
	SendNow(ctx context.Context, id uuid.UUID) (outbox.Record, error)
	RecordExternalFailure(ctx context.Context, id uuid.UUID, reason string, statusCode *int) (string, error)
	ListDue(ctx context.Context, limit int) ([]outbox.Record, error)
}

// FormSubmission is one website form post.
type FormSubmission struct {
	Fields       map[string]string
	SubmissionID string
	SourceDomain string
}

// FormSubmissionResponse is returned to the website.
type FormSubmissionResponse struct {
	LeadID       uuid.UUID `json:"lead_id"`
	MessageID    uuid.UUID `json:"message_id"`
	LeadCreated  bool      `json:"lead_created"`
	Duplicate    bool      `json:"duplicate"`
	IsIncomplete bool      `json:"is_incomplete"`
	Message      string    `json:"message"`
}

// Service handles key management, form capture and the n8n callbacks.
type Service struct {
	keys       KeyStore
	leads      LeadIngestor
	properties PropertyEnricher
	outbox     OutboxOperator
	log        *logger.Logger
}

// NewService creates the webhook service. Any collaborator except keys may be nil;
// the matching routes then answer 503.
func NewService(keys KeyStore, leads LeadIngestor, props PropertyEnricher, ob OutboxOperator, log *logger.Logger) *Service {
	return &Service{keys: keys, leads: leads, properties: props, outbox: ob, log: log}
}

// CreateKey issues a key and returns it with its plaintext.
func (s *Service) CreateKey(ctx context.Context, orgID uuid.UUID, name string, domains []string) (APIKey, string, error) {
	plaintext, hash, prefix, err := GenerateAPIKey()
	if err != nil {
		return APIKey{}, "", apperr.Wrap(apperr.KindInternal, "failed to generate API key", err)
	}
	cleaned := make([]string, 0, len(domains))
	for _, d := range domains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			cleaned = append(cleaned, d)
		}
	}

	key, err := s.keys.Create(ctx, orgID, strings.TrimSpace(name), hash, prefix, cleaned)
	if err != nil {
		return APIKey{}, "", apperr.Wrap(apperr.KindInternal, "failed to store API key", err)
	}
	s.log.Info("webhook api key created", "organization_id", orgID.String(), "key_prefix", prefix)
	return key, plaintext, nil
}

// ListKeys returns the organization's keys.
func (s *Service) ListKeys(ctx context.Context, orgID uuid.UUID) ([]APIKey, error) {
	keys, err := s.keys.ListByOrganization(ctx, orgID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to list API keys", err)
	}
	return keys, nil
}

// RevokeKey deactivates one of the organization's keys.
func (s *Service) RevokeKey(ctx context.Context, orgID, keyID uuid.UUID) error {
	err := s.keys.Revoke(ctx, keyID, orgID)
	if errors.Is(err, ErrAPIKeyNotFound) {
		return apperr.NotFound("API key not found")
	}
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "failed to revoke API key", err)
	}
	s.log.Info("webhook api key revoked", "organization_id", orgID.String(), "key_id", keyID.String())
	return nil
}

// SubmitForm extracts lead fields from a website form and ingests it as a webform message.
func (s *Service) SubmitForm(ctx context.Context, orgID uuid.UUID, sub FormSubmission) (FormSubmissionResponse, error) {
	if s.leads == nil {
		return FormSubmissionResponse{}, apperr.Unavailable("lead ingestion is not configured")
	}
	extracted := ExtractFields(sub.Fields)
	if extracted.Name == "" && extracted.Email == "" && extracted.Phone == "" && extracted.Message == "" {
		return FormSubmissionResponse{}, apperr.Validation("form carries no contact details or message")
	}

	resp, err := s.leads.Ingest(ctx, orgID, extracted.IngestRequest(sub.SubmissionID, sub.SourceDomain, sub.Fields))
	if err != nil {
		return FormSubmissionResponse{}, err
	}

	incomplete := extracted.IsIncomplete()
	msg := "Lead received"
	switch {
	case resp.Duplicate:
		msg = "Duplicate submission ignored"
	case incomplete:
		msg = "Lead received without contact details"
	}
	s.log.Info("webform submission ingested",
		"organization_id", orgID.String(),
		"lead_id", resp.LeadID.String(),
		"lead_created", resp.LeadCreated,
		"duplicate", resp.Duplicate,
		"source_domain", sub.SourceDomain,
	)
	return FormSubmissionResponse{
		LeadID:       resp.LeadID,
		MessageID:    resp.MessageID,
		LeadCreated:  resp.LeadCreated,
		Duplicate:    resp.Duplicate,
		IsIncomplete: incomplete,
		Message:      msg,
	}, nil
}

// ApplyPropertyEnrichment stores an n8n enrichment result.
func (s *Service) ApplyPropertyEnrichment(ctx context.Context, req PropertyEnrichmentRequest) (properties.Property, error) {
	if s.properties == nil {
		return properties.Property{}, apperr.Unavailable("property enrichment is not configured")
	}
	return s.properties.ApplyEnrichment(ctx, req.PropertyID, properties.Enrichment{
		Narrative:       strings.TrimSpace(req.Narrative),
		Estimate:        req.Estimate,
		NeighborhoodAvg: req.NeighborhoodAvg,
		Source:          req.Source,
	})
}

// ApplyLeadProcessing records n8n's processing status on a lead.
func (s *Service) ApplyLeadProcessing(ctx context.Context, req transport.ProcessingResultRequest) (repository.Lead, error) {
	if s.leads == nil {
		return repository.Lead{}, apperr.Unavailable("lead ingestion is not configured")
	}
	return s.leads.ApplyProcessingResult(ctx, req)
}

// SendNow makes an outbox message due immediately.
func (s *Service) SendNow(ctx context.Context, id uuid.UUID) (outbox.Record, error) {
	if s.outbox == nil {
		return outbox.Record{}, apperr.Unavailable("outbox is not configured")
	}
	return s.outbox.SendNow(ctx, id)
}

// RecordFailure consumes one attempt of a message n8n failed to deliver.
func (s *Service) RecordFailure(ctx context.Context, req FailRequest) (string, error) {
	if s.outbox == nil {
		return "", apperr.Unavailable("outbox is not configured")
	}
	return s.outbox.RecordExternalFailure(ctx, req.ID, req.Reason, req.StatusCode)
}

// DueMessages lists outbox messages ready for delivery.
func (s *Service) DueMessages(ctx context.Context, limit int) ([]outbox.Record, error) {
	if s.outbox == nil {
		return nil, apperr.Unavailable("outbox is not configured")
	}
	return s.outbox.ListDue(ctx, limit)
}
