// Package service implements lead message ingestion and property linking.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"

	"estate_portal_backend/internal/events"
	"estate_portal_backend/internal/leads/repository"
	"estate_portal_backend/internal/leads/resolver"
	"estate_portal_backend/internal/leads/transport"
	"estate_portal_backend/internal/outbox"
	"estate_portal_backend/platform/apperr"
	"estate_portal_backend/platform/clock"
	"estate_portal_backend/platform/db"
	"estate_portal_backend/platform/logger"
	"estate_portal_backend/platform/phone"
	"estate_portal_backend/platform/sanitize"
	"estate_portal_backend/platform/validator"

	"github.com/google/uuid"
)

const leadStatusNew = "new"

// errDuplicateMessage rolls back an ingest that lost the race for a message id.
var errDuplicateMessage = errors.New("duplicate lead message")

// Resolver matches a message to a property.
type Resolver interface {
	Resolve(ctx context.Context, in resolver.Input) (*resolver.Match, error)
}

// OutboxWriter stores webhook messages, normally inside the caller's transaction.
type OutboxWriter interface {
	Enqueue(ctx context.Context, q db.DBTX, msg outbox.Message) (outbox.Record, error)
	LeadTargets() []string
	HasTarget(name string) bool
}

// Service ingests conversation messages into leads and links them to properties.
type Service struct {
	store    repository.LeadStore
	resolver Resolver
	outbox   OutboxWriter
	bus      events.Bus
	val      *validator.Validator
	region   string
	clock    clock.Clock
	log      *logger.Logger
}

// New creates the lead service. resolver, ob and bus may be nil.
func New(store repository.LeadStore, res Resolver, ob OutboxWriter, bus events.Bus, val *validator.Validator, region string, clk clock.Clock, log *logger.Logger) *Service {
	if region == "" {
		region = phone.DefaultRegion
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Service{
		store:    store,
		resolver: res,
		outbox:   ob,
		bus:      bus,
		val:      val,
		region:   region,
		clock:    clk,
		log:      log,
	}
}

// Ingest appends one message to the lead it belongs to, creating the lead when
// no existing one matches by email, phone or thread. New leads are announced to
// the configured lead targets in the same transaction. After commit the message
// is resolved to a property and linked.
func (s *Service) Ingest(ctx context.Context, orgID uuid.UUID, req transport.IngestMessageRequest) (transport.IngestMessageResponse, error) {
	req = s.normalize(req)
	if s.val != nil {
		if err := s.val.Struct(req); err != nil {
			return transport.IngestMessageResponse{}, apperr.Wrap(apperr.KindValidation, "invalid message", err)
		}
	}

	orgSlug, err := s.store.OrganizationSlug(ctx, orgID)
	if errors.Is(err, repository.ErrOrganizationNotFound) {
		return transport.IngestMessageResponse{}, apperr.NotFound("organization not found")
	}
	if err != nil {
		return transport.IngestMessageResponse{}, apperr.Wrap(apperr.KindInternal, "failed to load organization", err)
	}

	var (
		resp    transport.IngestMessageResponse
		lead    repository.Lead
		created bool
	)
	err = s.store.InTx(ctx, func(tx repository.IngestTx) error {
		if err := tx.LockIdentity(ctx, orgID, identityKey(req)); err != nil {
			return err
		}

		if req.MessageID != "" {
			existing, err := tx.FindMessage(ctx, orgID, req.Channel, req.MessageID)
			if err == nil {
				resp = duplicateResponse(existing)
				return nil
			}
			if !errors.Is(err, repository.ErrMessageNotFound) {
				return err
			}
		}

		var err error
		lead, err = tx.FindLead(ctx, orgID, repository.LeadMatch{
			Email:    req.Email,
			Phone:    req.Phone,
			Channel:  req.Channel,
			ThreadID: req.ThreadID,
		})
		switch {
		case errors.Is(err, repository.ErrNotFound):
			lead, err = tx.InsertLead(ctx, newLead(orgID, req))
			created = true
		case err == nil && missingContact(lead, req):
			lead, err = tx.FillContact(ctx, lead.ID, repository.Contact{Name: req.Name, Email: req.Email, Phone: req.Phone})
		}
		if err != nil {
			return err
		}

		raw, err := json.Marshal(rawPayload(req))
		if err != nil {
			return err
		}
		msg, inserted, err := tx.InsertMessage(ctx, repository.NewMessage{
			OrganizationID:    orgID,
			LeadID:            lead.ID,
			Channel:           req.Channel,
			Direction:         req.Direction,
			ThreadID:          req.ThreadID,
			ExternalMessageID: req.MessageID,
			Body:              req.Text,
			RawPayload:        raw,
		})
		if err != nil {
			return err
		}
		if !inserted {
			resp = duplicateResponse(msg)
			return errDuplicateMessage
		}
		resp.LeadID = lead.ID
		resp.MessageID = msg.ID

		if created {
			s.announceLead(ctx, tx, orgSlug, lead, req)
		}
		return nil
	})
	if errors.Is(err, errDuplicateMessage) {
		return resp, nil
	}
	if err != nil {
		var appErr *apperr.Error
		if errors.As(err, &appErr) {
			return transport.IngestMessageResponse{}, err
		}
		return transport.IngestMessageResponse{}, apperr.Wrap(apperr.KindInternal, "failed to ingest message", err)
	}
	if resp.Duplicate {
		return resp, nil
	}

	resp.LeadCreated = created
	if created {
		s.log.Info("lead created", "lead_id", lead.ID.String(), "organization_id", orgID.String(), "channel", req.Channel)
		if s.bus != nil {
			s.bus.Publish(ctx, events.LeadCreated{
				BaseEvent:      events.NewBaseEvent(),
				LeadID:         lead.ID,
				OrganizationID: orgID,
				Channel:        req.Channel,
			})
		}
	}

	resp.Link = s.resolveAndLink(ctx, orgID, orgSlug, lead, req)
	return resp, nil
}

func (s *Service) normalize(req transport.IngestMessageRequest) transport.IngestMessageRequest {
	req.Channel = strings.ToLower(strings.TrimSpace(req.Channel))
	req.Direction = strings.ToLower(strings.TrimSpace(req.Direction))
	if req.Direction == "" {
		req.Direction = repository.DirectionInbound
	}
	req.ThreadID = strings.TrimSpace(req.ThreadID)
	req.MessageID = strings.TrimSpace(req.MessageID)
	req.Text = sanitize.Text(req.Text)
	req.Name = sanitize.Text(req.Name)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Phone = strings.TrimSpace(req.Phone)
	req.Areas = sanitize.Text(req.Areas)
	req.BuyOrRent = strings.ToLower(strings.TrimSpace(req.BuyOrRent))

	// Only inbound text describes the sender.
	if req.Direction == repository.DirectionInbound {
		found := ExtractContact(req.Text, s.region)
		if req.Email == "" {
			req.Email = found.Email
		}
		if req.Phone == "" {
			req.Phone = found.Phone
		}
		if req.Name == "" {
			req.Name = found.Name
		}
	}
	if req.Phone != "" {
		req.Phone = phone.NormalizeE164(req.Phone, s.region)
	}
	return req
}

// identityKey is the advisory lock key that serialises ingests for one contact.
func identityKey(req transport.IngestMessageRequest) string {
	switch {
	case req.Email != "":
		return "email:" + req.Email
	case req.Phone != "":
		return "phone:" + req.Phone
	default:
		return "thread:" + req.Channel + ":" + req.ThreadID
	}
}

func duplicateResponse(m repository.Message) transport.IngestMessageResponse {
	resp := transport.IngestMessageResponse{MessageID: m.ID, Duplicate: true}
	if m.LeadID != nil {
		resp.LeadID = *m.LeadID
	}
	return resp
}

func missingContact(l repository.Lead, req transport.IngestMessageRequest) bool {
	return (l.Name == "" && req.Name != "") ||
		(l.Email == "" && req.Email != "") ||
		(l.Phone == "" && req.Phone != "")
}

func newLead(orgID uuid.UUID, req transport.IngestMessageRequest) repository.NewLead {
	return repository.NewLead{
		OrganizationID: orgID,
		Name:           req.Name,
		Email:          req.Email,
		Phone:          req.Phone,
		BuyOrRent:      req.BuyOrRent,
		BudgetMax:      req.BudgetMax,
		Beds:           req.Beds,
		Areas:          req.Areas,
		UTMSource:      req.UTMSource,
		UTMMedium:      req.UTMMedium,
		UTMCampaign:    req.UTMCampaign,
		Referrer:       req.Referrer,
		ConsentContact: req.ConsentContact,
	}
}

func rawPayload(req transport.IngestMessageRequest) map[string]any {
	if req.Payload == nil {
		return map[string]any{}
	}
	return req.Payload
}

func leadSnapshot(l repository.Lead, req transport.IngestMessageRequest) outbox.LeadSnapshot {
	return outbox.LeadSnapshot{
		ID:             l.ID,
		Name:           l.Name,
		Email:          l.Email,
		Phone:          l.Phone,
		Source:         req.Channel,
		Status:         leadStatusNew,
		BuyOrRent:      l.BuyOrRent,
		BudgetMax:      l.BudgetMax,
		Beds:           l.Beds,
		Areas:          l.Areas,
		Message:        req.Text,
		ConversationID: req.ThreadID,
		UTMSource:      l.UTMSource,
		UTMCampaign:    l.UTMCampaign,
		Referrer:       l.Referrer,
		Attributes:     req.Payload,
		CreatedAt:      l.CreatedAt,
	}
}

// announceLead queues lead.created for every lead target and, for chat, a
// chat_inquiry for n8n. Each enqueue runs in its own savepoint so a rejected
// message never aborts the ingest.
func (s *Service) announceLead(ctx context.Context, tx repository.IngestTx, orgSlug string, l repository.Lead, req transport.IngestMessageRequest) {
	if s.outbox == nil {
		return
	}
	snapshot := leadSnapshot(l, req)
	for _, target := range s.outbox.LeadTargets() {
		s.enqueueInTx(ctx, tx, outbox.Message{
			OrganizationID:   l.OrganizationID,
			OrganizationSlug: orgSlug,
			Target:           target,
			Payload:          outbox.LeadCreated{Lead: snapshot},
		})
	}
	if req.Channel == repository.ChannelChat && s.outbox.HasTarget(outbox.TargetN8N) {
		s.enqueueInTx(ctx, tx, outbox.Message{
			OrganizationID:   l.OrganizationID,
			OrganizationSlug: orgSlug,
			Target:           outbox.TargetN8N,
			Payload:          outbox.ChatInquiry{SessionID: req.ThreadID, Lead: snapshot},
		})
	}
}

func (s *Service) enqueueInTx(ctx context.Context, tx repository.IngestTx, msg outbox.Message) {
	err := tx.Savepoint(ctx, func(q db.DBTX) error {
		_, err := s.outbox.Enqueue(ctx, q, msg)
		return err
	})
	s.logEnqueue(msg, err)
}

func (s *Service) logEnqueue(msg outbox.Message, err error) {
	switch {
	case err == nil:
	case errors.Is(err, outbox.ErrIntegrationDisabled):
		s.log.Debug("outbox message skipped", "event", msg.Payload.EventType(), "target", msg.Target)
	default:
		s.log.Warn("outbox enqueue failed", "event", msg.Payload.EventType(), "target", msg.Target, "error", err)
	}
}

// resolveAndLink runs the resolver and stores the link. Failures are logged; the
// message is already committed.
func (s *Service) resolveAndLink(ctx context.Context, orgID uuid.UUID, orgSlug string, l repository.Lead, req transport.IngestMessageRequest) *transport.LinkResponse {
	if s.resolver == nil {
		return nil
	}
	match, err := s.resolver.Resolve(ctx, resolver.Input{
		OrganizationID: orgID,
		LeadID:         l.ID,
		Text:           req.Text,
		Payload:        req.Payload,
	})
	if err != nil {
		s.log.Warn("property resolution failed", "lead_id", l.ID.String(), "error", err)
		return nil
	}
	if match == nil {
		return nil
	}

	link, outcome, err := s.UpsertLink(ctx, orgID, l.ID, match.Property.ID, match.Confidence, match.Evidence, match.Strategy)
	if err != nil {
		s.log.Warn("lead property link failed", "lead_id", l.ID.String(), "property_id", match.Property.ID.String(), "error", err)
		return nil
	}

	if req.Channel == repository.ChannelChat && s.outbox != nil && s.outbox.HasTarget(outbox.TargetN8N) {
		msg := outbox.Message{
			OrganizationID:   orgID,
			OrganizationSlug: orgSlug,
			Target:           outbox.TargetN8N,
			Payload: outbox.PropertyInquiry{
				SessionID: req.ThreadID,
				LeadID:    l.ID,
				Property: outbox.PropertyRef{
					ID:    match.Property.ID,
					Slug:  match.Property.Slug,
					Title: match.Property.Title,
					City:  match.Property.City,
					Price: match.Property.PriceAmount,
				},
				Message:  req.Text,
				Referrer: req.Referrer,
			},
		}
		_, err := s.outbox.Enqueue(ctx, nil, msg)
		s.logEnqueue(msg, err)
	}

	return &transport.LinkResponse{
		PropertyID:   link.PropertyID,
		PropertySlug: match.Property.Slug,
		Confidence:   link.Confidence,
		Evidence:     link.Evidence,
		Strategy:     match.Strategy,
		Outcome:      string(outcome),
	}
}

// UpsertLink records that a lead is interested in a property. The stored
// confidence only ever increases; strategy is reported on the published event.
func (s *Service) UpsertLink(ctx context.Context, orgID, leadID, propertyID uuid.UUID, confidence float64, evidence, strategy string) (repository.Link, repository.LinkOutcome, error) {
	if math.IsNaN(confidence) || confidence < 0 || confidence > 1 {
		return repository.Link{}, "", apperr.Validation("confidence must be between 0 and 1")
	}
	link, outcome, err := s.store.UpsertLink(ctx, orgID, leadID, propertyID, confidence, evidence)
	if err != nil {
		return repository.Link{}, "", apperr.Wrap(apperr.KindInternal, "failed to store link", err)
	}

	if outcome.Changed() {
		s.log.Info("lead linked to property",
			"lead_id", leadID.String(),
			"property_id", propertyID.String(),
			"confidence", link.Confidence,
			"outcome", string(outcome))
		if s.bus != nil {
			s.bus.Publish(ctx, events.LeadPropertyLinked{
				BaseEvent:      events.NewBaseEvent(),
				LeadID:         leadID,
				PropertyID:     propertyID,
				OrganizationID: orgID,
				Confidence:     link.Confidence,
				Strategy:       strategy,
			})
		}
	}
	return link, outcome, nil
}

// GetLead returns one of the organization's leads.
func (s *Service) GetLead(ctx context.Context, orgID, id uuid.UUID) (repository.Lead, error) {
	l, err := s.store.GetByID(ctx, orgID, id)
	if errors.Is(err, repository.ErrNotFound) {
		return repository.Lead{}, apperr.NotFound("lead not found")
	}
	if err != nil {
		return repository.Lead{}, apperr.Wrap(apperr.KindInternal, "failed to load lead", err)
	}
	return l, nil
}

// Links lists a lead's property links, strongest first.
func (s *Service) Links(ctx context.Context, orgID, leadID uuid.UUID) ([]repository.Link, error) {
	if _, err := s.GetLead(ctx, orgID, leadID); err != nil {
		return nil, err
	}
	links, err := s.store.ListLinks(ctx, leadID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to list links", err)
	}
	return links, nil
}

// ApplyProcessingResult merges n8n's processing report into the lead's processing_status.
func (s *Service) ApplyProcessingResult(ctx context.Context, req transport.ProcessingResultRequest) (repository.Lead, error) {
	status := map[string]any{}
	if req.WebhookSent != nil {
		status["webhook_sent"] = *req.WebhookSent
	}
	if req.Status != "" {
		status["status"] = req.Status
	}
	if len(req.Details) > 0 {
		status["details"] = req.Details
	}
	processedAt := s.clock.Now().UTC()
	if req.ProcessedAt != nil {
		processedAt = req.ProcessedAt.UTC()
	}
	status["processed_at"] = processedAt

	raw, err := json.Marshal(status)
	if err != nil {
		return repository.Lead{}, apperr.Wrap(apperr.KindValidation, "invalid processing status", err)
	}
	l, err := s.store.MergeProcessingStatus(ctx, req.LeadID, raw)
	if errors.Is(err, repository.ErrNotFound) {
		return repository.Lead{}, apperr.NotFound("lead not found")
	}
	if err != nil {
		return repository.Lead{}, apperr.Wrap(apperr.KindInternal, "failed to store processing status", err)
	}
	s.log.Info("lead processing recorded", "lead_id", l.ID.String())
	return l, nil
}
