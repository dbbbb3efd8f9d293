package service

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"

	"estate_portal_backend/internal/email"
	"estate_portal_backend/internal/events"
	"estate_portal_backend/internal/leads/repository"
	"estate_portal_backend/internal/leads/resolver"
	"estate_portal_backend/internal/leads/transport"
	"estate_portal_backend/internal/outbox"
	"estate_portal_backend/internal/properties"
	"estate_portal_backend/platform/apperr"
	"estate_portal_backend/platform/clock"
	"estate_portal_backend/platform/logger"
	"estate_portal_backend/platform/validator"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var orgID = uuid.MustParse("0b9d3c52-7f0e-4d7a-8f43-000000000042")

type fixture struct {
	svc    *Service
	store  *memStore
	outbox *captureOutbox
	bus    *recordingBus
	res    *stubResolver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:  newMemStore(orgID, "acme-realty"),
		outbox: newCaptureOutbox(),
		bus:    &recordingBus{},
		res:    &stubResolver{},
	}
	clk := clock.NewFakeClock(start)
	f.svc = New(f.store, f.res, f.outbox, f.bus, validator.New(), "PH", clk, logger.Nop())
	return f
}

func sunnyLoft() properties.Property {
	price := int64(520_000)
	return properties.Property{
		ID:             uuid.MustParse("7a0f51f6-2f64-4b9e-8d7e-000000000007"),
		OrganizationID: orgID,
		Slug:           "sunny-loft-makati",
		Title:          "Sunny Loft",
		City:           "Makati",
		PriceAmount:    &price,
	}
}

func TestIngestNewChatLead(t *testing.T) {
	f := newFixture(t)
	loft := sunnyLoft()
	f.res.match = &resolver.Match{Property: loft, Confidence: 1.0, Evidence: "Explicit property_id in payload", Strategy: resolver.StrategyExplicit}

	resp, err := f.svc.Ingest(context.Background(), orgID, transport.IngestMessageRequest{
		Channel:   "chat",
		ThreadID:  "sess-1",
		MessageID: "m-1",
		Text:      "Hi, I'm Maria Santos. Reach me at Maria@Example.com or 0917 123 4567",
		Payload:   map[string]any{"property_id": loft.ID.String()},
	})
	require.NoError(t, err)

	assert.True(t, resp.LeadCreated)
	assert.False(t, resp.Duplicate)
	assert.NotEqual(t, uuid.Nil, resp.LeadID)
	assert.NotEqual(t, uuid.Nil, resp.MessageID)
	require.NotNil(t, resp.Link)
	assert.Equal(t, loft.ID, resp.Link.PropertyID)
	assert.Equal(t, 1.0, resp.Link.Confidence)
	assert.Equal(t, "created", resp.Link.Outcome)

	lead := f.store.lead(resp.LeadID)
	assert.Equal(t, "Maria Santos", lead.Name)
	assert.Equal(t, "maria@example.com", lead.Email)
	assert.Equal(t, "+639171234567", lead.Phone)

	assert.Equal(t, []string{
		"n8n/lead.created",
		"hubspot/lead.created",
		"n8n/chat_inquiry",
		"n8n/property_inquiry",
	}, f.outbox.eventTypes())
	assert.Equal(t, 3, f.store.savepoints, "in-transaction enqueues are isolated")

	inquiry, ok := f.outbox.messages[3].Payload.(outbox.PropertyInquiry)
	require.True(t, ok)
	assert.Equal(t, "sess-1", inquiry.SessionID)
	assert.Equal(t, loft.Slug, inquiry.Property.Slug)
	assert.Equal(t, "acme-realty", f.outbox.messages[0].OrganizationSlug)

	assert.Equal(t, []string{"leads.lead.created", "leads.property.linked"}, f.bus.names())
	require.Len(t, f.res.calls, 1)
	assert.Equal(t, resp.LeadID, f.res.calls[0].LeadID)
}

func TestIngestDuplicateMessageIsNoop(t *testing.T) {
	f := newFixture(t)
	req := transport.IngestMessageRequest{Channel: "facebook", ThreadID: "psid-9", MessageID: "mid.1", Text: "still available?"}

	first, err := f.svc.Ingest(context.Background(), orgID, req)
	require.NoError(t, err)
	sent := len(f.outbox.messages)

	second, err := f.svc.Ingest(context.Background(), orgID, req)
	require.NoError(t, err)

	assert.True(t, second.Duplicate)
	assert.False(t, second.LeadCreated)
	assert.Equal(t, first.LeadID, second.LeadID)
	assert.Equal(t, first.MessageID, second.MessageID)
	assert.Len(t, f.store.messages, 1)
	assert.Len(t, f.outbox.messages, sent)
	assert.Len(t, f.res.calls, 1, "duplicates are not resolved again")
}

func TestIngestMatchesExistingLead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Ingest(ctx, orgID, transport.IngestMessageRequest{
		Channel: "webform", ThreadID: "form-1", Email: "ana@example.com", Phone: "09171234567", Text: "Tour request",
	})
	require.NoError(t, err)
	require.True(t, first.LeadCreated)

	byEmail, err := f.svc.Ingest(ctx, orgID, transport.IngestMessageRequest{
		Channel: "email", ThreadID: "ana@example.com", Email: "ANA@example.com", Text: "following up",
	})
	require.NoError(t, err)
	assert.False(t, byEmail.LeadCreated)
	assert.Equal(t, first.LeadID, byEmail.LeadID)

	byPhone, err := f.svc.Ingest(ctx, orgID, transport.IngestMessageRequest{
		Channel: "instagram", ThreadID: "ig-77", Text: "call me 0917 123 4567",
	})
	require.NoError(t, err)
	assert.Equal(t, first.LeadID, byPhone.LeadID)

	byThread, err := f.svc.Ingest(ctx, orgID, transport.IngestMessageRequest{
		Channel: "instagram", ThreadID: "ig-77", Text: "and one more thing",
	})
	require.NoError(t, err)
	assert.Equal(t, first.LeadID, byThread.LeadID)

	otherChannel, err := f.svc.Ingest(ctx, orgID, transport.IngestMessageRequest{
		Channel: "facebook", ThreadID: "ig-77", Text: "hello",
	})
	require.NoError(t, err)
	assert.True(t, otherChannel.LeadCreated, "threads are scoped to their channel")

	assert.Len(t, f.store.leads, 2)
	assert.Contains(t, f.store.locks, orgID.String()+":email:ana@example.com")
}

func TestIngestFillsMissingContact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Ingest(ctx, orgID, transport.IngestMessageRequest{Channel: "chat", ThreadID: "s-5", Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "", f.store.lead(first.LeadID).Email)

	second, err := f.svc.Ingest(ctx, orgID, transport.IngestMessageRequest{Channel: "chat", ThreadID: "s-5", Text: "my name is Leo, leo@example.org"})
	require.NoError(t, err)
	require.Equal(t, first.LeadID, second.LeadID)

	lead := f.store.lead(first.LeadID)
	assert.Equal(t, "leo@example.org", lead.Email)
	assert.Equal(t, "Leo", lead.Name)
}

func TestIngestSurvivesOutboxFailures(t *testing.T) {
	for _, outboxErr := range []error{outbox.ErrIntegrationDisabled, apperr.Validation("unknown or unconfigured target: katalyst")} {
		f := newFixture(t)
		f.outbox.err = outboxErr
		f.res.match = &resolver.Match{Property: sunnyLoft(), Confidence: 0.9, Evidence: "Property URL match: sunny-loft-makati", Strategy: resolver.StrategyURL}

		resp, err := f.svc.Ingest(context.Background(), orgID, transport.IngestMessageRequest{Channel: "chat", ThreadID: "s-1", Text: "see /property/sunny-loft-makati"})
		require.NoError(t, err)
		assert.True(t, resp.LeadCreated)
		require.NotNil(t, resp.Link)
		assert.Empty(t, f.outbox.messages)
	}
}

func TestIngestWithoutResolverMatch(t *testing.T) {
	f := newFixture(t)
	f.res.err = errors.New("boom")

	resp, err := f.svc.Ingest(context.Background(), orgID, transport.IngestMessageRequest{Channel: "chat", ThreadID: "s-2", Text: "hi"})
	require.NoError(t, err)
	assert.Nil(t, resp.Link)
	assert.Equal(t, []string{"leads.lead.created"}, f.bus.names())
}

func TestIngestOutboundSkipsContactExtraction(t *testing.T) {
	f := newFixture(t)
	resp, err := f.svc.Ingest(context.Background(), orgID, transport.IngestMessageRequest{
		Channel: "chat", Direction: "outbound", ThreadID: "s-3", Text: "Hi, this is Carla from Acme, email me at carla@acme.test",
	})
	require.NoError(t, err)

	lead := f.store.lead(resp.LeadID)
	assert.Empty(t, lead.Email)
	assert.Empty(t, lead.Name)
}

func TestIngestValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Ingest(context.Background(), orgID, transport.IngestMessageRequest{Channel: "sms", ThreadID: "x"})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.svc.Ingest(context.Background(), orgID, transport.IngestMessageRequest{Channel: "chat"})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.svc.Ingest(context.Background(), uuid.New(), transport.IngestMessageRequest{Channel: "chat", ThreadID: "x"})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestUpsertLinkNeverRegresses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	leadID, propertyID := uuid.New(), uuid.New()

	link, outcome, err := f.svc.UpsertLink(ctx, orgID, leadID, propertyID, 0.6, "Fuzzy match: title/keywords/price proximity", resolver.StrategyFuzzy)
	require.NoError(t, err)
	assert.Equal(t, repository.LinkCreated, outcome)
	assert.Equal(t, 0.6, link.Confidence)
	assert.Equal(t, orgID, link.OrganizationID)

	link, outcome, err = f.svc.UpsertLink(ctx, orgID, leadID, propertyID, 0.9, "Property URL match: x", resolver.StrategyURL)
	require.NoError(t, err)
	assert.Equal(t, repository.LinkUpgraded, outcome)
	assert.Equal(t, 0.9, link.Confidence)

	link, outcome, err = f.svc.UpsertLink(ctx, orgID, leadID, propertyID, 0.78, "Vector similarity search", resolver.StrategyVector)
	require.NoError(t, err)
	assert.Equal(t, repository.LinkUnchanged, outcome)
	assert.Equal(t, 0.9, link.Confidence)
	assert.Equal(t, "Property URL match: x", link.Evidence)

	_, outcome, err = f.svc.UpsertLink(ctx, orgID, leadID, propertyID, 0.9, "same again", resolver.StrategyURL)
	require.NoError(t, err)
	assert.Equal(t, repository.LinkUnchanged, outcome)

	assert.Len(t, f.bus.published, 2)
	linked, ok := f.bus.published[1].(events.LeadPropertyLinked)
	require.True(t, ok)
	assert.Equal(t, resolver.StrategyURL, linked.Strategy)
}

func TestUpsertLinkRejectsOutOfRangeConfidence(t *testing.T) {
	f := newFixture(t)
	for _, c := range []float64{-0.01, 1.01, math.NaN()} {
		_, _, err := f.svc.UpsertLink(context.Background(), orgID, uuid.New(), uuid.New(), c, "x", "manual")
		assert.True(t, apperr.Is(err, apperr.KindValidation), "confidence %v", c)
	}
	assert.Empty(t, f.store.links)
}

func TestLinksScopedToOrganization(t *testing.T) {
	f := newFixture(t)
	resp, err := f.svc.Ingest(context.Background(), orgID, transport.IngestMessageRequest{Channel: "chat", ThreadID: "s-4", Text: "hi"})
	require.NoError(t, err)
	_, _, err = f.svc.UpsertLink(context.Background(), orgID, resp.LeadID, uuid.New(), 0.85, "MLS/ref code match: 1", resolver.StrategyReference)
	require.NoError(t, err)

	links, err := f.svc.Links(context.Background(), orgID, resp.LeadID)
	require.NoError(t, err)
	assert.Len(t, links, 1)

	_, err = f.svc.Links(context.Background(), uuid.New(), resp.LeadID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestIngestEmail(t *testing.T) {
	f := newFixture(t)

	err := f.svc.IngestEmail(context.Background(), "acme-realty", email.InboundEmail{
		UID:         12,
		MessageID:   "<abc@mail.example>",
		FromAddress: "Buyer@Example.com",
		FromName:    "Pat Buyer",
		Subject:     "Question about the villa",
		Body:        "Is the garden villa still for sale?",
	})
	require.NoError(t, err)

	require.Len(t, f.store.messages, 1)
	msg := f.store.messages[0]
	assert.Equal(t, repository.ChannelEmail, msg.Channel)
	assert.Equal(t, "buyer@example.com", msg.ThreadID)
	require.NotNil(t, msg.ExternalMessageID)
	assert.Equal(t, "abc@mail.example", *msg.ExternalMessageID)
	assert.Contains(t, msg.Body, "Question about the villa")

	lead := f.store.lead(*msg.LeadID)
	assert.Equal(t, "Pat Buyer", lead.Name)
	assert.Equal(t, "buyer@example.com", lead.Email)

	err = f.svc.IngestEmail(context.Background(), "unknown-org", email.InboundEmail{UID: 1, FromAddress: "a@b.co"})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestApplyProcessingResult(t *testing.T) {
	f := newFixture(t)
	resp, err := f.svc.Ingest(context.Background(), orgID, transport.IngestMessageRequest{Channel: "chat", ThreadID: "s-6", Text: "hi"})
	require.NoError(t, err)

	sent := true
	lead, err := f.svc.ApplyProcessingResult(context.Background(), transport.ProcessingResultRequest{
		LeadID:      resp.LeadID,
		WebhookSent: &sent,
		Status:      "qualified",
	})
	require.NoError(t, err)

	var status map[string]any
	require.NoError(t, json.Unmarshal(lead.ProcessingStatus, &status))
	assert.Equal(t, true, status["webhook_sent"])
	assert.Equal(t, "qualified", status["status"])
	assert.Equal(t, "2026-03-01T09:00:00Z", status["processed_at"])

	_, err = f.svc.ApplyProcessingResult(context.Background(), transport.ProcessingResultRequest{LeadID: uuid.New()})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}
