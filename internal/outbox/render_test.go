package outbox

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleLead() LeadSnapshot {
	return LeadSnapshot{
		ID:             uuid.MustParse("7b1c1a52-7f0e-4a0f-9c43-5c2b8f1e2d10"),
		Name:           "Maria Clara Santos",
		Email:          "maria@example.com",
		Phone:          "+639171234567",
		Source:         "chat",
		Status:         "new",
		ConversationID: "conv-1",
		CreatedAt:      time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func decode(t *testing.T, raw json.RawMessage) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestRenderLeadCreatedPerTarget(t *testing.T) {
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	hub := decode(t, mustRender(t, TargetHubSpot, at, LeadCreated{Lead: sampleLead()}))
	assert.Equal(t, "lead.created", hub["event"])
	assert.Equal(t, "acme", hub["organization_slug"])
	lead := hub["lead"].(map[string]any)
	props := lead["properties"].(map[string]any)
	assert.Equal(t, "Maria", props["firstname"])
	assert.Equal(t, "Clara Santos", props["lastname"])
	assert.Equal(t, "NEW", props["hs_lead_status"])
	assert.NotContains(t, lead, "conversation_id")

	n8n := decode(t, mustRender(t, TargetN8N, at, LeadCreated{Lead: sampleLead()}))
	assert.Equal(t, "lead-processing", n8n["workflow"])
	assert.Equal(t, "conv-1", n8n["lead"].(map[string]any)["conversation_id"])

	kat := decode(t, mustRender(t, TargetKatalyst, at, LeadCreated{Lead: sampleLead()}))
	assert.NotContains(t, kat, "workflow")
	assert.NotContains(t, kat["lead"].(map[string]any), "properties")
}

func TestRenderChatInquiryShape(t *testing.T) {
	price := int64(12500000)
	doc := decode(t, mustRender(t, TargetKatalyst, time.Now(), ChatInquiry{
		SessionID: "sess-9",
		Lead:      sampleLead(),
		Property:  &PropertyRef{ID: uuid.New(), Slug: "bgc-loft", Title: "BGC Loft", City: "Taguig", Price: &price},
	}))
	assert.Equal(t, "chat_inquiry", doc["type"])
	assert.Equal(t, "sess-9", doc["session_id"])
	assert.Equal(t, "bgc-loft", doc["property"].(map[string]any)["slug"])
	assert.Contains(t, doc, "tracking")
}

func TestRenderPropertyInquiryShape(t *testing.T) {
	leadID := uuid.New()
	doc := decode(t, mustRender(t, TargetKatalyst, time.Now(), PropertyInquiry{
		SessionID: "sess-1",
		LeadID:    leadID,
		Property:  PropertyRef{ID: uuid.New(), Slug: "makati-condo"},
		Message:   "Is this still available?",
	}))
	assert.Equal(t, "property_inquiry", doc["type"])
	assert.Equal(t, leadID.String(), doc["lead_id"])
	assert.Equal(t, "Is this still available?", doc["chat"].(map[string]any)["message"])
}

func TestRenderKeepsLargeIntegersExact(t *testing.T) {
	price := int64(9007199254740993)
	raw := mustRender(t, TargetN8N, time.Now(), PropertyEnrich{UploadID: uuid.New(), PriceAmount: &price})
	assert.Contains(t, string(raw), `"price_amount":9007199254740993`)
}

func TestSplitName(t *testing.T) {
	first, last := splitName("  Cher  ")
	assert.Equal(t, "Cher", first)
	assert.Equal(t, "", last)
}

func mustRender(t *testing.T, target string, at time.Time, p Payload) json.RawMessage {
	t.Helper()
	raw, err := Render(target, "acme", at, p)
	require.NoError(t, err)
	return raw
}
