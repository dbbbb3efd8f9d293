package outbox

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Known delivery targets with target-specific rendering.
const (
	TargetN8N      = "n8n"
	TargetHubSpot  = "hubspot"
	TargetKatalyst = "katalyst"
)

// Render produces the body stored for target. It runs once, at enqueue time.
func Render(target, organizationSlug string, occurredAt time.Time, payload Payload) (json.RawMessage, error) {
	timestamp := occurredAt.UTC().Format(time.RFC3339Nano)

	var doc map[string]any
	switch p := payload.(type) {
	case LeadCreated:
		lead, err := toMap(p.Lead)
		if err != nil {
			return nil, err
		}
		doc = map[string]any{
			"event":             EventLeadCreated,
			"organization_slug": organizationSlug,
			"occurred_at":       timestamp,
			"lead":              lead,
		}
		switch target {
		case TargetHubSpot:
			delete(lead, "conversation_id")
			first, last := splitName(p.Lead.Name)
			lead["properties"] = map[string]any{
				"firstname":      first,
				"lastname":       last,
				"email":          p.Lead.Email,
				"phone":          p.Lead.Phone,
				"hs_lead_status": "NEW",
				"lead_source":    p.Lead.Source,
			}
		case TargetN8N:
			doc["workflow"] = "lead-processing"
			lead["conversation_id"] = p.Lead.ConversationID
		default:
			delete(lead, "conversation_id")
		}

	case PropertyEnrich:
		body, err := toMap(p)
		if err != nil {
			return nil, err
		}
		body["event"] = EventPropertyEnrich
		body["organization_slug"] = organizationSlug
		body["occurred_at"] = timestamp
		doc = body

	case ChatInquiry:
		property := map[string]any{}
		if p.Property != nil {
			ref, err := toMap(*p.Property)
			if err != nil {
				return nil, err
			}
			property = ref
		}
		doc = map[string]any{
			"type":              EventChatInquiry,
			"timestamp":         timestamp,
			"session_id":        p.SessionID,
			"organization_slug": organizationSlug,
			"lead": map[string]any{
				"id":          p.Lead.ID.String(),
				"name":        p.Lead.Name,
				"phone":       p.Lead.Phone,
				"email":       p.Lead.Email,
				"buy_or_rent": p.Lead.BuyOrRent,
				"budget_max":  p.Lead.BudgetMax,
				"beds":        p.Lead.Beds,
				"areas":       p.Lead.Areas,
				"message":     p.Lead.Message,
			},
			"tracking": map[string]any{
				"utm_source":   p.Lead.UTMSource,
				"utm_campaign": p.Lead.UTMCampaign,
				"referrer":     p.Lead.Referrer,
			},
			"property": property,
		}

	case PropertyListing:
		property, err := toMap(p.Property)
		if err != nil {
			return nil, err
		}
		uploadInfo := map[string]any{
			"validation_result": p.ValidationResult,
			"missing_fields":    p.MissingFields,
		}
		if p.UploadID != nil {
			uploadInfo["upload_id"] = p.UploadID.String()
		}
		doc = map[string]any{
			"type":              EventPropertyListing,
			"timestamp":         timestamp,
			"organization_slug": organizationSlug,
			"property":          property,
			"upload_info":       uploadInfo,
			"source":            p.Source,
		}

	case PropertyInquiry:
		property, err := toMap(p.Property)
		if err != nil {
			return nil, err
		}
		doc = map[string]any{
			"type":              EventPropertyInquiry,
			"timestamp":         timestamp,
			"session_id":        p.SessionID,
			"organization_slug": organizationSlug,
			"lead_id":           p.LeadID.String(),
			"property":          property,
			"chat":              map[string]any{"message": p.Message},
			"tracking":          map[string]any{"referrer": p.Referrer},
		}

	default:
		return nil, fmt.Errorf("unsupported payload %T", payload)
	}

	return json.Marshal(doc)
}

func toMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return out, nil
}

func splitName(name string) (string, string) {
	parts := strings.Fields(name)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}
