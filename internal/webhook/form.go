package webhook

import (
	"regexp"
	"strconv"
	"strings"

	"estate_portal_backend/internal/leads/transport"

	"github.com/google/uuid"
)

const maxFormMessageChars = 20000

// ExtractedFields holds what a website form told us about the visitor and the listing.
type ExtractedFields struct {
	Name         string
	Email        string
	Phone        string
	Message      string
	PropertyID   string
	PropertySlug string
	PropertyURL  string
	BuyOrRent    string
	BudgetMax    *int64
	Beds         *int
	Areas        string
	UTMSource    string
	UTMMedium    string
	UTMCampaign  string
	Consent      bool
}

// IsIncomplete reports whether the form left out a way to reach the visitor.
func (e ExtractedFields) IsIncomplete() bool {
	return e.Email == "" && e.Phone == ""
}

// ExtractFields maps arbitrary form field names onto lead fields by label matching.
func ExtractFields(data map[string]string) ExtractedFields {
	var result ExtractedFields
	var first, last string

	for key, value := range data {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		k := strings.ToLower(strings.TrimSpace(key))

		switch {
		case matchesAny(k, firstNamePatterns):
			first = value
		case matchesAny(k, lastNamePatterns):
			last = value
		case matchesAny(k, fullNamePatterns):
			result.Name = value
		case matchesAny(k, emailPatterns):
			if emailRegex.MatchString(value) {
				result.Email = strings.ToLower(value)
			}
		case matchesAny(k, phonePatterns):
			result.Phone = value
		case matchesAny(k, messagePatterns):
			result.Message = value
		case matchesAny(k, propertyIDPatterns):
			result.PropertyID = value
		case matchesAny(k, propertySlugPatterns):
			result.PropertySlug = value
		case matchesAny(k, propertyURLPatterns):
			result.PropertyURL = value
		case matchesAny(k, intentPatterns):
			result.BuyOrRent = matchIntent(value)
		case matchesAny(k, budgetPatterns):
			result.BudgetMax = parseAmount(value)
		case matchesAny(k, bedsPatterns):
			if n, err := strconv.Atoi(value); err == nil && n >= 0 {
				result.Beds = &n
			}
		case matchesAny(k, areaPatterns):
			result.Areas = value
		case matchesAny(k, consentPatterns):
			result.Consent = isTruthy(value)
		case k == "utm_source":
			result.UTMSource = value
		case k == "utm_medium":
			result.UTMMedium = value
		case k == "utm_campaign":
			result.UTMCampaign = value
		}
	}

	if result.Name == "" {
		result.Name = strings.TrimSpace(first + " " + last)
	}
	return result
}

// IngestRequest turns a form submission into a webform channel message.
// The thread is the visitor's email or phone so repeat submissions land on one conversation.
func (e ExtractedFields) IngestRequest(submissionID, sourceDomain string, raw map[string]string) transport.IngestMessageRequest {
	thread := e.Email
	if thread == "" {
		thread = e.Phone
	}
	if thread == "" {
		thread = uuid.NewString()
	}

	payload := map[string]any{"form": raw}
	if e.PropertyID != "" {
		payload["property_id"] = e.PropertyID
	}
	if e.PropertySlug != "" {
		payload["property_slug"] = e.PropertySlug
	}
	if e.PropertyURL != "" {
		payload["property_url"] = e.PropertyURL
	}
	if sourceDomain != "" {
		payload["source_domain"] = sourceDomain
	}

	text := e.Message
	if len(text) > maxFormMessageChars {
		text = text[:maxFormMessageChars]
	}

	return transport.IngestMessageRequest{
		Channel:        "webform",
		Direction:      "inbound",
		ThreadID:       "form:" + thread,
		MessageID:      submissionID,
		Text:           text,
		Name:           e.Name,
		Email:          e.Email,
		Phone:          e.Phone,
		BuyOrRent:      e.BuyOrRent,
		BudgetMax:      e.BudgetMax,
		Beds:           e.Beds,
		Areas:          e.Areas,
		Payload:        payload,
		UTMSource:      e.UTMSource,
		UTMMedium:      e.UTMMedium,
		UTMCampaign:    e.UTMCampaign,
		Referrer:       sourceDomain,
		ConsentContact: e.Consent,
	}
}

// Field label patterns (English + Filipino)
var (
	firstNamePatterns    = []string{"first_name", "firstname", "given_name", "fname", "pangalan"}
	lastNamePatterns     = []string{"last_name", "lastname", "family_name", "surname", "lname", "apelyido"}
	fullNamePatterns     = []string{"name", "full_name", "your_name", "buong_pangalan"}
	emailPatterns        = []string{"email", "e-mail", "email_address", "mail"}
	phonePatterns        = []string{"phone", "tel", "telephone", "phone_number", "mobile", "mobile_number", "cellphone", "contact_number", "numero"}
	messagePatterns      = []string{"message", "comment", "comments", "notes", "inquiry", "enquiry", "question", "mensahe"}
	propertyIDPatterns   = []string{"property_id", "listing_id"}
	propertySlugPatterns = []string{"property_slug", "listing_slug", "property"}
	propertyURLPatterns  = []string{"property_url", "listing_url", "page_url", "url"}
	intentPatterns       = []string{"buy_or_rent", "intent", "purpose", "transaction_type"}
	budgetPatterns       = []string{"budget", "budget_max", "max_budget", "price_range", "max_price"}
	bedsPatterns         = []string{"beds", "bedrooms", "rooms"}
	areaPatterns         = []string{"area", "areas", "location", "preferred_location", "city"}
	consentPatterns      = []string{"consent", "consent_contact", "agree", "opt_in", "privacy"}
)

var (
	emailRegex  = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	amountRegex = regexp.MustCompile(`(?i)(\d[\d,]*(?:\.\d+)?)\s*([km])?`)
)

var labelReplacer = strings.NewReplacer("-", "", "_", "", " ", "")

func matchesAny(label string, patterns []string) bool {
	normalized := labelReplacer.Replace(label)
	for _, p := range patterns {
		if normalized == labelReplacer.Replace(p) {
			return true
		}
	}
	return false
}

func matchIntent(value string) string {
	v := strings.ToLower(value)
	switch {
	case strings.Contains(v, "rent"), strings.Contains(v, "lease"), strings.Contains(v, "upa"):
		return "rent"
	case strings.Contains(v, "buy"), strings.Contains(v, "purchase"), strings.Contains(v, "bili"):
		return "buy"
	}
	return ""
}

// parseAmount reads the largest amount in a budget field, e.g. "3M - 4.5M" or "PHP 25,000".
func parseAmount(value string) *int64 {
	var best int64
	for _, m := range amountRegex.FindAllStringSubmatch(value, -1) {
		f, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
		if err != nil {
			continue
		}
		switch strings.ToLower(m[2]) {
		case "k":
			f *= 1_000
		case "m":
			f *= 1_000_000
		}
		if n := int64(f); n > best {
			best = n
		}
	}
	if best == 0 {
		return nil
	}
	return &best
}

func isTruthy(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on", "y", "oo":
		return true
	}
	return false
}
