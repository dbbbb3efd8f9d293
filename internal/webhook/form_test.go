package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractFields(t *testing.T) {
	got := ExtractFields(map[string]string{
		"First Name":         "Maria",
		"last-name":          "Santos",
		"E-mail":             "Maria@Example.PH",
		"mobile_number":      "0917 123 4567",
		"Inquiry":            "  Looking to rent near BGC ",
		"listing_id":         "2b1f3c1e-4a9d-4c1a-9c55-0d5ad3c0b8a1",
		"transaction_type":   "For Rent",
		"price_range":        "25k - 40k",
		"bedrooms":           "2",
		"preferred location": "Taguig",
		"opt_in":             "yes",
		"utm_source":         "facebook",
		"unrelated":          "ignored",
	})

	assert.Equal(t, "Maria Santos", got.Name)
	assert.Equal(t, "maria@example.ph", got.Email)
	assert.Equal(t, "0917 123 4567", got.Phone)
	assert.Equal(t, "Looking to rent near BGC", got.Message)
	assert.Equal(t, "2b1f3c1e-4a9d-4c1a-9c55-0d5ad3c0b8a1", got.PropertyID)
	assert.Equal(t, "rent", got.BuyOrRent)
	require.NotNil(t, got.BudgetMax)
	assert.Equal(t, int64(40_000), *got.BudgetMax)
	require.NotNil(t, got.Beds)
	assert.Equal(t, 2, *got.Beds)
	assert.Equal(t, "Taguig", got.Areas)
	assert.True(t, got.Consent)
	assert.Equal(t, "facebook", got.UTMSource)
	assert.False(t, got.IsIncomplete())
}

func TestExtractFieldsRejectsMalformedEmail(t *testing.T) {
	got := ExtractFields(map[string]string{"email": "not-an-email", "name": "Jo"})
	assert.Empty(t, got.Email)
	assert.True(t, got.IsIncomplete())
}

func TestParseAmount(t *testing.T) {
	cases := map[string]int64{
		"PHP 25,000": 25_000,
		"3M - 4.5M":  4_500_000,
		"1,200,000":  1_200_000,
		"80k":        80_000,
	}
	for in, want := range cases {
		got := parseAmount(in)
		require.NotNil(t, got, in)
		assert.Equal(t, want, *got, in)
	}
	assert.Nil(t, parseAmount("negotiable"))
}

func TestIngestRequestWithoutContactGetsOwnThread(t *testing.T) {
	e := ExtractedFields{Message: "Hello", PropertySlug: "loft-makati"}
	a := e.IngestRequest("", "", map[string]string{"message": "Hello"})
	b := e.IngestRequest("", "", map[string]string{"message": "Hello"})

	assert.NotEqual(t, a.ThreadID, b.ThreadID)
	assert.Equal(t, "loft-makati", a.Payload["property_slug"])
	assert.Equal(t, "inbound", a.Direction)
}

func TestIsDomainAllowed(t *testing.T) {
	cases := []struct {
		origin  string
		allowed []string
		want    bool
	}{
		{"https://example.ph", []string{"example.ph"}, true},
		{"https://EXAMPLE.ph/path", []string{"example.ph"}, true},
		{"https://www.example.ph", []string{"example.ph"}, false},
		{"https://www.example.ph", []string{"*.example.ph"}, true},
		{"https://example.ph", []string{"*.example.ph"}, true},
		{"https://badexample.ph", []string{"*.example.ph"}, false},
		{"https://anything.test", []string{"*"}, true},
		{"", []string{"*"}, false},
		{"not a url", []string{"example.ph"}, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, isDomainAllowed(tc.origin, tc.allowed), tc.origin)
	}
}
