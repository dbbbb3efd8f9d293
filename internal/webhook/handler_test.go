package webhook

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	apphttp "estate_portal_backend/internal/http"
	"estate_portal_backend/internal/outbox"
	"estate_portal_backend/internal/properties"
	"estate_portal_backend/platform/config"
	"estate_portal_backend/platform/httpkit"
	"estate_portal_backend/platform/logger"
	"estate_portal_backend/platform/signing"
	"estate_portal_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "n8n-callback-secret"

type harness struct {
	engine   *gin.Engine
	keys     *memKeys
	leads    *fakeLeads
	enricher *fakeEnricher
	outbox   *fakeOutbox
	adminOrg uuid.UUID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := &harness{
		keys:     &memKeys{},
		leads:    &fakeLeads{},
		enricher: &fakeEnricher{got: map[uuid.UUID]properties.Enrichment{}},
		outbox:   &fakeOutbox{},
		adminOrg: uuid.New(),
	}
	cfg := &config.Config{WebhookSigningSecret: testSecret, SignatureWindow: 5 * time.Minute}
	m := &Module{cfg: cfg, keys: h.keys, val: validator.New(), log: logger.Nop()}
	m.Wire(Deps{Leads: h.leads, Properties: h.enricher, Outbox: h.outbox})

	engine := gin.New()
	v1 := engine.Group("/api/v1")
	admin := v1.Group("/admin")
	admin.Use(func(c *gin.Context) {
		c.Set(httpkit.ContextUserIDKey, uuid.New())
		c.Set(httpkit.ContextOrganizationIDKey, h.adminOrg)
		c.Set(httpkit.ContextRolesKey, []string{"admin"})
	})
	m.RegisterRoutes(&apphttp.RouterContext{
		Engine:   engine,
		V1:       v1,
		Admin:    admin,
		Webhooks: engine.Group("/webhook"),
	})
	h.engine = engine
	return h
}

func (h *harness) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.engine.ServeHTTP(rec, req)
	return rec
}

func signedRequest(method, path string, body []byte) *http.Request {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range signing.Headers(testSecret, time.Now(), body) {
		req.Header.Set(k, v)
	}
	return req
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestAPIKeyLifecycle(t *testing.T) {
	h := newHarness(t)

	body := mustJSON(t, map[string]any{"name": "Main site", "allowedDomains": []string{" Example.PH "}})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/webhook/keys", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := h.do(req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created CreateAPIKeyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.True(t, strings.HasPrefix(created.Key, "whk_"))
	assert.Equal(t, created.Key[:12], created.KeyPrefix)
	assert.Equal(t, []string{"example.ph"}, created.AllowedDomains)

	rec = h.do(httptest.NewRequest(http.MethodGet, "/api/v1/admin/webhook/keys", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed, 1)
	assert.NotContains(t, listed[0], "key")

	rec = h.do(httptest.NewRequest(http.MethodDelete, "/api/v1/admin/webhook/keys/"+created.ID.String(), nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = h.do(httptest.NewRequest(http.MethodDelete, "/api/v1/admin/webhook/keys/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateAPIKeyValidation(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/webhook/keys", strings.NewReader(`{"name":""}`))
	req.Header.Set("Content-Type", "application/json")
	rec := h.do(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFormSubmissionIngestsWebformMessage(t *testing.T) {
	h := newHarness(t)
	orgID := uuid.New()
	key := h.keys.issue(orgID, "*.example.ph")

	form := url.Values{
		"full_name":    {"Ana Reyes"},
		"email":        {"ANA@example.ph"},
		"message":      {"Is the Makati condo still available?"},
		"property_url": {"https://example.ph/property/makati-loft/"},
		"budget":       {"5M"},
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhook/forms", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(HeaderAPIKey, key)
	req.Header.Set("Origin", "https://listings.example.ph")
	req.Header.Set("X-Idempotency-Key", "sub-1")
	rec := h.do(req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	require.Len(t, h.leads.ingested, 1)
	got := h.leads.ingested[0]
	assert.Equal(t, orgID, h.leads.orgIDs[0])
	assert.Equal(t, "webform", got.Channel)
	assert.Equal(t, "form:ana@example.ph", got.ThreadID)
	assert.Equal(t, "sub-1", got.MessageID)
	assert.Equal(t, "Ana Reyes", got.Name)
	assert.Equal(t, "https://example.ph/property/makati-loft/", got.Payload["property_url"])
	require.NotNil(t, got.BudgetMax)
	assert.Equal(t, int64(5_000_000), *got.BudgetMax)
}

func TestFormSubmissionAuth(t *testing.T) {
	h := newHarness(t)
	key := h.keys.issue(uuid.New(), "example.ph")

	post := func(apiKey, origin string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhook/forms", strings.NewReader(`{"name":"Leo","phone":"09171234567"}`))
		req.Header.Set("Content-Type", "application/json")
		if apiKey != "" {
			req.Header.Set(HeaderAPIKey, apiKey)
		}
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		return h.do(req).Code
	}

	assert.Equal(t, http.StatusUnauthorized, post("", "https://example.ph"))
	assert.Equal(t, http.StatusUnauthorized, post("whk_nope", "https://example.ph"))
	assert.Equal(t, http.StatusForbidden, post(key, "https://evil.test"))
	assert.Equal(t, http.StatusForbidden, post(key, ""))
	assert.Equal(t, http.StatusCreated, post(key, "https://example.ph"))
	assert.Empty(t, h.leads.ingested[0].Email)
	assert.Equal(t, "form:09171234567", h.leads.ingested[0].ThreadID)
}

func TestFormSubmissionDuplicateAnswersOK(t *testing.T) {
	h := newHarness(t)
	h.leads.duplicate = true
	key := h.keys.issue(uuid.New())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhook/forms", strings.NewReader(`{"email":"a@b.ph","message":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderAPIKey, key)
	rec := h.do(req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp FormSubmissionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Duplicate)
	assert.Equal(t, "Duplicate submission ignored", resp.Message)
}

func TestFormWithoutContactOrMessageRejected(t *testing.T) {
	h := newHarness(t)
	key := h.keys.issue(uuid.New())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhook/forms", strings.NewReader(`{"utm_source":"fb"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderAPIKey, key)
	assert.Equal(t, http.StatusBadRequest, h.do(req).Code)
	assert.Empty(t, h.leads.ingested)
}

func TestCallbacksRequireSignature(t *testing.T) {
	h := newHarness(t)
	body := mustJSON(t, map[string]any{"property_id": uuid.NewString(), "narrative": "x"})

	req := httptest.NewRequest(http.MethodPost, "/webhook/n8n/property-enrichment/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusUnauthorized, h.do(req).Code)

	req = signedRequest(http.MethodPost, "/webhook/n8n/property-enrichment/", body)
	req.Header.Set(signing.HeaderSignature, signing.Sign("wrong", time.Now().Unix(), body))
	assert.Equal(t, http.StatusUnauthorized, h.do(req).Code)
	assert.Empty(t, h.enricher.got)
}

func TestPropertyEnrichmentCallback(t *testing.T) {
	h := newHarness(t)
	id := uuid.New()
	estimate := int64(6_200_000)
	body := mustJSON(t, PropertyEnrichmentRequest{PropertyID: id, Narrative: " Quiet street ", Estimate: &estimate})

	rec := h.do(signedRequest(http.MethodPost, "/webhook/n8n/property-enrichment/", body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := h.enricher.got[id]
	assert.Equal(t, "Quiet street", got.Narrative)
	assert.Equal(t, &estimate, got.Estimate)

	rec = h.do(signedRequest(http.MethodPost, "/webhook/n8n/property-enrichment/", []byte(`{"narrative":"no id"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLeadProcessingCallback(t *testing.T) {
	h := newHarness(t)
	leadID := uuid.New()
	body := mustJSON(t, map[string]any{"lead_id": leadID, "webhook_sent": true, "status": "qualified"})

	rec := h.do(signedRequest(http.MethodPost, "/webhook/n8n/lead-processing/", body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, h.leads.processed, 1)
	assert.Equal(t, "qualified", h.leads.processed[0].Status)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, map[string]any{"webhook_sent": true}, resp["processing_status"])
}

func TestOutboxCallbacks(t *testing.T) {
	h := newHarness(t)
	id := uuid.New()
	h.outbox.due = []outbox.Record{{ID: uuid.New()}, {ID: uuid.New()}, {ID: uuid.New()}}

	rec := h.do(signedRequest(http.MethodPost, "/webhook/n8n/send-now/", mustJSON(t, SendNowRequest{ID: id})))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []uuid.UUID{id}, h.outbox.sentNow)

	code := 502
	rec = h.do(signedRequest(http.MethodPost, "/webhook/n8n/fail/", mustJSON(t, FailRequest{ID: id, Reason: "crm down", StatusCode: &code})))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"outcome":"retry"`)
	require.Len(t, h.outbox.failures, 1)
	assert.Equal(t, 502, *h.outbox.failures[0].StatusCode)

	rec = h.do(signedRequest(http.MethodPost, "/webhook/n8n/fail/", []byte(`{"id":"`+id.String()+`","status_code":42}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(signedRequest(http.MethodGet, "/webhook/n8n/due-messages/?limit=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var due struct {
		Messages []outbox.Record `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &due))
	assert.Len(t, due.Messages, 2)
}

func TestCallbacksWithoutCollaboratorsAreUnavailable(t *testing.T) {
	h := newHarness(t)
	m := &Module{cfg: &config.Config{WebhookSigningSecret: testSecret}, keys: h.keys, val: validator.New(), log: logger.Nop()}
	engine := gin.New()
	v1 := engine.Group("/api/v1")
	m.RegisterRoutes(&apphttp.RouterContext{Engine: engine, V1: v1, Admin: v1.Group("/admin"), Webhooks: engine.Group("/webhook")})

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, signedRequest(http.MethodGet, "/webhook/n8n/due-messages/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
