package webhook

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"estate_portal_backend/platform/httpkit"
	"estate_portal_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	errNoOrgContext   = "no organization context"
	errInvalidRequest = "invalid request body"
	errValidation     = "validation error"
	maxFormBytes      = 1 << 20
)

// Handler handles webhook HTTP requests.
type Handler struct {
	service *Service
	val     *validator.Validator
}

// NewHandler creates a new webhook handler.
func NewHandler(service *Service, val *validator.Validator) *Handler {
	return &Handler{service: service, val: val}
}

// ---- Form Submission (public, API-key authenticated) ----

// HandleFormSubmission ingests a website form as a webform message.
// POST /api/v1/webhook/forms
func (h *Handler) HandleFormSubmission(c *gin.Context) {
	orgID, ok := httpkit.OrganizationID(c)
	if !ok {
		httpkit.Error(c, http.StatusUnauthorized, "missing organization context", nil)
		return
	}

	submission, ok := parseFormSubmission(c)
	if !ok {
		return
	}

	resp, err := h.service.SubmitForm(c.Request.Context(), orgID, submission)
	if httpkit.HandleError(c, err) {
		return
	}
	if resp.Duplicate {
		httpkit.OK(c, resp)
		return
	}
	httpkit.JSON(c, http.StatusCreated, resp)
}

// ---- Admin API Key Management (JWT authenticated) ----

// CreateAPIKeyRequest is the request body for creating a new API key.
type CreateAPIKeyRequest struct {
	Name           string   `json:"name" validate:"required,min=1,max=100"`
	AllowedDomains []string `json:"allowedDomains" validate:"max=20,dive,max=200"`
}

// APIKeyResponse is returned when listing or creating API keys.
type APIKeyResponse struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	KeyPrefix      string    `json:"keyPrefix"`
	AllowedDomains []string  `json:"allowedDomains"`
	IsActive       bool      `json:"isActive"`
	CreatedAt      string    `json:"createdAt"`
}

// CreateAPIKeyResponse includes the plaintext key (shown only once).
type CreateAPIKeyResponse struct {
	APIKeyResponse
	Key string `json:"key"`
}

// HandleCreateAPIKey creates a new webhook API key.
// POST /api/v1/admin/webhook/keys
func (h *Handler) HandleCreateAPIKey(c *gin.Context) {
	var req CreateAPIKeyRequest
	if !h.bindAndValidate(c, &req) {
		return
	}
	orgID, ok := getOrganizationID(c)
	if !ok {
		return
	}

	key, plaintext, err := h.service.CreateKey(c.Request.Context(), orgID, req.Name, req.AllowedDomains)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.JSON(c, http.StatusCreated, CreateAPIKeyResponse{
		APIKeyResponse: toAPIKeyResponse(key),
		Key:            plaintext,
	})
}

// HandleListAPIKeys lists all webhook API keys for the organization.
// GET /api/v1/admin/webhook/keys
func (h *Handler) HandleListAPIKeys(c *gin.Context) {
	orgID, ok := getOrganizationID(c)
	if !ok {
		return
	}

	keys, err := h.service.ListKeys(c.Request.Context(), orgID)
	if httpkit.HandleError(c, err) {
		return
	}

	result := make([]APIKeyResponse, len(keys))
	for i, k := range keys {
		result[i] = toAPIKeyResponse(k)
	}
	httpkit.OK(c, result)
}

// HandleRevokeAPIKey deactivates a webhook API key.
// DELETE /api/v1/admin/webhook/keys/:keyId
func (h *Handler) HandleRevokeAPIKey(c *gin.Context) {
	orgID, ok := getOrganizationID(c)
	if !ok {
		return
	}
	keyID, err := uuid.Parse(c.Param("keyId"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid key ID", nil)
		return
	}

	if httpkit.HandleError(c, h.service.RevokeKey(c.Request.Context(), orgID, keyID)) {
		return
	}
	httpkit.OK(c, gin.H{"message": "API key revoked"})
}

func toAPIKeyResponse(key APIKey) APIKeyResponse {
	domains := key.AllowedDomains
	if domains == nil {
		domains = []string{}
	}
	return APIKeyResponse{
		ID:             key.ID,
		Name:           key.Name,
		KeyPrefix:      key.KeyPrefix,
		AllowedDomains: domains,
		IsActive:       key.IsActive,
		CreatedAt:      key.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// ---- Helpers ----

func getOrganizationID(c *gin.Context) (uuid.UUID, bool) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return uuid.UUID{}, false
	}
	orgID := identity.OrganizationID()
	if orgID == uuid.Nil {
		httpkit.Error(c, http.StatusForbidden, errNoOrgContext, nil)
		return uuid.UUID{}, false
	}
	return orgID, true
}

func (h *Handler) bindAndValidate(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, errInvalidRequest, err.Error())
		return false
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, errValidation, err.Error())
		return false
	}
	return true
}

func parseFormSubmission(c *gin.Context) (FormSubmission, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxFormBytes)

	fields := make(map[string]string)
	if strings.HasPrefix(c.ContentType(), "application/json") {
		if !collectJSONFields(c, fields) {
			return FormSubmission{}, false
		}
	} else {
		if err := c.Request.ParseMultipartForm(maxFormBytes); err != nil {
			if err := c.Request.ParseForm(); err != nil {
				httpkit.Error(c, http.StatusBadRequest, "unable to parse form data", nil)
				return FormSubmission{}, false
			}
		}
		collectFormFields(c, fields)
	}

	if len(fields) == 0 {
		httpkit.Error(c, http.StatusBadRequest, "no form data received", nil)
		return FormSubmission{}, false
	}

	source := c.GetHeader("Origin")
	if source == "" {
		source = c.GetHeader("Referer")
	}
	return FormSubmission{
		Fields:       fields,
		SubmissionID: strings.TrimSpace(c.GetHeader("X-Idempotency-Key")),
		SourceDomain: source,
	}, true
}

func collectFormFields(c *gin.Context, fields map[string]string) {
	if c.Request.MultipartForm != nil {
		for key, values := range c.Request.MultipartForm.Value {
			if len(values) > 0 {
				fields[key] = values[0]
			}
		}
	}
	for key, values := range c.Request.PostForm {
		if _, exists := fields[key]; !exists && len(values) > 0 {
			fields[key] = values[0]
		}
	}
}

func collectJSONFields(c *gin.Context, fields map[string]string) bool {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		httpkit.Error(c, http.StatusBadRequest, errInvalidRequest, err.Error())
		return false
	}
	for key, val := range body {
		switch v := val.(type) {
		case string:
			fields[key] = v
		case float64:
			fields[key] = strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			fields[key] = strconv.FormatBool(v)
		}
	}
	return true
}
