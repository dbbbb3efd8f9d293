package properties

import (
	"net/http"
	"strings"

	"estate_portal_backend/platform/httpkit"
	"estate_portal_backend/platform/sanitize"
	"estate_portal_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	errInvalidRequest = "invalid request body"
	errValidation     = "validation error"
)

// Handler serves the upload and property routes.
type Handler struct {
	service *Service
	val     *validator.Validator
}

// NewHandler creates a new properties handler.
func NewHandler(service *Service, val *validator.Validator) *Handler {
	return &Handler{service: service, val: val}
}

// CreateUploadRequest is the draft listing body.
type CreateUploadRequest struct {
	Title        string   `json:"title" validate:"required,max=200"`
	Description  string   `json:"description" validate:"max=20000"`
	PriceAmount  *int64   `json:"priceAmount" validate:"omitempty,min=0"`
	City         string   `json:"city" validate:"max=120"`
	Area         string   `json:"area" validate:"max=120"`
	Beds         *int     `json:"beds" validate:"omitempty,min=0,max=100"`
	Baths        *int     `json:"baths" validate:"omitempty,min=0,max=100"`
	FloorAreaSqm *int     `json:"floorAreaSqm" validate:"omitempty,min=0"`
	Features     []string `json:"features" validate:"max=50,dive,max=200"`
}

// HandleCreateUpload creates a draft listing and queues its AI jobs.
// POST /api/v1/properties/uploads
func (h *Handler) HandleCreateUpload(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	var req CreateUploadRequest
	if !h.bindAndValidate(c, &req) {
		return
	}

	features := make([]string, 0, len(req.Features))
	for _, f := range req.Features {
		if f = sanitize.Text(f); f != "" {
			features = append(features, f)
		}
	}

	created, err := h.service.CreateUpload(c.Request.Context(), NewUpload{
		OrganizationID: identity.OrganizationID(),
		Title:          sanitize.Text(req.Title),
		Description:    strings.TrimSpace(req.Description),
		PriceAmount:    req.PriceAmount,
		City:           sanitize.Text(req.City),
		Area:           sanitize.Text(req.Area),
		Beds:           req.Beds,
		Baths:          req.Baths,
		FloorAreaSqm:   req.FloorAreaSqm,
		Features:       features,
	})
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.JSON(c, http.StatusCreated, created)
}

// HandleGetUpload returns a draft listing.
// GET /api/v1/properties/uploads/:id
func (h *Handler) HandleGetUpload(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid upload ID", nil)
		return
	}

	upload, err := h.service.GetUpload(c.Request.Context(), identity.OrganizationID(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, upload)
}

// HandleGetProperty returns a property.
// GET /api/v1/properties/:id
func (h *Handler) HandleGetProperty(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid property ID", nil)
		return
	}

	p, err := h.service.GetProperty(c.Request.Context(), identity.OrganizationID(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, p)
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
