package handler

import (
	"net/http"

	"estate_portal_backend/internal/leads/service"
	"estate_portal_backend/internal/leads/transport"
	"estate_portal_backend/platform/httpkit"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	errInvalidRequest = "invalid request body"
	errLeadNotFound   = "lead not found"
)

// Handler serves message ingestion and lead lookups.
type Handler struct {
	svc *service.Service
}

func New(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// HandleIngestMessage appends a channel message to its lead.
// POST /api/v1/leads/messages
func (h *Handler) HandleIngestMessage(c *gin.Context) {
	orgID, ok := httpkit.OrganizationID(c)
	if !ok {
		httpkit.Error(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}

	var req transport.IngestMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, errInvalidRequest, err.Error())
		return
	}

	resp, err := h.svc.Ingest(c.Request.Context(), orgID, req)
	if httpkit.HandleError(c, err) {
		return
	}
	if resp.Duplicate {
		httpkit.OK(c, resp)
		return
	}
	httpkit.JSON(c, http.StatusCreated, resp)
}

// HandleGetLead returns one lead.
// GET /api/v1/leads/:id
func (h *Handler) HandleGetLead(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusNotFound, errLeadNotFound, nil)
		return
	}

	lead, err := h.svc.GetLead(c.Request.Context(), identity.OrganizationID(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, lead)
}

// HandleListLinks lists the properties a lead was linked to.
// GET /api/v1/admin/leads/:id/links
func (h *Handler) HandleListLinks(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusNotFound, errLeadNotFound, nil)
		return
	}

	links, err := h.svc.Links(c.Request.Context(), identity.OrganizationID(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"items": links})
}
