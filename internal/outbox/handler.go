package outbox

import (
	"net/http"
	"strconv"

	"estate_portal_backend/platform/httpkit"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	errNoOrgContext = "no organization context"
	errInvalidID    = "invalid outbox message ID"
)

// Handler serves the admin outbox views.
type Handler struct {
	service *Service
}

// NewHandler creates a new outbox handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// HandleList lists the organization's messages in one status (default failed).
// GET /api/v1/admin/outbox?status=failed&limit=50
func (h *Handler) HandleList(c *gin.Context) {
	orgID, ok := getOrganizationID(c)
	if !ok {
		return
	}
	status := Status(c.DefaultQuery("status", string(StatusFailed)))
	limit, _ := strconv.Atoi(c.Query("limit"))

	records, err := h.service.ListByStatus(c.Request.Context(), orgID, status, limit)
	if httpkit.HandleError(c, err) {
		return
	}
	if records == nil {
		records = []Record{}
	}
	httpkit.OK(c, gin.H{"messages": records, "count": len(records)})
}

// HandleRequeue moves a failed message back to retry.
// POST /api/v1/admin/outbox/:id/requeue
func (h *Handler) HandleRequeue(c *gin.Context) {
	orgID, ok := getOrganizationID(c)
	if !ok {
		return
	}
	id, ok := parseID(c)
	if !ok {
		return
	}

	rec, err := h.service.Requeue(c.Request.Context(), orgID, id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, rec)
}

// HandleArchiveURL returns a presigned link to the archived dead letter.
// GET /api/v1/admin/outbox/:id/archive
func (h *Handler) HandleArchiveURL(c *gin.Context) {
	orgID, ok := getOrganizationID(c)
	if !ok {
		return
	}
	id, ok := parseID(c)
	if !ok {
		return
	}

	url, err := h.service.ArchiveURL(c.Request.Context(), orgID, id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, url)
}

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

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, errInvalidID, nil)
		return uuid.UUID{}, false
	}
	return id, true
}
