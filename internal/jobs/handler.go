package jobs

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"estate_portal_backend/platform/httpkit"
	"estate_portal_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	errInvalidRequest = "invalid request body"
	errValidation     = "validation error"
)

// Handler serves the worker-facing lease API and the admin audit view.
type Handler struct {
	service *Service
	val     *validator.Validator
}

// NewHandler creates a new jobs handler.
func NewHandler(service *Service, val *validator.Validator) *Handler {
	return &Handler{service: service, val: val}
}

// CompleteRequest is the worker's report body.
type CompleteRequest struct {
	LeaseID       string          `json:"lease_id" validate:"required,uuid"`
	Status        Status          `json:"status" validate:"required,oneof=succeeded failed pending in_progress"`
	Result        json.RawMessage `json:"result"`
	Error         *string         `json:"error" validate:"omitempty,max=4000"`
	Attempts      *int            `json:"attempts" validate:"omitempty,min=0"`
	NextAttemptAt *time.Time      `json:"next_attempt_at"`
}

// HandleLease leases due jobs.
// GET /api/jobs/next?kind=property_ai_enrichment&limit=50
func (h *Handler) HandleLease(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))

	leased, err := h.service.Lease(c.Request.Context(), c.Query("kind"), limit)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, leased)
}

// HandleComplete applies a worker report.
// PATCH /api/jobs/:id
// POST /api/jobs/:id
func (h *Handler) HandleComplete(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusNotFound, "job not found", nil)
		return
	}

	var req CompleteRequest
	if !h.bindAndValidate(c, &req) {
		return
	}
	leaseID, _ := uuid.Parse(req.LeaseID)

	res, err := h.service.Complete(c.Request.Context(), CompleteParams{
		JobID:         jobID,
		LeaseID:       leaseID,
		Status:        req.Status,
		Result:        req.Result,
		Error:         req.Error,
		Attempts:      req.Attempts,
		NextAttemptAt: req.NextAttemptAt,
	})
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, res)
}

// HandleListEvents returns a job and its audit trail.
// GET /api/v1/admin/jobs/:id/events
func (h *Handler) HandleListEvents(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid job ID", nil)
		return
	}

	job, evs, err := h.service.Events(c.Request.Context(), identity.OrganizationID(), jobID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"job": job, "events": evs})
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
