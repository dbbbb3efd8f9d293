package webhook

import (
	"strconv"

	"estate_portal_backend/internal/leads/transport"
	"estate_portal_backend/internal/outbox"
	"estate_portal_backend/platform/httpkit"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// PropertyEnrichmentRequest is n8n's market data for one property.
type PropertyEnrichmentRequest struct {
	PropertyID      uuid.UUID `json:"property_id" validate:"required"`
	Narrative       string    `json:"narrative" validate:"max=20000"`
	Estimate        *int64    `json:"estimate" validate:"omitempty,gte=0"`
	NeighborhoodAvg *int64    `json:"neighborhood_avg" validate:"omitempty,gte=0"`
	Source          string    `json:"source" validate:"max=64"`
}

// SendNowRequest names the outbox message to deliver immediately.
type SendNowRequest struct {
	ID uuid.UUID `json:"id" validate:"required"`
}

// FailRequest reports a delivery n8n attempted and failed.
type FailRequest struct {
	ID         uuid.UUID `json:"id" validate:"required"`
	Reason     string    `json:"reason" validate:"max=2000"`
	StatusCode *int      `json:"status_code" validate:"omitempty,gte=100,lte=599"`
}

// HandlePropertyEnrichment stores enrichment results.
// POST /webhook/n8n/property-enrichment/
func (h *Handler) HandlePropertyEnrichment(c *gin.Context) {
	var req PropertyEnrichmentRequest
	if !h.bindAndValidate(c, &req) {
		return
	}

	p, err := h.service.ApplyPropertyEnrichment(c.Request.Context(), req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"property_id": p.ID, "status": "ok"})
}

// HandleLeadProcessing stores n8n's processing status on a lead.
// POST /webhook/n8n/lead-processing/
func (h *Handler) HandleLeadProcessing(c *gin.Context) {
	var req transport.ProcessingResultRequest
	if !h.bindAndValidate(c, &req) {
		return
	}

	lead, err := h.service.ApplyLeadProcessing(c.Request.Context(), req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"lead_id": lead.ID, "processing_status": lead.ProcessingStatus})
}

// HandleSendNow makes an outbox message due and nudges the dispatcher.
// POST /webhook/n8n/send-now/
func (h *Handler) HandleSendNow(c *gin.Context) {
	var req SendNowRequest
	if !h.bindAndValidate(c, &req) {
		return
	}

	rec, err := h.service.SendNow(c.Request.Context(), req.ID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, rec)
}

// HandleFail consumes one attempt of an externally delivered message.
// POST /webhook/n8n/fail/
func (h *Handler) HandleFail(c *gin.Context) {
	var req FailRequest
	if !h.bindAndValidate(c, &req) {
		return
	}

	outcome, err := h.service.RecordFailure(c.Request.Context(), req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"id": req.ID, "outcome": outcome})
}

// HandleDueMessages lists messages n8n may deliver itself.
// GET /webhook/n8n/due-messages/?limit=50
func (h *Handler) HandleDueMessages(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))

	records, err := h.service.DueMessages(c.Request.Context(), limit)
	if httpkit.HandleError(c, err) {
		return
	}
	if records == nil {
		records = []outbox.Record{}
	}
	httpkit.OK(c, gin.H{"messages": records})
}
