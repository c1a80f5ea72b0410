package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/ayo6706/payout-reconciler/internal/models"
	"github.com/ayo6706/payout-reconciler/internal/service"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PayoutProcessor sends queued payouts to the gateway.
type PayoutProcessor interface {
	ProcessBatch(ctx context.Context) (*models.BatchResult, error)
	ProcessSingle(ctx context.Context, id uuid.UUID, adminID *uuid.UUID) (*models.ProcessResult, error)
}

// PayoutHandler handles HTTP requests for payouts.
type PayoutHandler struct {
	payoutSvc *service.PayoutService
	processor PayoutProcessor
}

func NewPayoutHandler(payoutSvc *service.PayoutService, processor PayoutProcessor) *PayoutHandler {
	return &PayoutHandler{payoutSvc: payoutSvc, processor: processor}
}

// CreatePayout handles POST /v1/payouts and queues a pending payout.
func (h *PayoutHandler) CreatePayout(w http.ResponseWriter, r *http.Request) {
	var req service.CreatePayoutRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	payout, err := h.payoutSvc.CreatePayout(r.Context(), req, requestAdmin(r))
	if err != nil {
		respondServiceError(w, r, err, "create payout")
		return
	}
	RespondJSON(w, http.StatusCreated, payout)
}

// ListPayouts handles GET /v1/payouts?status=&limit=&offset=.
func (h *PayoutHandler) ListPayouts(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := pageParams(w, r)
	if !ok {
		return
	}
	status := strings.TrimSpace(r.URL.Query().Get("status"))
	payouts, err := h.payoutSvc.ListPayouts(r.Context(), status, limit, offset)
	if err != nil {
		respondServiceError(w, r, err, "list payouts")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"items":  payouts,
		"limit":  limit,
		"offset": offset,
		"count":  len(payouts),
	})
}

func (h *PayoutHandler) GetPayout(w http.ResponseWriter, r *http.Request) {
	id, ok := pathPayoutID(w, r)
	if !ok {
		return
	}
	payout, err := h.payoutSvc.GetPayout(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, err, "get payout")
		return
	}
	RespondJSON(w, http.StatusOK, payout)
}

// GetPayoutAudit handles GET /v1/payouts/{id}/audit.
func (h *PayoutHandler) GetPayoutAudit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathPayoutID(w, r)
	if !ok {
		return
	}
	logs, err := h.payoutSvc.AuditTrail(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, err, "load payout audit trail")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"items": logs})
}

type rejectPayoutRequest struct {
	Reason string `json:"reason"`
}

// RejectPayout handles POST /v1/payouts/{id}/reject.
func (h *PayoutHandler) RejectPayout(w http.ResponseWriter, r *http.Request) {
	id, ok := pathPayoutID(w, r)
	if !ok {
		return
	}
	var req rejectPayoutRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	payout, err := h.payoutSvc.RejectPayout(r.Context(), id, requestAdmin(r), req.Reason)
	if err != nil {
		respondServiceError(w, r, err, "reject payout")
		return
	}
	RespondJSON(w, http.StatusOK, payout)
}

// ProcessBatch handles POST /v1/payouts/process and runs one batch synchronously.
// Guardrail stops are reported in the result body, not as errors.
func (h *PayoutHandler) ProcessBatch(w http.ResponseWriter, r *http.Request) {
	result, err := h.processor.ProcessBatch(r.Context())
	if err != nil {
		zap.L().Error("manual batch trigger failed", zap.Error(err))
		RespondError(w, r, http.StatusServiceUnavailable, "payout/batch-failed", "Batch could not run: "+err.Error())
		return
	}
	RespondJSON(w, http.StatusOK, result)
}

// ProcessPayout handles POST /v1/payouts/{id}/process. The daily cap and the
// auto-processing switch do not apply; the balance check does.
func (h *PayoutHandler) ProcessPayout(w http.ResponseWriter, r *http.Request) {
	id, ok := pathPayoutID(w, r)
	if !ok {
		return
	}
	result, err := h.processor.ProcessSingle(r.Context(), id, requestAdmin(r))
	if err != nil {
		respondServiceError(w, r, err, "process payout")
		return
	}
	RespondJSON(w, http.StatusOK, result)
}
