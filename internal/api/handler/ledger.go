package handler

import (
	"context"
	"net/http"

	"github.com/ayo6706/payout-reconciler/internal/service"
)

// LedgerAuditor compares the ledger counters with the payouts behind them.
type LedgerAuditor interface {
	Run(ctx context.Context) ([]service.Discrepancy, error)
}

// LedgerHandler exposes the system ledger and its guardrails to operators.
type LedgerHandler struct {
	ledgerSvc *service.LedgerService
	auditor   LedgerAuditor
}

func NewLedgerHandler(ledgerSvc *service.LedgerService, auditor LedgerAuditor) *LedgerHandler {
	return &LedgerHandler{ledgerSvc: ledgerSvc, auditor: auditor}
}

// GetLedger handles GET /v1/ledger.
func (h *LedgerHandler) GetLedger(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.ledgerSvc.Snapshot(r.Context())
	if err != nil {
		respondServiceError(w, r, err, "load ledger")
		return
	}
	RespondJSON(w, http.StatusOK, snapshot)
}

// UpdateGuardrails handles PUT /v1/ledger/guardrails. Omitted fields keep their value.
func (h *LedgerHandler) UpdateGuardrails(w http.ResponseWriter, r *http.Request) {
	var req service.UpdateGuardrailsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ledger, err := h.ledgerSvc.UpdateGuardrails(r.Context(), req, requestAdmin(r))
	if err != nil {
		respondServiceError(w, r, err, "update guardrails")
		return
	}
	RespondJSON(w, http.StatusOK, ledger)
}

type autoProcessingRequest struct {
	Enabled *bool `json:"enabled"`
}

// SetAutoProcessing handles POST /v1/ledger/auto-processing. An empty body or a
// null "enabled" flips the switch.
func (h *LedgerHandler) SetAutoProcessing(w http.ResponseWriter, r *http.Request) {
	var req autoProcessingRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	ledger, err := h.ledgerSvc.SetAutoProcessing(r.Context(), req.Enabled, requestAdmin(r))
	if err != nil {
		respondServiceError(w, r, err, "set auto-processing")
		return
	}
	RespondJSON(w, http.StatusOK, ledger)
}

// Deposit handles POST /v1/ledger/deposits.
func (h *LedgerHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req service.DepositRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ledger, err := h.ledgerSvc.Deposit(r.Context(), req, requestAdmin(r))
	if err != nil {
		respondServiceError(w, r, err, "record deposit")
		return
	}
	RespondJSON(w, http.StatusCreated, ledger)
}

// AuditLedger handles GET /v1/ledger/audit and runs the integrity checks on demand.
func (h *LedgerHandler) AuditLedger(w http.ResponseWriter, r *http.Request) {
	discrepancies, err := h.auditor.Run(r.Context())
	if err != nil {
		respondServiceError(w, r, err, "audit ledger")
		return
	}
	if discrepancies == nil {
		discrepancies = []service.Discrepancy{}
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"balanced":      len(discrepancies) == 0,
		"discrepancies": discrepancies,
	})
}
