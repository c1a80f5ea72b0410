package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/ayo6706/payout-reconciler/internal/domain"
	"github.com/ayo6706/payout-reconciler/internal/service"
	"go.uber.org/zap"
)

// SignatureHeader carries the hex HMAC-SHA512 of the raw webhook body.
const SignatureHeader = "X-Paystack-Signature"

// WebhookHandler receives transfer outcomes from the gateway.
type WebhookHandler struct {
	webhookSvc *service.WebhookService
}

func NewWebhookHandler(webhookSvc *service.WebhookService) *WebhookHandler {
	return &WebhookHandler{webhookSvc: webhookSvc}
}

// HandleTransferWebhook handles POST /v1/webhooks/transfer. The signature is
// checked against the raw body, so it is read in full before decoding.
func (h *WebhookHandler) HandleTransferWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Failed to read request body")
		return
	}

	resp, err := h.webhookSvc.HandleTransferWebhook(r.Context(), body, r.Header.Get(SignatureHeader))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidSignature):
			zap.L().Warn("webhook signature rejected", zap.String("remote_addr", r.RemoteAddr))
			RespondError(w, r, http.StatusUnauthorized, "webhook/invalid-signature", "Invalid signature")
		case errors.Is(err, service.ErrInvalidTransferEvent):
			RespondError(w, r, http.StatusBadRequest, "webhook/invalid-event", err.Error())
		case errors.Is(err, domain.ErrTransferNotFinalized):
			// The gateway retries non-2xx deliveries; the payout is recorded shortly.
			RespondError(w, r, http.StatusConflict, "webhook/transfer-not-recorded", err.Error())
		default:
			zap.L().Error("process transfer webhook failed", zap.Error(err))
			RespondError(w, r, http.StatusInternalServerError, "webhook/processing-failed", "Failed to process webhook")
		}
		return
	}
	RespondJSON(w, http.StatusOK, resp)
}
