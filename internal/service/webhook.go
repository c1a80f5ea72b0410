package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ayo6706/payout-reconciler/internal/domain"
	"github.com/ayo6706/payout-reconciler/internal/models"
	"github.com/ayo6706/payout-reconciler/internal/observability"
	"go.uber.org/zap"
)

var ErrInvalidSignature = errors.New("invalid signature")

// CallbackReconciler applies transfer events to payouts.
type CallbackReconciler interface {
	ReconcileCallback(ctx context.Context, evt models.TransferEvent) (*models.CallbackResult, error)
}

// WebhookService verifies and decodes transfer webhooks from the gateway.
type WebhookService struct {
	reconciler CallbackReconciler
	hmacKey    []byte
	skipSig    bool
}

// NewWebhookService creates a new WebhookService instance.
func NewWebhookService(reconciler CallbackReconciler, hmacKey string, skipSignature bool) *WebhookService {
	return &WebhookService{
		reconciler: reconciler,
		hmacKey:    []byte(hmacKey),
		skipSig:    skipSignature,
	}
}

// TransferWebhookPayload is the gateway's webhook envelope.
type TransferWebhookPayload struct {
	Event string              `json:"event"`
	Data  TransferWebhookData `json:"data"`
}

type TransferWebhookData struct {
	Reference    string `json:"reference"`
	Amount       *int64 `json:"amount,omitempty"`
	Reason       string `json:"reason,omitempty"`
	TransferCode string `json:"transfer_code,omitempty"`
	Status       string `json:"status,omitempty"`
}

// HandleTransferWebhook verifies the signature over the raw payload and reconciles
// transfer events. Events of other kinds are acknowledged and ignored.
func (s *WebhookService) HandleTransferWebhook(ctx context.Context, payload []byte, signature string) (*models.CallbackResult, error) {
	if !s.verifyHMAC(payload, signature) {
		observability.IncrementWebhookEvent("unknown", "invalid_signature")
		return nil, ErrInvalidSignature
	}

	var envelope TransferWebhookPayload
	if err := json.Unmarshal(payload, &envelope); err != nil {
		observability.IncrementWebhookEvent("unknown", "invalid_payload")
		return nil, fmt.Errorf("%w: %v", ErrInvalidTransferEvent, err)
	}

	kind, ok := domain.ParseTransferEvent(envelope.Event)
	if !ok {
		observability.IncrementWebhookEvent(envelope.Event, "ignored")
		zap.L().Info("ignoring webhook event", zap.String("event", envelope.Event))
		return &models.CallbackResult{Message: "event ignored"}, nil
	}

	result, err := s.reconciler.ReconcileCallback(ctx, models.TransferEvent{
		Kind:      kind,
		Reference: envelope.Data.Reference,
		Amount:    envelope.Data.Amount,
		Reason:    envelope.Data.Reason,
		Source:    domain.SourceGatewayWebhook,
	})
	if err != nil {
		observability.IncrementWebhookEvent(string(kind), "error")
		return nil, err
	}
	outcome := "ignored"
	if result.Applied {
		outcome = "applied"
	}
	observability.IncrementWebhookEvent(string(kind), outcome)
	return result, nil
}

func (s *WebhookService) verifyHMAC(payload []byte, signature string) bool {
	if s.skipSig {
		return true
	}
	signature = strings.TrimSpace(signature)
	if signature == "" || len(s.hmacKey) == 0 {
		return false
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(got, Sign(s.hmacKey, payload))
}

// Sign returns the HMAC-SHA512 of payload under key.
func Sign(key, payload []byte) []byte {
	mac := hmac.New(sha512.New, key)
	mac.Write(payload)
	return mac.Sum(nil)
}

// SignHex returns the hex-encoded signature expected in the webhook signature header.
func SignHex(key, payload []byte) string {
	return hex.EncodeToString(Sign(key, payload))
}
