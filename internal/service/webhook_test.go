package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/ayo6706/payout-reconciler/internal/domain"
	"github.com/ayo6706/payout-reconciler/internal/models"
	"github.com/ayo6706/payout-reconciler/internal/testutil/memstore"
	"github.com/stretchr/testify/require"
)

type stubReconciler struct {
	events []models.TransferEvent
	result *models.CallbackResult
	err    error
}

func (s *stubReconciler) ReconcileCallback(_ context.Context, evt models.TransferEvent) (*models.CallbackResult, error) {
	s.events = append(s.events, evt)
	if s.result == nil {
		return &models.CallbackResult{Applied: true}, s.err
	}
	return s.result, s.err
}

func webhookBody(t *testing.T, event, reference string, amount int64) []byte {
	t.Helper()
	body, err := json.Marshal(TransferWebhookPayload{
		Event: event,
		Data:  TransferWebhookData{Reference: reference, Amount: &amount, Reason: "Could not credit account"},
	})
	require.NoError(t, err)
	return body
}

func TestHandleTransferWebhookVerifiesSignature(t *testing.T) {
	rec := &stubReconciler{}
	svc := NewWebhookService(rec, "whsec", false)
	body := webhookBody(t, "transfer.failed", "TP-AUTO-1-a", 500)

	result, err := svc.HandleTransferWebhook(context.Background(), body, SignHex([]byte("whsec"), body))
	require.NoError(t, err)
	require.True(t, result.Applied)

	require.Len(t, rec.events, 1)
	evt := rec.events[0]
	require.Equal(t, domain.TransferFailed, evt.Kind)
	require.Equal(t, "TP-AUTO-1-a", evt.Reference)
	require.Equal(t, int64(500), *evt.Amount)
	require.Equal(t, "Could not credit account", evt.Reason)
	require.Equal(t, domain.SourceGatewayWebhook, evt.Source)
}

func TestHandleTransferWebhookRejectsBadSignature(t *testing.T) {
	rec := &stubReconciler{}
	svc := NewWebhookService(rec, "whsec", false)
	body := webhookBody(t, "transfer.success", "TP-AUTO-1-a", 500)

	cases := map[string]string{
		"missing":   "",
		"not_hex":   "zz-not-hex",
		"wrong_key": SignHex([]byte("other"), body),
	}
	for name, sig := range cases {
		sig := sig
		t.Run(name, func(t *testing.T) {
			_, err := svc.HandleTransferWebhook(context.Background(), body, sig)
			require.ErrorIs(t, err, ErrInvalidSignature)
		})
	}
	require.Empty(t, rec.events)
}

func TestHandleTransferWebhookSkipSignature(t *testing.T) {
	rec := &stubReconciler{}
	svc := NewWebhookService(rec, "", true)

	_, err := svc.HandleTransferWebhook(context.Background(), webhookBody(t, "transfer.success", "TP-1", 1), "")
	require.NoError(t, err)
	require.Len(t, rec.events, 1)
	require.Equal(t, domain.TransferSucceeded, rec.events[0].Kind)
}

func TestHandleTransferWebhookIgnoresOtherEvents(t *testing.T) {
	rec := &stubReconciler{}
	svc := NewWebhookService(rec, "whsec", false)
	body := webhookBody(t, "charge.success", "ref", 1)

	result, err := svc.HandleTransferWebhook(context.Background(), body, SignHex([]byte("whsec"), body))
	require.NoError(t, err)
	require.False(t, result.Applied)
	require.Equal(t, "event ignored", result.Message)
	require.Empty(t, rec.events)
}

func TestHandleTransferWebhookMalformedPayload(t *testing.T) {
	svc := NewWebhookService(&stubReconciler{}, "whsec", false)
	body := []byte(`{"event":`)

	_, err := svc.HandleTransferWebhook(context.Background(), body, SignHex([]byte("whsec"), body))
	require.ErrorIs(t, err, ErrInvalidTransferEvent)
}

func TestHandleTransferWebhookEndToEnd(t *testing.T) {
	clk := &clock{now: testNow}
	store := memstore.New(1_000, 0, 1_000_000)
	engine := newTestEngine(store, happyGateway(), nil, clk)
	id, ref := processedPayout(t, store, engine, 300)
	svc := NewWebhookService(engine, "whsec", false)

	body := webhookBody(t, "transfer.reversed", ref, 300)
	sig := SignHex([]byte("whsec"), body)
	result, err := svc.HandleTransferWebhook(context.Background(), body, sig)
	require.NoError(t, err)
	require.True(t, result.Applied)

	// The gateway retries deliveries; a replay must not refund twice.
	result, err = svc.HandleTransferWebhook(context.Background(), body, sig)
	require.NoError(t, err)
	require.False(t, result.Applied)

	require.Equal(t, domain.PayoutStatusFailed, store.Payout(id).Status)
	require.Equal(t, int64(1_000), store.Ledger().Available)
}
