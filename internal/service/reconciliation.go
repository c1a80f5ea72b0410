package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ayo6706/payout-reconciler/internal/domain"
	"github.com/ayo6706/payout-reconciler/internal/models"
	"github.com/ayo6706/payout-reconciler/internal/observability"
	"github.com/ayo6706/payout-reconciler/internal/repository"
	"go.uber.org/zap"
)

var ErrInvalidTransferEvent = errors.New("invalid transfer event")

const msgNotFoundOrProcessed = "payout not found or already processed"

// ReconcileCallback resolves the processing payout identified by evt.Reference.
// Replays and unknown references are acknowledged without effect. A failed or reversed
// transfer refunds the ledger by exactly the amount debited when it was initiated.
func (e *Engine) ReconcileCallback(ctx context.Context, evt models.TransferEvent) (*models.CallbackResult, error) {
	evt.Reference = strings.TrimSpace(evt.Reference)
	if evt.Reference == "" {
		return nil, fmt.Errorf("%w: reference is required", ErrInvalidTransferEvent)
	}
	switch evt.Kind {
	case domain.TransferSucceeded, domain.TransferFailed, domain.TransferReversed:
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidTransferEvent, evt.Kind)
	}
	if evt.Source == "" {
		evt.Source = domain.SourceGatewayWebhook
	}

	at := e.now()
	params := repository.SettleTransferParams{
		Reference: evt.Reference,
		Kind:      evt.Kind,
		Source:    evt.Source,
		At:        at,
	}
	if evt.Kind == domain.TransferSucceeded {
		params.Metadata = map[string]any{
			"confirmed_at":        at,
			"confirmation_source": evt.Source,
		}
	} else {
		params.Reason = evt.Reason
		if params.Reason == "" {
			params.Reason = "transfer " + string(evt.Kind)
		}
		params.Metadata = map[string]any{
			"failed_at":      at,
			"failure_reason": params.Reason,
			"failure_source": evt.Source,
			"gateway_event":  string(evt.Kind),
			"refunded":       true,
		}
	}

	logger := zap.L().With(zap.String("reference", evt.Reference), zap.String("kind", string(evt.Kind)))

	settled, err := e.store.SettleTransfer(ctx, params)
	if err != nil {
		if errors.Is(err, domain.ErrTransferNotFinalized) {
			logger.Warn("transfer event arrived before payout was recorded as processing")
			return nil, err
		}
		return nil, fmt.Errorf("settle transfer: %w", err)
	}

	if settled.Payout == nil {
		logger.Info("transfer event for unknown reference ignored")
		return &models.CallbackResult{Message: msgNotFoundOrProcessed}, nil
	}

	payoutID := settled.Payout.ID
	result := &models.CallbackResult{
		Applied:  settled.Applied,
		PayoutID: &payoutID,
		Status:   settled.Payout.Status,
	}
	if !settled.Applied {
		logger.Info("transfer event ignored", zap.String("payout_id", payoutID.String()), zap.String("status", string(settled.Payout.Status)))
		result.Message = msgNotFoundOrProcessed
		return result, nil
	}

	if evt.Amount != nil && *evt.Amount != settled.Payout.Amount {
		logger.Warn("transfer event amount differs from payout amount",
			zap.Int64("event_amount", *evt.Amount),
			zap.Int64("payout_amount", settled.Payout.Amount))
	}

	observability.IncrementTransition(string(settled.Previous), string(settled.Payout.Status))
	reason := ""
	if settled.Payout.Status == domain.PayoutStatusFailed {
		reason = params.Reason
		result.Message = "payout failed and ledger refunded"
		logger.Warn("payout transfer failed; ledger refunded",
			zap.String("payout_id", payoutID.String()),
			zap.Int64("amount", settled.Payout.Amount),
			zap.String("reason", reason))
	} else {
		result.Message = "payout completed"
		logger.Info("payout transfer confirmed", zap.String("payout_id", payoutID.String()))
	}
	if ledger, err := e.store.GetLedger(ctx); err == nil {
		observability.SetLedgerAvailable(ledger.Available)
	}
	e.publish(ctx, settled.Payout, reason)
	return result, nil
}
