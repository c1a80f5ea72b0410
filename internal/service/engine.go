package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ayo6706/payout-reconciler/internal/domain"
	"github.com/ayo6706/payout-reconciler/internal/events"
	"github.com/ayo6706/payout-reconciler/internal/gateway"
	"github.com/ayo6706/payout-reconciler/internal/models"
	"github.com/ayo6706/payout-reconciler/internal/observability"
	"github.com/ayo6706/payout-reconciler/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultBatchSize       = 10
	defaultGatewayTimeout  = 15 * time.Second
	defaultClaimTTL        = 2 * time.Minute
	defaultReferencePrefix = "TP"
	expiredClaimSweepLimit = 100
	transferReason         = "Crypto withdrawal payout"
)

// EngineConfig tunes the reconciliation engine.
type EngineConfig struct {
	BatchSize       int32
	GatewayTimeout  time.Duration
	ClaimTTL        time.Duration
	ReferencePrefix string
	// Location defines the calendar day used by the daily cap.
	Location *time.Location
}

func (c *EngineConfig) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.GatewayTimeout <= 0 {
		c.GatewayTimeout = defaultGatewayTimeout
	}
	if c.ClaimTTL <= 0 {
		c.ClaimTTL = defaultClaimTTL
	}
	if c.ReferencePrefix == "" {
		c.ReferencePrefix = defaultReferencePrefix
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
}

// Engine selects pending payouts, drives them through the transfer gateway and keeps
// the system ledger consistent with gateway outcomes.
type Engine struct {
	store   Store
	gateway gateway.Gateway
	events  events.Publisher
	cfg     EngineConfig
	now     func() time.Time
}

type EngineOption func(*Engine)

// WithClock overrides the engine's time source.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

func NewEngine(store Store, gw gateway.Gateway, publisher events.Publisher, cfg EngineConfig, opts ...EngineOption) *Engine {
	cfg.applyDefaults()
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	e := &Engine{
		store:   store,
		gateway: gw,
		events:  publisher,
		cfg:     cfg,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ProcessBatch runs one guarded batch of automatic payouts, oldest first.
// Only a failure to read the ledger (or the queue it guards) is returned as an error;
// per-record problems are counted in the result.
func (e *Engine) ProcessBatch(ctx context.Context) (*models.BatchResult, error) {
	result := &models.BatchResult{}
	e.expireStaleClaims(ctx)

	ledger, err := e.store.GetLedger(ctx)
	if err != nil {
		result.Error = err.Error()
		e.finishBatch(ctx, result, "error")
		return result, fmt.Errorf("load ledger: %w", err)
	}
	observability.SetLedgerAvailable(ledger.Available)

	if !ledger.AutoProcessingEnabled {
		result.Reason = domain.ReasonDisabled
		e.finishBatch(ctx, result, domain.ReasonDisabled)
		return result, nil
	}
	if ledger.Available < ledger.MinimumReserve {
		result.Reason = domain.ReasonInsufficientBalance
		zap.L().Warn("payout batch halted below minimum reserve",
			zap.Int64("available", ledger.Available),
			zap.Int64("minimum_reserve", ledger.MinimumReserve))
		e.finishBatch(ctx, result, domain.ReasonInsufficientBalance)
		return result, nil
	}

	pending, err := e.store.ListPendingPayouts(ctx, e.cfg.BatchSize)
	if err != nil {
		result.Error = err.Error()
		e.finishBatch(ctx, result, "error")
		return result, fmt.Errorf("load pending payouts: %w", err)
	}
	if len(pending) == 0 {
		result.Reason = domain.ReasonNoPending
		e.finishBatch(ctx, result, domain.ReasonNoPending)
		return result, nil
	}

	todayVolume, err := e.store.SumAutoVolumeSince(ctx, startOfDay(e.now(), e.cfg.Location))
	if err != nil {
		result.Error = err.Error()
		e.finishBatch(ctx, result, "error")
		return result, fmt.Errorf("load daily auto volume: %w", err)
	}

	var batchVolume int64
	for i := range pending {
		payout := &pending[i]
		if ctx.Err() != nil {
			result.Skipped += len(pending) - i
			result.Reason = domain.ReasonCanceled
			break
		}
		if todayVolume+batchVolume+payout.Amount > ledger.DailyCap {
			result.Skipped += len(pending) - i
			result.Reason = domain.ReasonDailyCapReached
			zap.L().Info("daily auto-processing cap reached",
				zap.Int64("daily_cap", ledger.DailyCap),
				zap.Int64("today_volume", todayVolume),
				zap.Int64("batch_volume", batchVolume),
				zap.String("payout_id", payout.ID.String()))
			break
		}

		current, err := e.store.GetLedger(ctx)
		if err != nil {
			zap.L().Error("reload ledger for payout", zap.Error(err), zap.String("payout_id", payout.ID.String()))
			result.Skipped++
			continue
		}
		if current.Available < payout.Amount {
			result.Skipped++
			continue
		}

		res := e.processOne(ctx, payout, domain.ModeAuto, nil)
		switch {
		case res.Success:
			result.Processed++
			result.ProcessedAmount += payout.Amount
			batchVolume += payout.Amount
		case res.Skipped:
			result.Skipped++
		default:
			result.Failed++
		}
	}

	e.finishBatch(ctx, result, "ok")
	return result, nil
}

// ProcessSingle sends one pending payout to the gateway on an administrator's behalf.
// It bypasses the daily cap and the auto-processing switch but not the balance check.
func (e *Engine) ProcessSingle(ctx context.Context, id uuid.UUID, adminID *uuid.UUID) (*models.ProcessResult, error) {
	payout, err := e.store.GetPayout(ctx, id)
	if err != nil {
		return nil, err
	}
	if payout.Status != domain.PayoutStatusPending {
		return &models.ProcessResult{
			PayoutID:      id,
			FailureReason: fmt.Sprintf("%s: status is %s", domain.ErrPayoutNotPending, payout.Status),
		}, nil
	}

	ledger, err := e.store.GetLedger(ctx)
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	if ledger.Available < payout.Amount {
		return &models.ProcessResult{PayoutID: id, FailureReason: domain.ErrInsufficientFunds.Error()}, nil
	}

	res := e.processOne(ctx, payout, domain.ModeManual, adminID)
	return &res, nil
}

// processOne claims payout, runs the gateway sequence and records the outcome.
// It never returns an error: every problem becomes a failed or skipped result.
func (e *Engine) processOne(ctx context.Context, payout *models.Payout, mode domain.ProcessingMode, actorID *uuid.UUID) models.ProcessResult {
	res := models.ProcessResult{PayoutID: payout.ID}
	logger := zap.L().With(
		zap.String("payout_id", payout.ID.String()),
		zap.String("mode", string(mode)),
		zap.Int64("amount", payout.Amount))

	token := uuid.New()
	now := e.now()
	claimed, err := e.store.ClaimPayout(ctx, repository.ClaimPayoutParams{
		ID:        payout.ID,
		Token:     token,
		Mode:      mode,
		ActorID:   actorID,
		At:        now,
		ExpiresAt: now.Add(e.cfg.ClaimTTL),
	})
	if err != nil {
		res.Skipped = true
		res.FailureReason = err.Error()
		if !errors.Is(err, domain.ErrPayoutNotClaimable) && !errors.Is(err, domain.ErrInsufficientFunds) {
			logger.Error("claim payout", zap.Error(err))
		}
		return res
	}

	c := claim{payout: claimed, token: token, mode: mode, actorID: actorID, logger: logger}

	resolved, err := e.verifyAccount(ctx, claimed.Bank)
	if err != nil {
		if e.released(ctx, &c, err) {
			res.Skipped = true
			res.FailureReason = err.Error()
			return res
		}
		return e.fail(ctx, &c, domain.FailureAccountVerification, map[string]any{"gateway_error": err.Error()})
	}

	recipientCode := ""
	if claimed.RecipientCode != nil {
		recipientCode = *claimed.RecipientCode
	}
	if recipientCode == "" {
		recipientCode, err = e.createRecipient(ctx, claimed.Bank, resolved.AccountName)
		if err != nil {
			if e.released(ctx, &c, err) {
				res.Skipped = true
				res.FailureReason = err.Error()
				return res
			}
			return e.fail(ctx, &c, domain.FailureRecipientCreation, map[string]any{"gateway_error": err.Error()})
		}
	}

	reference := e.reference(mode, claimed.ID)
	if err := e.store.SaveClaimProgress(context.WithoutCancel(ctx), repository.ClaimProgressParams{
		ID:            claimed.ID,
		Token:         token,
		RecipientCode: recipientCode,
		Reference:     reference,
		At:            e.now(),
	}); err != nil {
		logger.Error("save claim progress", zap.Error(err))
		if !errors.Is(err, domain.ErrClaimLost) {
			e.release(ctx, &c)
		}
		res.Skipped = true
		res.FailureReason = err.Error()
		return res
	}

	receipt, err := e.initiateTransfer(ctx, gateway.TransferRequest{
		Amount:        claimed.Amount,
		RecipientCode: recipientCode,
		Reference:     reference,
		Reason:        transferReason,
	})
	if err != nil {
		return e.fail(ctx, &c, err.Error(), map[string]any{
			"gateway_error":     err.Error(),
			"gateway_reference": reference,
			"recipient_code":    recipientCode,
		})
	}

	processedAt := e.now()
	finalized, err := e.store.FinalizeClaim(context.WithoutCancel(ctx), repository.FinalizeClaimParams{
		ID:            claimed.ID,
		Token:         token,
		Reference:     reference,
		TransferCode:  receipt.TransferCode,
		RecipientCode: recipientCode,
		Mode:          mode,
		ActorID:       actorID,
		At:            processedAt,
		Metadata: map[string]any{
			"gateway_reference":     reference,
			"transfer_code":         receipt.TransferCode,
			"recipient_code":        recipientCode,
			"processing_mode":       string(mode),
			"processed_at":          processedAt,
			"processed_by":          actorString(actorID),
			"resolved_account_name": resolved.AccountName,
			"attempt":               claimed.Attempts,
		},
	})
	if err != nil {
		logger.Error("transfer accepted by gateway but payout not recorded as processing; manual reconciliation required",
			zap.Error(err),
			zap.String("reference", reference),
			zap.String("transfer_code", receipt.TransferCode))
		res.Reference = reference
		res.FailureReason = fmt.Sprintf("record processing: %v", err)
		return res
	}

	observability.IncrementTransition(string(domain.PayoutStatusPending), string(domain.PayoutStatusProcessing))
	e.publish(ctx, finalized, "")
	logger.Info("payout transfer initiated", zap.String("reference", reference))

	res.Success = true
	res.Reference = reference
	return res
}

type claim struct {
	payout  *models.Payout
	token   uuid.UUID
	mode    domain.ProcessingMode
	actorID *uuid.UUID
	logger  *zap.Logger
}

// released returns the claim to the queue when the caller's context ended before any
// transfer was initiated, and reports whether it did.
func (e *Engine) released(ctx context.Context, c *claim, err error) bool {
	if ctx.Err() == nil || !errors.Is(err, ctx.Err()) {
		return false
	}
	e.release(ctx, c)
	return true
}

func (e *Engine) release(ctx context.Context, c *claim) {
	if err := e.store.ReleaseClaim(context.WithoutCancel(ctx), repository.ReleaseClaimParams{
		ID:    c.payout.ID,
		Token: c.token,
		At:    e.now(),
	}); err != nil {
		c.logger.Error("release payout claim", zap.Error(err))
	}
}

func (e *Engine) fail(ctx context.Context, c *claim, reason string, metadata map[string]any) models.ProcessResult {
	res := models.ProcessResult{PayoutID: c.payout.ID, FailureReason: reason}
	failedAt := e.now()
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["failed_at"] = failedAt
	metadata["failure_reason"] = reason
	metadata["processing_mode"] = string(c.mode)

	failed, err := e.store.AbandonClaim(context.WithoutCancel(ctx), repository.AbandonClaimParams{
		ID:       c.payout.ID,
		Token:    c.token,
		Reason:   reason,
		ActorID:  c.actorID,
		Metadata: metadata,
		At:       failedAt,
	})
	if err != nil {
		c.logger.Error("mark payout failed", zap.Error(err), zap.String("reason", reason))
		return res
	}

	observability.IncrementTransition(string(domain.PayoutStatusPending), string(domain.PayoutStatusFailed))
	e.publish(ctx, failed, reason)
	c.logger.Warn("payout marked failed", zap.String("reason", reason))
	return res
}

func (e *Engine) verifyAccount(ctx context.Context, bank models.BankDetails) (*gateway.AccountResolution, error) {
	var out *gateway.AccountResolution
	err := e.callGateway(ctx, "verify_account", func(ctx context.Context) error {
		var err error
		out, err = e.gateway.VerifyAccount(ctx, bank.AccountNumber, bank.BankCode)
		return err
	})
	if err == nil && out == nil {
		err = errors.New("gateway returned no account resolution")
	}
	return out, err
}

func (e *Engine) createRecipient(ctx context.Context, bank models.BankDetails, resolvedName string) (string, error) {
	name := resolvedName
	if name == "" {
		name = bank.AccountName
	}
	var code string
	err := e.callGateway(ctx, "create_recipient", func(ctx context.Context) error {
		var err error
		code, err = e.gateway.CreateRecipient(ctx, gateway.RecipientRequest{
			AccountNumber: bank.AccountNumber,
			BankCode:      bank.BankCode,
			AccountName:   name,
		})
		return err
	})
	if err == nil && code == "" {
		err = errors.New("gateway returned empty recipient code")
	}
	return code, err
}

func (e *Engine) initiateTransfer(ctx context.Context, req gateway.TransferRequest) (*gateway.TransferReceipt, error) {
	var receipt *gateway.TransferReceipt
	err := e.callGateway(ctx, "initiate_transfer", func(ctx context.Context) error {
		var err error
		receipt, err = e.gateway.InitiateTransfer(ctx, req)
		return err
	})
	if err == nil && receipt == nil {
		err = errors.New("gateway returned no transfer receipt")
	}
	return receipt, err
}

// callGateway bounds fn by the gateway timeout and records its latency. Only an error
// returned by fn fails the call.
func (e *Engine) callGateway(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.GatewayTimeout)
	defer cancel()

	start := time.Now()
	err := fn(callCtx)
	elapsed := time.Since(start)
	observability.ObserveGatewayCall(operation, err, elapsed)
	if err == nil && callCtx.Err() != nil {
		// The gateway answered after the deadline; its answer is still the outcome.
		zap.L().Warn("gateway call completed after its deadline",
			zap.String("operation", operation),
			zap.Duration("elapsed", elapsed),
			zap.Duration("timeout", e.cfg.GatewayTimeout))
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%s timed out after %s: %w", operation, e.cfg.GatewayTimeout, err)
		}
		return err
	}
	return nil
}

// reference builds the unique transfer reference <prefix>-<MODE>-<unix millis>-<id>.
func (e *Engine) reference(mode domain.ProcessingMode, id uuid.UUID) string {
	return fmt.Sprintf("%s-%s-%d-%s", e.cfg.ReferencePrefix, strings.ToUpper(string(mode)), e.now().UnixMilli(), id)
}

func (e *Engine) expireStaleClaims(ctx context.Context) {
	expired, err := e.store.ExpireStaleClaims(ctx, repository.ExpireClaimsParams{
		Now:   e.now(),
		Limit: expiredClaimSweepLimit,
	})
	if err != nil {
		zap.L().Error("expire stale payout claims", zap.Error(err))
		return
	}
	for i := range expired {
		p := &expired[i]
		reason := ""
		if p.FailureReason != nil {
			reason = *p.FailureReason
		}
		zap.L().Warn("payout claim expired",
			zap.String("payout_id", p.ID.String()),
			zap.String("reason", reason))
		observability.IncrementTransition(string(domain.PayoutStatusPending), string(domain.PayoutStatusFailed))
		e.publish(ctx, p, reason)
	}
}

func (e *Engine) finishBatch(ctx context.Context, result *models.BatchResult, outcome string) {
	observability.ObserveBatch(outcome, result.Processed, result.Skipped, result.Failed)
	zap.L().Info("payout batch finished",
		zap.Int("processed", result.Processed),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
		zap.Int64("processed_amount", result.ProcessedAmount),
		zap.String("reason", result.Reason))
	if err := e.events.PublishBatch(context.WithoutCancel(ctx), events.BatchEvent{
		Processed:       result.Processed,
		Skipped:         result.Skipped,
		Failed:          result.Failed,
		ProcessedAmount: result.ProcessedAmount,
		Reason:          result.Reason,
		At:              e.now(),
	}); err != nil {
		zap.L().Warn("publish batch event", zap.Error(err))
	}
}

func (e *Engine) publish(ctx context.Context, p *models.Payout, reason string) {
	evt := events.PayoutEvent{
		PayoutID: p.ID,
		Status:   p.Status,
		Amount:   p.Amount,
		Reason:   reason,
		At:       e.now(),
	}
	if p.Reference != nil {
		evt.Reference = *p.Reference
	}
	if p.ProcessingMode != nil {
		evt.Mode = *p.ProcessingMode
	}
	if err := e.events.PublishPayout(context.WithoutCancel(ctx), evt); err != nil {
		zap.L().Warn("publish payout event", zap.Error(err), zap.String("payout_id", p.ID.String()))
	}
}
