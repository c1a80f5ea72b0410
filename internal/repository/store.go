package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/payout-reconciler/internal/domain"
	"github.com/ayo6706/payout-reconciler/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the Postgres-backed ledger and payout store.
type Store struct {
	db      *pgxpool.Pool
	queries *Queries
}

// NewStore creates a store wrapper around a pgx connection pool.
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{
		db:      db,
		queries: New(db),
	}
}

// Queries returns the non-transactional query set.
func (s *Store) Queries() *Queries {
	return s.queries
}

// RunInTx executes fn within a database transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(s.queries.WithTx(tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) GetLedger(ctx context.Context) (*models.Ledger, error) {
	l, err := s.queries.GetLedger(ctx)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrLedgerNotFound
		}
		return nil, fmt.Errorf("get ledger: %w", err)
	}
	return l, nil
}

func (s *Store) ListPendingPayouts(ctx context.Context, limit int32) ([]models.Payout, error) {
	payouts, err := s.queries.ListClaimablePayouts(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending payouts: %w", err)
	}
	return payouts, nil
}

func (s *Store) SumAutoVolumeSince(ctx context.Context, since time.Time) (int64, error) {
	total, err := s.queries.SumAutoVolumeSince(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("sum auto volume: %w", err)
	}
	return total, nil
}

func (s *Store) GetPayout(ctx context.Context, id uuid.UUID) (*models.Payout, error) {
	p, err := s.queries.GetPayout(ctx, ToPgUUID(id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPayoutNotFound
		}
		return nil, fmt.Errorf("get payout: %w", err)
	}
	return p, nil
}

func (s *Store) ListPayouts(ctx context.Context, arg ListPayoutsParams) ([]models.Payout, error) {
	var status pgtype.Text
	if arg.Status != nil {
		status = pgtype.Text{String: string(*arg.Status), Valid: true}
	}
	payouts, err := s.queries.ListPayouts(ctx, status, arg.Limit, arg.Offset)
	if err != nil {
		return nil, fmt.Errorf("list payouts: %w", err)
	}
	return payouts, nil
}

func (s *Store) PendingSummary(ctx context.Context) (models.PendingSummary, error) {
	summary, err := s.queries.GetPendingSummary(ctx)
	if err != nil {
		return models.PendingSummary{}, fmt.Errorf("pending summary: %w", err)
	}
	return summary, nil
}

// LedgerExposure reads the ledger together with the payout totals it must agree with,
// from a single snapshot.
func (s *Store) LedgerExposure(ctx context.Context) (*models.LedgerExposure, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("begin snapshot: %w", err)
	}
	defer tx.Rollback(ctx)

	qtx := s.queries.WithTx(tx)
	ledger, err := qtx.GetLedger(ctx)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrLedgerNotFound
		}
		return nil, fmt.Errorf("get ledger: %w", err)
	}
	reserved, withdrawn, err := qtx.GetPayoutExposure(ctx)
	if err != nil {
		return nil, fmt.Errorf("payout exposure: %w", err)
	}
	return &models.LedgerExposure{
		Ledger:         *ledger,
		ClaimedPending: reserved,
		DebitedPayouts: withdrawn,
	}, nil
}

func (s *Store) ListAuditLog(ctx context.Context, entityType string, entityID uuid.UUID) ([]models.AuditLog, error) {
	logs, err := s.queries.ListAuditLogs(ctx, entityType, ToPgUUID(entityID))
	if err != nil {
		return nil, fmt.Errorf("list audit log: %w", err)
	}
	return logs, nil
}

func (s *Store) CreatePayout(ctx context.Context, arg CreatePayoutParams) (*models.Payout, error) {
	metadata, err := encodeMetadata(arg.Metadata)
	if err != nil {
		return nil, err
	}
	var created *models.Payout
	err = s.RunInTx(ctx, func(qtx *Queries) error {
		created, err = qtx.InsertPayout(ctx, InsertPayoutParams{
			ID:           ToPgUUID(arg.ID),
			UserID:       optionalPgUUID(arg.UserID),
			Amount:       arg.Amount,
			CryptoAmount: arg.CryptoAmount.String(),
			CryptoAsset:  arg.CryptoAsset,
			Bank:         arg.Bank,
			Metadata:     metadata,
			CreatedAt:    arg.At,
		})
		if err != nil {
			return fmt.Errorf("insert payout: %w", err)
		}
		return writeAudit(ctx, qtx, EntityPayout, arg.ID, arg.ActorID, "created", "", domain.PayoutStatusPending.String(), arg.At, arg.Metadata)
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// ClaimPayout leases a pending, unclaimed payout and reserves its amount on the ledger.
func (s *Store) ClaimPayout(ctx context.Context, arg ClaimPayoutParams) (*models.Payout, error) {
	var claimed *models.Payout
	err := s.RunInTx(ctx, func(qtx *Queries) error {
		var err error
		claimed, err = qtx.ClaimPayout(ctx, ClaimPayoutRowParams{
			ID:        ToPgUUID(arg.ID),
			Token:     ToPgUUID(arg.Token),
			ExpiresAt: arg.ExpiresAt,
			Mode:      string(arg.Mode),
			At:        arg.At,
		})
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrPayoutNotClaimable
			}
			return fmt.Errorf("claim payout: %w", err)
		}

		rows, err := qtx.ReserveLedgerFunds(ctx, claimed.Amount, arg.At)
		if err != nil {
			return fmt.Errorf("reserve ledger funds: %w", err)
		}
		if rows == 0 {
			return domain.ErrInsufficientFunds
		}

		return writeAudit(ctx, qtx, EntityPayout, arg.ID, arg.ActorID, "claimed", "", "", arg.At, map[string]any{
			"mode":       string(arg.Mode),
			"attempt":    claimed.Attempts,
			"expires_at": arg.ExpiresAt,
		})
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (s *Store) SaveClaimProgress(ctx context.Context, arg ClaimProgressParams) error {
	rows, err := s.queries.UpdateClaimProgress(ctx, ToPgUUID(arg.ID), ToPgUUID(arg.Token),
		textParam(arg.RecipientCode), textParam(arg.Reference), arg.At)
	if err != nil {
		return fmt.Errorf("save claim progress: %w", err)
	}
	if rows == 0 {
		return domain.ErrClaimLost
	}
	return nil
}

// FinalizeClaim moves a claimed payout to processing and applies the speculative debit.
func (s *Store) FinalizeClaim(ctx context.Context, arg FinalizeClaimParams) (*models.Payout, error) {
	metadata, err := encodeMetadata(arg.Metadata)
	if err != nil {
		return nil, err
	}
	var finalized *models.Payout
	err = s.RunInTx(ctx, func(qtx *Queries) error {
		current, err := lockClaim(ctx, qtx, arg.ID, arg.Token)
		if err != nil {
			return err
		}
		if err := domain.ValidateTransition(current.Status, domain.PayoutStatusProcessing); err != nil {
			return err
		}

		rows, err := qtx.MarkPayoutProcessing(ctx, MarkPayoutProcessingParams{
			ID:            ToPgUUID(arg.ID),
			Token:         ToPgUUID(arg.Token),
			Reference:     arg.Reference,
			TransferCode:  textParam(arg.TransferCode),
			RecipientCode: textParam(arg.RecipientCode),
			Mode:          string(arg.Mode),
			At:            arg.At,
			Metadata:      metadata,
		})
		if err != nil {
			return fmt.Errorf("mark payout processing: %w", err)
		}
		if err := requireExactlyOne(rows, "mark payout processing"); err != nil {
			return err
		}

		rows, err = qtx.DebitReservedFunds(ctx, current.Amount, arg.At)
		if err != nil {
			return fmt.Errorf("debit ledger: %w", err)
		}
		if err := requireExactlyOne(rows, "debit reserved funds"); err != nil {
			return err
		}

		if err := writeAudit(ctx, qtx, EntityPayout, arg.ID, arg.ActorID, "transfer_initiated",
			current.Status.String(), domain.PayoutStatusProcessing.String(), arg.At, arg.Metadata); err != nil {
			return err
		}

		finalized, err = qtx.GetPayout(ctx, ToPgUUID(arg.ID))
		return err
	})
	if err != nil {
		return nil, err
	}
	return finalized, nil
}

// AbandonClaim fails a claimed payout before any debit and releases its reservation.
func (s *Store) AbandonClaim(ctx context.Context, arg AbandonClaimParams) (*models.Payout, error) {
	metadata, err := encodeMetadata(arg.Metadata)
	if err != nil {
		return nil, err
	}
	var failed *models.Payout
	err = s.RunInTx(ctx, func(qtx *Queries) error {
		current, err := lockClaim(ctx, qtx, arg.ID, arg.Token)
		if err != nil {
			return err
		}
		if err := failPending(ctx, qtx, current, arg.Reason, arg.At, metadata); err != nil {
			return err
		}
		if err := writeAudit(ctx, qtx, EntityPayout, arg.ID, arg.ActorID, "processing_failed",
			current.Status.String(), domain.PayoutStatusFailed.String(), arg.At, withReason(arg.Metadata, arg.Reason)); err != nil {
			return err
		}
		failed, err = qtx.GetPayout(ctx, ToPgUUID(arg.ID))
		return err
	})
	if err != nil {
		return nil, err
	}
	return failed, nil
}

// ReleaseClaim returns a claimed payout to the queue untouched.
func (s *Store) ReleaseClaim(ctx context.Context, arg ReleaseClaimParams) error {
	return s.RunInTx(ctx, func(qtx *Queries) error {
		current, err := lockClaim(ctx, qtx, arg.ID, arg.Token)
		if err != nil {
			return err
		}
		rows, err := qtx.ReleasePayoutClaim(ctx, ToPgUUID(arg.ID), ToPgUUID(arg.Token), arg.At)
		if err != nil {
			return fmt.Errorf("release payout claim: %w", err)
		}
		if err := requireExactlyOne(rows, "release payout claim"); err != nil {
			return err
		}
		rows, err = qtx.ReleaseLedgerReservation(ctx, current.Amount, arg.At)
		if err != nil {
			return fmt.Errorf("release ledger reservation: %w", err)
		}
		if err := requireExactlyOne(rows, "release ledger reservation"); err != nil {
			return err
		}
		return writeAudit(ctx, qtx, EntityPayout, arg.ID, nil, "claim_released", "", "", arg.At, nil)
	})
}

// ExpireStaleClaims fails pending payouts whose claim lease ran out.
func (s *Store) ExpireStaleClaims(ctx context.Context, arg ExpireClaimsParams) ([]models.Payout, error) {
	var expired []models.Payout
	err := s.RunInTx(ctx, func(qtx *Queries) error {
		stale, err := qtx.ListExpiredClaimsForUpdate(ctx, arg.Now, arg.Limit)
		if err != nil {
			return fmt.Errorf("list expired claims: %w", err)
		}
		for i := range stale {
			p := &stale[i]
			reason := ClaimExpiredReason(p.Reference)
			meta := map[string]any{"claim_expired_at": p.ClaimExpiresAt}
			encoded, err := encodeMetadata(meta)
			if err != nil {
				return err
			}
			if err := failPending(ctx, qtx, p, reason, arg.Now, encoded); err != nil {
				return fmt.Errorf("expire claim %s: %w", p.ID, err)
			}
			if err := writeAudit(ctx, qtx, EntityPayout, p.ID, nil, "claim_expired",
				p.Status.String(), domain.PayoutStatusFailed.String(), arg.Now, withReason(meta, reason)); err != nil {
				return err
			}
			p.Status = domain.PayoutStatusFailed
			p.FailureReason = &reason
			expired = append(expired, *p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return expired, nil
}

// SettleTransfer applies a gateway outcome to the processing payout holding reference.
func (s *Store) SettleTransfer(ctx context.Context, arg SettleTransferParams) (*SettleResult, error) {
	metadata, err := encodeMetadata(arg.Metadata)
	if err != nil {
		return nil, err
	}
	result := &SettleResult{}
	err = s.RunInTx(ctx, func(qtx *Queries) error {
		current, err := qtx.GetPayoutByReferenceForUpdate(ctx, arg.Reference)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("load payout by reference: %w", err)
		}
		result.Payout = current
		result.Previous = current.Status

		if current.Status == domain.PayoutStatusPending && current.ClaimToken != nil {
			return domain.ErrTransferNotFinalized
		}
		if current.Status != domain.PayoutStatusProcessing {
			return nil
		}

		next := domain.PayoutStatusCompleted
		if arg.Kind != domain.TransferSucceeded {
			next = domain.PayoutStatusFailed
		}
		if err := domain.ValidateTransition(current.Status, next); err != nil {
			return err
		}

		action := "transfer_" + string(arg.Kind)
		if next == domain.PayoutStatusCompleted {
			rows, err := qtx.MarkPayoutCompleted(ctx, ToPgUUID(current.ID), arg.At, metadata)
			if err != nil {
				return fmt.Errorf("mark payout completed: %w", err)
			}
			if err := requireExactlyOne(rows, "mark payout completed"); err != nil {
				return err
			}
		} else {
			rows, err := qtx.MarkPayoutFailed(ctx, MarkPayoutFailedParams{
				ID:             ToPgUUID(current.ID),
				ExpectedStatus: domain.PayoutStatusProcessing.String(),
				Reason:         arg.Reason,
				At:             arg.At,
				Metadata:       metadata,
			})
			if err != nil {
				return fmt.Errorf("mark payout failed: %w", err)
			}
			if err := requireExactlyOne(rows, "mark payout failed"); err != nil {
				return err
			}
			rows, err = qtx.RefundLedgerFunds(ctx, current.Amount, arg.At)
			if err != nil {
				return fmt.Errorf("refund ledger: %w", err)
			}
			if err := requireExactlyOne(rows, "refund ledger"); err != nil {
				return err
			}
		}

		if err := writeAudit(ctx, qtx, EntityPayout, current.ID, nil, action,
			current.Status.String(), next.String(), arg.At, withReason(arg.Metadata, arg.Reason)); err != nil {
			return err
		}
		result.Payout, err = qtx.GetPayout(ctx, ToPgUUID(current.ID))
		if err != nil {
			return fmt.Errorf("reload payout: %w", err)
		}
		result.Applied = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RejectPayout fails a pending payout that no worker has claimed.
func (s *Store) RejectPayout(ctx context.Context, arg RejectPayoutParams) (*models.Payout, error) {
	var rejected *models.Payout
	err := s.RunInTx(ctx, func(qtx *Queries) error {
		current, err := qtx.GetPayoutForUpdate(ctx, ToPgUUID(arg.ID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrPayoutNotFound
			}
			return fmt.Errorf("load payout: %w", err)
		}
		if current.Status != domain.PayoutStatusPending {
			return domain.ErrPayoutNotPending
		}
		if current.ClaimToken != nil {
			return domain.ErrPayoutNotClaimable
		}
		meta := map[string]any{"rejected_at": arg.At}
		if arg.ActorID != nil {
			meta["rejected_by"] = arg.ActorID.String()
		}
		encoded, err := encodeMetadata(meta)
		if err != nil {
			return err
		}
		if err := domain.ValidateTransition(current.Status, domain.PayoutStatusFailed); err != nil {
			return err
		}
		rows, err := qtx.MarkPayoutFailed(ctx, MarkPayoutFailedParams{
			ID:             ToPgUUID(arg.ID),
			ExpectedStatus: domain.PayoutStatusPending.String(),
			Reason:         arg.Reason,
			At:             arg.At,
			Metadata:       encoded,
		})
		if err != nil {
			return fmt.Errorf("mark payout rejected: %w", err)
		}
		if err := requireExactlyOne(rows, "mark payout rejected"); err != nil {
			return err
		}
		if err := writeAudit(ctx, qtx, EntityPayout, arg.ID, arg.ActorID, "rejected",
			current.Status.String(), domain.PayoutStatusFailed.String(), arg.At, withReason(meta, arg.Reason)); err != nil {
			return err
		}
		rejected, err = qtx.GetPayout(ctx, ToPgUUID(arg.ID))
		return err
	})
	if err != nil {
		return nil, err
	}
	return rejected, nil
}

func (s *Store) Deposit(ctx context.Context, arg DepositParams) (*models.Ledger, error) {
	var ledger *models.Ledger
	err := s.RunInTx(ctx, func(qtx *Queries) error {
		var err error
		ledger, err = qtx.CreditLedgerDeposit(ctx, arg.Amount, arg.At)
		if err != nil {
			return fmt.Errorf("credit ledger deposit: %w", err)
		}
		return writeAudit(ctx, qtx, EntityLedger, uuid.Nil, arg.ActorID, "deposit", "", "", arg.At, map[string]any{
			"amount": arg.Amount,
			"note":   arg.Note,
		})
	})
	if err != nil {
		return nil, err
	}
	return ledger, nil
}

func (s *Store) UpdateGuardrails(ctx context.Context, arg UpdateGuardrailsParams) (*models.Ledger, error) {
	var ledger *models.Ledger
	err := s.RunInTx(ctx, func(qtx *Queries) error {
		var err error
		ledger, err = qtx.UpdateLedgerGuardrails(ctx, arg.MinimumReserve, arg.DailyCap, arg.At)
		if err != nil {
			return fmt.Errorf("update guardrails: %w", err)
		}
		return writeAudit(ctx, qtx, EntityLedger, uuid.Nil, arg.ActorID, "guardrails_updated", "", "", arg.At, map[string]any{
			"minimum_reserve": ledger.MinimumReserve,
			"daily_cap":       ledger.DailyCap,
		})
	})
	if err != nil {
		return nil, err
	}
	return ledger, nil
}

func (s *Store) SetAutoProcessing(ctx context.Context, arg SetAutoProcessingParams) (*models.Ledger, error) {
	var ledger *models.Ledger
	err := s.RunInTx(ctx, func(qtx *Queries) error {
		var err error
		ledger, err = qtx.SetAutoProcessing(ctx, arg.Enabled, arg.At)
		if err != nil {
			return fmt.Errorf("set auto processing: %w", err)
		}
		return writeAudit(ctx, qtx, EntityLedger, uuid.Nil, arg.ActorID, "auto_processing_set", "", "", arg.At, map[string]any{
			"enabled": ledger.AutoProcessingEnabled,
		})
	})
	if err != nil {
		return nil, err
	}
	return ledger, nil
}

func lockClaim(ctx context.Context, qtx *Queries, id, token uuid.UUID) (*models.Payout, error) {
	current, err := qtx.GetPayoutForUpdate(ctx, ToPgUUID(id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPayoutNotFound
		}
		return nil, fmt.Errorf("load claimed payout: %w", err)
	}
	if current.Status != domain.PayoutStatusPending || current.ClaimToken == nil || *current.ClaimToken != token {
		return nil, domain.ErrClaimLost
	}
	return current, nil
}

func failPending(ctx context.Context, qtx *Queries, current *models.Payout, reason string, at time.Time, metadata []byte) error {
	if err := domain.ValidateTransition(current.Status, domain.PayoutStatusFailed); err != nil {
		return err
	}
	rows, err := qtx.MarkPayoutFailed(ctx, MarkPayoutFailedParams{
		ID:             ToPgUUID(current.ID),
		ExpectedStatus: domain.PayoutStatusPending.String(),
		Reason:         reason,
		At:             at,
		Metadata:       metadata,
	})
	if err != nil {
		return fmt.Errorf("mark payout failed: %w", err)
	}
	if err := requireExactlyOne(rows, "mark payout failed"); err != nil {
		return err
	}
	rows, err = qtx.ReleaseLedgerReservation(ctx, current.Amount, at)
	if err != nil {
		return fmt.Errorf("release ledger reservation: %w", err)
	}
	return requireExactlyOne(rows, "release ledger reservation")
}

func writeAudit(ctx context.Context, qtx *Queries, entityType string, entityID uuid.UUID, actorID *uuid.UUID, action, prevState, nextState string, at time.Time, metadata map[string]any) error {
	var encoded []byte
	if len(metadata) > 0 {
		var err error
		if encoded, err = encodeMetadata(metadata); err != nil {
			return err
		}
	}
	if err := qtx.InsertAuditLog(ctx, InsertAuditLogParams{
		ID:         ToPgUUID(uuid.New()),
		EntityType: entityType,
		EntityID:   ToPgUUID(entityID),
		ActorID:    optionalPgUUID(actorID),
		Action:     action,
		PrevState:  textParam(prevState),
		NextState:  textParam(nextState),
		Metadata:   encoded,
		CreatedAt:  at,
	}); err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

func withReason(metadata map[string]any, reason string) map[string]any {
	if reason == "" {
		return metadata
	}
	out := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		out[k] = v
	}
	out["reason"] = reason
	return out
}

func requireExactlyOne(rows int64, operation string) error {
	if rows != 1 {
		return fmt.Errorf("%s affected %d rows", operation, rows)
	}
	return nil
}

// ClaimExpiredReason is the failure reason recorded when a claim lease runs out.
func ClaimExpiredReason(reference *string) string {
	if reference == nil || *reference == "" {
		return "processing interrupted before transfer initiation"
	}
	return fmt.Sprintf("processing interrupted; transfer %s outcome unknown", *reference)
}
