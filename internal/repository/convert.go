package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ayo6706/payout-reconciler/internal/domain"
	"github.com/ayo6706/payout-reconciler/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// ToPgUUID converts a uuid.UUID into its pgtype representation.
func ToPgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

// FromPgUUID converts a pgtype.UUID into a uuid.UUID. Invalid values map to uuid.Nil.
func FromPgUUID(id pgtype.UUID) uuid.UUID {
	if !id.Valid {
		return uuid.Nil
	}
	return id.Bytes
}

func optionalPgUUID(id *uuid.UUID) pgtype.UUID {
	if id == nil {
		return pgtype.UUID{}
	}
	return ToPgUUID(*id)
}

func fromOptionalPgUUID(id pgtype.UUID) *uuid.UUID {
	if !id.Valid {
		return nil
	}
	v := uuid.UUID(id.Bytes)
	return &v
}

func fromTimestamptz(ts pgtype.Timestamptz) *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Time
	return &t
}

func fromText(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	v := t.String
	return &v
}

func textParam(v string) pgtype.Text {
	return pgtype.Text{String: v, Valid: v != ""}
}

func encodeMetadata(m map[string]any) ([]byte, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return b, nil
}

func decodeMetadata(b []byte) (map[string]any, error) {
	m := map[string]any{}
	if len(b) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return m, nil
}

const payoutColumns = `id, user_id, amount, crypto_amount::text, crypto_asset,
	account_number, bank_code, account_name, bank_name, status,
	reference, transfer_code, recipient_code, processing_mode, failure_reason,
	attempts, claim_token, claim_expires_at, metadata,
	processed_at, confirmed_at, failed_at, created_at, updated_at`

func scanPayout(row pgx.Row) (*models.Payout, error) {
	var (
		p              models.Payout
		id, userID     pgtype.UUID
		claimToken     pgtype.UUID
		cryptoAmount   string
		status         string
		reference      pgtype.Text
		transferCode   pgtype.Text
		recipientCode  pgtype.Text
		mode           pgtype.Text
		failureReason  pgtype.Text
		claimExpiresAt pgtype.Timestamptz
		processedAt    pgtype.Timestamptz
		confirmedAt    pgtype.Timestamptz
		failedAt       pgtype.Timestamptz
		metadata       []byte
	)
	err := row.Scan(
		&id, &userID, &p.Amount, &cryptoAmount, &p.CryptoAsset,
		&p.Bank.AccountNumber, &p.Bank.BankCode, &p.Bank.AccountName, &p.Bank.BankName, &status,
		&reference, &transferCode, &recipientCode, &mode, &failureReason,
		&p.Attempts, &claimToken, &claimExpiresAt, &metadata,
		&processedAt, &confirmedAt, &failedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.ID = FromPgUUID(id)
	p.UserID = fromOptionalPgUUID(userID)
	p.ClaimToken = fromOptionalPgUUID(claimToken)
	p.Status = domain.PayoutStatus(status)
	p.Reference = fromText(reference)
	p.TransferCode = fromText(transferCode)
	p.RecipientCode = fromText(recipientCode)
	p.FailureReason = fromText(failureReason)
	if mode.Valid {
		m := domain.ProcessingMode(mode.String)
		p.ProcessingMode = &m
	}
	p.ClaimExpiresAt = fromTimestamptz(claimExpiresAt)
	p.ProcessedAt = fromTimestamptz(processedAt)
	p.ConfirmedAt = fromTimestamptz(confirmedAt)
	p.FailedAt = fromTimestamptz(failedAt)

	if p.CryptoAmount, err = decimal.NewFromString(cryptoAmount); err != nil {
		return nil, fmt.Errorf("parse crypto amount %q: %w", cryptoAmount, err)
	}
	if p.Metadata, err = decodeMetadata(metadata); err != nil {
		return nil, err
	}
	return &p, nil
}

const ledgerColumns = `available, reserved, total_deposited, total_withdrawn,
	minimum_reserve, daily_cap, auto_processing_enabled, last_updated`

func scanLedger(row pgx.Row) (*models.Ledger, error) {
	var l models.Ledger
	if err := row.Scan(
		&l.Available, &l.Reserved, &l.TotalDeposited, &l.TotalWithdrawn,
		&l.MinimumReserve, &l.DailyCap, &l.AutoProcessingEnabled, &l.LastUpdated,
	); err != nil {
		return nil, err
	}
	return &l, nil
}
