package repository

import (
	"context"
	"time"

	"github.com/ayo6706/payout-reconciler/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// Queries holds the raw SQL statements of the service.
type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

const getLedger = `SELECT ` + ledgerColumns + ` FROM system_ledger WHERE id = 1`

func (q *Queries) GetLedger(ctx context.Context) (*models.Ledger, error) {
	return scanLedger(q.db.QueryRow(ctx, getLedger))
}

const getLedgerForUpdate = getLedger + ` FOR UPDATE`

func (q *Queries) GetLedgerForUpdate(ctx context.Context) (*models.Ledger, error) {
	return scanLedger(q.db.QueryRow(ctx, getLedgerForUpdate))
}

const reserveLedgerFunds = `
UPDATE system_ledger
SET reserved = reserved + $1, last_updated = $2
WHERE id = 1 AND available - reserved >= $1
`

func (q *Queries) ReserveLedgerFunds(ctx context.Context, amount int64, at time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, reserveLedgerFunds, amount, at)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const releaseLedgerReservation = `
UPDATE system_ledger
SET reserved = reserved - $1, last_updated = $2
WHERE id = 1 AND reserved >= $1
`

func (q *Queries) ReleaseLedgerReservation(ctx context.Context, amount int64, at time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, releaseLedgerReservation, amount, at)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const debitReservedFunds = `
UPDATE system_ledger
SET available = available - $1,
    reserved = reserved - $1,
    total_withdrawn = total_withdrawn + $1,
    last_updated = $2
WHERE id = 1 AND reserved >= $1 AND available >= $1
`

func (q *Queries) DebitReservedFunds(ctx context.Context, amount int64, at time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, debitReservedFunds, amount, at)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const refundLedgerFunds = `
UPDATE system_ledger
SET available = available + $1,
    total_withdrawn = total_withdrawn - $1,
    last_updated = $2
WHERE id = 1
`

func (q *Queries) RefundLedgerFunds(ctx context.Context, amount int64, at time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, refundLedgerFunds, amount, at)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const creditLedgerDeposit = `
UPDATE system_ledger
SET available = available + $1,
    total_deposited = total_deposited + $1,
    last_updated = $2
WHERE id = 1
RETURNING ` + ledgerColumns

func (q *Queries) CreditLedgerDeposit(ctx context.Context, amount int64, at time.Time) (*models.Ledger, error) {
	return scanLedger(q.db.QueryRow(ctx, creditLedgerDeposit, amount, at))
}

const updateLedgerGuardrails = `
UPDATE system_ledger
SET minimum_reserve = COALESCE($1, minimum_reserve),
    daily_cap = COALESCE($2, daily_cap),
    last_updated = $3
WHERE id = 1
RETURNING ` + ledgerColumns

func (q *Queries) UpdateLedgerGuardrails(ctx context.Context, minimumReserve, dailyCap *int64, at time.Time) (*models.Ledger, error) {
	return scanLedger(q.db.QueryRow(ctx, updateLedgerGuardrails, minimumReserve, dailyCap, at))
}

const setAutoProcessing = `
UPDATE system_ledger
SET auto_processing_enabled = COALESCE($1, NOT auto_processing_enabled),
    last_updated = $2
WHERE id = 1
RETURNING ` + ledgerColumns

func (q *Queries) SetAutoProcessing(ctx context.Context, enabled *bool, at time.Time) (*models.Ledger, error) {
	return scanLedger(q.db.QueryRow(ctx, setAutoProcessing, enabled, at))
}

const insertPayout = `
INSERT INTO payouts (
    id, user_id, amount, crypto_amount, crypto_asset,
    account_number, bank_code, account_name, bank_name,
    status, metadata, created_at, updated_at
) VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, 'pending', $10, $11, $11)
RETURNING ` + payoutColumns

type InsertPayoutParams struct {
	ID           pgtype.UUID
	UserID       pgtype.UUID
	Amount       int64
	CryptoAmount string
	CryptoAsset  string
	Bank         models.BankDetails
	Metadata     []byte
	CreatedAt    time.Time
}

func (q *Queries) InsertPayout(ctx context.Context, arg InsertPayoutParams) (*models.Payout, error) {
	return scanPayout(q.db.QueryRow(ctx, insertPayout,
		arg.ID, arg.UserID, arg.Amount, arg.CryptoAmount, arg.CryptoAsset,
		arg.Bank.AccountNumber, arg.Bank.BankCode, arg.Bank.AccountName, arg.Bank.BankName,
		arg.Metadata, arg.CreatedAt,
	))
}

const getPayout = `SELECT ` + payoutColumns + ` FROM payouts WHERE id = $1`

func (q *Queries) GetPayout(ctx context.Context, id pgtype.UUID) (*models.Payout, error) {
	return scanPayout(q.db.QueryRow(ctx, getPayout, id))
}

const getPayoutForUpdate = getPayout + ` FOR UPDATE`

func (q *Queries) GetPayoutForUpdate(ctx context.Context, id pgtype.UUID) (*models.Payout, error) {
	return scanPayout(q.db.QueryRow(ctx, getPayoutForUpdate, id))
}

const getPayoutByReferenceForUpdate = `SELECT ` + payoutColumns + ` FROM payouts WHERE reference = $1 FOR UPDATE`

func (q *Queries) GetPayoutByReferenceForUpdate(ctx context.Context, reference string) (*models.Payout, error) {
	return scanPayout(q.db.QueryRow(ctx, getPayoutByReferenceForUpdate, reference))
}

const listClaimablePayouts = `
SELECT ` + payoutColumns + `
FROM payouts
WHERE status = 'pending' AND claim_token IS NULL
ORDER BY created_at ASC, id ASC
LIMIT $1
`

func (q *Queries) ListClaimablePayouts(ctx context.Context, limit int32) ([]models.Payout, error) {
	rows, err := q.db.Query(ctx, listClaimablePayouts, limit)
	if err != nil {
		return nil, err
	}
	return collectPayouts(rows)
}

const listPayouts = `
SELECT ` + payoutColumns + `
FROM payouts
WHERE ($1::text IS NULL OR status = $1)
ORDER BY created_at ASC, id ASC
LIMIT $2 OFFSET $3
`

func (q *Queries) ListPayouts(ctx context.Context, status pgtype.Text, limit, offset int32) ([]models.Payout, error) {
	rows, err := q.db.Query(ctx, listPayouts, status, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectPayouts(rows)
}

const listExpiredClaimsForUpdate = `
SELECT ` + payoutColumns + `
FROM payouts
WHERE status = 'pending' AND claim_token IS NOT NULL AND claim_expires_at <= $1
ORDER BY claim_expires_at ASC
LIMIT $2
FOR UPDATE SKIP LOCKED
`

func (q *Queries) ListExpiredClaimsForUpdate(ctx context.Context, now time.Time, limit int32) ([]models.Payout, error) {
	rows, err := q.db.Query(ctx, listExpiredClaimsForUpdate, now, limit)
	if err != nil {
		return nil, err
	}
	return collectPayouts(rows)
}

const sumAutoVolumeSince = `
SELECT COALESCE(SUM(amount), 0)::bigint
FROM payouts
WHERE processing_mode = 'auto'
  AND status IN ('processing', 'completed')
  AND processed_at >= $1
`

func (q *Queries) SumAutoVolumeSince(ctx context.Context, since time.Time) (int64, error) {
	var total int64
	err := q.db.QueryRow(ctx, sumAutoVolumeSince, since).Scan(&total)
	return total, err
}

const getPendingSummary = `
SELECT COUNT(*), COALESCE(SUM(amount), 0)::bigint
FROM payouts
WHERE status = 'pending'
`

func (q *Queries) GetPendingSummary(ctx context.Context) (models.PendingSummary, error) {
	var s models.PendingSummary
	err := q.db.QueryRow(ctx, getPendingSummary).Scan(&s.Count, &s.Total)
	return s, err
}

const getPayoutExposure = `
SELECT
    COALESCE(SUM(amount) FILTER (WHERE status = 'pending' AND claim_token IS NOT NULL), 0)::bigint,
    COALESCE(SUM(amount) FILTER (WHERE status IN ('processing', 'completed')), 0)::bigint
FROM payouts`

// GetPayoutExposure returns the amount held by active claims and the amount debited
// for payouts that were accepted by the gateway.
func (q *Queries) GetPayoutExposure(ctx context.Context) (reserved, withdrawn int64, err error) {
	err = q.db.QueryRow(ctx, getPayoutExposure).Scan(&reserved, &withdrawn)
	return reserved, withdrawn, err
}

const claimPayout = `
UPDATE payouts
SET claim_token = $2,
    claim_expires_at = $3,
    processing_mode = $4,
    attempts = attempts + 1,
    updated_at = $5
WHERE id = $1 AND status = 'pending' AND claim_token IS NULL
RETURNING ` + payoutColumns

type ClaimPayoutRowParams struct {
	ID        pgtype.UUID
	Token     pgtype.UUID
	ExpiresAt time.Time
	Mode      string
	At        time.Time
}

func (q *Queries) ClaimPayout(ctx context.Context, arg ClaimPayoutRowParams) (*models.Payout, error) {
	return scanPayout(q.db.QueryRow(ctx, claimPayout, arg.ID, arg.Token, arg.ExpiresAt, arg.Mode, arg.At))
}

const updateClaimProgress = `
UPDATE payouts
SET recipient_code = COALESCE($3, recipient_code),
    reference = COALESCE($4, reference),
    updated_at = $5
WHERE id = $1 AND status = 'pending' AND claim_token = $2
`

func (q *Queries) UpdateClaimProgress(ctx context.Context, id, token pgtype.UUID, recipientCode, reference pgtype.Text, at time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, updateClaimProgress, id, token, recipientCode, reference, at)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const markPayoutProcessing = `
UPDATE payouts
SET status = 'processing',
    reference = $3,
    transfer_code = $4,
    recipient_code = $5,
    processing_mode = $6,
    claim_token = NULL,
    claim_expires_at = NULL,
    processed_at = $7,
    metadata = metadata || $8::jsonb,
    updated_at = $7
WHERE id = $1 AND status = 'pending' AND claim_token = $2
`

type MarkPayoutProcessingParams struct {
	ID            pgtype.UUID
	Token         pgtype.UUID
	Reference     string
	TransferCode  pgtype.Text
	RecipientCode pgtype.Text
	Mode          string
	At            time.Time
	Metadata      []byte
}

func (q *Queries) MarkPayoutProcessing(ctx context.Context, arg MarkPayoutProcessingParams) (int64, error) {
	tag, err := q.db.Exec(ctx, markPayoutProcessing,
		arg.ID, arg.Token, arg.Reference, arg.TransferCode, arg.RecipientCode, arg.Mode, arg.At, arg.Metadata)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const markPayoutFailed = `
UPDATE payouts
SET status = 'failed',
    failure_reason = $3,
    claim_token = NULL,
    claim_expires_at = NULL,
    failed_at = $4,
    metadata = metadata || $5::jsonb,
    updated_at = $4
WHERE id = $1 AND status = $2
`

type MarkPayoutFailedParams struct {
	ID             pgtype.UUID
	ExpectedStatus string
	Reason         string
	At             time.Time
	Metadata       []byte
}

func (q *Queries) MarkPayoutFailed(ctx context.Context, arg MarkPayoutFailedParams) (int64, error) {
	tag, err := q.db.Exec(ctx, markPayoutFailed, arg.ID, arg.ExpectedStatus, arg.Reason, arg.At, arg.Metadata)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const markPayoutCompleted = `
UPDATE payouts
SET status = 'completed',
    confirmed_at = $2,
    metadata = metadata || $3::jsonb,
    updated_at = $2
WHERE id = $1 AND status = 'processing'
`

func (q *Queries) MarkPayoutCompleted(ctx context.Context, id pgtype.UUID, at time.Time, metadata []byte) (int64, error) {
	tag, err := q.db.Exec(ctx, markPayoutCompleted, id, at, metadata)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const releasePayoutClaim = `
UPDATE payouts
SET claim_token = NULL,
    claim_expires_at = NULL,
    updated_at = $3
WHERE id = $1 AND status = 'pending' AND claim_token = $2
`

func (q *Queries) ReleasePayoutClaim(ctx context.Context, id, token pgtype.UUID, at time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, releasePayoutClaim, id, token, at)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const insertAuditLog = `
INSERT INTO audit_log (id, entity_type, entity_id, actor_id, action, prev_state, next_state, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

type InsertAuditLogParams struct {
	ID         pgtype.UUID
	EntityType string
	EntityID   pgtype.UUID
	ActorID    pgtype.UUID
	Action     string
	PrevState  pgtype.Text
	NextState  pgtype.Text
	Metadata   []byte
	CreatedAt  time.Time
}

func (q *Queries) InsertAuditLog(ctx context.Context, arg InsertAuditLogParams) error {
	_, err := q.db.Exec(ctx, insertAuditLog,
		arg.ID, arg.EntityType, arg.EntityID, arg.ActorID, arg.Action,
		arg.PrevState, arg.NextState, arg.Metadata, arg.CreatedAt)
	return err
}

const listAuditLogs = `
SELECT id, entity_type, entity_id, actor_id, action, prev_state, next_state, metadata, created_at
FROM audit_log
WHERE entity_type = $1 AND entity_id = $2
ORDER BY created_at ASC, id ASC
`

func (q *Queries) ListAuditLogs(ctx context.Context, entityType string, entityID pgtype.UUID) ([]models.AuditLog, error) {
	rows, err := q.db.Query(ctx, listAuditLogs, entityType, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.AuditLog
	for rows.Next() {
		var (
			a                    models.AuditLog
			id, entity, actor    pgtype.UUID
			prevState, nextState pgtype.Text
			metadata             []byte
		)
		if err := rows.Scan(&id, &a.EntityType, &entity, &actor, &a.Action, &prevState, &nextState, &metadata, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.ID = FromPgUUID(id)
		a.EntityID = FromPgUUID(entity)
		a.ActorID = fromOptionalPgUUID(actor)
		a.PrevState = prevState.String
		a.NextState = nextState.String
		if a.Metadata, err = decodeMetadata(metadata); err != nil {
			return nil, err
		}
		logs = append(logs, a)
	}
	return logs, rows.Err()
}

const getIdempotencyKey = `
SELECT idempotency_key, request_hash, in_progress, response_status, response_body, content_type
FROM idempotency_keys
WHERE idempotency_key = $1
`

type IdempotencyKey struct {
	IdempotencyKey string
	RequestHash    string
	InProgress     bool
	ResponseStatus int32
	ResponseBody   []byte
	ContentType    string
}

func (q *Queries) GetIdempotencyKey(ctx context.Context, key string) (IdempotencyKey, error) {
	var i IdempotencyKey
	err := q.db.QueryRow(ctx, getIdempotencyKey, key).Scan(
		&i.IdempotencyKey, &i.RequestHash, &i.InProgress, &i.ResponseStatus, &i.ResponseBody, &i.ContentType)
	return i, err
}

const reserveIdempotencyKey = `
INSERT INTO idempotency_keys (idempotency_key, request_hash, method, path)
VALUES ($1, $2, $3, $4)
ON CONFLICT (idempotency_key) DO NOTHING
RETURNING idempotency_key
`

type ReserveIdempotencyKeyParams struct {
	IdempotencyKey string
	RequestHash    string
	Method         string
	Path           string
}

func (q *Queries) ReserveIdempotencyKey(ctx context.Context, arg ReserveIdempotencyKeyParams) (string, error) {
	var key string
	err := q.db.QueryRow(ctx, reserveIdempotencyKey, arg.IdempotencyKey, arg.RequestHash, arg.Method, arg.Path).Scan(&key)
	return key, err
}

const finalizeIdempotencyKey = `
UPDATE idempotency_keys
SET in_progress = FALSE,
    response_status = $1,
    response_body = $2,
    content_type = $3,
    updated_at = NOW()
WHERE idempotency_key = $4 AND request_hash = $5
RETURNING idempotency_key, request_hash, in_progress, response_status, response_body, content_type
`

type FinalizeIdempotencyKeyParams struct {
	ResponseStatus int32
	ResponseBody   []byte
	ContentType    string
	IdempotencyKey string
	RequestHash    string
}

func (q *Queries) FinalizeIdempotencyKey(ctx context.Context, arg FinalizeIdempotencyKeyParams) (IdempotencyKey, error) {
	var i IdempotencyKey
	err := q.db.QueryRow(ctx, finalizeIdempotencyKey,
		arg.ResponseStatus, arg.ResponseBody, arg.ContentType, arg.IdempotencyKey, arg.RequestHash,
	).Scan(&i.IdempotencyKey, &i.RequestHash, &i.InProgress, &i.ResponseStatus, &i.ResponseBody, &i.ContentType)
	return i, err
}

func collectPayouts(rows pgx.Rows) ([]models.Payout, error) {
	defer rows.Close()
	var payouts []models.Payout
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		payouts = append(payouts, *p)
	}
	return payouts, rows.Err()
}

const deleteIdempotencyKey = `
DELETE FROM idempotency_keys
WHERE idempotency_key = $1 AND request_hash = $2 AND in_progress
`

// DeleteIdempotencyKey drops an unfinished reservation so the request can be retried.
func (q *Queries) DeleteIdempotencyKey(ctx context.Context, key, requestHash string) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteIdempotencyKey, key, requestHash)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
