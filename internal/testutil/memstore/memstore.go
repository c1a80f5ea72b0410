// Package memstore is an in-memory payout and ledger store with the same conditional
// update semantics as the Postgres store. It is used by engine and API tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ayo6706/payout-reconciler/internal/domain"
	"github.com/ayo6706/payout-reconciler/internal/models"
	"github.com/ayo6706/payout-reconciler/internal/repository"
	"github.com/google/uuid"
)

type Store struct {
	mu      sync.Mutex
	ledger  models.Ledger
	payouts map[uuid.UUID]*models.Payout
	audit   []models.AuditLog

	// FailGetLedger, when set, is returned by GetLedger.
	FailGetLedger error
}

// New returns a store whose ledger has the given balance and guardrails.
func New(available, minimumReserve, dailyCap int64) *Store {
	return &Store{
		ledger: models.Ledger{
			Available:             available,
			TotalDeposited:        available,
			MinimumReserve:        minimumReserve,
			DailyCap:              dailyCap,
			AutoProcessingEnabled: true,
			LastUpdated:           time.Now(),
		},
		payouts: make(map[uuid.UUID]*models.Payout),
	}
}

// Seed inserts a pending payout created at createdAt and returns its id.
func (s *Store) Seed(amount int64, createdAt time.Time) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.payouts[id] = &models.Payout{
		ID:     id,
		Amount: amount,
		Bank: models.BankDetails{
			AccountNumber: "0123456789",
			BankCode:      "058",
			AccountName:   "Ada Obi",
		},
		Status:    domain.PayoutStatusPending,
		Metadata:  map[string]any{},
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	return id
}

// Put stores p as is. It is used to arrange records in specific states.
func (s *Store) Put(p models.Payout) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := clonePayout(&p)
	if cp.Metadata == nil {
		cp.Metadata = map[string]any{}
	}
	s.payouts[p.ID] = cp
}

// Ledger returns a copy of the current ledger.
func (s *Store) Ledger() models.Ledger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger
}

// SetLedger replaces the ledger row.
func (s *Store) SetLedger(l models.Ledger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledger = l
}

// Payout returns a copy of the payout with id, or nil.
func (s *Store) Payout(id uuid.UUID) *models.Payout {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payouts[id]
	if !ok {
		return nil
	}
	return clonePayout(p)
}

// Audit returns every audit row recorded so far.
func (s *Store) Audit() []models.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.AuditLog, len(s.audit))
	copy(out, s.audit)
	return out
}

func (s *Store) GetLedger(ctx context.Context) (*models.Ledger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailGetLedger != nil {
		return nil, s.FailGetLedger
	}
	l := s.ledger
	return &l, nil
}

func (s *Store) Deposit(ctx context.Context, arg repository.DepositParams) (*models.Ledger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledger.Available += arg.Amount
	s.ledger.TotalDeposited += arg.Amount
	s.ledger.LastUpdated = arg.At
	s.writeAudit(repository.EntityLedger, uuid.Nil, arg.ActorID, "deposit", "", "", arg.At, map[string]any{"amount": arg.Amount, "note": arg.Note})
	l := s.ledger
	return &l, nil
}

func (s *Store) UpdateGuardrails(ctx context.Context, arg repository.UpdateGuardrailsParams) (*models.Ledger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if arg.MinimumReserve != nil {
		s.ledger.MinimumReserve = *arg.MinimumReserve
	}
	if arg.DailyCap != nil {
		s.ledger.DailyCap = *arg.DailyCap
	}
	s.ledger.LastUpdated = arg.At
	s.writeAudit(repository.EntityLedger, uuid.Nil, arg.ActorID, "guardrails_updated", "", "", arg.At, nil)
	l := s.ledger
	return &l, nil
}

func (s *Store) SetAutoProcessing(ctx context.Context, arg repository.SetAutoProcessingParams) (*models.Ledger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if arg.Enabled != nil {
		s.ledger.AutoProcessingEnabled = *arg.Enabled
	} else {
		s.ledger.AutoProcessingEnabled = !s.ledger.AutoProcessingEnabled
	}
	s.ledger.LastUpdated = arg.At
	s.writeAudit(repository.EntityLedger, uuid.Nil, arg.ActorID, "auto_processing_set", "", "", arg.At, map[string]any{"enabled": s.ledger.AutoProcessingEnabled})
	l := s.ledger
	return &l, nil
}

func (s *Store) GetPayout(ctx context.Context, id uuid.UUID) (*models.Payout, error) {
	if p := s.Payout(id); p != nil {
		return p, nil
	}
	return nil, domain.ErrPayoutNotFound
}

func (s *Store) ListPendingPayouts(ctx context.Context, limit int32) ([]models.Payout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Payout
	for _, p := range s.sorted() {
		if p.Status == domain.PayoutStatusPending && p.ClaimToken == nil {
			out = append(out, *clonePayout(p))
		}
		if int32(len(out)) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) ListPayouts(ctx context.Context, arg repository.ListPayoutsParams) ([]models.Payout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []models.Payout
	for _, p := range s.sorted() {
		if arg.Status == nil || p.Status == *arg.Status {
			matched = append(matched, *clonePayout(p))
		}
	}
	if int(arg.Offset) >= len(matched) {
		return nil, nil
	}
	matched = matched[arg.Offset:]
	if arg.Limit > 0 && int(arg.Limit) < len(matched) {
		matched = matched[:arg.Limit]
	}
	return matched, nil
}

func (s *Store) PendingSummary(ctx context.Context) (models.PendingSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum models.PendingSummary
	for _, p := range s.payouts {
		if p.Status == domain.PayoutStatusPending {
			sum.Count++
			sum.Total += p.Amount
		}
	}
	return sum, nil
}

func (s *Store) SumAutoVolumeSince(ctx context.Context, since time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, p := range s.payouts {
		if p.ProcessingMode == nil || *p.ProcessingMode != domain.ModeAuto {
			continue
		}
		if p.Status != domain.PayoutStatusProcessing && p.Status != domain.PayoutStatusCompleted {
			continue
		}
		if p.ProcessedAt != nil && !p.ProcessedAt.Before(since) {
			total += p.Amount
		}
	}
	return total, nil
}

func (s *Store) ListAuditLog(ctx context.Context, entityType string, entityID uuid.UUID) ([]models.AuditLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AuditLog
	for _, a := range s.audit {
		if a.EntityType == entityType && a.EntityID == entityID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *Store) CreatePayout(ctx context.Context, arg repository.CreatePayoutParams) (*models.Payout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.payouts[arg.ID]; exists {
		return nil, fmt.Errorf("insert payout: duplicate id %s", arg.ID)
	}
	p := &models.Payout{
		ID:           arg.ID,
		UserID:       arg.UserID,
		Amount:       arg.Amount,
		CryptoAmount: arg.CryptoAmount,
		CryptoAsset:  arg.CryptoAsset,
		Bank:         arg.Bank,
		Status:       domain.PayoutStatusPending,
		Metadata:     merge(nil, arg.Metadata),
		CreatedAt:    arg.At,
		UpdatedAt:    arg.At,
	}
	s.payouts[p.ID] = p
	s.writeAudit(repository.EntityPayout, p.ID, arg.ActorID, "created", "", string(domain.PayoutStatusPending), arg.At, arg.Metadata)
	return clonePayout(p), nil
}

func (s *Store) ClaimPayout(ctx context.Context, arg repository.ClaimPayoutParams) (*models.Payout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payouts[arg.ID]
	if !ok || p.Status != domain.PayoutStatusPending || p.ClaimToken != nil {
		return nil, domain.ErrPayoutNotClaimable
	}
	if s.ledger.Available-s.ledger.Reserved < p.Amount {
		return nil, domain.ErrInsufficientFunds
	}
	s.ledger.Reserved += p.Amount
	s.ledger.LastUpdated = arg.At

	token, expires, mode := arg.Token, arg.ExpiresAt, arg.Mode
	p.ClaimToken = &token
	p.ClaimExpiresAt = &expires
	p.ProcessingMode = &mode
	p.Attempts++
	p.UpdatedAt = arg.At
	s.writeAudit(repository.EntityPayout, p.ID, arg.ActorID, "claimed", "", "", arg.At, map[string]any{"mode": string(mode)})
	return clonePayout(p), nil
}

func (s *Store) SaveClaimProgress(ctx context.Context, arg repository.ClaimProgressParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.heldClaim(arg.ID, arg.Token)
	if err != nil {
		return err
	}
	if arg.RecipientCode != "" {
		code := arg.RecipientCode
		p.RecipientCode = &code
	}
	if arg.Reference != "" {
		ref := arg.Reference
		p.Reference = &ref
	}
	p.UpdatedAt = arg.At
	return nil
}

func (s *Store) FinalizeClaim(ctx context.Context, arg repository.FinalizeClaimParams) (*models.Payout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.heldClaim(arg.ID, arg.Token)
	if err != nil {
		return nil, err
	}
	if err := domain.ValidateTransition(p.Status, domain.PayoutStatusProcessing); err != nil {
		return nil, err
	}
	if s.ledger.Reserved < p.Amount || s.ledger.Available < p.Amount {
		return nil, fmt.Errorf("debit reserved funds affected 0 rows")
	}

	s.ledger.Available -= p.Amount
	s.ledger.Reserved -= p.Amount
	s.ledger.TotalWithdrawn += p.Amount
	s.ledger.LastUpdated = arg.At

	ref, code, recipient, mode, at := arg.Reference, arg.TransferCode, arg.RecipientCode, arg.Mode, arg.At
	p.Status = domain.PayoutStatusProcessing
	p.Reference = &ref
	p.TransferCode = &code
	p.RecipientCode = &recipient
	p.ProcessingMode = &mode
	p.ProcessedAt = &at
	p.ClaimToken = nil
	p.ClaimExpiresAt = nil
	p.Metadata = merge(p.Metadata, arg.Metadata)
	p.UpdatedAt = at
	s.writeAudit(repository.EntityPayout, p.ID, arg.ActorID, "transfer_initiated",
		string(domain.PayoutStatusPending), string(domain.PayoutStatusProcessing), at, arg.Metadata)
	return clonePayout(p), nil
}

func (s *Store) AbandonClaim(ctx context.Context, arg repository.AbandonClaimParams) (*models.Payout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.heldClaim(arg.ID, arg.Token)
	if err != nil {
		return nil, err
	}
	if err := s.failPending(p, arg.Reason, arg.At, arg.Metadata); err != nil {
		return nil, err
	}
	s.writeAudit(repository.EntityPayout, p.ID, arg.ActorID, "processing_failed",
		string(domain.PayoutStatusPending), string(domain.PayoutStatusFailed), arg.At, arg.Metadata)
	return clonePayout(p), nil
}

func (s *Store) ReleaseClaim(ctx context.Context, arg repository.ReleaseClaimParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.heldClaim(arg.ID, arg.Token)
	if err != nil {
		return err
	}
	p.ClaimToken = nil
	p.ClaimExpiresAt = nil
	p.UpdatedAt = arg.At
	s.ledger.Reserved -= p.Amount
	s.ledger.LastUpdated = arg.At
	s.writeAudit(repository.EntityPayout, p.ID, nil, "claim_released", "", "", arg.At, nil)
	return nil
}

func (s *Store) ExpireStaleClaims(ctx context.Context, arg repository.ExpireClaimsParams) ([]models.Payout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []models.Payout
	for _, p := range s.sorted() {
		if arg.Limit > 0 && int32(len(expired)) >= arg.Limit {
			break
		}
		if p.Status != domain.PayoutStatusPending || p.ClaimToken == nil || p.ClaimExpiresAt == nil || p.ClaimExpiresAt.After(arg.Now) {
			continue
		}
		reason := repository.ClaimExpiredReason(p.Reference)
		meta := map[string]any{"claim_expired_at": *p.ClaimExpiresAt}
		if err := s.failPending(p, reason, arg.Now, meta); err != nil {
			return nil, err
		}
		s.writeAudit(repository.EntityPayout, p.ID, nil, "claim_expired",
			string(domain.PayoutStatusPending), string(domain.PayoutStatusFailed), arg.Now, meta)
		expired = append(expired, *clonePayout(p))
	}
	return expired, nil
}

func (s *Store) SettleTransfer(ctx context.Context, arg repository.SettleTransferParams) (*repository.SettleResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var p *models.Payout
	for _, candidate := range s.payouts {
		if candidate.Reference != nil && *candidate.Reference == arg.Reference {
			p = candidate
			break
		}
	}
	if p == nil {
		return &repository.SettleResult{}, nil
	}
	result := &repository.SettleResult{Payout: clonePayout(p), Previous: p.Status}
	if p.Status == domain.PayoutStatusPending && p.ClaimToken != nil {
		return nil, domain.ErrTransferNotFinalized
	}
	if p.Status != domain.PayoutStatusProcessing {
		return result, nil
	}

	next := domain.PayoutStatusCompleted
	if arg.Kind != domain.TransferSucceeded {
		next = domain.PayoutStatusFailed
	}
	if err := domain.ValidateTransition(p.Status, next); err != nil {
		return nil, err
	}

	at := arg.At
	if next == domain.PayoutStatusCompleted {
		p.ConfirmedAt = &at
	} else {
		reason := arg.Reason
		p.FailureReason = &reason
		p.FailedAt = &at
		s.ledger.Available += p.Amount
		s.ledger.TotalWithdrawn -= p.Amount
		s.ledger.LastUpdated = at
	}
	p.Status = next
	p.Metadata = merge(p.Metadata, arg.Metadata)
	p.UpdatedAt = at
	s.writeAudit(repository.EntityPayout, p.ID, nil, "transfer_"+string(arg.Kind),
		string(domain.PayoutStatusProcessing), string(next), at, arg.Metadata)

	result.Payout = clonePayout(p)
	result.Applied = true
	return result, nil
}

func (s *Store) RejectPayout(ctx context.Context, arg repository.RejectPayoutParams) (*models.Payout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payouts[arg.ID]
	if !ok {
		return nil, domain.ErrPayoutNotFound
	}
	if p.Status != domain.PayoutStatusPending {
		return nil, domain.ErrPayoutNotPending
	}
	if p.ClaimToken != nil {
		return nil, domain.ErrPayoutNotClaimable
	}
	if err := domain.ValidateTransition(p.Status, domain.PayoutStatusFailed); err != nil {
		return nil, err
	}
	at, reason := arg.At, arg.Reason
	p.Status = domain.PayoutStatusFailed
	p.FailureReason = &reason
	p.FailedAt = &at
	p.UpdatedAt = at
	p.Metadata = merge(p.Metadata, map[string]any{"rejected_at": at})
	s.writeAudit(repository.EntityPayout, p.ID, arg.ActorID, "rejected",
		string(domain.PayoutStatusPending), string(domain.PayoutStatusFailed), at, map[string]any{"reason": reason})
	return clonePayout(p), nil
}

// heldClaim must be called with mu held.
func (s *Store) heldClaim(id, token uuid.UUID) (*models.Payout, error) {
	p, ok := s.payouts[id]
	if !ok {
		return nil, domain.ErrPayoutNotFound
	}
	if p.Status != domain.PayoutStatusPending || p.ClaimToken == nil || *p.ClaimToken != token {
		return nil, domain.ErrClaimLost
	}
	return p, nil
}

// failPending must be called with mu held.
func (s *Store) failPending(p *models.Payout, reason string, at time.Time, metadata map[string]any) error {
	if err := domain.ValidateTransition(p.Status, domain.PayoutStatusFailed); err != nil {
		return err
	}
	if s.ledger.Reserved < p.Amount {
		return fmt.Errorf("release ledger reservation affected 0 rows")
	}
	s.ledger.Reserved -= p.Amount
	s.ledger.LastUpdated = at

	p.Status = domain.PayoutStatusFailed
	p.FailureReason = &reason
	p.FailedAt = &at
	p.ClaimToken = nil
	p.ClaimExpiresAt = nil
	p.Metadata = merge(p.Metadata, metadata)
	p.UpdatedAt = at
	return nil
}

// sorted must be called with mu held.
func (s *Store) sorted() []*models.Payout {
	out := make([]*models.Payout, 0, len(s.payouts))
	for _, p := range s.payouts {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// writeAudit must be called with mu held.
func (s *Store) writeAudit(entityType string, entityID uuid.UUID, actorID *uuid.UUID, action, prev, next string, at time.Time, metadata map[string]any) {
	s.audit = append(s.audit, models.AuditLog{
		ID:         uuid.New(),
		EntityType: entityType,
		EntityID:   entityID,
		ActorID:    actorID,
		Action:     action,
		PrevState:  prev,
		NextState:  next,
		Metadata:   merge(nil, metadata),
		CreatedAt:  at,
	})
}

func merge(dst, src map[string]any) map[string]any {
	out := make(map[string]any, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		out[k] = v
	}
	return out
}

func clonePayout(p *models.Payout) *models.Payout {
	cp := *p
	cp.Metadata = merge(nil, p.Metadata)
	return &cp
}

func (s *Store) LedgerExposure(ctx context.Context) (*models.LedgerExposure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp := &models.LedgerExposure{Ledger: s.ledger}
	for _, p := range s.payouts {
		switch {
		case p.Status == domain.PayoutStatusPending && p.ClaimToken != nil:
			exp.ClaimedPending += p.Amount
		case p.Status == domain.PayoutStatusProcessing || p.Status == domain.PayoutStatusCompleted:
			exp.DebitedPayouts += p.Amount
		}
	}
	return exp, nil
}
