package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/ayo6706/payout-reconciler/internal/domain"
	"github.com/ayo6706/payout-reconciler/internal/models"
	"github.com/ayo6706/payout-reconciler/internal/observability"
	"github.com/ayo6706/payout-reconciler/internal/repository"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

var ErrInvalidRequest = errors.New("invalid request")

// PayoutService manages payout records outside the processing engine.
type PayoutService struct {
	store    Store
	validate *validator.Validate
	now      func() time.Time
}

func NewPayoutService(store Store) *PayoutService {
	return &PayoutService{
		store:    store,
		validate: NewValidator(),
		now:      time.Now,
	}
}

// NewValidator returns the validator used for admin requests.
// Field errors are reported under their JSON names.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type BankDetailsInput struct {
	AccountNumber string `json:"account_number" validate:"required,numeric,len=10"`
	BankCode      string `json:"bank_code" validate:"required,numeric,min=3,max=6"`
	AccountName   string `json:"account_name" validate:"required,max=128"`
	BankName      string `json:"bank_name" validate:"max=128"`
}

// CreatePayoutRequest holds the parameters for queueing a payout.
type CreatePayoutRequest struct {
	UserID       *uuid.UUID       `json:"user_id"`
	Amount       int64            `json:"amount" validate:"gt=0"`
	CryptoAmount decimal.Decimal  `json:"crypto_amount"`
	CryptoAsset  string           `json:"crypto_asset" validate:"omitempty,alphanum,max=16"`
	Bank         BankDetailsInput `json:"bank" validate:"required"`
}

// CreatePayout queues a pending payout for the engine.
func (s *PayoutService) CreatePayout(ctx context.Context, req CreatePayoutRequest, actorID *uuid.UUID) (*models.Payout, error) {
	req.Bank.AccountNumber = strings.TrimSpace(req.Bank.AccountNumber)
	req.Bank.BankCode = strings.TrimSpace(req.Bank.BankCode)
	req.Bank.AccountName = strings.TrimSpace(req.Bank.AccountName)
	req.CryptoAsset = strings.ToUpper(strings.TrimSpace(req.CryptoAsset))

	if req.Amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if req.CryptoAmount.IsNegative() {
		return nil, fmt.Errorf("%w: crypto_amount must not be negative", ErrInvalidRequest)
	}

	metadata := map[string]any{"requested_by": actorString(actorID)}
	payout, err := s.store.CreatePayout(ctx, repository.CreatePayoutParams{
		ID:           uuid.New(),
		UserID:       req.UserID,
		Amount:       req.Amount,
		CryptoAmount: req.CryptoAmount,
		CryptoAsset:  req.CryptoAsset,
		Bank: models.BankDetails{
			AccountNumber: req.Bank.AccountNumber,
			BankCode:      req.Bank.BankCode,
			AccountName:   req.Bank.AccountName,
			BankName:      req.Bank.BankName,
		},
		Metadata: metadata,
		ActorID:  actorID,
		At:       s.now(),
	})
	if err != nil {
		return nil, err
	}
	zap.L().Info("payout queued",
		zap.String("payout_id", payout.ID.String()),
		zap.Int64("amount", payout.Amount))
	return payout, nil
}

// RejectPayout fails a pending payout without touching the ledger.
func (s *PayoutService) RejectPayout(ctx context.Context, id uuid.UUID, actorID *uuid.UUID, reason string) (*models.Payout, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = domain.FailureRejectedByAdmin
	}
	payout, err := s.store.RejectPayout(ctx, repository.RejectPayoutParams{
		ID:      id,
		ActorID: actorID,
		Reason:  reason,
		At:      s.now(),
	})
	if err != nil {
		return nil, err
	}
	observability.IncrementTransition(string(domain.PayoutStatusPending), string(domain.PayoutStatusFailed))
	zap.L().Info("payout rejected",
		zap.String("payout_id", id.String()),
		zap.String("actor_id", actorString(actorID)),
		zap.String("reason", reason))
	return payout, nil
}

func (s *PayoutService) GetPayout(ctx context.Context, id uuid.UUID) (*models.Payout, error) {
	return s.store.GetPayout(ctx, id)
}

// ListPayouts lists payouts oldest first, optionally filtered by status.
func (s *PayoutService) ListPayouts(ctx context.Context, status string, limit, offset int32) ([]models.Payout, error) {
	params := repository.ListPayoutsParams{Limit: limit, Offset: offset}
	if status != "" {
		parsed, err := domain.ParseStatus(status)
		if err != nil {
			return nil, err
		}
		params.Status = &parsed
	}
	if params.Limit <= 0 {
		params.Limit = defaultListLimit
	}
	if params.Limit > maxListLimit {
		params.Limit = maxListLimit
	}
	if params.Offset < 0 {
		params.Offset = 0
	}
	payouts, err := s.store.ListPayouts(ctx, params)
	if err != nil {
		return nil, err
	}
	if payouts == nil {
		payouts = []models.Payout{}
	}
	return payouts, nil
}

// AuditTrail returns every recorded action on a payout, oldest first.
func (s *PayoutService) AuditTrail(ctx context.Context, id uuid.UUID) ([]models.AuditLog, error) {
	if _, err := s.store.GetPayout(ctx, id); err != nil {
		return nil, err
	}
	logs, err := s.store.ListAuditLog(ctx, repository.EntityPayout, id)
	if err != nil {
		return nil, err
	}
	if logs == nil {
		logs = []models.AuditLog{}
	}
	return logs, nil
}
