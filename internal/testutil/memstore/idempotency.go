package memstore

import (
	"context"
	"sync"

	"github.com/ayo6706/payout-reconciler/internal/repository"
	"github.com/jackc/pgx/v5"
)

// IdempotencyKeys is an in-memory idempotency_keys table.
type IdempotencyKeys struct {
	mu   sync.Mutex
	rows map[string]repository.IdempotencyKey
}

func NewIdempotencyKeys() *IdempotencyKeys {
	return &IdempotencyKeys{rows: make(map[string]repository.IdempotencyKey)}
}

func (k *IdempotencyKeys) GetIdempotencyKey(ctx context.Context, key string) (repository.IdempotencyKey, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	row, ok := k.rows[key]
	if !ok {
		return repository.IdempotencyKey{}, pgx.ErrNoRows
	}
	return row, nil
}

func (k *IdempotencyKeys) ReserveIdempotencyKey(ctx context.Context, arg repository.ReserveIdempotencyKeyParams) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.rows[arg.IdempotencyKey]; ok {
		return "", pgx.ErrNoRows
	}
	k.rows[arg.IdempotencyKey] = repository.IdempotencyKey{
		IdempotencyKey: arg.IdempotencyKey,
		RequestHash:    arg.RequestHash,
		InProgress:     true,
	}
	return arg.IdempotencyKey, nil
}

func (k *IdempotencyKeys) FinalizeIdempotencyKey(ctx context.Context, arg repository.FinalizeIdempotencyKeyParams) (repository.IdempotencyKey, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	row, ok := k.rows[arg.IdempotencyKey]
	if !ok || row.RequestHash != arg.RequestHash {
		return repository.IdempotencyKey{}, pgx.ErrNoRows
	}
	row.InProgress = false
	row.ResponseStatus = arg.ResponseStatus
	row.ResponseBody = append([]byte(nil), arg.ResponseBody...)
	row.ContentType = arg.ContentType
	k.rows[arg.IdempotencyKey] = row
	return row, nil
}

func (k *IdempotencyKeys) DeleteIdempotencyKey(ctx context.Context, key, requestHash string) (int64, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	row, ok := k.rows[key]
	if !ok || row.RequestHash != requestHash || !row.InProgress {
		return 0, nil
	}
	delete(k.rows, key)
	return 1, nil
}
