// Package idempotency stores the first response to each admin mutation so that a retried
// request with the same Idempotency-Key replays it instead of acting twice.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/payout-reconciler/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	ErrNotFound     = errors.New("idempotency key not found")
	ErrHashMismatch = errors.New("idempotency key reused with a different request")
	ErrInProgress   = errors.New("idempotency key in progress")
)

const (
	redisKeyPrefix      = "payout-idem"
	defaultPollInterval = 50 * time.Millisecond
)

// KeyStore is the durable record of idempotency keys. *repository.Queries satisfies it.
type KeyStore interface {
	GetIdempotencyKey(ctx context.Context, key string) (repository.IdempotencyKey, error)
	ReserveIdempotencyKey(ctx context.Context, arg repository.ReserveIdempotencyKeyParams) (string, error)
	FinalizeIdempotencyKey(ctx context.Context, arg repository.FinalizeIdempotencyKeyParams) (repository.IdempotencyKey, error)
	DeleteIdempotencyKey(ctx context.Context, key, requestHash string) (int64, error)
}

// Record is a stored response.
type Record struct {
	Key         string
	RequestHash string
	Status      int
	Body        []byte
	ContentType string
	ServedBy    string
}

// Store keeps finished responses in Postgres with a Redis read-through cache.
// Redis is optional; every decision is made against Postgres.
type Store struct {
	redis        redis.Cmdable
	keys         KeyStore
	ttl          time.Duration
	pollInterval time.Duration
}

func NewStore(rdb redis.Cmdable, keys KeyStore, ttl time.Duration) *Store {
	return &Store{redis: rdb, keys: keys, ttl: ttl, pollInterval: defaultPollInterval}
}

type cachedRecord struct {
	Hash        string `json:"hash"`
	Status      int    `json:"status"`
	Body        []byte `json:"body"`
	ContentType string `json:"content_type"`
}

// Lookup returns the finished response stored under key.
func (s *Store) Lookup(ctx context.Context, key, requestHash string) (*Record, error) {
	if rec, ok := s.fromCache(ctx, key); ok {
		if rec.RequestHash != requestHash {
			return nil, ErrHashMismatch
		}
		return rec, nil
	}

	row, err := s.keys.GetIdempotencyKey(ctx, key)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lookup idempotency key: %w", err)
	}
	if row.RequestHash != requestHash {
		return nil, ErrHashMismatch
	}
	if row.InProgress {
		return nil, ErrInProgress
	}

	rec := recordFromRow(row, "postgres")
	s.cache(ctx, rec)
	return &rec, nil
}

// Reserve claims key for the current request. It reports false when another request
// already holds it.
func (s *Store) Reserve(ctx context.Context, key, requestHash, method, path string) (bool, error) {
	_, err := s.keys.ReserveIdempotencyKey(ctx, repository.ReserveIdempotencyKeyParams{
		IdempotencyKey: key,
		RequestHash:    requestHash,
		Method:         method,
		Path:           path,
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, pgx.ErrNoRows):
		return false, nil
	default:
		return false, fmt.Errorf("reserve idempotency key: %w", err)
	}
}

// Finalize stores the response for a reserved key.
func (s *Store) Finalize(ctx context.Context, key, requestHash string, status int, body []byte, contentType string) (*Record, error) {
	row, err := s.keys.FinalizeIdempotencyKey(ctx, repository.FinalizeIdempotencyKeyParams{
		ResponseStatus: int32(status),
		ResponseBody:   body,
		ContentType:    contentType,
		IdempotencyKey: key,
		RequestHash:    requestHash,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("finalize idempotency key: %w", err)
	}
	rec := recordFromRow(row, "postgres")
	s.cache(ctx, rec)
	return &rec, nil
}

// Release drops a reservation whose request did not complete, so a retry can run it.
func (s *Store) Release(ctx context.Context, key, requestHash string) error {
	if _, err := s.keys.DeleteIdempotencyKey(ctx, key, requestHash); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

// WaitForCompletion polls until the request holding key finishes or ctx ends.
func (s *Store) WaitForCompletion(ctx context.Context, key, requestHash string) (*Record, error) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		rec, err := s.Lookup(ctx, key, requestHash)
		if !errors.Is(err, ErrInProgress) {
			return rec, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Store) fromCache(ctx context.Context, key string) (*Record, bool) {
	if s.redis == nil {
		return nil, false
	}
	val, err := s.redis.Get(ctx, redisKey(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			zap.L().Warn("redis idempotency lookup failed", zap.Error(err))
		}
		return nil, false
	}
	var c cachedRecord
	if err := json.Unmarshal(val, &c); err != nil {
		return nil, false
	}
	return &Record{
		Key:         key,
		RequestHash: c.Hash,
		Status:      c.Status,
		Body:        c.Body,
		ContentType: c.ContentType,
		ServedBy:    "redis",
	}, true
}

func (s *Store) cache(ctx context.Context, rec Record) {
	if s.redis == nil {
		return
	}
	payload, err := json.Marshal(cachedRecord{
		Hash:        rec.RequestHash,
		Status:      rec.Status,
		Body:        rec.Body,
		ContentType: rec.ContentType,
	})
	if err != nil {
		return
	}
	if err := s.redis.Set(ctx, redisKey(rec.Key), payload, s.ttl).Err(); err != nil {
		zap.L().Warn("redis idempotency cache set failed", zap.Error(err))
	}
}

func recordFromRow(row repository.IdempotencyKey, servedBy string) Record {
	return Record{
		Key:         row.IdempotencyKey,
		RequestHash: row.RequestHash,
		Status:      int(row.ResponseStatus),
		Body:        row.ResponseBody,
		ContentType: row.ContentType,
		ServedBy:    servedBy,
	}
}

func redisKey(key string) string {
	return redisKeyPrefix + ":" + key
}
