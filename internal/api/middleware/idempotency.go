package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"

	"github.com/ayo6706/payout-reconciler/internal/api/problem"
	"github.com/ayo6706/payout-reconciler/internal/idempotency"
	"github.com/ayo6706/payout-reconciler/internal/observability"
	"go.uber.org/zap"
)

const IdempotencyHeader = "Idempotency-Key"

// Idempotency enforces the Idempotency-Key contract on the routes it wraps. Keys are
// scoped to the authenticated admin, so two operators never collide on the same key.
// A response with a 5xx status, or a handler panic, is not stored and the key may be retried.
func Idempotency(store *idempotency.Store, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if store == nil {
				next.ServeHTTP(w, r)
				return
			}

			rawKey := r.Header.Get(IdempotencyHeader)
			if rawKey == "" {
				observability.IncrementIdempotencyEvent("missing_key")
				problem.Write(w, r, http.StatusBadRequest, problem.Type("idempotency/missing-key"), "", "Idempotency-Key header is required")
				return
			}
			key := scopedKey(r.Context(), rawKey)

			bodyBytes, err := io.ReadAll(r.Body)
			if err != nil {
				problem.Write(w, r, http.StatusBadRequest, problem.Type("request/invalid-body"), "", "Failed to read request body")
				return
			}
			_ = r.Body.Close()
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))

			reqHash := hashRequest(r.Method, r.URL.Path, bodyBytes)
			rec, err := store.Lookup(r.Context(), key, reqHash)
			switch {
			case err == nil:
				observability.IncrementIdempotencyEvent("replay")
				respondFromRecord(w, rec)
				return
			case errors.Is(err, idempotency.ErrHashMismatch):
				observability.IncrementIdempotencyEvent("hash_mismatch")
				problem.Write(w, r, http.StatusConflict, problem.Type("idempotency/key-conflict"), "", "conflicting idempotency key")
				return
			case errors.Is(err, idempotency.ErrInProgress):
				waitAndReplay(w, r, store, logger, key, reqHash, "replay_after_wait")
				return
			case !errors.Is(err, idempotency.ErrNotFound):
				observability.IncrementIdempotencyEvent("lookup_error")
				logger.Warn("idempotency lookup failed", zap.Error(err))
			}

			reserved, err := store.Reserve(r.Context(), key, reqHash, r.Method, r.URL.Path)
			if err != nil {
				observability.IncrementIdempotencyEvent("reserve_error")
				logger.Error("idempotency reserve failed", zap.Error(err))
				problem.Write(w, r, http.StatusInternalServerError, problem.Type("idempotency/unavailable"), "", "idempotency unavailable")
				return
			}
			if !reserved {
				waitAndReplay(w, r, store, logger, key, reqHash, "replay_after_reserve")
				return
			}
			observability.IncrementIdempotencyEvent("reserved")

			// The request outlives neither the handler nor the stored outcome.
			ctx := context.WithoutCancel(r.Context())
			release := func() {
				if err := store.Release(ctx, key, reqHash); err != nil {
					logger.Warn("idempotency release failed", zap.Error(err), zap.String("key", rawKey))
				}
				observability.IncrementIdempotencyEvent("released")
			}

			recorder := &bodyRecorder{ResponseWriter: w}
			func() {
				defer func() {
					if rec := recover(); rec != nil {
						release()
						panic(rec)
					}
				}()
				next.ServeHTTP(recorder, r)
			}()
			if recorder.status == 0 {
				recorder.status = http.StatusOK
			}

			if recorder.status >= http.StatusInternalServerError {
				release()
				return
			}

			contentType := recorder.Header().Get("Content-Type")
			if contentType == "" {
				contentType = "application/json"
			}
			if _, err := store.Finalize(ctx, key, reqHash, recorder.status, recorder.body.Bytes(), contentType); err != nil {
				observability.IncrementIdempotencyEvent("finalize_error")
				logger.Warn("idempotency finalize failed", zap.Error(err), zap.String("key", rawKey))
				return
			}
			observability.IncrementIdempotencyEvent("finalized")
		})
	}
}

func waitAndReplay(w http.ResponseWriter, r *http.Request, store *idempotency.Store, logger *zap.Logger, key, reqHash, outcome string) {
	rec, err := store.WaitForCompletion(r.Context(), key, reqHash)
	if err == nil {
		observability.IncrementIdempotencyEvent(outcome)
		respondFromRecord(w, rec)
		return
	}
	observability.IncrementIdempotencyEvent("in_progress_conflict")
	logger.Warn("idempotency wait failed", zap.Error(err))
	problem.Write(w, r, http.StatusConflict, problem.Type("idempotency/in-progress"), "", "idempotency processing")
}

func scopedKey(ctx context.Context, key string) string {
	if adminID, ok := AdminIDFromContext(ctx); ok {
		return adminID.String() + ":" + key
	}
	return key
}

func hashRequest(method, path string, body []byte) string {
	sum := sha256.Sum256(append([]byte(method+"|"+path+"|"), body...))
	return hex.EncodeToString(sum[:])
}

type bodyRecorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (br *bodyRecorder) WriteHeader(code int) {
	br.status = code
	br.ResponseWriter.WriteHeader(code)
}

func (br *bodyRecorder) Write(b []byte) (int, error) {
	if br.status == 0 {
		br.status = http.StatusOK
	}
	br.body.Write(b)
	return br.ResponseWriter.Write(b)
}

func respondFromRecord(w http.ResponseWriter, rec *idempotency.Record) {
	w.Header().Set("Content-Type", rec.ContentType)
	w.Header().Set("X-Idempotent-Replay", rec.ServedBy)
	w.WriteHeader(rec.Status)
	_, _ = w.Write(rec.Body)
}
