package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ayo6706/payout-reconciler/internal/idempotency"
	"github.com/ayo6706/payout-reconciler/internal/testutil/memstore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTraceMiddlewareReplacesOversizedIDs(t *testing.T) {
	var seen string
	h := TraceMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = TraceIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Trace-ID", "abc-123")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, "abc-123", seen)
	require.Equal(t, "abc-123", w.Header().Get("X-Trace-ID"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Trace-ID", strings.Repeat("x", maxTraceIDLength+1))
	h.ServeHTTP(httptest.NewRecorder(), req)
	_, err := uuid.Parse(seen)
	require.NoError(t, err)
}

func TestRecoverMiddlewareWritesProblem(t *testing.T) {
	h := RecoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/payouts/process", nil))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Contains(t, w.Header().Get("Content-Type"), "application/problem+json")
}

func TestRecoverMiddlewareKeepsStartedResponse(t *testing.T) {
	h := RecoverMiddleware(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		panic("late")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/ledger", nil))

	require.Equal(t, http.StatusAccepted, w.Code)
	require.Empty(t, w.Body.String())
}

func TestRecoverMiddlewareRepanicsAbort(t *testing.T) {
	h := RecoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	require.PanicsWithError(t, http.ErrAbortHandler.Error(), func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestIdempotencyReleasesKeyOnServerError(t *testing.T) {
	store := idempotency.NewStore(nil, memstore.NewIdempotencyKeys(), time.Hour)
	var calls atomic.Int32
	status := http.StatusServiceUnavailable
	h := Idempotency(store, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(status)
	}))

	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/v1/payouts/process", strings.NewReader(`{}`))
		req.Header.Set(IdempotencyHeader, "batch-1")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w.Code
	}

	require.Equal(t, http.StatusServiceUnavailable, send())
	status = http.StatusOK
	require.Equal(t, http.StatusOK, send())
	require.Equal(t, http.StatusOK, send())
	require.Equal(t, int32(2), calls.Load())
}

func TestIdempotencyReleasesKeyWhenHandlerPanics(t *testing.T) {
	store := idempotency.NewStore(nil, memstore.NewIdempotencyKeys(), time.Hour)
	var calls atomic.Int32
	h := RecoverMiddleware(zap.NewNop())(Idempotency(store, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			panic("ledger row vanished")
		}
		w.WriteHeader(http.StatusCreated)
	})))

	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/v1/ledger/deposits", strings.NewReader(`{"amount":100}`))
		req.Header.Set(IdempotencyHeader, "deposit-1")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w.Code
	}

	require.Equal(t, http.StatusInternalServerError, send())
	require.Equal(t, http.StatusCreated, send())
	require.Equal(t, int32(2), calls.Load())
}
