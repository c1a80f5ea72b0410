package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ayo6706/payout-reconciler/internal/api"
	"github.com/ayo6706/payout-reconciler/internal/api/handler"
	"github.com/ayo6706/payout-reconciler/internal/api/middleware"
	"github.com/ayo6706/payout-reconciler/internal/api/problem"
	"github.com/ayo6706/payout-reconciler/internal/domain"
	"github.com/ayo6706/payout-reconciler/internal/gateway"
	"github.com/ayo6706/payout-reconciler/internal/idempotency"
	"github.com/ayo6706/payout-reconciler/internal/models"
	"github.com/ayo6706/payout-reconciler/internal/service"
	"github.com/ayo6706/payout-reconciler/internal/testutil/memstore"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testJWTSecret   = "test-secret-0123456789-test-secret"
	testJWTIssuer   = "payout-reconciler-test"
	testJWTAudience = "payout-admin-test"
	testWebhookKey  = "whsec_test"
)

type testAPI struct {
	handler chi.Router
	store   *memstore.Store
	auth    *middleware.Authenticator
	adminID uuid.UUID
	token   string
}

func setupAPI(t *testing.T, available int64) *testAPI {
	t.Helper()
	store := memstore.New(available, 0, 1_000_000_000)

	gw := gateway.NewMockGateway()
	gw.FailureRate = 0
	gw.MinLatency = 0
	gw.MaxLatency = 0

	engine := service.NewEngine(store, gw, nil, service.EngineConfig{
		BatchSize:      10,
		GatewayTimeout: time.Second,
		ClaimTTL:       time.Minute,
	})
	auth := middleware.NewAuthenticator(testJWTSecret, testJWTIssuer, testJWTAudience)

	router := api.NewRouter(api.Dependencies{
		Auth:        auth,
		Idempotency: idempotency.NewStore(nil, memstore.NewIdempotencyKeys(), time.Hour),
		Payouts:     service.NewPayoutService(store),
		Ledger:      service.NewLedgerService(store, time.UTC),
		Processor:   engine,
		Auditor:     service.NewLedgerAuditService(store),
		Webhooks:    service.NewWebhookService(engine, testWebhookKey, false),
		PublicRPS:   1000,
		AdminRPS:    1000,
	})

	adminID := uuid.New()
	token, err := auth.IssueToken(adminID, middleware.RoleAdmin, time.Hour)
	require.NoError(t, err)

	return &testAPI{handler: router.Routes(), store: store, auth: auth, adminID: adminID, token: token}
}

func (a *testAPI) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case []byte:
		reader = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.token)
	for k, v := range headers {
		if v == "" {
			req.Header.Del(k)
			continue
		}
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	a.handler.ServeHTTP(w, req)
	return w
}

func idemKey() map[string]string {
	return map[string]string{middleware.IdempotencyHeader: uuid.NewString()}
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func createPayoutBody(amount int64) map[string]any {
	return map[string]any{
		"amount":        amount,
		"crypto_amount": "12.5",
		"crypto_asset":  "usdt",
		"bank": map[string]any{
			"account_number": "0123456789",
			"bank_code":      "058",
			"account_name":   "Ada Obi",
		},
	}
}

func TestRFC7807ProblemDetails(t *testing.T) {
	a := setupAPI(t, 0)

	w := a.do(t, http.MethodGet, "/v1/ledger", nil, map[string]string{"Authorization": ""})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Contains(t, w.Header().Get("Content-Type"), "application/problem+json")

	body := decode[map[string]any](t, w)
	assert.NotEmpty(t, body["type"])
	assert.Equal(t, float64(http.StatusUnauthorized), body["status"])
	assert.NotEmpty(t, body["title"])
	assert.NotEmpty(t, body["detail"])
	assert.Equal(t, "/v1/ledger", body["instance"])
	assert.NotEmpty(t, body["request_id"])
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	a := setupAPI(t, 0)

	viewer, err := a.auth.IssueToken(uuid.New(), "viewer", time.Hour)
	require.NoError(t, err)
	w := a.do(t, http.MethodGet, "/v1/ledger", nil, map[string]string{"Authorization": "Bearer " + viewer})
	require.Equal(t, http.StatusForbidden, w.Code)

	other := middleware.NewAuthenticator("another-secret-0123456789-another", testJWTIssuer, testJWTAudience)
	forged, err := other.IssueToken(uuid.New(), middleware.RoleAdmin, time.Hour)
	require.NoError(t, err)
	w = a.do(t, http.MethodGet, "/v1/ledger", nil, map[string]string{"Authorization": "Bearer " + forged})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	expired, err := a.auth.IssueToken(uuid.New(), middleware.RoleAdmin, -time.Hour)
	require.NoError(t, err)
	w = a.do(t, http.MethodGet, "/v1/ledger", nil, map[string]string{"Authorization": "Bearer " + expired})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = a.do(t, http.MethodGet, "/v1/ledger", nil, map[string]string{"Authorization": a.token})
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateAndGetPayout(t *testing.T) {
	a := setupAPI(t, 0)

	w := a.do(t, http.MethodPost, "/v1/payouts", createPayoutBody(50_000), idemKey())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[models.Payout](t, w)
	require.Equal(t, domain.PayoutStatusPending, created.Status)
	require.Equal(t, "USDT", created.CryptoAsset)
	require.Equal(t, a.adminID.String(), created.Metadata["requested_by"])

	w = a.do(t, http.MethodGet, "/v1/payouts/"+created.ID.String(), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[models.Payout](t, w)
	require.Equal(t, created.ID, got.ID)
	require.Equal(t, int64(50_000), got.Amount)

	w = a.do(t, http.MethodGet, "/v1/payouts/"+uuid.NewString(), nil, nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = a.do(t, http.MethodGet, "/v1/payouts/not-a-uuid", nil, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreatePayoutValidation(t *testing.T) {
	a := setupAPI(t, 0)

	cases := []struct {
		name string
		body any
	}{
		{name: "zero_amount", body: createPayoutBody(0)},
		{name: "negative_amount", body: createPayoutBody(-5)},
		{name: "short_account", body: map[string]any{
			"amount": 100,
			"bank":   map[string]any{"account_number": "123", "bank_code": "058", "account_name": "A"},
		}},
		{name: "unknown_field", body: map[string]any{"amount": 100, "currency": "NGN"}},
		{name: "malformed", body: []byte(`{"amount":`)},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			w := a.do(t, http.MethodPost, "/v1/payouts", tc.body, idemKey())
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

func TestCreatePayoutValidationListsFields(t *testing.T) {
	a := setupAPI(t, 0)
	body := createPayoutBody(100)
	body["bank"] = map[string]any{"account_number": "123", "bank_code": "GTB", "account_name": "Ada Obi"}

	w := a.do(t, http.MethodPost, "/v1/payouts", body, idemKey())
	require.Equal(t, http.StatusBadRequest, w.Code)

	p := decode[problem.Details](t, w)
	require.Equal(t, problem.Type("request/validation-failed"), p.Type)
	require.ElementsMatch(t, []problem.InvalidParam{
		{Name: "bank.account_number", Reason: "len=10"},
		{Name: "bank.bank_code", Reason: "numeric"},
	}, p.InvalidParams)
}

func TestIdempotencyKeyReplay(t *testing.T) {
	a := setupAPI(t, 0)
	headers := idemKey()

	first := a.do(t, http.MethodPost, "/v1/payouts", createPayoutBody(1_000), headers)
	require.Equal(t, http.StatusCreated, first.Code)
	second := a.do(t, http.MethodPost, "/v1/payouts", createPayoutBody(1_000), headers)
	require.Equal(t, http.StatusCreated, second.Code)
	require.NotEmpty(t, second.Header().Get("X-Idempotent-Replay"))
	require.JSONEq(t, first.Body.String(), second.Body.String())

	w := a.do(t, http.MethodGet, "/v1/payouts", nil, nil)
	require.Equal(t, float64(1), decode[map[string]any](t, w)["count"])

	conflict := a.do(t, http.MethodPost, "/v1/payouts", createPayoutBody(2_000), headers)
	require.Equal(t, http.StatusConflict, conflict.Code)

	missing := a.do(t, http.MethodPost, "/v1/payouts", createPayoutBody(2_000), nil)
	require.Equal(t, http.StatusBadRequest, missing.Code)
}

func TestIdempotencyKeysAreScopedPerAdmin(t *testing.T) {
	a := setupAPI(t, 0)
	headers := idemKey()

	w := a.do(t, http.MethodPost, "/v1/payouts", createPayoutBody(1_000), headers)
	require.Equal(t, http.StatusCreated, w.Code)

	otherToken, err := a.auth.IssueToken(uuid.New(), middleware.RoleAdmin, time.Hour)
	require.NoError(t, err)
	headers["Authorization"] = "Bearer " + otherToken
	w = a.do(t, http.MethodPost, "/v1/payouts", createPayoutBody(2_000), headers)
	require.Equal(t, http.StatusCreated, w.Code)
	require.Empty(t, w.Header().Get("X-Idempotent-Replay"))
}

func TestListPayoutsFiltersByStatus(t *testing.T) {
	a := setupAPI(t, 0)
	now := time.Now()
	pendingID := a.store.Seed(1_000, now.Add(-2*time.Minute))
	rejectID := a.store.Seed(2_000, now.Add(-time.Minute))

	w := a.do(t, http.MethodPost, "/v1/payouts/"+rejectID.String()+"/reject", map[string]string{"reason": "duplicate"}, idemKey())
	require.Equal(t, http.StatusOK, w.Code)

	w = a.do(t, http.MethodGet, "/v1/payouts?status=pending", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[struct {
		Items []models.Payout `json:"items"`
	}](t, w)
	require.Len(t, page.Items, 1)
	require.Equal(t, pendingID, page.Items[0].ID)

	w = a.do(t, http.MethodGet, "/v1/payouts?status=bogus", nil, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(t, http.MethodGet, "/v1/payouts?limit=-1", nil, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRejectPayout(t *testing.T) {
	a := setupAPI(t, 10_000)
	id := a.store.Seed(1_000, time.Now())

	w := a.do(t, http.MethodPost, "/v1/payouts/"+id.String()+"/reject", nil, idemKey())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	rejected := decode[models.Payout](t, w)
	require.Equal(t, domain.PayoutStatusFailed, rejected.Status)
	require.Equal(t, domain.FailureRejectedByAdmin, *rejected.FailureReason)

	w = a.do(t, http.MethodPost, "/v1/payouts/"+id.String()+"/reject", nil, idemKey())
	require.Equal(t, http.StatusConflict, w.Code)

	ledger := a.store.Ledger()
	require.Equal(t, int64(10_000), ledger.Available)
}

func TestProcessBatchAndReconcileThroughWebhook(t *testing.T) {
	a := setupAPI(t, 10_000)
	now := time.Now()
	first := a.store.Seed(3_000, now.Add(-2*time.Minute))
	second := a.store.Seed(4_000, now.Add(-time.Minute))

	w := a.do(t, http.MethodPost, "/v1/payouts/process", nil, idemKey())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	result := decode[models.BatchResult](t, w)
	require.Equal(t, 2, result.Processed)
	require.Equal(t, int64(7_000), result.ProcessedAmount)

	w = a.do(t, http.MethodGet, "/v1/ledger", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	snapshot := decode[models.LedgerSnapshot](t, w)
	require.Equal(t, int64(3_000), snapshot.Available)
	require.Equal(t, int64(7_000), snapshot.TodayAutoVolume)

	firstRef := *a.store.Payout(first).Reference
	secondRef := *a.store.Payout(second).Reference

	w = sendWebhook(t, a, "transfer.success", firstRef, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.True(t, decode[models.CallbackResult](t, w).Applied)

	w = sendWebhook(t, a, "transfer.failed", secondRef, "account closed")
	require.Equal(t, http.StatusOK, w.Code)

	// A replayed delivery is acknowledged without a second refund.
	w = sendWebhook(t, a, "transfer.failed", secondRef, "account closed")
	require.Equal(t, http.StatusOK, w.Code)
	require.False(t, decode[models.CallbackResult](t, w).Applied)

	require.Equal(t, domain.PayoutStatusCompleted, a.store.Payout(first).Status)
	require.Equal(t, domain.PayoutStatusFailed, a.store.Payout(second).Status)
	require.Equal(t, int64(7_000), a.store.Ledger().Available)

	w = a.do(t, http.MethodGet, "/v1/ledger/audit", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, decode[map[string]any](t, w)["balanced"])

	w = a.do(t, http.MethodGet, "/v1/payouts/"+second.String()+"/audit", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	trail := decode[struct {
		Items []models.AuditLog `json:"items"`
	}](t, w)
	require.NotEmpty(t, trail.Items)
	require.Equal(t, "transfer_failed", trail.Items[len(trail.Items)-1].Action)
}

func TestProcessSinglePayout(t *testing.T) {
	a := setupAPI(t, 5_000)
	id := a.store.Seed(4_000, time.Now())
	tooLarge := a.store.Seed(9_000, time.Now())

	w := a.do(t, http.MethodPost, "/v1/ledger/auto-processing", map[string]any{"enabled": false}, idemKey())
	require.Equal(t, http.StatusOK, w.Code)

	w = a.do(t, http.MethodPost, "/v1/payouts/"+id.String()+"/process", nil, idemKey())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	result := decode[models.ProcessResult](t, w)
	require.True(t, result.Success)
	require.NotEmpty(t, result.Reference)

	p := a.store.Payout(id)
	require.Equal(t, domain.PayoutStatusProcessing, p.Status)
	require.Equal(t, domain.ModeManual, *p.ProcessingMode)

	w = a.do(t, http.MethodPost, "/v1/payouts/"+tooLarge.String()+"/process", nil, idemKey())
	require.Equal(t, http.StatusOK, w.Code)
	result = decode[models.ProcessResult](t, w)
	require.False(t, result.Success)
	require.Equal(t, domain.ErrInsufficientFunds.Error(), result.FailureReason)
	require.Equal(t, domain.PayoutStatusPending, a.store.Payout(tooLarge).Status)

	w = a.do(t, http.MethodPost, "/v1/payouts/"+uuid.NewString()+"/process", nil, idemKey())
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestLedgerAdministration(t *testing.T) {
	a := setupAPI(t, 1_000)

	w := a.do(t, http.MethodPut, "/v1/ledger/guardrails", map[string]any{"minimum_reserve": 500, "daily_cap": 20_000}, idemKey())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	ledger := decode[models.Ledger](t, w)
	require.Equal(t, int64(500), ledger.MinimumReserve)
	require.Equal(t, int64(20_000), ledger.DailyCap)

	w = a.do(t, http.MethodPut, "/v1/ledger/guardrails", map[string]any{"daily_cap": -1}, idemKey())
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(t, http.MethodPost, "/v1/ledger/deposits", map[string]any{"amount": 2_500, "note": "treasury top-up"}, idemKey())
	require.Equal(t, http.StatusCreated, w.Code)
	require.Equal(t, int64(3_500), decode[models.Ledger](t, w).Available)

	w = a.do(t, http.MethodPost, "/v1/ledger/deposits", map[string]any{"amount": 0}, idemKey())
	require.Equal(t, http.StatusBadRequest, w.Code)

	// An empty body toggles the switch.
	w = a.do(t, http.MethodPost, "/v1/ledger/auto-processing", nil, idemKey())
	require.Equal(t, http.StatusOK, w.Code)
	require.False(t, decode[models.Ledger](t, w).AutoProcessingEnabled)

	w = a.do(t, http.MethodPost, "/v1/payouts/process", nil, idemKey())
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, domain.ReasonDisabled, decode[models.BatchResult](t, w).Reason)
}

func TestLedgerAuditReportsDrift(t *testing.T) {
	a := setupAPI(t, 1_000)
	ledger := a.store.Ledger()
	ledger.Available = 900
	a.store.SetLedger(ledger)

	w := a.do(t, http.MethodGet, "/v1/ledger/audit", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	report := decode[struct {
		Balanced      bool                  `json:"balanced"`
		Discrepancies []service.Discrepancy `json:"discrepancies"`
	}](t, w)
	require.False(t, report.Balanced)
	require.Len(t, report.Discrepancies, 1)
	require.Equal(t, service.CheckBalance, report.Discrepancies[0].Check)
}

func sendWebhook(t *testing.T, a *testAPI, event, reference, reason string) *httptest.ResponseRecorder {
	t.Helper()
	body := []byte(fmt.Sprintf(`{"event":%q,"data":{"reference":%q,"reason":%q}}`, event, reference, reason))
	return a.do(t, http.MethodPost, "/v1/webhooks/transfer", body, map[string]string{
		"Authorization":         "",
		handler.SignatureHeader: service.SignHex([]byte(testWebhookKey), body),
	})
}

func TestTransferWebhookErrors(t *testing.T) {
	a := setupAPI(t, 10_000)
	body := []byte(`{"event":"transfer.success","data":{"reference":"TP-AUTO-missing"}}`)

	cases := []struct {
		name      string
		body      []byte
		signature string
		status    int
	}{
		{name: "missing_signature", body: body, signature: "", status: http.StatusUnauthorized},
		{name: "bad_signature", body: body, signature: "deadbeef", status: http.StatusUnauthorized},
		{name: "unknown_reference", body: body, signature: service.SignHex([]byte(testWebhookKey), body), status: http.StatusOK},
		{name: "missing_reference", body: []byte(`{"event":"transfer.success","data":{}}`), status: http.StatusBadRequest},
		{name: "ignored_event", body: []byte(`{"event":"charge.success","data":{}}`), status: http.StatusOK},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			sig := tc.signature
			if sig == "" && tc.status != http.StatusUnauthorized {
				sig = service.SignHex([]byte(testWebhookKey), tc.body)
			}
			headers := map[string]string{"Authorization": ""}
			if sig != "" {
				headers[handler.SignatureHeader] = sig
			}
			w := a.do(t, http.MethodPost, "/v1/webhooks/transfer", tc.body, headers)
			assert.Equal(t, tc.status, w.Code, w.Body.String())
		})
	}
}

func TestHealthAndDocs(t *testing.T) {
	a := setupAPI(t, 0)

	cases := []struct {
		name string
		path string
	}{
		{name: "live", path: "/health/live"},
		{name: "ready", path: "/health/ready"},
		{name: "metrics", path: "/metrics"},
		{name: "openapi", path: "/openapi.yaml"},
		{name: "swagger", path: "/swagger/index.html"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			w := a.do(t, http.MethodGet, tc.path, nil, map[string]string{"Authorization": ""})
			assert.Equal(t, http.StatusOK, w.Code)
		})
	}
}
