package api

import (
	"github.com/ayo6706/payout-reconciler/internal/api/handler"
	"github.com/ayo6706/payout-reconciler/internal/api/middleware"
	"github.com/ayo6706/payout-reconciler/internal/api/spec"
	"github.com/ayo6706/payout-reconciler/internal/idempotency"
	"github.com/ayo6706/payout-reconciler/internal/service"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

// Dependencies are the collaborators the HTTP layer needs. Redis may be nil.
type Dependencies struct {
	Logger      *zap.Logger
	Auth        *middleware.Authenticator
	DB          handler.Pinger
	Redis       redis.Cmdable
	Idempotency *idempotency.Store
	Payouts     *service.PayoutService
	Ledger      *service.LedgerService
	Processor   handler.PayoutProcessor
	Auditor     handler.LedgerAuditor
	Webhooks    *service.WebhookService
	PublicRPS   int
	AdminRPS    int
}

type Router struct {
	deps Dependencies
}

func NewRouter(deps Dependencies) *Router {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Router{deps: deps}
}

func (api *Router) Routes() chi.Router {
	d := api.deps
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.LoggingMiddleware(d.Logger))
	r.Use(middleware.MetricsMiddleware)
	r.Use(middleware.RecoverMiddleware(d.Logger))

	healthHandler := handler.NewHealthHandler(d.DB, d.Redis)
	payoutHandler := handler.NewPayoutHandler(d.Payouts, d.Processor)
	ledgerHandler := handler.NewLedgerHandler(d.Ledger, d.Auditor)
	webhookHandler := handler.NewWebhookHandler(d.Webhooks)
	idempotent := middleware.Idempotency(d.Idempotency, d.Logger)

	// Public routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(d.PublicRPS))
		r.Get("/health/live", healthHandler.Live)
		r.Get("/health/ready", healthHandler.Ready)
		r.Handle("/metrics", promhttp.Handler())
		r.Get("/openapi.yaml", spec.OpenAPIHandler())
		r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))

		// Authenticated by HMAC signature instead of a bearer token.
		r.Post("/v1/webhooks/transfer", webhookHandler.HandleTransferWebhook)
	})

	// Admin routes
	r.Group(func(r chi.Router) {
		r.Use(d.Auth.Middleware)
		r.Use(middleware.RequireRole(middleware.RoleAdmin))
		r.Use(middleware.AdminRateLimiter(d.AdminRPS))

		r.Get("/v1/payouts", payoutHandler.ListPayouts)
		r.Get("/v1/payouts/{id}", payoutHandler.GetPayout)
		r.Get("/v1/payouts/{id}/audit", payoutHandler.GetPayoutAudit)
		r.Get("/v1/ledger", ledgerHandler.GetLedger)
		r.Get("/v1/ledger/audit", ledgerHandler.AuditLedger)

		r.Group(func(r chi.Router) {
			r.Use(idempotent)
			r.Post("/v1/payouts", payoutHandler.CreatePayout)
			r.Post("/v1/payouts/process", payoutHandler.ProcessBatch)
			r.Post("/v1/payouts/{id}/process", payoutHandler.ProcessPayout)
			r.Post("/v1/payouts/{id}/reject", payoutHandler.RejectPayout)
			r.Put("/v1/ledger/guardrails", ledgerHandler.UpdateGuardrails)
			r.Post("/v1/ledger/auto-processing", ledgerHandler.SetAutoProcessing)
			r.Post("/v1/ledger/deposits", ledgerHandler.Deposit)
		})
	})

	return r
}
