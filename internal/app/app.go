package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ayo6706/payout-reconciler/internal/api"
	"github.com/ayo6706/payout-reconciler/internal/api/middleware"
	"github.com/ayo6706/payout-reconciler/internal/config"
	"github.com/ayo6706/payout-reconciler/internal/observability"
	"github.com/ayo6706/payout-reconciler/internal/worker"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

// Run bootstraps the HTTP server, the payout scheduler and the ledger audit worker,
// blocking until a shutdown signal or a fatal error.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := NewLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)
	observability.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svcs, err := NewServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer svcs.Close()

	var cache redis.Cmdable
	if svcs.Redis != nil {
		cache = svcs.Redis
	}
	router := api.NewRouter(api.Dependencies{
		Logger:      logger,
		Auth:        middleware.NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience),
		DB:          svcs.Pool,
		Redis:       cache,
		Idempotency: svcs.Idempotency,
		Payouts:     svcs.Payouts,
		Ledger:      svcs.Ledger,
		Processor:   svcs.Engine,
		Auditor:     svcs.Auditor,
		Webhooks:    svcs.Webhooks,
		PublicRPS:   cfg.PublicRateLimitRPS,
		AdminRPS:    cfg.AdminRateLimitRPS,
	})
	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// A manual batch runs synchronously and may make several gateway calls.
		WriteTimeout: time.Duration(cfg.PayoutBatchSize)*3*cfg.GatewayTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if cfg.AutoProcessingEnabled {
		scheduler := worker.NewPayoutScheduler(svcs.Engine).
			WithInterval(cfg.AutoProcessInterval).
			WithStartDelay(cfg.AutoProcessStartDelay)
		g.Go(func() error {
			scheduler.Start(gctx)
			return nil
		})
	} else {
		logger.Warn("automatic payout scheduler disabled by configuration")
	}

	auditWorker := worker.NewLedgerAuditWorker(svcs.Auditor).WithInterval(cfg.LedgerAuditInterval)
	g.Go(func() error {
		auditWorker.Start(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown failed", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
