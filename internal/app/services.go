package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ayo6706/payout-reconciler/internal/config"
	"github.com/ayo6706/payout-reconciler/internal/db"
	"github.com/ayo6706/payout-reconciler/internal/domain"
	"github.com/ayo6706/payout-reconciler/internal/events"
	"github.com/ayo6706/payout-reconciler/internal/gateway"
	"github.com/ayo6706/payout-reconciler/internal/idempotency"
	"github.com/ayo6706/payout-reconciler/internal/models"
	"github.com/ayo6706/payout-reconciler/internal/repository"
	"github.com/ayo6706/payout-reconciler/internal/service"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const mockGatewaySource = "mock_gateway"

// Services holds the wired engine and its collaborators. It is shared by the API
// server and the payoutctl CLI.
type Services struct {
	Pool        *pgxpool.Pool
	Redis       *redis.Client
	Publisher   events.Publisher
	Gateway     *gateway.MockGateway
	Engine      *service.Engine
	Payouts     *service.PayoutService
	Ledger      *service.LedgerService
	Auditor     *service.LedgerAuditService
	Webhooks    *service.WebhookService
	Idempotency *idempotency.Store
}

// NewServices connects to Postgres (applying migrations), Redis and NATS when
// configured, and builds the services. Close releases every connection.
func NewServices(ctx context.Context, cfg *config.Config) (*Services, error) {
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := db.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	s := &Services{Pool: pool, Publisher: events.NopPublisher{}}

	if cfg.RedisURL != "" {
		s.Redis, err = newRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
	}
	if cfg.NATSURL != "" {
		publisher, err := events.Connect(events.Config{URL: cfg.NATSURL})
		if err != nil {
			s.Close()
			return nil, err
		}
		s.Publisher = publisher
	}

	store := repository.NewStore(pool)

	s.Gateway = gateway.NewMockGateway()
	s.Gateway.FailureRate = cfg.MockGatewayFailureRate
	s.Gateway.SettleDelay = cfg.MockGatewaySettleDelay

	s.Engine = service.NewEngine(store, s.Gateway, s.Publisher, service.EngineConfig{
		BatchSize:       cfg.PayoutBatchSize,
		GatewayTimeout:  cfg.GatewayTimeout,
		ClaimTTL:        cfg.ClaimTTL,
		ReferencePrefix: cfg.ReferencePrefix,
		Location:        cfg.LedgerLocation,
	})
	s.Gateway.OnSettle(settleHandler(s.Engine))

	s.Payouts = service.NewPayoutService(store)
	s.Ledger = service.NewLedgerService(store, cfg.LedgerLocation)
	s.Auditor = service.NewLedgerAuditService(store)
	s.Webhooks = service.NewWebhookService(s.Engine, cfg.WebhookSecret, cfg.WebhookSkipSignature)

	var cache redis.Cmdable
	if s.Redis != nil {
		cache = s.Redis
	}
	s.Idempotency = idempotency.NewStore(cache, store.Queries(), cfg.IdempotencyTTL)
	return s, nil
}

// Close waits for pending mock settlements and releases connections.
func (s *Services) Close() {
	if s.Gateway != nil {
		s.Gateway.Wait()
	}
	if s.Publisher != nil {
		s.Publisher.Close()
	}
	if s.Redis != nil {
		_ = s.Redis.Close()
	}
	if s.Pool != nil {
		s.Pool.Close()
	}
}

// settleHandler feeds mock gateway settlements through the same reconciliation path
// as signed webhooks. Errors are returned so the gateway redelivers, the way a provider
// retries a webhook that was not acknowledged.
func settleHandler(engine *service.Engine) gateway.SettleFunc {
	return func(ctx context.Context, evt gateway.Event) error {
		amount := evt.Amount
		result, err := engine.ReconcileCallback(ctx, models.TransferEvent{
			Kind:      evt.Kind,
			Reference: evt.Reference,
			Amount:    &amount,
			Reason:    evt.Reason,
			Source:    mockGatewaySource,
		})
		if err != nil {
			level := zap.ErrorLevel
			if errors.Is(err, domain.ErrTransferNotFinalized) {
				level = zap.DebugLevel
			}
			zap.L().Check(level, "mock settlement not applied").Write(
				zap.String("reference", evt.Reference),
				zap.String("kind", string(evt.Kind)),
				zap.Error(err))
			return err
		}
		zap.L().Debug("mock settlement reconciled",
			zap.String("reference", evt.Reference),
			zap.Bool("applied", result.Applied))
		return nil
	}
}

func newRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// NewLogger builds the production zap logger at the given level.
func NewLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}
