package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chris-briden/edc-exchange-sub000/internal/config"
	"github.com/chris-briden/edc-exchange-sub000/internal/db"
	"github.com/chris-briden/edc-exchange-sub000/internal/events"
	"github.com/chris-briden/edc-exchange-sub000/internal/payments"
	"github.com/chris-briden/edc-exchange-sub000/internal/repositories"
	"github.com/chris-briden/edc-exchange-sub000/internal/retry"
	"github.com/chris-briden/edc-exchange-sub000/internal/services"
	"github.com/chris-briden/edc-exchange-sub000/internal/shipping"
	"github.com/chris-briden/edc-exchange-sub000/internal/tokencache"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisCursorKey = "tracking-poller:cursor"

// redisCursor keeps the poller's position across restarts.
type redisCursor struct {
	rdb *redis.Client
}

func (c redisCursor) Load(ctx context.Context) (uuid.UUID, error) {
	s, err := c.rdb.Get(ctx, redisCursorKey).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, nil
	}
	if err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.Parse(s)
	if err != nil {
		// corrupt cursor, restart the pass
		return uuid.Nil, nil
	}
	return id, nil
}

func (c redisCursor) Save(ctx context.Context, after uuid.UUID) error {
	return c.rdb.Set(ctx, redisCursorKey, after.String(), 0).Err()
}

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, db.PoolOptions{Name: "exchange-tracking-poller", MaxConns: 5, MinConns: 1}, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	txRepo := repositories.NewTransactionRepo(pool)
	shipmentRepo := repositories.NewShipmentRepo(pool)
	listingRepo := repositories.NewListingRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)

	policy := retry.DefaultPolicy(cfg.UpstreamMaxRetries)
	publisher := events.NewRedisPublisher(rdb, log)
	processor := payments.NewStripeProcessor(cfg.StripeSecretKey, cfg.StripeWebhookSecret, cfg.ExternalTimeout, log)
	labels := shipping.NewClient(shipping.Config{
		BaseURL:           cfg.ShippingAPIURL,
		Token:             cfg.ShippingAPIToken,
		OAuthURL:          cfg.ShippingOAuthURL,
		OAuthClientID:     cfg.ShippingOAuthClientID,
		OAuthClientSecret: cfg.ShippingOAuthClientSecret,
		Timeout:           cfg.ExternalTimeout,
	}, tokencache.NewRedisCache(rdb), log)

	deposits := services.NewDepositService(txRepo, auditRepo, processor, publisher, policy, cfg, log)
	webhooks := services.NewWebhookService(txRepo, shipmentRepo, listingRepo, auditRepo, processor,
		shipping.NewVerifier(cfg.ShippingWebhookSecret), deposits, publisher, log)
	poller := services.NewTrackingPoller(shipmentRepo, labels, webhooks, redisCursor{rdb: rdb}, log)

	log.Info("tracking poller started", zap.Duration("interval", cfg.TrackingPollInterval))

	ticker := time.NewTicker(cfg.TrackingPollInterval)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			res, err := poller.PollAll(ctx)
			if err != nil {
				log.Error("poll cycle failed", zap.Error(err))
				continue
			}
			log.Info("poll cycle finished",
				zap.Int("polled", res.Polled),
				zap.Int("applied", res.Applied),
				zap.Int("failed", res.Failed))
		case <-sigCh:
			log.Info("shutting down tracking poller")
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}
