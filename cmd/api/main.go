package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/chris-briden/edc-exchange-sub000/internal/config"
	"github.com/chris-briden/edc-exchange-sub000/internal/db"
	"github.com/chris-briden/edc-exchange-sub000/internal/events"
	apphttp "github.com/chris-briden/edc-exchange-sub000/internal/http"
	"github.com/chris-briden/edc-exchange-sub000/internal/http/dto"
	"github.com/chris-briden/edc-exchange-sub000/internal/http/handlers"
	"github.com/chris-briden/edc-exchange-sub000/internal/payments"
	"github.com/chris-briden/edc-exchange-sub000/internal/pricing"
	"github.com/chris-briden/edc-exchange-sub000/internal/repositories"
	"github.com/chris-briden/edc-exchange-sub000/internal/retry"
	"github.com/chris-briden/edc-exchange-sub000/internal/services"
	"github.com/chris-briden/edc-exchange-sub000/internal/shipping"
	"github.com/chris-briden/edc-exchange-sub000/internal/tokencache"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, db.PoolOptions{Name: "exchange-api"}, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	if err := db.RunMigrations(ctx, pool, "migrations", log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Repositories
	txRepo := repositories.NewTransactionRepo(pool)
	shipmentRepo := repositories.NewShipmentRepo(pool)
	listingRepo := repositories.NewListingRepo(pool)
	userRepo := repositories.NewUserRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)

	// Upstreams
	engine, err := pricing.NewEngine(cfg.MarkupRate, cfg.PlatformFeeRate)
	if err != nil {
		log.Fatal("invalid pricing rates", zap.Error(err))
	}
	policy := retry.DefaultPolicy(cfg.UpstreamMaxRetries)
	processor := payments.NewStripeProcessor(cfg.StripeSecretKey, cfg.StripeWebhookSecret, cfg.ExternalTimeout, log)
	labels := shipping.NewClient(shippingConfig(cfg), tokencache.NewRedisCache(rdb), log)
	verifier := shipping.NewVerifier(cfg.ShippingWebhookSecret)
	publisher := events.NewRedisPublisher(rdb, log)

	// Services
	deposits := services.NewDepositService(txRepo, auditRepo, processor, publisher, policy, cfg, log)
	intents := services.NewIntentService(listingRepo, userRepo, processor, engine, policy, cfg, log)
	labelService := services.NewLabelService(txRepo, shipmentRepo, auditRepo, labels, engine, publisher, policy, log)
	webhooks := services.NewWebhookService(txRepo, shipmentRepo, listingRepo, auditRepo, processor, verifier, deposits, publisher, log)
	reads := services.NewTransactionService(txRepo, shipmentRepo, auditRepo)

	app := fiber.New(fiber.Config{
		// signature checks need the raw body, keep it bounded
		BodyLimit: 1 << 20,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(dto.ErrorResponse{Error: err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, apphttp.Handlers{
		Intents:      handlers.NewIntentHandler(intents, log),
		Labels:       handlers.NewLabelHandler(labelService, log),
		Webhooks:     handlers.NewWebhookHandler(webhooks, log),
		Transactions: handlers.NewTransactionHandler(reads, log),
		Admin:        handlers.NewAdminHandler(deposits, log),
	})

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}

func shippingConfig(cfg *config.Config) shipping.Config {
	return shipping.Config{
		BaseURL:           cfg.ShippingAPIURL,
		Token:             cfg.ShippingAPIToken,
		OAuthURL:          cfg.ShippingOAuthURL,
		OAuthClientID:     cfg.ShippingOAuthClientID,
		OAuthClientSecret: cfg.ShippingOAuthClientSecret,
		Timeout:           cfg.ExternalTimeout,
	}
}
