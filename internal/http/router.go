package http

import (
	"time"

	"github.com/chris-briden/edc-exchange-sub000/internal/config"
	"github.com/chris-briden/edc-exchange-sub000/internal/http/handlers"
	"github.com/chris-briden/edc-exchange-sub000/internal/middleware"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Handlers struct {
	Intents      *handlers.IntentHandler
	Labels       *handlers.LabelHandler
	Webhooks     *handlers.WebhookHandler
	Transactions *handlers.TransactionHandler
	Admin        *handlers.AdminHandler
}

func SetupRouter(app *fiber.App, cfg *config.Config, log *zap.Logger, rdb *redis.Client, h Handlers) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))
	app.Use(middleware.MetricsMiddleware())

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api/v1")

	// Webhooks authenticate by signature and sit outside the rate limit.
	api.Post("/payment-webhook", h.Webhooks.Payment)
	api.Post("/shipment-webhook", h.Webhooks.Shipment)

	if rdb != nil {
		api.Use(middleware.RateLimitMiddleware(rdb, 100, time.Minute))
	}

	// Protected endpoints
	protected := api.Group("", middleware.AuthMiddleware(cfg, log))

	// Checkout
	protected.Post("/rental-intent", h.Intents.RentalIntent)
	protected.Post("/purchase-intent", h.Intents.PurchaseIntent)

	// Labels
	protected.Post("/labels", h.Labels.Purchase)
	protected.Delete("/labels", h.Labels.Void)

	// Transactions
	protected.Get("/transactions/:id", h.Transactions.Get)
	protected.Get("/transactions/:id/events", h.Transactions.Events)

	// Operator remediation
	admin := protected.Group("/admin", middleware.AdminMiddleware())
	admin.Post("/deposits/sweep", h.Admin.Sweep)
	admin.Post("/transactions/:id/release", h.Admin.Release)
}
