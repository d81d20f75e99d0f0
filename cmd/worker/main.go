package main

import (
	"context"
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
	"go.uber.org/zap"
)

// Releases that claimed the deposit but never finalised are retried once they
// are this old, so in-flight requests are left alone.
const stuckReleaseAge = 15 * time.Minute

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, db.PoolOptions{Name: "exchange-worker", MaxConns: 5, MinConns: 1}, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	if err := db.RunMigrations(ctx, pool, "migrations", log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	txRepo := repositories.NewTransactionRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)
	publisher := events.NewRedisPublisher(rdb, log)
	processor := payments.NewStripeProcessor(cfg.StripeSecretKey, cfg.StripeWebhookSecret, cfg.ExternalTimeout, log)
	deposits := services.NewDepositService(txRepo, auditRepo, processor, publisher, retry.DefaultPolicy(cfg.UpstreamMaxRetries), cfg, log)

	log.Info("worker started",
		zap.Duration("sweep_interval", cfg.SweepInterval),
		zap.Int("return_grace_days", cfg.ReturnGraceDays))

	sweepTicker := time.NewTicker(cfg.SweepInterval)
	stuckTicker := time.NewTicker(5 * time.Minute)
	defer sweepTicker.Stop()
	defer stuckTicker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// sweep once at startup
	runSweep(ctx, deposits, log)

	for {
		select {
		case <-sweepTicker.C:
			runSweep(ctx, deposits, log)
		case <-stuckTicker.C:
			n, err := deposits.RetryStuckReleases(ctx, stuckReleaseAge)
			if err != nil {
				log.Error("stuck release retry failed", zap.Error(err))
			} else if n > 0 {
				log.Info("stuck releases retried", zap.Int("count", n))
			}
		case <-sigCh:
			log.Info("shutting down worker")
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}

func runSweep(ctx context.Context, deposits *services.DepositService, log *zap.Logger) {
	res, err := deposits.RunSweep(ctx, services.SystemActor)
	if err != nil {
		log.Error("deposit sweep failed", zap.Error(err))
		return
	}
	if res.Failed > 0 {
		log.Warn("deposit sweep had failures", zap.Int("failed", res.Failed), zap.Int("examined", res.Examined))
	}
}
