package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/chris-briden/edc-exchange-sub000/internal/config"
	"github.com/chris-briden/edc-exchange-sub000/internal/db"
	"github.com/chris-briden/edc-exchange-sub000/internal/events"
	"github.com/chris-briden/edc-exchange-sub000/internal/retry"
	"github.com/chris-briden/edc-exchange-sub000/internal/services"
	"go.uber.org/zap"
)

// notify-bridge subscribes to transaction events and forwards each one to
// the notification dispatcher.

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	notifier := services.NewNotifyClient(cfg.NotificationURL, cfg.ExternalTimeout, retry.DefaultPolicy(cfg.UpstreamMaxRetries), log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	// One forwarder goroutine. A full queue drops the event; the audit log
	// still has it.
	queue := make(chan events.Event, 256)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-queue:
				_ = notifier.Forward(ctx, ev)
			}
		}
	}()

	if err := subscriber.Subscribe(ctx, events.TransactionStream, func(event events.Event) {
		select {
		case queue <- event:
		default:
			log.Warn("notification queue full, dropping event",
				zap.String("event_id", event.ID), zap.String("type", event.Type))
		}
	}); err != nil {
		log.Fatal("failed to subscribe", zap.String("stream", events.TransactionStream), zap.Error(err))
	}

	log.Info("notify-bridge started", zap.String("dispatcher", cfg.NotificationURL))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down notify-bridge")
	cancel()
}
