package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/paybyt/escrowd/internal/config"
	"github.com/paybyt/escrowd/internal/db"
	"github.com/paybyt/escrowd/internal/events"
	"github.com/paybyt/escrowd/internal/notify"
	"go.uber.org/zap"
)

// Notify bridge subscribes to escrow events on Redis and forwards them to
// NOTIFY_WEBHOOK_URL.

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	if cfg.NotifyWebhookURL == "" {
		log.Fatal("NOTIFY_WEBHOOK_URL is required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	policy := cfg.RetryPolicy()
	policy.Log = log
	fwd := notify.NewForwarder(cfg.NotifyWebhookURL, cfg.ChainTimeout, policy, log)

	subscriber := events.NewRedisSubscriber(rdb, log)
	if err := subscriber.Subscribe(ctx, events.StreamEscrow, fwd.Handle(ctx)); err != nil {
		log.Fatal("subscribe failed", zap.Error(err))
	}

	log.Info("notify-bridge started", zap.String("stream", events.StreamEscrow))
	<-ctx.Done()
	log.Info("shutting down notify-bridge")
}
