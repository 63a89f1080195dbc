package main

import (
	"os"
	"os/signal"
	"syscall"

	"notifyhub/internal/adapter"
	"notifyhub/internal/config"
	"notifyhub/internal/db"
	"notifyhub/internal/ratelimit"
	redisclient "notifyhub/internal/redis"
	"notifyhub/internal/repository"
	"notifyhub/internal/scheduler"
	"notifyhub/internal/service/dispatch"
	"notifyhub/internal/service/retry"
	"notifyhub/internal/stream"
	"notifyhub/pkg/logger"
	"notifyhub/pkg/mq"

	"go.uber.org/zap"
)

func main() {
	// Load config
	cfg := config.Load()

	log := logger.New()
	defer log.Sync()

	log.Info("starting worker service")

	// Init DB
	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("DB initialization failed", zap.Error(err))
	}
	defer dbConn.Close()

	// Init Redis
	rdb := redisclient.NewClient(cfg.Redis)
	defer rdb.Close()

	// Init RabbitMQ publisher (domain events, outbound jobs, DLQ parking)
	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("failed to init publisher", zap.Error(err))
	}
	defer publisher.Close()

	// Init repositories
	notificationRepo := repository.NewNotificationRepository(dbConn)
	deliveryRepo := repository.NewDeliveryRepository(dbConn)
	preferenceRepo := repository.NewPreferenceRepository(dbConn)
	subscriptionRepo := repository.NewSubscriptionRepository(dbConn)

	// Init services. The worker shares the adapter and dispatch stack with
	// the API process; its stream hub only feeds in-app adapter writes.
	hub := stream.NewHub()
	limiter := ratelimit.NewLimiter(rdb)
	adapters := adapter.NewRegistry(
		adapter.NewEmailAdapter(publisher, preferenceRepo),
		adapter.NewSMSAdapter(publisher, preferenceRepo),
		adapter.NewPushAdapter(publisher, preferenceRepo),
		adapter.NewInAppAdapter(hub),
	)
	dispatcher := dispatch.NewDispatcher(
		notificationRepo, deliveryRepo, preferenceRepo, subscriptionRepo,
		limiter, adapters, hub, publisher, log,
	)
	retryManager := retry.NewManager(deliveryRepo, notificationRepo, adapters, hub, publisher, log)

	// Consumer for delivery.retry jobs
	log.Info("initializing retry consumer", zap.String("queue", "delivery.retry.q"))
	retryConsumer, err := mq.NewConsumer(cfg.MQ.URL, "delivery.retry.q", mq.KeyDeliveryRetry, log)
	if err != nil {
		log.Fatal("failed to init retry consumer", zap.Error(err))
	}
	defer retryConsumer.Close()
	retryConsumer.SetHandler(retryManager.HandleRetryJob)
	go func() {
		log.Info("starting retry consumer")
		if err := retryConsumer.StartConsuming(); err != nil {
			log.Fatal("retry consumer failed", zap.Error(err))
		}
	}()

	// Cron sweeps for due scheduled notifications and due retries
	sched := scheduler.NewScheduler(dispatcher, retryManager, log)
	sched.Start()
	defer sched.Stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("worker shutting down")
}
