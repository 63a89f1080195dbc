package main

import (
	"time"

	"notifyhub/internal/adapter"
	"notifyhub/internal/config"
	"notifyhub/internal/db"
	"notifyhub/internal/handler"
	"notifyhub/internal/httpserver"
	"notifyhub/internal/ratelimit"
	redisclient "notifyhub/internal/redis"
	"notifyhub/internal/repository"
	"notifyhub/internal/service/analytics"
	"notifyhub/internal/service/dispatch"
	"notifyhub/internal/service/retry"
	"notifyhub/internal/service/webhook"
	"notifyhub/internal/stream"
	"notifyhub/pkg/logger"
	"notifyhub/pkg/mq"
	"notifyhub/pkg/otel"

	"go.uber.org/zap"
)

func main() {
	// 1. Load config
	cfg := config.Load()

	log := logger.New()
	defer log.Sync()

	// 2. Tracing (no-op unless configured)
	otelShutdown, err := otel.Init(otel.Config{
		ServiceName: "notifyhub-api",
		Endpoint:    cfg.Otel.Endpoint,
		Enabled:     cfg.Otel.Enabled,
	}, log)
	if err != nil {
		log.Fatal("otel initialization failed", zap.Error(err))
	}
	defer otelShutdown()

	// 3. Init DB
	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("DB initialization failed", zap.Error(err))
	}
	defer dbConn.Close()

	// 4. Init Redis
	rdb := redisclient.NewClient(cfg.Redis)
	defer rdb.Close()
	deduper := redisclient.NewDeduper(rdb, time.Hour, log)

	// 5. Init RabbitMQ publisher
	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("failed to init publisher", zap.Error(err))
	}
	defer publisher.Close()

	// 6. Init repositories
	notificationRepo := repository.NewNotificationRepository(dbConn)
	deliveryRepo := repository.NewDeliveryRepository(dbConn)
	preferenceRepo := repository.NewPreferenceRepository(dbConn)
	subscriptionRepo := repository.NewSubscriptionRepository(dbConn)
	webhookLogRepo := repository.NewWebhookLogRepository(dbConn)

	// 7. Init services
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
	reader := analytics.NewReader(dbConn, notificationRepo, deliveryRepo)
	ingestor := webhook.NewIngestor(
		cfg.Webhook.Secrets, webhookLogRepo, deliveryRepo, subscriptionRepo,
		deduper, dispatcher, hub, publisher, log,
	)

	// 8. Init handlers
	notificationHandler := handler.NewNotificationHandler(dispatcher, retryManager, reader, log)
	preferenceHandler := handler.NewPreferenceHandler(preferenceRepo, subscriptionRepo, log)
	webhookHandler := handler.NewWebhookHandler(ingestor, reader, log)
	streamHandler := handler.NewStreamHandler(hub, log)

	// 9. Init router
	router := httpserver.NewRouter(notificationHandler, preferenceHandler, webhookHandler, streamHandler, cfg.JWT.Secret)

	// 10. Run server
	log.Info("starting api service", zap.String("port", cfg.Server.Port))
	if err := router.Run(cfg.Server.Port); err != nil {
		log.Fatal("server start failed", zap.Error(err))
	}
}
