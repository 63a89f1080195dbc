package httpserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"notifyhub/internal/handler"
	"notifyhub/pkg/otel"
)

type Router struct {
	Engine *gin.Engine
}

func NewRouter(
	notificationHandler *handler.NotificationHandler,
	preferenceHandler *handler.PreferenceHandler,
	webhookHandler *handler.WebhookHandler,
	streamHandler *handler.StreamHandler,
	jwtSecret string,
) *Router {
	r := gin.Default()
	r.Use(TraceMiddleware(), MetricsMiddleware(), otel.GinMiddleware())

	// Operational
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")

	// Webhooks authenticate with per-provider signatures, not JWT.
	webhooks := api.Group("/webhooks")
	{
		webhooks.POST("/email/delivery", webhookHandler.EmailDelivery)
		webhooks.POST("/sms/delivery", webhookHandler.SMSDelivery)
		webhooks.GET("/analytics", AuthMiddleware(jwtSecret), webhookHandler.Analytics)
	}

	// Protected
	notifications := api.Group("/notifications")
	notifications.Use(AuthMiddleware(jwtSecret))
	{
		notifications.POST("/send", notificationHandler.Send)
		notifications.POST("/batch", notificationHandler.SendBatch)
		notifications.GET("/:id/status", notificationHandler.Status)
		notifications.POST("/:id/retry", notificationHandler.Retry)
		notifications.GET("/analytics", notificationHandler.Analytics)
		notifications.GET("/stream", streamHandler.Stream)

		notifications.GET("/preferences", preferenceHandler.Get)
		notifications.POST("/preferences", preferenceHandler.Create)
		notifications.PATCH("/preferences", preferenceHandler.Update)
		notifications.POST("/preferences/subscriptions", preferenceHandler.CreateSubscription)
		notifications.GET("/preferences/subscriptions", preferenceHandler.ListSubscriptions)
	}

	return &Router{Engine: r}
}

func (r *Router) Run(port string) error {
	return r.Engine.Run(port)
}
