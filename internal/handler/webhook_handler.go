package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"notifyhub/internal/service/analytics"
	"notifyhub/internal/service/webhook"
)

// Header names the providers send.
const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderSource    = "X-Webhook-Source"
	HeaderWebhookID = "X-Webhook-ID"
)

type Ingestor interface {
	Ingest(ctx context.Context, provider string, body []byte, signature, webhookID string) (*webhook.IngestResult, error)
}

type WebhookReader interface {
	WebhookReport(ctx context.Context, period string) (*analytics.WebhookReport, error)
}

type WebhookHandler struct {
	ingestor  Ingestor
	analytics WebhookReader
	logger    *zap.Logger
}

func NewWebhookHandler(ingestor Ingestor, reader WebhookReader, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{ingestor: ingestor, analytics: reader, logger: logger}
}

// EmailDelivery receives Resend-style email callbacks.
func (h *WebhookHandler) EmailDelivery(c *gin.Context) {
	h.ingest(c, webhook.ProviderResend)
}

// SMSDelivery receives Twilio-style SMS status callbacks.
func (h *WebhookHandler) SMSDelivery(c *gin.Context) {
	h.ingest(c, webhook.ProviderTwilio)
}

func (h *WebhookHandler) ingest(c *gin.Context, provider string) {
	// X-Webhook-Source, when present, must agree with the route.
	if source := c.GetHeader(HeaderSource); source != "" && source != provider {
		c.JSON(http.StatusBadRequest, gin.H{"error": "webhook source mismatch"})
		return
	}

	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	res, err := h.ingestor.Ingest(
		c.Request.Context(),
		provider,
		body,
		c.GetHeader(HeaderSignature),
		c.GetHeader(HeaderWebhookID),
	)
	if err != nil {
		switch {
		case errors.Is(err, webhook.ErrInvalidSignature), errors.Is(err, webhook.ErrUnknownProvider):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		case errors.Is(err, webhook.ErrMalformedPayload):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			h.logger.Error("webhook ingest failed", zap.String("provider", provider), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "webhook ingest failed"})
		}
		return
	}

	resp := gin.H{"status": res.Status}
	if res.Delivery != nil {
		resp["deliveryId"] = res.Delivery.ID
		resp["deliveryStatus"] = res.Delivery.Status
	}
	c.JSON(http.StatusOK, resp)
}

func (h *WebhookHandler) Analytics(c *gin.Context) {
	report, err := h.analytics.WebhookReport(c.Request.Context(), c.Query("period"))
	if err != nil {
		if errors.Is(err, analytics.ErrInvalidPeriod) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("webhook analytics failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "webhook analytics failed"})
		return
	}

	c.JSON(http.StatusOK, report)
}
