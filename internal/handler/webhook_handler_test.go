package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"notifyhub/internal/model"
	"notifyhub/internal/service/analytics"
	"notifyhub/internal/service/webhook"
)

type stubIngestor struct {
	err    error
	result *webhook.IngestResult
	gotSig string
	gotID  string
}

func (s *stubIngestor) Ingest(_ context.Context, _ string, _ []byte, signature, webhookID string) (*webhook.IngestResult, error) {
	s.gotSig = signature
	s.gotID = webhookID
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

type stubWebhookReader struct{}

func (s *stubWebhookReader) WebhookReport(_ context.Context, period string) (*analytics.WebhookReport, error) {
	if period != "" && period != "24h" && period != "7d" && period != "30d" {
		return nil, analytics.ErrInvalidPeriod
	}
	return &analytics.WebhookReport{Period: period, SuccessRate: 100}, nil
}

func setupWebhookRouter(ingestor *stubIngestor) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewWebhookHandler(ingestor, &stubWebhookReader{}, zap.NewNop())

	engine := gin.New()
	engine.POST("/api/webhooks/email/delivery", h.EmailDelivery)
	engine.POST("/api/webhooks/sms/delivery", h.SMSDelivery)
	engine.GET("/api/webhooks/analytics", h.Analytics)
	return engine
}

func TestWebhookEndpointProcessed(t *testing.T) {
	ingestor := &stubIngestor{result: &webhook.IngestResult{
		Status: "processed",
		Delivery: &model.NotificationDelivery{
			ID: "d-1", Status: model.DeliveryDelivered,
		},
		Applied: true,
	}}
	engine := setupWebhookRouter(ingestor)

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/email/delivery", bytes.NewBufferString(`{}`))
	req.Header.Set("X-Webhook-Signature", "sha256=abc")
	req.Header.Set("X-Webhook-ID", "wh-1")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"processed"`)
	assert.Contains(t, w.Body.String(), `"deliveryId":"d-1"`)
	assert.Equal(t, "sha256=abc", ingestor.gotSig)
	assert.Equal(t, "wh-1", ingestor.gotID)
}

func TestWebhookEndpointDuplicate(t *testing.T) {
	ingestor := &stubIngestor{result: &webhook.IngestResult{Status: "duplicate", Duplicate: true}}
	engine := setupWebhookRouter(ingestor)

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/sms/delivery", bytes.NewBufferString("MessageSid=SM1"))
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"duplicate"`)
}

func TestWebhookEndpointBadSignature(t *testing.T) {
	engine := setupWebhookRouter(&stubIngestor{err: webhook.ErrInvalidSignature})

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/email/delivery", bytes.NewBufferString(`{}`))
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWebhookEndpointMalformed(t *testing.T) {
	engine := setupWebhookRouter(&stubIngestor{err: webhook.ErrMalformedPayload})

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/email/delivery", bytes.NewBufferString(`{`))
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookEndpointSourceMismatch(t *testing.T) {
	ingestor := &stubIngestor{result: &webhook.IngestResult{Status: "processed"}}
	engine := setupWebhookRouter(ingestor)

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/email/delivery", bytes.NewBufferString(`{}`))
	req.Header.Set("X-Webhook-Source", "twilio")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookAnalyticsEndpoint(t *testing.T) {
	engine := setupWebhookRouter(&stubIngestor{})

	req := httptest.NewRequest(http.MethodGet, "/api/webhooks/analytics?period=24h", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "successRate")
}
