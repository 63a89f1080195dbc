package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"notifyhub/internal/model"
	"notifyhub/internal/repository"
	"notifyhub/internal/service/analytics"
	"notifyhub/internal/service/dispatch"
	"notifyhub/internal/service/retry"
)

type sendRequest struct {
	// UserID targets another account; defaults to the caller.
	UserID       string         `json:"userId"`
	Type         string         `json:"type" binding:"required"`
	Priority     string         `json:"priority"`
	Title        string         `json:"title" binding:"required"`
	Message      string         `json:"message" binding:"required"`
	Channels     []string       `json:"channels" binding:"required"`
	Data         map[string]any `json:"data"`
	ScheduledFor string         `json:"scheduledFor"`
}

type Dispatcher interface {
	Send(ctx context.Context, req dispatch.SendRequest) (*model.Notification, error)
	SendBatch(ctx context.Context, reqs []dispatch.SendRequest) ([]*model.Notification, error)
}

type RetryManager interface {
	Retry(ctx context.Context, notificationID string, channels []string) ([]*model.NotificationDelivery, error)
}

type AnalyticsReader interface {
	NotificationStatus(ctx context.Context, id, userID string) (*analytics.StatusReport, error)
	NotificationReport(ctx context.Context, userID, period string) (*analytics.NotificationReport, error)
}

type NotificationHandler struct {
	dispatcher Dispatcher
	retries    RetryManager
	analytics  AnalyticsReader
	logger     *zap.Logger
}

func NewNotificationHandler(dispatcher Dispatcher, retries RetryManager, reader AnalyticsReader, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{
		dispatcher: dispatcher,
		retries:    retries,
		analytics:  reader,
		logger:     logger,
	}
}

func (h *NotificationHandler) Send(c *gin.Context) {
	userID := c.GetString("user_id")

	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	dreq, err := h.toDispatchRequest(userID, req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	n, err := h.dispatcher.Send(c.Request.Context(), *dreq)
	if err != nil {
		h.renderSendError(c, userID, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":           n.ID,
		"status":       n.Status,
		"priority":     n.Priority,
		"channels":     n.Channels,
		"scheduledFor": n.ScheduledFor,
		"createdAt":    n.CreatedAt,
	})
}

func (h *NotificationHandler) SendBatch(c *gin.Context) {
	userID := c.GetString("user_id")

	var req struct {
		Notifications []sendRequest `json:"notifications" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	reqs := make([]dispatch.SendRequest, 0, len(req.Notifications))
	for i, item := range req.Notifications {
		dreq, err := h.toDispatchRequest(userID, item)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("notifications[%d]: %s", i, err)})
			return
		}
		reqs = append(reqs, *dreq)
	}

	created, err := h.dispatcher.SendBatch(c.Request.Context(), reqs)
	if err != nil {
		h.logger.Error("batch send failed", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "batch send failed"})
		return
	}

	ids := make([]string, 0, len(created))
	for _, n := range created {
		ids = append(ids, n.ID)
	}
	c.JSON(http.StatusCreated, gin.H{
		"created":         len(created),
		"notificationIds": ids,
	})
}

func (h *NotificationHandler) Status(c *gin.Context) {
	userID := c.GetString("user_id")
	id := c.Param("id")

	report, err := h.analytics.NotificationStatus(c.Request.Context(), id, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "notification not found"})
			return
		}
		h.logger.Error("status lookup failed", zap.String("notification_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "status lookup failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":           report.Notification.ID,
		"status":       report.Notification.Status,
		"priority":     report.Notification.Priority,
		"scheduledFor": report.Notification.ScheduledFor,
		"deliveries":   report.Deliveries,
	})
}

func (h *NotificationHandler) Retry(c *gin.Context) {
	userID := c.GetString("user_id")
	id := c.Param("id")

	var req struct {
		Channels []string `json:"channels"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	for _, ch := range req.Channels {
		if !model.ValidChannel(ch) {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid channel %q", ch)})
			return
		}
	}

	// Ownership check before touching deliveries.
	if _, err := h.analytics.NotificationStatus(c.Request.Context(), id, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "notification not found"})
			return
		}
		h.logger.Error("retry lookup failed", zap.String("notification_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "retry failed"})
		return
	}

	retried, err := h.retries.Retry(c.Request.Context(), id, req.Channels)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "notification not found"})
		case errors.Is(err, retry.ErrNotRetryable):
			c.JSON(http.StatusBadRequest, gin.H{"error": "no retryable deliveries"})
		default:
			h.logger.Error("manual retry failed", zap.String("notification_id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "retry failed"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"retriedDeliveries": retried})
}

func (h *NotificationHandler) Analytics(c *gin.Context) {
	userID := c.GetString("user_id")

	report, err := h.analytics.NotificationReport(c.Request.Context(), userID, c.Query("period"))
	if err != nil {
		if errors.Is(err, analytics.ErrInvalidPeriod) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("analytics report failed", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "analytics report failed"})
		return
	}

	c.JSON(http.StatusOK, report)
}

func (h *NotificationHandler) toDispatchRequest(userID string, req sendRequest) (*dispatch.SendRequest, error) {
	if req.UserID != "" {
		userID = req.UserID
	}
	if req.Priority == "" {
		req.Priority = model.PriorityMedium
	}
	if !model.ValidPriority(req.Priority) {
		return nil, fmt.Errorf("invalid priority %q", req.Priority)
	}
	if len(req.Channels) == 0 {
		return nil, errors.New("channels required")
	}
	for _, ch := range req.Channels {
		if !model.ValidChannel(ch) {
			return nil, fmt.Errorf("invalid channel %q", ch)
		}
	}

	var scheduledFor *time.Time
	if req.ScheduledFor != "" {
		at, err := time.Parse(time.RFC3339, req.ScheduledFor)
		if err != nil {
			return nil, errors.New("Invalid scheduledFor format")
		}
		scheduledFor = &at
	}

	return &dispatch.SendRequest{
		UserID:       userID,
		Type:         req.Type,
		Priority:     req.Priority,
		Title:        req.Title,
		Message:      req.Message,
		Channels:     req.Channels,
		Data:         req.Data,
		ScheduledFor: scheduledFor,
	}, nil
}

func (h *NotificationHandler) renderSendError(c *gin.Context, userID string, err error) {
	var rle *dispatch.RateLimitError
	switch {
	case errors.Is(err, dispatch.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
	case errors.As(err, &rle):
		c.Header("X-RateLimit-Limit", strconv.Itoa(rle.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(rle.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(rle.ResetAt.Unix(), 10))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
	default:
		h.logger.Error("send failed", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "send failed"})
	}
}
