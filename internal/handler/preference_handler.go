package handler

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"notifyhub/internal/model"
	"notifyhub/internal/repository"
)

var phonePattern = regexp.MustCompile(`^\+[0-9]{7,15}$`)

type quietHoursBody struct {
	Enabled           bool     `json:"enabled"`
	Start             string   `json:"start"`
	End               string   `json:"end"`
	Timezone          string   `json:"timezone"`
	ApplyToChannels   []string `json:"applyToChannels"`
	ExcludePriorities []string `json:"excludePriorities"`
}

type preferenceBody struct {
	EmailEnabled    *bool           `json:"emailEnabled"`
	SMSEnabled      *bool           `json:"smsEnabled"`
	PushEnabled     *bool           `json:"pushEnabled"`
	InAppEnabled    *bool           `json:"inAppEnabled"`
	EmailAddress    *string         `json:"emailAddress"`
	PhoneNumber     *string         `json:"phoneNumber"`
	QuietHours      *quietHoursBody `json:"quietHours"`
	Frequency       *string         `json:"frequency"`
	FrequencyLimits map[string]int  `json:"frequencyLimits"`
}

type PreferenceHandler struct {
	prefs  *repository.PreferenceRepository
	subs   *repository.SubscriptionRepository
	logger *zap.Logger
}

func NewPreferenceHandler(prefs *repository.PreferenceRepository, subs *repository.SubscriptionRepository, logger *zap.Logger) *PreferenceHandler {
	return &PreferenceHandler{prefs: prefs, subs: subs, logger: logger}
}

func (h *PreferenceHandler) Get(c *gin.Context) {
	userID := c.GetString("user_id")

	pref, err := h.prefs.GetByUserID(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "preferences not found"})
			return
		}
		h.logger.Error("load preferences failed", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load preferences failed"})
		return
	}

	c.JSON(http.StatusOK, pref)
}

// Create writes a full preference record, replacing any existing one.
func (h *PreferenceHandler) Create(c *gin.Context) {
	userID := c.GetString("user_id")

	var body preferenceBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	pref := defaultPreference(userID)
	if err := applyPreferenceBody(pref, &body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.prefs.Upsert(c.Request.Context(), pref); err != nil {
		h.logger.Error("save preferences failed", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save preferences failed"})
		return
	}

	c.JSON(http.StatusCreated, pref)
}

// Update merges the provided fields into the existing preference record.
func (h *PreferenceHandler) Update(c *gin.Context) {
	userID := c.GetString("user_id")

	var body preferenceBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	pref, err := h.prefs.GetByUserID(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "preferences not found"})
			return
		}
		h.logger.Error("load preferences failed", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load preferences failed"})
		return
	}

	if err := applyPreferenceBody(pref, &body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.prefs.Upsert(c.Request.Context(), pref); err != nil {
		h.logger.Error("save preferences failed", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save preferences failed"})
		return
	}

	c.JSON(http.StatusOK, pref)
}

type subscriptionBody struct {
	NotificationType string                    `json:"notificationType" binding:"required"`
	Channels         []string                  `json:"channels" binding:"required,min=1"`
	PriorityOverride *string                   `json:"priorityOverride"`
	Filters          model.SubscriptionFilters `json:"filters"`
}

func (h *PreferenceHandler) CreateSubscription(c *gin.Context) {
	userID := c.GetString("user_id")

	var body subscriptionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	for _, ch := range body.Channels {
		if !model.ValidChannel(ch) {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid channel %q", ch)})
			return
		}
	}
	if body.PriorityOverride != nil && !model.ValidPriority(*body.PriorityOverride) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid priority %q", *body.PriorityOverride)})
		return
	}

	sub := &model.NotificationSubscription{
		ID:               uuid.NewString(),
		UserID:           userID,
		NotificationType: body.NotificationType,
		Channels:         body.Channels,
		PriorityOverride: body.PriorityOverride,
		IsActive:         true,
		Filters:          body.Filters,
	}
	if err := h.subs.Insert(c.Request.Context(), sub); err != nil {
		h.logger.Error("create subscription failed", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create subscription failed"})
		return
	}

	c.JSON(http.StatusCreated, subscriptionCreated(sub))
}

func subscriptionCreated(sub *model.NotificationSubscription) gin.H {
	return gin.H{"created": 1, "subscriptions": []*model.NotificationSubscription{sub}}
}

func (h *PreferenceHandler) ListSubscriptions(c *gin.Context) {
	userID := c.GetString("user_id")

	subs, err := h.subs.ListByUserID(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("list subscriptions failed", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list subscriptions failed"})
		return
	}
	if subs == nil {
		subs = []*model.NotificationSubscription{}
	}

	c.JSON(http.StatusOK, gin.H{"subscriptions": subs})
}

func defaultPreference(userID string) *model.NotificationPreference {
	return &model.NotificationPreference{
		UserID:       userID,
		EmailEnabled: true,
		SMSEnabled:   false,
		PushEnabled:  true,
		InAppEnabled: true,
		Frequency:    model.FrequencyInstant,
	}
}

func applyPreferenceBody(pref *model.NotificationPreference, body *preferenceBody) error {
	if body.EmailEnabled != nil {
		pref.EmailEnabled = *body.EmailEnabled
	}
	if body.SMSEnabled != nil {
		pref.SMSEnabled = *body.SMSEnabled
	}
	if body.PushEnabled != nil {
		pref.PushEnabled = *body.PushEnabled
	}
	if body.InAppEnabled != nil {
		pref.InAppEnabled = *body.InAppEnabled
	}
	if body.EmailAddress != nil {
		if *body.EmailAddress != "" && !strings.Contains(*body.EmailAddress, "@") {
			return errors.New("Invalid email address")
		}
		pref.EmailAddress = *body.EmailAddress
	}
	if body.PhoneNumber != nil {
		if *body.PhoneNumber != "" && !phonePattern.MatchString(*body.PhoneNumber) {
			return errors.New("Invalid phone number, want E.164 format")
		}
		pref.PhoneNumber = *body.PhoneNumber
	}
	if body.Frequency != nil {
		if !model.ValidFrequency(*body.Frequency) {
			return errors.New("Invalid frequency")
		}
		pref.Frequency = *body.Frequency
	}
	if body.FrequencyLimits != nil {
		for ch, limit := range body.FrequencyLimits {
			if !model.ValidChannel(ch) {
				return fmt.Errorf("invalid channel %q in frequencyLimits", ch)
			}
			if limit < 0 {
				return fmt.Errorf("negative limit for channel %q", ch)
			}
		}
		pref.FrequencyLimits = body.FrequencyLimits
	}
	if body.QuietHours != nil {
		qh, err := validateQuietHours(body.QuietHours)
		if err != nil {
			return err
		}
		pref.QuietHours = *qh
	}
	return nil
}

func validateQuietHours(body *quietHoursBody) (*model.QuietHours, error) {
	if body.Enabled {
		if _, err := time.Parse("15:04", body.Start); err != nil {
			return nil, fmt.Errorf("invalid quiet hours start %q", body.Start)
		}
		if _, err := time.Parse("15:04", body.End); err != nil {
			return nil, fmt.Errorf("invalid quiet hours end %q", body.End)
		}
		if _, err := time.LoadLocation(body.Timezone); err != nil {
			return nil, fmt.Errorf("invalid timezone %q", body.Timezone)
		}
	}
	for _, ch := range body.ApplyToChannels {
		if !model.ValidChannel(ch) {
			return nil, fmt.Errorf("invalid channel %q in applyToChannels", ch)
		}
	}
	for _, p := range body.ExcludePriorities {
		if !model.ValidPriority(p) {
			return nil, fmt.Errorf("invalid priority %q in excludePriorities", p)
		}
	}
	return &model.QuietHours{
		Enabled:           body.Enabled,
		Start:             body.Start,
		End:               body.End,
		Timezone:          body.Timezone,
		ApplyToChannels:   body.ApplyToChannels,
		ExcludePriorities: body.ExcludePriorities,
	}, nil
}
