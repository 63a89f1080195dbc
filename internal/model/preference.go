package model

import "time"

// Digest frequencies a user can choose for non-urgent notifications.
const (
	FrequencyInstant     = "INSTANT"
	FrequencyBatched5Min = "BATCHED_5MIN"
	FrequencyBatchedHour = "BATCHED_HOURLY"
	FrequencyDailyDigest = "DAILY_DIGEST"
)

// ValidFrequency reports whether f is a supported digest frequency.
func ValidFrequency(f string) bool {
	switch f {
	case FrequencyInstant, FrequencyBatched5Min, FrequencyBatchedHour, FrequencyDailyDigest:
		return true
	}
	return false
}

// QuietHours is a per-user wall-clock window during which non-urgent sends
// are deferred. Start and End are "HH:MM" in the user's Timezone; the window
// may wrap midnight.
type QuietHours struct {
	Enabled           bool     `json:"enabled"`
	Start             string   `json:"start"`
	End               string   `json:"end"`
	Timezone          string   `json:"timezone"`
	ApplyToChannels   []string `json:"applyToChannels,omitempty"`
	ExcludePriorities []string `json:"excludePriorities,omitempty"`
}

// AppliesToChannel reports whether quiet hours cover the given channel.
// An empty ApplyToChannels list means all channels.
func (q QuietHours) AppliesToChannel(channel string) bool {
	if len(q.ApplyToChannels) == 0 {
		return true
	}
	for _, c := range q.ApplyToChannels {
		if c == channel {
			return true
		}
	}
	return false
}

// ExcludesPriority reports whether the given priority bypasses quiet hours.
// An empty list defaults to excluding CRITICAL and HIGH.
func (q QuietHours) ExcludesPriority(priority string) bool {
	excluded := q.ExcludePriorities
	if len(excluded) == 0 {
		excluded = []string{PriorityCritical, PriorityHigh}
	}
	for _, p := range excluded {
		if p == priority {
			return true
		}
	}
	return false
}

// NotificationPreference holds per-user channel enablement, contact
// addresses, quiet hours and frequency limits. At most one row per user.
type NotificationPreference struct {
	UserID          string         `json:"userId"`
	EmailEnabled    bool           `json:"emailEnabled"`
	SMSEnabled      bool           `json:"smsEnabled"`
	PushEnabled     bool           `json:"pushEnabled"`
	InAppEnabled    bool           `json:"inAppEnabled"`
	EmailAddress    string         `json:"emailAddress,omitempty"`
	PhoneNumber     string         `json:"phoneNumber,omitempty"`
	QuietHours      QuietHours     `json:"quietHours"`
	Frequency       string         `json:"frequency"`
	FrequencyLimits map[string]int `json:"frequencyLimits,omitempty"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// ChannelEnabled reports whether the user has the channel switched on.
// A disabled channel is never a valid dispatch target.
func (p *NotificationPreference) ChannelEnabled(channel string) bool {
	switch channel {
	case ChannelEmail:
		return p.EmailEnabled
	case ChannelSMS:
		return p.SMSEnabled
	case ChannelPush:
		return p.PushEnabled
	case ChannelInApp:
		return p.InAppEnabled
	}
	return false
}

// LimitFor returns the per-hour send limit for a channel, 0 meaning no limit.
func (p *NotificationPreference) LimitFor(channel string) int {
	if p.FrequencyLimits == nil {
		return 0
	}
	return p.FrequencyLimits[channel]
}

// SubscriptionFilters narrow webhook-triggered notifications by provider and
// event type.
type SubscriptionFilters struct {
	Providers  []string `json:"providers,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// NotificationSubscription is an optional per-(user, type) channel override.
type NotificationSubscription struct {
	ID               string              `json:"id"`
	UserID           string              `json:"userId"`
	NotificationType string              `json:"notificationType"`
	Channels         []string            `json:"channels"`
	PriorityOverride *string             `json:"priorityOverride,omitempty"`
	IsActive         bool                `json:"isActive"`
	Filters          SubscriptionFilters `json:"filters"`
	CreatedAt        time.Time           `json:"createdAt"`
}

// MatchesEvent reports whether the subscription's filters admit a webhook
// event from the given provider. Empty filter lists admit everything.
func (s *NotificationSubscription) MatchesEvent(provider, eventType string) bool {
	if !s.IsActive {
		return false
	}
	if len(s.Filters.Providers) > 0 {
		found := false
		for _, p := range s.Filters.Providers {
			if p == provider {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(s.Filters.EventTypes) > 0 {
		for _, e := range s.Filters.EventTypes {
			if e == eventType {
				return true
			}
		}
		return false
	}
	return true
}
