package model

import "time"

// Notification priorities, ordered from least to most urgent.
const (
	PriorityLow      = "LOW"
	PriorityMedium   = "MEDIUM"
	PriorityHigh     = "HIGH"
	PriorityCritical = "CRITICAL"
)

// Notification statuses. A notification only ever advances
// pending -> scheduled -> sent or pending -> sent.
const (
	NotificationPending   = "pending"
	NotificationScheduled = "scheduled"
	NotificationSent      = "sent"
)

// Supported delivery channels.
const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
	ChannelPush  = "push"
	ChannelInApp = "in-app"
)

// Channels lists every channel the dispatcher knows about.
var Channels = []string{ChannelEmail, ChannelSMS, ChannelPush, ChannelInApp}

type Notification struct {
	ID           string         `json:"id"`
	UserID       string         `json:"userId"`
	Type         string         `json:"type"`
	Priority     string         `json:"priority"`
	Title        string         `json:"title"`
	Message      string         `json:"message"`
	Channels     []string       `json:"channels"`
	Data         map[string]any `json:"data,omitempty"`
	Status       string         `json:"status"`
	ScheduledFor *time.Time     `json:"scheduledFor,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// ValidPriority reports whether p is one of the four known priorities.
func ValidPriority(p string) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// ValidChannel reports whether c is a known delivery channel.
func ValidChannel(c string) bool {
	for _, known := range Channels {
		if c == known {
			return true
		}
	}
	return false
}
