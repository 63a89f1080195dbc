package handler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notifyhub/internal/model"
)

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

func TestSubscriptionCreatedBody(t *testing.T) {
	sub := &model.NotificationSubscription{
		ID:               "sub-1",
		UserID:           "u1",
		NotificationType: "order.shipped",
		Channels:         []string{model.ChannelEmail},
		IsActive:         true,
	}

	body := subscriptionCreated(sub)

	assert.Equal(t, 1, body["created"])
	subs, ok := body["subscriptions"].([]*model.NotificationSubscription)
	require.True(t, ok)
	require.Len(t, subs, 1)
	assert.Equal(t, "sub-1", subs[0].ID)
}

func TestApplyPreferenceBodyMergesFields(t *testing.T) {
	pref := defaultPreference("u1")

	err := applyPreferenceBody(pref, &preferenceBody{
		SMSEnabled:   boolPtr(true),
		EmailAddress: strPtr("user@example.com"),
		PhoneNumber:  strPtr("+15550001111"),
		Frequency:    strPtr(model.FrequencyDailyDigest),
		FrequencyLimits: map[string]int{
			model.ChannelEmail: 10,
		},
	})
	require.NoError(t, err)

	assert.True(t, pref.SMSEnabled)
	assert.True(t, pref.EmailEnabled, "untouched fields keep their value")
	assert.Equal(t, "user@example.com", pref.EmailAddress)
	assert.Equal(t, "+15550001111", pref.PhoneNumber)
	assert.Equal(t, model.FrequencyDailyDigest, pref.Frequency)
	assert.Equal(t, 10, pref.FrequencyLimits[model.ChannelEmail])
}

func TestApplyPreferenceBodyValidation(t *testing.T) {
	tests := []struct {
		name    string
		body    preferenceBody
		wantErr string
	}{
		{"bad email", preferenceBody{EmailAddress: strPtr("not-an-email")}, "Invalid email"},
		{"bad phone", preferenceBody{PhoneNumber: strPtr("555-0011")}, "Invalid phone"},
		{"bad frequency", preferenceBody{Frequency: strPtr("WEEKLY")}, "Invalid frequency"},
		{"bad limit channel", preferenceBody{FrequencyLimits: map[string]int{"fax": 5}}, "invalid channel"},
		{"negative limit", preferenceBody{FrequencyLimits: map[string]int{model.ChannelEmail: -1}}, "negative limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := applyPreferenceBody(defaultPreference("u1"), &tt.body)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateQuietHours(t *testing.T) {
	qh, err := validateQuietHours(&quietHoursBody{
		Enabled:  true,
		Start:    "22:00",
		End:      "07:30",
		Timezone: "America/New_York",
	})
	require.NoError(t, err)
	assert.True(t, qh.Enabled)
	assert.Equal(t, "22:00", qh.Start)

	_, err = validateQuietHours(&quietHoursBody{Enabled: true, Start: "25:00", End: "07:00", Timezone: "UTC"})
	assert.Error(t, err)

	_, err = validateQuietHours(&quietHoursBody{Enabled: true, Start: "22:00", End: "07:00", Timezone: "Mars/Olympus"})
	assert.Error(t, err)

	// Disabled quiet hours skip clock validation entirely.
	_, err = validateQuietHours(&quietHoursBody{Enabled: false})
	assert.NoError(t, err)

	_, err = validateQuietHours(&quietHoursBody{
		Enabled: false, ApplyToChannels: []string{"fax"},
	})
	assert.Error(t, err, "channel lists are checked even when disabled")
}
