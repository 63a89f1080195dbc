package quiethours

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notifyhub/internal/model"
)

func enabledWindow(start, end, tz string) model.QuietHours {
	return model.QuietHours{
		Enabled:  true,
		Start:    start,
		End:      end,
		Timezone: tz,
	}
}

func TestEvaluateDisabledQuietHours(t *testing.T) {
	now := time.Date(2026, 1, 10, 23, 0, 0, 0, time.UTC)
	qh := model.QuietHours{Enabled: false, Start: "22:00", End: "08:00", Timezone: "UTC"}

	res, err := Evaluate(now, qh, model.PriorityLow, model.ChannelEmail)
	require.NoError(t, err)
	assert.False(t, res.Deferred)
}

func TestEvaluateInsideWindowDefers(t *testing.T) {
	now := time.Date(2026, 1, 10, 23, 30, 0, 0, time.UTC)
	qh := enabledWindow("22:00", "08:00", "UTC")

	res, err := Evaluate(now, qh, model.PriorityLow, model.ChannelEmail)
	require.NoError(t, err)
	assert.True(t, res.Deferred)
	assert.Equal(t, time.Date(2026, 1, 11, 8, 0, 0, 0, time.UTC), res.DeferredUntil)
}

func TestEvaluateAfterMidnightStillInsideWrappedWindow(t *testing.T) {
	now := time.Date(2026, 1, 11, 2, 15, 0, 0, time.UTC)
	qh := enabledWindow("22:00", "08:00", "UTC")

	res, err := Evaluate(now, qh, model.PriorityMedium, model.ChannelPush)
	require.NoError(t, err)
	assert.True(t, res.Deferred)
	assert.Equal(t, time.Date(2026, 1, 11, 8, 0, 0, 0, time.UTC), res.DeferredUntil)
}

func TestEvaluateOutsideWindowSendsNow(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	qh := enabledWindow("22:00", "08:00", "UTC")

	res, err := Evaluate(now, qh, model.PriorityLow, model.ChannelEmail)
	require.NoError(t, err)
	assert.False(t, res.Deferred)
}

func TestEvaluateWindowEndIsExclusive(t *testing.T) {
	now := time.Date(2026, 1, 11, 8, 0, 0, 0, time.UTC)
	qh := enabledWindow("22:00", "08:00", "UTC")

	res, err := Evaluate(now, qh, model.PriorityLow, model.ChannelEmail)
	require.NoError(t, err)
	assert.False(t, res.Deferred)
}

func TestEvaluateCriticalBypassesByDefault(t *testing.T) {
	now := time.Date(2026, 1, 10, 23, 30, 0, 0, time.UTC)
	qh := enabledWindow("22:00", "08:00", "UTC")

	for _, priority := range []string{model.PriorityCritical, model.PriorityHigh} {
		res, err := Evaluate(now, qh, priority, model.ChannelEmail)
		require.NoError(t, err)
		assert.False(t, res.Deferred, "priority %s should bypass quiet hours", priority)
	}
}

func TestEvaluateExplicitExcludePriorities(t *testing.T) {
	now := time.Date(2026, 1, 10, 23, 30, 0, 0, time.UTC)
	qh := enabledWindow("22:00", "08:00", "UTC")
	qh.ExcludePriorities = []string{model.PriorityCritical}

	// HIGH no longer excluded once the list is explicit.
	res, err := Evaluate(now, qh, model.PriorityHigh, model.ChannelEmail)
	require.NoError(t, err)
	assert.True(t, res.Deferred)

	res, err = Evaluate(now, qh, model.PriorityCritical, model.ChannelEmail)
	require.NoError(t, err)
	assert.False(t, res.Deferred)
}

func TestEvaluateChannelNotCovered(t *testing.T) {
	now := time.Date(2026, 1, 10, 23, 30, 0, 0, time.UTC)
	qh := enabledWindow("22:00", "08:00", "UTC")
	qh.ApplyToChannels = []string{model.ChannelSMS}

	res, err := Evaluate(now, qh, model.PriorityLow, model.ChannelEmail)
	require.NoError(t, err)
	assert.False(t, res.Deferred)

	res, err = Evaluate(now, qh, model.PriorityLow, model.ChannelSMS)
	require.NoError(t, err)
	assert.True(t, res.Deferred)
}

func TestEvaluateRespectsUserTimezone(t *testing.T) {
	// 03:00 UTC is 22:00 in New York (UTC-5 in January), inside a
	// 21:00-07:00 local window.
	now := time.Date(2026, 1, 11, 3, 0, 0, 0, time.UTC)
	qh := enabledWindow("21:00", "07:00", "America/New_York")

	res, err := Evaluate(now, qh, model.PriorityLow, model.ChannelEmail)
	require.NoError(t, err)
	assert.True(t, res.Deferred)

	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 11, 7, 0, 0, 0, loc).Unix(), res.DeferredUntil.Unix())
}

func TestEvaluateNonWrappingWindow(t *testing.T) {
	qh := enabledWindow("12:00", "14:00", "UTC")

	inside := time.Date(2026, 1, 10, 13, 0, 0, 0, time.UTC)
	res, err := Evaluate(inside, qh, model.PriorityLow, model.ChannelEmail)
	require.NoError(t, err)
	assert.True(t, res.Deferred)
	assert.Equal(t, time.Date(2026, 1, 10, 14, 0, 0, 0, time.UTC), res.DeferredUntil)

	outside := time.Date(2026, 1, 10, 15, 0, 0, 0, time.UTC)
	res, err = Evaluate(outside, qh, model.PriorityLow, model.ChannelEmail)
	require.NoError(t, err)
	assert.False(t, res.Deferred)
}

func TestEvaluateInvalidTimezone(t *testing.T) {
	now := time.Date(2026, 1, 10, 23, 30, 0, 0, time.UTC)
	qh := enabledWindow("22:00", "08:00", "Not/AZone")

	_, err := Evaluate(now, qh, model.PriorityLow, model.ChannelEmail)
	assert.Error(t, err)
}

func TestEvaluateInvalidClock(t *testing.T) {
	now := time.Date(2026, 1, 10, 23, 30, 0, 0, time.UTC)
	qh := enabledWindow("25:99", "08:00", "UTC")

	_, err := Evaluate(now, qh, model.PriorityLow, model.ChannelEmail)
	assert.Error(t, err)
}
