package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePeriod(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	since, normalized, err := resolvePeriod("24h", now)
	require.NoError(t, err)
	assert.Equal(t, "24h", normalized)
	assert.Equal(t, now.Add(-24*time.Hour), since)

	since, normalized, err = resolvePeriod("", now)
	require.NoError(t, err)
	assert.Equal(t, "7d", normalized, "empty period defaults to 7d")
	assert.Equal(t, now.Add(-7*24*time.Hour), since)

	_, _, err = resolvePeriod("90d", now)
	assert.ErrorIs(t, err, ErrInvalidPeriod)

	_, _, err = resolvePeriod("yesterday", now)
	assert.ErrorIs(t, err, ErrInvalidPeriod)
}
