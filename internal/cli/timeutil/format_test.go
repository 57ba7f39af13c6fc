package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatEpochNever(t *testing.T) {
	assert.Equal(t, "never", FormatEpoch(0))
	assert.Equal(t, "never", FormatEpoch(-1))
}

func TestFormatEpoch(t *testing.T) {
	sec := time.Date(2026, 1, 2, 15, 4, 5, 0, time.Local).Unix()
	assert.Contains(t, FormatEpoch(sec), "Jan 2")
}

func TestFormatAgo(t *testing.T) {
	now := time.Now()
	assert.Equal(t, "never", FormatAgo(0))
	assert.Contains(t, FormatAgo(now.Add(-30*time.Second).Unix()), "s ago")
	assert.Contains(t, FormatAgo(now.Add(-5*time.Minute).Unix()), "m ago")
	assert.Contains(t, FormatAgo(now.Add(-3*time.Hour).Unix()), "h ago")
	assert.Contains(t, FormatAgo(now.Add(-50*time.Hour).Unix()), "d ago")
}
