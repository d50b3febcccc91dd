package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseISODuration(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Duration
	}{
		{"PT1H", time.Hour},
		{"PT6H", 6 * time.Hour},
		{"PT12H", 12 * time.Hour},
		{"P1D", 24 * time.Hour},
		{"P1W", 7 * 24 * time.Hour},
		{"PT30M", 30 * time.Minute},
		{"PT90S", 90 * time.Second},
		{"P1DT6H", 30 * time.Hour},
		{"PT1H30M", 90 * time.Minute},
		{"P2DT3H4M5S", 51*time.Hour + 4*time.Minute + 5*time.Second},
		{"PT0S", 0},
		{"-PT1H", -time.Hour},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			d, err := ParseISODuration(tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, d)
		})
	}

	t.Run("rejects malformed input", func(t *testing.T) {
		for _, input := range []string{"", "P", "1H", "PT", "PTH", "PT1", "PT1X", "T1H", "P1H"} {
			_, err := ParseISODuration(input)
			assert.Error(t, err, "input %q should be rejected", input)
		}
	})
}

func TestFormatISODuration(t *testing.T) {
	tests := []struct {
		input    time.Duration
		expected string
	}{
		{11 * time.Hour, "PT11H"},
		{time.Hour, "PT1H"},
		{24 * time.Hour, "P1D"},
		{30 * time.Hour, "P1DT6H"},
		{90 * time.Minute, "PT1H30M"},
		{59 * time.Minute, "PT59M"},
		{0, "PT0S"},
		{-time.Hour, "PT0S"},
		{500 * time.Millisecond, "PT0S"},
	}

	for _, tc := range tests {
		t.Run(tc.expected, func(t *testing.T) {
			assert.Equal(t, tc.expected, FormatISODuration(tc.input))
		})
	}
}

func TestFormatISODurationRoundTrip(t *testing.T) {
	for _, s := range []string{"PT1H", "PT6H", "PT12H", "P1D", "PT30M", "P1DT6H"} {
		d, err := ParseISODuration(s)
		require.NoError(t, err)
		assert.Equal(t, s, FormatISODuration(d))
	}
}

func TestTimeLeft(t *testing.T) {
	now := time.Date(2024, 9, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		deadline time.Time
		expected string
	}{
		{"under an hour", now.Add(59 * time.Minute), "00:59:00"},
		{"hours only", now.Add(11 * time.Hour), "11:00:00"},
		{"with days", now.Add(49*time.Hour + 30*time.Minute), "2 days, 01:30:00"},
		{"single day", now.Add(25 * time.Hour), "1 day, 01:00:00"},
		{"with months", now.Add(31*24*time.Hour + time.Hour), "1 month, 1 day, 01:00:00"},
		{"past due clamps to zero", now.Add(-time.Hour), "00:00:00"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, TimeLeft(now, tc.deadline))
		})
	}
}

func TestFormatDate(t *testing.T) {
	ts := time.Date(2024, 9, 15, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, "Sun, Sep 15, 2024, 23:00", FormatDate(ts))
}
