package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJobDefaults(t *testing.T) {
	job, err := newJob("grades-update", "grades::update-by-course", map[string]any{"userId": "u1"}, Options{})
	require.NoError(t, err)

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, "grades-update", job.Queue)
	assert.Equal(t, "grades::update-by-course", job.Name)
	assert.JSONEq(t, `{"userId":"u1"}`, string(job.Payload))
	assert.Equal(t, 1, job.MaxAttempts)
	assert.Zero(t, job.Attempt)
	assert.Nil(t, job.Flow)
}

func TestNewJobNilPayload(t *testing.T) {
	job, err := newJob("session-sync", "session::schedule-sync", nil, Options{Attempts: 2})
	require.NoError(t, err)
	assert.Nil(t, job.Payload)
	assert.Equal(t, 2, job.MaxAttempts)
}

func TestRetryAtExponentialBackoff(t *testing.T) {
	now := time.Date(2024, 9, 15, 12, 0, 0, 0, time.UTC)
	job := &Job{BackoffDelay: 2 * time.Second}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
	}

	for _, tc := range tests {
		job.Attempt = tc.attempt
		assert.Equal(t, now.Add(tc.expected), retryAt(job, now), "attempt %d", tc.attempt)
	}
}

func TestRetryAtNoBackoff(t *testing.T) {
	now := time.Date(2024, 9, 15, 12, 0, 0, 0, time.UTC)
	job := &Job{Attempt: 3}
	assert.Equal(t, now, retryAt(job, now))
}

func TestKeyNamespaces(t *testing.T) {
	assert.Equal(t, "queue:telegram", listKey("telegram"))
	assert.Equal(t, "delayed:telegram", delayedKey("telegram"))
	assert.Equal(t, "dedup:telegram:u1::hi", dedupKey("telegram", "u1::hi"))
	assert.Equal(t, "flow:f1", flowKey("f1"))
	assert.Equal(t, "flow:f1:results", flowResultsKey("f1"))
}
