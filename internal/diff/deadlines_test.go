package diff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remoodle/one/internal/model"
	"github.com/remoodle/one/internal/moodle"
)

func event(id string, eventID int64, name string, timeStart int64, courseID int64, courseName string) model.Event {
	return model.Event{
		ID:     id,
		UserID: "user-1",
		Data: model.EventData{
			ID:        eventID,
			Name:      name,
			TimeStart: timeStart,
			Course:    moodle.EventCourse{ID: courseID, FullName: courseName},
		},
	}
}

func TestTrackDeadlineReminders(t *testing.T) {
	now := time.Date(2024, 9, 15, 12, 0, 0, 0, time.UTC)

	events := []model.Event{
		// Due in 11 hours: the PT12H threshold covers it, PT6H does not.
		event("ev-1", 515515, "Assignment 1 is due", now.Add(11*time.Hour).Unix(), 4911, "Research Methods and Tools"),
		// Already past due: never reminded.
		event("ev-2", 515578, "practice 1 is due", now.Add(-48*time.Hour).Unix(), 4963, "Computer Networks"),
	}

	reminders := TrackDeadlineReminders(now, []string{"PT6H", "PT12H", "P1D"}, events, nil)
	require.Len(t, reminders, 1)
	assert.Equal(t, "ev-1", reminders[0].EventID)
	assert.Equal(t, "user-1", reminders[0].UserID)
	assert.Equal(t, now, reminders[0].TriggeredAt)

	grouped := GroupDeadlineReminders(events, reminders)
	require.Len(t, grouped, 1)
	assert.EqualValues(t, 4911, grouped[0].CourseID)
	assert.Equal(t, "Research Methods and Tools", grouped[0].CourseName)
	require.Len(t, grouped[0].Reminders, 1)
	assert.EqualValues(t, 515515, grouped[0].Reminders[0].EventID)
	assert.Equal(t, "PT11H", grouped[0].Reminders[0].Remaining)
}

func TestTrackDeadlineRemindersUnsortedThresholds(t *testing.T) {
	now := time.Date(2024, 9, 15, 12, 0, 0, 0, time.UTC)
	events := []model.Event{
		event("ev-1", 1, "Assignment", now.Add(5*time.Hour).Unix(), 10, "Course"),
	}

	// The smallest covering threshold fires regardless of input order.
	reminders := TrackDeadlineReminders(now, []string{"P1D", "PT6H", "PT12H"}, events, nil)
	require.Len(t, reminders, 1)
}

func TestTrackDeadlineRemindersExactThreshold(t *testing.T) {
	now := time.Date(2024, 9, 15, 12, 0, 0, 0, time.UTC)
	events := []model.Event{
		event("ev-1", 1, "Assignment", now.Add(time.Hour).Unix(), 10, "Course"),
	}

	reminders := TrackDeadlineReminders(now, []string{"PT1H"}, events, nil)
	require.Len(t, reminders, 1)

	grouped := GroupDeadlineReminders(events, reminders)
	require.Len(t, grouped, 1)
	assert.Equal(t, "PT1H", grouped[0].Reminders[0].Remaining)
}

func TestTrackDeadlineRemindersThresholdNotReached(t *testing.T) {
	now := time.Date(2024, 9, 15, 12, 0, 0, 0, time.UTC)
	events := []model.Event{
		// Due in a little under 12 hours, only a PT6H threshold configured.
		event("ev-1", 1, "Assignment", now.Add(12*time.Hour-time.Minute).Unix(), 10, "Course"),
	}

	reminders := TrackDeadlineReminders(now, []string{"PT6H"}, events, nil)
	assert.Empty(t, reminders)
}

func TestTrackDeadlineRemindersAlreadyFired(t *testing.T) {
	now := time.Date(2024, 9, 15, 12, 0, 0, 0, time.UTC)
	events := []model.Event{
		event("ev-1", 1, "Assignment", now.Add(11*time.Hour).Unix(), 10, "Course"),
	}
	existing := []model.Reminder{
		{ID: "r-1", UserID: "user-1", EventID: "ev-1", TriggeredAt: now},
	}

	reminders := TrackDeadlineReminders(now, []string{"PT12H"}, events, existing)
	assert.Empty(t, reminders)
}

func TestTrackDeadlineRemindersStaleReminderRefires(t *testing.T) {
	now := time.Date(2024, 9, 15, 12, 0, 0, 0, time.UTC)
	events := []model.Event{
		// Due in 5 hours; a reminder fired two days ago, before the PT6H
		// point, so the closer threshold fires again.
		event("ev-1", 1, "Assignment", now.Add(5*time.Hour).Unix(), 10, "Course"),
	}
	existing := []model.Reminder{
		{ID: "r-1", UserID: "user-1", EventID: "ev-1", TriggeredAt: now.Add(-48 * time.Hour)},
	}

	reminders := TrackDeadlineReminders(now, []string{"PT6H", "P1D"}, events, existing)
	require.Len(t, reminders, 1)
}

func TestTrackDeadlineRemindersIdempotent(t *testing.T) {
	now := time.Date(2024, 9, 15, 12, 0, 0, 0, time.UTC)
	events := []model.Event{
		event("ev-1", 1, "Assignment 1", now.Add(3*time.Hour).Unix(), 10, "Course A"),
		event("ev-2", 2, "Assignment 2", now.Add(20*time.Hour).Unix(), 11, "Course B"),
	}
	thresholds := []string{"PT6H", "P1D"}

	first := TrackDeadlineReminders(now, thresholds, events, nil)
	require.Len(t, first, 2)

	fired := make([]model.Reminder, len(first))
	for i, p := range first {
		fired[i] = model.Reminder{ID: p.EventID, UserID: p.UserID, EventID: p.EventID, TriggeredAt: p.TriggeredAt}
	}

	second := TrackDeadlineReminders(now.Add(time.Minute), thresholds, events, fired)
	assert.Empty(t, second)
}

func TestTrackDeadlineRemindersSkipsInvalidInput(t *testing.T) {
	now := time.Date(2024, 9, 15, 12, 0, 0, 0, time.UTC)
	events := []model.Event{
		event("ev-1", 1, "No timestamp", 0, 10, "Course"),
		event("ev-2", 2, "Valid", now.Add(time.Hour).Unix(), 10, "Course"),
	}

	reminders := TrackDeadlineReminders(now, []string{"garbage", "PT0S", "PT2H"}, events, nil)
	require.Len(t, reminders, 1)
	assert.Equal(t, "ev-2", reminders[0].EventID)
}

func TestGroupDeadlineRemindersGroupsByCourse(t *testing.T) {
	now := time.Date(2024, 9, 15, 12, 0, 0, 0, time.UTC)
	due := now.Add(11 * time.Hour).Unix()

	events := []model.Event{
		event("ev-1", 1, "Assignment 1 is due", due, 100, "Research Methods"),
		event("ev-2", 2, "Assignment 2 is due", due, 100, "Research Methods"),
		event("ev-3", 3, "Essay is due", due, 200, "Writing"),
	}
	reminders := []model.CreateReminderParams{
		{UserID: "user-1", EventID: "ev-1", TriggeredAt: now},
		{UserID: "user-1", EventID: "ev-2", TriggeredAt: now},
		{UserID: "user-1", EventID: "ev-3", TriggeredAt: now},
		{UserID: "user-1", EventID: "ev-unknown", TriggeredAt: now},
	}

	grouped := GroupDeadlineReminders(events, reminders)
	require.Len(t, grouped, 2)
	assert.Equal(t, "Research Methods", grouped[0].CourseName)
	require.Len(t, grouped[0].Reminders, 2)
	assert.Equal(t, "Writing", grouped[1].CourseName)
	require.Len(t, grouped[1].Reminders, 1)
}
