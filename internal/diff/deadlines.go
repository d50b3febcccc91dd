package diff

import (
	"sort"
	"time"

	"github.com/remoodle/one/internal/model"
	"github.com/remoodle/one/internal/util"
)

// TrackDeadlineReminders decides which deadline events are due a reminder.
// Thresholds are ISO-8601 durations sorted ascending; per event the smallest
// threshold covering the remaining time fires, unless a reminder already
// fired at or after that threshold's point in time. A bigger threshold never
// fires once a smaller one has: thresholds are monotonic. The returned params
// are insert-only rows; a fired reminder is never retracted.
//
// Unparsable or non-positive thresholds are skipped.
func TrackDeadlineReminders(now time.Time, thresholds []string, events []model.Event, existing []model.Reminder) []model.CreateReminderParams {
	parsed := make([]time.Duration, 0, len(thresholds))
	for _, raw := range thresholds {
		d, err := util.ParseISODuration(raw)
		if err != nil || d <= 0 {
			continue
		}
		parsed = append(parsed, d)
	}
	sort.Slice(parsed, func(i, j int) bool { return parsed[i] < parsed[j] })

	existingByEvent := make(map[string][]model.Reminder, len(existing))
	for _, r := range existing {
		existingByEvent[r.EventID] = append(existingByEvent[r.EventID], r)
	}

	var reminders []model.CreateReminderParams

	for _, event := range events {
		if event.Data.TimeStart <= 0 {
			continue
		}
		due := time.Unix(event.Data.TimeStart, 0)
		remaining := due.Sub(now)
		if remaining <= 0 {
			continue
		}

		for _, threshold := range parsed {
			if threshold < remaining {
				continue
			}

			thresholdAt := due.Add(-threshold)

			alreadyFired := false
			for _, r := range existingByEvent[event.ID] {
				if !r.TriggeredAt.Before(thresholdAt) {
					alreadyFired = true
					break
				}
			}

			if !alreadyFired {
				reminders = append(reminders, model.CreateReminderParams{
					UserID:      event.UserID,
					EventID:     event.ID,
					TriggeredAt: now,
				})
			}
			break
		}
	}

	return reminders
}

type DeadlineReminder struct {
	EventID        int64  `json:"event_id"`
	EventName      string `json:"event_name"`
	EventTimeStart int64  `json:"event_timestart"`
	Remaining      string `json:"remaining"`
}

type CourseDeadlineReminders struct {
	CourseID   int64              `json:"course_id"`
	CourseName string             `json:"course_name"`
	Reminders  []DeadlineReminder `json:"reminders"`
}

// GroupDeadlineReminders joins fired reminders back to their events and
// groups them per course, with the remaining time at trigger rendered as an
// ISO-8601 duration. Event order determines course order.
func GroupDeadlineReminders(events []model.Event, reminders []model.CreateReminderParams) []CourseDeadlineReminders {
	eventsByID := make(map[string]model.Event, len(events))
	for _, e := range events {
		eventsByID[e.ID] = e
	}

	var grouped []CourseDeadlineReminders
	courseIndex := make(map[int64]int)

	for _, reminder := range reminders {
		event, ok := eventsByID[reminder.EventID]
		if !ok {
			continue
		}

		courseID := event.Data.Course.ID
		idx, seen := courseIndex[courseID]
		if !seen {
			idx = len(grouped)
			courseIndex[courseID] = idx
			grouped = append(grouped, CourseDeadlineReminders{
				CourseID:   courseID,
				CourseName: event.Data.Course.FullName,
			})
		}

		due := time.Unix(event.Data.TimeStart, 0)
		grouped[idx].Reminders = append(grouped[idx].Reminders, DeadlineReminder{
			EventID:        event.Data.ID,
			EventName:      event.Data.Name,
			EventTimeStart: event.Data.TimeStart,
			Remaining:      util.FormatISODuration(due.Sub(reminder.TriggeredAt)),
		})
	}

	return grouped
}
