package notify

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/remoodle/one/internal/config"
	"github.com/remoodle/one/internal/model"
	"github.com/remoodle/one/internal/queue"
)

// Category names one notification preference toggle.
type Category string

const (
	CategoryGradeUpdates      Category = "gradeUpdates"
	CategoryDeadlineReminders Category = "deadlineReminders"
	CategoryCourseChanges     Category = "courseChanges"
)

// Dispatcher gates rendered messages on the user's preferences and hands
// them to the delivery queue. Queue and job names are injected to keep the
// package free of orchestration wiring.
type Dispatcher struct {
	queue         *queue.Queue
	deliveryQueue string
	deliveryJob   string
}

func NewDispatcher(q *queue.Queue, deliveryQueue, deliveryJob string) *Dispatcher {
	return &Dispatcher{
		queue:         q,
		deliveryQueue: deliveryQueue,
		deliveryJob:   deliveryJob,
	}
}

// MessagePayload is the delivery job body.
type MessagePayload struct {
	UserID  string `json:"userId"`
	Message string `json:"message"`
}

func levelFor(settings model.NotificationSettings, category Category) model.NotificationLevel {
	switch category {
	case CategoryGradeUpdates:
		return settings.GradeUpdates
	case CategoryDeadlineReminders:
		return settings.DeadlineReminders
	case CategoryCourseChanges:
		return settings.CourseChanges
	default:
		return model.NotificationOff
	}
}

// Dispatch enqueues exactly one delivery job for the message, deduplicated
// by user and exact message text so a recomputed diff cannot double-send.
// Returns whether a job was enqueued: suppressed preferences, a missing
// messenger link and dedup hits all short-circuit to false.
func (d *Dispatcher) Dispatch(ctx context.Context, user *model.User, category Category, message string) (bool, error) {
	if message == "" {
		return false, nil
	}

	if !levelFor(user.Settings.Notifications, category).Enabled() {
		log.Debug().Str("userId", user.ID).Str("category", string(category)).
			Msg("notification suppressed by settings")
		return false, nil
	}

	if user.TelegramID == nil {
		log.Debug().Str("userId", user.ID).Str("category", string(category)).
			Msg("notification skipped, no messenger link")
		return false, nil
	}

	enqueued, err := d.queue.Enqueue(ctx, d.deliveryQueue, d.deliveryJob,
		MessagePayload{UserID: user.ID, Message: message},
		queue.Options{
			Attempts:     3,
			BackoffDelay: config.DeliveryRetryDelay,
			DedupKey:     user.ID + "::" + message,
		})
	if err != nil {
		return false, err
	}

	if enqueued {
		log.Info().Str("userId", user.ID).Str("category", string(category)).Msg("notification enqueued")
	}
	return enqueued, nil
}
