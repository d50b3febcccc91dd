package model

import "time"

// Reminder records that a deadline threshold already fired for an event.
// Rows are insert-only: once fired a reminder is never retracted.
type Reminder struct {
	ID          string    `db:"id" json:"id"`
	UserID      string    `db:"user_id" json:"userId"`
	EventID     string    `db:"event_id" json:"eventId"`
	TriggeredAt time.Time `db:"triggered_at" json:"triggeredAt"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}

type CreateReminderParams struct {
	UserID      string
	EventID     string
	TriggeredAt time.Time
}
