package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/remoodle/one/internal/model"
)

// ReminderRepository is insert-only apart from the cascade on user removal:
// a fired reminder is never retracted.
type ReminderRepository interface {
	FindByUser(ctx context.Context, userID string) ([]model.Reminder, error)
	CreateMany(ctx context.Context, params []model.CreateReminderParams) ([]model.Reminder, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) ReminderRepository
}

type reminderRepo struct {
	db sqlxDB
}

func NewReminderRepository(db *sqlx.DB) ReminderRepository {
	return &reminderRepo{db: db}
}

func (r *reminderRepo) WithTx(tx *sqlx.Tx) ReminderRepository {
	return &reminderRepo{db: tx}
}

func (r *reminderRepo) FindByUser(ctx context.Context, userID string) ([]model.Reminder, error) {
	var reminders []model.Reminder
	err := r.db.SelectContext(ctx, &reminders, `
		SELECT * FROM reminders
		WHERE user_id = $1
		ORDER BY triggered_at
	`, userID)
	if err != nil {
		return nil, err
	}
	return reminders, nil
}

func (r *reminderRepo) CreateMany(ctx context.Context, params []model.CreateReminderParams) ([]model.Reminder, error) {
	created := make([]model.Reminder, 0, len(params))
	for _, p := range params {
		var reminder model.Reminder
		err := r.db.GetContext(ctx, &reminder, `
			INSERT INTO reminders (id, user_id, event_id, triggered_at)
			VALUES ($1, $2, $3, $4)
			RETURNING *
		`, uuid.Must(uuid.NewV7()).String(), p.UserID, p.EventID, p.TriggeredAt)
		if err != nil {
			return created, err
		}
		created = append(created, reminder)
	}
	return created, nil
}
