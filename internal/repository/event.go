package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/remoodle/one/internal/model"
)

type EventRepository interface {
	// FindByUser returns the user's events ordered by start time ascending.
	FindByUser(ctx context.Context, userID string) ([]model.Event, error)
	Upsert(ctx context.Context, params model.UpsertEventParams) (*model.Event, error)
	// DeleteAbsent removes the user's events whose remote id is not in keep.
	DeleteAbsent(ctx context.Context, userID string, keep []int64) (int64, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) EventRepository
}

type eventRepo struct {
	db sqlxDB
}

func NewEventRepository(db *sqlx.DB) EventRepository {
	return &eventRepo{db: db}
}

func (r *eventRepo) WithTx(tx *sqlx.Tx) EventRepository {
	return &eventRepo{db: tx}
}

func (r *eventRepo) FindByUser(ctx context.Context, userID string) ([]model.Event, error) {
	var events []model.Event
	err := r.db.SelectContext(ctx, &events, `
		SELECT * FROM events
		WHERE user_id = $1
		ORDER BY (data->>'timestart')::bigint
	`, userID)
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *eventRepo) Upsert(ctx context.Context, params model.UpsertEventParams) (*model.Event, error) {
	var event model.Event
	err := r.db.GetContext(ctx, &event, `
		INSERT INTO events (id, user_id, data)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, ((data->>'id')::bigint)) DO UPDATE SET
			data = EXCLUDED.data,
			updated_at = NOW()
		RETURNING *
	`, uuid.Must(uuid.NewV7()).String(), params.UserID, params.Data)
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *eventRepo) DeleteAbsent(ctx context.Context, userID string, keep []int64) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM events
		WHERE user_id = $1
		AND NOT ((data->>'id')::bigint = ANY($2))
	`, userID, pq.Array(keep))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
