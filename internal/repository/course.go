package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/remoodle/one/internal/model"
	"github.com/remoodle/one/internal/moodle"
)

type CourseRepository interface {
	FindByUser(ctx context.Context, userID string) ([]model.Course, error)
	// ActiveByUsers returns non-disabled courses for the given users,
	// optionally narrowed to one classification.
	ActiveByUsers(ctx context.Context, userIDs []string, classification moodle.Classification) ([]model.Course, error)
	Upsert(ctx context.Context, params model.UpsertCourseParams) (*model.Course, error)
	// DeleteAbsent removes the user's courses whose remote id is not in keep
	// and returns the pruned remote ids. Full snapshot replace semantics:
	// the caller passes the ids of the latest remote fetch and drops the
	// dependent grade rows itself.
	DeleteAbsent(ctx context.Context, userID string, keep []int64) ([]int64, error)
	// Disable soft-deletes one course, preserving its grade history.
	Disable(ctx context.Context, userID string, moodleCourseID int64, at time.Time) error
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) CourseRepository
}

type courseRepo struct {
	db sqlxDB
}

func NewCourseRepository(db *sqlx.DB) CourseRepository {
	return &courseRepo{db: db}
}

func (r *courseRepo) WithTx(tx *sqlx.Tx) CourseRepository {
	return &courseRepo{db: tx}
}

func (r *courseRepo) FindByUser(ctx context.Context, userID string) ([]model.Course, error) {
	var courses []model.Course
	err := r.db.SelectContext(ctx, &courses, `
		SELECT * FROM courses
		WHERE user_id = $1
		ORDER BY (data->>'id')::bigint
	`, userID)
	if err != nil {
		return nil, err
	}
	return courses, nil
}

func (r *courseRepo) ActiveByUsers(ctx context.Context, userIDs []string, classification moodle.Classification) ([]model.Course, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT * FROM courses
		WHERE user_id = ANY($1)
		AND disabled_at IS NULL
	`
	args := []interface{}{pq.Array(userIDs)}

	if classification != "" {
		query += ` AND classification = $2`
		args = append(args, classification)
	}
	query += ` ORDER BY user_id, (data->>'id')::bigint`

	var courses []model.Course
	if err := r.db.SelectContext(ctx, &courses, query, args...); err != nil {
		return nil, err
	}
	return courses, nil
}

func (r *courseRepo) Upsert(ctx context.Context, params model.UpsertCourseParams) (*model.Course, error) {
	var course model.Course
	err := r.db.GetContext(ctx, &course, `
		INSERT INTO courses (id, user_id, user_moodle_id, data, classification)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, ((data->>'id')::bigint)) DO UPDATE SET
			data = EXCLUDED.data,
			classification = EXCLUDED.classification,
			updated_at = NOW()
		RETURNING *
	`, uuid.Must(uuid.NewV7()).String(), params.UserID, params.UserMoodleID,
		params.Data, params.Classification)
	if err != nil {
		return nil, err
	}
	return &course, nil
}

func (r *courseRepo) DeleteAbsent(ctx context.Context, userID string, keep []int64) ([]int64, error) {
	var pruned []int64
	err := r.db.SelectContext(ctx, &pruned, `
		DELETE FROM courses
		WHERE user_id = $1
		AND NOT ((data->>'id')::bigint = ANY($2))
		RETURNING (data->>'id')::bigint
	`, userID, pq.Array(keep))
	if err != nil {
		return nil, err
	}
	return pruned, nil
}

func (r *courseRepo) Disable(ctx context.Context, userID string, moodleCourseID int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE courses SET
			disabled_at = $3,
			updated_at = NOW()
		WHERE user_id = $1
		AND (data->>'id')::bigint = $2
		AND disabled_at IS NULL
	`, userID, moodleCourseID, at)
	return err
}
