package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/remoodle/one/internal/model"
)

type GradeRepository interface {
	FindByCourse(ctx context.Context, userID string, courseID int64) ([]model.Grade, error)
	// FindByCourseItems returns the user's grades for the given grade item ids.
	FindByCourseItems(ctx context.Context, userID string, courseID int64, itemIDs []int64) ([]model.Grade, error)
	Upsert(ctx context.Context, params model.UpsertGradeParams) (*model.Grade, error)
	DeleteByCourse(ctx context.Context, userID string, courseID int64) (int64, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) GradeRepository
}

type gradeRepo struct {
	db sqlxDB
}

func NewGradeRepository(db *sqlx.DB) GradeRepository {
	return &gradeRepo{db: db}
}

func (r *gradeRepo) WithTx(tx *sqlx.Tx) GradeRepository {
	return &gradeRepo{db: tx}
}

func (r *gradeRepo) FindByCourse(ctx context.Context, userID string, courseID int64) ([]model.Grade, error) {
	var grades []model.Grade
	err := r.db.SelectContext(ctx, &grades, `
		SELECT * FROM grades
		WHERE user_id = $1 AND course_id = $2
		ORDER BY (data->>'id')::bigint
	`, userID, courseID)
	if err != nil {
		return nil, err
	}
	return grades, nil
}

func (r *gradeRepo) FindByCourseItems(ctx context.Context, userID string, courseID int64, itemIDs []int64) ([]model.Grade, error) {
	if len(itemIDs) == 0 {
		return nil, nil
	}

	var grades []model.Grade
	err := r.db.SelectContext(ctx, &grades, `
		SELECT * FROM grades
		WHERE user_id = $1 AND course_id = $2
		AND (data->>'id')::bigint = ANY($3)
		ORDER BY (data->>'id')::bigint
	`, userID, courseID, pq.Array(itemIDs))
	if err != nil {
		return nil, err
	}
	return grades, nil
}

func (r *gradeRepo) Upsert(ctx context.Context, params model.UpsertGradeParams) (*model.Grade, error) {
	var grade model.Grade
	err := r.db.GetContext(ctx, &grade, `
		INSERT INTO grades (id, user_id, course_id, data)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, ((data->>'id')::bigint)) DO UPDATE SET
			course_id = EXCLUDED.course_id,
			data = EXCLUDED.data,
			updated_at = NOW()
		RETURNING *
	`, uuid.Must(uuid.NewV7()).String(), params.UserID, params.CourseID, params.Data)
	if err != nil {
		return nil, err
	}
	return &grade, nil
}

func (r *gradeRepo) DeleteByCourse(ctx context.Context, userID string, courseID int64) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM grades
		WHERE user_id = $1 AND course_id = $2
	`, userID, courseID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
