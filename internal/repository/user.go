package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/remoodle/one/internal/model"
)

type UserRepository interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
	ActiveUserIDs(ctx context.Context) ([]string, error)
	Create(ctx context.Context, params model.CreateUserParams) (*model.User, error)
	UpdateSessionCredentials(ctx context.Context, moodleID int64, sessionCookie, sessionKey string) error
	UpdateSettings(ctx context.Context, id string, settings model.Settings) error
	DecrementHealth(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) UserRepository
}

type userRepo struct {
	db sqlxDB
}

func NewUserRepository(db *sqlx.DB) UserRepository {
	return &userRepo{db: db}
}

func (r *userRepo) WithTx(tx *sqlx.Tx) UserRepository {
	return &userRepo{db: tx}
}

func (r *userRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	err := r.db.GetContext(ctx, &user, `
		SELECT * FROM users WHERE id = $1
	`, id)
	return HandleNotFound(&user, err)
}

// ActiveUserIDs returns every linked user eligible for scheduled syncs.
// The health counter is advisory and deliberately not part of the filter.
func (r *userRepo) ActiveUserIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.SelectContext(ctx, &ids, `
		SELECT id FROM users
		WHERE session_cookie <> ''
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *userRepo) Create(ctx context.Context, params model.CreateUserParams) (*model.User, error) {
	id := uuid.Must(uuid.NewV7()).String()
	handle := params.Handle
	if handle == "" {
		handle = id
	}

	var user model.User
	err := r.db.GetContext(ctx, &user, `
		INSERT INTO users (
			id, name, username, handle, moodle_id, auth_cookies,
			session_cookie, session_key, health, telegram_id, settings
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING *
	`, id, params.Name, params.Username, handle, params.MoodleID, params.AuthCookies,
		params.SessionCookie, params.SessionKey, model.DefaultHealth, params.TelegramID,
		model.DefaultSettings())
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateSessionCredentials writes back a rotated session triple. Keyed by the
// portal identity because rotation happens inside the portal client, which
// only knows the remote user id.
func (r *userRepo) UpdateSessionCredentials(ctx context.Context, moodleID int64, sessionCookie, sessionKey string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users SET
			session_cookie = $2,
			session_key = $3,
			updated_at = NOW()
		WHERE moodle_id = $1
	`, moodleID, sessionCookie, sessionKey)
	return err
}

func (r *userRepo) UpdateSettings(ctx context.Context, id string, settings model.Settings) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users SET
			settings = $2,
			updated_at = NOW()
		WHERE id = $1
	`, id, settings)
	return err
}

func (r *userRepo) DecrementHealth(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users SET
			health = health - 1,
			updated_at = NOW()
		WHERE id = $1
	`, id)
	return err
}

// Delete removes the user; owned courses, grades, events and reminders go
// with it via ON DELETE CASCADE.
func (r *userRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM users WHERE id = $1
	`, id)
	return err
}
