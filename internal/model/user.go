package model

import (
	"database/sql/driver"
	"time"

	"github.com/remoodle/one/internal/moodle"
)

// NotificationLevel gates one notification category:
// 0 = off, 1 = on, 2 = mandatory (cannot be switched off by the user).
type NotificationLevel int

const (
	NotificationOff       NotificationLevel = 0
	NotificationOn        NotificationLevel = 1
	NotificationMandatory NotificationLevel = 2
)

// Enabled reports whether messages in this category should be delivered.
// Only an explicit off suppresses delivery.
func (l NotificationLevel) Enabled() bool {
	return l != NotificationOff
}

type NotificationSettings struct {
	GradeUpdates      NotificationLevel `json:"gradeUpdates"`
	DeadlineReminders NotificationLevel `json:"deadlineReminders"`
	CourseChanges     NotificationLevel `json:"courseChanges"`
}

// DefaultThresholds are the reminder durations assigned to new users.
var DefaultThresholds = []string{"PT3H", "PT6H", "P1D"}

func DefaultSettings() Settings {
	return Settings{
		Notifications: NotificationSettings{
			GradeUpdates:      NotificationOn,
			DeadlineReminders: NotificationOff,
			CourseChanges:     NotificationOn,
		},
		DeadlineThresholds: append([]string(nil), DefaultThresholds...),
	}
}

// Settings is the per-user preference document. DeadlineThresholds are
// ISO-8601 durations, at most config.MaxReminderThresholds of them.
type Settings struct {
	Notifications      NotificationSettings `json:"notifications"`
	DeadlineThresholds []string             `json:"deadlineThresholds"`
}

func (s Settings) Value() (driver.Value, error) { return jsonbValue(s) }
func (s *Settings) Scan(src any) error          { return jsonbScan(src, s) }

type AuthCookies []moodle.AuthCookie

func (c AuthCookies) Value() (driver.Value, error) { return jsonbValue(c) }
func (c *AuthCookies) Scan(src any) error          { return jsonbScan(src, c) }

// DefaultHealth is the starting value of the advisory auth-health counter.
const DefaultHealth = 7

type User struct {
	ID           string      `db:"id" json:"id"`
	Name         string      `db:"name" json:"name"`
	Username     string      `db:"username" json:"username"`
	Handle       string      `db:"handle" json:"handle"`
	MoodleID     int64       `db:"moodle_id" json:"moodleId"`
	AuthCookies  AuthCookies `db:"auth_cookies" json:"-"`
	// Session cookie and key are rotated together on reauthentication and
	// must never cross an external boundary.
	SessionCookie string    `db:"session_cookie" json:"-"`
	SessionKey    string    `db:"session_key" json:"-"`
	Health        int       `db:"health" json:"health"`
	TelegramID    *int64    `db:"telegram_id" json:"telegramId,omitempty"`
	PasswordHash  *string   `db:"password_hash" json:"-"`
	Settings      Settings  `db:"settings" json:"settings"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time `db:"updated_at" json:"updatedAt"`
}

type CreateUserParams struct {
	Name          string
	Username      string
	Handle        string
	MoodleID      int64
	AuthCookies   AuthCookies
	SessionCookie string
	SessionKey    string
	TelegramID    *int64
}
