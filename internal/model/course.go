package model

import (
	"database/sql/driver"
	"time"

	"github.com/remoodle/one/internal/moodle"
)

// CourseStatus is the explicit lifecycle view over the nullable disabled_at
// column. A course absent from the store entirely is removed.
type CourseStatus string

const (
	CourseActive   CourseStatus = "active"
	CourseDisabled CourseStatus = "disabled"
)

type CourseData moodle.Course

func (d CourseData) Value() (driver.Value, error) { return jsonbValue(d) }
func (d *CourseData) Scan(src any) error          { return jsonbScan(src, d) }

type Course struct {
	ID             string                `db:"id" json:"id"`
	UserID         string                `db:"user_id" json:"userId"`
	UserMoodleID   int64                 `db:"user_moodle_id" json:"userMoodleId"`
	Data           CourseData            `db:"data" json:"data"`
	Classification moodle.Classification `db:"classification" json:"classification"`
	// DisabledAt marks soft-deletion: the remote course became inaccessible
	// but grade history is preserved. Distinct from true removal.
	DisabledAt *time.Time `db:"disabled_at" json:"disabledAt,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updatedAt"`
}

func (c *Course) Status() CourseStatus {
	if c.DisabledAt != nil {
		return CourseDisabled
	}
	return CourseActive
}

type UpsertCourseParams struct {
	UserID         string
	UserMoodleID   int64
	Data           CourseData
	Classification moodle.Classification
}
