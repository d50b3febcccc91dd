package model

import (
	"database/sql/driver"
	"time"

	"github.com/remoodle/one/internal/moodle"
)

type GradeData moodle.Grade

func (d GradeData) Value() (driver.Value, error) { return jsonbValue(d) }
func (d *GradeData) Scan(src any) error          { return jsonbScan(src, d) }

type Grade struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"userId"`
	CourseID  int64     `db:"course_id" json:"courseId"`
	Data      GradeData `db:"data" json:"data"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

type UpsertGradeParams struct {
	UserID   string
	CourseID int64
	Data     GradeData
}
