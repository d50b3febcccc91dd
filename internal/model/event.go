package model

import (
	"database/sql/driver"
	"time"

	"github.com/remoodle/one/internal/moodle"
)

type EventData moodle.Event

func (d EventData) Value() (driver.Value, error) { return jsonbValue(d) }
func (d *EventData) Scan(src any) error          { return jsonbScan(src, d) }

type Event struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"userId"`
	Data      EventData `db:"data" json:"data"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

type UpsertEventParams struct {
	UserID string
	Data   EventData
}
