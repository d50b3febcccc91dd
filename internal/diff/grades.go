package diff

import (
	"strings"

	"github.com/remoodle/one/internal/moodle"
)

// GradeValue is one side of a grade transition. A nil Raw means the value is
// absent; a zero grade is rendered as absent too, matching how the portal
// shows untouched items.
type GradeValue struct {
	Raw       *float64 `json:"raw"`
	Formatted string   `json:"formatted,omitempty"`
}

type GradeChange struct {
	Name     string     `json:"name"`
	Max      float64    `json:"max"`
	Previous GradeValue `json:"previous"`
	Updated  GradeValue `json:"updated"`
}

type CourseGradeChanges struct {
	CourseID   int64         `json:"course_id"`
	CourseName string        `json:"course_name"`
	Changes    []GradeChange `json:"changes"`
}

// TrackGradeChanges compares two grade snapshots of one course, keyed by
// grade item id. Suppressed as noise: items with blank names, unchanged
// values, and null<->0 transitions in either direction (the portal flips
// between the two while graders work through a submission).
func TrackGradeChanges(oldGrades, newGrades []moodle.Grade) []GradeChange {
	oldByID := make(map[int64]moodle.Grade, len(oldGrades))
	for _, g := range oldGrades {
		oldByID[g.ID] = g
	}

	var changes []GradeChange

	for _, grade := range newGrades {
		if strings.TrimSpace(grade.ItemName) == "" {
			continue
		}

		var prevRaw *float64
		var prevFormatted string
		if old, ok := oldByID[grade.ID]; ok {
			prevRaw = old.GradeRaw
			prevFormatted = old.GradeFormatted
		}
		updRaw := grade.GradeRaw
		updFormatted := grade.GradeFormatted

		if (prevRaw == nil && isZero(updRaw)) || (isZero(prevRaw) && updRaw == nil) {
			continue
		}
		if prevRaw == nil && updRaw == nil {
			continue
		}
		if prevRaw != nil && updRaw != nil && *prevRaw == *updRaw {
			continue
		}

		change := GradeChange{Name: grade.ItemName, Max: grade.GradeMax}

		switch {
		case !present(prevRaw) && present(updRaw):
			change.Updated = GradeValue{Raw: updRaw, Formatted: updFormatted}
		case present(prevRaw) && present(updRaw):
			change.Previous = GradeValue{Raw: prevRaw, Formatted: prevFormatted}
			change.Updated = GradeValue{Raw: updRaw, Formatted: updFormatted}
		case present(prevRaw) && !present(updRaw):
			change.Previous = GradeValue{Raw: prevRaw, Formatted: prevFormatted}
		default:
			continue
		}

		changes = append(changes, change)
	}

	return changes
}

// TrackCourseGradeChanges wraps TrackGradeChanges with the course identity
// the formatter needs.
func TrackCourseGradeChanges(courseID int64, courseName string, oldGrades, newGrades []moodle.Grade) CourseGradeChanges {
	return CourseGradeChanges{
		CourseID:   courseID,
		CourseName: courseName,
		Changes:    TrackGradeChanges(oldGrades, newGrades),
	}
}

func isZero(v *float64) bool { return v != nil && *v == 0 }

func present(v *float64) bool { return v != nil && *v != 0 }
