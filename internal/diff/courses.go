// Package diff holds the pure change-tracking engines that turn snapshot
// pairs into notification-worthy changes. Everything here is deterministic
// and side-effect free; persistence and delivery live elsewhere.
package diff

import (
	"github.com/remoodle/one/internal/model"
	"github.com/remoodle/one/internal/moodle"
)

type CourseChangeType string

const (
	CourseAdded                 CourseChangeType = "added"
	CourseDeleted               CourseChangeType = "deleted"
	CourseClassificationChanged CourseChangeType = "classification_changed"
)

type CourseChange struct {
	Type               CourseChangeType      `json:"type"`
	CourseID           int64                 `json:"course_id"`
	CourseName         string                `json:"course_name"`
	FromClassification moodle.Classification `json:"from_classification,omitempty"`
	ToClassification   moodle.Classification `json:"to_classification,omitempty"`
}

type CourseChanges struct {
	Changes []CourseChange `json:"changes"`
}

// TrackCourseChanges compares two course snapshots keyed by remote course id.
// A course that first appears already classified as past is not reported:
// backfills of finished semesters are noise, not news.
func TrackCourseChanges(oldCourses, newCourses []model.Course) CourseChanges {
	oldByID := make(map[int64]model.Course, len(oldCourses))
	for _, c := range oldCourses {
		oldByID[c.Data.ID] = c
	}
	newByID := make(map[int64]model.Course, len(newCourses))
	for _, c := range newCourses {
		newByID[c.Data.ID] = c
	}

	var changes []CourseChange

	for _, course := range newCourses {
		old, existed := oldByID[course.Data.ID]
		if !existed {
			if course.Classification != moodle.ClassificationPast {
				changes = append(changes, CourseChange{
					Type:             CourseAdded,
					CourseID:         course.Data.ID,
					CourseName:       course.Data.FullName,
					ToClassification: course.Classification,
				})
			}
			continue
		}

		if old.Classification != course.Classification {
			changes = append(changes, CourseChange{
				Type:               CourseClassificationChanged,
				CourseID:           course.Data.ID,
				CourseName:         course.Data.FullName,
				FromClassification: old.Classification,
				ToClassification:   course.Classification,
			})
		}
	}

	for _, course := range oldCourses {
		if _, exists := newByID[course.Data.ID]; !exists {
			changes = append(changes, CourseChange{
				Type:               CourseDeleted,
				CourseID:           course.Data.ID,
				CourseName:         course.Data.FullName,
				FromClassification: course.Classification,
			})
		}
	}

	return CourseChanges{Changes: changes}
}
