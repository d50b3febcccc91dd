// Package sync pulls a user's portal state into the local store. Each
// operation is a full-snapshot sync: fetch everything, upsert, drop what the
// portal no longer returns. Operations optionally hand back before/after
// snapshot pairs for the diff engines.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/remoodle/one/internal/database"
	apperrors "github.com/remoodle/one/internal/errors"
	"github.com/remoodle/one/internal/model"
	"github.com/remoodle/one/internal/moodle"
	"github.com/remoodle/one/internal/repository"
)

// TxRunner executes a function inside one store transaction. Satisfied by
// *database.DB.
type TxRunner interface {
	WithTx(ctx context.Context, fn database.TxFunc) error
}

// PortalClient is the slice of the portal client the sync operations use.
type PortalClient interface {
	Call(ctx context.Context, method string, params any) (json.RawMessage, *moodle.RemoteError, error)
	Grades(ctx context.Context, courseID int64) ([]moodle.Grade, error)
}

// ClientFactory builds a portal client bound to one user's credentials.
type ClientFactory func(user *model.User) (PortalClient, error)

// DefaultClassifications are the timeline buckets synced when the caller does
// not narrow them. Future courses are invisible to students anyway.
var DefaultClassifications = []moodle.Classification{
	moodle.ClassificationInProgress,
	moodle.ClassificationPast,
}

type Service struct {
	users     repository.UserRepository
	courses   repository.CourseRepository
	grades    repository.GradeRepository
	events    repository.EventRepository
	newClient ClientFactory
	tx        TxRunner

	now func() time.Time
}

func NewService(
	users repository.UserRepository,
	courses repository.CourseRepository,
	grades repository.GradeRepository,
	events repository.EventRepository,
	newClient ClientFactory,
	tx TxRunner,
) *Service {
	return &Service{
		users:     users,
		courses:   courses,
		grades:    grades,
		events:    events,
		newClient: newClient,
		tx:        tx,
		now:       time.Now,
	}
}

// NewClientFactory returns the production factory: a portal client seeded
// with the user's stored session, rotating credentials back into the user
// repository on reauthentication.
func NewClientFactory(portalURL, msOnlineProxyURL string, users repository.UserRepository) ClientFactory {
	return func(user *model.User) (PortalClient, error) {
		return moodle.NewClient(portalURL,
			moodle.WithSession(user.MoodleID, user.SessionCookie, user.SessionKey),
			moodle.WithAuthCookies(user.AuthCookies),
			moodle.WithCredentialStore(credentialStore{users: users}),
			moodle.WithMSOnlineProxy(msOnlineProxyURL),
		)
	}
}

type credentialStore struct {
	users repository.UserRepository
}

func (s credentialStore) SaveCredentials(ctx context.Context, moodleUserID int64, sessionCookie, sessionKey string) error {
	return s.users.UpdateSessionCredentials(ctx, moodleUserID, sessionCookie, sessionKey)
}

func (s *Service) clientFor(ctx context.Context, userID string) (*model.User, PortalClient, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	if user == nil {
		return nil, nil, apperrors.NotFound("user")
	}

	client, err := s.newClient(user)
	if err != nil {
		return nil, nil, err
	}
	return user, client, nil
}

// handleTokenError decrements the user's session health when the portal
// reports an invalid token. The counter is advisory: nothing is disabled
// automatically, operators watch it to spot rotting sessions.
func (s *Service) handleTokenError(ctx context.Context, user *model.User, message string) {
	if !moodle.IsTokenMessage(message) {
		return
	}
	if err := s.users.DecrementHealth(ctx, user.ID); err != nil {
		log.Error().Err(err).Str("userId", user.ID).Msg("failed to decrement session health")
	}
}

// Session keeps the user's portal session alive with a touch call.
func (s *Service) Session(ctx context.Context, userID string) error {
	user, client, err := s.clientFor(ctx, userID)
	if err != nil {
		return err
	}

	data, rerr, err := client.Call(ctx, "core_session_touch", nil)
	if err != nil {
		return apperrors.Sync("failed to extend portal session", err)
	}
	if rerr != nil {
		s.handleTokenError(ctx, user, rerr.Message)
		return apperrors.Sync(fmt.Sprintf("failed to extend portal session: %s", rerr.Message), rerr)
	}

	var ok bool
	if err := json.Unmarshal(data, &ok); err != nil || !ok {
		return apperrors.Sync("failed to extend portal session: unsuccessful response", nil)
	}

	return nil
}

// Events syncs the user's upcoming calendar events from midnight UTC of
// today onward. Attendance-module events are dropped: they fire daily and
// carry no deadline. Events the portal stopped returning are deleted.
func (s *Service) Events(ctx context.Context, userID string) error {
	user, client, err := s.clientFor(ctx, userID)
	if err != nil {
		return err
	}

	midnight := s.now().Unix() / 86400 * 86400

	data, rerr, err := client.Call(ctx, "core_calendar_get_action_events_by_timesort", map[string]any{
		"timesortfrom": midnight,
	})
	if err != nil {
		return apperrors.Sync("failed to get events", err)
	}
	if rerr != nil {
		s.handleTokenError(ctx, user, rerr.Message)
		return apperrors.Sync(fmt.Sprintf("failed to get events: %s", rerr.Message), rerr)
	}

	var payload struct {
		Events []moodle.Event `json:"events"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return apperrors.Sync("failed to decode events response", err)
	}

	keep := make([]int64, 0, len(payload.Events))
	for _, event := range payload.Events {
		if event.Component == "mod_attendance" {
			continue
		}
		if _, err := s.events.Upsert(ctx, model.UpsertEventParams{
			UserID: userID,
			Data:   model.EventData(event),
		}); err != nil {
			return err
		}
		keep = append(keep, event.ID)
	}

	deleted, err := s.events.DeleteAbsent(ctx, userID, keep)
	if err != nil {
		return err
	}
	if deleted > 0 {
		log.Debug().Str("userId", userID).Int64("deleted", deleted).Msg("pruned absent events")
	}

	return nil
}

// CourseSnapshots is the before/after pair handed to the course diff engine.
type CourseSnapshots struct {
	Before []model.Course
	After  []model.Course
}

// Courses syncs the user's course list, one portal call per classification.
// Courses absent from the latest snapshot are hard-deleted together with
// their grades. With trackDiff set and a non-empty prior snapshot the
// before/after pair is returned; a first sync never produces a diff.
func (s *Service) Courses(ctx context.Context, userID string, classifications []moodle.Classification, trackDiff bool) (*CourseSnapshots, error) {
	user, client, err := s.clientFor(ctx, userID)
	if err != nil {
		return nil, err
	}

	if len(classifications) == 0 {
		classifications = DefaultClassifications
	}

	var before []model.Course
	if trackDiff {
		if before, err = s.courses.FindByUser(ctx, userID); err != nil {
			return nil, err
		}
	}

	type classifiedCourse struct {
		data           moodle.Course
		classification moodle.Classification
	}
	var fetched []classifiedCourse

	for _, classification := range classifications {
		data, rerr, err := client.Call(ctx, "core_course_get_enrolled_courses_by_timeline_classification", map[string]any{
			"classification": string(classification),
		})
		if err != nil {
			return nil, apperrors.Sync(fmt.Sprintf("failed to get %s courses", classification), err)
		}
		if rerr != nil {
			s.handleTokenError(ctx, user, rerr.Message)
			return nil, apperrors.Sync(fmt.Sprintf("failed to get %s courses: %s", classification, rerr.Message), rerr)
		}

		var payload struct {
			Courses []moodle.Course `json:"courses"`
		}
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, apperrors.Sync("failed to decode courses response", err)
		}

		for _, course := range payload.Courses {
			fetched = append(fetched, classifiedCourse{data: course, classification: classification})
		}
	}

	keep := make([]int64, 0, len(fetched))
	for _, course := range fetched {
		if _, err := s.courses.Upsert(ctx, model.UpsertCourseParams{
			UserID:         userID,
			UserMoodleID:   user.MoodleID,
			Data:           model.CourseData(course.data),
			Classification: course.classification,
		}); err != nil {
			return nil, err
		}
		keep = append(keep, course.data.ID)
	}

	// A course gone from the snapshot takes its grade rows with it, in one
	// transaction so a crash cannot orphan grades of a deleted course.
	var pruned []int64
	if err := s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		courses := s.courses.WithTx(tx)
		grades := s.grades.WithTx(tx)

		ids, err := courses.DeleteAbsent(ctx, userID, keep)
		if err != nil {
			return err
		}
		for _, courseID := range ids {
			if _, err := grades.DeleteByCourse(ctx, userID, courseID); err != nil {
				return err
			}
		}
		pruned = ids
		return nil
	}); err != nil {
		return nil, err
	}
	if len(pruned) > 0 {
		log.Info().Str("userId", userID).Int("deleted", len(pruned)).Msg("pruned absent courses and their grades")
	}

	if !trackDiff || len(before) == 0 {
		return nil, nil
	}

	after, err := s.courses.FindByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &CourseSnapshots{Before: before, After: after}, nil
}

// GradeSnapshots is the before/after pair handed to the grade diff engine.
type GradeSnapshots struct {
	Before []moodle.Grade
	After  []moodle.Grade
}

// CourseGrades syncs one course's grade report. A course-access error means
// the student lost access to the course, not that the sync is broken: the
// course is soft-disabled, keeping its grade history, and a sync error is
// still returned so the caller can skip diffing. The before snapshot only
// covers items that already existed, so the first sync of a course yields no
// diff.
func (s *Service) CourseGrades(ctx context.Context, userID string, courseID int64, trackDiff bool) (*GradeSnapshots, error) {
	user, client, err := s.clientFor(ctx, userID)
	if err != nil {
		return nil, err
	}

	scraped, err := client.Grades(ctx, courseID)
	if err != nil {
		s.handleTokenError(ctx, user, err.Error())
		if moodle.IsCourseAccessMessage(remoteMessage(err)) {
			if disableErr := s.courses.Disable(ctx, userID, courseID, s.now()); disableErr != nil {
				log.Error().Err(disableErr).Str("userId", userID).Int64("courseId", courseID).
					Msg("failed to disable inaccessible course")
			} else {
				log.Info().Str("userId", userID).Int64("courseId", courseID).Msg("course disabled, access lost")
			}
		}
		return nil, apperrors.Sync(fmt.Sprintf("failed to get grades for course %d", courseID), err)
	}

	itemIDs := make([]int64, len(scraped))
	for i, grade := range scraped {
		itemIDs[i] = grade.ID
	}

	current, err := s.grades.FindByCourseItems(ctx, userID, courseID, itemIDs)
	if err != nil {
		return nil, err
	}

	for _, grade := range scraped {
		if _, err := s.grades.Upsert(ctx, model.UpsertGradeParams{
			UserID:   userID,
			CourseID: courseID,
			Data:     model.GradeData(grade),
		}); err != nil {
			return nil, err
		}
	}

	if len(current) == 0 || !trackDiff {
		return nil, nil
	}

	updated, err := s.grades.FindByCourseItems(ctx, userID, courseID, itemIDs)
	if err != nil {
		return nil, err
	}

	return &GradeSnapshots{
		Before: gradeData(current),
		After:  gradeData(updated),
	}, nil
}

// remoteMessage unwraps the portal-facing message out of an error chain so
// course-access detection sees the remote text, not our wrapping.
func remoteMessage(err error) string {
	var rerr *moodle.RemoteError
	if errors.As(err, &rerr) {
		return rerr.Message
	}
	return err.Error()
}

func gradeData(grades []model.Grade) []moodle.Grade {
	out := make([]moodle.Grade, len(grades))
	for i, g := range grades {
		out[i] = moodle.Grade(g.Data)
	}
	return out
}
