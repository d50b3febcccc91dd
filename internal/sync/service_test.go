package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remoodle/one/internal/database"
	apperrors "github.com/remoodle/one/internal/errors"
	"github.com/remoodle/one/internal/model"
	"github.com/remoodle/one/internal/moodle"
	"github.com/remoodle/one/internal/repository"
)

type fakeUsers struct {
	repository.UserRepository
	user             *model.User
	healthDecrements int
}

func (f *fakeUsers) FindByID(_ context.Context, id string) (*model.User, error) {
	if f.user != nil && f.user.ID == id {
		return f.user, nil
	}
	return nil, nil
}

func (f *fakeUsers) DecrementHealth(_ context.Context, _ string) error {
	f.healthDecrements++
	return nil
}

type fakeCourses struct {
	repository.CourseRepository
	items    map[int64]model.Course
	disabled []int64
}

func (f *fakeCourses) FindByUser(_ context.Context, userID string) ([]model.Course, error) {
	out := make([]model.Course, 0, len(f.items))
	for _, c := range f.items {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Data.ID < out[j].Data.ID })
	return out, nil
}

func (f *fakeCourses) Upsert(_ context.Context, params model.UpsertCourseParams) (*model.Course, error) {
	course := model.Course{
		UserID:         params.UserID,
		UserMoodleID:   params.UserMoodleID,
		Data:           params.Data,
		Classification: params.Classification,
	}
	f.items[params.Data.ID] = course
	return &course, nil
}

func (f *fakeCourses) DeleteAbsent(_ context.Context, _ string, keep []int64) ([]int64, error) {
	keepSet := make(map[int64]struct{}, len(keep))
	for _, id := range keep {
		keepSet[id] = struct{}{}
	}
	var pruned []int64
	for id := range f.items {
		if _, ok := keepSet[id]; !ok {
			delete(f.items, id)
			pruned = append(pruned, id)
		}
	}
	sort.Slice(pruned, func(i, j int) bool { return pruned[i] < pruned[j] })
	return pruned, nil
}

func (f *fakeCourses) WithTx(_ *sqlx.Tx) repository.CourseRepository { return f }

func (f *fakeCourses) Disable(_ context.Context, _ string, moodleCourseID int64, _ time.Time) error {
	f.disabled = append(f.disabled, moodleCourseID)
	return nil
}

type fakeGrades struct {
	repository.GradeRepository
	items          map[int64]model.Grade
	deletedCourses []int64
}

func (f *fakeGrades) DeleteByCourse(_ context.Context, _ string, courseID int64) (int64, error) {
	f.deletedCourses = append(f.deletedCourses, courseID)
	var deleted int64
	for id, g := range f.items {
		if g.CourseID == courseID {
			delete(f.items, id)
			deleted++
		}
	}
	return deleted, nil
}

func (f *fakeGrades) WithTx(_ *sqlx.Tx) repository.GradeRepository { return f }

func (f *fakeGrades) FindByCourseItems(_ context.Context, _ string, _ int64, itemIDs []int64) ([]model.Grade, error) {
	var out []model.Grade
	for _, id := range itemIDs {
		if g, ok := f.items[id]; ok {
			out = append(out, g)
		}
	}
	return out, nil
}

func (f *fakeGrades) Upsert(_ context.Context, params model.UpsertGradeParams) (*model.Grade, error) {
	grade := model.Grade{
		UserID:   params.UserID,
		CourseID: params.CourseID,
		Data:     params.Data,
	}
	f.items[params.Data.ID] = grade
	return &grade, nil
}

type fakeEvents struct {
	repository.EventRepository
	upserted []model.UpsertEventParams
	kept     []int64
}

func (f *fakeEvents) Upsert(_ context.Context, params model.UpsertEventParams) (*model.Event, error) {
	f.upserted = append(f.upserted, params)
	return &model.Event{UserID: params.UserID, Data: params.Data}, nil
}

func (f *fakeEvents) DeleteAbsent(_ context.Context, _ string, keep []int64) (int64, error) {
	f.kept = keep
	return 0, nil
}

type fakeClient struct {
	responses  map[string]string
	remoteErrs map[string]*moodle.RemoteError
	grades     []moodle.Grade
	gradesErr  error
	calls      []string
}

func (c *fakeClient) Call(_ context.Context, method string, _ any) (json.RawMessage, *moodle.RemoteError, error) {
	c.calls = append(c.calls, method)
	if rerr, ok := c.remoteErrs[method]; ok {
		return nil, rerr, nil
	}
	if body, ok := c.responses[method]; ok {
		return json.RawMessage(body), nil, nil
	}
	return nil, nil, fmt.Errorf("unexpected method %s", method)
}

func (c *fakeClient) Grades(_ context.Context, _ int64) ([]moodle.Grade, error) {
	if c.gradesErr != nil {
		return nil, c.gradesErr
	}
	return c.grades, nil
}

type fakeTx struct{}

func (fakeTx) WithTx(_ context.Context, fn database.TxFunc) error { return fn(nil) }

type harness struct {
	service *Service
	users   *fakeUsers
	courses *fakeCourses
	grades  *fakeGrades
	events  *fakeEvents
	client  *fakeClient
}

func newHarness(client *fakeClient) *harness {
	h := &harness{
		users: &fakeUsers{user: &model.User{
			ID:            "user-1",
			MoodleID:      42,
			SessionCookie: "cookie",
			SessionKey:    "key",
			Health:        model.DefaultHealth,
		}},
		courses: &fakeCourses{items: map[int64]model.Course{}},
		grades:  &fakeGrades{items: map[int64]model.Grade{}},
		events:  &fakeEvents{},
		client:  client,
	}
	h.service = NewService(h.users, h.courses, h.grades, h.events,
		func(*model.User) (PortalClient, error) { return client, nil }, fakeTx{})
	h.service.now = func() time.Time { return time.Date(2024, 9, 15, 12, 0, 0, 0, time.UTC) }
	return h
}

func TestSession(t *testing.T) {
	h := newHarness(&fakeClient{responses: map[string]string{"core_session_touch": "true"}})

	require.NoError(t, h.service.Session(context.Background(), "user-1"))
	assert.Equal(t, []string{"core_session_touch"}, h.client.calls)
	assert.Zero(t, h.users.healthDecrements)
}

func TestSessionUnknownUser(t *testing.T) {
	h := newHarness(&fakeClient{})

	err := h.service.Session(context.Background(), "nobody")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
}

func TestSessionTokenErrorDecrementsHealth(t *testing.T) {
	h := newHarness(&fakeClient{remoteErrs: map[string]*moodle.RemoteError{
		"core_session_touch": {Message: "Invalid token - token not found", Code: "invalidtoken"},
	}})

	err := h.service.Session(context.Background(), "user-1")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeSync))
	assert.Equal(t, 1, h.users.healthDecrements)
}

func TestSessionUnsuccessfulResponse(t *testing.T) {
	h := newHarness(&fakeClient{responses: map[string]string{"core_session_touch": "false"}})

	err := h.service.Session(context.Background(), "user-1")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeSync))
}

func TestEventsFiltersAttendance(t *testing.T) {
	h := newHarness(&fakeClient{responses: map[string]string{
		"core_calendar_get_action_events_by_timesort": `{"events":[
			{"id":1,"name":"Assignment due","timestart":1726423200,"component":"mod_assign","course":{"id":10,"fullname":"Databases"}},
			{"id":2,"name":"Attendance","timestart":1726423200,"component":"mod_attendance","course":{"id":10,"fullname":"Databases"}},
			{"id":3,"name":"Quiz closes","timestart":1726426800,"component":"mod_quiz","course":{"id":11,"fullname":"Networks"}}
		]}`,
	}})

	require.NoError(t, h.service.Events(context.Background(), "user-1"))
	require.Len(t, h.events.upserted, 2)
	assert.EqualValues(t, 1, h.events.upserted[0].Data.ID)
	assert.EqualValues(t, 3, h.events.upserted[1].Data.ID)
	assert.Equal(t, []int64{1, 3}, h.events.kept)
}

func TestCoursesFullSnapshot(t *testing.T) {
	h := newHarness(&fakeClient{responses: map[string]string{
		"core_course_get_enrolled_courses_by_timeline_classification": `{"courses":[
			{"id":10,"fullname":"Databases","shortname":"DB"},
			{"id":11,"fullname":"Networks","shortname":"CN"}
		]}`,
	}})
	// Stale course that the portal no longer returns.
	h.courses.items[9] = model.Course{UserID: "user-1", Data: model.CourseData{ID: 9, FullName: "Dropped"}}

	snapshots, err := h.service.Courses(context.Background(), "user-1", nil, false)
	require.NoError(t, err)
	assert.Nil(t, snapshots)

	// One call per default classification.
	assert.Len(t, h.client.calls, 2)
	assert.Contains(t, h.courses.items, int64(10))
	assert.Contains(t, h.courses.items, int64(11))
	assert.NotContains(t, h.courses.items, int64(9))
}

func TestCoursesPruneDeletesGrades(t *testing.T) {
	h := newHarness(&fakeClient{responses: map[string]string{
		"core_course_get_enrolled_courses_by_timeline_classification": `{"courses":[{"id":10,"fullname":"Databases"}]}`,
	}})
	h.courses.items[9] = model.Course{UserID: "user-1", Data: model.CourseData{ID: 9, FullName: "Dropped"}}
	h.grades.items[777] = model.Grade{
		UserID:   "user-1",
		CourseID: 9,
		Data:     model.GradeData{ID: 777, ItemName: "Midterm"},
	}
	h.grades.items[778] = model.Grade{
		UserID:   "user-1",
		CourseID: 10,
		Data:     model.GradeData{ID: 778, ItemName: "Quiz 1"},
	}

	_, err := h.service.Courses(context.Background(), "user-1", nil, false)
	require.NoError(t, err)

	// The pruned course's grades go with it; the surviving course's stay.
	assert.Equal(t, []int64{9}, h.grades.deletedCourses)
	assert.NotContains(t, h.grades.items, int64(777))
	assert.Contains(t, h.grades.items, int64(778))
}

func TestCoursesTrackDiff(t *testing.T) {
	h := newHarness(&fakeClient{responses: map[string]string{
		"core_course_get_enrolled_courses_by_timeline_classification": `{"courses":[{"id":10,"fullname":"Databases"}]}`,
	}})
	h.courses.items[10] = model.Course{
		UserID:         "user-1",
		Data:           model.CourseData{ID: 10, FullName: "Databases"},
		Classification: moodle.ClassificationInProgress,
	}

	snapshots, err := h.service.Courses(context.Background(), "user-1",
		[]moodle.Classification{moodle.ClassificationPast}, true)
	require.NoError(t, err)
	require.NotNil(t, snapshots)
	require.Len(t, snapshots.Before, 1)
	assert.Equal(t, moodle.ClassificationInProgress, snapshots.Before[0].Classification)
	require.Len(t, snapshots.After, 1)
	assert.Equal(t, moodle.ClassificationPast, snapshots.After[0].Classification)
}

func TestCoursesFirstSyncNoDiff(t *testing.T) {
	h := newHarness(&fakeClient{responses: map[string]string{
		"core_course_get_enrolled_courses_by_timeline_classification": `{"courses":[{"id":10,"fullname":"Databases"}]}`,
	}})

	snapshots, err := h.service.Courses(context.Background(), "user-1", nil, true)
	require.NoError(t, err)
	assert.Nil(t, snapshots)
}

func gradePtr(v float64) *float64 { return &v }

func TestCourseGradesTrackDiff(t *testing.T) {
	h := newHarness(&fakeClient{grades: []moodle.Grade{
		{ID: 1, ItemName: "Midterm", GradeRaw: gradePtr(95), GradeFormatted: "95.00", GradeMax: 100},
	}})
	h.grades.items[1] = model.Grade{
		UserID:   "user-1",
		CourseID: 10,
		Data:     model.GradeData{ID: 1, ItemName: "Midterm", GradeMax: 100},
	}

	snapshots, err := h.service.CourseGrades(context.Background(), "user-1", 10, true)
	require.NoError(t, err)
	require.NotNil(t, snapshots)
	require.Len(t, snapshots.Before, 1)
	assert.Nil(t, snapshots.Before[0].GradeRaw)
	require.Len(t, snapshots.After, 1)
	require.NotNil(t, snapshots.After[0].GradeRaw)
	assert.Equal(t, 95.0, *snapshots.After[0].GradeRaw)
}

func TestCourseGradesFirstSyncNoDiff(t *testing.T) {
	h := newHarness(&fakeClient{grades: []moodle.Grade{
		{ID: 1, ItemName: "Midterm", GradeRaw: gradePtr(95), GradeMax: 100},
	}})

	snapshots, err := h.service.CourseGrades(context.Background(), "user-1", 10, true)
	require.NoError(t, err)
	assert.Nil(t, snapshots)
	// The snapshot itself is still stored.
	assert.Contains(t, h.grades.items, int64(1))
}

func TestCourseGradesAccessErrorDisablesCourse(t *testing.T) {
	h := newHarness(&fakeClient{
		gradesErr: &moodle.RemoteError{Message: "error/notingroup", Code: "notingroup"},
	})

	_, err := h.service.CourseGrades(context.Background(), "user-1", 10, false)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeSync))
	assert.Equal(t, []int64{10}, h.courses.disabled)
}

func TestCourseGradesTokenErrorDecrementsHealth(t *testing.T) {
	h := newHarness(&fakeClient{
		gradesErr: fmt.Errorf("portal call failed: %w", &moodle.RemoteError{Message: "Invalid token - token not found"}),
	})

	_, err := h.service.CourseGrades(context.Background(), "user-1", 10, false)
	require.Error(t, err)
	assert.Equal(t, 1, h.users.healthDecrements)
	assert.Empty(t, h.courses.disabled)
}
