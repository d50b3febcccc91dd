package jobs

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/remoodle/one/internal/config"
	"github.com/remoodle/one/internal/diff"
	apperrors "github.com/remoodle/one/internal/errors"
	"github.com/remoodle/one/internal/model"
	"github.com/remoodle/one/internal/moodle"
	"github.com/remoodle/one/internal/notify"
	"github.com/remoodle/one/internal/queue"
	"github.com/remoodle/one/internal/repository"
	portalsync "github.com/remoodle/one/internal/sync"
)

// Processors holds every job handler and the services they share. One
// instance backs all workers.
type Processors struct {
	users     repository.UserRepository
	courses   repository.CourseRepository
	events    repository.EventRepository
	reminders repository.ReminderRepository

	sync       *portalsync.Service
	queue      *queue.Queue
	dispatcher *notify.Dispatcher
	telegram   *notify.TelegramSender

	now func() time.Time
}

func NewProcessors(
	users repository.UserRepository,
	courses repository.CourseRepository,
	events repository.EventRepository,
	reminders repository.ReminderRepository,
	syncService *portalsync.Service,
	q *queue.Queue,
	dispatcher *notify.Dispatcher,
	telegram *notify.TelegramSender,
) *Processors {
	return &Processors{
		users:      users,
		courses:    courses,
		events:     events,
		reminders:  reminders,
		sync:       syncService,
		queue:      q,
		dispatcher: dispatcher,
		telegram:   telegram,
		now:        time.Now,
	}
}

func decodePayload(job *queue.Job, v any) error {
	if len(job.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(job.Payload, v); err != nil {
		return apperrors.Internal("undecodable job payload").WithCause(err)
	}
	return nil
}

// scheduleTargets resolves a schedule job's fan-out set: the single user it
// names, or every active user.
func (p *Processors) scheduleTargets(ctx context.Context, job *queue.Job) ([]string, error) {
	var payload SchedulePayload
	if err := decodePayload(job, &payload); err != nil {
		return nil, err
	}
	if payload.UserID != "" {
		return []string{payload.UserID}, nil
	}
	return p.users.ActiveUserIDs(ctx)
}

func (p *Processors) findUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := p.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperrors.NotFound("user")
	}
	return user, nil
}

func (p *Processors) handleSessionSchedule(ctx context.Context, job *queue.Job) (any, error) {
	userIDs, err := p.scheduleTargets(ctx, job)
	if err != nil {
		return nil, err
	}

	payloads := make([]any, len(userIDs))
	for i, id := range userIDs {
		payloads[i] = UserPayload{UserID: id}
	}

	enqueued, err := p.queue.EnqueueBulk(ctx, string(QueueSessionUpdate), string(JobSessionUpdate), payloads,
		func(payload any) queue.Options {
			return queue.Options{
				Attempts:     2,
				BackoffDelay: config.SyncRetryDelay,
				DedupKey:     payload.(UserPayload).UserID,
			}
		})
	if err != nil {
		return nil, err
	}

	log.Info().Int("enqueued", enqueued).Msg("session syncs scheduled")
	return enqueued, nil
}

func (p *Processors) handleSessionUpdate(ctx context.Context, job *queue.Job) (any, error) {
	var payload UserPayload
	if err := decodePayload(job, &payload); err != nil {
		return nil, err
	}
	return nil, p.sync.Session(ctx, payload.UserID)
}

// handleEventsSchedule builds one flow per user: the calendar refresh runs
// as a child and the reminders check as the parent, so reminders always see
// the freshest events. The child ignores failure: a broken portal session
// must not silence reminders for deadlines already on record.
func (p *Processors) handleEventsSchedule(ctx context.Context, job *queue.Job) (any, error) {
	userIDs, err := p.scheduleTargets(ctx, job)
	if err != nil {
		return nil, err
	}

	enqueued := 0
	for _, id := range userIDs {
		ok, err := p.queue.EnqueueFlow(ctx,
			queue.FlowParent{
				Queue:   string(QueueReminders),
				Name:    string(JobRemindersCheck),
				Payload: UserPayload{UserID: id},
				Opts:    queue.Options{DedupKey: id},
			},
			[]queue.FlowChild{{
				Key:     "events",
				Queue:   string(QueueEventsUpdate),
				Name:    string(JobEventsUpdate),
				Payload: UserPayload{UserID: id},
				Opts: queue.Options{
					Attempts:     3,
					BackoffDelay: config.SyncRetryDelay,
					DedupKey:     id,
				},
				IgnoreFailure: true,
			}})
		if err != nil {
			return nil, err
		}
		if ok {
			enqueued++
		}
	}

	log.Info().Int("enqueued", enqueued).Msg("event syncs scheduled")
	return enqueued, nil
}

func (p *Processors) handleEventsUpdate(ctx context.Context, job *queue.Job) (any, error) {
	var payload UserPayload
	if err := decodePayload(job, &payload); err != nil {
		return nil, err
	}
	return nil, p.sync.Events(ctx, payload.UserID)
}

func (p *Processors) handleCoursesSchedule(ctx context.Context, job *queue.Job) (any, error) {
	userIDs, err := p.scheduleTargets(ctx, job)
	if err != nil {
		return nil, err
	}

	payloads := make([]any, len(userIDs))
	for i, id := range userIDs {
		payloads[i] = CoursesUpdatePayload{UserID: id}
	}

	enqueued, err := p.queue.EnqueueBulk(ctx, string(QueueCoursesUpdate), string(JobCoursesUpdate), payloads,
		func(payload any) queue.Options {
			return queue.Options{
				Attempts:     2,
				BackoffDelay: config.SyncRetryDelay,
				DedupKey:     payload.(CoursesUpdatePayload).UserID,
			}
		})
	if err != nil {
		return nil, err
	}

	log.Info().Int("enqueued", enqueued).Msg("course syncs scheduled")
	return enqueued, nil
}

func (p *Processors) handleCoursesUpdate(ctx context.Context, job *queue.Job) (any, error) {
	var payload CoursesUpdatePayload
	if err := decodePayload(job, &payload); err != nil {
		return nil, err
	}
	trackDiff := payload.TrackDiff == nil || *payload.TrackDiff

	snapshots, err := p.sync.Courses(ctx, payload.UserID, nil, trackDiff)
	if err != nil {
		return nil, err
	}
	if snapshots == nil {
		return nil, nil
	}

	changes := diff.TrackCourseChanges(snapshots.Before, snapshots.After)
	if len(changes.Changes) == 0 {
		return changes, nil
	}

	user, err := p.findUser(ctx, payload.UserID)
	if err != nil {
		return nil, err
	}
	if _, err := p.dispatcher.Dispatch(ctx, user, notify.CategoryCourseChanges, notify.FormatCourseChanges(changes)); err != nil {
		return nil, err
	}
	return changes, nil
}

// handleGradesSchedule fans out one flow per user over their in-progress
// courses: every course syncs as an ignore-failure child and the combiner
// parent merges whatever diffs survived. One unreadable course never blocks
// notifications for the rest.
func (p *Processors) handleGradesSchedule(ctx context.Context, job *queue.Job) (any, error) {
	userIDs, err := p.scheduleTargets(ctx, job)
	if err != nil {
		return nil, err
	}

	courses, err := p.courses.ActiveByUsers(ctx, userIDs, moodle.ClassificationInProgress)
	if err != nil {
		return nil, err
	}

	byUser := make(map[string][]model.Course)
	for _, course := range courses {
		byUser[course.UserID] = append(byUser[course.UserID], course)
	}

	flows := 0
	for _, id := range userIDs {
		userCourses := byUser[id]
		if len(userCourses) == 0 {
			continue
		}

		courseIDs := make([]int64, len(userCourses))
		keys := make([]string, len(userCourses))
		children := make([]queue.FlowChild, len(userCourses))
		for i, course := range userCourses {
			courseIDs[i] = course.Data.ID
			keys[i] = strconv.FormatInt(course.Data.ID, 10)
			children[i] = queue.FlowChild{
				Key:   keys[i],
				Queue: string(QueueGradesUpdate),
				Name:  string(JobGradesUpdateCourse),
				Payload: CourseGradesPayload{
					UserID:     id,
					CourseID:   course.Data.ID,
					CourseName: course.Data.FullName,
					TrackDiff:  true,
				},
				Opts: queue.Options{
					Attempts:     4,
					BackoffDelay: config.GradesRetryDelay,
					DedupKey:     id + "::" + keys[i],
				},
				IgnoreFailure: true,
			}
		}

		ok, err := p.queue.EnqueueFlow(ctx,
			queue.FlowParent{
				Queue:   string(QueueGradesCombine),
				Name:    string(JobGradesCombine),
				Payload: CombinePayload{UserID: id, CourseIDs: courseIDs},
				Opts:    queue.Options{DedupKey: id + "::" + strings.Join(keys, "-")},
			}, children)
		if err != nil {
			return nil, err
		}
		if ok {
			flows++
		}
	}

	log.Info().Int("flows", flows).Msg("grade syncs scheduled")
	return flows, nil
}

func (p *Processors) handleGradesUpdateCourse(ctx context.Context, job *queue.Job) (any, error) {
	var payload CourseGradesPayload
	if err := decodePayload(job, &payload); err != nil {
		return nil, err
	}

	snapshots, err := p.sync.CourseGrades(ctx, payload.UserID, payload.CourseID, payload.TrackDiff)
	if err != nil {
		return nil, err
	}
	if snapshots == nil {
		return nil, nil
	}

	return diff.TrackCourseGradeChanges(payload.CourseID, payload.CourseName, snapshots.Before, snapshots.After), nil
}

func (p *Processors) handleGradesCombine(ctx context.Context, job *queue.Job) (any, error) {
	var payload CombinePayload
	if err := decodePayload(job, &payload); err != nil {
		return nil, err
	}
	if job.Flow == nil {
		return nil, apperrors.Internal("combine job ran outside a flow")
	}

	results, err := p.queue.FlowResults(ctx, job.Flow.ID)
	if err != nil {
		return nil, err
	}

	// Course order from the payload, not map order, so the rendered
	// message is stable across runs.
	var changed []diff.CourseGradeChanges
	for _, courseID := range payload.CourseIDs {
		raw, ok := results[strconv.FormatInt(courseID, 10)]
		if !ok || string(raw) == "null" {
			continue
		}
		var changes diff.CourseGradeChanges
		if err := json.Unmarshal(raw, &changes); err != nil {
			log.Warn().Err(err).Str("userId", payload.UserID).Int64("courseId", courseID).
				Msg("dropping undecodable grade diff")
			continue
		}
		if len(changes.Changes) > 0 {
			changed = append(changed, changes)
		}
	}

	if len(changed) == 0 {
		return nil, nil
	}

	user, err := p.findUser(ctx, payload.UserID)
	if err != nil {
		return nil, err
	}
	if _, err := p.dispatcher.Dispatch(ctx, user, notify.CategoryGradeUpdates, notify.FormatGradeChanges(changed)); err != nil {
		return nil, err
	}
	return changed, nil
}

// handleRemindersCheck computes due deadline reminders and records them
// insert-only. Reminders are persisted only when a notification actually
// goes out: a user who links a messenger later starts fresh instead of
// finding half their deadlines silently marked as reminded.
func (p *Processors) handleRemindersCheck(ctx context.Context, job *queue.Job) (any, error) {
	var payload UserPayload
	if err := decodePayload(job, &payload); err != nil {
		return nil, err
	}

	user, err := p.findUser(ctx, payload.UserID)
	if err != nil {
		return nil, err
	}

	events, err := p.events.FindByUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}

	existing, err := p.reminders.FindByUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	due := diff.TrackDeadlineReminders(p.now(), user.Settings.DeadlineThresholds, events, existing)
	if len(due) == 0 {
		return nil, nil
	}

	if user.TelegramID == nil || !user.Settings.Notifications.DeadlineReminders.Enabled() {
		log.Debug().Str("userId", user.ID).Int("due", len(due)).Msg("deadline reminders suppressed")
		return nil, nil
	}

	if _, err := p.reminders.CreateMany(ctx, due); err != nil {
		return nil, err
	}

	grouped := diff.GroupDeadlineReminders(events, due)
	message := notify.FormatDeadlineReminders(p.now(), grouped)
	if _, err := p.dispatcher.Dispatch(ctx, user, notify.CategoryDeadlineReminders, message); err != nil {
		return nil, err
	}
	return len(due), nil
}

func (p *Processors) handleTelegramSend(ctx context.Context, job *queue.Job) (any, error) {
	var payload notify.MessagePayload
	if err := decodePayload(job, &payload); err != nil {
		return nil, err
	}

	user, err := p.findUser(ctx, payload.UserID)
	if err != nil {
		return nil, err
	}
	if user.TelegramID == nil {
		return nil, apperrors.Internal("user has no telegram link")
	}

	if err := p.telegram.Send(ctx, *user.TelegramID, payload.Message); err != nil {
		return nil, err
	}

	log.Info().Str("userId", user.ID).Msg("notification delivered")
	return nil, nil
}
