package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/remoodle/one/internal/config"
	apperrors "github.com/remoodle/one/internal/errors"
	"github.com/remoodle/one/internal/jobs"
	"github.com/remoodle/one/internal/model"
	"github.com/remoodle/one/internal/queue"
	"github.com/remoodle/one/internal/repository"
	"github.com/remoodle/one/internal/util"
)

type UserHandler struct {
	users   repository.UserRepository
	courses repository.CourseRepository
	grades  repository.GradeRepository
	events  repository.EventRepository
	queue   *queue.Queue
}

func NewUserHandler(
	users repository.UserRepository,
	courses repository.CourseRepository,
	grades repository.GradeRepository,
	events repository.EventRepository,
	q *queue.Queue,
) *UserHandler {
	return &UserHandler{
		users:   users,
		courses: courses,
		grades:  grades,
		events:  events,
		queue:   q,
	}
}

func (h *UserHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.CreateUser)
	r.Get("/{userID}", h.GetUser)
	r.Get("/{userID}/courses", h.GetCourses)
	r.Get("/{userID}/courses/{courseID}/grades", h.GetCourseGrades)
	r.Get("/{userID}/deadlines", h.GetDeadlines)
	r.Put("/{userID}/settings", h.UpdateSettings)
	r.Post("/{userID}/sync/{kind}", h.TriggerSync)
	r.Delete("/{userID}", h.DeleteUser)

	return r
}

type createUserRequest struct {
	Name          string            `json:"name"`
	Username      string            `json:"username"`
	Handle        string            `json:"handle"`
	MoodleID      int64             `json:"moodleId"`
	TelegramID    *int64            `json:"telegramId"`
	AuthCookies   model.AuthCookies `json:"authCookies"`
	SessionCookie string            `json:"sessionCookie"`
	SessionKey    string            `json:"sessionKey"`
}

// POST /v1/users
//
// Registers a portal identity harvested elsewhere. Credentials enter the
// system here and only here; the response is redacted like every other
// user payload.
func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidInput("body", "must be valid JSON"))
		return
	}
	if req.Username == "" {
		writeError(w, apperrors.MissingRequired("username"))
		return
	}
	if req.MoodleID == 0 {
		writeError(w, apperrors.MissingRequired("moodleId"))
		return
	}

	user, err := h.users.Create(r.Context(), model.CreateUserParams{
		Name:          req.Name,
		Username:      req.Username,
		Handle:        req.Handle,
		MoodleID:      req.MoodleID,
		AuthCookies:   req.AuthCookies,
		SessionCookie: req.SessionCookie,
		SessionKey:    req.SessionKey,
		TelegramID:    req.TelegramID,
	})
	if err != nil {
		log.Error().Err(err).Str("username", req.Username).Msg("failed to create user")
		writeError(w, err)
		return
	}

	log.Info().Str("userId", user.ID).Int64("moodleId", user.MoodleID).Msg("user created")
	writeJSON(w, http.StatusCreated, user)
}

// PUT /v1/users/{userID}/settings
func (h *UserHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var settings model.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeError(w, apperrors.InvalidInput("body", "must be valid JSON"))
		return
	}
	if err := validateSettings(settings); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.users.FindByID(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	if user == nil {
		writeError(w, apperrors.NotFound("user"))
		return
	}

	if err := h.users.UpdateSettings(r.Context(), userID, settings); err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("failed to update settings")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, settings)
}

func validateSettings(settings model.Settings) error {
	if len(settings.DeadlineThresholds) > config.MaxReminderThresholds {
		return apperrors.InvalidInput("deadlineThresholds",
			fmt.Sprintf("at most %d thresholds allowed", config.MaxReminderThresholds))
	}
	for _, threshold := range settings.DeadlineThresholds {
		if _, err := util.ParseISODuration(threshold); err != nil {
			return apperrors.InvalidInput("deadlineThresholds",
				fmt.Sprintf("%q is not an ISO-8601 duration", threshold))
		}
	}
	for _, level := range []model.NotificationLevel{
		settings.Notifications.GradeUpdates,
		settings.Notifications.DeadlineReminders,
		settings.Notifications.CourseChanges,
	} {
		if level < model.NotificationOff || level > model.NotificationMandatory {
			return apperrors.InvalidInput("notifications", "level must be 0, 1 or 2")
		}
	}
	return nil
}

// GET /v1/users/{userID}
//
// Credential fields are json:"-" on the model, so the response is always
// redacted.
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	user, err := h.users.FindByID(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("failed to load user")
		writeError(w, err)
		return
	}
	if user == nil {
		writeError(w, apperrors.NotFound("user"))
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// GET /v1/users/{userID}/courses
func (h *UserHandler) GetCourses(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	courses, err := h.courses.FindByUser(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("failed to load courses")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, courses)
}

// GET /v1/users/{userID}/courses/{courseID}/grades
func (h *UserHandler) GetCourseGrades(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	courseID, err := strconv.ParseInt(chi.URLParam(r, "courseID"), 10, 64)
	if err != nil {
		writeError(w, apperrors.InvalidInput("courseID", "must be an integer"))
		return
	}

	grades, err := h.grades.FindByCourse(r.Context(), userID, courseID)
	if err != nil {
		log.Error().Err(err).Str("userId", userID).Int64("courseId", courseID).Msg("failed to load grades")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, grades)
}

// GET /v1/users/{userID}/deadlines
func (h *UserHandler) GetDeadlines(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	events, err := h.events.FindByUser(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("failed to load deadlines")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, events)
}

// DELETE /v1/users/{userID}
//
// Courses, grades, events and reminders cascade at the database level.
func (h *UserHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	user, err := h.users.FindByID(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	if user == nil {
		writeError(w, apperrors.NotFound("user"))
		return
	}

	if err := h.users.Delete(r.Context(), userID); err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("failed to delete user")
		writeError(w, err)
		return
	}

	log.Info().Str("userId", userID).Msg("user deleted")
	w.WriteHeader(http.StatusNoContent)
}

// syncKinds maps the URL segment to the schedule job it triggers.
var syncKinds = map[string]struct {
	queue jobs.QueueName
	job   jobs.JobName
}{
	"session": {jobs.QueueSessionSync, jobs.JobSessionSchedule},
	"events":  {jobs.QueueEventsSync, jobs.JobEventsSchedule},
	"courses": {jobs.QueueCoursesSync, jobs.JobCoursesSchedule},
	"grades":  {jobs.QueueGradesSync, jobs.JobGradesSchedule},
}

// POST /v1/users/{userID}/sync/{kind}
//
// Enqueues the matching schedule job narrowed to one user. The job itself
// performs the fan-out, so a manual trigger reuses the exact scheduled path.
func (h *UserHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	kind := chi.URLParam(r, "kind")

	target, ok := syncKinds[kind]
	if !ok {
		writeError(w, apperrors.InvalidInput("kind", "must be one of session, events, courses, grades"))
		return
	}

	user, err := h.users.FindByID(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	if user == nil {
		writeError(w, apperrors.NotFound("user"))
		return
	}

	enqueued, err := h.queue.Enqueue(r.Context(), string(target.queue), string(target.job),
		jobs.SchedulePayload{UserID: userID},
		queue.Options{DedupKey: kind + "::" + userID})
	if err != nil {
		log.Error().Err(err).Str("userId", userID).Str("kind", kind).Msg("failed to enqueue sync")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"enqueued": enqueued})
}
