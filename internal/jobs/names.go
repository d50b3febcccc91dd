package jobs

// JobName identifies one unit of work. The "<group>::<action>" shape keeps
// log lines and dedup keys grep-able.
type JobName string

const (
	JobSessionSchedule    JobName = "session::schedule-sync"
	JobSessionUpdate      JobName = "session::update"
	JobEventsSchedule     JobName = "events::schedule-sync"
	JobEventsUpdate       JobName = "events::update"
	JobCoursesSchedule    JobName = "courses::schedule-sync"
	JobCoursesUpdate      JobName = "courses::update"
	JobGradesSchedule     JobName = "grades::schedule-sync"
	JobGradesUpdateCourse JobName = "grades::update-by-course"
	JobGradesCombine      JobName = "grades::combine-diffs"
	JobRemindersCheck     JobName = "reminders::check"
	JobTelegramSend       JobName = "telegram::send-message"
)

// QueueName names one redis-backed queue. Fan-out producers and their
// per-user consumers live on separate queues so a slow sync cannot starve
// scheduling.
type QueueName string

const (
	QueueSessionSync   QueueName = "session-sync"
	QueueSessionUpdate QueueName = "session-update"
	QueueEventsSync    QueueName = "events-sync"
	QueueEventsUpdate  QueueName = "events-update"
	QueueCoursesSync   QueueName = "courses-sync"
	QueueCoursesUpdate QueueName = "courses-update"
	QueueGradesSync    QueueName = "grades-sync"
	QueueGradesUpdate  QueueName = "grades-update"
	QueueGradesCombine QueueName = "grades-combine"
	QueueReminders     QueueName = "reminders"
	QueueTelegram      QueueName = "telegram"
)

// UserPayload is the body of every per-user job.
type UserPayload struct {
	UserID string `json:"userId"`
}

// SchedulePayload optionally narrows a schedule job to one user. An empty
// UserID means "every active user".
type SchedulePayload struct {
	UserID string `json:"userId,omitempty"`
}

// CoursesUpdatePayload drives one course-list sync. TrackDiff defaults to
// true; manual resyncs set it to false to rebuild the snapshot silently.
type CoursesUpdatePayload struct {
	UserID    string `json:"userId"`
	TrackDiff *bool  `json:"trackDiff,omitempty"`
}

// CourseGradesPayload drives one per-course grade sync inside a grades flow.
type CourseGradesPayload struct {
	UserID     string `json:"userId"`
	CourseID   int64  `json:"courseId"`
	CourseName string `json:"courseName"`
	TrackDiff  bool   `json:"trackDiff"`
}

// CombinePayload is the grades-flow parent body.
type CombinePayload struct {
	UserID    string  `json:"userId"`
	CourseIDs []int64 `json:"courseIds"`
}
