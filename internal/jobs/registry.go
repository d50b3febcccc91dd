package jobs

import (
	"github.com/remoodle/one/internal/config"
	"github.com/remoodle/one/internal/queue"
)

// Registration binds a job name to the queue it runs on, its handler and
// its worker shape. The registry is a compile-time map so an unknown job
// name is a programming error, not a runtime lookup miss.
type Registration struct {
	Queue       QueueName
	Handler     queue.Handler
	Concurrency int
	// RateLimited queues get the sliding-window delivery limiter attached
	// when the worker is built.
	RateLimited bool
}

func (p *Processors) Registry() map[JobName]Registration {
	return map[JobName]Registration{
		JobSessionSchedule: {Queue: QueueSessionSync, Handler: p.handleSessionSchedule, Concurrency: 1},
		JobSessionUpdate:   {Queue: QueueSessionUpdate, Handler: p.handleSessionUpdate, Concurrency: config.SyncWorkerConcurrency},

		JobEventsSchedule: {Queue: QueueEventsSync, Handler: p.handleEventsSchedule, Concurrency: 1},
		JobEventsUpdate:   {Queue: QueueEventsUpdate, Handler: p.handleEventsUpdate, Concurrency: config.SyncWorkerConcurrency},

		JobCoursesSchedule: {Queue: QueueCoursesSync, Handler: p.handleCoursesSchedule, Concurrency: 1},
		JobCoursesUpdate:   {Queue: QueueCoursesUpdate, Handler: p.handleCoursesUpdate, Concurrency: config.SyncWorkerConcurrency},

		JobGradesSchedule:     {Queue: QueueGradesSync, Handler: p.handleGradesSchedule, Concurrency: 1},
		JobGradesUpdateCourse: {Queue: QueueGradesUpdate, Handler: p.handleGradesUpdateCourse, Concurrency: config.GradesWorkerConcurrency},
		JobGradesCombine:      {Queue: QueueGradesCombine, Handler: p.handleGradesCombine, Concurrency: config.SyncWorkerConcurrency},

		JobRemindersCheck: {Queue: QueueReminders, Handler: p.handleRemindersCheck, Concurrency: config.SyncWorkerConcurrency},

		JobTelegramSend: {Queue: QueueTelegram, Handler: p.handleTelegramSend, Concurrency: config.DeliveryWorkerConcurrency, RateLimited: true},
	}
}
