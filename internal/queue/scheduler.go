package queue

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Task is one repeatable schedule: every Interval the Enqueue callback
// pushes a schedule job. Deduplication on the job itself makes overlapping
// processes safe.
type Task struct {
	Name     string
	Interval time.Duration
	Enqueue  func(ctx context.Context) error
}

// Scheduler drives the repeatable tasks with one ticker each. Each task also
// fires once at startup so a fresh deploy does not wait a full interval.
type Scheduler struct {
	tasks []Task
	done  chan struct{}
	wg    sync.WaitGroup
}

func NewScheduler(tasks []Task) *Scheduler {
	return &Scheduler{
		tasks: tasks,
		done:  make(chan struct{}),
	}
}

func (s *Scheduler) Start() {
	for _, task := range s.tasks {
		s.wg.Add(1)
		go s.run(task)
		log.Info().Str("task", task.Name).Dur("interval", task.Interval).Msg("schedule registered")
	}
}

func (s *Scheduler) Stop() {
	close(s.done)
	s.wg.Wait()
	log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) run(task Task) {
	defer s.wg.Done()

	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	s.fire(task)

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.fire(task)
		}
	}
}

func (s *Scheduler) fire(task Task) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := task.Enqueue(ctx); err != nil {
		log.Error().Err(err).Str("task", task.Name).Msg("failed to enqueue scheduled job")
	}
}
