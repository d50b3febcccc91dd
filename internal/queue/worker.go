package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/remoodle/one/internal/config"
)

// Handler executes one job. The returned value is recorded as the job's flow
// result when the job belongs to a flow.
type Handler func(ctx context.Context, job *Job) (any, error)

// Limit throttles a worker's queue with the sliding-window rate limiter.
// Over-limit jobs are rescheduled for when the window resets, never dropped.
type Limit struct {
	Limiter *RateLimiter
	Key     string
	Max     int
	Window  time.Duration
}

// Worker consumes one queue with a bounded goroutine pool. Each consumer
// blocks on BRPOP with a short timeout so shutdown is responsive.
type Worker struct {
	queue       *Queue
	name        string
	handler     Handler
	concurrency int
	limit       *Limit

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewWorker(q *Queue, name string, handler Handler, concurrency int, limit *Limit) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Worker{
		queue:       q,
		name:        name,
		handler:     handler,
		concurrency: concurrency,
		limit:       limit,
	}
}

func (w *Worker) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	w.wg.Add(1)
	go w.promote(ctx)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.consume(ctx)
	}

	log.Info().Str("queue", w.name).Int("concurrency", w.concurrency).Msg("worker started")
}

// Stop halts intake and waits for in-flight jobs, at most the drain timeout.
func (w *Worker) Stop() {
	w.cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Str("queue", w.name).Msg("worker drained")
	case <-time.After(config.WorkerDrainTimeout):
		log.Warn().Str("queue", w.name).Msg("worker drain timed out")
	}
}

func (w *Worker) promote(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(config.QueuePromoteInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.queue.PromoteDue(ctx, w.name, time.Now()); err != nil && !isCanceled(err) {
				log.Error().Err(err).Str("queue", w.name).Msg("failed to promote delayed jobs")
			}
		}
	}
}

func (w *Worker) consume(ctx context.Context) {
	defer w.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		result, err := w.queue.rdb.BRPop(ctx, config.QueuePollTimeout, listKey(w.name)).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || isCanceled(err) {
				continue
			}
			log.Error().Err(err).Str("queue", w.name).Msg("queue poll failed")
			continue
		}
		if len(result) != 2 {
			continue
		}

		var job Job
		if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
			log.Error().Err(err).Str("queue", w.name).Msg("dropping undecodable job")
			continue
		}

		w.process(&job)
	}
}

func (w *Worker) process(job *Job) {
	// Jobs finish even while the worker is shutting down, so completion
	// bookkeeping runs on a background context.
	ctx, cancel := context.WithTimeout(context.Background(), config.JobTimeout)
	defer cancel()

	if w.limit != nil {
		allowed, resetAt := w.limit.Limiter.CheckLimit(ctx, w.limit.Key, w.limit.Max, w.limit.Window)
		if !allowed {
			log.Debug().Str("queue", w.name).Str("job", job.Name).Time("resetAt", resetAt).
				Msg("rate limited, deferring job")
			if err := w.queue.schedule(ctx, job, resetAt); err != nil {
				log.Error().Err(err).Str("queue", w.name).Msg("failed to defer rate-limited job")
			}
			return
		}
	}

	job.Attempt++

	result, err := w.run(ctx, job)
	if err == nil {
		w.finish(ctx, job, result, nil)
		return
	}

	if job.Attempt < job.MaxAttempts {
		log.Warn().Err(err).Str("queue", w.name).Str("job", job.Name).
			Int("attempt", job.Attempt).Int("maxAttempts", job.MaxAttempts).Msg("job failed, retrying")
		if scheduleErr := w.queue.schedule(ctx, job, retryAt(job, time.Now())); scheduleErr != nil {
			log.Error().Err(scheduleErr).Str("queue", w.name).Msg("failed to schedule retry")
			w.finish(ctx, job, nil, err)
		}
		return
	}

	log.Error().Err(err).Str("queue", w.name).Str("job", job.Name).
		Int("attempt", job.Attempt).Msg("job failed permanently")
	w.finish(ctx, job, nil, err)
}

// run executes the handler with panic recovery: a panicking job is a failed
// job, not a dead worker.
func (w *Worker) run(ctx context.Context, job *Job) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panic: %v", r)
		}
	}()
	return w.handler(ctx, job)
}

// finish runs terminal-state bookkeeping: release the dedup key and settle
// the flow membership.
func (w *Worker) finish(ctx context.Context, job *Job, result any, jobErr error) {
	w.queue.releaseDedup(ctx, job)

	var raw json.RawMessage
	if jobErr == nil && result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			log.Error().Err(err).Str("queue", w.name).Str("job", job.Name).
				Msg("failed to marshal job result")
		} else {
			raw = data
		}
	}

	if err := w.queue.settleChild(ctx, job, raw, jobErr); err != nil {
		log.Error().Err(err).Str("queue", w.name).Str("job", job.Name).Msg("failed to settle flow child")
	}
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
