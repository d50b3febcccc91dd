// Package queue is a small redis-backed job orchestrator: named queues with
// deduplication, delayed retries with exponential backoff, parent/child flows
// and repeatable schedulers. Payloads are JSON, queues are redis lists,
// delayed jobs live in sorted sets scored by their ready time.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/remoodle/one/internal/config"
)

// FlowRef ties a job to the flow it participates in. Child is empty on the
// parent job itself.
type FlowRef struct {
	ID            string `json:"id"`
	Child         string `json:"child,omitempty"`
	IgnoreFailure bool   `json:"ignoreFailure,omitempty"`
}

// Job is the unit of work carried through redis. Attempt counts executions
// so far; a job is retried while Attempt < MaxAttempts.
type Job struct {
	ID           string          `json:"id"`
	Queue        string          `json:"queue"`
	Name         string          `json:"name"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	DedupKey     string          `json:"dedupKey,omitempty"`
	Attempt      int             `json:"attempt"`
	MaxAttempts  int             `json:"maxAttempts"`
	BackoffDelay time.Duration   `json:"backoffDelay,omitempty"`
	Flow         *FlowRef        `json:"flow,omitempty"`
	EnqueuedAt   time.Time       `json:"enqueuedAt"`
}

// Options tune a single enqueue. Zero values mean: one attempt, no backoff,
// no deduplication.
type Options struct {
	Attempts     int
	BackoffDelay time.Duration
	DedupKey     string
}

type Queue struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Queue {
	return &Queue{rdb: rdb}
}

func listKey(queue string) string         { return "queue:" + queue }
func delayedKey(queue string) string      { return "delayed:" + queue }
func dedupKey(queue, key string) string   { return "dedup:" + queue + ":" + key }
func flowKey(flowID string) string        { return "flow:" + flowID }
func flowResultsKey(flowID string) string { return "flow:" + flowID + ":results" }

func newJob(queueName, name string, payload any, opts Options) (*Job, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal job payload: %w", err)
		}
		raw = data
	}

	attempts := opts.Attempts
	if attempts < 1 {
		attempts = 1
	}

	return &Job{
		ID:           uuid.Must(uuid.NewV7()).String(),
		Queue:        queueName,
		Name:         name,
		Payload:      raw,
		DedupKey:     opts.DedupKey,
		MaxAttempts:  attempts,
		BackoffDelay: opts.BackoffDelay,
		EnqueuedAt:   time.Now().UTC(),
	}, nil
}

// Enqueue pushes one job. When a dedup key is set and an identical job is
// already in flight the enqueue is silently skipped and false is returned;
// the key is released when the job reaches a terminal state.
func (q *Queue) Enqueue(ctx context.Context, queueName, name string, payload any, opts Options) (bool, error) {
	job, err := newJob(queueName, name, payload, opts)
	if err != nil {
		return false, err
	}
	return q.push(ctx, job)
}

// EnqueueBulk pushes a batch of same-shaped jobs, returning how many were
// actually enqueued after deduplication.
func (q *Queue) EnqueueBulk(ctx context.Context, queueName, name string, payloads []any, opts func(payload any) Options) (int, error) {
	enqueued := 0
	for _, payload := range payloads {
		ok, err := q.Enqueue(ctx, queueName, name, payload, opts(payload))
		if err != nil {
			return enqueued, err
		}
		if ok {
			enqueued++
		}
	}
	return enqueued, nil
}

func (q *Queue) push(ctx context.Context, job *Job) (bool, error) {
	if job.DedupKey != "" {
		set, err := q.rdb.SetNX(ctx, dedupKey(job.Queue, job.DedupKey), job.ID, config.QueueDedupTTL).Result()
		if err != nil {
			return false, fmt.Errorf("set dedup key: %w", err)
		}
		if !set {
			log.Debug().Str("queue", job.Queue).Str("job", job.Name).
				Str("dedup", job.DedupKey).Msg("duplicate job skipped")
			return false, nil
		}
	}

	data, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("marshal job: %w", err)
	}
	if err := q.rdb.LPush(ctx, listKey(job.Queue), data).Err(); err != nil {
		return false, fmt.Errorf("push job: %w", err)
	}
	return true, nil
}

// schedule parks a job in the queue's delayed set until readyAt; the
// promoter loop moves it back onto the list.
func (q *Queue) schedule(ctx context.Context, job *Job, readyAt time.Time) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal delayed job: %w", err)
	}
	return q.rdb.ZAdd(ctx, delayedKey(job.Queue), redis.Z{
		Score:  float64(readyAt.UnixMilli()),
		Member: data,
	}).Err()
}

// PromoteDue moves delayed jobs whose ready time has passed back onto the
// queue list. Called periodically by each worker's promoter loop.
func (q *Queue) PromoteDue(ctx context.Context, queueName string, now time.Time) (int, error) {
	due, err := q.rdb.ZRangeByScore(ctx, delayedKey(queueName), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.UnixMilli()),
	}).Result()
	if err != nil {
		return 0, err
	}

	promoted := 0
	for _, member := range due {
		removed, err := q.rdb.ZRem(ctx, delayedKey(queueName), member).Result()
		if err != nil {
			return promoted, err
		}
		// Another promoter won the race for this member.
		if removed == 0 {
			continue
		}
		if err := q.rdb.LPush(ctx, listKey(queueName), member).Err(); err != nil {
			return promoted, err
		}
		promoted++
	}
	return promoted, nil
}

// releaseDedup frees the job's dedup key once the job is terminal, allowing
// the next identical job in.
func (q *Queue) releaseDedup(ctx context.Context, job *Job) {
	if job.DedupKey == "" {
		return
	}
	if err := q.rdb.Del(ctx, dedupKey(job.Queue, job.DedupKey)).Err(); err != nil {
		log.Error().Err(err).Str("queue", job.Queue).Str("dedup", job.DedupKey).
			Msg("failed to release dedup key")
	}
}
