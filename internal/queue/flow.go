package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/remoodle/one/internal/config"
)

// FlowParent describes the job that runs once every child reached a terminal
// state. Its results are available via FlowResults keyed by child name.
type FlowParent struct {
	Queue   string
	Name    string
	Payload any
	Opts    Options
}

// FlowChild is one dependency of a flow parent. With IgnoreFailure set a
// failed child records a null result and still releases the parent;
// otherwise a failed child fails the whole flow and the parent never runs.
type FlowChild struct {
	Key           string
	Queue         string
	Name          string
	Payload       any
	Opts          Options
	IgnoreFailure bool
}

// EnqueueFlow parks the parent under a flow hash with a pending counter and
// enqueues the children. A child deduplicated away counts as immediately
// done with a null result, so a flow never hangs on an already-running
// sibling. Returns false when the parent itself was deduplicated.
func (q *Queue) EnqueueFlow(ctx context.Context, parent FlowParent, children []FlowChild) (bool, error) {
	if len(children) == 0 {
		return q.Enqueue(ctx, parent.Queue, parent.Name, parent.Payload, parent.Opts)
	}

	parentJob, err := newJob(parent.Queue, parent.Name, parent.Payload, parent.Opts)
	if err != nil {
		return false, err
	}

	if parentJob.DedupKey != "" {
		set, err := q.rdb.SetNX(ctx, dedupKey(parentJob.Queue, parentJob.DedupKey), parentJob.ID, config.QueueDedupTTL).Result()
		if err != nil {
			return false, fmt.Errorf("set flow dedup key: %w", err)
		}
		if !set {
			log.Debug().Str("queue", parentJob.Queue).Str("job", parentJob.Name).
				Str("dedup", parentJob.DedupKey).Msg("duplicate flow skipped")
			return false, nil
		}
	}

	flowID := uuid.Must(uuid.NewV7()).String()
	parentJob.Flow = &FlowRef{ID: flowID}

	parentData, err := json.Marshal(parentJob)
	if err != nil {
		return false, fmt.Errorf("marshal flow parent: %w", err)
	}

	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, flowKey(flowID), "parent", parentData, "pending", len(children), "failed", 0)
	pipe.Expire(ctx, flowKey(flowID), config.QueueFlowTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("park flow parent: %w", err)
	}

	for i, child := range children {
		key := child.Key
		if key == "" {
			key = fmt.Sprintf("%s:%d", child.Name, i)
		}

		childJob, err := newJob(child.Queue, child.Name, child.Payload, child.Opts)
		if err != nil {
			return false, err
		}
		childJob.Flow = &FlowRef{ID: flowID, Child: key, IgnoreFailure: child.IgnoreFailure}

		pushed, err := q.push(ctx, childJob)
		if err != nil {
			return false, err
		}
		if !pushed {
			if err := q.settleChild(ctx, childJob, nil, nil); err != nil {
				return false, err
			}
		}
	}

	return true, nil
}

// FlowResults returns the children's results keyed by child name and drops
// the flow state. Called by the parent's handler.
func (q *Queue) FlowResults(ctx context.Context, flowID string) (map[string]json.RawMessage, error) {
	raw, err := q.rdb.HGetAll(ctx, flowResultsKey(flowID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read flow results: %w", err)
	}

	results := make(map[string]json.RawMessage, len(raw))
	for key, value := range raw {
		results[key] = json.RawMessage(value)
	}

	if err := q.rdb.Del(ctx, flowKey(flowID), flowResultsKey(flowID)).Err(); err != nil {
		log.Error().Err(err).Str("flow", flowID).Msg("failed to drop flow state")
	}

	return results, nil
}

// settleChild records a child's terminal state against its flow. On the last
// child of a clean flow the parked parent is enqueued; a failed flow is
// dropped entirely.
func (q *Queue) settleChild(ctx context.Context, job *Job, result json.RawMessage, jobErr error) error {
	flow := job.Flow
	if flow == nil || flow.Child == "" {
		return nil
	}

	if jobErr != nil && !flow.IgnoreFailure {
		if err := q.rdb.HSet(ctx, flowKey(flow.ID), "failed", 1).Err(); err != nil {
			return fmt.Errorf("mark flow failed: %w", err)
		}
	} else {
		if result == nil {
			result = json.RawMessage("null")
		}
		pipe := q.rdb.TxPipeline()
		pipe.HSet(ctx, flowResultsKey(flow.ID), flow.Child, string(result))
		pipe.Expire(ctx, flowResultsKey(flow.ID), config.QueueFlowTTL)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("record flow result: %w", err)
		}
	}

	pending, err := q.rdb.HIncrBy(ctx, flowKey(flow.ID), "pending", -1).Result()
	if err != nil {
		return fmt.Errorf("decrement flow pending: %w", err)
	}
	if pending > 0 {
		return nil
	}

	failed, err := q.rdb.HGet(ctx, flowKey(flow.ID), "failed").Int()
	if err != nil {
		return fmt.Errorf("read flow state: %w", err)
	}

	parentData, err := q.rdb.HGet(ctx, flowKey(flow.ID), "parent").Result()
	if err != nil {
		return fmt.Errorf("read flow parent: %w", err)
	}

	var parent Job
	if err := json.Unmarshal([]byte(parentData), &parent); err != nil {
		return fmt.Errorf("decode flow parent: %w", err)
	}

	if failed != 0 {
		log.Warn().Str("flow", flow.ID).Str("queue", job.Queue).Msg("flow failed, dropping parent")
		// The parent never runs, so its dedup key is released here instead
		// of in the worker's terminal-state path.
		q.releaseDedup(ctx, &parent)
		return q.rdb.Del(ctx, flowKey(flow.ID), flowResultsKey(flow.ID)).Err()
	}

	data, err := json.Marshal(&parent)
	if err != nil {
		return fmt.Errorf("marshal flow parent: %w", err)
	}
	if err := q.rdb.LPush(ctx, listKey(parent.Queue), data).Err(); err != nil {
		return fmt.Errorf("enqueue flow parent: %w", err)
	}

	log.Debug().Str("flow", flow.ID).Str("parent", parent.Name).Msg("flow children settled, parent enqueued")
	return nil
}

// retryAt computes when the next attempt of a failed job may run, using
// exponential backoff over the job's base delay.
func retryAt(job *Job, now time.Time) time.Time {
	delay := job.BackoffDelay
	if delay <= 0 {
		return now
	}
	for i := 1; i < job.Attempt; i++ {
		delay *= 2
	}
	return now.Add(delay)
}
