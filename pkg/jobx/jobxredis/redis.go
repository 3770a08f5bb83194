// Package jobxredis implements jobx.Store on Redis. Every transition runs
// as one Lua script, which gives the same compare-and-set guarantees as the
// SQL backend: a script observes the job state and mutates it atomically.
//
// Keys per queue: a "ready" sorted set ordered by priority then creation
// time, a "scheduled" set ordered by eligibility time, an "active" set
// ordered by lease expiry, and "completed"/"failed" sets ordered by finish
// time. Job fields live in one hash per job.
package jobxredis

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/Abraxas-365/recibo/pkg/jobx"
	"github.com/redis/go-redis/v9"
)

// RedisStore implements jobx.Store backed by Redis.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore creates a store on an existing Redis client.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func jobKey(id string) string              { return "jobq:job:" + id }
func readyKey(q jobx.QueueName) string     { return "jobq:ready:" + string(q) }
func scheduledKey(q jobx.QueueName) string { return "jobq:scheduled:" + string(q) }
func activeKey(q jobx.QueueName) string    { return "jobq:active:" + string(q) }
func completedKey(q jobx.QueueName) string { return "jobq:completed:" + string(q) }
func failedKey(q jobx.QueueName) string    { return "jobq:failed:" + string(q) }
func countersKey(q jobx.QueueName) string  { return "jobq:counters:" + string(q) }

// readyScore orders the ready set by priority (higher first) then creation
// time (older first). Priority dominates because its factor exceeds any
// realistic millisecond timestamp.
func readyScore(priority int, createdAt time.Time) float64 {
	return -float64(priority)*1e13 + float64(createdAt.UnixMilli())
}

func (s *RedisStore) Create(ctx context.Context, job *jobx.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return redisErrors.NewWithCause(ErrMarshal, err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, jobKey(job.ID),
		"data", data,
		"state", string(jobx.StateWaiting),
		"attempts", job.Attempts,
		"max_attempts", job.MaxAttempts,
		"priority", job.Priority,
		"queue", string(job.Queue),
		"created_ms", job.CreatedAt.UnixMilli(),
	)
	if job.NextEligibleAt.After(job.CreatedAt) {
		pipe.ZAdd(ctx, scheduledKey(job.Queue), redis.Z{
			Score:  float64(job.NextEligibleAt.UnixMilli()),
			Member: job.ID,
		})
	} else {
		pipe.ZAdd(ctx, readyKey(job.Queue), redis.Z{
			Score:  readyScore(job.Priority, job.CreatedAt),
			Member: job.ID,
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return redisErrors.NewWithCause(ErrStore, err).WithDetail("job_id", job.ID)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*jobx.Job, error) {
	vals, err := s.rdb.HMGet(ctx, jobKey(id), "data", "state", "attempts", "failure_reason", "finished_ms").Result()
	if err != nil {
		return nil, redisErrors.NewWithCause(ErrStore, err).WithDetail("job_id", id)
	}
	if vals[0] == nil {
		return nil, jobx.NotFound(id)
	}
	return decodeJob(id, vals)
}

func decodeJob(id string, vals []interface{}) (*jobx.Job, error) {
	var job jobx.Job
	if err := json.Unmarshal([]byte(vals[0].(string)), &job); err != nil {
		return nil, redisErrors.NewWithCause(ErrUnmarshal, err).WithDetail("job_id", id)
	}
	// The hash carries the mutable fields; the JSON blob is the snapshot
	// taken at the last full write.
	if vals[1] != nil {
		job.State = jobx.JobState(vals[1].(string))
	}
	if vals[2] != nil {
		if n, err := strconv.Atoi(vals[2].(string)); err == nil {
			job.Attempts = n
		}
	}
	if vals[3] != nil {
		job.FailureReason = vals[3].(string)
	}
	if vals[4] != nil {
		if ms, err := strconv.ParseInt(vals[4].(string), 10, 64); err == nil {
			t := time.UnixMilli(ms).UTC()
			job.FinishedAt = &t
		}
	}
	return &job, nil
}

// claimScript promotes due scheduled jobs into the ready set, then pops the
// best ready job and marks it active under a lease.
var claimScript = redis.NewScript(`
local ready = KEYS[1]
local scheduled = KEYS[2]
local active = KEYS[3]
local now_ms = tonumber(ARGV[1])
local lease_ms = tonumber(ARGV[2])
local prio_factor = 1e13

local due = redis.call('ZRANGEBYSCORE', scheduled, '-inf', now_ms)
for _, id in ipairs(due) do
    local prio = tonumber(redis.call('HGET', 'jobq:job:' .. id, 'priority')) or 0
    local created = tonumber(redis.call('HGET', 'jobq:job:' .. id, 'created_ms')) or now_ms
    redis.call('ZADD', ready, -prio * prio_factor + created, id)
end
if #due > 0 then
    redis.call('ZREMRANGEBYSCORE', scheduled, '-inf', now_ms)
end

local popped = redis.call('ZPOPMIN', ready, 1)
if #popped == 0 then
    return false
end
local id = popped[1]
local key = 'jobq:job:' .. id
if redis.call('HGET', key, 'state') ~= 'waiting' then
    return false
end
redis.call('HSET', key, 'state', 'active')
local attempts = redis.call('HINCRBY', key, 'attempts', 1)
redis.call('ZADD', active, now_ms + lease_ms, id)
return {id, attempts}
`)

func (s *RedisStore) Claim(ctx context.Context, queue jobx.QueueName, now time.Time, leaseFor time.Duration) (*jobx.Job, error) {
	res, err := claimScript.Run(ctx, s.rdb,
		[]string{readyKey(queue), scheduledKey(queue), activeKey(queue)},
		now.UnixMilli(), leaseFor.Milliseconds(),
	).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, redisErrors.NewWithCause(ErrStore, err).WithDetail("queue", string(queue))
	}

	parts, ok := res.([]interface{})
	if !ok || len(parts) < 2 {
		return nil, nil
	}
	id := parts[0].(string)

	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	processed := now
	job.ProcessedAt = &processed
	lease := now.Add(leaseFor)
	job.LeaseExpiresAt = &lease
	if err := s.writeSnapshot(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// finishScript transitions an active job to a terminal or waiting state.
// ARGV[1] is the target state, ARGV[2] the timestamp used for the target
// sorted set ("scheduled" for retries, "completed"/"failed" otherwise).
var finishScript = redis.NewScript(`
local key = KEYS[1]
local active = KEYS[2]
local target_set = KEYS[3]
local id = ARGV[1]
local target_state = ARGV[2]
local score = tonumber(ARGV[3])

if redis.call('HGET', key, 'state') ~= 'active' then
    return 0
end
redis.call('HSET', key, 'state', target_state)
redis.call('ZREM', active, id)
redis.call('ZADD', target_set, score, id)
return 1
`)

func (s *RedisStore) Complete(ctx context.Context, id string, result json.RawMessage, now time.Time) error {
	job, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	ok, err := finishScript.Run(ctx, s.rdb,
		[]string{jobKey(id), activeKey(job.Queue), completedKey(job.Queue)},
		id, string(jobx.StateCompleted), now.UnixMilli(),
	).Int()
	if err != nil {
		return redisErrors.NewWithCause(ErrStore, err).WithDetail("job_id", id)
	}
	if ok == 0 {
		fresh, _ := s.Get(ctx, id)
		state := jobx.StateWaiting
		if fresh != nil {
			state = fresh.State
		}
		return jobx.NotActive(id, state)
	}

	job.State = jobx.StateCompleted
	job.Result = result
	job.FinishedAt = &now
	job.LeaseExpiresAt = nil
	return s.writeSnapshot(ctx, job)
}

func (s *RedisStore) Fail(ctx context.Context, id string, reason string, retryAt *time.Time, now time.Time) error {
	job, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	targetState := jobx.StateFailed
	targetSet := failedKey(job.Queue)
	score := now.UnixMilli()
	if retryAt != nil {
		targetState = jobx.StateWaiting
		targetSet = scheduledKey(job.Queue)
		score = retryAt.UnixMilli()
	}

	ok, err := finishScript.Run(ctx, s.rdb,
		[]string{jobKey(id), activeKey(job.Queue), targetSet},
		id, string(targetState), score,
	).Int()
	if err != nil {
		return redisErrors.NewWithCause(ErrStore, err).WithDetail("job_id", id)
	}
	if ok == 0 {
		fresh, _ := s.Get(ctx, id)
		state := jobx.StateWaiting
		if fresh != nil {
			state = fresh.State
		}
		return jobx.NotActive(id, state)
	}

	job.State = targetState
	job.FailureReason = reason
	job.LeaseExpiresAt = nil
	if retryAt != nil {
		job.NextEligibleAt = *retryAt
	} else {
		job.FinishedAt = &now
	}
	return s.writeSnapshot(ctx, job)
}

// requeueScript moves a failed job back into the ready set.
var requeueScript = redis.NewScript(`
local key = KEYS[1]
local failed = KEYS[2]
local ready = KEYS[3]
local id = ARGV[1]
local score = tonumber(ARGV[2])
local reset = ARGV[3]

if redis.call('HGET', key, 'state') ~= 'failed' then
    return 0
end
redis.call('HSET', key, 'state', 'waiting')
redis.call('HDEL', key, 'failure_reason', 'finished_ms')
if reset == '1' then
    redis.call('HSET', key, 'attempts', 0)
end
redis.call('ZREM', failed, id)
redis.call('ZADD', ready, score, id)
return 1
`)

func (s *RedisStore) RequeueManual(ctx context.Context, id string, resetAttempts bool, now time.Time) error {
	job, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	reset := "0"
	if resetAttempts {
		reset = "1"
	}
	ok, err := requeueScript.Run(ctx, s.rdb,
		[]string{jobKey(id), failedKey(job.Queue), readyKey(job.Queue)},
		id, readyScore(job.Priority, job.CreatedAt), reset,
	).Int()
	if err != nil {
		return redisErrors.NewWithCause(ErrStore, err).WithDetail("job_id", id)
	}
	if ok == 0 {
		return jobx.NotRetryable(id, job.State)
	}

	job.State = jobx.StateWaiting
	job.NextEligibleAt = now
	job.FinishedAt = nil
	if resetAttempts {
		job.Attempts = 0
	}
	return s.writeSnapshot(ctx, job)
}

func (s *RedisStore) Stats(ctx context.Context, queue jobx.QueueName) (jobx.Stats, error) {
	pipe := s.rdb.Pipeline()
	ready := pipe.ZCard(ctx, readyKey(queue))
	scheduled := pipe.ZCard(ctx, scheduledKey(queue))
	active := pipe.ZCard(ctx, activeKey(queue))
	completed := pipe.ZCard(ctx, completedKey(queue))
	failed := pipe.ZCard(ctx, failedKey(queue))
	counters := pipe.HGetAll(ctx, countersKey(queue))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return jobx.Stats{}, redisErrors.NewWithCause(ErrStore, err).WithDetail("queue", string(queue))
	}

	stats := jobx.Stats{
		Queue:     queue,
		Waiting:   int(ready.Val() + scheduled.Val()),
		Active:    int(active.Val()),
		Completed: int(completed.Val()),
		Failed:    int(failed.Val()),
	}
	for k, v := range counters.Val() {
		n, err := strconv.Atoi(v)
		if err != nil {
			continue
		}
		switch k {
		case "completed":
			stats.Completed += n
		case "failed":
			stats.Failed += n
		}
	}
	return stats, nil
}

// reclaimScript returns active jobs with expired leases to the ready set.
// The claim already consumed an attempt, so a job with no budget left is
// dead-lettered into the failed set instead of being claimed again.
var reclaimScript = redis.NewScript(`
local active = KEYS[1]
local ready = KEYS[2]
local failed = KEYS[3]
local now_ms = tonumber(ARGV[1])
local reason = ARGV[2]
local prio_factor = 1e13

local expired = redis.call('ZRANGEBYSCORE', active, '-inf', now_ms)
for _, id in ipairs(expired) do
    local key = 'jobq:job:' .. id
    local attempts = tonumber(redis.call('HGET', key, 'attempts')) or 0
    local max_attempts = tonumber(redis.call('HGET', key, 'max_attempts')) or 0
    if max_attempts > 0 and attempts >= max_attempts then
        redis.call('HSET', key, 'state', 'failed', 'failure_reason', reason, 'finished_ms', now_ms)
        redis.call('ZADD', failed, now_ms, id)
    else
        redis.call('HSET', key, 'state', 'waiting')
        local prio = tonumber(redis.call('HGET', key, 'priority')) or 0
        local created = tonumber(redis.call('HGET', key, 'created_ms')) or now_ms
        redis.call('ZADD', ready, -prio * prio_factor + created, id)
    end
end
if #expired > 0 then
    redis.call('ZREMRANGEBYSCORE', active, '-inf', now_ms)
end
return #expired
`)

func (s *RedisStore) ReclaimExpired(ctx context.Context, now time.Time) (int, error) {
	total := 0
	for _, queue := range jobx.Queues() {
		n, err := reclaimScript.Run(ctx, s.rdb,
			[]string{activeKey(queue), readyKey(queue), failedKey(queue)},
			now.UnixMilli(), jobx.LeaseExpiredReason,
		).Int()
		if err != nil && err != redis.Nil {
			return total, redisErrors.NewWithCause(ErrStore, err).WithDetail("queue", string(queue))
		}
		total += n
	}
	return total, nil
}

// pruneScript deletes terminal jobs finished before the cutoff and folds
// their outcome into the queue counters.
var pruneScript = redis.NewScript(`
local terminal_set = KEYS[1]
local counters = KEYS[2]
local cutoff_ms = tonumber(ARGV[1])
local counter_field = ARGV[2]

local old = redis.call('ZRANGEBYSCORE', terminal_set, '-inf', cutoff_ms)
for _, id in ipairs(old) do
    redis.call('DEL', 'jobq:job:' .. id)
end
if #old > 0 then
    redis.call('ZREMRANGEBYSCORE', terminal_set, '-inf', cutoff_ms)
    redis.call('HINCRBY', counters, counter_field, #old)
end
return #old
`)

func (s *RedisStore) PruneFinished(ctx context.Context, cutoff time.Time) (int, error) {
	total := 0
	for _, queue := range jobx.Queues() {
		for field, key := range map[string]string{
			"completed": completedKey(queue),
			"failed":    failedKey(queue),
		} {
			n, err := pruneScript.Run(ctx, s.rdb,
				[]string{key, countersKey(queue)},
				cutoff.UnixMilli(), field,
			).Int()
			if err != nil && err != redis.Nil {
				return total, redisErrors.NewWithCause(ErrStore, err).WithDetail("queue", string(queue))
			}
			total += n
		}
	}
	return total, nil
}

// writeSnapshot refreshes the JSON blob after the mutable hash fields
// changed. The hash remains authoritative for state and attempts.
func (s *RedisStore) writeSnapshot(ctx context.Context, job *jobx.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return redisErrors.NewWithCause(ErrMarshal, err).WithDetail("job_id", job.ID)
	}
	if err := s.rdb.HSet(ctx, jobKey(job.ID), "data", data).Err(); err != nil {
		return redisErrors.NewWithCause(ErrStore, err).WithDetail("job_id", job.ID)
	}
	return nil
}

var _ jobx.Store = (*RedisStore)(nil)
