// SPDX-License-Identifier: MIT

// Package queue implements the Redis-backed dispatch queues between the
// orchestrator and the worker fleet. Each queue keeps a priority-ordered
// wait set, a delayed set for backoff retries, and an active ledger that
// survives daemon restarts.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vodub/vodub/internal/metrics"
)

const (
	keyPrefix = "vodub:q:"

	// priorityBand separates priority tiers in the wait set score. The
	// FIFO sequence counter occupies the low digits, so entries of equal
	// priority dispatch in arrival order.
	priorityBand = 1e12

	// MaxPriority is the highest user-settable priority.
	MaxPriority = 10
)

// ErrNotQueued reports that an entry was not in a removable (waiting or
// delayed) position.
var ErrNotQueued = errors.New("queue: entry not waiting")

// Config describes one dispatch queue.
type Config struct {
	Name        string
	Concurrency int
	// Attempts is the total number of tries including the first.
	Attempts int
	// Backoff is the delay before the second attempt; it doubles per
	// subsequent attempt.
	Backoff time.Duration
	// Timeout bounds a single attempt. Zero means unbounded.
	Timeout time.Duration
	// PollInterval is how often idle workers check the wait set.
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.Attempts <= 0 {
		c.Attempts = 3
	}
	if c.Backoff <= 0 {
		c.Backoff = time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}
	return c
}

// Entry is one dispatched queue item. Attempt is 1-based.
type Entry struct {
	ID       string
	Queue    string
	Payload  json.RawMessage
	Priority int
	Attempt  int
}

// Handler processes one attempt. Returning nil completes the entry. A
// plain error schedules a backoff retry until attempts run out; wrap
// with Permanent to fail immediately.
type Handler func(ctx context.Context, e Entry) error

// ExhaustedFunc runs once when an entry has permanently failed, either
// by a Permanent error or by running out of attempts.
type ExhaustedFunc func(ctx context.Context, e Entry, err error)

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as non-retryable: the entry fails without
// consuming its remaining attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Stats is a point-in-time census of one queue.
type Stats struct {
	Waiting   int64 `json:"waiting"`
	Delayed   int64 `json:"delayed"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Queue is one named dispatch queue. All methods are safe for
// concurrent use; state lives entirely in Redis.
type Queue struct {
	cfg Config
	rdb *redis.Client
}

// New builds a queue handle. It performs no I/O.
func New(rdb *redis.Client, cfg Config) *Queue {
	return &Queue{cfg: cfg.withDefaults(), rdb: rdb}
}

// Name returns the queue's name.
func (q *Queue) Name() string { return q.cfg.Name }

func (q *Queue) key(suffix string) string {
	return keyPrefix + q.cfg.Name + ":" + suffix
}

func (q *Queue) jobKey(id string) string {
	return q.key("job:" + id)
}

func score(priority int, seq int64) float64 {
	if priority < 0 {
		priority = 0
	}
	if priority > MaxPriority {
		priority = MaxPriority
	}
	return float64(MaxPriority-priority)*priorityBand + float64(seq)
}

// Enqueue adds an entry, replacing any live copy of the same id so a
// repeated enqueue never double-dispatches. Higher priority dispatches
// first; ties dispatch in arrival order.
func (q *Queue) Enqueue(ctx context.Context, id string, payload any, priority int) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload for %s: %w", id, err)
	}
	seq, err := q.rdb.Incr(ctx, q.key("seq")).Result()
	if err != nil {
		return fmt.Errorf("next sequence: %w", err)
	}

	pipe := q.rdb.TxPipeline()
	pipe.ZRem(ctx, q.key("wait"), id)
	pipe.ZRem(ctx, q.key("delayed"), id)
	pipe.HDel(ctx, q.key("active"), id)
	pipe.HSet(ctx, q.jobKey(id),
		"payload", string(raw),
		"priority", priority,
		"seq", seq,
		"attempt", 0,
		"enqueued_at", time.Now().UTC().Format(time.RFC3339Nano),
	)
	pipe.ZAdd(ctx, q.key("wait"), redis.Z{Score: score(priority, seq), Member: id})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue %s on %s: %w", id, q.cfg.Name, err)
	}
	return nil
}

// Reprioritize moves a waiting entry to a new priority tier while
// keeping its arrival order within the tier. Entries that already
// dispatched are left alone; ErrNotQueued reports that case.
func (q *Queue) Reprioritize(ctx context.Context, id string, priority int) error {
	if _, err := q.rdb.ZScore(ctx, q.key("wait"), id).Result(); err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNotQueued
		}
		return fmt.Errorf("reprioritize %s: %w", id, err)
	}
	seqStr, err := q.rdb.HGet(ctx, q.jobKey(id), "seq").Result()
	if err != nil {
		return fmt.Errorf("reprioritize %s: read seq: %w", id, err)
	}
	seq, _ := strconv.ParseInt(seqStr, 10, 64)

	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, q.jobKey(id), "priority", priority)
	pipe.ZAdd(ctx, q.key("wait"), redis.Z{Score: score(priority, seq), Member: id})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("reprioritize %s: %w", id, err)
	}
	return nil
}

// Remove withdraws an entry that has not started. It returns
// ErrNotQueued when the entry is already active or gone; an active
// worker cannot be recalled, its result is discarded downstream.
func (q *Queue) Remove(ctx context.Context, id string) error {
	pipe := q.rdb.TxPipeline()
	wait := pipe.ZRem(ctx, q.key("wait"), id)
	delayed := pipe.ZRem(ctx, q.key("delayed"), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("remove %s: %w", id, err)
	}
	if wait.Val() == 0 && delayed.Val() == 0 {
		return ErrNotQueued
	}
	if err := q.rdb.Del(ctx, q.jobKey(id)).Err(); err != nil {
		return fmt.Errorf("remove %s: drop record: %w", id, err)
	}
	return nil
}

// Contains reports whether id is live on this queue in any
// pre-completion state.
func (q *Queue) Contains(ctx context.Context, id string) (bool, error) {
	if _, err := q.rdb.ZScore(ctx, q.key("wait"), id).Result(); err == nil {
		return true, nil
	} else if !errors.Is(err, redis.Nil) {
		return false, err
	}
	if _, err := q.rdb.ZScore(ctx, q.key("delayed"), id).Result(); err == nil {
		return true, nil
	} else if !errors.Is(err, redis.Nil) {
		return false, err
	}
	ok, err := q.rdb.HExists(ctx, q.key("active"), id).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

// Stats reports the current census and refreshes the depth gauges.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	pipe := q.rdb.Pipeline()
	wait := pipe.ZCard(ctx, q.key("wait"))
	delayed := pipe.ZCard(ctx, q.key("delayed"))
	active := pipe.HLen(ctx, q.key("active"))
	completed := pipe.ZCard(ctx, q.key("completed"))
	failed := pipe.ZCard(ctx, q.key("failed"))
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, fmt.Errorf("stats for %s: %w", q.cfg.Name, err)
	}
	s := Stats{
		Waiting:   wait.Val(),
		Delayed:   delayed.Val(),
		Active:    active.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
	}
	metrics.QueueDepth.WithLabelValues(q.cfg.Name, "waiting").Set(float64(s.Waiting))
	metrics.QueueDepth.WithLabelValues(q.cfg.Name, "delayed").Set(float64(s.Delayed))
	metrics.QueueDepth.WithLabelValues(q.cfg.Name, "active").Set(float64(s.Active))
	return s, nil
}

// promote moves due delayed entries back into the wait set at their
// stored priority.
func (q *Queue) promote(ctx context.Context, now time.Time) error {
	due, err := q.rdb.ZRangeByScore(ctx, q.key("delayed"), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return fmt.Errorf("scan delayed: %w", err)
	}
	for _, id := range due {
		vals, err := q.rdb.HMGet(ctx, q.jobKey(id), "priority", "seq").Result()
		if err != nil {
			return fmt.Errorf("promote %s: %w", id, err)
		}
		priority := hashInt(vals[0])
		seq := int64(hashInt(vals[1]))
		pipe := q.rdb.TxPipeline()
		pipe.ZRem(ctx, q.key("delayed"), id)
		pipe.ZAdd(ctx, q.key("wait"), redis.Z{Score: score(priority, seq), Member: id})
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("promote %s: %w", id, err)
		}
	}
	return nil
}

// pop claims the highest-priority waiting entry, moving it into the
// active ledger. It returns (nil, nil) when the queue is idle.
func (q *Queue) pop(ctx context.Context) (*Entry, error) {
	zs, err := q.rdb.ZPopMin(ctx, q.key("wait"), 1).Result()
	if err != nil {
		return nil, fmt.Errorf("pop %s: %w", q.cfg.Name, err)
	}
	if len(zs) == 0 {
		return nil, nil
	}
	id, _ := zs[0].Member.(string)

	attempt, err := q.rdb.HIncrBy(ctx, q.jobKey(id), "attempt", 1).Result()
	if err != nil {
		return nil, fmt.Errorf("pop %s: bump attempt: %w", id, err)
	}
	vals, err := q.rdb.HMGet(ctx, q.jobKey(id), "payload", "priority").Result()
	if err != nil {
		return nil, fmt.Errorf("pop %s: read record: %w", id, err)
	}
	payload, _ := vals[0].(string)
	if err := q.rdb.HSet(ctx, q.key("active"), id,
		time.Now().UTC().Format(time.RFC3339Nano)).Err(); err != nil {
		return nil, fmt.Errorf("pop %s: mark active: %w", id, err)
	}
	metrics.QueueDispatchedTotal.WithLabelValues(q.cfg.Name).Inc()
	return &Entry{
		ID:       id,
		Queue:    q.cfg.Name,
		Payload:  json.RawMessage(payload),
		Priority: hashInt(vals[1]),
		Attempt:  int(attempt),
	}, nil
}

// complete retires a finished entry.
func (q *Queue) complete(ctx context.Context, id string) error {
	pipe := q.rdb.TxPipeline()
	pipe.HDel(ctx, q.key("active"), id)
	pipe.Del(ctx, q.jobKey(id))
	pipe.ZAdd(ctx, q.key("completed"), redis.Z{
		Score:  float64(time.Now().UnixMilli()),
		Member: id,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("complete %s: %w", id, err)
	}
	return nil
}

// retry parks a transiently failed entry in the delayed set with
// exponential backoff. attempt is the attempt that just failed.
func (q *Queue) retry(ctx context.Context, id string, attempt int, cause error) error {
	delay := q.cfg.Backoff << (attempt - 1)
	pipe := q.rdb.TxPipeline()
	pipe.HDel(ctx, q.key("active"), id)
	pipe.HSet(ctx, q.jobKey(id), "last_error", cause.Error())
	pipe.ZAdd(ctx, q.key("delayed"), redis.Z{
		Score:  float64(time.Now().Add(delay).UnixMilli()),
		Member: id,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("retry %s: %w", id, err)
	}
	metrics.QueueRetriesTotal.WithLabelValues(q.cfg.Name).Inc()
	return nil
}

// fail retires an entry permanently. The record hash stays behind for
// inspection until the reaper collects it.
func (q *Queue) fail(ctx context.Context, id string, cause error) error {
	pipe := q.rdb.TxPipeline()
	pipe.HDel(ctx, q.key("active"), id)
	pipe.HSet(ctx, q.jobKey(id), "last_error", cause.Error())
	pipe.ZAdd(ctx, q.key("failed"), redis.Z{
		Score:  float64(time.Now().UnixMilli()),
		Member: id,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("fail %s: %w", id, err)
	}
	metrics.QueueExhaustedTotal.WithLabelValues(q.cfg.Name).Inc()
	return nil
}

// Recover re-queues entries that were in flight when the previous
// daemon process stopped. It runs before workers start.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	ids, err := q.rdb.HKeys(ctx, q.key("active")).Result()
	if err != nil {
		return 0, fmt.Errorf("recover %s: %w", q.cfg.Name, err)
	}
	for _, id := range ids {
		vals, err := q.rdb.HMGet(ctx, q.jobKey(id), "priority", "seq").Result()
		if err != nil {
			return 0, fmt.Errorf("recover %s: %w", id, err)
		}
		pipe := q.rdb.TxPipeline()
		pipe.HDel(ctx, q.key("active"), id)
		pipe.ZAdd(ctx, q.key("wait"), redis.Z{
			Score:  score(hashInt(vals[0]), int64(hashInt(vals[1]))),
			Member: id,
		})
		if _, err := pipe.Exec(ctx); err != nil {
			return 0, fmt.Errorf("recover %s: %w", id, err)
		}
	}
	return len(ids), nil
}

// Reap drops completed entries older than completedTTL and failed
// entries older than failedTTL, along with their record hashes.
func (q *Queue) Reap(ctx context.Context, now time.Time, completedTTL, failedTTL time.Duration) error {
	cutoff := strconv.FormatInt(now.Add(-completedTTL).UnixMilli(), 10)
	if err := q.rdb.ZRemRangeByScore(ctx, q.key("completed"), "-inf", cutoff).Err(); err != nil {
		return fmt.Errorf("reap completed on %s: %w", q.cfg.Name, err)
	}

	cutoff = strconv.FormatInt(now.Add(-failedTTL).UnixMilli(), 10)
	ids, err := q.rdb.ZRangeByScore(ctx, q.key("failed"), &redis.ZRangeBy{
		Min: "-inf", Max: cutoff,
	}).Result()
	if err != nil {
		return fmt.Errorf("reap failed on %s: %w", q.cfg.Name, err)
	}
	for _, id := range ids {
		pipe := q.rdb.TxPipeline()
		pipe.ZRem(ctx, q.key("failed"), id)
		pipe.Del(ctx, q.jobKey(id))
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("reap failed on %s: %w", q.cfg.Name, err)
		}
	}
	return nil
}

func hashInt(v any) int {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, _ := strconv.Atoi(s)
	return n
}
