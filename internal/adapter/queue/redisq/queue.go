// Package redisq implements the durable work queue on Redis lists: a main
// FIFO list and a sibling dead-letter list, with blocking pops and the
// operator manipulations the queue manager needs.
package redisq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/jobflow/internal/domain"
)

// Queue is a Redis-list-backed implementation of domain.Queue.
type Queue struct {
	client    *redis.Client
	namespace string
}

// New connects to Redis at the given URL. A malformed URL is a fatal
// configuration error.
func New(queueURL, namespace string) (*Queue, error) {
	opt, err := redis.ParseURL(queueURL)
	if err != nil {
		return nil, fmt.Errorf("op=redisq.New: %w: %v", domain.ErrFatal, err)
	}
	return &Queue{client: redis.NewClient(opt), namespace: namespace}, nil
}

// NewWithClient wraps an existing client; used by tests with miniredis.
func NewWithClient(client *redis.Client, namespace string) *Queue {
	return &Queue{client: client, namespace: namespace}
}

func (q *Queue) key(list domain.QueueList) string {
	return fmt.Sprintf("%s:queue:%s", q.namespace, list)
}

// classify maps driver errors onto the domain taxonomy so callers can decide
// between backoff-retry and escalation.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	switch {
	case errors.As(err, &netErr),
		errors.Is(err, context.DeadlineExceeded),
		strings.Contains(err.Error(), "connection refused"),
		strings.Contains(err.Error(), "broken pipe"):
		return fmt.Errorf("op=%s: %w: %v", op, domain.ErrTransient, err)
	default:
		return fmt.Errorf("op=%s: %w", op, err)
	}
}

// retryTransient retries fn with exponential backoff while it keeps failing
// transiently, bounded by the context.
func retryTransient(ctx context.Context, fn func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = 10 * time.Second
	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrTransient) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(bo, ctx))
}

// Enqueue appends the job to the tail of the named list.
func (q *Queue) Enqueue(ctx context.Context, list domain.QueueList, job domain.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("op=redisq.Enqueue: %w", err)
	}
	return retryTransient(ctx, func() error {
		return classify("redisq.Enqueue", q.client.RPush(ctx, q.key(list), payload).Err())
	})
}

// Dequeue blocks up to timeout for a head entry. Returns nil when the list
// stayed empty. A corrupted payload is preserved on the dead-letter list and
// reported as domain.ErrCorrupted instead of being dropped.
func (q *Queue) Dequeue(ctx context.Context, list domain.QueueList, timeout time.Duration) (*domain.Job, error) {
	res, err := q.client.BLPop(ctx, timeout, q.key(list)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, classify("redisq.Dequeue", err)
	}
	// BLPop returns [key, value].
	raw := res[1]
	var job domain.Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		_ = q.client.RPush(ctx, q.key(domain.ListDead), raw).Err()
		return nil, fmt.Errorf("op=redisq.Dequeue: %w: %v", domain.ErrCorrupted, err)
	}
	return &job, nil
}

// Length reports the current size of the list.
func (q *Queue) Length(ctx context.Context, list domain.QueueList) (int64, error) {
	n, err := q.client.LLen(ctx, q.key(list)).Result()
	if err != nil {
		return 0, classify("redisq.Length", err)
	}
	return n, nil
}

// Range returns a read-only snapshot of [offset, offset+limit). Corrupted
// entries are returned with Raw set rather than dropped.
func (q *Queue) Range(ctx context.Context, list domain.QueueList, offset, limit int64) ([]domain.Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	values, err := q.client.LRange(ctx, q.key(list), offset, offset+limit-1).Result()
	if err != nil {
		return nil, classify("redisq.Range", err)
	}
	entries := make([]domain.Entry, 0, len(values))
	for i, raw := range values {
		entry := domain.Entry{Raw: raw, Position: offset + int64(i)}
		if err := json.Unmarshal([]byte(raw), &entry.Job); err != nil {
			entry.Corrupted = true
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// RemoveAt removes exactly one entry at position using the LSET-tombstone
// idiom so that a concurrent mutation cannot make LREM delete a twin.
func (q *Queue) RemoveAt(ctx context.Context, list domain.QueueList, position int64) error {
	tombstone := "__jobflow_tombstone__:" + uuid.NewString()
	if err := q.client.LSet(ctx, q.key(list), position, tombstone).Err(); err != nil {
		if strings.Contains(err.Error(), "index out of range") {
			return fmt.Errorf("op=redisq.RemoveAt: position %d: %w", position, domain.ErrNotFound)
		}
		return classify("redisq.RemoveAt", err)
	}
	if err := q.client.LRem(ctx, q.key(list), 1, tombstone).Err(); err != nil {
		return classify("redisq.RemoveAt", err)
	}
	return nil
}

// MoveToDeadLetter appends an already-popped payload to the dead-letter list,
// stamping failure metadata if the caller has not.
func (q *Queue) MoveToDeadLetter(ctx context.Context, job domain.Job) error {
	if job.FailedAt == "" {
		job.FailedAt = time.Now().UTC().Format(time.RFC3339)
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("op=redisq.MoveToDeadLetter: %w", err)
	}
	return retryTransient(ctx, func() error {
		return classify("redisq.MoveToDeadLetter", q.client.RPush(ctx, q.key(domain.ListDead), payload).Err())
	})
}

// Clear drops all entries from the list.
func (q *Queue) Clear(ctx context.Context, list domain.QueueList) error {
	return classify("redisq.Clear", q.client.Del(ctx, q.key(list)).Err())
}

// Rewrite atomically replaces the list contents. Corrupted entries keep their
// original raw bytes.
func (q *Queue) Rewrite(ctx context.Context, list domain.QueueList, entries []domain.Entry) error {
	payloads := make([]any, 0, len(entries))
	for _, e := range entries {
		if e.Corrupted {
			payloads = append(payloads, e.Raw)
			continue
		}
		b, err := json.Marshal(e.Job)
		if err != nil {
			return fmt.Errorf("op=redisq.Rewrite: %w", err)
		}
		payloads = append(payloads, string(b))
	}
	pipe := q.client.TxPipeline()
	pipe.Del(ctx, q.key(list))
	if len(payloads) > 0 {
		pipe.RPush(ctx, q.key(list), payloads...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return classify("redisq.Rewrite", err)
	}
	return nil
}

// Ping verifies connectivity.
func (q *Queue) Ping(ctx context.Context) error {
	return classify("redisq.Ping", q.client.Ping(ctx).Err())
}

// Client exposes the underlying Redis client for readiness checks.
func (q *Queue) Client() *redis.Client { return q.client }
