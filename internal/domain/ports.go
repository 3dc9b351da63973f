package domain

import (
	"context"
	"time"
)

// QueueList names one of the two durable lists.
type QueueList string

// The main work list and its dead-letter sibling.
const (
	ListMain QueueList = "main"
	ListDead QueueList = "deadletter"
)

// Entry is the wire form of a Job on the durable queue. When the stored JSON
// cannot be decoded, Corrupted is set and Raw carries the original bytes so
// operators can still see (and delete) the entry.
type Entry struct {
	Job       Job    `json:"job"`
	Raw       string `json:"raw,omitempty"`
	Position  int64  `json:"position"`
	Corrupted bool   `json:"corrupted"`
}

// Queue is the durable FIFO contract (C1). Implementations surface
// ErrTransient for reconnectable failures and ErrFatal for misconfiguration.
//
//go:generate mockery --name=Queue --with-expecter --filename=queue_mock.go
type Queue interface {
	// Enqueue appends the entry to the tail of the named list.
	Enqueue(ctx context.Context, list QueueList, job Job) error
	// Dequeue blocks up to timeout for a head entry; returns nil when the
	// list stayed empty for the whole window.
	Dequeue(ctx context.Context, list QueueList, timeout time.Duration) (*Job, error)
	// Length reports the current size of the list.
	Length(ctx context.Context, list QueueList) (int64, error)
	// Range returns a read-only snapshot of [offset, offset+limit). The
	// snapshot may lag under concurrent mutation.
	Range(ctx context.Context, list QueueList, offset, limit int64) ([]Entry, error)
	// RemoveAt removes exactly one entry matching the content at position.
	// Operator manipulations only.
	RemoveAt(ctx context.Context, list QueueList, position int64) error
	// MoveToDeadLetter appends an already-popped payload to the dead-letter
	// list.
	MoveToDeadLetter(ctx context.Context, job Job) error
	// Clear drops all entries from the list.
	Clear(ctx context.Context, list QueueList) error
	// Rewrite atomically replaces the list's contents, preserving raw bytes
	// for corrupted entries. Used by reorder.
	Rewrite(ctx context.Context, list QueueList, entries []Entry) error
	// Ping verifies connectivity.
	Ping(ctx context.Context) error
}

// AddOutcome is the result of JobStore.AddJob.
type AddOutcome string

// Outcomes of a store insert. Exactly one of two concurrent inserts with the
// same content hash observes AddInserted.
const (
	AddInserted  AddOutcome = "inserted"
	AddDuplicate AddOutcome = "duplicate"
	AddFailed    AddOutcome = "error"
)

// StoreStats is the aggregate surface of the job store.
type StoreStats struct {
	TotalJobs   int64 `json:"total_jobs"`
	AppliedJobs int64 `json:"applied_jobs"`
	FailedJobs  int64 `json:"failed_jobs"`
	PendingJobs int64 `json:"pending_jobs"`
	JobsToday   int64 `json:"jobs_today"`
}

// JobStore is the deduplicating persistence contract (C2).
//
//go:generate mockery --name=JobStore --with-expecter --filename=job_store_mock.go
type JobStore interface {
	AddJob(ctx context.Context, job Job) (AddOutcome, error)
	Count(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (StoreStats, error)
	LookupByHash(ctx context.Context, contentHash string) (StoredJob, error)
	Ping(ctx context.Context) error
}

// Analyzer is the external job analyzer (pure, idempotent, may fail). The
// pipeline treats its output as opaque annotations.
type Analyzer interface {
	Analyze(ctx context.Context, job Job) (map[string]any, error)
}
