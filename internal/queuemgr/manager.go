// Package queuemgr implements operator manipulations of the durable queue:
// stats, paginated contents, batch operations, and atomic reordering.
package queuemgr

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/fairyhunter13/jobflow/internal/domain"
	"github.com/fairyhunter13/jobflow/internal/monitor"
	"github.com/fairyhunter13/jobflow/internal/observability"
)

// Batch operation names.
const (
	OpDelete           = "delete"
	OpRetry            = "retry"
	OpMoveToMain       = "move_to_main"
	OpMoveToDeadLetter = "move_to_deadletter"
	OpClear            = "clear"
	OpReorder          = "reorder"
	OpRequeueStuck     = "requeue_stuck"
)

// Reorder criteria.
const (
	ByPriority   = "priority"
	ByRetryCount = "retry_count"
	ByQueuedAt   = "queued_at"
)

// Stats is the operator view of one queue list.
type Stats struct {
	Timestamp time.Time `json:"timestamp"`
	Queue     string    `json:"queue"`
	Length    int64     `json:"length"`
	Oldest    string    `json:"oldest_entry,omitempty"`
	Newest    string    `json:"newest_entry,omitempty"`
	Health    string    `json:"health"`
}

// ContentsPage is one page of queue entries.
type ContentsPage struct {
	Timestamp time.Time      `json:"timestamp"`
	Queue     string         `json:"queue"`
	Offset    int64          `json:"offset"`
	Limit     int64          `json:"limit"`
	Total     int64          `json:"total"`
	HasMore   bool           `json:"has_more"`
	Entries   []domain.Entry `json:"entries"`
}

// OperationResult reports the outcome of one batch operation.
type OperationResult struct {
	Operation  string        `json:"operation"`
	Queue      string        `json:"queue"`
	Total      int           `json:"total"`
	Successful int           `json:"successful"`
	Failed     int           `json:"failed"`
	Errors     []string      `json:"errors,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// OperationRecord is one history-ring entry.
type OperationRecord struct {
	Timestamp time.Time       `json:"timestamp"`
	Result    OperationResult `json:"result"`
}

// Manager performs operator manipulations. All mutations are recorded in an
// in-process history ring and announced on the push channel.
type Manager struct {
	cfg     thresholds
	logger  *slog.Logger
	queue   domain.Queue
	clog    *observability.CorrelationLogger
	hub     monitor.Broadcaster
	history *observability.Ring[OperationRecord]
}

type thresholds struct {
	mainDegraded int64
	deadCritical int64
}

// NewManager wires the queue manager. hub and clog may be nil.
func NewManager(logger *slog.Logger, queue domain.Queue, clog *observability.CorrelationLogger, hub monitor.Broadcaster, mainDegraded, deadCritical int) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:     thresholds{mainDegraded: int64(mainDegraded), deadCritical: int64(deadCritical)},
		logger:  logger,
		queue:   queue,
		clog:    clog,
		hub:     hub,
		history: observability.NewRing[OperationRecord](100),
	}
}

func parseList(name string) (domain.QueueList, error) {
	switch name {
	case string(domain.ListMain):
		return domain.ListMain, nil
	case string(domain.ListDead):
		return domain.ListDead, nil
	default:
		return "", fmt.Errorf("op=queuemgr.parseList: %w: unknown queue %q", domain.ErrInvalidArgument, name)
	}
}

// Stats reports length, boundary timestamps, and a derived health label.
func (m *Manager) Stats(ctx context.Context, queueName string) (Stats, error) {
	list, err := parseList(queueName)
	if err != nil {
		return Stats{}, err
	}
	length, err := m.queue.Length(ctx, list)
	if err != nil {
		return Stats{}, fmt.Errorf("op=queuemgr.Stats: %w", err)
	}

	st := Stats{
		Timestamp: time.Now().UTC(),
		Queue:     queueName,
		Length:    length,
		Health:    m.healthLabel(list, length),
	}
	if length > 0 {
		if head, err := m.queue.Range(ctx, list, 0, 1); err == nil && len(head) == 1 {
			st.Oldest = entryTimestamp(head[0])
		}
		if tail, err := m.queue.Range(ctx, list, length-1, 1); err == nil && len(tail) == 1 {
			st.Newest = entryTimestamp(tail[0])
		}
	}
	return st, nil
}

func (m *Manager) healthLabel(list domain.QueueList, length int64) string {
	switch list {
	case domain.ListDead:
		if length > m.cfg.deadCritical {
			return string(monitor.StatusCritical)
		}
		if length > 0 {
			return string(monitor.StatusDegraded)
		}
	default:
		if length > m.cfg.mainDegraded {
			return string(monitor.StatusDegraded)
		}
	}
	return string(monitor.StatusHealthy)
}

func entryTimestamp(e domain.Entry) string {
	if e.Corrupted {
		return ""
	}
	if e.Job.FailedAt != "" {
		return e.Job.FailedAt
	}
	return e.Job.QueuedAt
}

// Contents returns a page of entries with position indexes.
func (m *Manager) Contents(ctx context.Context, queueName string, offset, limit int64) (ContentsPage, error) {
	list, err := parseList(queueName)
	if err != nil {
		return ContentsPage{}, err
	}
	if offset < 0 || limit < 1 {
		return ContentsPage{}, fmt.Errorf("op=queuemgr.Contents: %w: offset >= 0 and limit >= 1 required", domain.ErrInvalidArgument)
	}

	total, err := m.queue.Length(ctx, list)
	if err != nil {
		return ContentsPage{}, fmt.Errorf("op=queuemgr.Contents: %w", err)
	}
	page := ContentsPage{
		Timestamp: time.Now().UTC(),
		Queue:     queueName,
		Offset:    offset,
		Limit:     limit,
		Total:     total,
		Entries:   []domain.Entry{},
	}
	if offset >= total {
		return page, nil
	}
	entries, err := m.queue.Range(ctx, list, offset, limit)
	if err != nil {
		return ContentsPage{}, fmt.Errorf("op=queuemgr.Contents: %w", err)
	}
	page.Entries = entries
	page.HasMore = offset+int64(len(entries)) < total
	return page, nil
}

// BatchOperation applies op to the given positions on the source list.
// Positions are processed in descending order so earlier removals do not
// shift later ones.
func (m *Manager) BatchOperation(ctx context.Context, op, source string, positions []int64) (OperationResult, error) {
	list, err := parseList(source)
	if err != nil {
		return OperationResult{}, err
	}
	start := time.Now()
	result := OperationResult{Operation: op, Queue: source}

	switch op {
	case OpClear:
		result = m.clear(ctx, list, result)
	case OpDelete, OpRetry, OpMoveToMain, OpMoveToDeadLetter:
		if len(positions) == 0 {
			return OperationResult{}, fmt.Errorf("op=queuemgr.BatchOperation: %w: positions required for %s", domain.ErrInvalidArgument, op)
		}
		sorted := make([]int64, len(positions))
		copy(sorted, positions)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] > sorted[j] })

		result.Total = len(sorted)
		for _, pos := range sorted {
			if err := m.applyAt(ctx, op, list, pos); err != nil {
				result.Failed++
				result.Errors = append(result.Errors, fmt.Sprintf("position %d: %v", pos, err))
				continue
			}
			result.Successful++
		}
	default:
		return OperationResult{}, fmt.Errorf("op=queuemgr.BatchOperation: %w: unknown operation %q", domain.ErrInvalidArgument, op)
	}

	result.Duration = time.Since(start)
	m.record(result)
	m.announce("queue_operation_completed", result)
	return result, nil
}

func (m *Manager) applyAt(ctx context.Context, op string, list domain.QueueList, pos int64) error {
	switch op {
	case OpDelete:
		return m.queue.RemoveAt(ctx, list, pos)
	case OpRetry:
		return m.retryAt(ctx, list, pos)
	case OpMoveToMain:
		return m.moveAt(ctx, list, domain.ListMain, pos)
	case OpMoveToDeadLetter:
		return m.moveAt(ctx, list, domain.ListDead, pos)
	default:
		return fmt.Errorf("unknown operation %q", op)
	}
}

// snapshotAll reads the entire list in one range.
func (m *Manager) snapshotAll(ctx context.Context, list domain.QueueList) ([]domain.Entry, error) {
	length, err := m.queue.Length(ctx, list)
	if err != nil {
		return nil, err
	}
	if length == 0 {
		return nil, nil
	}
	return m.queue.Range(ctx, list, 0, length)
}

func (m *Manager) entryAt(ctx context.Context, list domain.QueueList, pos int64) (domain.Entry, error) {
	entries, err := m.queue.Range(ctx, list, pos, 1)
	if err != nil {
		return domain.Entry{}, err
	}
	if len(entries) == 0 {
		return domain.Entry{}, fmt.Errorf("%w: position %d out of range", domain.ErrNotFound, pos)
	}
	return entries[0], nil
}

// retryAt resends a dead-letter entry through the pipeline under a fresh
// trace: new correlation id, retry bookkeeping reset, failure metadata
// cleared.
func (m *Manager) retryAt(ctx context.Context, list domain.QueueList, pos int64) error {
	entry, err := m.entryAt(ctx, list, pos)
	if err != nil {
		return err
	}
	if entry.Corrupted {
		return fmt.Errorf("%w: corrupted payload cannot be retried", domain.ErrCorrupted)
	}

	job := entry.Job
	oldCorrelation := job.CorrelationID
	job.CorrelationID = uuid.NewString()
	job.RetryCount = 0
	job.Status = domain.JobScraped
	job.ErrorReason = ""
	job.FailedAt = ""
	job.Stage = ""
	job.QueuedAt = time.Now().UTC().Format(time.RFC3339)

	if err := m.queue.Enqueue(ctx, domain.ListMain, job); err != nil {
		return err
	}
	if err := m.queue.RemoveAt(ctx, list, pos); err != nil {
		return err
	}
	if m.clog != nil {
		m.clog.Emit(ctx, "operator", domain.EventOperatorRetry, job,
			map[string]any{"previous_correlation_id": oldCorrelation})
	}
	return nil
}

func (m *Manager) moveAt(ctx context.Context, source, target domain.QueueList, pos int64) error {
	if source == target {
		return fmt.Errorf("%w: source and target are the same list", domain.ErrInvalidArgument)
	}
	entry, err := m.entryAt(ctx, source, pos)
	if err != nil {
		return err
	}
	if entry.Corrupted {
		return fmt.Errorf("%w: corrupted payload cannot be moved", domain.ErrCorrupted)
	}

	job := entry.Job
	if target == domain.ListDead && job.FailedAt == "" {
		job.FailedAt = time.Now().UTC().Format(time.RFC3339)
	}
	if err := m.queue.Enqueue(ctx, target, job); err != nil {
		return err
	}
	return m.queue.RemoveAt(ctx, source, pos)
}

func (m *Manager) clear(ctx context.Context, list domain.QueueList, result OperationResult) OperationResult {
	length, err := m.queue.Length(ctx, list)
	if err == nil {
		result.Total = int(length)
	}
	if list == domain.ListMain {
		// Destroying live work is allowed but never silent.
		m.logger.Warn("clearing the main queue", slog.Int64("entries", length))
	}
	if err := m.queue.Clear(ctx, list); err != nil {
		result.Failed = result.Total
		result.Errors = append(result.Errors, err.Error())
		return result
	}
	result.Successful = result.Total
	m.announce("queue_cleared", map[string]any{"queue": string(list), "entries": result.Total})
	return result
}

// Reorder atomically rewrites the list sorted by criterion. Corrupted entries
// always sort last, preserving their raw bytes.
func (m *Manager) Reorder(ctx context.Context, queueName, criterion string) (OperationResult, error) {
	list, err := parseList(queueName)
	if err != nil {
		return OperationResult{}, err
	}
	start := time.Now()

	entries, err := m.snapshotAll(ctx, list)
	if err != nil {
		return OperationResult{}, fmt.Errorf("op=queuemgr.Reorder: %w", err)
	}

	less, err := comparatorFor(criterion)
	if err != nil {
		return OperationResult{}, err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Corrupted != entries[j].Corrupted {
			return !entries[i].Corrupted
		}
		if entries[i].Corrupted {
			return false
		}
		return less(entries[i].Job, entries[j].Job)
	})

	if err := m.queue.Rewrite(ctx, list, entries); err != nil {
		return OperationResult{}, fmt.Errorf("op=queuemgr.Reorder: %w", err)
	}

	result := OperationResult{
		Operation:  OpReorder,
		Queue:      queueName,
		Total:      len(entries),
		Successful: len(entries),
		Duration:   time.Since(start),
	}
	m.record(result)
	m.announce("queue_reordered", map[string]any{"queue": queueName, "criterion": criterion, "entries": len(entries)})
	return result, nil
}

// ReorderExplicit rewrites the list in the order given by permutation, a
// complete permutation of current positions.
func (m *Manager) ReorderExplicit(ctx context.Context, queueName string, permutation []int64) (OperationResult, error) {
	list, err := parseList(queueName)
	if err != nil {
		return OperationResult{}, err
	}
	start := time.Now()

	entries, err := m.snapshotAll(ctx, list)
	if err != nil {
		return OperationResult{}, fmt.Errorf("op=queuemgr.ReorderExplicit: %w", err)
	}
	if len(permutation) != len(entries) {
		return OperationResult{}, fmt.Errorf("op=queuemgr.ReorderExplicit: %w: permutation length %d, queue length %d",
			domain.ErrInvalidArgument, len(permutation), len(entries))
	}
	seen := make(map[int64]bool, len(permutation))
	ordered := make([]domain.Entry, 0, len(entries))
	for _, pos := range permutation {
		if pos < 0 || pos >= int64(len(entries)) || seen[pos] {
			return OperationResult{}, fmt.Errorf("op=queuemgr.ReorderExplicit: %w: invalid permutation position %d",
				domain.ErrInvalidArgument, pos)
		}
		seen[pos] = true
		ordered = append(ordered, entries[pos])
	}

	if err := m.queue.Rewrite(ctx, list, ordered); err != nil {
		return OperationResult{}, fmt.Errorf("op=queuemgr.ReorderExplicit: %w", err)
	}

	result := OperationResult{
		Operation:  OpReorder,
		Queue:      queueName,
		Total:      len(ordered),
		Successful: len(ordered),
		Duration:   time.Since(start),
	}
	m.record(result)
	m.announce("queue_reordered", map[string]any{"queue": queueName, "criterion": "explicit", "entries": len(ordered)})
	return result, nil
}

func comparatorFor(criterion string) (func(a, b domain.Job) bool, error) {
	switch criterion {
	case ByPriority:
		return func(a, b domain.Job) bool { return jobPriority(a) > jobPriority(b) }, nil
	case ByRetryCount:
		return func(a, b domain.Job) bool { return a.RetryCount < b.RetryCount }, nil
	case ByQueuedAt:
		return func(a, b domain.Job) bool {
			return domain.ParseTimestamp(a.QueuedAt).Before(domain.ParseTimestamp(b.QueuedAt))
		}, nil
	default:
		return nil, fmt.Errorf("op=queuemgr.comparatorFor: %w: unknown criterion %q", domain.ErrInvalidArgument, criterion)
	}
}

// jobPriority reads an optional numeric priority from the raw payload;
// higher sorts first, absent means zero.
func jobPriority(j domain.Job) float64 {
	if j.RawData == nil {
		return 0
	}
	switch v := j.RawData["priority"].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}

// RequeueStuck retries every dead-letter entry whose failure timestamp is
// older than age. Corrupted entries are skipped and counted as failures.
func (m *Manager) RequeueStuck(ctx context.Context, age time.Duration) (OperationResult, error) {
	if age <= 0 {
		return OperationResult{}, fmt.Errorf("op=queuemgr.RequeueStuck: %w: age must be positive", domain.ErrInvalidArgument)
	}
	start := time.Now()
	cutoff := time.Now().UTC().Add(-age)

	entries, err := m.snapshotAll(ctx, domain.ListDead)
	if err != nil {
		return OperationResult{}, fmt.Errorf("op=queuemgr.RequeueStuck: %w", err)
	}

	var stuck []int64
	for _, e := range entries {
		if e.Corrupted {
			continue
		}
		if domain.ParseTimestamp(e.Job.FailedAt).Before(cutoff) {
			stuck = append(stuck, e.Position)
		}
	}

	result := OperationResult{Operation: OpRequeueStuck, Queue: string(domain.ListDead), Total: len(stuck)}
	sort.Slice(stuck, func(i, j int) bool { return stuck[i] > stuck[j] })
	for _, pos := range stuck {
		if err := m.retryAt(ctx, domain.ListDead, pos); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("position %d: %v", pos, err))
			continue
		}
		result.Successful++
	}

	result.Duration = time.Since(start)
	m.record(result)
	m.announce("queue_operation_completed", result)
	return result, nil
}

// History returns up to limit recent operation records, oldest first.
func (m *Manager) History(limit int) []OperationRecord {
	items := m.history.Items()
	if limit > 0 && len(items) > limit {
		items = items[len(items)-limit:]
	}
	return items
}

func (m *Manager) record(result OperationResult) {
	m.history.Append(OperationRecord{Timestamp: time.Now().UTC(), Result: result})
}

func (m *Manager) announce(msgType string, payload any) {
	if m.hub != nil {
		m.hub.Broadcast(msgType, payload)
	}
}
