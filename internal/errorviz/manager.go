// Package errorviz turns the dead-letter list into operator-facing analytics:
// summaries, per-error breakdowns, timelines, and per-job drill-downs with
// recovery hints.
package errorviz

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/fairyhunter13/jobflow/internal/domain"
	"github.com/fairyhunter13/jobflow/internal/monitor"
	"github.com/fairyhunter13/jobflow/internal/observability"
)

const pageSize = 100

// criticalClasses are the error types treated as critical for summary and
// health-impact purposes.
var criticalClasses = map[string]bool{
	domain.ReasonDatabaseSaveFailed:   true,
	domain.ReasonConnectionFailed:     true,
	domain.ReasonDataCorruption:       true,
	domain.ReasonRateLimitExceeded:    true,
	domain.ReasonAuthenticationFailed: true,
	domain.ReasonPermissionDenied:     true,
	domain.ReasonResourceExhausted:    true,
}

// FailedJob is one dead-letter record in analyzable form. Corrupted queue
// payloads become synthetic records rather than being dropped.
type FailedJob struct {
	Job       domain.Job `json:"job"`
	Position  int64      `json:"position"`
	ErrorType string     `json:"error_type"`
	FailedAt  time.Time  `json:"failed_at"`
	Corrupted bool       `json:"corrupted"`
	Raw       string     `json:"raw,omitempty"`
}

// TypeCount is one entry in a top-N error breakdown.
type TypeCount struct {
	ErrorType string `json:"error_type"`
	Count     int    `json:"count"`
}

// ErrorSummary is the headline view of the dead-letter list.
type ErrorSummary struct {
	Timestamp     time.Time   `json:"timestamp"`
	TotalErrors   int         `json:"total_errors"`
	ErrorRate     float64     `json:"error_rate"`
	CriticalCount int         `json:"critical_count"`
	RecentCount   int         `json:"recent_count"`
	TopErrors     []TypeCount `json:"top_errors"`
	Trend         string      `json:"trend"`
}

// ErrorGroup is one error type's slice of a FailedJobsAnalysis.
type ErrorGroup struct {
	ErrorType string      `json:"error_type"`
	Count     int         `json:"count"`
	Examples  []FailedJob `json:"examples"`
	Hint      string      `json:"recovery_hint"`
}

// FailedJobsAnalysis is the full breakdown of dead-letter contents.
type FailedJobsAnalysis struct {
	Timestamp         time.Time           `json:"timestamp"`
	TotalFailed       int                 `json:"total_failed"`
	ByError           []ErrorGroup        `json:"by_error"`
	ByStage           map[string]int      `json:"by_stage"`
	ByCompany         map[string]int      `json:"by_company"`
	HourDistribution  map[int]int         `json:"hour_distribution"`
	RetryHistogram    map[int]int         `json:"retry_histogram"`
	CorrelationGroups map[string][]string `json:"correlation_groups"`
}

// TimelineBucket is one hour of error history.
type TimelineBucket struct {
	Hour   time.Time      `json:"hour"`
	Count  int            `json:"count"`
	ByType map[string]int `json:"by_type"`
}

// ErrorTimeline is the hourly error history over a requested window.
type ErrorTimeline struct {
	Timestamp time.Time        `json:"timestamp"`
	Hours     int              `json:"hours"`
	Buckets   []TimelineBucket `json:"buckets"`
	Total     int              `json:"total"`
	Trend     string           `json:"trend"`
}

// ErrorDetails is the drill-down for a single failed job.
type ErrorDetails struct {
	Timestamp time.Time   `json:"timestamp"`
	Found     bool        `json:"found"`
	Entry     *FailedJob  `json:"entry,omitempty"`
	Hint      string      `json:"recovery_hint,omitempty"`
	Related   []FailedJob `json:"related_errors"`
}

// Manager reads the dead-letter list and serves analytics over it.
type Manager struct {
	logger  *slog.Logger
	queue   domain.Queue
	metrics *observability.Registry
}

// NewManager wires the analytics reader.
func NewManager(logger *slog.Logger, queue domain.Queue, metrics *observability.Registry) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{logger: logger, queue: queue, metrics: metrics}
}

// load pages through the entire dead-letter list. Corrupted entries are kept
// as synthetic data_corruption records.
func (m *Manager) load(ctx context.Context) ([]FailedJob, error) {
	var out []FailedJob
	for offset := int64(0); ; offset += pageSize {
		entries, err := m.queue.Range(ctx, domain.ListDead, offset, pageSize)
		if err != nil {
			return nil, fmt.Errorf("op=errorviz.load: %w", err)
		}
		if len(entries) == 0 {
			break
		}
		for _, e := range entries {
			out = append(out, toFailedJob(e))
		}
		if len(entries) < pageSize {
			break
		}
	}
	return out, nil
}

func toFailedJob(e domain.Entry) FailedJob {
	if e.Corrupted {
		return FailedJob{
			Position:  e.Position,
			ErrorType: domain.ReasonDataCorruption,
			FailedAt:  time.Now().UTC(),
			Corrupted: true,
			Raw:       e.Raw,
		}
	}
	errType := e.Job.ErrorReason
	if errType == "" {
		errType = "unknown"
	}
	return FailedJob{
		Job:       e.Job,
		Position:  e.Position,
		ErrorType: errType,
		FailedAt:  domain.ParseTimestamp(e.Job.FailedAt),
	}
}

// Summary produces the headline error view.
func (m *Manager) Summary(ctx context.Context) (ErrorSummary, error) {
	failed, err := m.load(ctx)
	if err != nil {
		return ErrorSummary{}, err
	}

	sum := ErrorSummary{
		Timestamp:   time.Now().UTC(),
		TotalErrors: len(failed),
	}

	counts := make(map[string]int)
	hourAgo := time.Now().UTC().Add(-time.Hour)
	for _, f := range failed {
		counts[f.ErrorType]++
		if criticalClasses[f.ErrorType] {
			sum.CriticalCount++
		}
		if f.FailedAt.After(hourAgo) {
			sum.RecentCount++
		}
	}
	sum.TopErrors = topN(counts, 5)

	if m.metrics != nil {
		processed := m.metrics.Count(observability.MetricJobsProcessed)
		failedCount := m.metrics.Count(observability.MetricJobsFailed)
		if total := processed + failedCount; total > 0 {
			sum.ErrorRate = float64(failedCount) / float64(total) * 100
		}
	}
	sum.Trend = m.failureTrend(failed)
	return sum, nil
}

// failureTrend buckets failures by hour and labels the recent direction.
func (m *Manager) failureTrend(failed []FailedJob) string {
	if len(failed) == 0 {
		return monitor.TrendInsufficientData
	}
	byHour := make(map[time.Time]int)
	for _, f := range failed {
		byHour[f.FailedAt.Truncate(time.Hour)]++
	}
	hours := make([]time.Time, 0, len(byHour))
	for h := range byHour {
		hours = append(hours, h)
	}
	sort.Slice(hours, func(i, j int) bool { return hours[i].Before(hours[j]) })
	values := make([]float64, len(hours))
	for i, h := range hours {
		values[i] = float64(byHour[h])
	}
	return monitor.TrendOf(values)
}

// Analysis produces the full dead-letter breakdown.
func (m *Manager) Analysis(ctx context.Context) (FailedJobsAnalysis, error) {
	failed, err := m.load(ctx)
	if err != nil {
		return FailedJobsAnalysis{}, err
	}

	analysis := FailedJobsAnalysis{
		Timestamp:         time.Now().UTC(),
		TotalFailed:       len(failed),
		ByStage:           make(map[string]int),
		ByCompany:         make(map[string]int),
		HourDistribution:  make(map[int]int),
		RetryHistogram:    make(map[int]int),
		CorrelationGroups: make(map[string][]string),
	}

	groups := make(map[string][]FailedJob)
	for _, f := range failed {
		groups[f.ErrorType] = append(groups[f.ErrorType], f)

		stage := f.Job.Stage
		if stage == "" {
			stage = "unknown"
		}
		analysis.ByStage[stage]++

		company := f.Job.Company
		if company == "" {
			company = "unknown"
		}
		analysis.ByCompany[company]++

		analysis.HourDistribution[f.FailedAt.Hour()]++
		analysis.RetryHistogram[f.Job.RetryCount]++

		if f.Job.CorrelationID != "" {
			analysis.CorrelationGroups[f.Job.CorrelationID] = append(
				analysis.CorrelationGroups[f.Job.CorrelationID], f.Job.JobID)
		}
	}

	// Correlation clusters are only interesting when one trace failed more
	// than once.
	for id, jobs := range analysis.CorrelationGroups {
		if len(jobs) < 2 {
			delete(analysis.CorrelationGroups, id)
		}
	}

	for errType, jobs := range groups {
		examples := jobs
		if len(examples) > 3 {
			examples = examples[:3]
		}
		analysis.ByError = append(analysis.ByError, ErrorGroup{
			ErrorType: errType,
			Count:     len(jobs),
			Examples:  examples,
			Hint:      RecoveryHint(errType, len(jobs)),
		})
	}
	sort.Slice(analysis.ByError, func(i, j int) bool {
		if analysis.ByError[i].Count != analysis.ByError[j].Count {
			return analysis.ByError[i].Count > analysis.ByError[j].Count
		}
		return analysis.ByError[i].ErrorType < analysis.ByError[j].ErrorType
	})
	return analysis, nil
}

// Timeline buckets the last `hours` hours of failures hourly.
func (m *Manager) Timeline(ctx context.Context, hours int) (ErrorTimeline, error) {
	if hours < 1 {
		return ErrorTimeline{}, fmt.Errorf("op=errorviz.Timeline: %w: hours must be >= 1", domain.ErrInvalidArgument)
	}
	failed, err := m.load(ctx)
	if err != nil {
		return ErrorTimeline{}, err
	}

	now := time.Now().UTC().Truncate(time.Hour)
	start := now.Add(-time.Duration(hours-1) * time.Hour)

	tl := ErrorTimeline{
		Timestamp: time.Now().UTC(),
		Hours:     hours,
		Buckets:   make([]TimelineBucket, hours),
	}
	for i := range tl.Buckets {
		tl.Buckets[i] = TimelineBucket{
			Hour:   start.Add(time.Duration(i) * time.Hour),
			ByType: make(map[string]int),
		}
	}

	for _, f := range failed {
		hour := f.FailedAt.UTC().Truncate(time.Hour)
		if hour.Before(start) || hour.After(now) {
			continue
		}
		idx := int(hour.Sub(start) / time.Hour)
		tl.Buckets[idx].Count++
		tl.Buckets[idx].ByType[f.ErrorType]++
		tl.Total++
	}

	values := make([]float64, len(tl.Buckets))
	for i, b := range tl.Buckets {
		values[i] = float64(b.Count)
	}
	tl.Trend = monitor.TrendOf(values)
	return tl, nil
}

// Details looks up one dead-letter entry by job id and gathers related
// failures: same correlation id, same company, or same error type.
func (m *Manager) Details(ctx context.Context, jobID string) (ErrorDetails, error) {
	if strings.TrimSpace(jobID) == "" {
		return ErrorDetails{}, fmt.Errorf("op=errorviz.Details: %w: job id required", domain.ErrInvalidArgument)
	}
	failed, err := m.load(ctx)
	if err != nil {
		return ErrorDetails{}, err
	}

	details := ErrorDetails{Timestamp: time.Now().UTC(), Related: []FailedJob{}}
	var target *FailedJob
	for i := range failed {
		if failed[i].Job.JobID == jobID {
			target = &failed[i]
			break
		}
	}
	if target == nil {
		return details, fmt.Errorf("op=errorviz.Details: %w: job %q not in dead-letter", domain.ErrNotFound, jobID)
	}
	details.Found = true
	details.Entry = target
	details.Hint = RecoveryHint(target.ErrorType, 1)

	for _, f := range failed {
		if f.Job.JobID == jobID {
			continue
		}
		sameCorrelation := target.Job.CorrelationID != "" && f.Job.CorrelationID == target.Job.CorrelationID
		sameCompany := target.Job.Company != "" && f.Job.Company == target.Job.Company
		sameType := f.ErrorType == target.ErrorType
		if sameCorrelation || sameCompany || sameType {
			details.Related = append(details.Related, f)
		}
	}
	return details, nil
}

func topN(counts map[string]int, n int) []TypeCount {
	out := make([]TypeCount, 0, len(counts))
	for k, v := range counts {
		out = append(out, TypeCount{ErrorType: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].ErrorType < out[j].ErrorType
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
