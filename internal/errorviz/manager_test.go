package errorviz

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/jobflow/internal/adapter/queue/redisq"
	"github.com/fairyhunter13/jobflow/internal/domain"
	"github.com/fairyhunter13/jobflow/internal/monitor"
	"github.com/fairyhunter13/jobflow/internal/observability"
)

func setup(t *testing.T) (*Manager, *redisq.Queue, *observability.Registry) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	queue := redisq.NewWithClient(client, "test")
	metrics := observability.NewRegistry()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewManager(logger, queue, metrics), queue, metrics
}

func deadLetter(t *testing.T, queue *redisq.Queue, job domain.Job) {
	t.Helper()
	if job.FailedAt == "" {
		job.FailedAt = time.Now().UTC().Format(time.RFC3339)
	}
	job.Status = domain.JobFailed
	require.NoError(t, queue.Enqueue(context.Background(), domain.ListDead, job))
}

func TestSummary(t *testing.T) {
	m, queue, metrics := setup(t)
	ctx := context.Background()

	deadLetter(t, queue, domain.Job{JobID: "a", Title: "X", Company: "Acme", ErrorReason: domain.ReasonMissingRequiredFields, Stage: domain.StageProcessing})
	deadLetter(t, queue, domain.Job{JobID: "b", Title: "Y", Company: "Acme", ErrorReason: domain.ReasonMissingRequiredFields, Stage: domain.StageProcessing})
	deadLetter(t, queue, domain.Job{JobID: "c", Title: "Z", Company: "Beta", ErrorReason: domain.ReasonDatabaseSaveFailed, Stage: domain.StageStorage})

	metrics.Inc(observability.MetricJobsProcessed, 97)
	metrics.Inc(observability.MetricJobsFailed, 3)

	sum, err := m.Summary(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, sum.TotalErrors)
	assert.Equal(t, 1, sum.CriticalCount, "database_save_failed is critical")
	assert.Equal(t, 3, sum.RecentCount, "all failed within the last hour")
	assert.InDelta(t, 3.0, sum.ErrorRate, 0.01)
	require.NotEmpty(t, sum.TopErrors)
	assert.Equal(t, domain.ReasonMissingRequiredFields, sum.TopErrors[0].ErrorType)
	assert.Equal(t, 2, sum.TopErrors[0].Count)
}

func TestSummaryEmptyDeadLetter(t *testing.T) {
	m, _, _ := setup(t)

	sum, err := m.Summary(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sum.TotalErrors)
	assert.Equal(t, monitor.TrendInsufficientData, sum.Trend)
}

func TestCorruptedEntriesBecomeSyntheticRecords(t *testing.T) {
	m, queue, _ := setup(t)
	ctx := context.Background()

	deadLetter(t, queue, domain.Job{JobID: "ok", Title: "X", Company: "Acme", ErrorReason: domain.ReasonSuitabilityFailed})
	require.NoError(t, queue.Client().RPush(ctx, "test:queue:deadletter", "not-json{{{").Err())

	sum, err := m.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.TotalErrors, "corrupted entry surfaced, not dropped")

	analysis, err := m.Analysis(ctx)
	require.NoError(t, err)
	var found bool
	for _, g := range analysis.ByError {
		if g.ErrorType == domain.ReasonDataCorruption {
			found = true
			require.Len(t, g.Examples, 1)
			assert.True(t, g.Examples[0].Corrupted)
			assert.Equal(t, "not-json{{{", g.Examples[0].Raw)
		}
	}
	assert.True(t, found, "data_corruption group present")
}

func TestAnalysisBreakdowns(t *testing.T) {
	m, queue, _ := setup(t)
	ctx := context.Background()

	deadLetter(t, queue, domain.Job{JobID: "a", Title: "X", Company: "Acme", ErrorReason: domain.ReasonMissingRequiredFields, Stage: domain.StageProcessing, CorrelationID: "corr-1", RetryCount: 0})
	deadLetter(t, queue, domain.Job{JobID: "b", Title: "Y", Company: "Acme", ErrorReason: domain.ReasonMaxRetriesExceeded, Stage: domain.StageProcessing, CorrelationID: "corr-1", RetryCount: 4})
	deadLetter(t, queue, domain.Job{JobID: "c", Title: "Z", Company: "Beta", ErrorReason: domain.ReasonDatabaseSaveFailed, Stage: domain.StageStorage, CorrelationID: "corr-2", RetryCount: 0})

	analysis, err := m.Analysis(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, analysis.TotalFailed)
	assert.Equal(t, 2, analysis.ByStage[domain.StageProcessing])
	assert.Equal(t, 1, analysis.ByStage[domain.StageStorage])
	assert.Equal(t, 2, analysis.ByCompany["Acme"])
	assert.Equal(t, 1, analysis.ByCompany["Beta"])
	assert.Equal(t, 2, analysis.RetryHistogram[0])
	assert.Equal(t, 1, analysis.RetryHistogram[4])

	require.Contains(t, analysis.CorrelationGroups, "corr-1")
	assert.ElementsMatch(t, []string{"a", "b"}, analysis.CorrelationGroups["corr-1"])
	assert.NotContains(t, analysis.CorrelationGroups, "corr-2", "singleton traces excluded")

	for _, g := range analysis.ByError {
		assert.NotEmpty(t, g.Hint)
	}
}

func TestTimeline(t *testing.T) {
	m, queue, _ := setup(t)
	ctx := context.Background()

	now := time.Now().UTC()
	deadLetter(t, queue, domain.Job{JobID: "recent", Title: "X", Company: "A", ErrorReason: domain.ReasonSuitabilityFailed, FailedAt: now.Format(time.RFC3339)})
	deadLetter(t, queue, domain.Job{JobID: "old", Title: "Y", Company: "B", ErrorReason: domain.ReasonSuitabilityFailed, FailedAt: now.Add(-48 * time.Hour).Format(time.RFC3339)})

	tl, err := m.Timeline(ctx, 24)
	require.NoError(t, err)
	assert.Equal(t, 24, tl.Hours)
	assert.Len(t, tl.Buckets, 24)
	assert.Equal(t, 1, tl.Total, "48h-old failure outside the window")

	last := tl.Buckets[len(tl.Buckets)-1]
	assert.Equal(t, 1, last.Count)
	assert.Equal(t, 1, last.ByType[domain.ReasonSuitabilityFailed])
}

func TestTimelineRejectsBadWindow(t *testing.T) {
	m, _, _ := setup(t)
	_, err := m.Timeline(context.Background(), 0)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestDetails(t *testing.T) {
	m, queue, _ := setup(t)
	ctx := context.Background()

	deadLetter(t, queue, domain.Job{JobID: "target", Title: "X", Company: "Acme", ErrorReason: domain.ReasonConnectionFailed, CorrelationID: "corr-1"})
	deadLetter(t, queue, domain.Job{JobID: "same-corr", Title: "Y", Company: "Other", ErrorReason: domain.ReasonSuitabilityFailed, CorrelationID: "corr-1"})
	deadLetter(t, queue, domain.Job{JobID: "same-company", Title: "Z", Company: "Acme", ErrorReason: domain.ReasonSuitabilityFailed, CorrelationID: "corr-9"})
	deadLetter(t, queue, domain.Job{JobID: "same-type", Title: "W", Company: "Gamma", ErrorReason: domain.ReasonConnectionFailed, CorrelationID: "corr-8"})
	deadLetter(t, queue, domain.Job{JobID: "unrelated", Title: "V", Company: "Delta", ErrorReason: domain.ReasonMissingRequiredFields, CorrelationID: "corr-7"})

	details, err := m.Details(ctx, "target")
	require.NoError(t, err)
	assert.True(t, details.Found)
	assert.Equal(t, "target", details.Entry.Job.JobID)
	assert.NotEmpty(t, details.Hint)

	related := make([]string, 0, len(details.Related))
	for _, r := range details.Related {
		related = append(related, r.Job.JobID)
	}
	assert.ElementsMatch(t, []string{"same-corr", "same-company", "same-type"}, related)
}

func TestDetailsNotFound(t *testing.T) {
	m, _, _ := setup(t)
	_, err := m.Details(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPatterns(t *testing.T) {
	m, queue, _ := setup(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		deadLetter(t, queue, domain.Job{JobID: "a", Title: "X", Company: "Acme", ErrorReason: domain.ReasonConnectionFailed})
	}
	deadLetter(t, queue, domain.Job{JobID: "b", Title: "Y", Company: "Solo", ErrorReason: domain.ReasonSuitabilityFailed})

	patterns, err := m.Patterns(ctx)
	require.NoError(t, err)
	require.Len(t, patterns, 1, "singletons filtered out")
	assert.Equal(t, "Acme", patterns[0].Company)
	assert.Equal(t, 3, patterns[0].Count)
	assert.Equal(t, CategoryInfrastructure, patterns[0].Category)
}

func TestCategoriesAndImpact(t *testing.T) {
	m, queue, _ := setup(t)
	ctx := context.Background()

	deadLetter(t, queue, domain.Job{JobID: "a", Title: "X", Company: "A", ErrorReason: domain.ReasonMissingRequiredFields})
	deadLetter(t, queue, domain.Job{JobID: "b", Title: "Y", Company: "B", ErrorReason: domain.ReasonAuthenticationFailed})

	cats, err := m.Categories(ctx)
	require.NoError(t, err)
	byName := make(map[string]CategoryBreakdown)
	for _, c := range cats {
		byName[c.Category] = c
	}
	assert.Equal(t, 1, byName[CategoryValidation].Count)
	assert.Equal(t, 1, byName[CategorySecurity].Count)

	impact, err := m.Impact(ctx)
	require.NoError(t, err)
	assert.Equal(t, "medium", impact.Impact, "one critical error present")
}

func TestDashboardBundles(t *testing.T) {
	m, queue, _ := setup(t)
	deadLetter(t, queue, domain.Job{JobID: "a", Title: "X", Company: "A", ErrorReason: domain.ReasonSuitabilityFailed})

	data, err := m.Dashboard(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, data.Summary.TotalErrors)
	assert.Equal(t, 1, data.Analysis.TotalFailed)
	assert.Equal(t, 24, data.Timeline.Hours)
	assert.Equal(t, "low", data.Impact.Impact)
}

func TestRecoveryHintVolumeNudge(t *testing.T) {
	t.Parallel()
	base := RecoveryHint(domain.ReasonConnectionFailed, 1)
	bulk := RecoveryHint(domain.ReasonConnectionFailed, 25)
	assert.NotEqual(t, base, bulk)
	assert.Contains(t, bulk, "batch operation")
	assert.Contains(t, RecoveryHint("weird_type", 1), "Unrecognized")
}
