package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	promobs "github.com/fairyhunter13/jobflow/internal/adapter/observability"
	"github.com/fairyhunter13/jobflow/internal/domain"
	"github.com/fairyhunter13/jobflow/internal/observability"
)

// StorageStage persists analyzed jobs. Persistence is the terminal step:
// store errors are recorded and alerted on, never re-enqueued.
type StorageStage struct {
	store   domain.JobStore
	clog    *observability.CorrelationLogger
	metrics *observability.Registry
	in      <-chan domain.Job
}

// NewStorageStage wires the stage to the analysis→storage channel.
func NewStorageStage(store domain.JobStore, clog *observability.CorrelationLogger, metrics *observability.Registry, in <-chan domain.Job) *StorageStage {
	return &StorageStage{store: store, clog: clog, metrics: metrics, in: in}
}

// run is one worker loop; it drains the inbound channel until it closes.
func (s *StorageStage) run(ctx context.Context) {
	for job := range s.in {
		s.handle(ctx, job)
	}
}

func (s *StorageStage) handle(ctx context.Context, job domain.Job) {
	tracer := otel.Tracer("pipeline.storage")
	ctx, span := tracer.Start(ctx, "storage.handle")
	defer span.End()
	ctx = observability.ContextWithCorrelationID(ctx, job.CorrelationID)
	start := time.Now()

	job.Stage = domain.StageStorage

	outcome, err := s.store.AddJob(ctx, job)
	switch outcome {
	case domain.AddInserted:
		job.Status = domain.JobSaved
		s.metrics.Inc(observability.MetricJobsSaved, 1)
		promobs.JobsSavedTotal.Inc()
		s.clog.Emit(ctx, domain.StageStorage, domain.EventJobSaved, job, map[string]any{"content_hash": job.ContentHash()})
	case domain.AddDuplicate:
		job.Status = domain.JobDuplicate
		s.metrics.Inc(observability.MetricJobsDuplicates, 1)
		promobs.JobsDuplicatesTotal.Inc()
		s.clog.Emit(ctx, domain.StageStorage, domain.EventJobDuplicate, job, map[string]any{"content_hash": job.ContentHash()})
	default:
		job.Status = domain.JobFailed
		job.ErrorReason = domain.ReasonDatabaseSaveFailed
		s.metrics.Inc(observability.MetricJobsFailed, 1)
		s.metrics.Inc(observability.MetricErrors, 1)
		promobs.JobsFailedTotal.WithLabelValues(domain.StageStorage, domain.ReasonDatabaseSaveFailed).Inc()
		extra := map[string]any{"error_reason": domain.ReasonDatabaseSaveFailed}
		if err != nil {
			extra["error"] = err.Error()
			extra["error_class"] = fmt.Sprintf("%T", err)
		}
		s.clog.Emit(ctx, domain.StageStorage, domain.EventDatabaseSaveFailed, job, extra)
	}

	elapsed := time.Since(start).Seconds()
	s.metrics.Observe(observability.HistStorageLatency, elapsed)
	promobs.StageLatency.WithLabelValues(domain.StageStorage).Observe(elapsed)
}
