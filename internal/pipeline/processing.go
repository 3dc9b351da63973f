package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	promobs "github.com/fairyhunter13/jobflow/internal/adapter/observability"
	"github.com/fairyhunter13/jobflow/internal/domain"
	"github.com/fairyhunter13/jobflow/internal/observability"
)

// ProcessingStage pops jobs from the main queue, validates and filters them,
// and routes survivors to the analysis channel. It is the only stage that
// re-enqueues: a job it cannot hand downstream before shutdown goes back to
// the main queue with its retry count incremented.
type ProcessingStage struct {
	queue          domain.Queue
	rules          RuleSet
	maxRetries     int
	dequeueTimeout time.Duration
	clog           *observability.CorrelationLogger
	metrics        *observability.Registry
	out            chan<- domain.Job
}

// NewProcessingStage wires the stage. out is the processing→analysis channel
// owned by the supervisor.
func NewProcessingStage(queue domain.Queue, rules RuleSet, maxRetries int, dequeueTimeout time.Duration, clog *observability.CorrelationLogger, metrics *observability.Registry, out chan<- domain.Job) *ProcessingStage {
	return &ProcessingStage{
		queue:          queue,
		rules:          rules,
		maxRetries:     maxRetries,
		dequeueTimeout: dequeueTimeout,
		clog:           clog,
		metrics:        metrics,
		out:            out,
	}
}

// run is one worker loop. It exits when ctx is cancelled; the bounded
// dequeue timeout guarantees cancellation is observed promptly even on an
// idle queue.
func (s *ProcessingStage) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		job, err := s.queue.Dequeue(ctx, domain.ListMain, s.dequeueTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			// Corrupted payloads are already preserved on the dead-letter
			// list by the queue; transient errors back off via the next
			// blocking dequeue.
			s.metrics.Inc(observability.MetricErrors, 1)
			continue
		}
		if job == nil {
			continue
		}
		s.handle(ctx, *job)
	}
}

func (s *ProcessingStage) handle(ctx context.Context, job domain.Job) {
	tracer := otel.Tracer("pipeline.processing")
	ctx, span := tracer.Start(ctx, "processing.handle")
	defer span.End()
	start := time.Now()

	// Correlation id is created on first pipeline entry and immutable after.
	if job.CorrelationID == "" {
		job.CorrelationID = uuid.NewString()
	}
	ctx = observability.ContextWithCorrelationID(ctx, job.CorrelationID)
	job.Status = domain.JobProcessing
	job.Stage = domain.StageProcessing

	s.clog.Emit(ctx, domain.StageProcessing, domain.EventJobReceived, job, nil)

	// Every popped job counts as processed, whether it is forwarded or
	// dead-lettered, so processed always bounds saved+duplicates+failed.
	s.metrics.Inc(observability.MetricJobsProcessed, 1)
	promobs.JobsProcessedTotal.Inc()

	if !job.HasRequiredFields() {
		s.deadLetter(ctx, job, domain.ReasonMissingRequiredFields, domain.EventValidationFailed)
		return
	}
	if s.rules.Evaluate(job.Title) == Reject {
		s.deadLetter(ctx, job, domain.ReasonSuitabilityFailed, domain.EventSuitabilityFailed)
		return
	}
	if job.RetryCount > s.maxRetries {
		s.deadLetter(ctx, job, domain.ReasonMaxRetriesExceeded, domain.EventMaxRetriesExceeded)
		return
	}

	select {
	case s.out <- job:
		elapsed := time.Since(start).Seconds()
		s.metrics.Observe(observability.HistProcessingLatency, elapsed)
		promobs.StageLatency.WithLabelValues(domain.StageProcessing).Observe(elapsed)
		s.clog.Emit(ctx, domain.StageProcessing, domain.EventJobProcessed, job, nil)
	case <-ctx.Done():
		s.requeue(job)
	}
}

// deadLetter moves the job to the dead-letter list with failure metadata.
func (s *ProcessingStage) deadLetter(ctx context.Context, job domain.Job, reason, event string) {
	job.Status = domain.JobFailed
	job.ErrorReason = reason
	job.FailedAt = time.Now().UTC().Format(time.RFC3339)

	s.clog.Emit(ctx, domain.StageProcessing, event, job, map[string]any{"error_reason": reason})
	s.metrics.Inc(observability.MetricJobsFailed, 1)
	promobs.JobsFailedTotal.WithLabelValues(domain.StageProcessing, reason).Inc()

	if err := s.queue.MoveToDeadLetter(ctx, job); err != nil {
		s.metrics.Inc(observability.MetricErrors, 1)
		observability.LoggerFromContext(ctx).Error("dead-letter move failed",
			"error", err, "job_id", job.JobID, "correlation_id", job.CorrelationID)
		return
	}
	s.clog.Emit(ctx, domain.StageProcessing, domain.EventMovedToDeadLetter, job, nil)
}

// requeue puts an in-flight job back on the main queue during shutdown so it
// is not lost, charging one retry for the interrupted attempt.
func (s *ProcessingStage) requeue(job domain.Job) {
	job.RetryCount++
	job.Status = domain.JobScraped
	job.QueuedAt = time.Now().UTC().Format(time.RFC3339)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.queue.Enqueue(ctx, domain.ListMain, job); err != nil {
		s.metrics.Inc(observability.MetricErrors, 1)
	}
}
