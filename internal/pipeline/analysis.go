package pipeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"

	promobs "github.com/fairyhunter13/jobflow/internal/adapter/observability"
	"github.com/fairyhunter13/jobflow/internal/domain"
	"github.com/fairyhunter13/jobflow/internal/observability"
)

// AnalysisStage applies the external analyzer and attaches its annotations.
// Analysis is non-essential: a failing analyzer never blocks storage, the job
// just continues with empty annotations.
type AnalysisStage struct {
	analyzer domain.Analyzer
	clog     *observability.CorrelationLogger
	metrics  *observability.Registry
	in       <-chan domain.Job
	out      chan<- domain.Job
}

// NewAnalysisStage wires the stage between the processing and storage
// channels.
func NewAnalysisStage(analyzer domain.Analyzer, clog *observability.CorrelationLogger, metrics *observability.Registry, in <-chan domain.Job, out chan<- domain.Job) *AnalysisStage {
	return &AnalysisStage{analyzer: analyzer, clog: clog, metrics: metrics, in: in, out: out}
}

// run is one worker loop. It drains the inbound channel until it closes,
// which is how the supervisor sequences shutdown.
func (s *AnalysisStage) run(ctx context.Context) {
	for job := range s.in {
		s.handle(ctx, job)
	}
}

func (s *AnalysisStage) handle(ctx context.Context, job domain.Job) {
	tracer := otel.Tracer("pipeline.analysis")
	ctx, span := tracer.Start(ctx, "analysis.handle")
	defer span.End()
	ctx = observability.ContextWithCorrelationID(ctx, job.CorrelationID)
	start := time.Now()

	job.Stage = domain.StageAnalysis

	if s.analyzer == nil {
		job.Annotations = map[string]any{}
		s.clog.Emit(ctx, domain.StageAnalysis, domain.EventAnalysisSkipped, job, nil)
	} else {
		s.clog.Emit(ctx, domain.StageAnalysis, domain.EventAnalysisStarted, job, nil)
		annotations, err := s.analyzer.Analyze(ctx, job)
		if err != nil {
			job.Annotations = map[string]any{}
			s.metrics.Inc(observability.MetricErrors, 1)
			s.clog.Emit(ctx, domain.StageAnalysis, domain.EventAnalysisFailed, job, map[string]any{"error": err.Error()})
		} else {
			job.Annotations = annotations
			s.clog.Emit(ctx, domain.StageAnalysis, domain.EventAnalysisCompleted, job, nil)
		}
	}
	job.Status = domain.JobAnalyzed

	elapsed := time.Since(start).Seconds()
	s.metrics.Observe(observability.HistAnalysisLatency, elapsed)
	promobs.StageLatency.WithLabelValues(domain.StageAnalysis).Observe(elapsed)

	select {
	case s.out <- job:
	case <-ctx.Done():
		// Hard shutdown while the storage channel is full; the job has not
		// been persisted and will be re-scraped by the producer.
	}
}
