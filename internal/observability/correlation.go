package observability

import (
	"context"
	"log/slog"
	"time"

	"github.com/fairyhunter13/jobflow/internal/domain"
)

// EventSink receives correlation events for out-of-process delivery (e.g. a
// Kafka firehose). Publish must be safe for concurrent use.
type EventSink interface {
	Publish(ctx context.Context, ev domain.CorrelationEvent) error
}

// CorrelationLogger emits one structured record per pipeline event, always
// tagged with the job's correlation id. Emission is best-effort and
// non-blocking: a full sink buffer drops the event (counted) rather than
// stalling a worker. The logger never mutates the job.
type CorrelationLogger struct {
	logger  *slog.Logger
	metrics *Registry
	sinkCh  chan domain.CorrelationEvent
	done    chan struct{}
}

// NewCorrelationLogger wires a correlation logger over the given slog logger.
// sink may be nil; when present, events are forwarded on a background
// goroutine through a bounded buffer.
func NewCorrelationLogger(logger *slog.Logger, metrics *Registry, sink EventSink) *CorrelationLogger {
	if logger == nil {
		logger = slog.Default()
	}
	cl := &CorrelationLogger{
		logger:  logger,
		metrics: metrics,
		done:    make(chan struct{}),
	}
	if sink != nil {
		cl.sinkCh = make(chan domain.CorrelationEvent, 256)
		go cl.forward(sink)
	}
	return cl
}

func (cl *CorrelationLogger) forward(sink EventSink) {
	defer close(cl.done)
	for ev := range cl.sinkCh {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := sink.Publish(ctx, ev); err != nil {
			cl.logger.Debug("event sink publish failed", slog.Any("error", err))
		}
		cancel()
	}
}

// Emit records an event for the job at the given stage.
func (cl *CorrelationLogger) Emit(ctx context.Context, stage, event string, job domain.Job, extra map[string]any) {
	ev := domain.CorrelationEvent{
		CorrelationID: job.CorrelationID,
		Stage:         stage,
		Event:         event,
		Timestamp:     time.Now().UTC(),
		JobID:         job.JobID,
		JobTitle:      job.Title,
		JobCompany:    job.Company,
		JobStatus:     job.Status,
		RetryCount:    job.RetryCount,
		Extra:         extra,
	}

	attrs := []any{
		slog.String("correlation_id", ev.CorrelationID),
		slog.String("stage", stage),
		slog.String("event", event),
		slog.String("job_id", ev.JobID),
		slog.String("job_title", ev.JobTitle),
		slog.String("job_company", ev.JobCompany),
		slog.String("job_status", string(ev.JobStatus)),
		slog.Int("retry_count", ev.RetryCount),
	}
	for k, v := range extra {
		attrs = append(attrs, slog.Any(k, v))
	}
	lg := cl.logger
	if lg == nil {
		lg = LoggerFromContext(ctx)
	}
	lg.Info("pipeline event", attrs...)

	if cl.sinkCh != nil {
		select {
		case cl.sinkCh <- ev:
		default:
			// Dropping beats stalling the pipeline.
			if cl.metrics != nil {
				cl.metrics.Inc(MetricEventsDropped, 1)
			}
		}
	}
}

// Close flushes the sink buffer and stops the forwarding goroutine.
func (cl *CorrelationLogger) Close() {
	if cl.sinkCh != nil {
		close(cl.sinkCh)
		<-cl.done
	}
}
