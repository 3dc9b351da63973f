package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	promobs "github.com/fairyhunter13/jobflow/internal/adapter/observability"
	"github.com/fairyhunter13/jobflow/internal/config"
	"github.com/fairyhunter13/jobflow/internal/domain"
	"github.com/fairyhunter13/jobflow/internal/observability"
)

// Supervisor owns the bounded channels between the stages, spawns the worker
// pools, and sequences graceful shutdown: stop intake, drain processing, then
// analysis, then storage.
type Supervisor struct {
	cfg     config.Config
	queue   domain.Queue
	clog    *observability.CorrelationLogger
	metrics *observability.Registry

	processing *ProcessingStage
	analysis   *AnalysisStage
	storage    *StorageStage

	analysisCh chan domain.Job
	storageCh  chan domain.Job

	stopIntake context.CancelFunc
	hardStop   context.CancelFunc
	done       chan struct{}

	mu      sync.Mutex
	started bool
}

// NewSupervisor builds the pipeline. analyzer may be nil, in which case the
// analysis stage forwards jobs with empty annotations.
func NewSupervisor(cfg config.Config, queue domain.Queue, store domain.JobStore, analyzer domain.Analyzer, rules RuleSet, clog *observability.CorrelationLogger, metrics *observability.Registry) *Supervisor {
	analysisCh := make(chan domain.Job, cfg.ChannelCapacity)
	storageCh := make(chan domain.Job, cfg.ChannelCapacity)

	return &Supervisor{
		cfg:        cfg,
		queue:      queue,
		clog:       clog,
		metrics:    metrics,
		processing: NewProcessingStage(queue, rules, cfg.MaxRetries, cfg.DequeueTimeout, clog, metrics, analysisCh),
		analysis:   NewAnalysisStage(analyzer, clog, metrics, analysisCh, storageCh),
		storage:    NewStorageStage(store, clog, metrics, storageCh),
		analysisCh: analysisCh,
		storageCh:  storageCh,
		done:       make(chan struct{}),
	}
}

// Start spawns all worker pools. It returns immediately; workers run until
// Shutdown.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("op=supervisor.Start: already started")
	}
	s.started = true

	intakeCtx, stopIntake := context.WithCancel(ctx)
	hardCtx, hardStop := context.WithCancel(context.Background())
	s.stopIntake = stopIntake
	s.hardStop = hardStop

	var procWG, anaWG, storWG sync.WaitGroup

	for i := 0; i < s.cfg.ProcessingWorkers; i++ {
		procWG.Add(1)
		go s.runWorker(intakeCtx, domain.StageProcessing, &procWG, s.processing.run)
	}
	for i := 0; i < s.cfg.AnalysisWorkers; i++ {
		anaWG.Add(1)
		go s.runWorker(hardCtx, domain.StageAnalysis, &anaWG, s.analysis.run)
	}
	for i := 0; i < s.cfg.StorageWorkers; i++ {
		storWG.Add(1)
		go s.runWorker(hardCtx, domain.StageStorage, &storWG, s.storage.run)
	}

	// Stage-ordered drain: each pool's exit closes the next channel.
	go func() {
		procWG.Wait()
		close(s.analysisCh)
		anaWG.Wait()
		close(s.storageCh)
		storWG.Wait()
		close(s.done)
	}()

	slog.Info("pipeline started",
		slog.Int("processing_workers", s.cfg.ProcessingWorkers),
		slog.Int("analysis_workers", s.cfg.AnalysisWorkers),
		slog.Int("storage_workers", s.cfg.StorageWorkers),
		slog.Int("channel_capacity", s.cfg.ChannelCapacity))
	return nil
}

// runWorker runs the stage loop, replacing the worker after a bounded
// backoff if it panics.
func (s *Supervisor) runWorker(ctx context.Context, stage string, wg *sync.WaitGroup, work func(context.Context)) {
	defer wg.Done()
	s.metrics.Inc(observability.GaugeActiveWorkers+":"+stage, 1)
	defer s.metrics.Inc(observability.GaugeActiveWorkers+":"+stage, -1)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = 0 // restart forever until shutdown

	for {
		finished := s.runOnce(ctx, stage, work)
		if finished {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(bo.NextBackOff()):
		}
	}
}

// runOnce executes the worker loop once, converting a panic into a restart
// signal. Returns true when the loop exited normally.
func (s *Supervisor) runOnce(ctx context.Context, stage string, work func(context.Context)) (finished bool) {
	defer func() {
		if rec := recover(); rec != nil {
			finished = false
			promobs.WorkerRestartsTotal.WithLabelValues(stage).Inc()
			s.clog.Emit(ctx, stage, domain.EventWorkerRestart, domain.Job{CorrelationID: "supervisor"},
				map[string]any{"panic": fmt.Sprint(rec)})
			slog.Error("worker panicked; restarting", slog.String("stage", stage), slog.Any("panic", rec))
		}
	}()
	work(ctx)
	return true
}

// ActiveWorkers reports the live worker count for a stage.
func (s *Supervisor) ActiveWorkers(stage string) int64 {
	return s.metrics.Count(observability.GaugeActiveWorkers + ":" + stage)
}

// Done is closed once every worker has exited.
func (s *Supervisor) Done() <-chan struct{} { return s.done }

// MainQueueLength reports the depth of the main queue, used by drain mode to
// decide when intake may stop.
func (s *Supervisor) MainQueueLength(ctx context.Context) (int64, error) {
	return s.queue.Length(ctx, domain.ListMain)
}

// Shutdown stops intake and drains each channel in stage order. When the
// grace period elapses before the drain completes, remaining workers are
// cancelled and abandoned.
func (s *Supervisor) Shutdown(gracePeriod time.Duration) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	stopIntake, hardStop := s.stopIntake, s.hardStop
	s.mu.Unlock()

	stopIntake()
	select {
	case <-s.done:
		slog.Info("pipeline drained cleanly")
		return nil
	case <-time.After(gracePeriod):
		hardStop()
		s.clog.Emit(context.Background(), "supervisor", domain.EventWorkerAbandoned,
			domain.Job{CorrelationID: "supervisor"},
			map[string]any{"grace_period": gracePeriod.String()})
		select {
		case <-s.done:
			return nil
		case <-time.After(5 * time.Second):
			return fmt.Errorf("op=supervisor.Shutdown: workers did not exit after cancellation")
		}
	}
}
