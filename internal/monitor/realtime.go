package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fairyhunter13/jobflow/internal/config"
	"github.com/fairyhunter13/jobflow/internal/domain"
	"github.com/fairyhunter13/jobflow/internal/observability"
)

// Sample trend labels.
const (
	TrendIncreasing       = "increasing"
	TrendDecreasing       = "decreasing"
	TrendFlat             = "stable"
	TrendInsufficientData = "insufficient_data"
)

// PipelineMetrics is one throughput snapshot broadcast to dashboards.
type PipelineMetrics struct {
	Timestamp          time.Time `json:"timestamp"`
	JobsInQueue        int64     `json:"jobs_in_queue"`
	JobsInDeadLetter   int64     `json:"jobs_in_deadletter"`
	TotalJobsProcessed int64     `json:"total_jobs_processed"`
	JobsProcessedToday int64     `json:"jobs_processed_today"`
	SuccessRate        float64   `json:"success_rate"`
	AvgProcessingTime  float64   `json:"avg_processing_time"`
	ActiveWorkers      int64     `json:"active_workers"`
	SystemHealth       Status    `json:"system_health"`
}

// SystemStatus is one resource/connectivity snapshot.
type SystemStatus struct {
	Timestamp       time.Time `json:"timestamp"`
	CPUPercent      float64   `json:"cpu_percent"`
	MemoryPercent   float64   `json:"memory_percent"`
	DiskPercent     float64   `json:"disk_percent"`
	QueueConnected  bool      `json:"queue_connected"`
	StoreConnected  bool      `json:"store_connected"`
	PushConnections int       `json:"push_connections"`
	OverallStatus   Status    `json:"overall_status"`
}

// RealTimeMonitor samples the metrics registry, queue depths, and store
// counts on a fixed cadence and broadcasts the snapshots. Operators can stop
// and restart the loop through the API.
type RealTimeMonitor struct {
	cfg     config.Config
	logger  *slog.Logger
	queue   domain.Queue
	store   domain.JobStore
	hub     Broadcaster
	metrics *observability.Registry
	health  *HealthMonitor
	usage   systemUsage

	metricsHistory *observability.Ring[PipelineMetrics]
	statusHistory  *observability.Ring[SystemStatus]

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
}

// NewRealTimeMonitor wires the sampler. health may be nil; system health then
// reads unknown.
func NewRealTimeMonitor(cfg config.Config, logger *slog.Logger, queue domain.Queue, store domain.JobStore, metrics *observability.Registry, health *HealthMonitor, hub Broadcaster) *RealTimeMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &RealTimeMonitor{
		cfg:            cfg,
		logger:         logger,
		queue:          queue,
		store:          store,
		hub:            hub,
		metrics:        metrics,
		health:         health,
		usage:          gopsutilUsage,
		metricsHistory: observability.NewRing[PipelineMetrics](100),
		statusHistory:  observability.NewRing[SystemStatus](100),
	}
}

// Start launches the sampling loop. Idempotent: starting a running monitor is
// a no-op.
func (m *RealTimeMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	go m.loop(loopCtx)
	m.logger.Info("real-time monitor started",
		slog.Duration("interval", m.cfg.BroadcastInterval()))
}

// Stop halts the sampling loop; history is retained.
func (m *RealTimeMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.cancel()
	m.running = false
	m.logger.Info("real-time monitor stopped")
}

// Running reports whether the sampling loop is active.
func (m *RealTimeMonitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *RealTimeMonitor) loop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.BroadcastInterval())
	defer ticker.Stop()
	m.Sample(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sample(ctx)
		}
	}
}

// Sample takes one pipeline-metrics and one system-status snapshot, appends
// both to history, and broadcasts them.
func (m *RealTimeMonitor) Sample(ctx context.Context) (PipelineMetrics, SystemStatus) {
	pm := m.samplePipeline(ctx)
	ss := m.sampleSystem(ctx)

	m.metricsHistory.Append(pm)
	m.statusHistory.Append(ss)
	m.metrics.Sample()

	if m.hub != nil {
		m.hub.Broadcast("pipeline_metrics_update", pm)
		m.hub.Broadcast("system_status_update", ss)
	}
	return pm, ss
}

func (m *RealTimeMonitor) samplePipeline(ctx context.Context) PipelineMetrics {
	pm := PipelineMetrics{Timestamp: time.Now().UTC(), SystemHealth: StatusUnknown}

	if n, err := m.queue.Length(ctx, domain.ListMain); err == nil {
		pm.JobsInQueue = n
		m.metrics.SetGauge(observability.GaugeQueueDepth, float64(n))
	}
	if n, err := m.queue.Length(ctx, domain.ListDead); err == nil {
		pm.JobsInDeadLetter = n
		m.metrics.SetGauge(observability.GaugeDeadLetter, float64(n))
	}
	if stats, err := m.store.Stats(ctx); err == nil {
		pm.JobsProcessedToday = stats.JobsToday
	}

	pm.TotalJobsProcessed = m.metrics.Count(observability.MetricJobsProcessed)
	saved := m.metrics.Count(observability.MetricJobsSaved)
	dups := m.metrics.Count(observability.MetricJobsDuplicates)
	failed := m.metrics.Count(observability.MetricJobsFailed)
	if denom := saved + dups + failed; denom > 0 {
		pm.SuccessRate = float64(saved+dups) / float64(denom) * 100
	} else {
		pm.SuccessRate = 100
	}
	pm.AvgProcessingTime = m.metrics.Histogram(observability.HistProcessingLatency).Avg()

	for _, stage := range []string{domain.StageProcessing, domain.StageAnalysis, domain.StageStorage} {
		pm.ActiveWorkers += m.metrics.Count(observability.GaugeActiveWorkers + ":" + stage)
	}
	if m.health != nil {
		if latest := m.health.Latest(); !latest.Timestamp.IsZero() {
			pm.SystemHealth = latest.Overall
		}
	}
	return pm
}

func (m *RealTimeMonitor) sampleSystem(ctx context.Context) SystemStatus {
	ss := SystemStatus{Timestamp: time.Now().UTC(), OverallStatus: StatusHealthy}

	if cpuPct, memPct, diskPct, err := m.usage(ctx); err == nil {
		ss.CPUPercent = cpuPct
		ss.MemoryPercent = memPct
		ss.DiskPercent = diskPct
	}
	ss.QueueConnected = m.queue.Ping(ctx) == nil
	ss.StoreConnected = m.store.Ping(ctx) == nil
	if m.hub != nil {
		ss.PushConnections = m.hub.SubscriberCount()
	}

	switch {
	case !ss.QueueConnected || !ss.StoreConnected:
		ss.OverallStatus = StatusCritical
	case ss.CPUPercent >= 75 || ss.MemoryPercent >= 75 || ss.DiskPercent >= 75:
		ss.OverallStatus = StatusDegraded
	}
	return ss
}

// CurrentMetrics returns the latest pipeline snapshot, sampling on demand if
// the loop has never run.
func (m *RealTimeMonitor) CurrentMetrics(ctx context.Context) PipelineMetrics {
	if pm, ok := m.metricsHistory.Latest(); ok {
		return pm
	}
	pm, _ := m.Sample(ctx)
	return pm
}

// CurrentStatus returns the latest system snapshot, sampling on demand if the
// loop has never run.
func (m *RealTimeMonitor) CurrentStatus(ctx context.Context) SystemStatus {
	if ss, ok := m.statusHistory.Latest(); ok {
		return ss
	}
	_, ss := m.Sample(ctx)
	return ss
}

// MetricsHistory returns up to limit recent pipeline snapshots, oldest first.
func (m *RealTimeMonitor) MetricsHistory(limit int) []PipelineMetrics {
	items := m.metricsHistory.Items()
	if limit > 0 && len(items) > limit {
		items = items[len(items)-limit:]
	}
	return items
}

// StatusHistory returns up to limit recent system snapshots, oldest first.
func (m *RealTimeMonitor) StatusHistory(limit int) []SystemStatus {
	items := m.statusHistory.Items()
	if limit > 0 && len(items) > limit {
		items = items[len(items)-limit:]
	}
	return items
}

// QueueDepthTrend labels the direction of the main-queue depth over the
// recent sample window.
func (m *RealTimeMonitor) QueueDepthTrend() string {
	items := m.metricsHistory.Items()
	values := make([]float64, len(items))
	for i, pm := range items {
		values[i] = float64(pm.JobsInQueue)
	}
	return TrendOf(values)
}

// TrendOf compares the first and second half of the last five samples.
// A move of at least 10% is a trend; fewer than two samples is
// insufficient data.
func TrendOf(values []float64) string {
	if len(values) < 2 {
		return TrendInsufficientData
	}
	if len(values) > 5 {
		values = values[len(values)-5:]
	}
	half := len(values) / 2
	first := mean(values[:half])
	second := mean(values[len(values)-half:])

	if first == 0 {
		if second > 0 {
			return TrendIncreasing
		}
		return TrendFlat
	}
	change := (second - first) / first
	switch {
	case change >= 0.10:
		return TrendIncreasing
	case change <= -0.10:
		return TrendDecreasing
	default:
		return TrendFlat
	}
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
