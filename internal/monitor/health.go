// Package monitor implements the observability plane over the pipeline: the
// periodic health monitor and the real-time metrics sampler, both feeding the
// push channel.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/fairyhunter13/jobflow/internal/config"
	"github.com/fairyhunter13/jobflow/internal/domain"
	"github.com/fairyhunter13/jobflow/internal/observability"
)

// Status grades a component or the system overall.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusCritical Status = "critical"
	StatusUnknown  Status = "unknown"
)

func statusRank(s Status) int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusUnknown:
		return 1
	case StatusDegraded:
		return 2
	case StatusCritical:
		return 3
	default:
		return 1
	}
}

// Trend labels for health history.
const (
	TrendImproving = "improving"
	TrendStable    = "stable"
	TrendDegrading = "degrading"
	TrendUnknown   = "unknown"
)

// ComponentCheck is one component's result inside a health snapshot.
type ComponentCheck struct {
	Status       Status         `json:"status"`
	ResponseTime float64        `json:"response_time_ms"`
	Details      map[string]any `json:"details,omitempty"`
}

// HealthSnapshot is the worst-of aggregate over all component checks.
type HealthSnapshot struct {
	Timestamp  time.Time                 `json:"timestamp"`
	Overall    Status                    `json:"overall_status"`
	Components map[string]ComponentCheck `json:"components"`
	Trend      string                    `json:"trend"`
}

// Broadcaster pushes typed messages to all push-channel subscribers.
type Broadcaster interface {
	Broadcast(msgType string, payload any)
	SubscriberCount() int
}

// systemUsage reports CPU, memory, and disk utilization percentages.
// Swappable in tests.
type systemUsage func(ctx context.Context) (cpuPct, memPct, diskPct float64, err error)

func gopsutilUsage(ctx context.Context) (float64, float64, float64, error) {
	cpus, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, 0, 0, err
	}
	var cpuPct float64
	if len(cpus) > 0 {
		cpuPct = cpus[0]
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return cpuPct, 0, 0, err
	}
	du, err := disk.UsageWithContext(ctx, "/")
	if err != nil {
		return cpuPct, vm.UsedPercent, 0, err
	}
	return cpuPct, vm.UsedPercent, du.UsedPercent, nil
}

// HealthMonitor periodically grades queue, store, system, push channel, and
// pipeline, keeps a bounded history, and raises alerts on status transitions.
type HealthMonitor struct {
	cfg     config.Config
	logger  *slog.Logger
	queue   domain.Queue
	store   domain.JobStore
	hub     Broadcaster
	usage   systemUsage
	history *observability.Ring[HealthSnapshot]

	mu        sync.Mutex
	latest    HealthSnapshot
	lastAlert map[string]time.Time
}

// NewHealthMonitor wires a monitor; hub may be nil when the push plane is off.
func NewHealthMonitor(cfg config.Config, logger *slog.Logger, queue domain.Queue, store domain.JobStore, hub Broadcaster) *HealthMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthMonitor{
		cfg:       cfg,
		logger:    logger,
		queue:     queue,
		store:     store,
		hub:       hub,
		usage:     gopsutilUsage,
		history:   observability.NewRing[HealthSnapshot](100),
		lastAlert: make(map[string]time.Time),
	}
}

// Run executes the check loop until ctx is cancelled.
func (m *HealthMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.HealthCheckInterval())
	defer ticker.Stop()
	m.CheckNow(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckNow(ctx)
		}
	}
}

// CheckNow runs every component check once, records the snapshot, and fires
// alerts due on transitions.
func (m *HealthMonitor) CheckNow(ctx context.Context) HealthSnapshot {
	components := map[string]ComponentCheck{
		"queue":        m.checkQueue(ctx),
		"store":        m.checkStore(ctx),
		"system":       m.checkSystem(ctx),
		"push_channel": m.checkPush(),
	}
	components["pipeline"] = m.checkPipeline(components["queue"])

	snap := HealthSnapshot{
		Timestamp:  time.Now().UTC(),
		Overall:    overallStatus(components),
		Components: components,
	}

	m.mu.Lock()
	prev := m.latest
	snap.Trend = healthTrend(prev, snap)
	m.latest = snap
	m.mu.Unlock()
	m.history.Append(snap)

	m.alertOnTransition(prev, snap)
	return snap
}

func (m *HealthMonitor) checkQueue(ctx context.Context) ComponentCheck {
	start := time.Now()
	if err := m.queue.Ping(ctx); err != nil {
		return ComponentCheck{
			Status:       StatusCritical,
			ResponseTime: msSince(start),
			Details:      map[string]any{"error": err.Error()},
		}
	}
	mainLen, err := m.queue.Length(ctx, domain.ListMain)
	if err != nil {
		return ComponentCheck{Status: StatusDegraded, ResponseTime: msSince(start), Details: map[string]any{"error": err.Error()}}
	}
	deadLen, err := m.queue.Length(ctx, domain.ListDead)
	if err != nil {
		return ComponentCheck{Status: StatusDegraded, ResponseTime: msSince(start), Details: map[string]any{"error": err.Error()}}
	}
	elapsed := time.Since(start)

	status := StatusHealthy
	switch {
	case deadLen > int64(m.cfg.DeadLetterCritical):
		status = StatusCritical
	case mainLen > int64(m.cfg.QueueDepthDegraded) || elapsed > 2*time.Second:
		status = StatusDegraded
	}
	return ComponentCheck{
		Status:       status,
		ResponseTime: float64(elapsed.Milliseconds()),
		Details:      map[string]any{"main_length": mainLen, "deadletter_length": deadLen},
	}
}

func (m *HealthMonitor) checkStore(ctx context.Context) ComponentCheck {
	start := time.Now()
	if err := m.store.Ping(ctx); err != nil {
		return ComponentCheck{
			Status:       StatusCritical,
			ResponseTime: msSince(start),
			Details:      map[string]any{"error": err.Error()},
		}
	}
	elapsed := time.Since(start)
	status := StatusHealthy
	if elapsed > 5*time.Second {
		status = StatusDegraded
	}
	return ComponentCheck{Status: status, ResponseTime: float64(elapsed.Milliseconds())}
}

func (m *HealthMonitor) checkSystem(ctx context.Context) ComponentCheck {
	start := time.Now()
	cpuPct, memPct, diskPct, err := m.usage(ctx)
	if err != nil {
		return ComponentCheck{
			Status:       StatusUnknown,
			ResponseTime: msSince(start),
			Details:      map[string]any{"error": err.Error()},
		}
	}

	status := StatusHealthy
	switch {
	case cpuPct >= 90 || memPct >= 90 || diskPct >= 95:
		status = StatusCritical
	case cpuPct >= 75 || memPct >= 75 || diskPct >= 75:
		status = StatusDegraded
	}
	return ComponentCheck{
		Status:       status,
		ResponseTime: msSince(start),
		Details: map[string]any{
			"cpu_percent":    cpuPct,
			"memory_percent": memPct,
			"disk_percent":   diskPct,
		},
	}
}

// checkPush grades the push channel: responsive hub is healthy regardless of
// how many subscribers are connected.
func (m *HealthMonitor) checkPush() ComponentCheck {
	if m.hub == nil {
		return ComponentCheck{Status: StatusUnknown, Details: map[string]any{"enabled": false}}
	}
	return ComponentCheck{
		Status:  StatusHealthy,
		Details: map[string]any{"subscribers": m.hub.SubscriberCount()},
	}
}

// checkPipeline derives pipeline health from the queue depths already
// measured.
func (m *HealthMonitor) checkPipeline(queue ComponentCheck) ComponentCheck {
	return ComponentCheck{Status: queue.Status, Details: queue.Details}
}

func overallStatus(components map[string]ComponentCheck) Status {
	worst := StatusHealthy
	degraded := 0
	for _, c := range components {
		if c.Status == StatusDegraded {
			degraded++
		}
		if statusRank(c.Status) > statusRank(worst) {
			worst = c.Status
		}
	}
	// Two independently degraded components indicate a systemic problem.
	if degraded >= 2 && statusRank(worst) < statusRank(StatusCritical) {
		return StatusCritical
	}
	return worst
}

func healthTrend(prev, cur HealthSnapshot) string {
	if prev.Timestamp.IsZero() {
		return TrendUnknown
	}
	switch {
	case statusRank(cur.Overall) < statusRank(prev.Overall):
		return TrendImproving
	case statusRank(cur.Overall) > statusRank(prev.Overall):
		return TrendDegrading
	default:
		return TrendStable
	}
}

// alertOnTransition pushes health updates and, on deterioration, error alerts
// with a per-component cooldown to keep storms off the push channel.
func (m *HealthMonitor) alertOnTransition(prev, cur HealthSnapshot) {
	if m.hub == nil {
		return
	}
	m.hub.Broadcast("health_status_update", cur)

	if prev.Timestamp.IsZero() || statusRank(cur.Overall) <= statusRank(prev.Overall) {
		return
	}
	key := "overall:" + string(cur.Overall)
	m.mu.Lock()
	last, seen := m.lastAlert[key]
	now := time.Now()
	if seen && now.Sub(last) < m.cfg.AlertCooldown() {
		m.mu.Unlock()
		return
	}
	m.lastAlert[key] = now
	m.mu.Unlock()

	m.logger.Warn("health status deteriorated",
		slog.String("from", string(prev.Overall)),
		slog.String("to", string(cur.Overall)))
	m.hub.Broadcast("error_alert", map[string]any{
		"previous_status": prev.Overall,
		"current_status":  cur.Overall,
		"snapshot":        cur,
	})
}

// Latest returns the most recent snapshot.
func (m *HealthMonitor) Latest() HealthSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latest
}

// History returns up to limit recent snapshots, oldest first.
func (m *HealthMonitor) History(limit int) []HealthSnapshot {
	items := m.history.Items()
	if limit > 0 && len(items) > limit {
		items = items[len(items)-limit:]
	}
	return items
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Milliseconds())
}
