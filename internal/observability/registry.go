package observability

import (
	"hash/fnv"
	"math"
	"sync"
	"time"
)

// Canonical metric names used across the pipeline and monitoring plane.
const (
	MetricJobsProcessed  = "jobs_processed"
	MetricJobsFailed     = "jobs_failed"
	MetricJobsSaved      = "jobs_saved"
	MetricJobsDuplicates = "jobs_duplicates"
	MetricErrors         = "errors"
	MetricEventsDropped  = "events_dropped"

	GaugeActiveWorkers = "active_workers"
	GaugeQueueDepth    = "queue_depth"
	GaugeDeadLetter    = "deadletter_depth"

	HistProcessingLatency = "processing_latency_seconds"
	HistAnalysisLatency   = "analysis_latency_seconds"
	HistStorageLatency    = "storage_latency_seconds"
)

const counterShards = 16

// HistogramStat is a running aggregate of observed values.
type HistogramStat struct {
	Count int64   `json:"count"`
	Sum   float64 `json:"sum"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// Avg returns the mean of observed values, 0 when empty.
func (h HistogramStat) Avg() float64 {
	if h.Count == 0 {
		return 0
	}
	return h.Sum / float64(h.Count)
}

// Snapshot is an immutable point-in-time copy of the registry.
type Snapshot struct {
	Timestamp  time.Time                `json:"timestamp"`
	Counters   map[string]int64         `json:"counters"`
	Gauges     map[string]float64       `json:"gauges"`
	Histograms map[string]HistogramStat `json:"histograms"`
}

type counterShard struct {
	mu sync.Mutex
	m  map[string]int64
}

// Registry is the in-process metrics registry (counters, gauges, histograms)
// sampled by the real-time monitor. Counters are lock-striped; snapshot reads
// are eventually consistent with concurrent increments.
type Registry struct {
	shards [counterShards]counterShard

	mu         sync.RWMutex
	gauges     map[string]float64
	histograms map[string]HistogramStat

	history *Ring[Snapshot]
}

// NewRegistry creates an empty registry with a 100-sample history ring.
func NewRegistry() *Registry {
	r := &Registry{
		gauges:     make(map[string]float64),
		histograms: make(map[string]HistogramStat),
		history:    NewRing[Snapshot](100),
	}
	for i := range r.shards {
		r.shards[i].m = make(map[string]int64)
	}
	return r
}

func (r *Registry) shardFor(name string) *counterShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return &r.shards[h.Sum32()%counterShards]
}

// Inc adds n to the named counter.
func (r *Registry) Inc(name string, n int64) {
	s := r.shardFor(name)
	s.mu.Lock()
	s.m[name] += n
	s.mu.Unlock()
}

// Count returns the current value of the named counter.
func (r *Registry) Count(name string) int64 {
	s := r.shardFor(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m[name]
}

// SetGauge records a last-write-wins gauge value.
func (r *Registry) SetGauge(name string, v float64) {
	r.mu.Lock()
	r.gauges[name] = v
	r.mu.Unlock()
}

// Gauge returns the last recorded gauge value.
func (r *Registry) Gauge(name string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gauges[name]
}

// Observe folds a value into the named histogram aggregate.
func (r *Registry) Observe(name string, v float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.histograms[name]
	if !ok {
		h = HistogramStat{Min: math.Inf(1), Max: math.Inf(-1)}
	}
	h.Count++
	h.Sum += v
	if v < h.Min {
		h.Min = v
	}
	if v > h.Max {
		h.Max = v
	}
	r.histograms[name] = h
}

// Histogram returns the running aggregate for the named histogram.
func (r *Registry) Histogram(name string) HistogramStat {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.histograms[name]
}

// Snapshot takes an immutable copy of all metrics.
func (r *Registry) Snapshot() Snapshot {
	snap := Snapshot{
		Timestamp:  time.Now().UTC(),
		Counters:   make(map[string]int64),
		Gauges:     make(map[string]float64),
		Histograms: make(map[string]HistogramStat),
	}
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.Lock()
		for k, v := range s.m {
			snap.Counters[k] = v
		}
		s.mu.Unlock()
	}
	r.mu.RLock()
	for k, v := range r.gauges {
		snap.Gauges[k] = v
	}
	for k, v := range r.histograms {
		snap.Histograms[k] = v
	}
	r.mu.RUnlock()
	return snap
}

// Sample snapshots the registry and appends it to the bounded history ring,
// returning the snapshot taken.
func (r *Registry) Sample() Snapshot {
	snap := r.Snapshot()
	r.history.Append(snap)
	return snap
}

// History returns the buffered snapshots, oldest first.
func (r *Registry) History() []Snapshot {
	return r.history.Items()
}
