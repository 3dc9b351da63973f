package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/jobflow/internal/config"
	"github.com/fairyhunter13/jobflow/internal/domain"
	"github.com/fairyhunter13/jobflow/internal/errorviz"
	"github.com/fairyhunter13/jobflow/internal/monitor"
	"github.com/fairyhunter13/jobflow/internal/queuemgr"
)

// PushHub is the push-plane surface the handlers need.
type PushHub interface {
	Handle(w http.ResponseWriter, r *http.Request)
	Broadcast(msgType string, payload any)
	SubscriberCount() int
}

// Server bundles the handler dependencies.
type Server struct {
	Cfg      config.Config
	Queue    domain.Queue
	Store    domain.JobStore
	Health   *monitor.HealthMonitor
	Realtime *monitor.RealTimeMonitor
	Errors   *errorviz.Manager
	QueueMgr *queuemgr.Manager
	Hub      PushHub

	validate *validator.Validate
}

// NewServer constructs the request plane.
func NewServer(cfg config.Config, queue domain.Queue, store domain.JobStore, health *monitor.HealthMonitor, realtime *monitor.RealTimeMonitor, errs *errorviz.Manager, qmgr *queuemgr.Manager, hub PushHub) *Server {
	return &Server{
		Cfg:      cfg,
		Queue:    queue,
		Store:    store,
		Health:   health,
		Realtime: realtime,
		Errors:   errs,
		QueueMgr: qmgr,
		Hub:      hub,
		validate: validator.New(),
	}
}

// Routes mounts every API endpoint.
func (s *Server) Routes(r chi.Router) {
	r.Route("/redis", func(r chi.Router) {
		r.Get("/queue-status", s.handleQueueStatus)
		r.Get("/dead-letter", s.handleDeadLetter)
	})
	r.Route("/health", func(r chi.Router) {
		r.Get("/pipeline-health", s.handlePipelineHealth)
		r.Get("/history", s.handleHealthHistory)
	})
	r.Route("/pipeline", func(r chi.Router) {
		r.Get("/metrics", s.handlePipelineMetrics)
		r.Get("/live-stats", s.handleLiveStats)
	})
	r.Route("/errors", func(r chi.Router) {
		r.Get("/summary", s.handleErrorSummary)
		r.Get("/failed-jobs", s.handleFailedJobs)
		r.Get("/timeline", s.handleErrorTimeline)
		r.Get("/patterns", s.handleErrorPatterns)
		r.Get("/categories", s.handleErrorCategories)
		r.Get("/dashboard-data", s.handleErrorDashboard)
		r.Get("/health-impact", s.handleErrorImpact)
		r.Get("/job/{id}", s.handleErrorDetails)
	})
	r.Route("/queue", func(r chi.Router) {
		r.Get("/stats", s.handleQueueStats)
		r.Get("/contents", s.handleQueueContents)
		r.Get("/operations/history", s.handleOperationHistory)
		r.Get("/dashboard-data", s.handleQueueDashboard)
		r.Get("/health", s.handleQueueHealth)
		r.Post("/batch-operation", s.handleBatchOperation)
		r.Delete("/clear", s.handleQueueClear)
		r.Post("/reorder", s.handleReorder)
		r.Post("/requeue-stuck", s.handleRequeueStuck)
	})
	r.Route("/realtime", func(r chi.Router) {
		r.Post("/start", s.handleRealtimeStart)
		r.Post("/stop", s.handleRealtimeStop)
		r.Get("/status", s.handleRealtimeStatus)
		r.Get("/current-metrics", s.handleCurrentMetrics)
		r.Get("/current-status", s.handleCurrentStatus)
		r.Get("/metrics-history", s.handleMetricsHistory)
		r.Get("/status-history", s.handleStatusHistory)
		r.Get("/dashboard-data", s.handleRealtimeDashboard)
		r.Get("/websocket-info", s.handleWebsocketInfo)
		r.Post("/broadcast-test", s.handleBroadcastTest)
	})
}

func queryInt64(r *http.Request, name string, def int64) int64 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func queryInt(r *http.Request, name string, def int) int {
	return int(queryInt64(r, name, int64(def)))
}

func queryQueue(r *http.Request) string {
	q := r.URL.Query().Get("queue")
	if q == "" {
		return string(domain.ListMain)
	}
	return q
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	connected := s.Queue.Ping(ctx) == nil
	payload := map[string]any{
		"timestamp": time.Now().UTC(),
		"connected": connected,
	}
	if connected {
		if n, err := s.Queue.Length(ctx, domain.ListMain); err == nil {
			payload["main_length"] = n
		}
		if n, err := s.Queue.Length(ctx, domain.ListDead); err == nil {
			payload["deadletter_length"] = n
		}
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleDeadLetter(w http.ResponseWriter, r *http.Request) {
	page, err := s.QueueMgr.Contents(r.Context(), string(domain.ListDead),
		queryInt64(r, "offset", 0), queryInt64(r, "limit", 20))
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handlePipelineHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.Health.Latest()
	if snap.Timestamp.IsZero() {
		snap = s.Health.CheckNow(r.Context())
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleHealthHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	writeJSON(w, http.StatusOK, map[string]any{
		"timestamp": time.Now().UTC(),
		"history":   s.Health.History(limit),
	})
}

func (s *Server) handlePipelineMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Realtime.CurrentMetrics(r.Context()))
}

func (s *Server) handleLiveStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	writeJSON(w, http.StatusOK, map[string]any{
		"timestamp":         time.Now().UTC(),
		"metrics":           s.Realtime.CurrentMetrics(ctx),
		"system":            s.Realtime.CurrentStatus(ctx),
		"queue_depth_trend": s.Realtime.QueueDepthTrend(),
	})
}

func (s *Server) handleErrorSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.Errors.Summary(r.Context())
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleFailedJobs(w http.ResponseWriter, r *http.Request) {
	analysis, err := s.Errors.Analysis(r.Context())
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

func (s *Server) handleErrorTimeline(w http.ResponseWriter, r *http.Request) {
	tl, err := s.Errors.Timeline(r.Context(), queryInt(r, "hours", 24))
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, tl)
}

func (s *Server) handleErrorPatterns(w http.ResponseWriter, r *http.Request) {
	patterns, err := s.Errors.Patterns(r.Context())
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"timestamp": time.Now().UTC(),
		"patterns":  patterns,
	})
}

func (s *Server) handleErrorCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := s.Errors.Categories(r.Context())
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"timestamp":  time.Now().UTC(),
		"categories": cats,
	})
}

func (s *Server) handleErrorDashboard(w http.ResponseWriter, r *http.Request) {
	data, err := s.Errors.Dashboard(r.Context())
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (s *Server) handleErrorImpact(w http.ResponseWriter, r *http.Request) {
	impact, err := s.Errors.Impact(r.Context())
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, impact)
}

func (s *Server) handleErrorDetails(w http.ResponseWriter, r *http.Request) {
	details, err := s.Errors.Details(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.QueueMgr.Stats(r.Context(), queryQueue(r))
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleQueueContents(w http.ResponseWriter, r *http.Request) {
	page, err := s.QueueMgr.Contents(r.Context(), queryQueue(r),
		queryInt64(r, "offset", 0), queryInt64(r, "limit", 20))
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleOperationHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"timestamp": time.Now().UTC(),
		"history":   s.QueueMgr.History(queryInt(r, "limit", 20)),
	})
}

func (s *Server) handleQueueDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	payload := map[string]any{
		"timestamp": time.Now().UTC(),
		"history":   s.QueueMgr.History(10),
	}
	if st, err := s.QueueMgr.Stats(ctx, string(domain.ListMain)); err == nil {
		payload["main"] = st
	}
	if st, err := s.QueueMgr.Stats(ctx, string(domain.ListDead)); err == nil {
		payload["deadletter"] = st
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleQueueHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	payload := map[string]any{"timestamp": time.Now().UTC()}
	for _, name := range []string{string(domain.ListMain), string(domain.ListDead)} {
		st, err := s.QueueMgr.Stats(ctx, name)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		payload[name] = map[string]any{"length": st.Length, "health": st.Health}
	}
	writeJSON(w, http.StatusOK, payload)
}

type batchOperationRequest struct {
	Operation string  `json:"operation" validate:"required,oneof=delete retry move_to_main move_to_deadletter clear"`
	Queue     string  `json:"queue" validate:"required,oneof=main deadletter"`
	Positions []int64 `json:"positions" validate:"dive,gte=0"`
}

func (s *Server) handleBatchOperation(w http.ResponseWriter, r *http.Request) {
	var req batchOperationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid JSON body", domain.ErrInvalidArgument), err.Error())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid request", domain.ErrInvalidArgument), err.Error())
		return
	}
	result, err := s.QueueMgr.BatchOperation(r.Context(), req.Operation, req.Queue, req.Positions)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleQueueClear(w http.ResponseWriter, r *http.Request) {
	result, err := s.QueueMgr.BatchOperation(r.Context(), queuemgr.OpClear, queryQueue(r), nil)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type reorderRequest struct {
	Queue     string  `json:"queue" validate:"required,oneof=main deadletter"`
	Criterion string  `json:"criterion" validate:"omitempty,oneof=priority retry_count queued_at"`
	Positions []int64 `json:"positions" validate:"dive,gte=0"`
}

func (s *Server) handleReorder(w http.ResponseWriter, r *http.Request) {
	var req reorderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid JSON body", domain.ErrInvalidArgument), err.Error())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid request", domain.ErrInvalidArgument), err.Error())
		return
	}

	var (
		result queuemgr.OperationResult
		err    error
	)
	switch {
	case req.Criterion != "":
		result, err = s.QueueMgr.Reorder(r.Context(), req.Queue, req.Criterion)
	case len(req.Positions) > 0:
		result, err = s.QueueMgr.ReorderExplicit(r.Context(), req.Queue, req.Positions)
	default:
		writeError(w, r, fmt.Errorf("%w: criterion or positions required", domain.ErrInvalidArgument), nil)
		return
	}
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type requeueStuckRequest struct {
	MaxAgeMinutes int `json:"max_age_minutes" validate:"required,gte=1"`
}

func (s *Server) handleRequeueStuck(w http.ResponseWriter, r *http.Request) {
	var req requeueStuckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid JSON body", domain.ErrInvalidArgument), err.Error())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid request", domain.ErrInvalidArgument), err.Error())
		return
	}
	result, err := s.QueueMgr.RequeueStuck(r.Context(), time.Duration(req.MaxAgeMinutes)*time.Minute)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRealtimeStart(w http.ResponseWriter, r *http.Request) {
	// The loop must outlive this request.
	s.Realtime.Start(context.Background())
	writeJSON(w, http.StatusOK, map[string]any{
		"timestamp": time.Now().UTC(),
		"running":   true,
	})
}

func (s *Server) handleRealtimeStop(w http.ResponseWriter, _ *http.Request) {
	s.Realtime.Stop()
	writeJSON(w, http.StatusOK, map[string]any{
		"timestamp": time.Now().UTC(),
		"running":   false,
	})
}

func (s *Server) handleRealtimeStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"timestamp":         time.Now().UTC(),
		"running":           s.Realtime.Running(),
		"interval_seconds":  s.Cfg.BroadcastIntervalSeconds,
		"push_subscribers":  s.Hub.SubscriberCount(),
		"metrics_buffered":  len(s.Realtime.MetricsHistory(0)),
		"statuses_buffered": len(s.Realtime.StatusHistory(0)),
	})
}

func (s *Server) handleCurrentMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Realtime.CurrentMetrics(r.Context()))
}

func (s *Server) handleCurrentStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Realtime.CurrentStatus(r.Context()))
}

func (s *Server) handleMetricsHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"timestamp": time.Now().UTC(),
		"history":   s.Realtime.MetricsHistory(queryInt(r, "limit", 20)),
	})
}

func (s *Server) handleStatusHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"timestamp": time.Now().UTC(),
		"history":   s.Realtime.StatusHistory(queryInt(r, "limit", 20)),
	})
}

func (s *Server) handleRealtimeDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	writeJSON(w, http.StatusOK, map[string]any{
		"timestamp":       time.Now().UTC(),
		"running":         s.Realtime.Running(),
		"current_metrics": s.Realtime.CurrentMetrics(ctx),
		"current_status":  s.Realtime.CurrentStatus(ctx),
		"metrics_history": s.Realtime.MetricsHistory(20),
		"status_history":  s.Realtime.StatusHistory(20),
	})
}

func (s *Server) handleWebsocketInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"timestamp":   time.Now().UTC(),
		"path":        "/ws",
		"subscribers": s.Hub.SubscriberCount(),
		"message_types": []string{
			"pipeline_metrics_update", "system_status_update",
			"health_status_update", "error_alert",
			"queue_operation_completed", "queue_cleared", "queue_reordered",
			"test_broadcast",
		},
	})
}

func (s *Server) handleBroadcastTest(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]any{
		"message":   "broadcast test",
		"timestamp": time.Now().UTC(),
	}
	s.Hub.Broadcast("test_broadcast", payload)
	writeJSON(w, http.StatusOK, map[string]any{
		"timestamp":   time.Now().UTC(),
		"subscribers": s.Hub.SubscriberCount(),
		"sent":        true,
	})
}
