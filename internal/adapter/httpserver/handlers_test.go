package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/jobflow/internal/adapter/queue/redisq"
	"github.com/fairyhunter13/jobflow/internal/config"
	"github.com/fairyhunter13/jobflow/internal/domain"
	"github.com/fairyhunter13/jobflow/internal/errorviz"
	"github.com/fairyhunter13/jobflow/internal/monitor"
	"github.com/fairyhunter13/jobflow/internal/observability"
	"github.com/fairyhunter13/jobflow/internal/queuemgr"
)

type fakeStore struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	stats domain.StoreStats
}

func newFakeStore() *fakeStore {
	return &fakeStore{seen: map[string]struct{}{}}
}

func (s *fakeStore) AddJob(_ context.Context, job domain.Job) (domain.AddOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash := job.ContentHash()
	if _, ok := s.seen[hash]; ok {
		return domain.AddDuplicate, nil
	}
	s.seen[hash] = struct{}{}
	return domain.AddInserted, nil
}

func (s *fakeStore) Count(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.seen)), nil
}

func (s *fakeStore) Stats(context.Context) (domain.StoreStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats, nil
}

func (s *fakeStore) LookupByHash(context.Context, string) (domain.StoredJob, error) {
	return domain.StoredJob{}, domain.ErrNotFound
}

func (s *fakeStore) Ping(context.Context) error { return nil }

type stubHub struct {
	mu       sync.Mutex
	messages map[string][]any
}

func newStubHub() *stubHub { return &stubHub{messages: map[string][]any{}} }

func (h *stubHub) Handle(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNotImplemented)
}

func (h *stubHub) Broadcast(msgType string, payload any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages[msgType] = append(h.messages[msgType], payload)
}

func (h *stubHub) SubscriberCount() int { return 0 }

func (h *stubHub) count(msgType string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages[msgType])
}

type env struct {
	srv   *Server
	queue *redisq.Queue
	hub   *stubHub
	ts    *httptest.Server
}

func newEnv(t *testing.T) *env {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	queue := redisq.NewWithClient(client, "test")

	cfg := config.Config{
		QueueDepthDegraded:       1000,
		DeadLetterCritical:       50,
		BroadcastIntervalSeconds: 1,
		AlertCooldownMinutes:     15,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewRegistry()
	clog := observability.NewCorrelationLogger(logger, metrics, nil)
	hub := newStubHub()
	store := newFakeStore()

	health := monitor.NewHealthMonitor(cfg, logger, queue, store, hub)
	realtime := monitor.NewRealTimeMonitor(cfg, logger, queue, store, metrics, health, hub)
	errs := errorviz.NewManager(logger, queue, metrics)
	qmgr := queuemgr.NewManager(logger, queue, clog, hub, cfg.QueueDepthDegraded, cfg.DeadLetterCritical)

	srv := NewServer(cfg, queue, store, health, realtime, errs, qmgr, hub)
	r := chi.NewRouter()
	r.Route("/api", srv.Routes)
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	t.Cleanup(realtime.Stop)

	return &env{srv: srv, queue: queue, hub: hub, ts: ts}
}

func (e *env) get(t *testing.T, path string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(e.ts.URL + path)
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func (e *env) postJSON(t *testing.T, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(e.ts.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func seedMain(t *testing.T, queue *redisq.Queue, titles ...string) {
	t.Helper()
	for _, title := range titles {
		job := domain.Job{Title: title, Company: "acme", Status: domain.JobScraped}
		require.NoError(t, queue.Enqueue(context.Background(), domain.ListMain, job))
	}
}

func seedDead(t *testing.T, queue *redisq.Queue, id, reason string) {
	t.Helper()
	job := domain.Job{
		JobID:       id,
		Title:       "engineer",
		Company:     "acme",
		Status:      domain.JobFailed,
		ErrorReason: reason,
		FailedAt:    time.Now().UTC().Format(time.RFC3339),
	}
	require.NoError(t, queue.MoveToDeadLetter(context.Background(), job))
}

func TestQueueStatusReportsLengths(t *testing.T) {
	e := newEnv(t)
	seedMain(t, e.queue, "a", "b")
	seedDead(t, e.queue, "x", domain.ReasonDatabaseSaveFailed)

	resp, body := e.get(t, "/api/redis/queue-status")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["connected"])
	assert.Equal(t, float64(2), body["main_length"])
	assert.Equal(t, float64(1), body["deadletter_length"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestDeadLetterPagination(t *testing.T) {
	e := newEnv(t)
	for i := 0; i < 3; i++ {
		seedDead(t, e.queue, "job-"+string(rune('a'+i)), domain.ReasonAnalysisFailed)
	}

	resp, body := e.get(t, "/api/redis/dead-letter?limit=2&offset=0")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(3), body["total"])
	assert.Equal(t, true, body["has_more"])
	assert.Len(t, body["entries"], 2)

	entries, ok := body["entries"].([]any)
	require.True(t, ok)
	first, ok := entries[0].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, first, "job")
	assert.Contains(t, first, "position")
	assert.Contains(t, first, "corrupted")
	assert.NotContains(t, first, "Job", "entries serialize with snake_case keys")
}

func TestPipelineHealthSamplesOnDemand(t *testing.T) {
	e := newEnv(t)

	resp, body := e.get(t, "/api/health/pipeline-health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["overall_status"])
	components, ok := body["components"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, components, "queue")
	assert.Contains(t, components, "store")
}

func TestErrorSummaryCountsDeadLetters(t *testing.T) {
	e := newEnv(t)
	seedDead(t, e.queue, "x", domain.ReasonDatabaseSaveFailed)
	seedDead(t, e.queue, "y", domain.ReasonSuitabilityFailed)

	resp, body := e.get(t, "/api/errors/summary")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["total_errors"])
}

func TestErrorDetailsNotFound(t *testing.T) {
	e := newEnv(t)

	resp, body := e.get(t, "/api/errors/job/nope")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	errObj, ok := body["error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "NOT_FOUND", errObj["code"])
}

func TestBatchOperationRejectsUnknownOp(t *testing.T) {
	e := newEnv(t)

	resp, body := e.postJSON(t, "/api/queue/batch-operation", map[string]any{
		"operation": "explode",
		"queue":     "main",
		"positions": []int64{0},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	errObj, ok := body["error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "INVALID_ARGUMENT", errObj["code"])
}

func TestBatchDeleteRemovesEntries(t *testing.T) {
	e := newEnv(t)
	seedMain(t, e.queue, "a", "b", "c")

	resp, body := e.postJSON(t, "/api/queue/batch-operation", map[string]any{
		"operation": "delete",
		"queue":     "main",
		"positions": []int64{0, 2},
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["successful"])

	n, err := e.queue.Length(context.Background(), domain.ListMain)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestClearQueueEndpoint(t *testing.T) {
	e := newEnv(t)
	seedMain(t, e.queue, "a", "b")

	req, err := http.NewRequest(http.MethodDelete, e.ts.URL+"/api/queue/clear?queue=main", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	body := decodeBody(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "clear", body["operation"])

	n, err := e.queue.Length(context.Background(), domain.ListMain)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, e.hub.count("queue_cleared"))
}

func TestReorderRequiresCriterionOrPositions(t *testing.T) {
	e := newEnv(t)

	resp, body := e.postJSON(t, "/api/queue/reorder", map[string]any{"queue": "main"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	errObj, ok := body["error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "INVALID_ARGUMENT", errObj["code"])
}

func TestReorderByCriterion(t *testing.T) {
	e := newEnv(t)
	seedMain(t, e.queue, "a", "b")

	resp, body := e.postJSON(t, "/api/queue/reorder", map[string]any{
		"queue":     "main",
		"criterion": "retry_count",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "reorder", body["operation"])
}

func TestRequeueStuckRejectsBadBody(t *testing.T) {
	e := newEnv(t)

	resp, _ := e.postJSON(t, "/api/queue/requeue-stuck", map[string]any{"max_age_minutes": 0})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRealtimeStartStopStatus(t *testing.T) {
	e := newEnv(t)

	resp, body := e.postJSON(t, "/api/realtime/start", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["running"])

	_, body = e.get(t, "/api/realtime/status")
	assert.Equal(t, true, body["running"])

	resp, body = e.postJSON(t, "/api/realtime/stop", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["running"])

	_, body = e.get(t, "/api/realtime/status")
	assert.Equal(t, false, body["running"])
}

func TestCurrentMetricsSamplesOnDemand(t *testing.T) {
	e := newEnv(t)
	seedMain(t, e.queue, "a", "b", "c")

	resp, body := e.get(t, "/api/realtime/current-metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(3), body["jobs_in_queue"])
	assert.Equal(t, float64(100), body["success_rate"])
}

func TestBroadcastTestReachesHub(t *testing.T) {
	e := newEnv(t)

	resp, body := e.postJSON(t, "/api/realtime/broadcast-test", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["sent"])
	assert.Equal(t, 1, e.hub.count("test_broadcast"))
}

func TestWebsocketInfoListsMessageTypes(t *testing.T) {
	e := newEnv(t)

	resp, body := e.get(t, "/api/realtime/websocket-info")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "/ws", body["path"])
	types, ok := body["message_types"].([]any)
	require.True(t, ok)
	assert.Contains(t, types, "pipeline_metrics_update")
}

func TestQueueHealthLabelsBothLists(t *testing.T) {
	e := newEnv(t)
	seedDead(t, e.queue, "x", domain.ReasonDatabaseSaveFailed)

	resp, body := e.get(t, "/api/queue/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	dead, ok := body["deadletter"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "degraded", dead["health"])
	main, ok := body["main"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "healthy", main["health"])
}

func TestOperationHistoryRecordsMutations(t *testing.T) {
	e := newEnv(t)
	seedMain(t, e.queue, "a")

	e.postJSON(t, "/api/queue/batch-operation", map[string]any{
		"operation": "delete",
		"queue":     "main",
		"positions": []int64{0},
	})

	resp, body := e.get(t, "/api/queue/operations/history?limit=5")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	history, ok := body["history"].([]any)
	require.True(t, ok)
	assert.Len(t, history, 1)
}
