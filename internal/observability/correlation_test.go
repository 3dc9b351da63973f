package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/jobflow/internal/domain"
)

type captureSink struct {
	mu     sync.Mutex
	events []domain.CorrelationEvent
	err    error
}

func (s *captureSink) Publish(_ context.Context, ev domain.CorrelationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestCorrelationLogger_EmitLogsStructuredRecord(t *testing.T) {
	var buf bytes.Buffer
	lg := slog.New(slog.NewJSONHandler(&buf, nil))
	cl := NewCorrelationLogger(lg, NewRegistry(), nil)
	defer cl.Close()

	job := domain.Job{
		JobID:         "j1",
		Title:         "Data Analyst",
		Company:       "Acme",
		Status:        domain.JobProcessing,
		CorrelationID: "corr-1",
		RetryCount:    2,
	}
	cl.Emit(context.Background(), domain.StageProcessing, domain.EventJobReceived, job, map[string]any{"queue": "main"})

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "corr-1", rec["correlation_id"])
	assert.Equal(t, "processing", rec["stage"])
	assert.Equal(t, "job_received", rec["event"])
	assert.Equal(t, "j1", rec["job_id"])
	assert.Equal(t, "Acme", rec["job_company"])
	assert.Equal(t, float64(2), rec["retry_count"])
	assert.Equal(t, "main", rec["queue"])
}

func TestCorrelationLogger_ForwardsToSink(t *testing.T) {
	sink := &captureSink{}
	cl := NewCorrelationLogger(slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil)), NewRegistry(), sink)

	cl.Emit(context.Background(), domain.StageStorage, domain.EventJobSaved, domain.Job{CorrelationID: "c"}, nil)
	cl.Close()

	assert.Equal(t, 1, sink.count())
}

func TestCorrelationLogger_SinkErrorDoesNotStall(t *testing.T) {
	sink := &captureSink{err: errors.New("broker down")}
	cl := NewCorrelationLogger(slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil)), NewRegistry(), sink)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			cl.Emit(context.Background(), domain.StageAnalysis, domain.EventAnalysisFailed, domain.Job{CorrelationID: "c"}, nil)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("emit stalled on failing sink")
	}
	cl.Close()
}
