package domain

import "time"

// Pipeline event tags emitted through the correlation logger. One record per
// event, all sharing the job's correlation id.
const (
	EventJobReceived        = "job_received"
	EventValidationFailed   = "validation_failed"
	EventSuitabilityFailed  = "suitability_failed"
	EventMaxRetriesExceeded = "max_retries_exceeded"
	EventJobProcessed       = "job_processed_successfully"
	EventAnalysisStarted    = "analysis_started"
	EventAnalysisCompleted  = "analysis_completed"
	EventAnalysisSkipped    = "analysis_skipped"
	EventAnalysisFailed     = "analysis_failed"
	EventJobSaved           = "job_saved_successfully"
	EventJobDuplicate       = "job_duplicate"
	EventDatabaseSaveFailed = "database_save_failed"
	EventMovedToDeadLetter  = "moved_to_deadletter"
	EventWorkerRestart      = "worker_restart"
	EventWorkerAbandoned    = "worker_abandoned"
	EventOperatorRetry      = "operator_retry"
)

// CorrelationEvent is the structured record emitted for every pipeline event.
type CorrelationEvent struct {
	CorrelationID string         `json:"correlation_id"`
	Stage         string         `json:"stage"`
	Event         string         `json:"event"`
	Timestamp     time.Time      `json:"timestamp"`
	JobID         string         `json:"job_id,omitempty"`
	JobTitle      string         `json:"job_title,omitempty"`
	JobCompany    string         `json:"job_company,omitempty"`
	JobStatus     JobStatus      `json:"job_status,omitempty"`
	RetryCount    int            `json:"retry_count"`
	Extra         map[string]any `json:"extra,omitempty"`
}
