// Package domain defines the core data model and ports for the job-intake
// pipeline: the Job that flows through every stage, the durable queue and
// store contracts, and the error taxonomy shared by all adapters.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// JobStatus tracks where a job is in its lifecycle.
type JobStatus string

// Lifecycle states. A job is owned by exactly one stage at a time; the
// status reflects the last transition that stage applied.
const (
	JobScraped    JobStatus = "scraped"
	JobProcessing JobStatus = "processing"
	JobAnalyzed   JobStatus = "analyzed"
	JobSaved      JobStatus = "saved"
	JobDuplicate  JobStatus = "duplicate"
	JobFailed     JobStatus = "failed"
)

// Stage names used in correlation events and dead-letter metadata.
const (
	StageProcessing = "processing"
	StageAnalysis   = "analysis"
	StageStorage    = "storage"
)

// Error reasons attached to dead-letter entries. Extend by configuration,
// not by editing call sites.
const (
	ReasonMissingRequiredFields = "missing_required_fields"
	ReasonSuitabilityFailed     = "suitability_failed"
	ReasonMaxRetriesExceeded    = "max_retries_exceeded"
	ReasonAnalysisFailed        = "analysis_failed"
	ReasonDatabaseSaveFailed    = "database_save_failed"
	ReasonConnectionFailed      = "connection_failed"
	ReasonDataCorruption        = "data_corruption"
	ReasonRateLimitExceeded     = "rate_limit_exceeded"
	ReasonAuthenticationFailed  = "authentication_failed"
	ReasonPermissionDenied      = "permission_denied"
	ReasonResourceExhausted     = "system_resource_exhausted"
)

// Job is the unit of work flowing through the pipeline. Timestamps are kept
// as strings on the wire because producers are external scrapers whose
// formats vary; consumers parse them defensively.
type Job struct {
	JobID         string         `json:"job_id,omitempty"`
	Title         string         `json:"title"`
	Company       string         `json:"company"`
	Location      string         `json:"location,omitempty"`
	URL           string         `json:"url,omitempty"`
	Summary       string         `json:"summary,omitempty"`
	Salary        string         `json:"salary,omitempty"`
	JobType       string         `json:"job_type,omitempty"`
	PostedDate    string         `json:"posted_date,omitempty"`
	Site          string         `json:"site,omitempty"`
	SearchKeyword string         `json:"search_keyword,omitempty"`
	ScrapedAt     string         `json:"scraped_at,omitempty"`
	RawData       map[string]any `json:"raw_data,omitempty"`

	Status        JobStatus `json:"status,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	RetryCount    int       `json:"retry_count"`
	QueuedAt      string    `json:"queued_at,omitempty"`
	FailedAt      string    `json:"failed_at,omitempty"`
	ErrorReason   string    `json:"error_reason,omitempty"`
	Stage         string    `json:"stage,omitempty"`

	// Annotations is the analyzer output attached during the analysis stage.
	// The pipeline does not depend on its schema.
	Annotations map[string]any `json:"analysis_data,omitempty"`
}

// ContentHash derives the dedup key from lowercase title+company+url.
func (j Job) ContentHash() string {
	h := sha256.Sum256([]byte(strings.ToLower(j.Title + j.Company + j.URL)))
	return hex.EncodeToString(h[:])
}

// HasRequiredFields reports whether the job may leave the processing stage.
func (j Job) HasRequiredFields() bool {
	return strings.TrimSpace(j.Title) != "" && strings.TrimSpace(j.Company) != ""
}

// StoredJob is the store's canonical record for a persisted job.
type StoredJob struct {
	Job
	ContentHash string    `json:"content_hash"`
	Applied     bool      `json:"applied"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ParseTimestamp parses a wire timestamp defensively: RFC3339 first, then
// common scraper formats, falling back to now so a bad producer clock never
// drops data on the floor.
func ParseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Now().UTC()
	}
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Now().UTC()
}
