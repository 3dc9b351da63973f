package errorviz

import "github.com/fairyhunter13/jobflow/internal/domain"

// Category labels for grouping error types in dashboards.
const (
	CategoryValidation     = "validation"
	CategoryPolicy         = "policy"
	CategoryRetry          = "retry"
	CategoryDownstream     = "downstream"
	CategoryInfrastructure = "infrastructure"
	CategorySecurity       = "security"
	CategoryCorruption     = "corruption"
	CategoryUnknown        = "unknown"
)

var errorCategories = map[string]string{
	domain.ReasonMissingRequiredFields: CategoryValidation,
	domain.ReasonSuitabilityFailed:     CategoryPolicy,
	domain.ReasonMaxRetriesExceeded:    CategoryRetry,
	domain.ReasonAnalysisFailed:        CategoryDownstream,
	domain.ReasonDatabaseSaveFailed:    CategoryDownstream,
	domain.ReasonConnectionFailed:      CategoryInfrastructure,
	domain.ReasonRateLimitExceeded:     CategoryInfrastructure,
	domain.ReasonResourceExhausted:     CategoryInfrastructure,
	domain.ReasonAuthenticationFailed:  CategorySecurity,
	domain.ReasonPermissionDenied:      CategorySecurity,
	domain.ReasonDataCorruption:        CategoryCorruption,
}

// CategoryOf maps an error type to its dashboard category.
func CategoryOf(errType string) string {
	if c, ok := errorCategories[errType]; ok {
		return c
	}
	return CategoryUnknown
}

var recoveryHints = map[string]string{
	domain.ReasonMissingRequiredFields: "Producer sent incomplete payloads; fix the scraper's field mapping before requeueing.",
	domain.ReasonSuitabilityFailed:     "Rejected by title policy; no action needed unless the rule set is too broad.",
	domain.ReasonMaxRetriesExceeded:    "Inspect the earliest failure in this trace; requeue via the queue manager after the root cause is fixed.",
	domain.ReasonAnalysisFailed:        "Analyzer errors are non-fatal; check analyzer logs if the rate is sustained.",
	domain.ReasonDatabaseSaveFailed:    "Check store connectivity and schema; entries can be retried from the dead-letter list once healthy.",
	domain.ReasonConnectionFailed:      "Transient backend outage; entries usually recover on operator retry.",
	domain.ReasonDataCorruption:        "Payload is not valid JSON; inspect the raw bytes and delete or fix at the producer.",
	domain.ReasonRateLimitExceeded:     "Reduce producer throughput or raise the backend quota before retrying.",
	domain.ReasonAuthenticationFailed:  "Rotate or fix backend credentials; retries will fail until then.",
	domain.ReasonPermissionDenied:      "Backend permissions changed; verify the service account grants.",
	domain.ReasonResourceExhausted:     "Host is saturated; scale out or lower worker counts, then retry.",
}

// RecoveryHint suggests an operator action for an error type. High counts of
// the same type get a batching nudge.
func RecoveryHint(errType string, count int) string {
	hint, ok := recoveryHints[errType]
	if !ok {
		return "Unrecognized error type; inspect the entry payload and pipeline logs."
	}
	if count >= 10 {
		return hint + " Volume is high; consider a batch operation instead of per-entry handling."
	}
	return hint
}
