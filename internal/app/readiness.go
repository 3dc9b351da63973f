package app

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/fairyhunter13/jobflow/internal/domain"
)

// Check is one named readiness probe.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// BuildReadinessChecks returns the queue and store connectivity probes.
func BuildReadinessChecks(queue domain.Queue, store domain.JobStore) []Check {
	return []Check{
		{Name: "queue", Probe: func(ctx context.Context) error { return queue.Ping(ctx) }},
		{Name: "store", Probe: func(ctx context.Context) error { return store.Ping(ctx) }},
	}
}

// ReadyzHandler runs every check with a short deadline and reports 503 with
// the failing component names when any probe errors.
func ReadyzHandler(checks []Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		type result struct {
			Status string `json:"status"`
			Error  string `json:"error,omitempty"`
		}
		results := make(map[string]result, len(checks))
		healthy := true
		for _, c := range checks {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			err := c.Probe(ctx)
			cancel()
			if err != nil {
				healthy = false
				results[c.Name] = result{Status: "down", Error: err.Error()}
				continue
			}
			results[c.Name] = result{Status: "up"}
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ready":     healthy,
			"checks":    results,
			"timestamp": time.Now().UTC(),
		})
	}
}
