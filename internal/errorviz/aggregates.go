package errorviz

import (
	"context"
	"sort"
	"time"
)

// Pattern is a recurring company/error combination worth operator attention.
type Pattern struct {
	Company   string `json:"company"`
	ErrorType string `json:"error_type"`
	Count     int    `json:"count"`
	Category  string `json:"category"`
}

// Patterns surfaces company/error pairs seen at least twice, most frequent
// first.
func (m *Manager) Patterns(ctx context.Context) ([]Pattern, error) {
	failed, err := m.load(ctx)
	if err != nil {
		return nil, err
	}

	type key struct{ company, errType string }
	counts := make(map[key]int)
	for _, f := range failed {
		company := f.Job.Company
		if company == "" {
			company = "unknown"
		}
		counts[key{company, f.ErrorType}]++
	}

	patterns := make([]Pattern, 0, len(counts))
	for k, n := range counts {
		if n < 2 {
			continue
		}
		patterns = append(patterns, Pattern{
			Company:   k.company,
			ErrorType: k.errType,
			Count:     n,
			Category:  CategoryOf(k.errType),
		})
	}
	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].Count != patterns[j].Count {
			return patterns[i].Count > patterns[j].Count
		}
		if patterns[i].Company != patterns[j].Company {
			return patterns[i].Company < patterns[j].Company
		}
		return patterns[i].ErrorType < patterns[j].ErrorType
	})
	return patterns, nil
}

// CategoryBreakdown is one category's share of the dead-letter list.
type CategoryBreakdown struct {
	Category string      `json:"category"`
	Count    int         `json:"count"`
	Types    []TypeCount `json:"types"`
}

// Categories groups dead-letter errors into dashboard categories.
func (m *Manager) Categories(ctx context.Context) ([]CategoryBreakdown, error) {
	failed, err := m.load(ctx)
	if err != nil {
		return nil, err
	}

	perCategory := make(map[string]map[string]int)
	for _, f := range failed {
		cat := CategoryOf(f.ErrorType)
		if perCategory[cat] == nil {
			perCategory[cat] = make(map[string]int)
		}
		perCategory[cat][f.ErrorType]++
	}

	out := make([]CategoryBreakdown, 0, len(perCategory))
	for cat, types := range perCategory {
		cb := CategoryBreakdown{Category: cat, Types: topN(types, len(types))}
		for _, tc := range cb.Types {
			cb.Count += tc.Count
		}
		out = append(out, cb)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Category < out[j].Category
	})
	return out, nil
}

// HealthImpact grades how hard the dead-letter backlog is pressing on
// pipeline health.
type HealthImpact struct {
	Timestamp     time.Time `json:"timestamp"`
	TotalErrors   int       `json:"total_errors"`
	CriticalCount int       `json:"critical_count"`
	RecentCount   int       `json:"recent_count"`
	Impact        string    `json:"impact"`
}

// Impact computes the health-impact view from the current summary.
func (m *Manager) Impact(ctx context.Context) (HealthImpact, error) {
	sum, err := m.Summary(ctx)
	if err != nil {
		return HealthImpact{}, err
	}
	impact := HealthImpact{
		Timestamp:     sum.Timestamp,
		TotalErrors:   sum.TotalErrors,
		CriticalCount: sum.CriticalCount,
		RecentCount:   sum.RecentCount,
	}
	switch {
	case sum.CriticalCount > 10 || sum.RecentCount > 50:
		impact.Impact = "high"
	case sum.CriticalCount > 0 || sum.RecentCount > 10:
		impact.Impact = "medium"
	case sum.TotalErrors > 0:
		impact.Impact = "low"
	default:
		impact.Impact = "none"
	}
	return impact, nil
}

// DashboardData bundles the views a dashboard renders on first load.
type DashboardData struct {
	Timestamp time.Time          `json:"timestamp"`
	Summary   ErrorSummary       `json:"summary"`
	Analysis  FailedJobsAnalysis `json:"analysis"`
	Timeline  ErrorTimeline      `json:"timeline"`
	Impact    HealthImpact       `json:"impact"`
}

// Dashboard assembles summary, analysis, a 24h timeline, and health impact in
// one call.
func (m *Manager) Dashboard(ctx context.Context) (DashboardData, error) {
	sum, err := m.Summary(ctx)
	if err != nil {
		return DashboardData{}, err
	}
	analysis, err := m.Analysis(ctx)
	if err != nil {
		return DashboardData{}, err
	}
	timeline, err := m.Timeline(ctx, 24)
	if err != nil {
		return DashboardData{}, err
	}
	impact, err := m.Impact(ctx)
	if err != nil {
		return DashboardData{}, err
	}
	return DashboardData{
		Timestamp: time.Now().UTC(),
		Summary:   sum,
		Analysis:  analysis,
		Timeline:  timeline,
		Impact:    impact,
	}, nil
}
