package domain

import (
	"testing"
	"time"
)

func TestContentHash_CaseInsensitive(t *testing.T) {
	a := Job{Title: "Data Analyst", Company: "Acme", URL: "https://acme.example/j/1"}
	b := Job{Title: "data analyst", Company: "ACME", URL: "HTTPS://ACME.EXAMPLE/J/1"}
	if a.ContentHash() != b.ContentHash() {
		t.Fatalf("expected case-insensitive hashes to match: %s vs %s", a.ContentHash(), b.ContentHash())
	}
}

func TestContentHash_DistinctJobs(t *testing.T) {
	a := Job{Title: "Data Analyst", Company: "Acme", URL: "u1"}
	b := Job{Title: "Data Analyst", Company: "Acme", URL: "u2"}
	if a.ContentHash() == b.ContentHash() {
		t.Fatalf("expected different URLs to produce different hashes")
	}
}

func TestHasRequiredFields(t *testing.T) {
	tests := []struct {
		name string
		job  Job
		want bool
	}{
		{"both present", Job{Title: "Engineer", Company: "Acme"}, true},
		{"missing title", Job{Title: "", Company: "Acme"}, false},
		{"missing company", Job{Title: "Engineer", Company: ""}, false},
		{"whitespace only", Job{Title: "   ", Company: "Acme"}, false},
		{"both missing", Job{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.job.HasRequiredFields(); got != tt.want {
				t.Errorf("HasRequiredFields() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseTimestamp_Formats(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  time.Time
	}{
		{"rfc3339", "2026-08-24T10:30:00Z", time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC)},
		{"rfc3339 nano", "2026-08-24T10:30:00.5Z", time.Date(2026, 8, 24, 10, 30, 0, 500000000, time.UTC)},
		{"no zone", "2026-08-24T10:30:00", time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC)},
		{"space separated", "2026-08-24 10:30:00", time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC)},
		{"date only", "2026-08-24", time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseTimestamp(tt.input)
			if !got.Equal(tt.want) {
				t.Errorf("ParseTimestamp(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseTimestamp_GarbageFallsBackToNow(t *testing.T) {
	before := time.Now().UTC().Add(-time.Second)
	got := ParseTimestamp("not a timestamp")
	after := time.Now().UTC().Add(time.Second)
	if got.Before(before) || got.After(after) {
		t.Errorf("expected fallback near now, got %v", got)
	}
}

func TestJobStatusConstants(t *testing.T) {
	tests := []struct {
		constant JobStatus
		expected string
	}{
		{JobScraped, "scraped"},
		{JobProcessing, "processing"},
		{JobAnalyzed, "analyzed"},
		{JobSaved, "saved"},
		{JobDuplicate, "duplicate"},
		{JobFailed, "failed"},
	}
	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if string(tt.constant) != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, string(tt.constant))
			}
		})
	}
}
