package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOrigins(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{name: "empty defaults to wildcard", in: "", want: []string{"*"}},
		{name: "wildcard passes through", in: "*", want: []string{"*"}},
		{name: "single origin", in: "https://ops.example.com", want: []string{"https://ops.example.com"}},
		{
			name: "list with spaces",
			in:   " https://a.example.com , https://b.example.com ",
			want: []string{"https://a.example.com", "https://b.example.com"},
		},
		{name: "only separators defaults to wildcard", in: " , ,", want: []string{"*"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseOrigins(tt.in))
		})
	}
}

func TestLimitMutatingSkipsReads(t *testing.T) {
	var limited bool
	limiter := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limited = true
			next.ServeHTTP(w, r)
		})
	}
	handler := limitMutating(limiter)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/queue/stats", nil))
	assert.False(t, limited)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/queue/reorder", nil))
	assert.True(t, limited)
}

func TestReadyzHandlerAllUp(t *testing.T) {
	checks := []Check{
		{Name: "queue", Probe: func(context.Context) error { return nil }},
		{Name: "store", Probe: func(context.Context) error { return nil }},
	}
	rec := httptest.NewRecorder()
	ReadyzHandler(checks)(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ready":true`)
}

func TestReadyzHandlerReportsFailure(t *testing.T) {
	checks := []Check{
		{Name: "queue", Probe: func(context.Context) error { return nil }},
		{Name: "store", Probe: func(context.Context) error { return errors.New("connection refused") }},
	}
	rec := httptest.NewRecorder()
	ReadyzHandler(checks)(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ready":false`)
	assert.Contains(t, rec.Body.String(), "connection refused")
}
