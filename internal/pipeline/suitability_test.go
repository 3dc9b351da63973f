package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRules(t *testing.T) {
	t.Parallel()
	rules := DefaultRules()

	tests := []struct {
		name  string
		title string
		want  Decision
	}{
		{name: "senior rejected", title: "Senior Software Engineer", want: Reject},
		{name: "sr abbreviation rejected", title: "Sr. Backend Developer", want: Reject},
		{name: "lead rejected", title: "Tech Lead", want: Reject},
		{name: "principal rejected", title: "Principal Engineer", want: Reject},
		{name: "manager rejected", title: "Engineering Manager", want: Reject},
		{name: "junior accepted", title: "Junior Go Developer", want: Accept},
		{name: "intern accepted", title: "Software Intern", want: Accept},
		{name: "plain title accepted by default", title: "Software Engineer", want: Accept},
		{name: "case insensitive", title: "SENIOR engineer", want: Reject},
		{name: "word boundary respected", title: "Seniority Analyst", want: Accept},
		{name: "empty title accepted", title: "", want: Accept},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, rules.Evaluate(tc.title))
		})
	}
}

func TestRuleOrderFirstMatchWins(t *testing.T) {
	t.Parallel()
	rules, err := CompileRules([]struct {
		Pattern  string
		Decision Decision
	}{
		{Pattern: `(?i)unicorn`, Decision: Accept},
		{Pattern: `(?i)senior`, Decision: Reject},
	})
	require.NoError(t, err)

	// Matches both patterns; the earlier accept wins.
	assert.Equal(t, Accept, rules.Evaluate("Senior Unicorn Wrangler"))
}

func TestCompileRulesInvalidPattern(t *testing.T) {
	t.Parallel()
	_, err := CompileRules([]struct {
		Pattern  string
		Decision Decision
	}{
		{Pattern: `([`, Decision: Reject},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline.CompileRules")
}
