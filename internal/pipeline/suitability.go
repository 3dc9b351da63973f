// Package pipeline implements the processing, analysis, and storage stages
// and the supervisor that owns the channels between them.
package pipeline

import (
	"fmt"
	"regexp"
)

// Decision is the outcome of a suitability rule match.
type Decision int

// Rule outcomes. The first matching rule wins; no match accepts.
const (
	Accept Decision = iota
	Reject
)

// Rule gates a job's entry into the analysis stage based on its title.
type Rule struct {
	Pattern  *regexp.Regexp
	Decision Decision
}

// RuleSet is an ordered list of suitability rules.
type RuleSet []Rule

// DefaultRules screens out senior-level titles and fast-tracks entry-level
// ones. The set is data, not policy baked into the stage: deployments swap it
// for their own.
func DefaultRules() RuleSet {
	return RuleSet{
		{Pattern: regexp.MustCompile(`(?i)\b(senior|sr\.|lead|principal|manager)\b`), Decision: Reject},
		{Pattern: regexp.MustCompile(`(?i)\b(junior|jr\.|entry|graduate|intern)\b`), Decision: Accept},
	}
}

// CompileRules builds a rule set from pattern/decision pairs, e.g. from
// configuration.
func CompileRules(pairs []struct {
	Pattern  string
	Decision Decision
}) (RuleSet, error) {
	rules := make(RuleSet, 0, len(pairs))
	for _, p := range pairs {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("op=pipeline.CompileRules: pattern %q: %w", p.Pattern, err)
		}
		rules = append(rules, Rule{Pattern: re, Decision: p.Decision})
	}
	return rules, nil
}

// Evaluate returns the decision of the first matching rule, accepting when
// nothing matches.
func (rs RuleSet) Evaluate(title string) Decision {
	for _, r := range rs {
		if r.Pattern.MatchString(title) {
			return r.Decision
		}
	}
	return Accept
}
