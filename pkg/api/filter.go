package api

import (
	"fmt"
	"strings"

	"github.com/cloudposture/checks-export/pkg/posture"
)

// The checks endpoint takes its filter expression in the TMV1-Filter
// header: parenthesized groups joined by "and", with "or" allowed only
// inside a group. The API rejects "and" nested inside parentheses, and
// rejects headers above a length ceiling, so composition and the
// exclusion-list budget live here rather than in the partitioner.

// FilterHeader is the header carrying the filter expression.
const FilterHeader = "TMV1-Filter"

// Eq builds a single equality clause.
func Eq(field, value string) string {
	return fmt.Sprintf("%s eq '%s'", field, escapeValue(value))
}

// Ne builds a single inequality clause.
func Ne(field, value string) string {
	return fmt.Sprintf("%s ne '%s'", field, escapeValue(value))
}

// Group parenthesizes clauses joined by "or". A group never contains
// "and"; the API rejects it.
func Group(clauses ...string) string {
	return "(" + strings.Join(clauses, " or ") + ")"
}

// And joins groups with "and", skipping empty ones.
func And(groups ...string) string {
	parts := groups[:0:0]
	for _, g := range groups {
		if g != "" {
			parts = append(parts, g)
		}
	}
	return strings.Join(parts, " and ")
}

// RiskLevelGroup builds the OR group over the requested risk levels.
// Empty input yields no group (no server-side risk filter).
func RiskLevelGroup(levels []posture.RiskLevel) string {
	if len(levels) == 0 {
		return ""
	}
	clauses := make([]string, len(levels))
	for i, l := range levels {
		clauses[i] = Eq("riskLevel", string(l))
	}
	return Group(clauses...)
}

// ComposeQuery builds the full filter for a query: account group, any
// partition constraints, the risk OR group, and the status clause.
func ComposeQuery(q posture.Query) string {
	groups := make([]string, 0, len(q.Constraints)+3)
	if q.AccountID != "" {
		groups = append(groups, Group(Eq("accountId", q.AccountID)))
	}
	groups = append(groups, q.Constraints...)
	groups = append(groups, RiskLevelGroup(q.RiskLevels))
	if q.Status != "" {
		groups = append(groups, Eq("status", string(q.Status)))
	}
	return And(groups...)
}

func escapeValue(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// DefaultFilterMaxLen is the longest filter header the API reliably
// accepts. Observed rejections start between 1500 and 1800 characters;
// staying at the low end trades a little recall in the catch-all bucket
// for requests that never 400 on length.
const DefaultFilterMaxLen = 1500

// FilterBudget models the header length constraint consulted before any
// composed filter is emitted.
type FilterBudget struct {
	// MaxLen is the maximum length of the full header value.
	MaxLen int
}

// DefaultFilterBudget returns the stock length budget.
func DefaultFilterBudget() FilterBudget {
	return FilterBudget{MaxLen: DefaultFilterMaxLen}
}

// FitExclusions reports how many "(field ne 'v')" groups can be appended
// to a filter of length baseLen without breaching the budget. Values are
// consumed in input order so truncation is deterministic; a result below
// len(values) means the catch-all bucket may return records matching the
// excluded tail, which the caller must surface as a caveat.
func (b FilterBudget) FitExclusions(baseLen int, field string, values []string) int {
	maxLen := b.MaxLen
	if maxLen <= 0 {
		maxLen = DefaultFilterMaxLen
	}

	total := baseLen
	included := 0
	for _, v := range values {
		extra := len(Group(Ne(field, v)))
		if total > 0 {
			extra += len(" and ")
		}
		if total+extra > maxLen {
			break
		}
		total += extra
		included++
	}
	return included
}
