package plan

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/deepnoodle-ai/queryflow/schema"
)

var qualifierPattern = regexp.MustCompile(`([a-zA-Z0-9_]+)\.`)

// ValidationError explains why a plan was rejected.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func invalid(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// Validate checks a plan against the schema. It returns the first problem
// found as a *ValidationError.
func Validate(p *Plan, s *schema.Schema) error {
	if p == nil {
		return invalid("Plan is empty")
	}
	if s == nil {
		return invalid("Schema is not loaded")
	}

	seen := make(map[string]bool, len(p.Tables))
	for _, t := range p.Tables {
		if !s.HasTable(t) {
			return invalid("Invalid table: %s", t)
		}
	}
	for _, t := range p.Tables {
		if seen[t] {
			return invalid("Duplicate tables found in plan")
		}
		seen[t] = true
	}

	for _, join := range p.Joins {
		left, right, ok := joinTables(join)
		if !ok {
			return invalid("Bad join format: %s", join)
		}
		if !s.Joinable(left, right) {
			return invalid("Invalid FK join: %s", join)
		}
	}

	for _, filter := range p.Filters {
		for _, m := range qualifierPattern.FindAllStringSubmatch(filter, -1) {
			if !seen[m[1]] {
				return invalid("Filter references unknown table: %s", filter)
			}
		}
	}

	if len(p.Aggregations) > 0 && len(p.GroupBy) == 0 && !onlyCounts(p.Aggregations) {
		return invalid("Aggregation requires GROUP BY")
	}
	return nil
}

// joinTables extracts the table qualifiers of "a.x = b.y".
func joinTables(join string) (string, string, bool) {
	sides := strings.Split(join, "=")
	if len(sides) != 2 {
		return "", "", false
	}
	left := strings.SplitN(strings.TrimSpace(sides[0]), ".", 2)[0]
	right := strings.SplitN(strings.TrimSpace(sides[1]), ".", 2)[0]
	if left == "" || right == "" {
		return "", "", false
	}
	return left, right, true
}

// onlyCounts reports whether every aggregation is a count, which is the only
// aggregation allowed without a GROUP BY.
func onlyCounts(aggregations []string) bool {
	for _, agg := range aggregations {
		if !strings.Contains(strings.ToLower(agg), "count") {
			return false
		}
	}
	return true
}
