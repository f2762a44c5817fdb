// Package safety rejects statements that could modify the target database and
// bounds the size of the result set of the rest.
package safety

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultLimit is appended to statements that have no LIMIT clause.
const DefaultLimit = 10

var (
	bannedKeywords = regexp.MustCompile(`\b(insert|update|delete|drop|alter|truncate|create)\b`)
	limitClause    = regexp.MustCompile(`(?i)\blimit\s+\d+`)
)

// ErrUnsafe is the rejection reason for mutating statements.
const ErrUnsafe = "Unsafe SQL: DDL/DML detected"

// Violation is returned when a statement is rejected.
type Violation struct {
	Reason string
}

func (v *Violation) Error() string {
	return v.Reason
}

// Gate checks candidate statements. When Known is set, every table the
// session selected must satisfy it.
type Gate struct {
	Limit int
	Known func(table string) bool
}

// Check validates sql with the default gate.
func Check(sql string) (string, error) {
	return Gate{}.Check(sql, nil)
}

// Check returns the sanitized statement or a *Violation.
func (g Gate) Check(sql string, tables []string) (string, error) {
	if !IsSafe(sql) {
		return "", &Violation{Reason: ErrUnsafe}
	}
	if g.Known != nil {
		for _, t := range tables {
			if !g.Known(t) {
				return "", &Violation{Reason: fmt.Sprintf("%s Table does not exists", t)}
			}
		}
	}
	if HasLimit(sql) {
		return sql, nil
	}
	limit := g.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	return fmt.Sprintf("%s LIMIT %d", strings.TrimRight(strings.TrimSpace(sql), ";"), limit), nil
}

// IsSafe reports whether sql is free of mutating keywords and contains at
// most one statement separator, placed at the very end.
func IsSafe(sql string) bool {
	if bannedKeywords.MatchString(strings.ToLower(sql)) {
		return false
	}
	trimmed := strings.TrimSpace(sql)
	switch strings.Count(trimmed, ";") {
	case 0:
		return true
	case 1:
		return strings.HasSuffix(trimmed, ";")
	default:
		return false
	}
}

// HasLimit reports whether the statement already bounds its result size with
// a LIMIT n clause. Identifiers such as credit_limit do not count.
func HasLimit(sql string) bool {
	return limitClause.MatchString(sql)
}
