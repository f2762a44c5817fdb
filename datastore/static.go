package datastore

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/deepnoodle-ai/queryflow/schema"
)

// Responder produces the result of a statement for a Static store.
type Responder func(sql string) (*Result, error)

// Static serves a fixed schema and answers statements with a Responder.
// Without a responder every statement returns zero rows.
type Static struct {
	schema    *schema.Schema
	responder Responder

	mu      sync.Mutex
	queries []string
}

// NewStatic returns a static store.
func NewStatic(s *schema.Schema, responder Responder) *Static {
	return &Static{schema: s, responder: responder}
}

// Rows returns a responder that answers every statement with the same rows.
func Rows(columns []string, rows ...map[string]any) Responder {
	return func(sql string) (*Result, error) {
		return &Result{SQL: sql, Columns: columns, Rows: rows, Count: len(rows)}, nil
	}
}

// Match returns a responder that picks the result registered under the
// longest pattern contained, case-insensitively, in the statement.
func Match(patterns map[string]*Result, fallback Responder) Responder {
	return func(sql string) (*Result, error) {
		lower := strings.ToLower(sql)
		best := ""
		for pattern := range patterns {
			if !strings.Contains(lower, strings.ToLower(pattern)) {
				continue
			}
			if len(pattern) > len(best) || (len(pattern) == len(best) && pattern < best) {
				best = pattern
			}
		}
		if best != "" {
			out := *patterns[best]
			out.SQL = sql
			out.Count = len(out.Rows)
			return &out, nil
		}
		if fallback != nil {
			return fallback(sql)
		}
		return nil, fmt.Errorf("no result registered for statement")
	}
}

func (s *Static) Query(ctx context.Context, sql string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.queries = append(s.queries, sql)
	s.mu.Unlock()
	return observe(ctx, "static", sql, func(ctx context.Context) (*Result, error) {
		if s.responder == nil {
			return &Result{SQL: sql, Columns: []string{}, Rows: []map[string]any{}}, nil
		}
		result, err := s.responder(sql)
		if err != nil {
			return nil, err
		}
		result.Count = len(result.Rows)
		return result, nil
	})
}

func (s *Static) FetchSchema(ctx context.Context) (*schema.Schema, error) {
	if s.schema == nil {
		return nil, fmt.Errorf("schema is not configured")
	}
	return s.schema, nil
}

// Queries returns every statement executed so far.
func (s *Static) Queries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queries...)
}

func (s *Static) Close() error {
	return nil
}
