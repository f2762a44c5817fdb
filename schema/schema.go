// Package schema describes the tables, columns and foreign keys of a target
// database and provides deterministic table selection over that description.
package schema

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Column is a single (name, type) pair.
type Column struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`
}

// ForeignKey is a directed edge from one table column to another.
type ForeignKey struct {
	FromTable  string `json:"from_table" yaml:"from_table"`
	FromColumn string `json:"from_col" yaml:"from_col"`
	ToTable    string `json:"to_table" yaml:"to_table"`
	ToColumn   string `json:"to_col" yaml:"to_col"`
}

// String renders the edge as a join expression.
func (fk ForeignKey) String() string {
	return fmt.Sprintf("%s.%s = %s.%s", fk.FromTable, fk.FromColumn, fk.ToTable, fk.ToColumn)
}

// Schema is a snapshot of the target database layout. Graph is derived from
// ForeignKeys and holds the undirected adjacency between tables.
type Schema struct {
	Tables      []string            `json:"tables"`
	Columns     map[string][]Column `json:"columns"`
	ForeignKeys []ForeignKey        `json:"foreign_keys"`
	Graph       map[string][]string `json:"graph"`
}

// Fetcher supplies schema snapshots, typically by introspecting a live store.
type Fetcher interface {
	FetchSchema(ctx context.Context) (*Schema, error)
}

// New builds a Schema from per-table columns and foreign keys. Table order is
// sorted so that everything derived from the schema is deterministic.
func New(columns map[string][]Column, foreignKeys []ForeignKey) *Schema {
	tables := make([]string, 0, len(columns))
	for name := range columns {
		tables = append(tables, name)
	}
	sort.Strings(tables)

	cols := make(map[string][]Column, len(columns))
	for name, c := range columns {
		cols[name] = append([]Column(nil), c...)
	}

	s := &Schema{
		Tables:      tables,
		Columns:     cols,
		ForeignKeys: append([]ForeignKey(nil), foreignKeys...),
	}
	s.Graph = buildGraph(tables, s.ForeignKeys)
	return s
}

func buildGraph(tables []string, foreignKeys []ForeignKey) map[string][]string {
	sets := make(map[string]map[string]struct{}, len(tables))
	for _, t := range tables {
		sets[t] = map[string]struct{}{}
	}
	link := func(a, b string) {
		if _, ok := sets[a]; !ok {
			sets[a] = map[string]struct{}{}
		}
		sets[a][b] = struct{}{}
	}
	for _, fk := range foreignKeys {
		link(fk.FromTable, fk.ToTable)
		link(fk.ToTable, fk.FromTable)
	}
	graph := make(map[string][]string, len(sets))
	for t, neighbors := range sets {
		list := make([]string, 0, len(neighbors))
		for n := range neighbors {
			list = append(list, n)
		}
		sort.Strings(list)
		graph[t] = list
	}
	return graph
}

// Static is a Fetcher that always returns the same schema.
type Static struct {
	Schema *Schema
}

func (s Static) FetchSchema(ctx context.Context) (*Schema, error) {
	if s.Schema == nil {
		return nil, fmt.Errorf("static schema is nil")
	}
	return s.Schema, nil
}

// HasTable reports whether the named table exists.
func (s *Schema) HasTable(name string) bool {
	_, ok := s.Columns[name]
	return ok
}

// Neighbors returns the tables adjacent to name in the foreign key graph.
func (s *Schema) Neighbors(name string) []string {
	if s.Graph == nil {
		s.Graph = buildGraph(s.Tables, s.ForeignKeys)
	}
	return s.Graph[name]
}

// Joinable reports whether a foreign key links the two tables, in either
// direction.
func (s *Schema) Joinable(a, b string) bool {
	for _, fk := range s.ForeignKeys {
		if (fk.FromTable == a && fk.ToTable == b) || (fk.FromTable == b && fk.ToTable == a) {
			return true
		}
	}
	return false
}

// Summary renders a compact description of the schema for prompts, listing at
// most maxColumns columns per table. A non-positive maxColumns lists them all.
func (s *Schema) Summary(maxColumns int) string {
	var sb strings.Builder
	for _, table := range s.Tables {
		cols := s.Columns[table]
		if maxColumns > 0 && len(cols) > maxColumns {
			cols = cols[:maxColumns]
		}
		parts := make([]string, 0, len(cols))
		for _, c := range cols {
			if c.Type == "" {
				parts = append(parts, c.Name)
			} else {
				parts = append(parts, fmt.Sprintf("%s(%s)", c.Name, c.Type))
			}
		}
		sb.WriteString(table)
		sb.WriteString(": ")
		sb.WriteString(strings.Join(parts, ", "))
		sb.WriteString("\n")
	}
	return sb.String()
}

// Subset returns the column listing for the given tables only.
func (s *Schema) Subset(tables []string) map[string][]Column {
	out := make(map[string][]Column, len(tables))
	for _, t := range tables {
		if cols, ok := s.Columns[t]; ok {
			out[t] = cols
		}
	}
	return out
}
