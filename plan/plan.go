// Package plan defines the structured query plan produced during planning and
// the deterministic checks applied to it before SQL synthesis.
package plan

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultLimit is applied to plans that do not set a positive limit.
const DefaultLimit = 50

// OrderBy describes the requested result ordering.
type OrderBy struct {
	Column    string `json:"column"`
	Direction string `json:"direction,omitempty"`
}

// UnmarshalJSON accepts either an object or a "column direction" string.
func (o *OrderBy) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		fields := strings.Fields(text)
		switch len(fields) {
		case 0:
		case 1:
			o.Column = fields[0]
		default:
			o.Column = strings.Join(fields[:len(fields)-1], " ")
			o.Direction = strings.ToLower(fields[len(fields)-1])
		}
		return nil
	}
	type plain OrderBy
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*o = OrderBy(p)
	return nil
}

// Plan is the intermediate representation of a query. Joins are expressed as
// "table_a.col = table_b.col" and filters reference columns as table.column.
type Plan struct {
	Tables             []string `json:"tables"`
	Joins              []string `json:"joins"`
	Filters            []string `json:"filters"`
	Aggregations       []string `json:"aggregations"`
	GroupBy            []string `json:"group_by"`
	OrderBy            *OrderBy `json:"order_by"`
	Limit              int      `json:"limit"`
	NeedsClarification bool     `json:"needs_clarification,omitempty"`
	NeedsExploration   bool     `json:"needs_exploration,omitempty"`
	Steps              string   `json:"steps,omitempty"`
	Explain            string   `json:"explain,omitempty"`
}

// ApplyDefaults normalizes a validated plan in place and returns it.
func ApplyDefaults(p *Plan) *Plan {
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}
	if len(p.Tables) <= 1 {
		p.Joins = []string{}
	}
	if p.Joins == nil {
		p.Joins = []string{}
	}
	if p.Filters == nil {
		p.Filters = []string{}
	}
	if p.Aggregations == nil {
		p.Aggregations = []string{}
	}
	if p.GroupBy == nil {
		p.GroupBy = []string{}
	}
	if p.OrderBy != nil && p.OrderBy.Column == "" {
		p.OrderBy = nil
	}
	return p
}

// Summary renders a one-line description of the plan.
func (p *Plan) Summary() string {
	if p == nil {
		return ""
	}
	parts := []string{"tables: " + strings.Join(p.Tables, ", ")}
	if len(p.Joins) > 0 {
		parts = append(parts, "joins: "+strings.Join(p.Joins, "; "))
	}
	if len(p.Filters) > 0 {
		parts = append(parts, "filters: "+strings.Join(p.Filters, " AND "))
	}
	if len(p.Aggregations) > 0 {
		parts = append(parts, "aggregations: "+strings.Join(p.Aggregations, ", "))
	}
	if len(p.GroupBy) > 0 {
		parts = append(parts, "group by: "+strings.Join(p.GroupBy, ", "))
	}
	if p.OrderBy != nil {
		parts = append(parts, strings.TrimSpace(fmt.Sprintf("order by: %s %s", p.OrderBy.Column, p.OrderBy.Direction)))
	}
	parts = append(parts, fmt.Sprintf("limit: %d", p.Limit))
	summary := strings.Join(parts, " | ")
	if p.Explain != "" {
		summary += "\n" + p.Explain
	}
	return summary
}
