package schema

import (
	"regexp"
	"strings"
)

// MaxRelevantTables caps the breadth-first expansion of relevance search.
const MaxRelevantTables = 6

var wordPattern = regexp.MustCompile(`[a-zA-Z]+`)

// Tokenize splits a question into lowercase alphabetic words.
func Tokenize(question string) []string {
	return wordPattern.FindAllString(strings.ToLower(question), -1)
}

// FindRelevantTables selects the tables a question is likely about. A table
// is a direct hit when its name contains a question word or a question word
// contains its name. With no direct hits the result is empty. Otherwise the
// hits are expanded breadth-first over the foreign key graph until
// MaxRelevantTables is reached. Direct hits are always kept.
func FindRelevantTables(question string, s *Schema) []string {
	if s == nil {
		return nil
	}
	words := Tokenize(question)

	var hits []string
	for _, table := range s.Tables {
		name := strings.ToLower(table)
		for _, w := range words {
			if strings.Contains(w, name) || strings.Contains(name, w) {
				hits = append(hits, table)
				break
			}
		}
	}
	if len(hits) == 0 {
		return []string{}
	}

	selected := append([]string(nil), hits...)
	seen := make(map[string]bool, MaxRelevantTables)
	for _, t := range hits {
		seen[t] = true
	}
	queue := append([]string(nil), hits...)
	for len(queue) > 0 && len(selected) < MaxRelevantTables {
		t := queue[0]
		queue = queue[1:]
		for _, neighbor := range s.Neighbors(t) {
			if seen[neighbor] {
				continue
			}
			seen[neighbor] = true
			selected = append(selected, neighbor)
			queue = append(queue, neighbor)
			if len(selected) >= MaxRelevantTables {
				break
			}
		}
	}
	return selected
}
