// Package reasoning wraps the language model that proposes ambiguity
// decisions, plans, SQL and answers. Callers depend on the Reasoner
// interface; AnthropicClient is the production implementation.
package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Task names the kind of proposal being requested. It labels metrics and
// traces and lets test doubles answer per task.
type Task string

const (
	TaskDetect  Task = "detect"
	TaskClarify Task = "clarify"
	TaskPlan    Task = "plan"
	TaskSQL     Task = "sql"
	TaskAnswer  Task = "answer"
)

// Request is a single proposal request.
type Request struct {
	Task   Task
	System string
	Prompt string
}

// Reasoner proposes text for a request.
type Reasoner interface {
	Propose(ctx context.Context, req Request) (string, error)
}

// Func adapts a function to the Reasoner interface.
type Func func(ctx context.Context, req Request) (string, error)

func (f Func) Propose(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// ErrMalformedOutput is returned when a proposal cannot be decoded into the
// expected structure.
var ErrMalformedOutput = errors.New("malformed structured output")

// ProposeJSON requests a proposal and decodes the JSON it contains into T.
func ProposeJSON[T any](ctx context.Context, r Reasoner, req Request) (*T, error) {
	text, err := r.Propose(ctx, req)
	if err != nil {
		return nil, err
	}
	return DecodeJSON[T](text)
}

// DecodeJSON extracts and decodes the JSON document embedded in text.
func DecodeJSON[T any](text string) (*T, error) {
	raw := SanitizeJSON(ExtractJSON(text))
	if raw == "" {
		return nil, fmt.Errorf("%w: empty response", ErrMalformedOutput)
	}
	var out T
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	return &out, nil
}

// CleanSQL strips markdown fences, a JSON {"query": ...} envelope and the
// trailing statement separator from a proposed statement.
func CleanSQL(response string) string {
	response = strings.TrimSpace(response)

	if idx := strings.Index(response, "```sql"); idx != -1 {
		response = fenced(response, idx+len("```sql"))
	} else if idx := strings.Index(response, "```"); idx != -1 {
		response = fenced(response, idx+len("```"))
	}
	response = strings.TrimSpace(response)

	if strings.HasPrefix(response, "{") {
		var envelope struct {
			Query string `json:"query"`
			SQL   string `json:"sql"`
		}
		if err := json.Unmarshal([]byte(ExtractJSON(response)), &envelope); err == nil {
			if envelope.Query != "" {
				response = envelope.Query
			} else if envelope.SQL != "" {
				response = envelope.SQL
			}
		}
	}

	response = strings.TrimSpace(response)
	response = strings.TrimSuffix(response, ";")
	return strings.TrimSpace(response)
}

func fenced(response string, start int) string {
	// Skip a language tag such as ```json
	if nl := strings.IndexByte(response[start:], '\n'); nl != -1 {
		tag := strings.TrimSpace(response[start : start+nl])
		if tag != "" && !strings.ContainsAny(tag, " \t") && len(tag) < 12 && isWord(tag) {
			start += nl + 1
		}
	}
	end := strings.Index(response[start:], "```")
	if end == -1 {
		return response[start:]
	}
	return response[start : start+end]
}

func isWord(s string) bool {
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			return false
		}
	}
	return true
}
