package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/deepnoodle-ai/queryflow"
	"github.com/deepnoodle-ai/queryflow/reasoning"
)

const (
	// MaxAnswerData bounds the serialized rows handed to answer synthesis,
	// in characters.
	MaxAnswerData = 32000

	// TruncationMarker is appended to truncated row data.
	TruncationMarker = "\n... [Data Truncated for Length] ..."
)

// TruncateData cuts s to at most limit characters and marks the cut.
func TruncateData(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit]) + TruncationMarker
}

// SerializeRows renders rows as JSON for prompts.
func SerializeRows(rows []map[string]any) (string, error) {
	if rows == nil {
		rows = []map[string]any{}
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return "", fmt.Errorf("failed to encode rows: %w", err)
	}
	return string(data), nil
}

type answerPrompt struct {
	Question string
	Intent   string
	Plan     string
	Data     string
}

func (p *Pipeline) answer(ctx context.Context, state *queryflow.State) ([]queryflow.Patch, error) {
	data, err := SerializeRows(state.Rows)
	if err != nil {
		return nil, err
	}
	prompt, err := p.prompts.Render("ANSWER.md", answerPrompt{
		Question: state.Question,
		Intent:   state.Intent,
		Plan:     state.Plan.Summary(),
		Data:     TruncateData(data, p.maxAnswerData),
	})
	if err != nil {
		return nil, err
	}
	text, err := p.reasoner.Propose(ctx, reasoning.Request{
		Task:   reasoning.TaskAnswer,
		System: p.prompts.System,
		Prompt: prompt,
	})
	if err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("answer synthesis returned no text")
	}
	return []queryflow.Patch{
		queryflow.Set(queryflow.FieldAnswer, text),
		queryflow.ClearError(),
		queryflow.Log("answer: %d rows explained", len(state.Rows)),
	}, nil
}

// degrade ends a session that could not produce an answer. Repairable
// failures that reach it are reported as exhausted retries; other categories
// are kept so callers can tell throttling from bad questions.
func (p *Pipeline) degrade(ctx context.Context, state *queryflow.State) ([]queryflow.Patch, error) {
	last := state.LastError
	if last == nil {
		last = &queryflow.StageError{
			Type:    queryflow.ErrorTypeStageFailed,
			Message: "no answer could be produced",
			Source:  StageDegrade,
		}
	}
	if queryflow.IsRecoverableType(last.Type) {
		last = &queryflow.StageError{
			Type:    queryflow.ErrorTypeExhaustedRetries,
			Message: fmt.Sprintf("gave up after %d attempts: %s", state.Attempts, last.Message),
			Source:  last.Source,
		}
	}

	var sb strings.Builder
	switch last.Type {
	case queryflow.ErrorTypeExhaustedRetries:
		fmt.Fprintf(&sb, "I could not build a reliable query for %q. The last problem was: %s", state.Question, last.Message)
	case queryflow.ErrorTypeRateLimited:
		sb.WriteString("The reasoning service is rate limiting requests right now. Please try again shortly.")
	case queryflow.ErrorTypeTimeout:
		sb.WriteString("The request timed out before an answer was produced. Please try again.")
	case queryflow.ErrorTypeCanceled:
		sb.WriteString("The request was canceled before an answer was produced.")
	default:
		fmt.Fprintf(&sb, "The question could not be answered: %s", last.Message)
	}
	if len(state.Rows) > 0 {
		if data, err := SerializeRows(state.Rows); err == nil {
			fmt.Fprintf(&sb, "\n\nRaw results:\n%s", TruncateData(data, p.maxAnswerData))
		}
	}

	queryflow.LoggerFromContext(ctx).Warn("session degraded", "error_type", last.Type, "source", last.Source)
	return []queryflow.Patch{
		queryflow.Set(queryflow.FieldLastError, last),
		queryflow.Set(queryflow.FieldAnswer, sb.String()),
		queryflow.Log("degrade: %s", last.Type),
	}, nil
}
