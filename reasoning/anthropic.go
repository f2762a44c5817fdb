package reasoning

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/getsentry/sentry-go"

	"github.com/deepnoodle-ai/queryflow/metrics"
	"github.com/deepnoodle-ai/queryflow/retry"
)

// DefaultModel is used when AnthropicOptions.Model is empty.
const DefaultModel = anthropic.ModelClaudeHaiku4_5

// AnthropicOptions configures an AnthropicClient.
type AnthropicOptions struct {
	// APIKey defaults to the ANTHROPIC_API_KEY environment variable.
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int64
	Timeout   time.Duration
}

// AnthropicClient proposes text with the Anthropic Messages API.
type AnthropicClient struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
	timeout   time.Duration
}

// NewAnthropicClient returns a client for the Messages API. Retries are left
// to WithRetries so that every attempt is visible to metrics.
func NewAnthropicClient(opts AnthropicOptions) *AnthropicClient {
	requestOpts := []option.RequestOption{option.WithMaxRetries(0)}
	if opts.APIKey != "" {
		requestOpts = append(requestOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		requestOpts = append(requestOpts, option.WithBaseURL(opts.BaseURL))
	}
	model := anthropic.Model(opts.Model)
	if model == "" {
		model = DefaultModel
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &AnthropicClient{
		client:    anthropic.NewClient(requestOpts...),
		model:     model,
		maxTokens: maxTokens,
		timeout:   opts.Timeout,
	}
}

func (c *AnthropicClient) Propose(ctx context.Context, req Request) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	span := sentry.StartSpan(ctx, "gen_ai.chat", sentry.WithDescription(fmt.Sprintf("%s %s", req.Task, c.model)))
	span.SetData("gen_ai.operation.name", "chat")
	span.SetData("gen_ai.request.model", string(c.model))
	span.SetData("gen_ai.request.max_tokens", c.maxTokens)
	span.SetData("gen_ai.system", "anthropic")
	span.SetData("queryflow.task", string(req.Task))
	ctx = span.Context()
	defer span.Finish()

	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}

	start := time.Now()
	msg, err := c.client.Messages.New(ctx, params)
	metrics.RecordReasoningRequest(string(req.Task), time.Since(start), err)
	if err != nil {
		span.Status = sentry.SpanStatusInternalError
		return "", classify(err)
	}

	metrics.RecordReasoningTokens(msg.Usage.InputTokens, msg.Usage.OutputTokens)
	span.SetData("gen_ai.usage.input_tokens", msg.Usage.InputTokens)
	span.SetData("gen_ai.usage.output_tokens", msg.Usage.OutputTokens)
	span.Status = sentry.SpanStatusOK

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("%w: response has no text content", ErrMalformedOutput)
	}
	return text.String(), nil
}

// classify maps API failures onto messages and retry semantics the engine
// understands.
func classify(err error) error {
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	switch {
	case apiErr.StatusCode == http.StatusTooManyRequests:
		return retry.NewRecoverableError(fmt.Errorf("reasoning: rate limit exceeded: %w", err))
	case apiErr.StatusCode >= 500:
		return retry.NewRecoverableError(fmt.Errorf("reasoning: service unavailable: %w", err))
	default:
		return retry.NewNonRecoverableError(fmt.Errorf("reasoning: request rejected: %w", err))
	}
}
