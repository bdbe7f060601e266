// Package llm wraps OpenAI-compatible chat completion endpoints that answer
// with a JSON document constrained by a schema.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"llm-trade-bot-go/internal/config"
)

// Response formats understood by CompleteStructured.
const (
	FormatJSONSchema = "json_schema"
	FormatJSONObject = "json_object"
)

var (
	// ErrEmptyCompletion is returned when the endpoint answers without any content.
	ErrEmptyCompletion = errors.New("llm: completion has no content")
	// ErrRejected is returned when the endpoint refuses the request itself
	// (unsupported parameter, bad key, unknown model). Retrying does not help.
	ErrRejected = errors.New("llm: request rejected by endpoint")
)

// reasoningPaths are the message fields providers use for a disclosed chain of thought.
var reasoningPaths = []string{"reasoning_content", "reasoning"}

// StructuredRequest is one schema-constrained completion.
type StructuredRequest struct {
	System     string
	User       string
	SchemaName string
	Schema     map[string]any
}

// Completion is the answer to a StructuredRequest.
type Completion struct {
	Model            string
	Content          string
	Reasoning        string
	PromptTokens     int64
	CompletionTokens int64
}

// Client talks to one OpenAI-compatible endpoint with one model.
type Client struct {
	client openai.Client
	model  string
	format string
	logger *zap.Logger
}

// NewClient creates a client for cfg. timeout bounds each request; extra
// options are appended last so callers can replace the HTTP client.
func NewClient(cfg config.LLM, timeout time.Duration, logger *zap.Logger, opts ...option.RequestOption) *Client {
	reqOpts := []option.RequestOption{
		option.WithBaseURL(cfg.BaseURL),
		option.WithMaxRetries(1),
	}
	if cfg.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(cfg.APIKey))
	}
	if timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(timeout))
	}
	reqOpts = append(reqOpts, opts...)

	logger = logger.Named("llm").With(zap.String("model", cfg.Model))

	format := strings.ToLower(strings.TrimSpace(cfg.ResponseFormat))
	switch format {
	case FormatJSONSchema, FormatJSONObject:
	case "":
		format = FormatJSONSchema
	default:
		logger.Warn("Unknown response format, using json_schema", zap.String("response_format", cfg.ResponseFormat))
		format = FormatJSONSchema
	}

	return &Client{
		client: openai.NewClient(reqOpts...),
		model:  cfg.Model,
		format: format,
		logger: logger,
	}
}

// WithHTTPClient is a convenience for tests and custom transports.
func WithHTTPClient(c *http.Client) option.RequestOption {
	return option.WithHTTPClient(c)
}

// Model returns the model identifier sent with every request.
func (c *Client) Model() string {
	return c.model
}

// ResponseFormat returns the response format sent with every request.
func (c *Client) ResponseFormat() string {
	return c.format
}

// CompleteStructured sends the system and user messages and asks for a JSON
// answer matching req.Schema. In json_object mode the endpoint only enforces
// JSON and the schema is appended to the system message; callers validate.
func (c *Client) CompleteStructured(ctx context.Context, req StructuredRequest) (*Completion, error) {
	format, system, err := c.responseFormat(req)
	if err != nil {
		return nil, err
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(req.User),
		},
		ResponseFormat: format,
	}

	start := time.Now()
	c.logger.Debug("Sending structured completion",
		zap.String("schema", req.SchemaName),
		zap.String("response_format", c.format))

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) && rejected(apiErr.StatusCode) {
			return nil, fmt.Errorf("%w: %w", ErrRejected, err)
		}
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyCompletion
	}

	message := resp.Choices[0].Message
	content := strings.TrimSpace(message.Content)
	if content == "" {
		return nil, ErrEmptyCompletion
	}

	completion := &Completion{
		Model:            resp.Model,
		Content:          content,
		Reasoning:        extractReasoning(message.RawJSON()),
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}

	c.logger.Info("Structured completion received",
		zap.Duration("duration", time.Since(start)),
		zap.Int64("prompt_tokens", completion.PromptTokens),
		zap.Int64("completion_tokens", completion.CompletionTokens),
		zap.Bool("has_reasoning", completion.Reasoning != ""),
	)
	return completion, nil
}

// responseFormat builds the response_format parameter and the system message.
func (c *Client) responseFormat(req StructuredRequest) (openai.ChatCompletionNewParamsResponseFormatUnion, string, error) {
	if c.format == FormatJSONObject {
		schema, err := json.Marshal(req.Schema)
		if err != nil {
			return openai.ChatCompletionNewParamsResponseFormatUnion{}, "", fmt.Errorf("failed to encode schema %s: %w", req.SchemaName, err)
		}
		val := shared.NewResponseFormatJSONObjectParam()
		system := req.System + "\n\nAnswer with one JSON object that matches this JSON schema:\n" + string(schema)
		return openai.ChatCompletionNewParamsResponseFormatUnion{OfJSONObject: &val}, system, nil
	}

	val := shared.ResponseFormatJSONSchemaParam{
		JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
			Name:   req.SchemaName,
			Schema: req.Schema,
			Strict: openai.Bool(true),
		},
	}
	val.Type = val.Type.Default()
	return openai.ChatCompletionNewParamsResponseFormatUnion{OfJSONSchema: &val}, req.System, nil
}

// rejected reports whether status is a client error that a retry cannot fix.
func rejected(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusConflict, http.StatusTooManyRequests:
		return false
	}
	return status >= 400 && status < 500
}

// extractReasoning reads the provider-specific reasoning field, which the
// SDK does not model, from the raw message.
func extractReasoning(raw string) string {
	for _, path := range reasoningPaths {
		if v := gjson.Get(raw, path); v.Exists() && v.Type == gjson.String {
			if s := strings.TrimSpace(v.String()); s != "" {
				return s
			}
		}
	}
	return ""
}
