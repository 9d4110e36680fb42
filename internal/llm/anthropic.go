package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider implements Provider against the Anthropic Messages API.
//
// Safe for concurrent use; each Complete call is an independent request.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
	maxRetries   int
}

// AnthropicConfig configures the Anthropic provider.
type AnthropicConfig struct {
	// APIKey authenticates with the Anthropic API.
	APIKey string
	// BaseURL overrides the API endpoint (optional).
	BaseURL string
	// DefaultModel is used when a request does not specify a model.
	DefaultModel string
	// MaxRetries bounds SDK-level retries for transient failures. Default: 2.
	MaxRetries int
}

// NewAnthropicProvider creates a provider from the given config.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}

	options := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(options...),
		defaultModel: cfg.DefaultModel,
		maxRetries:   cfg.MaxRetries,
	}, nil
}

// Name returns "anthropic".
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// Complete sends the request and collects the full response.
func (p *AnthropicProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  convertMessages(req.Messages),
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if len(req.Tools) > 0 {
		tools, err := convertTools(req.Tools)
		if err != nil {
			return nil, err
		}
		params.Tools = tools
	}

	start := time.Now()
	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classifyAnthropicError(err)
	}

	resp := &CompletionResponse{
		StopReason: mapStopReason(string(msg.StopReason)),
		Usage: Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Content = append(resp.Content, TextBlock(variant.Text))
		case anthropic.ToolUseBlock:
			resp.Content = append(resp.Content, ToolUseBlock(variant.ID, variant.Name, json.RawMessage(variant.Input)))
		}
	}

	slog.Debug("anthropic completion",
		"model", model,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
		"stop_reason", resp.StopReason,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return resp, nil
}

func convertMessages(messages []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		var content []anthropic.ContentBlockParamUnion
		for _, b := range msg.Blocks {
			switch b.Type {
			case BlockText:
				if b.Text != "" {
					content = append(content, anthropic.NewTextBlock(b.Text))
				}
			case BlockToolUse:
				content = append(content, anthropic.NewToolUseBlock(b.ID, b.Input, b.Name))
			case BlockToolResult:
				content = append(content, anthropic.NewToolResultBlock(b.ToolCallID, b.Content, b.IsError))
			}
		}
		if len(content) == 0 {
			continue
		}
		if msg.Role == RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(content...))
		} else {
			out = append(out, anthropic.NewUserMessage(content...))
		}
	}
	return out
}

func convertTools(tools []ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.Parameters, &schema); err != nil {
			return nil, fmt.Errorf("anthropic: invalid schema for tool %s: %w", tool.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if param.OfTool != nil {
			param.OfTool.Description = anthropic.String(tool.Description)
		}
		out = append(out, param)
	}
	return out, nil
}

func mapStopReason(reason string) StopReason {
	switch reason {
	case "tool_use":
		return StopToolUse
	case "max_tokens":
		return StopMaxTokens
	default:
		return StopEndTurn
	}
}

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// invalidToolPattern matches the tool name the API quotes when it rejects a
// request over an unknown tool, e.g. `tool "read_flie" not found`.
var invalidToolPattern = regexp.MustCompile("tool[^`\"']*[`\"']([A-Za-z0-9_.-]+)[`\"']")

// classifyAnthropicError maps invalid-tool-name API rejections onto
// ToolValidationError; everything else passes through unchanged.
func classifyAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	if apiErr.StatusCode != 400 {
		return err
	}

	var payload anthropicErrorPayload
	raw := apiErr.RawJSON()
	if raw == "" || json.Unmarshal([]byte(raw), &payload) != nil {
		return err
	}
	if payload.Error.Type != "invalid_request_error" {
		return err
	}

	match := invalidToolPattern.FindStringSubmatch(payload.Error.Message)
	if match == nil {
		return err
	}
	return &ToolValidationError{ToolName: match[1], Cause: err}
}
