// Package anthropic adapts the Anthropic Messages API to the completion ports.
// Structured decisions use a forced tool call whose input schema mirrors the
// caller's schema descriptor.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/kirillkom/research-assistant/internal/core/domain"
	"github.com/kirillkom/research-assistant/internal/core/recovery"
	"github.com/kirillkom/research-assistant/internal/infrastructure/resilience"
)

const (
	defaultMaxTokens = 2048
	recordToolName   = "record_result"
)

type Config struct {
	APIKey    string
	Model     string
	MaxTokens int64
	// BaseURL overrides the API endpoint, mainly for tests.
	BaseURL string
}

type Client struct {
	client    sdk.Client
	model     string
	maxTokens int64
}

func New(cfg Config) *Client {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// The synthesizer owns retries.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Client{
		client:    sdk.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: maxTokens,
	}
}

func (c *Client) Complete(ctx context.Context, messages []domain.ChatMessage) (string, error) {
	msg, err := c.client.Messages.New(ctx, c.params(messages))
	if err != nil {
		return "", mapError("create message", err)
	}
	return strings.TrimSpace(textOf(msg)), nil
}

func (c *Client) CompleteStream(ctx context.Context, messages []domain.ChatMessage, onDelta func(string) error) error {
	stream := c.client.Messages.NewStreaming(ctx, c.params(messages))
	defer stream.Close()

	for stream.Next() {
		event := stream.Current()
		if event.Type != "content_block_delta" || event.Delta.Type != "text_delta" || event.Delta.Text == "" {
			continue
		}
		if err := onDelta(event.Delta.Text); err != nil {
			return err
		}
	}
	if err := stream.Err(); err != nil {
		return mapError("stream message", err)
	}
	return nil
}

// CompleteStructured forces a single tool call and decodes its input against
// schema. Input that does not fit the schema goes through the recovery parser.
func (c *Client) CompleteStructured(ctx context.Context, messages []domain.ChatMessage, schema domain.SchemaDescriptor) (domain.RecoveredRecord, error) {
	params := c.params(messages)
	params.Tools = []sdk.ToolUnionParam{sdk.ToolUnionParamOfTool(inputSchema(schema), recordToolName)}
	params.ToolChoice = sdk.ToolChoiceParamOfTool(recordToolName)

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, mapError("structured message", err)
	}

	for _, block := range msg.Content {
		if block.Type != "tool_use" || block.Name != recordToolName {
			continue
		}
		decoder := json.NewDecoder(bytes.NewReader(block.Input))
		decoder.UseNumber()
		var values map[string]any
		if err := decoder.Decode(&values); err == nil {
			if record, ok := recovery.Decode(values, schema); ok {
				return record, nil
			}
		}
		return recovery.Parse(string(block.Input), schema).Record, nil
	}
	return recovery.Parse(textOf(msg), schema).Record, nil
}

func (c *Client) params(messages []domain.ChatMessage) sdk.MessageNewParams {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: c.maxTokens,
	}
	var system []string
	for _, msg := range messages {
		block := sdk.NewTextBlock(msg.Content)
		switch msg.Role {
		case domain.RoleSystem:
			system = append(system, msg.Content)
		case domain.RoleAssistant:
			params.Messages = append(params.Messages, sdk.NewAssistantMessage(block))
		default:
			params.Messages = append(params.Messages, sdk.NewUserMessage(block))
		}
	}
	if len(system) > 0 {
		params.System = []sdk.TextBlockParam{{Text: strings.Join(system, "\n\n")}}
	}
	return params
}

func inputSchema(schema domain.SchemaDescriptor) sdk.ToolInputSchemaParam {
	properties := make(map[string]any, len(schema.Fields))
	required := make([]string, 0, len(schema.Fields))
	for _, field := range schema.Fields {
		properties[field.Name] = jsonSchemaType(field.Type)
		required = append(required, field.Name)
	}
	return sdk.ToolInputSchemaParam{Properties: properties, Required: required}
}

func jsonSchemaType(t domain.FieldType) map[string]any {
	switch t {
	case domain.FieldBool:
		return map[string]any{"type": "boolean"}
	case domain.FieldInt:
		return map[string]any{"type": "integer"}
	case domain.FieldFloat:
		return map[string]any{"type": "number"}
	case domain.FieldList:
		return map[string]any{"type": "array", "items": map[string]any{"type": "string"}}
	default:
		return map[string]any{"type": "string"}
	}
}

func textOf(msg *sdk.Message) string {
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}

// mapError exposes API status codes as resilience.StatusError so the shared
// classifier can see them.
func mapError(operation string, err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return fmt.Errorf("anthropic %s: %w", operation, &resilience.StatusError{
			Operation:  "anthropic " + operation,
			StatusCode: apiErr.StatusCode,
			Status:     fmt.Sprintf("%d %s", apiErr.StatusCode, http.StatusText(apiErr.StatusCode)),
			Body:       apiErr.Error(),
		})
	}
	return fmt.Errorf("anthropic %s: %w", operation, err)
}
