package ollama

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/research-assistant/internal/core/domain"
)

// Client talks to a local Ollama server through /api/chat. It returns free
// text only, so structured decisions go through the recovery parser.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

func New(baseURL, model string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
	Error   string      `json:"error,omitempty"`
}

func (c *Client) Complete(ctx context.Context, messages []domain.ChatMessage) (string, error) {
	var response chatResponse
	if err := c.postJSON(ctx, "/api/chat", c.chatRequest(messages, false), &response, "chat"); err != nil {
		return "", err
	}
	if response.Error != "" {
		return "", fmt.Errorf("ollama chat: %s", response.Error)
	}
	return strings.TrimSpace(response.Message.Content), nil
}

// CompleteStream reads the NDJSON stream and forwards each content delta.
func (c *Client) CompleteStream(ctx context.Context, messages []domain.ChatMessage, onDelta func(string) error) error {
	return c.streamJSON(ctx, "/api/chat", c.chatRequest(messages, true), "chat stream", func(line []byte) (bool, error) {
		var chunk chatResponse
		if err := decodeLine(line, &chunk); err != nil {
			return false, err
		}
		if chunk.Error != "" {
			return false, fmt.Errorf("ollama chat stream: %s", chunk.Error)
		}
		if chunk.Message.Content != "" {
			if err := onDelta(chunk.Message.Content); err != nil {
				return false, err
			}
		}
		return chunk.Done, nil
	})
}

func (c *Client) chatRequest(messages []domain.ChatMessage, stream bool) chatRequest {
	out := make([]chatMessage, 0, len(messages))
	for _, msg := range messages {
		out = append(out, chatMessage{Role: msg.Role, Content: msg.Content})
	}
	return chatRequest{Model: c.model, Messages: out, Stream: stream}
}
