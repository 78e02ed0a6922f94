// Package chat implements the text-only upstream backend client used by
// the turn-based adapter. It speaks an OpenAI-compatible chat completions
// wire format: one POST per model round, tool calls surfaced in the
// response, tool results fed back as role "tool" messages.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/voxdeck-ai/voxdeck/pkg/core"
)

const (
	// DefaultBaseURL is the default chat completions endpoint root.
	DefaultBaseURL = "https://api.openai.com/v1"

	// DefaultMaxTokens is applied when the caller does not specify one.
	DefaultMaxTokens = 4096
)

// Message is one entry in the conversation sent upstream.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is one model-requested invocation inside a completion.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the invocation name and JSON-encoded arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Tool is one capability schema handed upstream.
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction is the schema half of a Tool.
type ToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// CompletionRequest is one model round.
type CompletionRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	Tools     []Tool    `json:"tools,omitempty"`
	MaxTokens int       `json:"max_tokens,omitempty"`
}

// Completion is the model's answer for one round: either final text or
// one-or-more tool calls.
type Completion struct {
	Text      string
	ToolCalls []ToolCall
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   string     `json:"content"`
			ToolCalls []ToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Client is a minimal chat completions client.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the upstream endpoint root.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		if strings.TrimSpace(url) != "" {
			c.baseURL = strings.TrimRight(url, "/")
		}
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// New creates a chat client. The key is validated at first use, not here.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete runs one model round.
func (c *Client) Complete(ctx context.Context, req *CompletionRequest) (*Completion, error) {
	if c.apiKey == "" {
		return nil, core.NewConfigurationError("missing chat backend API key")
	}
	if req == nil {
		return nil, core.NewInvalidRequestError("completion request must not be nil")
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = DefaultMaxTokens
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, core.NewTransportError(fmt.Sprintf("chat backend request: %v", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.NewTransportError(fmt.Sprintf("read chat backend response: %v", err))
	}

	// Classify by status first: error bodies are not guaranteed to be
	// JSON, and a 401 is a credentials problem whatever the body says.
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, core.NewConfigurationError("chat backend rejected credentials")
	}
	if resp.StatusCode >= 400 {
		message := fmt.Sprintf("chat backend status %d", resp.StatusCode)
		var failed chatResponse
		if json.Unmarshal(respBody, &failed) == nil && failed.Error != nil &&
			strings.TrimSpace(failed.Error.Message) != "" {
			message = failed.Error.Message
		}
		return nil, core.NewAPIError(message)
	}

	var decoded chatResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, core.NewTransportError(fmt.Sprintf("decode chat backend response: %v", err))
	}
	if len(decoded.Choices) == 0 {
		return nil, core.NewAPIError("chat backend returned no choices")
	}

	choice := decoded.Choices[0]
	return &Completion{
		Text:      choice.Message.Content,
		ToolCalls: choice.Message.ToolCalls,
	}, nil
}
