package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nugget/aline-bot/internal/httpkit"
)

// Base URLs of the OpenAI-compatible chat completion endpoints.
const (
	OpenAIBaseURL = "https://api.openai.com/v1"
	GeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"
)

// OpenAIClient speaks the OpenAI chat completions protocol. Gemini is
// reached through the same client via its OpenAI-compatible endpoint.
type OpenAIClient struct {
	provider   string
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOpenAIClient creates a client for baseURL. provider names the
// endpoint in logs and errors.
func NewOpenAIClient(provider, baseURL, apiKey string, logger *slog.Logger) *OpenAIClient {
	if logger == nil {
		logger = slog.Default()
	}
	// Completions can take a while before headers arrive. Deadlines come
	// from the caller's context (see RetryPolicy.CallTimeout).
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 120 * time.Second

	return &OpenAIClient{
		provider: provider,
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		logger:   logger.With("provider", provider),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(0),
			httpkit.WithTransport(t),
			httpkit.WithRetry(2, time.Second),
			httpkit.WithLogger(logger),
		),
	}
}

type oaRequest struct {
	Model          string           `json:"model"`
	Messages       []oaMessage      `json:"messages"`
	Tools          []map[string]any `json:"tools,omitempty"`
	ResponseFormat *oaFormat        `json:"response_format,omitempty"`
}

type oaFormat struct {
	Type       string        `json:"type"`
	JSONSchema *oaJSONSchema `json:"json_schema,omitempty"`
}

type oaJSONSchema struct {
	Name   string  `json:"name"`
	Schema *Schema `json:"schema"`
}

type oaMessage struct {
	Role       string       `json:"role"`
	Content    string       `json:"content"`
	ToolCalls  []oaToolCall `json:"tool_calls,omitempty"`
	ToolCallID string       `json:"tool_call_id,omitempty"`
}

type oaToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type oaResponse struct {
	Model   string `json:"model"`
	Created int64  `json:"created"`
	Choices []struct {
		Message      oaMessage `json:"message"`
		FinishReason string    `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Chat sends a chat completion request.
func (c *OpenAIClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	return c.do(ctx, oaRequest{
		Model:    model,
		Messages: toOpenAI(messages),
		Tools:    tools,
	})
}

// ChatSchema sends a request constrained to a JSON schema.
func (c *OpenAIClient) ChatSchema(ctx context.Context, model string, messages []Message, schema *Schema) (*ChatResponse, error) {
	req := oaRequest{Model: model, Messages: toOpenAI(messages)}
	if schema != nil {
		name := schema.Name
		if name == "" {
			name = "response"
		}
		req.ResponseFormat = &oaFormat{
			Type:       "json_schema",
			JSONSchema: &oaJSONSchema{Name: name, Schema: schema},
		}
	} else {
		req.ResponseFormat = &oaFormat{Type: "json_object"}
	}
	return c.do(ctx, req)
}

// Ping lists models to verify the key.
func (c *OpenAIClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s ping: %w", c.provider, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 64*1024)
	if resp.StatusCode != http.StatusOK {
		return &APIError{Provider: c.provider, Status: resp.StatusCode}
	}
	return nil
}

func (c *OpenAIClient) do(ctx context.Context, payload oaRequest) (*ChatResponse, error) {
	c.logger.Debug("preparing request",
		"model", payload.Model,
		"messages", len(payload.Messages),
		"tools", len(payload.Tools),
		"structured", payload.ResponseFormat != nil,
	)

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	c.logger.Log(ctx, LevelTrace, "request payload", "json", string(body))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", c.provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		c.logger.Error("API error", "status", resp.StatusCode, "body", errBody)
		return nil, &APIError{Provider: c.provider, Status: resp.StatusCode, Body: errBody}
	}

	var out oaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", c.provider, err)
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("%s returned no choices", c.provider)
	}

	msg, err := fromOpenAI(out.Choices[0].Message)
	if err != nil {
		return nil, err
	}

	c.logger.Log(ctx, LevelTrace, "response message", "content", msg.Content, "tool_calls", len(msg.ToolCalls))

	return &ChatResponse{
		Model:        out.Model,
		CreatedAt:    time.Unix(out.Created, 0),
		Message:      msg,
		InputTokens:  out.Usage.PromptTokens,
		OutputTokens: out.Usage.CompletionTokens,
	}, nil
}

func toOpenAI(messages []Message) []oaMessage {
	out := make([]oaMessage, 0, len(messages))
	for _, m := range messages {
		om := oaMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			var otc oaToolCall
			otc.ID = tc.ID
			otc.Type = "function"
			otc.Function.Name = tc.Function.Name
			args, _ := json.Marshal(tc.Function.Arguments)
			otc.Function.Arguments = string(args)
			om.ToolCalls = append(om.ToolCalls, otc)
		}
		out = append(out, om)
	}
	return out
}

func fromOpenAI(m oaMessage) (Message, error) {
	msg := Message{Role: RoleAssistant, Content: m.Content}
	for _, otc := range m.ToolCalls {
		var tc ToolCall
		tc.ID = otc.ID
		tc.Function.Name = otc.Function.Name
		if otc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(otc.Function.Arguments), &tc.Function.Arguments); err != nil {
				return Message{}, fmt.Errorf("tool call %s: invalid arguments: %w", otc.Function.Name, err)
			}
		}
		msg.ToolCalls = append(msg.ToolCalls, tc)
	}
	return msg, nil
}
