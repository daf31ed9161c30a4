package llm

import (
	"context"
	"fmt"
	"strings"
)

// MultiClient routes requests by the provider prefix of the model
// reference ("openai/gpt-4o-mini", "gemini/gemini-2.0-flash"). The
// prefix is stripped before the provider sees the model name.
type MultiClient struct {
	clients  map[string]Client
	fallback string
}

// NewMultiClient creates an empty router. fallback names the provider
// used for model references without a prefix.
func NewMultiClient(fallback string) *MultiClient {
	return &MultiClient{
		clients:  make(map[string]Client),
		fallback: fallback,
	}
}

// AddProvider registers a client for a provider name.
func (m *MultiClient) AddProvider(name string, client Client) {
	m.clients[name] = client
}

// Providers returns the registered provider names.
func (m *MultiClient) Providers() []string {
	names := make([]string, 0, len(m.clients))
	for name := range m.clients {
		names = append(names, name)
	}
	return names
}

// SplitModel separates "provider/model" into its parts. A reference
// without a slash has an empty provider.
func SplitModel(ref string) (provider, model string) {
	if p, rest, ok := strings.Cut(ref, "/"); ok {
		return p, rest
	}
	return "", ref
}

func (m *MultiClient) clientFor(ref string) (Client, string, error) {
	provider, model := SplitModel(ref)
	if provider == "" {
		provider = m.fallback
	}
	client, ok := m.clients[provider]
	if !ok {
		return nil, "", fmt.Errorf("no provider configured for model %q", ref)
	}
	return client, model, nil
}

// Chat sends a request to the provider named by model.
func (m *MultiClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	client, name, err := m.clientFor(model)
	if err != nil {
		return nil, err
	}
	return client.Chat(ctx, name, messages, tools)
}

// ChatSchema sends a structured request to the provider named by model.
func (m *MultiClient) ChatSchema(ctx context.Context, model string, messages []Message, schema *Schema) (*ChatResponse, error) {
	client, name, err := m.clientFor(model)
	if err != nil {
		return nil, err
	}
	return client.ChatSchema(ctx, name, messages, schema)
}

// Ping checks every provider and returns the first failure.
func (m *MultiClient) Ping(ctx context.Context) error {
	if len(m.clients) == 0 {
		return fmt.Errorf("no providers configured")
	}
	for name, c := range m.clients {
		if err := c.Ping(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
