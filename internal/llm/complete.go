package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Complete runs a single instructions+input exchange. With a nil schema
// the answer is free text; otherwise it is a JSON document.
func Complete(ctx context.Context, c Client, model, instructions, input string, schema *Schema) (string, error) {
	messages := []Message{
		{Role: RoleSystem, Content: instructions},
		{Role: RoleUser, Content: input},
	}

	var (
		resp *ChatResponse
		err  error
	)
	if schema == nil {
		resp, err = c.Chat(ctx, model, messages, nil)
	} else {
		resp, err = c.ChatSchema(ctx, model, messages, schema)
	}
	if err != nil {
		return "", err
	}
	return resp.Message.Content, nil
}

// CompleteJSON is Complete with a schema, decoding the answer into out.
func CompleteJSON(ctx context.Context, c Client, model, instructions, input string, schema *Schema, out any) error {
	raw, err := Complete(ctx, c, model, instructions, input, schema)
	if err != nil {
		return err
	}
	return DecodeJSON(raw, out)
}

// DecodeJSON unmarshals a model answer, tolerating a surrounding
// markdown code fence.
func DecodeJSON(raw string, out any) error {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	if err := json.Unmarshal([]byte(s), out); err != nil {
		return fmt.Errorf("decode model JSON: %w", err)
	}
	return nil
}
