package guardrail

import (
	"context"
	"fmt"

	"github.com/nugget/aline-bot/internal/llm"
)

// Classifier is a guardrail backed by a structured model completion. The
// model's JSON answer is decoded into V and turned into an Outcome by
// the verdict function.
type Classifier[V any] struct {
	name         string
	client       llm.Client
	model        string
	instructions string
	schema       *llm.Schema
	verdict      func(V) Outcome
}

// NewClassifier creates a model-backed guardrail.
func NewClassifier[V any](name string, client llm.Client, model, instructions string, schema *llm.Schema, verdict func(V) Outcome) *Classifier[V] {
	return &Classifier[V]{
		name:         name,
		client:       client,
		model:        model,
		instructions: instructions,
		schema:       schema,
		verdict:      verdict,
	}
}

// Name implements Guardrail.
func (c *Classifier[V]) Name() string { return c.name }

// Check implements Guardrail.
func (c *Classifier[V]) Check(ctx context.Context, text string) (Outcome, error) {
	var v V
	if err := llm.CompleteJSON(ctx, c.client, c.model, c.instructions, text, c.schema, &v); err != nil {
		return Outcome{}, fmt.Errorf("guardrail %s: %w", c.name, err)
	}
	out := c.verdict(v)
	out.Info = v
	return out, nil
}
