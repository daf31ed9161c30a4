// Package handler runs a single guardrailed handler: input guardrails,
// a bounded reasoning loop with tool calls, then output guardrails.
// Every outcome the user can see is a [TurnResult]; Go errors are kept
// for cancellation and model faults.
package handler

import (
	"errors"
	"fmt"

	"github.com/nugget/aline-bot/internal/guardrail"
	"github.com/nugget/aline-bot/internal/tools"
)

// Status is the terminal state of a handler invocation.
type Status string

// Handler statuses.
const (
	Success           Status = "success"
	InputRejected     Status = "input_guardrail_tripwire_triggered"
	OutputRejected    Status = "output_guardrail_tripwire_triggered"
	TurnLimitExceeded Status = "max_turns_exceeded"
)

// DefaultTurnLimitMessage is the answer given when a handler runs out
// of turns and no handler-specific message was configured.
const DefaultTurnLimitMessage = "죄송합니다. 에이전트가 최대 턴 수를 초과했습니다."

// TurnResult is what a handler hands back. Answer is always user-facing
// text, whatever the status.
type TurnResult struct {
	Answer string `json:"answer"`
	Status Status `json:"status"`
}

// Handler is an immutable handler definition.
type Handler struct {
	Name         string
	Instructions string
	Model        string
	Tools        *tools.Registry

	InputGuardrails  []guardrail.Guardrail
	OutputGuardrails []guardrail.Guardrail

	// MaxTurns bounds the number of model calls per invocation.
	MaxTurns int

	// TurnLimitMessage is the answer when MaxTurns is exhausted.
	TurnLimitMessage string
}

// New validates def and returns a copy ready for use.
func New(def Handler) (*Handler, error) {
	var errs []error
	if def.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if def.Model == "" {
		errs = append(errs, errors.New("model is required"))
	}
	if def.MaxTurns < 1 {
		errs = append(errs, fmt.Errorf("max turns must be at least 1, got %d", def.MaxTurns))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("handler %q: %w", def.Name, err)
	}

	h := def
	if h.TurnLimitMessage == "" {
		h.TurnLimitMessage = DefaultTurnLimitMessage
	}
	if h.Tools == nil {
		h.Tools = tools.NewRegistry()
	}
	h.InputGuardrails = append([]guardrail.Guardrail(nil), def.InputGuardrails...)
	h.OutputGuardrails = append([]guardrail.Guardrail(nil), def.OutputGuardrails...)
	return &h, nil
}
