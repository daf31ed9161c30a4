// Package guardrail validates handler input and output with classifier
// checks. A guardrail either passes text through or trips with a
// user-facing reason; the handler pipeline decides what a trip means.
package guardrail

import "context"

// UnavailableReason is the answer shown when a guardrail could not reach
// a verdict. Guardrail errors fail closed.
const UnavailableReason = "요청을 확인하는 중 문제가 발생했습니다. 잠시 후 다시 시도해 주세요."

// Answers for a trip whose classifier gave no reason.
const (
	InputRejectedReason  = "죄송합니다. 이 요청은 처리할 수 없습니다."
	OutputRejectedReason = "죄송합니다. 확인되지 않은 내용이 있어 답변을 드릴 수 없습니다."
)

// Outcome is the verdict of one guardrail over one text.
type Outcome struct {
	Tripped bool   `json:"tripped"`
	Reason  string `json:"reason,omitempty"`

	// Info holds the classifier's raw verdict for logging.
	Info any `json:"info,omitempty"`
}

// Pass is the outcome of a guardrail that did not trip.
func Pass() Outcome { return Outcome{} }

// Trip is the outcome of a guardrail that tripped with reason.
func Trip(reason string) Outcome { return Outcome{Tripped: true, Reason: reason} }

// Guardrail checks a single text.
type Guardrail interface {
	Name() string
	Check(ctx context.Context, text string) (Outcome, error)
}

type funcGuardrail struct {
	name string
	fn   func(ctx context.Context, text string) (Outcome, error)
}

// Func adapts a plain function to a Guardrail.
func Func(name string, fn func(ctx context.Context, text string) (Outcome, error)) Guardrail {
	return &funcGuardrail{name: name, fn: fn}
}

func (g *funcGuardrail) Name() string { return g.name }

func (g *funcGuardrail) Check(ctx context.Context, text string) (Outcome, error) {
	return g.fn(ctx, text)
}
