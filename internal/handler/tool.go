package handler

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/nugget/aline-bot/internal/llm"
	"github.com/nugget/aline-bot/internal/tools"
)

// Call is one sub-handler invocation made through a handler tool.
type Call struct {
	Tool   string
	Result TurnResult
}

// Trace collects the sub-handler calls made under one context, in the
// order they finished.
type Trace struct {
	mu    sync.Mutex
	calls []Call
}

type traceKey struct{}

// WithTrace returns a context whose handler tool calls are recorded in
// the returned Trace.
func WithTrace(ctx context.Context) (context.Context, *Trace) {
	t := &Trace{}
	return context.WithValue(ctx, traceKey{}, t), t
}

func (t *Trace) add(c Call) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, c)
}

// Calls returns a copy of the recorded calls.
func (t *Trace) Calls() []Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Call, len(t.calls))
	copy(out, t.calls)
	return out
}

// Last returns the most recent call, if any.
func (t *Trace) Last() (Call, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.calls) == 0 {
		return Call{}, false
	}
	return t.calls[len(t.calls)-1], true
}

// Record adds a call made outside Runner.Tool, such as a plain tool
// whose text should be treated as a terminal answer.
func Record(ctx context.Context, tool string, res TurnResult) {
	if t, ok := ctx.Value(traceKey{}).(*Trace); ok {
		t.add(Call{Tool: tool, Result: res})
	}
}

// Tool exposes h as a tool taking a single "input" string. The tool
// result is the handler's answer whatever its status, so the calling
// model sees guardrail refusals as text. The full result is recorded
// in the context's Trace when there is one.
func (r *Runner) Tool(h *Handler, name, description string) *tools.Tool {
	return &tools.Tool{
		Name:        name,
		Description: description,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"input": map[string]any{
					"type":        "string",
					"description": "에이전트에게 전달할 사용자 질문",
				},
			},
			"required": []string{"input"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			input := strings.TrimSpace(tools.StringArg(args, "input"))
			if input == "" {
				return "", fmt.Errorf("%s: input is required", name)
			}
			res, err := r.Run(ctx, h, []llm.Message{{Role: llm.RoleUser, Content: input}})
			if err != nil {
				return "", err
			}
			Record(ctx, name, res)
			return res.Answer, nil
		},
	}
}
