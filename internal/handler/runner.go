package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nugget/aline-bot/internal/guardrail"
	"github.com/nugget/aline-bot/internal/llm"
	"github.com/nugget/aline-bot/internal/prompts"
	"github.com/nugget/aline-bot/internal/tools"
)

// Runner executes handlers against a model client.
type Runner struct {
	llm    llm.Client
	logger *slog.Logger
	store  *RunStore
	loc    *time.Location
	now    func() time.Time
}

// NewRunner creates a handler runner.
func NewRunner(client llm.Client, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		llm:    client,
		logger: logger,
		loc:    time.Local,
		now:    time.Now,
	}
}

// SetLocation sets the timezone used for the clock line in every
// handler's instructions.
func (r *Runner) SetLocation(loc *time.Location) {
	if loc != nil {
		r.loc = loc
	}
}

// SetStore configures run persistence. When set, every completed
// invocation is recorded.
func (r *Runner) SetStore(s *RunStore) {
	r.store = s
}

// run tracks one invocation for logging and the run store.
type run struct {
	id        string
	handler   *Handler
	userID    string
	input     string
	turns     int
	inTokens  int
	outTokens int
	tools     map[string]int
	started   time.Time
}

// Run invokes h on the conversation in input. The last user message is
// what the input guardrails see.
func (r *Runner) Run(ctx context.Context, h *Handler, input []llm.Message) (TurnResult, error) {
	runID, _ := uuid.NewV7()
	rn := &run{
		id:      runID.String(),
		handler: h,
		userID:  tools.UserIDFromContext(ctx),
		input:   lastUserText(input),
		started: time.Now(),
	}

	r.logger.Info("handler started",
		"run_id", rn.id,
		"handler", h.Name,
		"user_id", rn.userID,
		"input", truncate(rn.input, 200),
	)

	if out, tripped := r.checkAll(ctx, rn, h.InputGuardrails, rn.input, "input"); tripped {
		return r.finish(rn, TurnResult{Answer: out.Reason, Status: InputRejected}, nil)
	}

	draft, ok, err := r.reason(ctx, rn, input)
	if err != nil {
		_, _ = r.finish(rn, TurnResult{}, err)
		return TurnResult{}, err
	}
	if !ok {
		r.logger.Warn("handler max turns reached",
			"run_id", rn.id,
			"handler", h.Name,
			"max_turns", h.MaxTurns,
		)
		return r.finish(rn, TurnResult{Answer: h.TurnLimitMessage, Status: TurnLimitExceeded}, nil)
	}

	if out, tripped := r.checkAll(ctx, rn, h.OutputGuardrails, draft, "output"); tripped {
		return r.finish(rn, TurnResult{Answer: out.Reason, Status: OutputRejected}, nil)
	}

	return r.finish(rn, TurnResult{Answer: draft, Status: Success}, nil)
}

// checkAll runs guardrails in order and stops at the first trip. A
// guardrail error is treated as a trip, and a trip without a reason
// gets the stage's stock answer.
func (r *Runner) checkAll(ctx context.Context, rn *run, gs []guardrail.Guardrail, text, stage string) (guardrail.Outcome, bool) {
	for _, g := range gs {
		out, err := g.Check(ctx, text)
		if err != nil {
			r.logger.Error("guardrail failed",
				"run_id", rn.id,
				"handler", rn.handler.Name,
				"stage", stage,
				"guardrail", g.Name(),
				"error", err,
			)
			return guardrail.Trip(guardrail.UnavailableReason), true
		}
		if out.Tripped {
			r.logger.Info("guardrail tripped",
				"run_id", rn.id,
				"handler", rn.handler.Name,
				"stage", stage,
				"guardrail", g.Name(),
				"reason", truncate(out.Reason, 200),
			)
			if strings.TrimSpace(out.Reason) == "" {
				out.Reason = guardrail.InputRejectedReason
				if stage == "output" {
					out.Reason = guardrail.OutputRejectedReason
				}
			}
			return out, true
		}
	}
	return guardrail.Outcome{}, false
}

// reason runs the bounded tool loop. ok is false when the turn budget
// ran out before the model produced a final answer.
func (r *Runner) reason(ctx context.Context, rn *run, input []llm.Message) (draft string, ok bool, err error) {
	h := rn.handler
	toolDefs := h.Tools.List()

	messages := make([]llm.Message, 0, len(input)+1)
	messages = append(messages, llm.Message{
		Role:    llm.RoleSystem,
		Content: h.Instructions + "\n\n" + prompts.CurrentTime(r.now().In(r.loc)),
	})
	messages = append(messages, input...)

	for turn := range h.MaxTurns {
		if err := ctx.Err(); err != nil {
			return "", false, fmt.Errorf("handler %s cancelled: %w", h.Name, err)
		}

		turnStart := time.Now()
		resp, err := r.llm.Chat(ctx, h.Model, messages, toolDefs)
		if err != nil {
			return "", false, fmt.Errorf("handler %s model call failed (turn %d): %w", h.Name, turn, err)
		}
		rn.turns++
		rn.inTokens += resp.InputTokens
		rn.outTokens += resp.OutputTokens

		r.logger.Debug("handler model response",
			"run_id", rn.id,
			"handler", h.Name,
			"turn", turn,
			"model", h.Model,
			"tool_calls", len(resp.Message.ToolCalls),
			"elapsed", time.Since(turnStart).Round(time.Millisecond),
		)

		if len(resp.Message.ToolCalls) == 0 {
			return resp.Message.Content, true, nil
		}

		messages = append(messages, resp.Message)
		for _, tc := range resp.Message.ToolCalls {
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    r.execTool(ctx, rn, tc),
				ToolCallID: tc.ID,
			})
		}
	}
	return "", false, nil
}

func (r *Runner) execTool(ctx context.Context, rn *run, tc llm.ToolCall) string {
	if rn.tools == nil {
		rn.tools = make(map[string]int)
	}
	rn.tools[tc.Function.Name]++

	argsJSON := ""
	if tc.Function.Arguments != nil {
		b, _ := json.Marshal(tc.Function.Arguments)
		argsJSON = string(b)
	}

	start := time.Now()
	result, err := rn.handler.Tools.Execute(ctx, tc.Function.Name, argsJSON)
	if err != nil {
		r.logger.Error("handler tool exec failed",
			"run_id", rn.id,
			"handler", rn.handler.Name,
			"tool", tc.Function.Name,
			"error", err,
		)
		return "Error: " + err.Error()
	}
	r.logger.Debug("handler tool exec done",
		"run_id", rn.id,
		"handler", rn.handler.Name,
		"tool", tc.Function.Name,
		"result_len", len(result),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return result
}

// finish logs and persists the invocation, then hands res back.
func (r *Runner) finish(rn *run, res TurnResult, runErr error) (TurnResult, error) {
	now := time.Now()
	elapsed := now.Sub(rn.started)

	r.logger.Info("handler completed",
		"run_id", rn.id,
		"handler", rn.handler.Name,
		"status", res.Status,
		"turns", rn.turns,
		"input_tokens", rn.inTokens,
		"output_tokens", rn.outTokens,
		"elapsed", elapsed.Round(time.Millisecond),
	)

	if r.store == nil {
		return res, nil
	}

	rec := &RunRecord{
		ID:           rn.id,
		UserID:       rn.userID,
		Handler:      rn.handler.Name,
		Model:        rn.handler.Model,
		Status:       res.Status,
		Turns:        rn.turns,
		MaxTurns:     rn.handler.MaxTurns,
		InputTokens:  rn.inTokens,
		OutputTokens: rn.outTokens,
		ToolsCalled:  rn.tools,
		Input:        rn.input,
		Answer:       truncate(res.Answer, 1000),
		StartedAt:    rn.started,
		CompletedAt:  now,
		DurationMs:   elapsed.Milliseconds(),
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	if err := r.store.Record(rec); err != nil {
		r.logger.Warn("failed to persist handler run",
			"run_id", rn.id,
			"error", err,
		)
	}
	return res, nil
}

func lastUserText(msgs []llm.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == llm.RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}

// truncate shortens s to at most maxLen runes, adding "..." if cut.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return strings.TrimSpace(string(r[:maxLen])) + "..."
}
