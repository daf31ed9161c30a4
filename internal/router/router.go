// Package router resolves one conversational turn. A head handler sees
// every specialist handler as a tool and decides which to call.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nugget/aline-bot/internal/capability"
	"github.com/nugget/aline-bot/internal/handler"
	"github.com/nugget/aline-bot/internal/llm"
	"github.com/nugget/aline-bot/internal/memory"
	"github.com/nugget/aline-bot/internal/prompts"
	"github.com/nugget/aline-bot/internal/search"
	"github.com/nugget/aline-bot/internal/tools"
)

// HelpName is the built-in handler that returns the usage guide.
const HelpName = "help"

// DefaultMaxTurns bounds the head loop when Options leaves it unset.
const DefaultMaxTurns = 3

// ErrUnknownHandler is returned for a name outside the handler table.
var ErrUnknownHandler = errors.New("unknown handler")

// entry is one row of the closed handler table.
type entry struct {
	tool        string
	description string
}

// table lists every routable handler. help is answered without a
// model call and has no row here.
var table = map[string]entry{
	"weather":  {tool: "weather_agent", description: prompts.WeatherAgentDescription},
	"news":     {tool: "news_agent", description: prompts.NewsAgentDescription},
	"subway":   {tool: "subway_agent", description: prompts.SubwayAgentDescription},
	"schedule": {tool: "schedule_agent", description: prompts.ScheduleAgentDescription},
}

// Names returns the routable handler names in a fixed order.
func Names() []string {
	return []string{"weather", "news", "subway", "schedule", HelpName}
}

// UserContext is what the router knows about the user beyond the
// conversation itself.
type UserContext struct {
	UserID string
	Memo   string
}

// Options configures the head handler.
type Options struct {
	Model    string
	MaxTurns int
	// Search enables the web_search tool when it has providers.
	Search *search.Manager
}

// Router owns the head handler and the specialist handlers it calls.
type Router struct {
	runner   *handler.Runner
	head     *handler.Handler
	handlers map[string]*handler.Handler
	logger   *slog.Logger
}

// New builds a router over defs. Every definition must be named after a
// row of the handler table, and each name may appear once.
func New(runner *handler.Runner, opts Options, logger *slog.Logger, defs ...*handler.Handler) (*Router, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxTurns == 0 {
		opts.MaxTurns = DefaultMaxTurns
	}

	r := &Router{
		runner:   runner,
		handlers: make(map[string]*handler.Handler, len(defs)),
		logger:   logger,
	}

	reg := tools.NewRegistry()
	for _, h := range defs {
		e, ok := table[h.Name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownHandler, h.Name)
		}
		if _, dup := r.handlers[h.Name]; dup {
			return nil, fmt.Errorf("duplicate handler %q", h.Name)
		}
		r.handlers[h.Name] = h
		reg.Register(runner.Tool(h, e.tool, e.description))
	}
	if opts.Search != nil && opts.Search.Configured() {
		reg.Register(search.Tool(opts.Search))
	}
	reg.Register(helpTool())

	head, err := handler.New(handler.Handler{
		Name:         "head",
		Instructions: prompts.HeadInstructions,
		Model:        opts.Model,
		Tools:        reg,
		MaxTurns:     opts.MaxTurns,
	})
	if err != nil {
		return nil, fmt.Errorf("head handler: %w", err)
	}
	r.head = head
	return r, nil
}

// helpTool wraps the guide tool so its text becomes the turn's answer
// when it is the last thing the head called.
func helpTool() *tools.Tool {
	t := capability.GuideTool()
	t.Description = prompts.HelpToolDescription
	inner := t.Handler
	t.Handler = func(ctx context.Context, args map[string]any) (string, error) {
		text, err := inner(ctx, args)
		if err != nil {
			return "", err
		}
		handler.Record(ctx, HelpName, handler.TurnResult{Answer: text, Status: handler.Success})
		return text, nil
	}
	return t
}

// Route resolves one turn. history ends with the user's new message.
//
// When the head's last tool call was help, or a specialist that did not
// succeed, that call's result is the turn's result: the guide text or
// the specialist's refusal reaches the user unchanged. Errors are
// returned only for cancellation and head model faults.
func (r *Router) Route(ctx context.Context, history []memory.Message, uc UserContext) (handler.TurnResult, error) {
	if uc.UserID != "" {
		ctx = tools.WithUserID(ctx, uc.UserID)
	}
	ctx, trace := handler.WithTrace(ctx)

	input := make([]llm.Message, 0, len(history)+1)
	if memo := strings.TrimSpace(uc.Memo); memo != "" {
		input = append(input, llm.Message{Role: llm.RoleSystem, Content: "사용자 정보: " + memo})
	}
	input = append(input, memory.ToLLM(history)...)

	res, err := r.runner.Run(ctx, r.head, input)
	if err != nil {
		return handler.TurnResult{}, err
	}
	if res.Status != handler.Success {
		return res, nil
	}
	if last, ok := trace.Last(); ok && (last.Tool == HelpName || last.Result.Status != handler.Success) {
		r.logger.Debug("surfacing handler result",
			"user_id", uc.UserID,
			"tool", last.Tool,
			"status", last.Result.Status,
		)
		return last.Result, nil
	}
	return res, nil
}

// ScheduledInput is the synthetic turn a job sends through the head.
func ScheduledInput(handlers []string, query string) string {
	return fmt.Sprintf("agent_list: [%s]\nquery: %s", strings.Join(handlers, ", "), query)
}

// Dispatch runs a scheduled job's turn for userID. It satisfies the
// scheduler's Dispatcher.
func (r *Router) Dispatch(ctx context.Context, userID string, handlers []string, query string) (handler.TurnResult, error) {
	msg := memory.Message{Role: llm.RoleUser, Content: ScheduledInput(handlers, query)}
	return r.Route(ctx, []memory.Message{msg}, UserContext{UserID: userID})
}

// Handle runs one handler directly, bypassing the head.
func (r *Router) Handle(ctx context.Context, name, input string) (handler.TurnResult, error) {
	if name == HelpName {
		return handler.TurnResult{Answer: capability.Guide(), Status: handler.Success}, nil
	}
	h, ok := r.handlers[name]
	if !ok {
		return handler.TurnResult{}, fmt.Errorf("%w: %q", ErrUnknownHandler, name)
	}
	return r.runner.Run(ctx, h, []llm.Message{{Role: llm.RoleUser, Content: input}})
}

// Handlers returns the names of the configured specialist handlers.
func (r *Router) Handlers() []string {
	var out []string
	for _, n := range Names() {
		if _, ok := r.handlers[n]; ok {
			out = append(out, n)
		}
	}
	return out
}
