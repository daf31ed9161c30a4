package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nugget/aline-bot/internal/capability"
	"github.com/nugget/aline-bot/internal/guardrail"
	"github.com/nugget/aline-bot/internal/handler"
	"github.com/nugget/aline-bot/internal/llm"
	"github.com/nugget/aline-bot/internal/memory"
	"github.com/nugget/aline-bot/internal/prompts"
	"github.com/nugget/aline-bot/internal/tools"
)

const (
	headModel     = "gemini/gemini-2.0-flash"
	handlerModel  = "openai/gpt-4o-mini"
	guardModel    = "openai/gpt-4.1-nano"
	weatherAnswer = "서울은 맑음, 21도입니다."
	subwayDraft   = "강남역 2호선 9999열차가 1분 후 도착합니다."
	subwayRefusal = "실시간 도착 정보를 확인하지 못했습니다. 잠시 후 다시 시도해 주세요."
	newsRefusal   = "특정 날짜의 뉴스는 제공하지 않습니다. 최신 뉴스만 요청해 주세요."
)

// world answers like a cooperative model: the head forwards the user's
// question to the matching agent, specialists call their one tool, and
// classifiers judge by keywords.
type world struct {
	mu        sync.Mutex
	headCalls [][]llm.Message
	toolRuns  map[string]int
	// headLoops makes the head keep calling tools forever.
	headLoops bool
	// subwayLoops makes the subway specialist never finish.
	subwayLoops bool
}

func newWorld() *world {
	return &world{toolRuns: make(map[string]int)}
}

func call(name string, args map[string]any) *llm.ChatResponse {
	tc := llm.ToolCall{ID: "call_" + name}
	tc.Function.Name = name
	tc.Function.Arguments = args
	return &llm.ChatResponse{Message: llm.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{tc}}}
}

func text(s string) *llm.ChatResponse {
	return &llm.ChatResponse{Message: llm.Message{Role: llm.RoleAssistant, Content: s}}
}

func (w *world) Chat(_ context.Context, model string, msgs []llm.Message, _ []map[string]any) (*llm.ChatResponse, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	system := msgs[0].Content
	last := msgs[len(msgs)-1]

	switch {
	case strings.HasPrefix(system, prompts.HeadInstructions):
		if model != headModel {
			return nil, fmt.Errorf("head called with model %q", model)
		}
		w.headCalls = append(w.headCalls, msgs)
		if last.Role == llm.RoleTool && !w.headLoops {
			return text(last.Content), nil
		}
		q := lastUser(msgs)
		switch {
		case strings.Contains(q, "사용법"):
			return call("help", nil), nil
		case strings.Contains(q, "뉴스"):
			return call("news_agent", map[string]any{"input": q}), nil
		case strings.Contains(q, "도착"):
			return call("subway_agent", map[string]any{"input": q}), nil
		default:
			return call("weather_agent", map[string]any{"input": q}), nil
		}

	case strings.HasPrefix(system, prompts.WeatherInstructions):
		if last.Role == llm.RoleTool {
			return text(weatherAnswer), nil
		}
		return call("get_weather_with_time", map[string]any{"lat": 37.56, "lon": 126.97, "target_datetime": "present"}), nil

	case strings.HasPrefix(system, prompts.SubwayInstructions):
		if last.Role == llm.RoleTool && !w.subwayLoops {
			return text(subwayDraft), nil
		}
		return call("get_subway_arrival_info", map[string]any{"station": "강남"}), nil

	case strings.HasPrefix(system, prompts.NewsInstructions(capability.SectionNames())):
		if last.Role == llm.RoleTool {
			return text("1. 최신 경제 기사"), nil
		}
		return call("get_news_with_section", map[string]any{"section": "economy"}), nil
	}
	return nil, errors.New("world: unexpected system prompt")
}

func (w *world) ChatSchema(_ context.Context, _ string, msgs []llm.Message, schema *llm.Schema) (*llm.ChatResponse, error) {
	input := msgs[len(msgs)-1].Content
	switch schema.Name {
	case "korea_city":
		return text(`{"is_korea_city": true, "reason": ""}`), nil
	case "news_request":
		if strings.Contains(input, "어제") {
			return text(fmt.Sprintf(`{"result": %q, "answer": %q}`, guardrail.NewsSpecificTime, newsRefusal)), nil
		}
		return text(fmt.Sprintf(`{"result": %q, "answer": ""}`, guardrail.NewsVerified)), nil
	case "transit_hallucination":
		if strings.Contains(input, "9999") {
			return text(fmt.Sprintf(`{"is_hallucination": true, "answer": %q}`, subwayRefusal)), nil
		}
		return text(`{"is_hallucination": false, "answer": ""}`), nil
	}
	return nil, fmt.Errorf("world: unexpected schema %q", schema.Name)
}

func (w *world) Ping(context.Context) error { return nil }

func (w *world) tool(name, result string) *tools.Tool {
	return &tools.Tool{
		Name: name,
		Handler: func(context.Context, map[string]any) (string, error) {
			w.mu.Lock()
			defer w.mu.Unlock()
			w.toolRuns[name]++
			return result, nil
		},
	}
}

func (w *world) runs(name string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.toolRuns[name]
}

func lastUser(msgs []llm.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == llm.RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustHandler(t *testing.T, def handler.Handler) *handler.Handler {
	t.Helper()
	def.Model = handlerModel
	def.MaxTurns = DefaultHandlerMaxTurns
	h, err := handler.New(def)
	if err != nil {
		t.Fatalf("handler.New(%s): %v", def.Name, err)
	}
	return h
}

func newTestRouter(t *testing.T, w *world, maxTurns int) *Router {
	t.Helper()
	weather := mustHandler(t, handler.Handler{
		Name:            "weather",
		Instructions:    prompts.WeatherInstructions,
		Tools:           tools.NewRegistry(w.tool("get_weather_with_time", `{"summary":"맑음","temp":21}`)),
		InputGuardrails: []guardrail.Guardrail{guardrail.KoreaCity(w, guardModel)},
	})
	news := mustHandler(t, handler.Handler{
		Name:            "news",
		Instructions:    prompts.NewsInstructions(capability.SectionNames()),
		Tools:           tools.NewRegistry(w.tool("get_news_with_section", `{"articles":[]}`)),
		InputGuardrails: []guardrail.Guardrail{guardrail.NewsRequest(w, guardModel)},
	})

	runner := handler.NewRunner(w, testLogger())
	r, err := New(runner, Options{Model: headModel, MaxTurns: maxTurns}, testLogger(), weather, news)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func userTurn(s string) []memory.Message {
	return []memory.Message{{Role: llm.RoleUser, Content: s, Timestamp: time.Now()}}
}

func TestRoute_WeatherSuccess(t *testing.T) {
	w := newWorld()
	r := newTestRouter(t, w, 3)

	res, err := r.Route(context.Background(), userTurn("서울 날씨 어때?"), UserContext{UserID: "U1"})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if res.Status != handler.Success {
		t.Errorf("Status = %q, want %q", res.Status, handler.Success)
	}
	if res.Answer != weatherAnswer {
		t.Errorf("Answer = %q, want %q", res.Answer, weatherAnswer)
	}
	if got := w.runs("get_weather_with_time"); got != 1 {
		t.Errorf("weather tool runs = %d, want 1", got)
	}
}

func TestRoute_NewsInputRejected(t *testing.T) {
	w := newWorld()
	r := newTestRouter(t, w, 3)

	res, err := r.Route(context.Background(), userTurn("어제 뉴스 알려줘"), UserContext{UserID: "U1"})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if res.Status != handler.InputRejected {
		t.Errorf("Status = %q, want %q", res.Status, handler.InputRejected)
	}
	if res.Answer != newsRefusal {
		t.Errorf("Answer = %q, want %q", res.Answer, newsRefusal)
	}
	if got := w.runs("get_news_with_section"); got != 0 {
		t.Errorf("news tool runs = %d, want 0 after input trip", got)
	}
}

func TestRoute_HelpReturnsGuide(t *testing.T) {
	w := newWorld()
	r := newTestRouter(t, w, 3)

	res, err := r.Route(context.Background(), userTurn("사용법 알려줘"), UserContext{UserID: "U1"})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if res.Status != handler.Success || res.Answer != capability.Guide() {
		t.Errorf("Route = %+v, want guide text", res)
	}
}

func TestRoute_TurnLimit(t *testing.T) {
	w := newWorld()
	w.headLoops = true
	r := newTestRouter(t, w, 2)

	res, err := r.Route(context.Background(), userTurn("서울 날씨 어때?"), UserContext{UserID: "U1"})
	if err != nil {
		t.Fatalf("Route error = %v, want nil on turn limit", err)
	}
	if res.Status != handler.TurnLimitExceeded {
		t.Errorf("Status = %q, want %q", res.Status, handler.TurnLimitExceeded)
	}
	if res.Answer != handler.DefaultTurnLimitMessage {
		t.Errorf("Answer = %q, want %q", res.Answer, handler.DefaultTurnLimitMessage)
	}
	if len(w.headCalls) != 2 {
		t.Errorf("head calls = %d, want 2", len(w.headCalls))
	}
}

// newSubwayRouter adds a subway specialist to the test table.
func newSubwayRouter(t *testing.T, w *world) *Router {
	t.Helper()
	subway := mustHandler(t, handler.Handler{
		Name:             "subway",
		Instructions:     prompts.SubwayInstructions,
		Tools:            tools.NewRegistry(w.tool("get_subway_arrival_info", `{"arrivals":[]}`)),
		OutputGuardrails: []guardrail.Guardrail{guardrail.TransitHallucination(w, guardModel)},
	})
	r, err := New(handler.NewRunner(w, testLogger()), Options{Model: headModel}, testLogger(), subway)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func TestRoute_SubwayOutputRejectedHidesDraft(t *testing.T) {
	w := newWorld()
	r := newSubwayRouter(t, w)

	res, err := r.Route(context.Background(), userTurn("강남역 열차 도착 정보"), UserContext{UserID: "U1"})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if res.Status != handler.OutputRejected {
		t.Errorf("Status = %q, want %q", res.Status, handler.OutputRejected)
	}
	if res.Answer != subwayRefusal {
		t.Errorf("Answer = %q, want %q", res.Answer, subwayRefusal)
	}
	if strings.Contains(res.Answer, "9999") {
		t.Errorf("draft leaked into answer: %q", res.Answer)
	}
}

func TestRoute_SubwayTurnLimit(t *testing.T) {
	w := newWorld()
	w.subwayLoops = true
	r := newSubwayRouter(t, w)

	res, err := r.Route(context.Background(), userTurn("강남역 열차 도착 정보"), UserContext{UserID: "U1"})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if res.Status != handler.TurnLimitExceeded || res.Answer != handler.DefaultTurnLimitMessage {
		t.Errorf("Route = %+v, want specialist turn limit", res)
	}
	if got := w.runs("get_subway_arrival_info"); got != DefaultHandlerMaxTurns {
		t.Errorf("arrival tool runs = %d, want %d", got, DefaultHandlerMaxTurns)
	}
}

func TestRoute_MemoAndHistory(t *testing.T) {
	w := newWorld()
	r := newTestRouter(t, w, 3)

	history := []memory.Message{
		{Role: llm.RoleUser, Content: "안녕"},
		{Role: llm.RoleAssistant, Content: "안녕하세요"},
		{Role: llm.RoleUser, Content: "우리 동네 날씨"},
	}
	if _, err := r.Route(context.Background(), history, UserContext{UserID: "U1", Memo: "강서구 거주"}); err != nil {
		t.Fatalf("Route: %v", err)
	}

	first := w.headCalls[0]
	// system prompt, memo, then the three history messages
	if len(first) != 5 {
		t.Fatalf("head input length = %d, want 5", len(first))
	}
	if first[1].Role != llm.RoleSystem || first[1].Content != "사용자 정보: 강서구 거주" {
		t.Errorf("memo message = %+v", first[1])
	}
	if first[4].Content != "우리 동네 날씨" {
		t.Errorf("last input = %q", first[4].Content)
	}
}

func TestDispatch_BuildsScheduledInput(t *testing.T) {
	w := newWorld()
	r := newTestRouter(t, w, 3)

	res, err := r.Dispatch(context.Background(), "U1", []string{"weather", "news"}, "오늘 날씨")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Status != handler.Success {
		t.Errorf("Status = %q", res.Status)
	}
	want := "agent_list: [weather, news]\nquery: 오늘 날씨"
	if got := lastUser(w.headCalls[0]); got != want {
		t.Errorf("scheduled input = %q, want %q", got, want)
	}
}

func TestHandle(t *testing.T) {
	w := newWorld()
	r := newTestRouter(t, w, 3)
	ctx := context.Background()

	res, err := r.Handle(ctx, "help", "")
	if err != nil || res.Answer != capability.Guide() {
		t.Errorf("Handle(help) = %+v, %v", res, err)
	}

	res, err = r.Handle(ctx, "news", "어제 뉴스")
	if err != nil {
		t.Fatalf("Handle(news): %v", err)
	}
	if res.Status != handler.InputRejected {
		t.Errorf("Handle(news) status = %q, want %q", res.Status, handler.InputRejected)
	}
	if len(w.headCalls) != 0 {
		t.Errorf("head calls = %d, want 0", len(w.headCalls))
	}

	if _, err := r.Handle(ctx, "subway", "강남역"); !errors.Is(err, ErrUnknownHandler) {
		t.Errorf("Handle(subway) err = %v, want ErrUnknownHandler", err)
	}
}

func TestNew_RejectsUnknownHandler(t *testing.T) {
	w := newWorld()
	lottery := mustHandler(t, handler.Handler{Name: "lottery"})
	_, err := New(handler.NewRunner(w, testLogger()), Options{Model: headModel}, testLogger(), lottery)
	if !errors.Is(err, ErrUnknownHandler) {
		t.Errorf("New err = %v, want ErrUnknownHandler", err)
	}
}

func TestNew_RejectsDuplicate(t *testing.T) {
	w := newWorld()
	a := mustHandler(t, handler.Handler{Name: "weather"})
	b := mustHandler(t, handler.Handler{Name: "weather"})
	if _, err := New(handler.NewRunner(w, testLogger()), Options{Model: headModel}, testLogger(), a, b); err == nil {
		t.Error("New with duplicate handler should error")
	}
}

func TestHandlers_FromCapabilities(t *testing.T) {
	w := newWorld()

	defs, err := Handlers(w, Models{Handler: handlerModel, Guardrail: guardModel}, Capabilities{})
	if err != nil {
		t.Fatalf("Handlers: %v", err)
	}
	if len(defs) != 0 {
		t.Errorf("handlers with no capabilities = %d, want 0", len(defs))
	}

	caps := Capabilities{
		Stations: capability.NewStations([]string{"강남", "서울역"}, testLogger()),
		Transit:  capability.NewTransit("http://127.0.0.1:1", "key", time.Second, testLogger()),
	}
	defs, err = Handlers(w, Models{Handler: handlerModel, Guardrail: guardModel}, caps)
	if err != nil {
		t.Fatalf("Handlers: %v", err)
	}
	if len(defs) != 1 || defs[0].Name != "subway" {
		t.Fatalf("handlers = %v, want [subway]", defs)
	}
	if len(defs[0].OutputGuardrails) != 1 || defs[0].Tools.Len() != 2 {
		t.Errorf("subway handler = %+v", defs[0])
	}

	r, err := New(handler.NewRunner(w, testLogger()), Options{Model: headModel}, testLogger(), defs...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := strings.Join(r.Handlers(), ","); got != "subway" {
		t.Errorf("Handlers() = %q, want subway", got)
	}
}
