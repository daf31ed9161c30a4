package extractor

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nugget/aline-bot/internal/llm"
	"github.com/nugget/aline-bot/internal/scheduler"
	"github.com/nugget/aline-bot/internal/tools"
	"github.com/nugget/aline-bot/internal/users"
)

// scriptedClient answers ChatSchema with schemaBody and Chat with chatBody.
type scriptedClient struct {
	mu         sync.Mutex
	schemaBody string
	chatBody   string
	calls      int
	inputs     []string
}

func (c *scriptedClient) Chat(_ context.Context, _ string, msgs []llm.Message, _ []map[string]any) (*llm.ChatResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.inputs = append(c.inputs, msgs[len(msgs)-1].Content)
	return &llm.ChatResponse{Message: llm.Message{Role: llm.RoleAssistant, Content: c.chatBody}}, nil
}

func (c *scriptedClient) ChatSchema(_ context.Context, _ string, msgs []llm.Message, _ *llm.Schema) (*llm.ChatResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.inputs = append(c.inputs, msgs[len(msgs)-1].Content)
	return &llm.ChatResponse{Message: llm.Message{Role: llm.RoleAssistant, Content: c.schemaBody}}, nil
}

func (c *scriptedClient) Ping(context.Context) error { return nil }

type fixture struct {
	jobs  *scheduler.Store
	users *users.Store
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "aline.db")+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	js, err := scheduler.NewStore(db, time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	us, err := users.NewStore(db)
	if err != nil {
		t.Fatal(err)
	}
	return fixture{jobs: js, users: us}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestExtract_Defaults(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantDays string
		wantTime string
		wantOnce bool
		wantH    []string
	}{
		{
			name:     "weekday phrase, no time",
			body:     `{"job_name":"출근 브리핑","day_of_week":["평일"],"is_once":false,"query":"날씨와 뉴스","agent_list":["weather","news"]}`,
			wantDays: "mon,tue,wed,thu,fri",
			wantTime: "09:00",
			wantH:    []string{"weather", "news"},
		},
		{
			name:     "weekend with time",
			body:     `{"job_name":"주말","day_of_week":["sat","sun"],"time_hour":10,"time_minute":30,"is_once":false,"query":"q","agent_list":["news"]}`,
			wantDays: "sat,sun",
			wantTime: "10:30",
			wantH:    []string{"news"},
		},
		{
			name:     "daily with agent suffix and unknown handler",
			body:     `{"job_name":"","day_of_week":["매일"],"time_hour":7,"is_once":false,"query":"q","agent_list":["subway_agent","lottery","subway"]}`,
			wantDays: "mon,tue,wed,thu,fri,sat,sun",
			wantTime: "07:00",
			wantH:    []string{"subway"},
		},
		{
			name:     "overlapping days merged in order",
			body:     `{"job_name":"중복","day_of_week":["fri","mon-wed","tue","someday"],"time_hour":8,"time_minute":0,"is_once":false,"query":"q","agent_list":["news"]}`,
			wantDays: "mon,tue,wed,fri",
			wantTime: "08:00",
			wantH:    []string{"news"},
		},
		{
			name:     "once",
			body:     `{"job_name":"한번","day_of_week":["wed"],"time_hour":9,"time_minute":0,"is_once":true,"query":"q","agent_list":["web_search"]}`,
			wantDays: "",
			wantTime: "09:00",
			wantOnce: true,
			wantH:    []string{"web_search"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ex := New(&scriptedClient{schemaBody: tt.body}, "openai/gpt-4o-mini", f.jobs, testLogger())

			job, err := ex.Extract(context.Background(), "U1", "요청")
			if err != nil {
				t.Fatalf("Extract: %v", err)
			}
			if job.Days.String() != tt.wantDays {
				t.Errorf("Days = %q, want %q", job.Days.String(), tt.wantDays)
			}
			if job.TimeOfDay() != tt.wantTime {
				t.Errorf("time = %q, want %q", job.TimeOfDay(), tt.wantTime)
			}
			if job.Once != tt.wantOnce {
				t.Errorf("Once = %v, want %v", job.Once, tt.wantOnce)
			}
			if strings.Join(job.Handlers, ",") != strings.Join(tt.wantH, ",") {
				t.Errorf("Handlers = %v, want %v", job.Handlers, tt.wantH)
			}
			if job.Name == "" {
				t.Error("Name should never be empty")
			}
		})
	}
}

func TestExtract_NoHandlers(t *testing.T) {
	f := newFixture(t)
	body := `{"job_name":"x","day_of_week":["mon"],"time_hour":9,"time_minute":0,"is_once":false,"query":"q","agent_list":["lottery"]}`
	ex := New(&scriptedClient{schemaBody: body}, "m", f.jobs, testLogger())
	if _, err := ex.Extract(context.Background(), "U1", "로또 번호 알려줘"); !errors.Is(err, ErrNoHandlers) {
		t.Errorf("err = %v, want ErrNoHandlers", err)
	}
}

func TestExtract_OneJobPerUserBeforeModelCall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	existing := &scheduler.Job{UserID: "U1", Days: scheduler.Days{time.Monday}, Hour: 9, Handlers: []string{"news"}, Query: "q"}
	if err := f.jobs.Upsert(ctx, existing); err != nil {
		t.Fatal(err)
	}

	client := &scriptedClient{schemaBody: `{}`}
	ex := New(client, "m", f.jobs, testLogger())
	_, err := ex.Extract(ctx, "U1", "매일 뉴스")
	if !errors.Is(err, ErrJobExists) {
		t.Fatalf("err = %v, want ErrJobExists", err)
	}
	if err.Error() != "스케줄은 1개 이상 일 수 없습니다." {
		t.Errorf("message = %q", err.Error())
	}
	if client.calls != 0 {
		t.Errorf("model calls = %d, want 0", client.calls)
	}
}

func TestCreate_Persists(t *testing.T) {
	f := newFixture(t)
	body := `{"job_name":"아침","day_of_week":["mon-fri"],"time_hour":8,"time_minute":15,"is_once":false,"query":"오늘 날씨","agent_list":["weather"]}`
	ex := New(&scriptedClient{schemaBody: body}, "m", f.jobs, testLogger())

	job, err := ex.Create(context.Background(), "U1", "평일 8시 15분에 날씨 알려줘")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := f.jobs.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Hour != 8 || got.Minute != 15 || got.Query != "오늘 날씨" {
		t.Errorf("stored job = %+v", got)
	}
}

func toolByName(t *testing.T, ts []*tools.Tool, name string) *tools.Tool {
	t.Helper()
	for _, tl := range ts {
		if tl.Name == name {
			return tl
		}
	}
	t.Fatalf("tool %q not found", name)
	return nil
}

func TestScheduleTools(t *testing.T) {
	f := newFixture(t)
	body := `{"job_name":"아침","day_of_week":["mon","wed","fri"],"time_hour":9,"time_minute":0,"is_once":false,"query":"뉴스","agent_list":["news"]}`
	client := &scriptedClient{schemaBody: body}
	ex := New(client, "m", f.jobs, testLogger())
	ts := Tools(ex, f.users)
	ctx := tools.WithUserID(context.Background(), "U1")

	list := toolByName(t, ts, "get_schedule_list")
	if got, _ := list.Handler(ctx, nil); got != NoSchedules {
		t.Errorf("empty list = %q", got)
	}

	set := toolByName(t, ts, "set_schedule")
	got, err := set.Handler(ctx, map[string]any{"request": "월수금 9시에 뉴스"})
	if err != nil {
		t.Fatalf("set_schedule: %v", err)
	}
	if !strings.Contains(got, "알람 요일: 월, 수, 금") || !strings.Contains(got, "[news]") {
		t.Errorf("set_schedule = %q", got)
	}
	got, _ = set.Handler(ctx, map[string]any{"request": "또 하나"})
	if got != "스케줄은 1개 이상 일 수 없습니다." {
		t.Errorf("second set_schedule = %q", got)
	}

	jobs, _ := f.jobs.ListByUser(context.Background(), "U1")
	if len(jobs) != 1 {
		t.Fatalf("jobs = %d, want 1", len(jobs))
	}

	del := toolByName(t, ts, "delete_schedule")
	other := tools.WithUserID(context.Background(), "U2")
	if got, _ := del.Handler(other, map[string]any{"schedule_id": jobs[0].ID}); got != DeleteFailed {
		t.Errorf("delete by other user = %q, want failure", got)
	}
	if got, _ := del.Handler(ctx, map[string]any{"schedule_id": jobs[0].ID}); got != DeleteSucceeded {
		t.Errorf("delete = %q", got)
	}
	if got, _ := del.Handler(ctx, map[string]any{"schedule_id": jobs[0].ID}); got != DeleteFailed {
		t.Errorf("delete again = %q", got)
	}

	if _, err := set.Handler(context.Background(), map[string]any{"request": "x"}); err == nil {
		t.Error("set_schedule without user should error")
	}
}

func TestMemoTools(t *testing.T) {
	f := newFixture(t)
	client := &scriptedClient{chatBody: "  강서구 거주, 우장산역 이용  "}
	ex := New(client, "m", f.jobs, testLogger())
	ts := Tools(ex, f.users)
	ctx := tools.WithUserID(context.Background(), "U1")

	get := toolByName(t, ts, "get_user_info")
	remember := toolByName(t, ts, "remember_user_info")

	if got, _ := get.Handler(ctx, nil); got != MemoLookupFailed {
		t.Errorf("get unknown user = %q", got)
	}
	if _, err := f.users.Touch(context.Background(), "U1"); err != nil {
		t.Fatal(err)
	}
	if got, _ := get.Handler(ctx, nil); got != NoMemo {
		t.Errorf("get empty memo = %q", got)
	}

	got, err := remember.Handler(ctx, map[string]any{"user_extra_info": "우장산역 이용"})
	if err != nil {
		t.Fatal(err)
	}
	if got != MemoUpdateSucceeded {
		t.Errorf("remember = %q", got)
	}
	if !strings.Contains(client.inputs[0], "기존 유저 정보: 없음") {
		t.Errorf("merge input = %q", client.inputs[0])
	}
	if got, _ := get.Handler(ctx, nil); got != "강서구 거주, 우장산역 이용" {
		t.Errorf("memo = %q", got)
	}
}

func TestDescribe(t *testing.T) {
	j := &scheduler.Job{Handlers: []string{"weather", "news"}, Hour: 7, Minute: 5,
		Days: scheduler.Days{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}}
	want := "- 에이전트 목록: [weather, news]\n- 알람 시간: 07:05\n- 알람 요일: 평일"
	if got := Describe(j); got != want {
		t.Errorf("Describe = %q, want %q", got, want)
	}
	j.Once = true
	if !strings.HasSuffix(Describe(j), "1회") {
		t.Errorf("once Describe = %q", Describe(j))
	}
}
