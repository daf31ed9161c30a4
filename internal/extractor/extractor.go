// Package extractor turns a natural-language scheduling request into a
// stored job, and provides the schedule handler's tools.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/nugget/aline-bot/internal/llm"
	"github.com/nugget/aline-bot/internal/prompts"
	"github.com/nugget/aline-bot/internal/scheduler"
)

// Extraction errors. ErrJobExists carries the user-facing text.
var (
	ErrJobExists  = errors.New("스케줄은 1개 이상 일 수 없습니다.")
	ErrNoHandlers = errors.New("no schedulable handlers in request")
)

// Default fire time when the request names none.
const (
	DefaultHour   = 9
	DefaultMinute = 0
)

// JobStore is the subset of the job store the extractor needs.
type JobStore interface {
	CountByUser(ctx context.Context, userID string) (int, error)
	Upsert(ctx context.Context, j *scheduler.Job) error
	ListByUser(ctx context.Context, userID string) ([]*scheduler.Job, error)
	Get(ctx context.Context, id string) (*scheduler.Job, error)
	Delete(ctx context.Context, id string) error
}

// Extractor builds jobs from free text with a structured completion.
type Extractor struct {
	client llm.Client
	model  string
	store  JobStore
	logger *slog.Logger
}

// New creates an extractor.
func New(client llm.Client, model string, store JobStore, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{client: client, model: model, store: store, logger: logger}
}

// jobSpec mirrors the schema the model fills in.
type jobSpec struct {
	JobName    string   `json:"job_name"`
	DayOfWeek  []string `json:"day_of_week"`
	TimeHour   *int     `json:"time_hour"`
	TimeMinute *int     `json:"time_minute"`
	IsOnce     bool     `json:"is_once"`
	Query      string   `json:"query"`
	AgentList  []string `json:"agent_list"`
}

var jobSchema = &llm.Schema{
	Name: "schedule_job",
	Type: "object",
	Properties: map[string]llm.SchemaProperty{
		"job_name":    {Type: "string", Description: "스케줄 이름"},
		"day_of_week": {Type: "array", Items: &llm.SchemaProperty{Type: "string"}, Description: "mon, tue, wed, thu, fri, sat, sun"},
		"time_hour":   {Type: "integer", Description: "0-23"},
		"time_minute": {Type: "integer", Description: "0-59"},
		"is_once":     {Type: "boolean"},
		"query":       {Type: "string", Description: "실행 시 에이전트에게 보낼 질문"},
		"agent_list":  {Type: "array", Items: &llm.SchemaProperty{Type: "string", Enum: scheduler.SchedulableHandlers}},
	},
	Required: []string{"job_name", "day_of_week", "time_hour", "time_minute", "is_once", "query", "agent_list"},
}

// Extract parses text into a job for userID without storing it. Users
// are limited to one job; the check runs before any model call.
func (e *Extractor) Extract(ctx context.Context, userID, text string) (scheduler.Job, error) {
	n, err := e.store.CountByUser(ctx, userID)
	if err != nil {
		return scheduler.Job{}, err
	}
	if n > 0 {
		return scheduler.Job{}, ErrJobExists
	}

	var spec jobSpec
	instructions := prompts.ExtractorInstructions(scheduler.SchedulableHandlers)
	if err := llm.CompleteJSON(ctx, e.client, e.model, instructions, text, jobSchema, &spec); err != nil {
		return scheduler.Job{}, fmt.Errorf("extract job: %w", err)
	}
	return e.build(userID, text, spec)
}

func (e *Extractor) build(userID, text string, spec jobSpec) (scheduler.Job, error) {
	job := scheduler.Job{
		UserID: userID,
		Name:   strings.TrimSpace(spec.JobName),
		Once:   spec.IsOnce,
		Hour:   DefaultHour,
		Minute: DefaultMinute,
		Query:  strings.TrimSpace(spec.Query),
	}
	if spec.TimeHour != nil {
		job.Hour = *spec.TimeHour
		job.Minute = 0
	}
	if spec.TimeMinute != nil {
		job.Minute = *spec.TimeMinute
	}
	if job.Query == "" {
		job.Query = text
	}

	for _, raw := range spec.DayOfWeek {
		d, err := scheduler.ParseDays(raw)
		if err != nil {
			e.logger.Warn("ignoring unknown day in extracted job", "day", raw, "error", err)
			continue
		}
		job.Days = append(job.Days, d...)
	}
	job.Days = job.Days.Normalize()
	if job.Once {
		job.Days = nil
	}

	job.Handlers = filterHandlers(spec.AgentList)
	if len(job.Handlers) == 0 {
		return scheduler.Job{}, ErrNoHandlers
	}
	if job.Name == "" {
		job.Name = strings.Join(job.Handlers, "+") + " " + job.TimeOfDay()
	}

	if err := job.Validate(); err != nil {
		return scheduler.Job{}, err
	}
	return job, nil
}

// filterHandlers keeps known handler names in first-seen order.
// "weather_agent" style names are accepted.
func filterHandlers(names []string) []string {
	var out []string
	for _, n := range names {
		n = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(n)), "_agent")
		if scheduler.IsSchedulable(n) && !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	return out
}

// Create extracts and stores a job.
func (e *Extractor) Create(ctx context.Context, userID, text string) (*scheduler.Job, error) {
	job, err := e.Extract(ctx, userID, text)
	if err != nil {
		return nil, err
	}
	if err := e.store.Upsert(ctx, &job); err != nil {
		return nil, err
	}
	e.logger.Info("job created",
		"job_id", job.ID,
		"user_id", userID,
		"handlers", job.Handlers,
		"time", job.TimeOfDay(),
		"days", job.Days.String(),
		"once", job.Once,
	)
	return &job, nil
}

// mergeMemo folds newInfo into the stored memo.
func (e *Extractor) mergeMemo(ctx context.Context, old, newInfo string) (string, error) {
	if strings.TrimSpace(old) == "" {
		old = "없음"
	}
	input := fmt.Sprintf("기존 유저 정보: %s\n새로운 유저 정보: %s", old, newInfo)
	memo, err := llm.Complete(ctx, e.client, e.model, prompts.UserMemoInstructions, input, nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(memo), nil
}
