// Package scheduler stores per-user recurring jobs and fires them: on
// every tick the engine finds jobs due this minute, claims each one for
// today, sends its query through the router and pushes the answer.
package scheduler

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// DateLayout is the calendar date format used for dedup.
const DateLayout = "2006-01-02"

// Errors returned by the job store.
var (
	ErrNotFound    = errors.New("job not found")
	ErrInvalidJob  = errors.New("invalid job")
	ErrPersistence = errors.New("job persistence fault")
)

// SchedulableHandlers are the capability names a job may invoke.
var SchedulableHandlers = []string{"weather", "news", "subway", "web_search"}

// IsSchedulable reports whether name may appear in Job.Handlers.
func IsSchedulable(name string) bool {
	return slices.Contains(SchedulableHandlers, name)
}

// Job is a per-user scheduled handler invocation.
type Job struct {
	ID       string   `json:"id"`
	UserID   string   `json:"user_id"`
	Name     string   `json:"name"`
	Days     Days     `json:"days"`
	Once     bool     `json:"once"`
	Hour     int      `json:"hour"`
	Minute   int      `json:"minute"`
	Handlers []string `json:"handlers"`
	Query    string   `json:"query"`

	LastSentAt *time.Time `json:"last_sent_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Validate checks the job's fields.
func (j *Job) Validate() error {
	var errs []error
	if j.UserID == "" {
		errs = append(errs, errors.New("user id is required"))
	}
	if j.Hour < 0 || j.Hour > 23 {
		errs = append(errs, fmt.Errorf("hour %d out of range 0-23", j.Hour))
	}
	if j.Minute < 0 || j.Minute > 59 {
		errs = append(errs, fmt.Errorf("minute %d out of range 0-59", j.Minute))
	}
	if !j.Once && len(j.Days) == 0 {
		errs = append(errs, errors.New("at least one day is required for a recurring job"))
	}
	if len(j.Handlers) == 0 {
		errs = append(errs, errors.New("at least one handler is required"))
	}
	for _, h := range j.Handlers {
		if !IsSchedulable(h) {
			errs = append(errs, fmt.Errorf("unknown handler %q", h))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidJob, err)
	}
	return nil
}

// Matches reports whether the job should fire on weekday.
func (j *Job) Matches(weekday time.Weekday) bool {
	return j.Once || j.Days.Contains(weekday)
}

// SentOn reports whether the job was already sent on date (DateLayout
// in loc).
func (j *Job) SentOn(date string, loc *time.Location) bool {
	return j.LastSentAt != nil && j.LastSentAt.In(loc).Format(DateLayout) >= date
}

// TimeOfDay renders the fire time as HH:MM.
func (j *Job) TimeOfDay() string {
	return fmt.Sprintf("%02d:%02d", j.Hour, j.Minute)
}

// Days is a set of weekdays kept in Monday-first order.
type Days []time.Weekday

var dayAbbrev = [...]string{"sun", "mon", "tue", "wed", "thu", "fri", "sat"}

var dayNames = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday, "일": time.Sunday, "일요일": time.Sunday,
	"mon": time.Monday, "monday": time.Monday, "월": time.Monday, "월요일": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday, "화": time.Tuesday, "화요일": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday, "수": time.Wednesday, "수요일": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday, "목": time.Thursday, "목요일": time.Thursday,
	"fri": time.Friday, "friday": time.Friday, "금": time.Friday, "금요일": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday, "토": time.Saturday, "토요일": time.Saturday,
}

var (
	weekdays = Days{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}
	weekend  = Days{time.Saturday, time.Sunday}
	everyDay = Days{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday, time.Sunday}
)

var dayPhrases = map[string]Days{
	"평일": weekdays, "weekday": weekdays, "weekdays": weekdays,
	"주말": weekend, "weekend": weekend, "weekends": weekend,
	"매일": everyDay, "daily": everyDay, "everyday": everyDay, "every day": everyDay,
}

// ParseDays parses day phrases such as "mon,wed,fri", "mon-fri",
// "평일", "주말" or "매일". Tokens may be separated by commas or spaces.
func ParseDays(s string) (Days, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return nil, nil
	}
	if d, ok := dayPhrases[s]; ok {
		return d.Normalize(), nil
	}

	var out Days
	for _, tok := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == '/' }) {
		d, err := parseDayToken(tok)
		if err != nil {
			return nil, err
		}
		out = append(out, d...)
	}
	return out.Normalize(), nil
}

// ParseDayList parses each element with ParseDays and merges them.
func ParseDayList(items []string) (Days, error) {
	var out Days
	for _, it := range items {
		d, err := ParseDays(it)
		if err != nil {
			return nil, err
		}
		out = append(out, d...)
	}
	return out.Normalize(), nil
}

func parseDayToken(tok string) (Days, error) {
	if d, ok := dayPhrases[tok]; ok {
		return d, nil
	}
	if d, ok := dayNames[tok]; ok {
		return Days{d}, nil
	}
	if from, to, ok := strings.Cut(tok, "-"); ok {
		start, ok1 := dayNames[from]
		end, ok2 := dayNames[to]
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("unknown day range %q", tok)
		}
		var out Days
		for d := start; ; d = (d + 1) % 7 {
			out = append(out, d)
			if d == end {
				break
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown day %q", tok)
}

// mondayIndex orders Monday first, Sunday last.
func mondayIndex(d time.Weekday) int {
	return (int(d) + 6) % 7
}

// Normalize returns the set without duplicates in Monday-first order.
// An empty set normalizes to nil.
func (d Days) Normalize() Days {
	if len(d) == 0 {
		return nil
	}
	seen := make(map[time.Weekday]bool, len(d))
	out := make(Days, 0, len(d))
	for _, day := range d {
		if !seen[day] {
			seen[day] = true
			out = append(out, day)
		}
	}
	slices.SortFunc(out, func(a, b time.Weekday) int { return mondayIndex(a) - mondayIndex(b) })
	return out
}

// Contains reports whether wd is in the set.
func (d Days) Contains(wd time.Weekday) bool {
	return slices.Contains(d, wd)
}

// Strings returns the three-letter abbreviations.
func (d Days) Strings() []string {
	out := make([]string, len(d))
	for i, day := range d {
		out[i] = dayAbbrev[day]
	}
	return out
}

// String renders the set as "mon,wed,fri".
func (d Days) String() string {
	return strings.Join(d.Strings(), ",")
}

// MarshalJSON implements json.Marshaler.
func (d Days) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Strings())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Days) UnmarshalJSON(b []byte) error {
	var items []string
	if err := json.Unmarshal(b, &items); err != nil {
		var s string
		if err2 := json.Unmarshal(b, &s); err2 != nil {
			return err
		}
		items = []string{s}
	}
	parsed, err := ParseDayList(items)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
