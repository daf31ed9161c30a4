package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nugget/aline-bot/internal/handler"
	"github.com/nugget/aline-bot/internal/notify"
)

type dispatchCall struct {
	UserID   string
	Handlers []string
	Query    string
}

// mockDispatcher answers every query, failing for users in failFor.
type mockDispatcher struct {
	mu      sync.Mutex
	calls   []dispatchCall
	failFor map[string]bool
	delay   time.Duration
}

func (m *mockDispatcher) Dispatch(ctx context.Context, userID string, handlers []string, query string) (handler.TurnResult, error) {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, dispatchCall{UserID: userID, Handlers: handlers, Query: query})
	if m.failFor[userID] {
		return handler.TurnResult{}, errors.New("model unavailable")
	}
	return handler.TurnResult{Answer: "answer for " + userID, Status: handler.Success}, nil
}

func (m *mockDispatcher) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type mockSink struct {
	mu     sync.Mutex
	pushed map[string][]string
	err    error
}

func (m *mockSink) Push(_ context.Context, userID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.pushed == nil {
		m.pushed = make(map[string][]string)
	}
	m.pushed[userID] = append(m.pushed[userID], text)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T, d Dispatcher, sink Sink, at time.Time) (*Engine, *Store) {
	t.Helper()
	s := newTestStore(t)
	e := NewEngine(testLogger(), s, d, sink, Options{Location: seoul, Workers: 4})
	e.now = func() time.Time { return at }
	return e, s
}

// 2025-05-07 is a Wednesday.
var wed0900 = time.Date(2025, 5, 7, 9, 0, 0, 0, seoul)

func TestTick_DedupTodayVersusYesterday(t *testing.T) {
	d := &mockDispatcher{}
	sink := &mockSink{}
	e, s := newTestEngine(t, d, sink, wed0900)
	ctx := context.Background()

	sentToday := newJob("today", 9, 0)
	earlier := wed0900.Add(-time.Second)
	sentToday.LastSentAt = &earlier

	sentYesterday := newJob("yesterday", 9, 0)
	y := wed0900.Add(-24 * time.Hour)
	sentYesterday.LastSentAt = &y

	for _, j := range []*Job{sentToday, sentYesterday} {
		if err := s.Upsert(ctx, j); err != nil {
			t.Fatal(err)
		}
	}

	rep, err := e.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if rep.Sent != 1 || rep.Skipped != 1 {
		t.Errorf("report = %+v, want sent 1 skipped 1", rep)
	}
	if len(sink.pushed["yesterday"]) != 1 || len(sink.pushed["today"]) != 0 {
		t.Errorf("pushed = %v", sink.pushed)
	}

	got, _ := s.Get(ctx, sentYesterday.ID)
	if got.LastSentAt == nil || !got.LastSentAt.Equal(wed0900) {
		t.Errorf("LastSentAt = %v, want %v", got.LastSentAt, wed0900)
	}
}

func TestTick_WeekdayMatching(t *testing.T) {
	ctx := context.Background()
	mwf := func() *Job {
		j := newJob("U1", 9, 0)
		j.Days = Days{time.Monday, time.Wednesday, time.Friday}
		return j
	}

	d := &mockDispatcher{}
	e, s := newTestEngine(t, d, &mockSink{}, wed0900)
	if err := s.Upsert(ctx, mwf()); err != nil {
		t.Fatal(err)
	}
	if rep, _ := e.Tick(ctx); rep.Sent != 1 {
		t.Errorf("Wednesday tick sent %d, want 1", rep.Sent)
	}

	d2 := &mockDispatcher{}
	tue := wed0900.Add(-24 * time.Hour)
	e2, s2 := newTestEngine(t, d2, &mockSink{}, tue)
	if err := s2.Upsert(ctx, mwf()); err != nil {
		t.Fatal(err)
	}
	rep, _ := e2.Tick(ctx)
	if rep.Due != 1 || rep.Matched != 0 || d2.count() != 0 {
		t.Errorf("Tuesday tick = %+v, dispatches %d; want due 1, matched 0, none dispatched", rep, d2.count())
	}
}

func TestTick_OnlyCurrentMinute(t *testing.T) {
	d := &mockDispatcher{}
	e, s := newTestEngine(t, d, &mockSink{}, wed0900)
	if err := s.Upsert(context.Background(), newJob("U1", 9, 1)); err != nil {
		t.Fatal(err)
	}
	rep, _ := e.Tick(context.Background())
	if rep.Due != 0 || d.count() != 0 {
		t.Errorf("report = %+v, want nothing due", rep)
	}
}

func TestTick_OnceJobDeletedAndNotRefired(t *testing.T) {
	d := &mockDispatcher{}
	sink := &mockSink{}
	e, s := newTestEngine(t, d, sink, wed0900)
	ctx := context.Background()

	j := newJob("U1", 9, 0)
	j.Once = true
	j.Days = nil
	if err := s.Upsert(ctx, j); err != nil {
		t.Fatal(err)
	}

	if rep, _ := e.Tick(ctx); rep.Sent != 1 {
		t.Fatalf("first tick sent %d, want 1", rep.Sent)
	}
	if _, err := s.Get(ctx, j.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("once job still stored: err = %v", err)
	}

	e.now = func() time.Time { return wed0900.Add(2 * time.Second) }
	if rep, _ := e.Tick(ctx); rep.Due != 0 {
		t.Errorf("second tick due = %d, want 0", rep.Due)
	}
	if d.count() != 1 {
		t.Errorf("dispatches = %d, want 1", d.count())
	}
	if d.calls[0].Query != "서울 날씨와 최신 뉴스" || len(d.calls[0].Handlers) != 2 {
		t.Errorf("dispatch call = %+v", d.calls[0])
	}
}

func TestTick_FailureIsolation(t *testing.T) {
	d := &mockDispatcher{failFor: map[string]bool{"A": true}}
	sink := &mockSink{}
	e, s := newTestEngine(t, d, sink, wed0900)
	ctx := context.Background()

	a, b := newJob("A", 9, 0), newJob("B", 9, 0)
	for _, j := range []*Job{a, b} {
		if err := s.Upsert(ctx, j); err != nil {
			t.Fatal(err)
		}
	}

	rep, err := e.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if rep.Sent != 1 || rep.Failed != 1 {
		t.Errorf("report = %+v, want sent 1 failed 1", rep)
	}
	if len(sink.pushed["B"]) != 1 {
		t.Errorf("B not pushed: %v", sink.pushed)
	}

	// A's claim was released so the next tick in the same minute retries it.
	got, _ := s.Get(ctx, a.ID)
	if got.LastSentAt != nil {
		t.Errorf("A LastSentAt = %v, want nil after release", got.LastSentAt)
	}
	d.mu.Lock()
	d.failFor = nil
	d.mu.Unlock()
	e.now = func() time.Time { return wed0900.Add(2 * time.Second) }
	rep, _ = e.Tick(ctx)
	if rep.Sent != 1 || rep.Skipped != 1 {
		t.Errorf("retry tick = %+v, want A sent and B skipped", rep)
	}
}

func TestTick_PushFailureReleasesClaim(t *testing.T) {
	sink := &mockSink{err: errors.New("line 500")}
	e, s := newTestEngine(t, &mockDispatcher{}, sink, wed0900)
	ctx := context.Background()
	j := newJob("U1", 9, 0)
	if err := s.Upsert(ctx, j); err != nil {
		t.Fatal(err)
	}

	rep, _ := e.Tick(ctx)
	if rep.Failed != 1 {
		t.Errorf("report = %+v, want failed 1", rep)
	}
	got, _ := s.Get(ctx, j.ID)
	if got.LastSentAt != nil {
		t.Errorf("LastSentAt = %v, want nil", got.LastSentAt)
	}
}

func TestTick_PartialSinkFailureIsSent(t *testing.T) {
	d := &mockDispatcher{}
	line := &mockSink{}
	broker := &mockSink{err: errors.New("mqtt: not connected")}
	sink := notify.Multi{Sinks: []notify.Sink{line, broker}, Logger: testLogger()}
	e, s := newTestEngine(t, d, sink, wed0900)
	ctx := context.Background()

	j := newJob("U1", 9, 0)
	j.Once = true
	j.Days = nil
	if err := s.Upsert(ctx, j); err != nil {
		t.Fatal(err)
	}

	for i := range 3 {
		e.now = func() time.Time { return wed0900.Add(time.Duration(2*i) * time.Second) }
		if _, err := e.Tick(ctx); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
	}

	if d.count() != 1 {
		t.Errorf("dispatches = %d, want 1", d.count())
	}
	if got := len(line.pushed["U1"]); got != 1 {
		t.Errorf("line pushes = %d, want 1", got)
	}
	if _, err := s.Get(ctx, j.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("once job still stored: err = %v", err)
	}
}

func TestTick_OnceDeleteFailure(t *testing.T) {
	d := &mockDispatcher{}
	sink := &mockSink{}
	e, s := newTestEngine(t, d, sink, wed0900)
	ctx := context.Background()

	j := newJob("U1", 9, 0)
	j.Once = true
	j.Days = nil
	if err := s.Upsert(ctx, j); err != nil {
		t.Fatal(err)
	}
	if _, err := s.db.Exec(`CREATE TRIGGER keep_jobs BEFORE DELETE ON jobs
		BEGIN SELECT RAISE(ABORT, 'delete blocked'); END`); err != nil {
		t.Fatal(err)
	}

	rep, err := e.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if rep.Sent != 0 || rep.Failed != 1 {
		t.Errorf("report = %+v, want failed 1", rep)
	}
	if len(sink.pushed["U1"]) != 1 {
		t.Errorf("pushes = %d, want 1", len(sink.pushed["U1"]))
	}

	// Later ticks the same minute keep skipping the claimed job.
	e.now = func() time.Time { return wed0900.Add(2 * time.Second) }
	if rep, _ := e.Tick(ctx); rep.Skipped != 1 || d.count() != 1 {
		t.Errorf("same-minute tick = %+v, dispatches %d; want skipped 1, dispatches 1", rep, d.count())
	}

	// The next day the leftover is removed instead of fired again.
	if _, err := s.db.Exec(`DROP TRIGGER keep_jobs`); err != nil {
		t.Fatal(err)
	}
	e.now = func() time.Time { return wed0900.Add(24 * time.Hour) }
	rep, _ = e.Tick(ctx)
	if rep.Due != 1 || rep.Skipped != 1 || d.count() != 1 {
		t.Errorf("next-day tick = %+v, dispatches %d; want due 1, skipped 1, dispatches 1", rep, d.count())
	}
	if _, err := s.Get(ctx, j.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("once job still stored: err = %v", err)
	}
}

func TestTick_ConcurrentTicksFireOnce(t *testing.T) {
	d := &mockDispatcher{delay: 20 * time.Millisecond}
	sink := &mockSink{}
	e, s := newTestEngine(t, d, sink, wed0900)
	ctx := context.Background()
	if err := s.Upsert(ctx, newJob("U1", 9, 0)); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.Tick(ctx); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if d.count() != 1 {
		t.Errorf("dispatches = %d, want 1", d.count())
	}
	if len(sink.pushed["U1"]) != 1 {
		t.Errorf("pushes = %d, want 1", len(sink.pushed["U1"]))
	}
}

func TestTick_ListDueFailure(t *testing.T) {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatal(err)
	}
	s, err := NewStore(db, seoul)
	if err != nil {
		t.Fatal(err)
	}
	db.Close()

	e := NewEngine(testLogger(), s, &mockDispatcher{}, &mockSink{}, Options{Location: seoul})
	e.now = func() time.Time { return wed0900 }
	if _, err := e.Tick(context.Background()); !errors.Is(err, ErrPersistence) {
		t.Errorf("Tick = %v, want ErrPersistence", err)
	}
}

func TestEngine_StartStop(t *testing.T) {
	d := &mockDispatcher{}
	sink := &mockSink{}
	s := newTestStore(t)
	now := time.Now().In(seoul)
	j := newJob("U1", now.Hour(), now.Minute())
	j.Days = everyDay
	if err := s.Upsert(context.Background(), j); err != nil {
		t.Fatal(err)
	}

	e := NewEngine(testLogger(), s, d, sink, Options{Location: seoul, Interval: time.Second})
	// Pin the clock so the job stays due however long the test runs.
	e.now = func() time.Time { return now }
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for d.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	e.Stop()
	e.Stop()

	if d.count() != 1 {
		t.Errorf("dispatches = %d, want 1", d.count())
	}
}
