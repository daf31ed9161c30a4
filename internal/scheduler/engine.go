package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/nugget/aline-bot/internal/handler"
)

// Dispatcher runs a job's query through the router.
type Dispatcher interface {
	Dispatch(ctx context.Context, userID string, handlers []string, query string) (handler.TurnResult, error)
}

// Sink delivers a job's answer to the user.
type Sink interface {
	Push(ctx context.Context, userID, text string) error
}

// Options configure an Engine. Zero values take defaults.
type Options struct {
	Interval   time.Duration  // tick period, default 2s
	Workers    int            // concurrent jobs per tick, default 4
	Location   *time.Location // wall clock zone, default Local
	JobTimeout time.Duration  // per-job deadline, default 2m
}

// TickReport summarizes one tick.
type TickReport struct {
	At      time.Time `json:"at"`
	Due     int       `json:"due"`     // jobs at this hour:minute
	Matched int       `json:"matched"` // due and not yet sent today
	Sent    int       `json:"sent"`
	Failed  int       `json:"failed"`  // includes once jobs sent but not deleted
	Skipped int       `json:"skipped"` // already sent, claimed elsewhere, or a delivered once job
}

// Engine fires due jobs.
type Engine struct {
	logger     *slog.Logger
	store      *Store
	dispatcher Dispatcher
	sink       Sink
	opts       Options
	now        func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// NewEngine creates a dispatch engine.
func NewEngine(logger *slog.Logger, store *Store, dispatcher Dispatcher, sink Sink, opts Options) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 2 * time.Minute
	}
	return &Engine{
		logger:     logger,
		store:      store,
		dispatcher: dispatcher,
		sink:       sink,
		opts:       opts,
		now:        time.Now,
	}
}

// Tick fires every job due at the current minute that has not been sent
// today. Per-job failures are counted, not returned; the error is only
// for a failure to list due jobs.
func (e *Engine) Tick(ctx context.Context) (TickReport, error) {
	now := e.now().In(e.opts.Location)
	today := now.Format(DateLayout)
	rep := TickReport{At: now}

	due, err := e.store.ListDue(ctx, now.Hour(), now.Minute())
	if err != nil {
		return rep, fmt.Errorf("tick %s: %w", now.Format("15:04"), err)
	}
	rep.Due = len(due)

	var todo []*Job
	for _, j := range due {
		if !j.Matches(now.Weekday()) {
			continue
		}
		if j.Once && j.LastSentAt != nil && !j.SentOn(today, e.opts.Location) {
			// Delivered on an earlier day but the delete did not stick.
			if err := e.deleteOnce(ctx, j); err != nil {
				e.logger.Error("stale once job delete failed", "job_id", j.ID, "error", err)
			}
			rep.Skipped++
			continue
		}
		if j.SentOn(today, e.opts.Location) {
			rep.Skipped++
			continue
		}
		todo = append(todo, j)
	}
	rep.Matched = len(todo)
	if len(todo) == 0 {
		return rep, nil
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(e.opts.Workers)
	for _, j := range todo {
		g.Go(func() error {
			outcome := e.fire(ctx, j, now, today)
			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case fireSent:
				rep.Sent++
			case fireSkipped:
				rep.Skipped++
			default:
				rep.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()

	e.logger.Info("scheduler tick",
		"at", now.Format(time.RFC3339),
		"due", rep.Due,
		"sent", rep.Sent,
		"failed", rep.Failed,
		"skipped", rep.Skipped,
	)
	return rep, nil
}

type fireOutcome int

const (
	fireFailed fireOutcome = iota
	fireSent
	fireSkipped
)

func (e *Engine) fire(ctx context.Context, j *Job, now time.Time, today string) fireOutcome {
	log := e.logger.With("job_id", j.ID, "user_id", j.UserID)

	claimed, err := e.store.Claim(ctx, j.ID, now, today)
	if err != nil {
		log.Error("job claim failed", "error", err)
		return fireFailed
	}
	if !claimed {
		log.Debug("job already claimed today")
		return fireSkipped
	}

	jobCtx, cancel := context.WithTimeout(ctx, e.opts.JobTimeout)
	defer cancel()

	if err := e.deliver(jobCtx, j); err != nil {
		log.Error("job dispatch failed", "error", err)
		// The release must run even when the tick context is done.
		if rerr := e.store.Release(context.WithoutCancel(ctx), j); rerr != nil {
			log.Error("job release failed", "error", rerr)
		}
		return fireFailed
	}

	if j.Once {
		if err := e.deleteOnce(ctx, j); err != nil {
			// The answer went out; the claim stays so today's ticks skip
			// the job and a later tick removes it.
			log.Error("once job delete failed", "error", err)
			return fireFailed
		}
	}
	log.Info("job sent", "name", j.Name, "once", j.Once)
	return fireSent
}

func (e *Engine) deleteOnce(ctx context.Context, j *Job) error {
	err := e.store.Delete(context.WithoutCancel(ctx), j.ID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

func (e *Engine) deliver(ctx context.Context, j *Job) error {
	res, err := e.dispatcher.Dispatch(ctx, j.UserID, j.Handlers, j.Query)
	if err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}
	if res.Status != handler.Success {
		e.logger.Warn("job answered with non-success status",
			"job_id", j.ID,
			"status", res.Status,
		)
	}
	if err := e.sink.Push(ctx, j.UserID, res.Answer); err != nil {
		return fmt.Errorf("push: %w", err)
	}
	return nil
}

// Start runs Tick every Interval until Stop. A tick still running when
// the next one is due is skipped.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cron != nil {
		return nil
	}

	cl := cronLogger{logger: e.logger}
	c := cron.New(
		cron.WithLocation(e.opts.Location),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	_, err := c.AddFunc("@every "+e.opts.Interval.String(), func() {
		if _, err := e.Tick(ctx); err != nil {
			e.logger.Error("scheduler tick failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule tick: %w", err)
	}
	c.Start()
	e.cron = c

	e.logger.Info("scheduler started",
		"interval", e.opts.Interval,
		"workers", e.opts.Workers,
		"timezone", e.opts.Location.String(),
	)
	return nil
}

// Stop halts the trigger and waits for a running tick to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	c := e.cron
	e.cron = nil
	e.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	e.logger.Info("scheduler stopped")
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
