package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/nugget/aline-bot/internal/cache"
	"github.com/nugget/aline-bot/internal/capability"
	"github.com/nugget/aline-bot/internal/chat"
	"github.com/nugget/aline-bot/internal/config"
	"github.com/nugget/aline-bot/internal/extractor"
	"github.com/nugget/aline-bot/internal/handler"
	"github.com/nugget/aline-bot/internal/llm"
	"github.com/nugget/aline-bot/internal/memory"
	"github.com/nugget/aline-bot/internal/notify"
	"github.com/nugget/aline-bot/internal/router"
	"github.com/nugget/aline-bot/internal/scheduler"
	"github.com/nugget/aline-bot/internal/search"
	"github.com/nugget/aline-bot/internal/users"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

// app is the assembled object graph shared by every subcommand.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	loc    *time.Location
	db     *sql.DB

	llm       llm.Client
	stations  *capability.Stations
	users     *users.Store
	jobs      *scheduler.Store
	extractor *extractor.Extractor
	router    *router.Router
	chat      *chat.Service
}

// openDB opens the single SQLite database under dataDir.
func openDB(dataDir string) (*sql.DB, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(dataDir, "aline.db")
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	return db, nil
}

// createLLMClient registers every configured provider behind one
// prefix-routing client and applies the retry policy on top.
func createLLMClient(cfg *config.Config, logger *slog.Logger) (llm.Client, error) {
	multi := llm.NewMultiClient("openai")

	providers := []struct {
		name    string
		conf    config.ProviderConfig
		baseURL string
	}{
		{"openai", cfg.Providers.OpenAI, llm.OpenAIBaseURL},
		{"gemini", cfg.Providers.Gemini, llm.GeminiBaseURL},
	}
	for _, p := range providers {
		if !p.conf.Configured() {
			continue
		}
		base := p.conf.BaseURL
		if base == "" {
			base = p.baseURL
		}
		multi.AddProvider(p.name, llm.NewOpenAIClient(p.name, base, p.conf.APIKey, logger))
		logger.Info("model provider configured", "provider", p.name)
	}
	if len(multi.Providers()) == 0 {
		return nil, errors.New("no model provider configured (providers.openai or providers.gemini)")
	}

	return llm.NewRetryClient(multi, llm.RetryPolicy{
		MaxAttempts:   cfg.Retry.MaxAttempts,
		FallbackModel: cfg.Retry.FallbackModel,
		Backoff:       cfg.Retry.Backoff,
		CallTimeout:   cfg.Retry.CallTimeout,
	}, logger), nil
}

// createSearch registers the configured web search providers. The
// Gemini provider reuses the Gemini model key.
func createSearch(cfg *config.Config, logger *slog.Logger) *search.Manager {
	mgr := search.NewManager(cfg.Search.Default, logger)
	if cfg.Providers.Gemini.Configured() {
		mgr.Register(search.NewGemini("", cfg.Providers.Gemini.APIKey, cfg.Search.Gemini.Model))
	}
	if cfg.Search.Brave.Configured() {
		mgr.Register(search.NewBrave("", cfg.Search.Brave.APIKey))
	}
	return mgr
}

// createCapabilities builds the adapters whose credentials are present.
// The station directory is returned separately so serve can watch it.
func createCapabilities(cfg *config.Config, loc *time.Location, logger *slog.Logger) (router.Capabilities, error) {
	var caps router.Capabilities
	a := cfg.Adapters

	if a.Naver.ClientID != "" && a.OpenWeather.APIKey != "" {
		caps.Geocoder = capability.NewGeocoder(a.Naver.BaseURL, a.Naver.ClientID, a.Naver.ClientSecret, a.Timeout, logger)
		caps.Weather = capability.NewWeather(a.OpenWeather.BaseURL, a.OpenWeather.APIKey, loc, a.Timeout, logger)
	} else {
		logger.Warn("weather handler disabled", "reason", "naver and openweather credentials required")
	}

	caps.News = capability.NewNews(cfg.News.BaseURL, cache.New[capability.Feed](cfg.News.Refresh), a.Timeout, logger)

	if cfg.Stations.File != "" && a.Seoul.APIKey != "" {
		st, err := capability.LoadStations(cfg.Stations.File, logger)
		if err != nil {
			return caps, err
		}
		caps.Stations = st
		caps.Transit = capability.NewTransit(a.Seoul.BaseURL, a.Seoul.APIKey, a.Timeout, logger)
	} else {
		logger.Warn("subway handler disabled", "reason", "stations.file and seoul api key required")
	}
	return caps, nil
}

// newApp opens storage and assembles the handler stack.
func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	loc, err := cfg.Scheduler.Location()
	if err != nil {
		return nil, fmt.Errorf("scheduler timezone: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, loc: loc}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	// --- Storage ---

	if a.db, err = openDB(cfg.DataDir); err != nil {
		return nil, err
	}
	if a.users, err = users.NewStore(a.db); err != nil {
		return nil, err
	}
	if a.jobs, err = scheduler.NewStore(a.db, loc); err != nil {
		return nil, err
	}
	mem, err := memory.NewSQLiteStore(a.db)
	if err != nil {
		return nil, err
	}
	runs, err := handler.NewRunStore(a.db)
	if err != nil {
		return nil, err
	}

	// --- Models ---

	if a.llm, err = createLLMClient(cfg, logger); err != nil {
		return nil, err
	}
	runner := handler.NewRunner(a.llm, logger)
	runner.SetLocation(loc)
	runner.SetStore(runs)

	// --- Handlers ---

	caps, err := createCapabilities(cfg, loc, logger)
	if err != nil {
		return nil, err
	}
	a.stations = caps.Stations
	a.extractor = extractor.New(a.llm, cfg.Models.Extractor, a.jobs, logger)
	caps.Extractor = a.extractor
	caps.Users = a.users

	defs, err := router.Handlers(a.llm, router.Models{
		Handler:   cfg.Models.Handler,
		Guardrail: cfg.Models.Guardrail,
		MaxTurns:  cfg.Router.HandlerMaxTurns,
	}, caps)
	if err != nil {
		return nil, fmt.Errorf("build handlers: %w", err)
	}
	a.router, err = router.New(runner, router.Options{
		Model:    cfg.Models.Router,
		MaxTurns: cfg.Router.MaxTurns,
		Search:   createSearch(cfg, logger),
	}, logger, defs...)
	if err != nil {
		return nil, fmt.Errorf("build router: %w", err)
	}
	logger.Info("router ready", "handlers", a.router.Handlers())

	a.chat = chat.NewService(a.router, mem, a.users, cfg.Memory.Size, logger)

	ok = true
	return a, nil
}

// sink combines every configured delivery channel. Without LINE or
// MQTT, pushes are only logged.
func (a *app) sink(ctx context.Context, line *notify.Line) (notify.Sink, func(), error) {
	var (
		sinks = notify.Multi{Logger: a.logger}
		stop  = func() {}
	)
	if line != nil {
		sinks.Sinks = append(sinks.Sinks, line)
	}
	if a.cfg.MQTT.Configured() {
		m := notify.NewMQTTSink(notify.MQTTOptions{
			Broker:      a.cfg.MQTT.Broker,
			Username:    a.cfg.MQTT.Username,
			Password:    a.cfg.MQTT.Password,
			ClientID:    a.cfg.MQTT.ClientID,
			TopicPrefix: a.cfg.MQTT.TopicPrefix,
		}, a.logger)
		if err := m.Start(ctx); err != nil {
			return nil, stop, fmt.Errorf("mqtt: %w", err)
		}
		sinks.Sinks = append(sinks.Sinks, m)
		stop = func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := m.Stop(shutdownCtx); err != nil {
				a.logger.Warn("mqtt stop failed", "error", err)
			}
		}
	}
	if len(sinks.Sinks) == 0 {
		return notify.LogSink{Logger: a.logger}, stop, nil
	}
	return sinks, stop, nil
}

// engine builds the scheduled-job dispatcher over sink.
func (a *app) engine(sink scheduler.Sink) *scheduler.Engine {
	return scheduler.NewEngine(a.logger, a.jobs, a.router, sink, scheduler.Options{
		Interval: a.cfg.Scheduler.Tick,
		Workers:  a.cfg.Scheduler.Workers,
		Location: a.loc,
	})
}

// Close releases the database.
func (a *app) Close() {
	if a.db != nil {
		a.db.Close()
	}
}
