// Package api serves the HTTP surface: the LINE webhook, a direct chat
// endpoint, and job administration.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nugget/aline-bot/internal/buildinfo"
	"github.com/nugget/aline-bot/internal/chat"
	"github.com/nugget/aline-bot/internal/scheduler"
)

// ChatService runs one conversational turn.
type ChatService interface {
	Turn(ctx context.Context, userID, text string) (chat.Reply, error)
}

// JobStore is the job persistence the admin routes use.
type JobStore interface {
	ListByUser(ctx context.Context, userID string) ([]*scheduler.Job, error)
	CountByUser(ctx context.Context, userID string) (int, error)
	Get(ctx context.Context, id string) (*scheduler.Job, error)
	Upsert(ctx context.Context, j *scheduler.Job) error
	Delete(ctx context.Context, id string) error
}

// JobCreator turns a free-text request into a stored job.
type JobCreator interface {
	Create(ctx context.Context, userID, text string) (*scheduler.Job, error)
}

// Ticker runs one scheduler pass.
type Ticker interface {
	Tick(ctx context.Context) (scheduler.TickReport, error)
}

// Messenger replies to webhook events and pushes unsolicited messages.
type Messenger interface {
	Reply(ctx context.Context, replyToken, text string) error
	Push(ctx context.Context, userID, text string) error
}

// Deps are the server's collaborators. Nil optional collaborators
// disable their routes.
type Deps struct {
	Chat      ChatService
	Jobs      JobStore
	Extractor JobCreator
	Ticker    Ticker
	Line      Messenger

	// ChannelSecret verifies X-Line-Signature. When empty the webhook
	// accepts unsigned requests unless RequireSignature is set.
	ChannelSecret    string
	RequireSignature bool

	// Token protects /v1. Empty disables auth.
	Token string

	// TurnTimeout bounds a webhook-triggered turn.
	TurnTimeout time.Duration
}

// Server is the HTTP API server.
type Server struct {
	address string
	port    int
	deps    Deps
	logger  *slog.Logger
	server  *http.Server

	// inflight tracks webhook turns still running after the response.
	inflight sync.WaitGroup
}

// NewServer creates a new API server.
func NewServer(address string, port int, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.TurnTimeout == 0 {
		deps.TurnTimeout = 2 * time.Minute
	}
	return &Server{
		address: address,
		port:    port,
		deps:    deps,
		logger:  logger,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.withLogging)

	r.Get("/health", s.handleHealth)
	if s.deps.Chat != nil && s.deps.Line != nil {
		r.Post("/line/callback", s.handleLineCallback)
	}

	r.Route("/v1", func(r chi.Router) {
		if s.deps.Token != "" {
			r.Use(BearerAuth(s.deps.Token))
		}
		r.Get("/version", s.handleVersion)
		if s.deps.Chat != nil {
			r.Post("/chat", s.handleChat)
		}
		if s.deps.Jobs != nil {
			r.Get("/users/{userID}/jobs", s.handleListJobs)
			r.Post("/users/{userID}/jobs", s.handleCreateJob)
			r.Get("/jobs/{jobID}", s.handleGetJob)
			r.Delete("/jobs/{jobID}", s.handleDeleteJob)
		}
		if s.deps.Ticker != nil {
			r.Post("/scheduler/tick", s.handleTick)
		}
	})
	return r
}

// Start begins serving HTTP requests. It returns http.ErrServerClosed
// after Shutdown.
func (s *Server) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 3 * time.Minute,
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown stops accepting requests and waits for in-flight webhook
// turns, both bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("shutdown with webhook turns still running")
	}
	return err
}

// Wait blocks until background webhook turns finish.
func (s *Server) Wait() {
	s.inflight.Wait()
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// writeJSON encodes v as JSON to w, logging any errors at debug level.
func writeJSON(w http.ResponseWriter, code int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// httpError writes {"error": {"message", "type", "code"}}.
func httpError(w http.ResponseWriter, code int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    errType,
			"code":    code,
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, buildinfo.Info(), s.logger)
}
