package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nugget/aline-bot/internal/chat"
	"github.com/nugget/aline-bot/internal/extractor"
	"github.com/nugget/aline-bot/internal/handler"
	"github.com/nugget/aline-bot/internal/scheduler"
)

// ChatRequest is the body of POST /v1/chat.
type ChatRequest struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
}

// ChatResponse is the answer to POST /v1/chat.
type ChatResponse struct {
	Answer  string         `json:"answer"`
	Status  handler.Status `json:"status"`
	NewUser bool           `json:"new_user,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body")
		return
	}
	if req.UserID == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id is required")
		return
	}

	reply, err := s.deps.Chat.Turn(r.Context(), req.UserID, req.Message)
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "message is required")
		return
	case err != nil:
		s.logger.Error("chat turn failed", "user_id", req.UserID, "error", err)
		httpError(w, http.StatusInternalServerError, "server_error", "turn failed")
		return
	}
	writeJSON(w, http.StatusOK, ChatResponse{Answer: reply.Answer, Status: reply.Status, NewUser: reply.NewUser}, s.logger)
}

// CreateJobRequest is the body of POST /v1/users/{userID}/jobs. Either
// Request (free text for the extractor) or Job is set.
type CreateJobRequest struct {
	Request string         `json:"request,omitempty"`
	Job     *scheduler.Job `json:"job,omitempty"`
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.deps.Jobs.ListByUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.logger.Error("list jobs failed", "error", err)
		httpError(w, http.StatusInternalServerError, "server_error", "list jobs failed")
		return
	}
	if jobs == nil {
		jobs = []*scheduler.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs}, s.logger)
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body")
		return
	}

	var (
		job *scheduler.Job
		err error
	)
	switch {
	case strings.TrimSpace(req.Request) != "":
		if s.deps.Extractor == nil {
			httpError(w, http.StatusNotImplemented, "invalid_request_error", "job extraction is not configured")
			return
		}
		job, err = s.deps.Extractor.Create(r.Context(), userID, req.Request)
	case req.Job != nil:
		job, err = s.createExplicit(r, userID, req.Job)
	default:
		httpError(w, http.StatusBadRequest, "invalid_request_error", "request or job is required")
		return
	}

	switch {
	case errors.Is(err, extractor.ErrJobExists):
		httpError(w, http.StatusConflict, "conflict_error", err.Error())
	case errors.Is(err, extractor.ErrNoHandlers), errors.Is(err, scheduler.ErrInvalidJob):
		httpError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
	case err != nil:
		s.logger.Error("create job failed", "user_id", userID, "error", err)
		httpError(w, http.StatusInternalServerError, "server_error", "create job failed")
	default:
		writeJSON(w, http.StatusCreated, job, s.logger)
	}
}

// createExplicit stores a fully specified job under the one-job limit.
func (s *Server) createExplicit(r *http.Request, userID string, j *scheduler.Job) (*scheduler.Job, error) {
	n, err := s.deps.Jobs.CountByUser(r.Context(), userID)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		return nil, extractor.ErrJobExists
	}
	j.ID = ""
	j.UserID = userID
	j.LastSentAt = nil
	if err := s.deps.Jobs.Upsert(r.Context(), j); err != nil {
		return nil, err
	}
	return j, nil
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Jobs.Get(r.Context(), chi.URLParam(r, "jobID"))
	switch {
	case errors.Is(err, scheduler.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found_error", "job not found")
	case err != nil:
		s.logger.Error("get job failed", "error", err)
		httpError(w, http.StatusInternalServerError, "server_error", "get job failed")
	default:
		writeJSON(w, http.StatusOK, job, s.logger)
	}
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	err := s.deps.Jobs.Delete(r.Context(), chi.URLParam(r, "jobID"))
	switch {
	case errors.Is(err, scheduler.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found_error", "job not found")
	case err != nil:
		s.logger.Error("delete job failed", "error", err)
		httpError(w, http.StatusInternalServerError, "server_error", "delete job failed")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.Ticker.Tick(r.Context())
	if err != nil {
		s.logger.Error("manual tick failed", "error", err)
		httpError(w, http.StatusInternalServerError, "server_error", "tick failed")
		return
	}
	writeJSON(w, http.StatusOK, report, s.logger)
}
