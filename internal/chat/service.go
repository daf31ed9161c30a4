// Package chat runs inbound conversational turns: it loads the user's
// window, routes the turn, and saves the grown window.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nugget/aline-bot/internal/handler"
	"github.com/nugget/aline-bot/internal/llm"
	"github.com/nugget/aline-bot/internal/memory"
	"github.com/nugget/aline-bot/internal/router"
	"github.com/nugget/aline-bot/internal/users"
)

// ErrEmptyMessage is returned for a blank turn.
var ErrEmptyMessage = errors.New("message is empty")

// Router resolves one turn.
type Router interface {
	Route(ctx context.Context, history []memory.Message, uc router.UserContext) (handler.TurnResult, error)
}

// UserStore registers users and reads their memo.
type UserStore interface {
	Touch(ctx context.Context, id string) (created bool, err error)
	Get(ctx context.Context, id string) (*users.User, error)
}

// Reply is the outcome of one turn.
type Reply struct {
	Answer string
	Status handler.Status
	// NewUser is set on the first turn a user ever sends.
	NewUser bool
}

// Service runs turns. Turns for the same user are serialized; turns
// for different users run concurrently.
type Service struct {
	router Router
	memory memory.Store
	users  UserStore
	locks  *memory.KeyedLock
	size   int
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a turn service. size is the window size in
// exchanges; zero uses memory.DefaultSize.
func NewService(r Router, mem memory.Store, us UserStore, size int, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if size <= 0 {
		size = memory.DefaultSize
	}
	return &Service{
		router: r,
		memory: mem,
		users:  us,
		locks:  memory.NewKeyedLock(),
		size:   size,
		logger: logger,
		now:    time.Now,
	}
}

// SubmitTurn runs one turn and returns the answer text.
func (s *Service) SubmitTurn(ctx context.Context, userID, text string) (string, error) {
	r, err := s.Turn(ctx, userID, text)
	if err != nil {
		return "", err
	}
	return r.Answer, nil
}

// Turn runs one turn for userID. The stored window is only replaced
// once routing and the save both succeed.
func (s *Service) Turn(ctx context.Context, userID, text string) (Reply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Reply{}, ErrEmptyMessage
	}

	created, err := s.users.Touch(ctx, userID)
	if err != nil {
		return Reply{}, fmt.Errorf("register user: %w", err)
	}
	if created {
		s.logger.Info("new user", "user_id", userID)
	}

	unlock, err := s.locks.Lock(ctx, userID)
	if err != nil {
		return Reply{}, err
	}
	defer unlock()

	window, err := s.memory.Load(ctx, userID)
	if err != nil {
		return Reply{}, err
	}

	var memo string
	if u, err := s.users.Get(ctx, userID); err == nil {
		memo = u.Memo
	} else {
		s.logger.Warn("user memo unavailable", "user_id", userID, "error", err)
	}

	start := s.now()
	history := append(window[:len(window):len(window)], memory.Message{
		Role:      llm.RoleUser,
		Content:   text,
		Timestamp: start,
	})

	res, err := s.router.Route(ctx, history, router.UserContext{UserID: userID, Memo: memo})
	if err != nil {
		s.logger.Error("turn failed", "user_id", userID, "error", err)
		return Reply{}, err
	}

	history = append(history, memory.Message{
		Role:      llm.RoleAssistant,
		Content:   res.Answer,
		Timestamp: s.now(),
	})
	if err := s.memory.Save(ctx, userID, memory.Trim(history, s.size)); err != nil {
		return Reply{}, err
	}

	s.logger.Info("turn complete",
		"user_id", userID,
		"status", res.Status,
		"window", min(len(history), 2*s.size),
		"elapsed", s.now().Sub(start).Round(time.Millisecond),
	)
	return Reply{Answer: res.Answer, Status: res.Status, NewUser: created}, nil
}

// Reset clears a user's conversation window.
func (s *Service) Reset(ctx context.Context, userID string) error {
	unlock, err := s.locks.Lock(ctx, userID)
	if err != nil {
		return err
	}
	defer unlock()
	return s.memory.Clear(ctx, userID)
}
