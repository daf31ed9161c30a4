// Package notify delivers text to users outside a request: scheduled
// job results and welcome messages.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Sink pushes text to a user.
type Sink interface {
	Push(ctx context.Context, userID, text string) error
}

// LogSink writes pushes to the log. It stands in for a real transport
// in development.
type LogSink struct {
	Logger *slog.Logger
}

// Push implements Sink.
func (s LogSink) Push(_ context.Context, userID, text string) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("push", "user_id", userID, "text", text)
	return nil
}

// Multi pushes to every sink in order. A push is delivered once any
// sink accepts it; failures of the other sinks are logged and dropped
// so the caller does not retry a message the user already has. Only
// when every sink fails is the joined error returned.
type Multi struct {
	Sinks  []Sink
	Logger *slog.Logger
}

// Push implements Sink.
func (m Multi) Push(ctx context.Context, userID, text string) error {
	var errs []error
	for i, s := range m.Sinks {
		if err := s.Push(ctx, userID, text); err != nil {
			errs = append(errs, fmt.Errorf("sink %d (%T): %w", i, s, err))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == len(m.Sinks) {
		return errors.Join(errs...)
	}

	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	for _, err := range errs {
		logger.Warn("push partially delivered", "user_id", userID, "error", err)
	}
	return nil
}
