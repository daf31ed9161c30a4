package llm

import (
	"context"
	"log/slog"
	"time"
)

// RetryPolicy is applied uniformly to every model call.
type RetryPolicy struct {
	// MaxAttempts against the requested model, at least 1.
	MaxAttempts int
	// FallbackModel gets one final attempt once MaxAttempts are spent.
	// Empty disables fallback.
	FallbackModel string
	// Backoff is the wait between attempts, doubled each time.
	Backoff time.Duration
	// CallTimeout bounds each individual attempt. Zero means no bound
	// beyond the caller's context.
	CallTimeout time.Duration
}

// RetryClient wraps a Client with a RetryPolicy.
type RetryClient struct {
	next   Client
	policy RetryPolicy
	logger *slog.Logger
}

// NewRetryClient wraps next.
func NewRetryClient(next Client, policy RetryPolicy, logger *slog.Logger) *RetryClient {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryClient{next: next, policy: policy, logger: logger}
}

// Chat sends a chat request under the retry policy.
func (r *RetryClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	return r.run(ctx, model, func(ctx context.Context, m string) (*ChatResponse, error) {
		return r.next.Chat(ctx, m, messages, tools)
	})
}

// ChatSchema sends a structured request under the retry policy.
func (r *RetryClient) ChatSchema(ctx context.Context, model string, messages []Message, schema *Schema) (*ChatResponse, error) {
	return r.run(ctx, model, func(ctx context.Context, m string) (*ChatResponse, error) {
		return r.next.ChatSchema(ctx, m, messages, schema)
	})
}

// Ping passes through without retries.
func (r *RetryClient) Ping(ctx context.Context) error {
	return r.next.Ping(ctx)
}

type callFunc func(ctx context.Context, model string) (*ChatResponse, error)

func (r *RetryClient) run(ctx context.Context, model string, call callFunc) (*ChatResponse, error) {
	var lastErr error
	delay := r.policy.Backoff

	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		resp, err := r.attempt(ctx, model, call)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !isRetryable(err) {
			break
		}

		r.logger.Warn("model call failed",
			"model", model,
			"attempt", attempt,
			"max_attempts", r.policy.MaxAttempts,
			"error", err,
		)

		if attempt < r.policy.MaxAttempts && delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
			delay *= 2
		}
	}

	if r.policy.FallbackModel == "" || r.policy.FallbackModel == model {
		return nil, lastErr
	}

	r.logger.Warn("falling back to secondary model",
		"model", model,
		"fallback", r.policy.FallbackModel,
		"error", lastErr,
	)
	resp, err := r.attempt(ctx, r.policy.FallbackModel, call)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (r *RetryClient) attempt(ctx context.Context, model string, call callFunc) (*ChatResponse, error) {
	if r.policy.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.policy.CallTimeout)
		defer cancel()
	}
	return call(ctx, model)
}
