// Package memory keeps each user's recent conversation window. The
// window is a bounded FIFO: after every turn it is trimmed to the last
// 2*size messages (size user/assistant exchanges).
package memory

import (
	"context"
	"errors"
	"time"

	"github.com/nugget/aline-bot/internal/llm"
)

// DefaultSize is the number of exchanges kept per user.
const DefaultSize = 10

// ErrPersistence wraps storage faults.
var ErrPersistence = errors.New("memory persistence fault")

// Message is one entry of a conversation window.
type Message struct {
	Role      string    `json:"role"` // user or assistant
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Store loads and replaces conversation windows.
type Store interface {
	Load(ctx context.Context, userID string) ([]Message, error)
	Save(ctx context.Context, userID string, window []Message) error
	Clear(ctx context.Context, userID string) error
}

// Trim returns the last 2*size messages of msgs in their original
// order. size <= 0 uses DefaultSize.
func Trim(msgs []Message, size int) []Message {
	if size <= 0 {
		size = DefaultSize
	}
	limit := 2 * size
	if len(msgs) <= limit {
		return msgs
	}
	return msgs[len(msgs)-limit:]
}

// ToLLM converts a window to model messages.
func ToLLM(msgs []Message) []llm.Message {
	out := make([]llm.Message, len(msgs))
	for i, m := range msgs {
		out[i] = llm.Message{Role: m.Role, Content: m.Content}
	}
	return out
}
