package tools

import "context"

type contextKey string

const userIDKey contextKey = "user_id"

// WithUserID records which user a turn runs for, so per-user tools
// (schedules, profile memory) act on the right account.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

// UserIDFromContext returns the user ID, or "" if none was set.
func UserIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(userIDKey).(string); ok {
		return id
	}
	return ""
}
