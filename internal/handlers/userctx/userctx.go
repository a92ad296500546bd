package userctx

import (
	"context"
)

type ctxKey string

const userKey ctxKey = "user"

// Create a new context with the user id
func New(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey, userID)
}

// Extract the user id from the context
func FromContext(ctx context.Context) (string, bool) {
	u, ok := ctx.Value(userKey).(string)
	return u, ok && u != ""
}
