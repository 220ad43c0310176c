package auth

import (
	"context"
	"strings"
)

type contextKey string

const actorKey contextKey = "actor"

// AnonymousActor is recorded when a request names no user.
const AnonymousActor = "anonymous"

// ContextWithActor returns a new context that carries the acting user.
func ContextWithActor(ctx context.Context, actor string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorKey, strings.TrimSpace(actor))
}

// ActorFromContext retrieves the acting user from the context, if any.
func ActorFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	actor, ok := ctx.Value(actorKey).(string)
	if !ok || actor == "" {
		return "", false
	}
	return actor, true
}

// Actor returns the acting user or AnonymousActor.
func Actor(ctx context.Context) string {
	if actor, ok := ActorFromContext(ctx); ok {
		return actor
	}
	return AnonymousActor
}
