package audit

import (
	"context"
	"strings"
)

type ctxKey string

const (
	requestIDKey ctxKey = "audit_request_id"
	actorKey     ctxKey = "audit_actor"
)

// SystemActor is recorded when no actor is attached to the context.
var SystemActor = Actor{ID: "system", Name: "system", Role: "system"}

// Actor identifies who performed an audited action.
type Actor struct {
	ID   string
	Name string
	Role string
}

// WithActor attaches the acting principal to the context for audit logging.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey, a)
}

// ActorFromContext returns the attached actor or SystemActor.
func ActorFromContext(ctx context.Context) Actor {
	if ctx == nil {
		return SystemActor
	}
	if a, ok := ctx.Value(actorKey).(Actor); ok && a.ID != "" {
		return a
	}
	return SystemActor
}

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}
