package model

import "context"

type contextKey string

const (
	ContextRequestID contextKey = "requestID"
	ContextJobID     contextKey = "jobID"
)

// WithRequestID tags ctx with the id sent as X-Request-Id on remote calls.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ContextRequestID, id)
}

// RequestID returns the request id stored in ctx, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ContextRequestID).(string)
	return id
}

// WithJobID tags ctx with the remote job being worked on.
func WithJobID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, ContextJobID, id)
}

// JobID returns the job id stored in ctx and whether one was set.
func JobID(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(ContextJobID).(int64)
	return id, ok
}
