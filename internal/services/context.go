package services

import "context"

type contextKey string

const (
	releaseIDKey contextKey = "release_id"
	stageKey     contextKey = "stage"
	runIDKey     contextKey = "run_id"
)

// WithReleaseID annotates context with the release identifier.
func WithReleaseID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, releaseIDKey, id)
}

// ReleaseIDFromContext extracts the release identifier if present.
func ReleaseIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(releaseIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithStage annotates context with the pipeline stage name.
func WithStage(ctx context.Context, stage string) context.Context {
	if stage == "" {
		return ctx
	}
	return context.WithValue(ctx, stageKey, stage)
}

// StageFromContext returns the stage name if present.
func StageFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(stageKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithRunID annotates context with the correlation identifier for one
// pipeline invocation.
func WithRunID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, runIDKey, id)
}

// RunIDFromContext extracts the run correlation identifier if present.
func RunIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(runIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
