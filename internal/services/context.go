package services

import "context"

type contextKey string

const (
	entityIDContextKey contextKey = "entityID"
	runIDContextKey    contextKey = "runID"
	stepContextKey     contextKey = "step"
)

// WithEntityID stamps the poster or account entity ID onto the context so
// downstream logging can correlate work with its entity.
func WithEntityID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, entityIDContextKey, id)
}

// EntityIDFromContext extracts the entity ID stamped by WithEntityID.
func EntityIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(entityIDContextKey).(string)
	return id, ok && id != ""
}

// WithRunID stamps the enrichment run ID onto the context.
func WithRunID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, runIDContextKey, id)
}

// RunIDFromContext extracts the run ID stamped by WithRunID.
func RunIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(runIDContextKey).(string)
	return id, ok && id != ""
}

// WithStep stamps the current workflow step name onto the context.
func WithStep(ctx context.Context, step string) context.Context {
	if step == "" {
		return ctx
	}
	return context.WithValue(ctx, stepContextKey, step)
}

// StepFromContext extracts the step name stamped by WithStep.
func StepFromContext(ctx context.Context) (string, bool) {
	step, ok := ctx.Value(stepContextKey).(string)
	return step, ok && step != ""
}
