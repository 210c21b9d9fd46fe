package logger

import "context"

type runIDKey struct{}

// WithRunID tags ctx with an inference run id. Loggers derived with
// WithContext then carry a run_id field, so every line of one run can be
// grepped out of a busy log.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFromContext returns the run id set by WithRunID, or "".
func RunIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}
