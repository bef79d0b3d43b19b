package jobqueue

import "context"

type ctxKey int

const (
	runIDKey ctxKey = iota
	jobKeyKey
)

func withRun(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

func withJob(ctx context.Context, key Key) context.Context {
	return context.WithValue(ctx, jobKeyKey, key)
}

// RunIDFromContext returns the run a processor call belongs to.
func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey).(string)
	return id
}

// JobKeyFromContext returns the key of the item being processed.
func JobKeyFromContext(ctx context.Context) (Key, bool) {
	key, ok := ctx.Value(jobKeyKey).(Key)
	return key, ok
}
