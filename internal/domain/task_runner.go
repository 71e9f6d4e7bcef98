package domain

import "context"

// TaskRunner performs the work named by a task kind. It is invoked once per
// run attempt and must be safe for concurrent use.
type TaskRunner interface {
	Run(ctx context.Context, taskKind string, payload map[string]any) (map[string]any, error)
}

// TaskRunnerFunc adapts a function to TaskRunner.
type TaskRunnerFunc func(ctx context.Context, taskKind string, payload map[string]any) (map[string]any, error)

func (f TaskRunnerFunc) Run(ctx context.Context, taskKind string, payload map[string]any) (map[string]any, error) {
	return f(ctx, taskKind, payload)
}
