// internal/infra/shell/shell_task_runner.go
package shell

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"cron-engine/internal/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const waitDelay = 2 * time.Second

// shellTaskRunner runs one configured command per task. The payload reaches
// the command as JSON in TASK_PAYLOAD.
type shellTaskRunner struct {
	command string
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewShellTaskRunner creates a runner for command, executed with bash -c.
func NewShellTaskRunner(command string, logger *slog.Logger) domain.TaskRunner {
	return &shellTaskRunner{
		command: command,
		logger:  logger.With("runner", "shell"),
		tracer:  otel.Tracer("cron-engine-shell-runner"),
	}
}

func (e *shellTaskRunner) Run(ctx context.Context, kind string, payload map[string]any) (map[string]any, error) {
	ctx, span := e.tracer.Start(ctx, "runner.shell.Run",
		trace.WithAttributes(
			attribute.String("task.kind", kind),
			attribute.String("shell.command", e.command),
		))
	defer span.End()

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	e.logger.Info("executing shell command", "command", e.command, "task_kind", kind)

	cmd := exec.CommandContext(ctx, "bash", "-c", e.command)
	cmd.Env = append(os.Environ(), "TASK_KIND="+kind, "TASK_PAYLOAD="+string(encoded))
	// Children that keep the pipes open must not hold Run past cancellation.
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	output := stdout.String()
	errOutput := strings.TrimSpace(stderr.String())

	if output != "" {
		span.SetAttributes(attribute.String("shell.stdout", output))
	}
	if errOutput != "" {
		span.SetAttributes(attribute.String("shell.stderr", errOutput))
	}

	if err != nil {
		span.SetStatus(codes.Error, "shell command failed")
		span.RecordError(err)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errOutput != "" {
			return nil, fmt.Errorf("shell command failed: %w: %s", err, errOutput)
		}
		return nil, fmt.Errorf("shell command failed: %w", err)
	}

	result := map[string]any{"output": strings.TrimRight(output, "\n")}
	if errOutput != "" {
		result["stderr"] = errOutput
	}
	return result, nil
}
