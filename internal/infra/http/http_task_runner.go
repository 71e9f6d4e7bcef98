// internal/infra/http/http_task_runner.go
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"cron-engine/internal/domain"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// RunRequest is the body posted to a remote runner.
type RunRequest struct {
	TaskKind string         `json:"task_kind" validate:"required"`
	Payload  map[string]any `json:"payload"`
}

// RunResponse is a remote runner's answer. Exactly one field is set.
type RunResponse struct {
	Result map[string]any `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// RetryPolicy controls re-sending a request after a transient failure.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
}

// statusError is a non-2xx answer without a task error in the body.
type statusError struct {
	code   int
	status string
}

func (e *statusError) Error() string {
	if e.code >= 500 {
		return fmt.Sprintf("runner returned server error: %s", e.status)
	}
	return fmt.Sprintf("runner returned client error: %s", e.status)
}

// taskError is the error reported by the remote task itself.
type taskError struct{ msg string }

func (e *taskError) Error() string { return e.msg }

type httpTaskRunner struct {
	url    string
	method string
	retry  RetryPolicy
	client *http.Client
	logger *slog.Logger
	tracer trace.Tracer
}

type Option func(*httpTaskRunner)

func WithRetryPolicy(p RetryPolicy) Option {
	return func(r *httpTaskRunner) { r.retry = p }
}

func WithHTTPClient(c *http.Client) Option {
	return func(r *httpTaskRunner) { r.client = c }
}

// NewHttpTaskRunner returns a runner that hands tasks to the runner service at url.
func NewHttpTaskRunner(url, method string, logger *slog.Logger, opts ...Option) domain.TaskRunner {
	if method == "" {
		method = http.MethodPost
	}
	r := &httpTaskRunner{
		url:    url,
		method: method,
		retry:  RetryPolicy{MaxRetries: 2, Backoff: 500 * time.Millisecond},
		client: &http.Client{
			Timeout:   15 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger.With("runner", "http", "url", url),
		tracer: otel.Tracer("cron-engine-http-runner"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run sends the task and retries on timeouts and 5xx answers.
func (r *httpTaskRunner) Run(ctx context.Context, kind string, payload map[string]any) (map[string]any, error) {
	ctx, span := r.tracer.Start(ctx, "runner.http.Run",
		trace.WithAttributes(
			attribute.String("task.kind", kind),
			attribute.String("http.url", r.url),
		))
	defer span.End()

	body, err := json.Marshal(RunRequest{TaskKind: kind, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("failed to encode run request: %w", err)
	}

	result, err := r.send(ctx, kind, body)
	if err == nil {
		return result, nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, "remote run failed")
	var te *taskError
	if errors.As(err, &te) {
		return nil, te
	}
	return nil, fmt.Errorf("remote runner: %w", err)
}

// send posts body, retrying transient failures per the retry policy.
func (r *httpTaskRunner) send(ctx context.Context, kind string, body []byte) (map[string]any, error) {
	for attempt := 0; ; attempt++ {
		result, err := r.do(ctx, body)
		if err == nil {
			return result, nil
		}
		if !retriable(err) || attempt >= r.retry.MaxRetries {
			return nil, err
		}

		r.logger.Warn("runner call failed, retrying", "task_kind", kind, "attempt", attempt+1, "error", err)
		select {
		case <-time.After(r.retry.Backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (r *httpTaskRunner) do(ctx context.Context, body []byte) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, r.method, r.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read runner response: %w", err)
	}

	var out RunResponse
	decodeErr := json.Unmarshal(raw, &out)
	if decodeErr == nil && out.Error != "" {
		return nil, &taskError{msg: out.Error}
	}
	if resp.StatusCode >= 300 {
		return nil, &statusError{code: resp.StatusCode, status: resp.Status}
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("failed to decode runner response: %w", decodeErr)
	}
	if out.Result == nil {
		out.Result = map[string]any{}
	}
	return out.Result, nil
}

func retriable(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var se *statusError
	return errors.As(err, &se) && se.code >= 500
}
