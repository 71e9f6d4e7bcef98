package http

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"cron-engine/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func echoRunner() domain.TaskRunner {
	return domain.TaskRunnerFunc(func(_ context.Context, kind string, payload map[string]any) (map[string]any, error) {
		if kind == "broken" {
			return nil, errors.New("disk full")
		}
		return map[string]any{"kind": kind, "n": payload["n"]}, nil
	})
}

func TestHttpTaskRunner_RoundTrip(t *testing.T) {
	srv := httptest.NewServer(NewRunnerHandler(echoRunner(), discard))
	defer srv.Close()

	runner := NewHttpTaskRunner(srv.URL, "", discard)
	result, err := runner.Run(context.Background(), "report", map[string]any{"n": 2})
	require.NoError(t, err)
	// JSON numbers come back as float64.
	assert.Equal(t, map[string]any{"kind": "report", "n": float64(2)}, result)
}

func TestHttpTaskRunner_TaskErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	handler := NewRunnerHandler(echoRunner(), discard)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler.ServeHTTP(w, r)
	}))
	defer srv.Close()

	runner := NewHttpTaskRunner(srv.URL, http.MethodPost, discard, WithRetryPolicy(RetryPolicy{MaxRetries: 3, Backoff: time.Millisecond}))
	_, err := runner.Run(context.Background(), "broken", nil)
	assert.EqualError(t, err, "disk full")
	assert.EqualValues(t, 1, calls.Load())
}

func TestHttpTaskRunner_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":{"ok":true}}`))
	}))
	defer srv.Close()

	runner := NewHttpTaskRunner(srv.URL, "", discard, WithRetryPolicy(RetryPolicy{MaxRetries: 2, Backoff: time.Millisecond}))
	result, err := runner.Run(context.Background(), "sync", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ok": true}, result)
	assert.EqualValues(t, 3, calls.Load())
}

func TestHttpTaskRunner_GivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	runner := NewHttpTaskRunner(srv.URL, "", discard, WithRetryPolicy(RetryPolicy{MaxRetries: 1, Backoff: time.Millisecond}))
	_, err := runner.Run(context.Background(), "sync", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server error")
	assert.EqualValues(t, 2, calls.Load())
}

func TestHttpTaskRunner_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	runner := NewHttpTaskRunner(srv.URL, "", discard, WithRetryPolicy(RetryPolicy{MaxRetries: 3, Backoff: time.Millisecond}))
	_, err := runner.Run(context.Background(), "sync", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client error")
	assert.EqualValues(t, 1, calls.Load())
}

func TestHttpTaskRunner_ContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	runner := NewHttpTaskRunner(srv.URL, "", discard, WithRetryPolicy(RetryPolicy{MaxRetries: 5, Backoff: 50 * time.Millisecond}))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := runner.Run(ctx, "data_export", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunnerHandler_BadRequests(t *testing.T) {
	h := NewRunnerHandler(echoRunner(), discard)

	for _, body := range []string{`not json`, `{"payload":{}}`} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/run", strings.NewReader(body)))
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Contains(t, rec.Body.String(), `"error"`)
	}
}
