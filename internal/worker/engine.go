// internal/worker/engine.go
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"cron-engine/internal/domain"
	"cron-engine/internal/metrics"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

// ErrEngineClosed is returned by Submit and Retry after Shutdown.
var ErrEngineClosed = errors.New("engine is shut down")

// DefaultTimeout bounds a task runner call when no per-kind timeout is set.
const DefaultTimeout = 30 * time.Second

// SubmitRequest is the input of Submit.
type SubmitRequest struct {
	TaskKind string
	Payload  map[string]any
	// Priority is recorded on the job but does not reorder execution.
	Priority int
	Origin   domain.Origin
}

// Engine owns the job table and runs every job in its own goroutine.
type Engine struct {
	mu     sync.RWMutex
	jobs   map[string]*jobEntry
	order  []*jobEntry
	closed bool
	wg     sync.WaitGroup

	runner  domain.TaskRunner
	history domain.ExecutionHistory
	store   domain.JobStore
	// sem is nil unless a concurrency cap was configured.
	sem *semaphore.Weighted

	timeoutMu      sync.RWMutex
	timeouts       map[string]time.Duration
	defaultTimeout time.Duration

	clock  func() time.Time
	logger *slog.Logger
	tracer trace.Tracer
}

// jobEntry.mu serializes every transition of one job. Each transition bumps
// version; saveMu orders the store writes and saved drops any snapshot older
// than one already written, even when a retry races the previous attempt.
type jobEntry struct {
	mu      sync.Mutex
	job     domain.Job
	version uint64

	saveMu sync.Mutex
	saved  uint64
}

func newJobEntry(job domain.Job) *jobEntry {
	return &jobEntry{job: job, version: 1}
}

func (e *jobEntry) snapshot() domain.Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job.Clone()
}

// versioned returns the current job and the transition it reflects.
func (e *jobEntry) versioned() (domain.Job, uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job.Clone(), e.version
}

type Option func(*Engine)

func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithJobStore persists every job transition.
func WithJobStore(s domain.JobStore) Option {
	return func(e *Engine) { e.store = s }
}

// WithTimeouts sets the default and per-task-kind run timeouts.
func WithTimeouts(defaultTimeout time.Duration, perKind map[string]time.Duration) Option {
	return func(e *Engine) {
		if defaultTimeout > 0 {
			e.defaultTimeout = defaultTimeout
		}
		e.timeouts = maps.Clone(perKind)
	}
}

// WithMaxConcurrent caps how many jobs call the runner at once. Jobs over the
// cap wait in queued. n <= 0 leaves execution unbounded.
func WithMaxConcurrent(n int64) Option {
	return func(e *Engine) {
		if n > 0 {
			e.sem = semaphore.NewWeighted(n)
		}
	}
}

func NewEngine(runner domain.TaskRunner, history domain.ExecutionHistory, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		jobs:           make(map[string]*jobEntry),
		runner:         runner,
		history:        history,
		defaultTimeout: DefaultTimeout,
		clock:          time.Now,
		logger:         logger.With("component", "job-engine"),
		tracer:         otel.Tracer("cron-engine-worker"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Submit creates a queued job and starts it in the background. It returns
// as soon as the job is in the table.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	ctx, span := e.tracer.Start(ctx, "engine.Submit",
		trace.WithAttributes(attribute.String("task.kind", req.TaskKind)))
	defer span.End()

	origin := req.Origin
	if origin.Kind == "" {
		origin = domain.DirectOrigin()
	}
	job := domain.Job{
		ID:        uuid.NewString(),
		TaskKind:  req.TaskKind,
		Payload:   domain.ClonePayload(req.Payload),
		Priority:  req.Priority,
		Origin:    origin,
		Status:    domain.JobStatusQueued,
		CreatedAt: e.clock(),
	}
	if err := job.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid job")
		return "", err
	}
	entry := newJobEntry(job)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return "", ErrEngineClosed
	}
	e.jobs[job.ID] = entry
	e.order = append(e.order, entry)
	e.wg.Add(1)
	e.mu.Unlock()

	metrics.JobTransitionsTotal.WithLabelValues(job.TaskKind, string(domain.JobStatusQueued)).Inc()
	span.SetAttributes(attribute.String("job.id", job.ID))
	e.logger.Info("job submitted", "job_id", job.ID, "task_kind", job.TaskKind, "origin", job.Origin.Kind, "trigger_id", job.Origin.TriggerID)

	go e.runJob(trace.SpanContextFromContext(ctx), entry)
	return job.ID, nil
}

// DispatchFire submits the job for a trigger firing.
func (e *Engine) DispatchFire(ctx context.Context, ev domain.FireEvent) (string, error) {
	return e.Submit(ctx, SubmitRequest{
		TaskKind: ev.TaskKind,
		Payload:  ev.Payload,
		Origin:   domain.TriggerOrigin(ev.TriggerID),
	})
}

// Retry re-runs a failed job. Any other state is rejected and left untouched.
func (e *Engine) Retry(ctx context.Context, id string) error {
	ctx, span := e.tracer.Start(ctx, "engine.Retry", trace.WithAttributes(attribute.String("job.id", id)))
	defer span.End()

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrEngineClosed
	}
	entry, ok := e.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	}

	entry.mu.Lock()
	if entry.job.Status != domain.JobStatusFailed {
		status := entry.job.Status
		entry.mu.Unlock()
		err := domain.NewInvalidStateError("job", id, status, domain.JobStatusFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, "retry rejected")
		return err
	}
	now := e.clock()
	j := &entry.job
	j.Status = domain.JobStatusQueued
	j.RetriedAt = &now
	j.StartedAt = nil
	j.CompletedAt = nil
	j.FailedAt = nil
	j.Result = nil
	j.Error = ""
	j.ErrorKind = ""
	entry.version++
	kind := j.TaskKind
	entry.mu.Unlock()

	e.wg.Add(1)
	metrics.JobTransitionsTotal.WithLabelValues(kind, string(domain.JobStatusQueued)).Inc()
	e.logger.Info("job retried", "job_id", id, "task_kind", kind)

	go e.runJob(trace.SpanContextFromContext(ctx), entry)
	return nil
}

// runJob drives one attempt from queued to a terminal state.
func (e *Engine) runJob(parent trace.SpanContext, entry *jobEntry) {
	defer e.wg.Done()

	queued, version := entry.versioned()
	ctx, span := e.tracer.Start(context.Background(), "engine.runJob",
		trace.WithLinks(trace.Link{SpanContext: parent}),
		trace.WithAttributes(
			attribute.String("job.id", queued.ID),
			attribute.String("task.kind", queued.TaskKind),
		))
	defer span.End()
	logger := e.logger.With("job_id", queued.ID, "task_kind", queued.TaskKind)

	e.persist(ctx, entry, queued, version)

	if e.sem != nil {
		// Acquire only fails on a done context and ctx is never cancelled.
		_ = e.sem.Acquire(ctx, 1)
		defer e.sem.Release(1)
	}

	entry.mu.Lock()
	now := e.clock()
	entry.job.Status = domain.JobStatusRunning
	entry.job.StartedAt = &now
	entry.job.Attempts++
	entry.version++
	running, version := entry.job.Clone(), entry.version
	entry.mu.Unlock()

	metrics.JobTransitionsTotal.WithLabelValues(running.TaskKind, string(domain.JobStatusRunning)).Inc()
	metrics.JobsRunning.Inc()
	e.persist(ctx, entry, running, version)
	logger.Info("job running", "attempt", running.Attempts)

	start := time.Now()
	result, runErr := e.invoke(ctx, running)
	metrics.JobsRunning.Dec()

	final := e.finish(ctx, entry, result, runErr, time.Since(start))
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, "job failed")
		logger.Warn("job failed", "error_kind", final.ErrorKind, "error", final.Error)
		return
	}
	span.SetStatus(codes.Ok, "job completed")
	logger.Info("job completed", "duration", time.Since(start))
}

// finish records the terminal transition of the current attempt together
// with its execution record.
func (e *Engine) finish(ctx context.Context, entry *jobEntry, result map[string]any, runErr *domain.TaskExecutionError, took time.Duration) domain.Job {
	entry.mu.Lock()
	now := e.clock()
	j := &entry.job
	if runErr != nil {
		j.Status = domain.JobStatusFailed
		j.FailedAt = &now
		j.Error = runErr.Message
		j.ErrorKind = runErr.Kind
		j.Result = nil
	} else {
		if result == nil {
			result = map[string]any{}
		}
		j.Status = domain.JobStatusCompleted
		j.CompletedAt = &now
		j.Result = result
	}
	entry.version++
	final, version := j.Clone(), entry.version
	if e.history != nil {
		e.history.Append(domain.NewExecutionRecord(final))
	}
	entry.mu.Unlock()

	metrics.JobTransitionsTotal.WithLabelValues(final.TaskKind, string(final.Status)).Inc()
	metrics.JobRunDuration.WithLabelValues(final.TaskKind, string(final.Status)).Observe(took.Seconds())
	e.persist(ctx, entry, final, version)
	return final
}

type runOutcome struct {
	result map[string]any
	err    error
}

// invoke calls the runner under the task kind's timeout. A runner that
// ignores its context is abandoned once the timeout fires.
func (e *Engine) invoke(ctx context.Context, job domain.Job) (map[string]any, *domain.TaskExecutionError) {
	timeout := e.timeoutFor(job.TaskKind)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan runOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- runOutcome{err: &domain.TaskExecutionError{Kind: domain.TaskErrorPanic, Message: fmt.Sprintf("panic: %v", r)}}
			}
		}()
		result, err := e.runner.Run(ctx, job.TaskKind, domain.ClonePayload(job.Payload))
		done <- runOutcome{result: result, err: err}
	}()

	timedOut := &domain.TaskExecutionError{
		Kind:    domain.TaskErrorTimeout,
		Message: fmt.Sprintf("task %s exceeded timeout of %s", job.TaskKind, timeout),
	}
	select {
	case out := <-done:
		if out.err == nil {
			return out.result, nil
		}
		var taskErr *domain.TaskExecutionError
		switch {
		case errors.As(out.err, &taskErr):
			return nil, taskErr
		case errors.Is(out.err, context.DeadlineExceeded) && ctx.Err() != nil:
			return nil, timedOut
		default:
			return nil, &domain.TaskExecutionError{Kind: domain.TaskErrorFailed, Message: out.err.Error()}
		}
	case <-ctx.Done():
		return nil, timedOut
	}
}

func (e *Engine) timeoutFor(kind string) time.Duration {
	e.timeoutMu.RLock()
	defer e.timeoutMu.RUnlock()
	if d, ok := e.timeouts[kind]; ok && d > 0 {
		return d
	}
	return e.defaultTimeout
}

// SetTimeouts swaps the timeout table. Running attempts keep the timeout they
// started with.
func (e *Engine) SetTimeouts(defaultTimeout time.Duration, perKind map[string]time.Duration) {
	e.timeoutMu.Lock()
	defer e.timeoutMu.Unlock()
	if defaultTimeout > 0 {
		e.defaultTimeout = defaultTimeout
	}
	e.timeouts = maps.Clone(perKind)
	e.logger.Info("task timeouts updated", "default", e.defaultTimeout, "kinds", len(e.timeouts))
}

func (e *Engine) Get(id string) (domain.Job, error) {
	e.mu.RLock()
	entry, ok := e.jobs[id]
	e.mu.RUnlock()
	if !ok {
		return domain.Job{}, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	}
	return entry.snapshot(), nil
}

// ListByStatus returns the jobs currently in one of the given statuses in
// submission order. No status selects every job.
func (e *Engine) ListByStatus(statuses ...domain.JobStatus) []domain.Job {
	out := []domain.Job{}
	for _, entry := range e.entries() {
		job := entry.snapshot()
		if len(statuses) == 0 || slices.Contains(statuses, job.Status) {
			out = append(out, job)
		}
	}
	return out
}

// Counts returns how many jobs are in each status right now.
func (e *Engine) Counts() map[domain.JobStatus]int {
	counts := make(map[domain.JobStatus]int, len(domain.JobStatuses))
	for _, s := range domain.JobStatuses {
		counts[s] = 0
	}
	for _, entry := range e.entries() {
		entry.mu.Lock()
		counts[entry.job.Status]++
		entry.mu.Unlock()
	}
	return counts
}

func (e *Engine) Total() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.order)
}

func (e *Engine) entries() []*jobEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.order)
}

// Restore loads persisted jobs. A job that was queued or running when the
// previous process stopped is failed as interrupted so it can be retried.
func (e *Engine) Restore(ctx context.Context) (int, error) {
	if e.store == nil {
		return 0, nil
	}
	jobs, err := e.store.ListJobs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list persisted jobs: %w", err)
	}
	slices.SortFunc(jobs, func(a, b domain.Job) int { return a.CreatedAt.Compare(b.CreatedAt) })

	var interrupted []*jobEntry
	var failed []domain.Job
	restored := 0
	e.mu.Lock()
	for _, job := range jobs {
		if _, exists := e.jobs[job.ID]; exists {
			continue
		}
		if err := job.Validate(); err != nil {
			e.logger.Warn("skipping invalid persisted job", "job_id", job.ID, "error", err)
			continue
		}
		wasActive := !job.Status.Terminal()
		if wasActive {
			now := e.clock()
			job.Status = domain.JobStatusFailed
			job.FailedAt = &now
			job.Result = nil
			job.Error = "interrupted by restart"
			job.ErrorKind = domain.TaskErrorInterrupted
		}
		entry := newJobEntry(job)
		if wasActive {
			failed = append(failed, job.Clone())
			interrupted = append(interrupted, entry)
		}
		e.jobs[job.ID] = entry
		e.order = append(e.order, entry)
		restored++
	}
	e.mu.Unlock()

	for i, job := range failed {
		if e.history != nil {
			e.history.Append(domain.NewExecutionRecord(job))
		}
		e.persist(ctx, interrupted[i], job, 1)
	}
	e.logger.Info("jobs restored", "count", restored, "interrupted", len(interrupted))
	return restored, nil
}

// Shutdown stops accepting work and waits for running jobs until ctx is done.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		e.logger.Info("job engine drained")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("job engine shutdown: %w", ctx.Err())
	}
}

// persist writes the snapshot taken at the given version of entry. A snapshot
// older than one already written is dropped.
func (e *Engine) persist(ctx context.Context, entry *jobEntry, job domain.Job, version uint64) {
	if e.store == nil {
		return
	}
	entry.saveMu.Lock()
	defer entry.saveMu.Unlock()
	if version <= entry.saved {
		return
	}
	entry.saved = version
	if err := e.store.SaveJob(context.WithoutCancel(ctx), job); err != nil {
		e.logger.Warn("failed to persist job", "job_id", job.ID, "status", job.Status, "error", err)
	}
}
