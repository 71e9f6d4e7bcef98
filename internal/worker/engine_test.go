package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cron-engine/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type mockHistory struct {
	mu      sync.Mutex
	records []domain.ExecutionRecord
}

func (m *mockHistory) Append(r domain.ExecutionRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
}

func (m *mockHistory) Recent(n int) []domain.ExecutionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	n = min(n, len(m.records))
	return append([]domain.ExecutionRecord(nil), m.records[len(m.records)-n:]...)
}

func (m *mockHistory) TotalCount() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.records))
}

func (m *mockHistory) forJob(id string) []domain.ExecutionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ExecutionRecord
	for _, r := range m.records {
		if r.JobID == id {
			out = append(out, r)
		}
	}
	return out
}

// gatedRunner blocks every call until release is closed and can be told to
// fail the next calls.
type gatedRunner struct {
	release  chan struct{}
	started  chan string
	failures atomic.Int32
	calls    atomic.Int32
}

func newGatedRunner() *gatedRunner {
	return &gatedRunner{release: make(chan struct{}), started: make(chan string, 64)}
}

func (g *gatedRunner) Run(ctx context.Context, kind string, payload map[string]any) (map[string]any, error) {
	g.calls.Add(1)
	g.started <- kind
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if g.failures.Add(-1) >= 0 {
		return nil, errors.New("upstream unavailable")
	}
	return map[string]any{"kind": kind, "echo": payload["n"]}, nil
}

func waitStatus(t *testing.T, e *Engine, id string, want domain.JobStatus) domain.Job {
	t.Helper()
	var job domain.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = e.Get(id)
		return err == nil && job.Status == want
	}, 2*time.Second, 5*time.Millisecond, "job %s never reached %s", id, want)
	return job
}

func TestEngine_SubmitRunsToCompletion(t *testing.T) {
	runner := newGatedRunner()
	history := &mockHistory{}
	e := NewEngine(runner, history, discard)

	id, err := e.Submit(context.Background(), SubmitRequest{TaskKind: "transform", Payload: map[string]any{"n": 3}, Priority: 5})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	<-runner.started
	running := waitStatus(t, e, id, domain.JobStatusRunning)
	require.NotNil(t, running.StartedAt)
	assert.Nil(t, running.CompletedAt)
	assert.Equal(t, 1, running.Attempts)
	assert.Equal(t, domain.DirectOrigin(), running.Origin)
	assert.Equal(t, 5, running.Priority)

	close(runner.release)
	done := waitStatus(t, e, id, domain.JobStatusCompleted)
	assert.Equal(t, map[string]any{"kind": "transform", "echo": 3}, done.Result)
	assert.Empty(t, done.Error)
	assert.Nil(t, done.FailedAt)
	require.NotNil(t, done.CompletedAt)

	recs := history.forJob(id)
	require.Len(t, recs, 1)
	assert.Equal(t, domain.JobStatusCompleted, recs[0].Status)
	assert.Equal(t, done.Result, recs[0].Result)
}

func TestEngine_SubmitReturnsQueuedImmediately(t *testing.T) {
	runner := newGatedRunner()
	e := NewEngine(runner, &mockHistory{}, discard, WithMaxConcurrent(1))

	first, err := e.Submit(context.Background(), SubmitRequest{TaskKind: "a"})
	require.NoError(t, err)
	<-runner.started

	second, err := e.Submit(context.Background(), SubmitRequest{TaskKind: "b"})
	require.NoError(t, err)
	job, err := e.Get(second)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusQueued, job.Status)
	assert.Nil(t, job.StartedAt)

	close(runner.release)
	waitStatus(t, e, first, domain.JobStatusCompleted)
	waitStatus(t, e, second, domain.JobStatusCompleted)
}

func TestEngine_SubmitRejectsMalformedInput(t *testing.T) {
	e := NewEngine(newGatedRunner(), &mockHistory{}, discard)

	_, err := e.Submit(context.Background(), SubmitRequest{TaskKind: "  "})
	assert.ErrorIs(t, err, domain.ErrInvalidJob)

	_, err = e.Submit(context.Background(), SubmitRequest{TaskKind: "x", Origin: domain.Origin{Kind: domain.OriginTrigger}})
	assert.ErrorIs(t, err, domain.ErrInvalidJob)
	assert.Zero(t, e.Total())
}

func TestEngine_UnknownTaskKindIsAccepted(t *testing.T) {
	runner := domain.TaskRunnerFunc(func(_ context.Context, kind string, _ map[string]any) (map[string]any, error) {
		return nil, &domain.TaskExecutionError{Kind: domain.TaskErrorFailed, Message: "unsupported task kind " + kind}
	})
	e := NewEngine(runner, &mockHistory{}, discard)

	id, err := e.Submit(context.Background(), SubmitRequest{TaskKind: "no-such-kind"})
	require.NoError(t, err)
	job := waitStatus(t, e, id, domain.JobStatusFailed)
	assert.Equal(t, "unsupported task kind no-such-kind", job.Error)
}

func TestEngine_FailureThenRetry(t *testing.T) {
	runner := newGatedRunner()
	runner.failures.Store(1)
	close(runner.release)
	history := &mockHistory{}
	e := NewEngine(runner, history, discard)

	id, err := e.Submit(context.Background(), SubmitRequest{TaskKind: "data_sync"})
	require.NoError(t, err)

	failed := waitStatus(t, e, id, domain.JobStatusFailed)
	assert.Equal(t, "upstream unavailable", failed.Error)
	assert.Equal(t, domain.TaskErrorFailed, failed.ErrorKind)
	assert.Nil(t, failed.Result)
	require.NotNil(t, failed.FailedAt)

	recs := history.forJob(id)
	require.Len(t, recs, 1)
	assert.Equal(t, domain.JobStatusFailed, recs[0].Status)
	assert.Equal(t, "upstream unavailable", recs[0].Error)

	require.NoError(t, e.Retry(context.Background(), id))
	done := waitStatus(t, e, id, domain.JobStatusCompleted)
	assert.Equal(t, 2, done.Attempts)
	assert.Empty(t, done.Error)
	assert.Empty(t, done.ErrorKind)
	assert.Nil(t, done.FailedAt)
	require.NotNil(t, done.RetriedAt)
	assert.EqualValues(t, 2, runner.calls.Load())
	assert.Len(t, history.forJob(id), 2)
}

func TestEngine_RetryResetsToQueued(t *testing.T) {
	calls := atomic.Int32{}
	block := make(chan struct{})
	runner := domain.TaskRunnerFunc(func(ctx context.Context, _ string, _ map[string]any) (map[string]any, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("boom")
		}
		<-block
		return nil, nil
	})
	e := NewEngine(runner, &mockHistory{}, discard, WithMaxConcurrent(1))

	// Occupy the single slot so the retried job stays visibly queued.
	id, err := e.Submit(context.Background(), SubmitRequest{TaskKind: "report"})
	require.NoError(t, err)
	waitStatus(t, e, id, domain.JobStatusFailed)

	holder, err := e.Submit(context.Background(), SubmitRequest{TaskKind: "hold"})
	require.NoError(t, err)
	waitStatus(t, e, holder, domain.JobStatusRunning)

	require.NoError(t, e.Retry(context.Background(), id))
	job, err := e.Get(id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusQueued, job.Status)
	assert.Empty(t, job.Error)
	assert.Nil(t, job.FailedAt)
	assert.Nil(t, job.StartedAt)

	close(block)
	done := waitStatus(t, e, id, domain.JobStatusCompleted)
	assert.Equal(t, map[string]any{}, done.Result, "a nil result is stored as an empty map")
}

func TestEngine_RetryRejectedOutsideFailed(t *testing.T) {
	runner := newGatedRunner()
	e := NewEngine(runner, &mockHistory{}, discard)

	err := e.Retry(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	id, err := e.Submit(context.Background(), SubmitRequest{TaskKind: "cleanup"})
	require.NoError(t, err)
	<-runner.started
	before := waitStatus(t, e, id, domain.JobStatusRunning)

	err = e.Retry(context.Background(), id)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	after, _ := e.Get(id)
	assert.Equal(t, before, after, "a rejected retry leaves the job untouched")

	close(runner.release)
	completed := waitStatus(t, e, id, domain.JobStatusCompleted)
	assert.ErrorIs(t, e.Retry(context.Background(), id), domain.ErrInvalidState)
	after, _ = e.Get(id)
	assert.Equal(t, completed, after)
}

func TestEngine_Timeout(t *testing.T) {
	stubborn := domain.TaskRunnerFunc(func(context.Context, string, map[string]any) (map[string]any, error) {
		time.Sleep(300 * time.Millisecond)
		return map[string]any{"late": true}, nil
	})
	history := &mockHistory{}
	e := NewEngine(stubborn, history, discard, WithTimeouts(time.Minute, map[string]time.Duration{"backup": 20 * time.Millisecond}))

	id, err := e.Submit(context.Background(), SubmitRequest{TaskKind: "backup"})
	require.NoError(t, err)
	job := waitStatus(t, e, id, domain.JobStatusFailed)
	assert.Equal(t, domain.TaskErrorTimeout, job.ErrorKind)
	assert.Contains(t, job.Error, "exceeded timeout")
	assert.Nil(t, job.Result)

	// The abandoned call finishing later does not produce a second transition.
	time.Sleep(400 * time.Millisecond)
	after, _ := e.Get(id)
	assert.Equal(t, job, after)
	assert.Len(t, history.forJob(id), 1)
}

func TestEngine_SetTimeouts(t *testing.T) {
	runner := domain.TaskRunnerFunc(func(ctx context.Context, _ string, _ map[string]any) (map[string]any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	e := NewEngine(runner, &mockHistory{}, discard, WithTimeouts(time.Minute, nil))
	e.SetTimeouts(0, map[string]time.Duration{"export": 10 * time.Millisecond})

	id, err := e.Submit(context.Background(), SubmitRequest{TaskKind: "export"})
	require.NoError(t, err)
	job := waitStatus(t, e, id, domain.JobStatusFailed)
	assert.Equal(t, domain.TaskErrorTimeout, job.ErrorKind)
}

func TestEngine_PanicIsIsolated(t *testing.T) {
	runner := domain.TaskRunnerFunc(func(_ context.Context, kind string, _ map[string]any) (map[string]any, error) {
		if kind == "explode" {
			panic("kaboom")
		}
		return map[string]any{"ok": true}, nil
	})
	e := NewEngine(runner, &mockHistory{}, discard)

	bad, err := e.Submit(context.Background(), SubmitRequest{TaskKind: "explode"})
	require.NoError(t, err)
	good, err := e.Submit(context.Background(), SubmitRequest{TaskKind: "report"})
	require.NoError(t, err)

	job := waitStatus(t, e, bad, domain.JobStatusFailed)
	assert.Equal(t, domain.TaskErrorPanic, job.ErrorKind)
	assert.Contains(t, job.Error, "kaboom")
	waitStatus(t, e, good, domain.JobStatusCompleted)
}

func TestEngine_ListByStatusInSubmissionOrder(t *testing.T) {
	runner := domain.TaskRunnerFunc(func(_ context.Context, kind string, _ map[string]any) (map[string]any, error) {
		if kind == "bad" {
			return nil, errors.New("nope")
		}
		return nil, nil
	})
	e := NewEngine(runner, &mockHistory{}, discard)

	var ids []string
	for _, kind := range []string{"ok", "bad", "ok", "bad", "ok"} {
		id, err := e.Submit(context.Background(), SubmitRequest{TaskKind: kind})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	for i, id := range ids {
		want := domain.JobStatusCompleted
		if i%2 == 1 {
			want = domain.JobStatusFailed
		}
		waitStatus(t, e, id, want)
	}

	jobIDs := func(jobs []domain.Job) []string {
		out := []string{}
		for _, j := range jobs {
			out = append(out, j.ID)
		}
		return out
	}
	assert.Equal(t, []string{ids[0], ids[2], ids[4]}, jobIDs(e.ListByStatus(domain.JobStatusCompleted)))
	assert.Equal(t, []string{ids[1], ids[3]}, jobIDs(e.ListByStatus(domain.JobStatusFailed)))
	assert.Empty(t, e.ListByStatus(domain.JobStatusRunning))
	assert.Equal(t, ids, jobIDs(e.ListByStatus()))

	counts := e.Counts()
	assert.Equal(t, 3, counts[domain.JobStatusCompleted])
	assert.Equal(t, 2, counts[domain.JobStatusFailed])
	assert.Equal(t, 0, counts[domain.JobStatusQueued])
	assert.Equal(t, 5, e.Total())
}

func TestEngine_UnboundedConcurrency(t *testing.T) {
	runner := newGatedRunner()
	e := NewEngine(runner, &mockHistory{}, discard)

	const n = 20
	for i := 0; i < n; i++ {
		_, err := e.Submit(context.Background(), SubmitRequest{TaskKind: "sync"})
		require.NoError(t, err)
	}
	for i := 0; i < n; i++ {
		select {
		case <-runner.started:
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of %d jobs started", i, n)
		}
	}
	assert.Len(t, e.ListByStatus(domain.JobStatusRunning), n)
	close(runner.release)
	require.Eventually(t, func() bool {
		return len(e.ListByStatus(domain.JobStatusCompleted)) == n
	}, 2*time.Second, 5*time.Millisecond)
}

func TestEngine_DispatchFire(t *testing.T) {
	runner := domain.TaskRunnerFunc(func(_ context.Context, _ string, p map[string]any) (map[string]any, error) {
		return p, nil
	})
	history := &mockHistory{}
	e := NewEngine(runner, history, discard)

	id, err := e.DispatchFire(context.Background(), domain.FireEvent{TriggerID: "trig-1", TaskKind: "cleanup", Payload: map[string]any{"a": 1}})
	require.NoError(t, err)
	job := waitStatus(t, e, id, domain.JobStatusCompleted)
	assert.Equal(t, domain.TriggerOrigin("trig-1"), job.Origin)

	recs := history.forJob(id)
	require.Len(t, recs, 1)
	assert.Equal(t, "trig-1", recs[0].TriggerID)
}

type mockJobStore struct {
	mu   sync.Mutex
	jobs map[string]domain.Job
}

func (m *mockJobStore) SaveJob(_ context.Context, job domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job
	return nil
}

func (m *mockJobStore) ListJobs(context.Context) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j)
	}
	return out, nil
}

func (m *mockJobStore) get(id string) domain.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs[id]
}

func TestEngine_PersistsAndRestores(t *testing.T) {
	store := &mockJobStore{jobs: map[string]domain.Job{}}
	runner := domain.TaskRunnerFunc(func(context.Context, string, map[string]any) (map[string]any, error) {
		return map[string]any{"ok": true}, nil
	})
	e := NewEngine(runner, &mockHistory{}, discard, WithJobStore(store))

	id, err := e.Submit(context.Background(), SubmitRequest{TaskKind: "backup"})
	require.NoError(t, err)
	waitStatus(t, e, id, domain.JobStatusCompleted)
	require.Eventually(t, func() bool { return store.get(id).Status == domain.JobStatusCompleted }, time.Second, 5*time.Millisecond)

	created := time.Now()
	require.NoError(t, store.SaveJob(context.Background(), domain.Job{
		ID:        "stuck",
		TaskKind:  "export",
		Status:    domain.JobStatusRunning,
		Origin:    domain.DirectOrigin(),
		CreatedAt: created.Add(time.Hour),
	}))

	history := &mockHistory{}
	restarted := NewEngine(runner, history, discard, WithJobStore(store))
	n, err := restarted.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	all := restarted.ListByStatus()
	require.Len(t, all, 2)
	assert.Equal(t, id, all[0].ID)
	stuck := all[1]
	assert.Equal(t, domain.JobStatusFailed, stuck.Status)
	assert.Equal(t, domain.TaskErrorInterrupted, stuck.ErrorKind)
	assert.Len(t, history.forJob("stuck"), 1)

	require.NoError(t, restarted.Retry(context.Background(), "stuck"))
	waitStatus(t, restarted, "stuck", domain.JobStatusCompleted)
}

// slowFailedStore stalls writes of failed jobs, as a store would under a
// slow network round trip.
type slowFailedStore struct {
	*mockJobStore
	delay time.Duration

	seqMu    sync.Mutex
	statuses []domain.JobStatus
}

func (s *slowFailedStore) SaveJob(ctx context.Context, job domain.Job) error {
	if job.Status == domain.JobStatusFailed {
		time.Sleep(s.delay)
	}
	s.seqMu.Lock()
	s.statuses = append(s.statuses, job.Status)
	s.seqMu.Unlock()
	return s.mockJobStore.SaveJob(ctx, job)
}

func (s *slowFailedStore) saved() []domain.JobStatus {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	return append([]domain.JobStatus(nil), s.statuses...)
}

func TestEngine_QuickRetryKeepsLatestPersisted(t *testing.T) {
	store := &slowFailedStore{mockJobStore: &mockJobStore{jobs: map[string]domain.Job{}}, delay: 100 * time.Millisecond}
	var calls atomic.Int32
	runner := domain.TaskRunnerFunc(func(context.Context, string, map[string]any) (map[string]any, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("upstream unavailable")
		}
		return map[string]any{"ok": true}, nil
	})
	e := NewEngine(runner, &mockHistory{}, discard, WithJobStore(store))

	id, err := e.Submit(context.Background(), SubmitRequest{TaskKind: "export"})
	require.NoError(t, err)
	waitStatus(t, e, id, domain.JobStatusFailed)
	// Retried while the failed snapshot may still be in flight to the store.
	require.NoError(t, e.Retry(context.Background(), id))
	waitStatus(t, e, id, domain.JobStatusCompleted)

	require.Eventually(t, func() bool {
		return store.get(id).Status == domain.JobStatusCompleted
	}, 2*time.Second, 5*time.Millisecond)
	time.Sleep(2 * store.delay)

	got := store.get(id)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
	assert.Equal(t, 2, got.Attempts)
	seq := store.saved()
	require.NotEmpty(t, seq)
	assert.Equal(t, domain.JobStatusCompleted, seq[len(seq)-1])
}

func TestEngine_Shutdown(t *testing.T) {
	runner := newGatedRunner()
	e := NewEngine(runner, &mockHistory{}, discard)

	id, err := e.Submit(context.Background(), SubmitRequest{TaskKind: "cleanup"})
	require.NoError(t, err)
	<-runner.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, e.Shutdown(ctx), context.DeadlineExceeded)

	_, err = e.Submit(context.Background(), SubmitRequest{TaskKind: "cleanup"})
	assert.ErrorIs(t, err, ErrEngineClosed)

	close(runner.release)
	require.NoError(t, e.Shutdown(context.Background()))
	job, _ := e.Get(id)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
}
