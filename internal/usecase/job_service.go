package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"cron-engine/internal/domain"
	"cron-engine/internal/worker"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StatusActive selects queued and running jobs in List.
const StatusActive = "active"

// JobService implements the job operations of the API.
type JobService struct {
	engine JobEngine
	logger *slog.Logger
	tracer trace.Tracer
}

func NewJobService(engine JobEngine, logger *slog.Logger) *JobService {
	return &JobService{
		engine: engine,
		logger: logger.With("component", "job-service"),
		tracer: otel.Tracer("cron-engine-usecase"),
	}
}

// Submit creates a direct job and returns its id.
func (s *JobService) Submit(ctx context.Context, taskKind string, payload map[string]any, priority int) (string, error) {
	ctx, span := s.tracer.Start(ctx, "service.SubmitJob")
	defer span.End()
	span.SetAttributes(attribute.String("job.task_kind", taskKind))

	id, err := s.engine.Submit(ctx, worker.SubmitRequest{
		TaskKind: taskKind,
		Payload:  payload,
		Priority: priority,
		Origin:   domain.DirectOrigin(),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to submit job")
		return "", err
	}
	span.SetAttributes(attribute.String("job.id", id))
	return id, nil
}

func (s *JobService) Get(ctx context.Context, id string) (domain.Job, error) {
	_, span := s.tracer.Start(ctx, "service.GetJob")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", id))

	job, err := s.engine.Get(id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get job")
	}
	return job, err
}

// List filters jobs by status. An empty filter lists every job, "active"
// lists queued and running jobs.
func (s *JobService) List(ctx context.Context, filter string) ([]domain.Job, error) {
	_, span := s.tracer.Start(ctx, "service.ListJobs")
	defer span.End()
	span.SetAttributes(attribute.String("job.status_filter", filter))

	var statuses []domain.JobStatus
	switch f := strings.ToLower(strings.TrimSpace(filter)); f {
	case "":
	case StatusActive:
		statuses = []domain.JobStatus{domain.JobStatusQueued, domain.JobStatusRunning}
	default:
		st, err := domain.ParseJobStatus(f)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "invalid status filter")
			return nil, err
		}
		statuses = []domain.JobStatus{st}
	}

	jobs := s.engine.ListByStatus(statuses...)
	span.SetAttributes(attribute.Int("job.count", len(jobs)))
	return jobs, nil
}

// Retry re-runs a failed job and returns it as it is right after the reset.
func (s *JobService) Retry(ctx context.Context, id string) (domain.Job, error) {
	ctx, span := s.tracer.Start(ctx, "service.RetryJob")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", id))

	if err := s.engine.Retry(ctx, id); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to retry job")
		return domain.Job{}, fmt.Errorf("retry job %s: %w", id, err)
	}
	s.logger.Info("job retried", "job_id", id)
	return s.engine.Get(id)
}
