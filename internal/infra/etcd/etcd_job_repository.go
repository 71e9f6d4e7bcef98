// internal/infra/etcd/etcd_job_repository.go
package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"

	"cron-engine/internal/domain"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const JobSaveDir = KeyPrefix + "jobs/"

type etcdJobRepository struct {
	client *clientv3.Client
	logger *slog.Logger
	tracer trace.Tracer
}

// NewEtcdJobRepository creates a job store backed by etcd. Every save
// overwrites the job's single key with its latest snapshot.
func NewEtcdJobRepository(client *clientv3.Client, logger *slog.Logger) domain.JobStore {
	return &etcdJobRepository{
		client: client,
		logger: logger.With("component", "etcd-job-repo"),
		tracer: otel.Tracer("cron-engine-etcd-repo"),
	}
}

func (r *etcdJobRepository) SaveJob(ctx context.Context, job domain.Job) error {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.SaveJob")
	defer span.End()

	jobJSON, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job to JSON: %w", err)
	}

	key := path.Join(JobSaveDir, job.ID)
	span.SetAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.status", string(job.Status)),
		attribute.String("etcd.key", key),
	)
	if _, err := r.client.Put(ctx, key, string(jobJSON)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to put job to etcd")
		return fmt.Errorf("failed to save job %s to etcd: %w", job.ID, err)
	}
	return nil
}

func (r *etcdJobRepository) ListJobs(ctx context.Context) ([]domain.Job, error) {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.ListJobs")
	defer span.End()

	resp, err := r.client.Get(ctx, JobSaveDir, clientv3.WithPrefix())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list jobs from etcd")
		return nil, fmt.Errorf("failed to list jobs from etcd: %w", err)
	}
	span.SetAttributes(attribute.Int("etcd.kv_count", len(resp.Kvs)))

	jobs := make([]domain.Job, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var job domain.Job
		if err := json.Unmarshal(kv.Value, &job); err != nil {
			r.logger.Warn("failed to unmarshal job from etcd", "key", string(kv.Key), "error", err)
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}
