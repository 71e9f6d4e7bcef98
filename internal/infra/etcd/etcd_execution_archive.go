// internal/infra/etcd/etcd_execution_archive.go
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

const (
	ExecutionHistoryDir = KeyPrefix + "history/"
	// directBucket holds records of jobs that no trigger produced.
	directBucket = "_direct"
)

type etcdExecutionArchive struct {
	client *clientv3.Client
	logger *slog.Logger
	tracer trace.Tracer
}

// NewEtcdExecutionArchive creates an archive for execution records backed by etcd.
func NewEtcdExecutionArchive(client *clientv3.Client, logger *slog.Logger) domain.ExecutionArchive {
	return &etcdExecutionArchive{
		client: client,
		logger: logger.With("component", "etcd-execution-archive"),
		tracer: otel.Tracer("cron-engine-etcd-execution-archive"),
	}
}

func bucketPrefix(triggerID string) string {
	if triggerID == "" {
		triggerID = directBucket
	}
	return path.Join(ExecutionHistoryDir, triggerID) + "/"
}

// Save stores a record under /cron-engine/history/{triggerID}/{recordID}.
func (r *etcdExecutionArchive) Save(ctx context.Context, record domain.ExecutionRecord) error {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.SaveExecution")
	defer span.End()

	recordJSON, err := json.Marshal(record)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to marshal execution record")
		return fmt.Errorf("failed to marshal execution record %s to JSON: %w", record.ID, err)
	}

	key := bucketPrefix(record.TriggerID) + record.ID
	span.SetAttributes(
		attribute.String("execution.id", record.ID),
		attribute.String("trigger.id", record.TriggerID),
		attribute.String("etcd.key", key),
	)
	if _, err := r.client.Put(ctx, key, string(recordJSON)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to put execution record to etcd")
		return fmt.Errorf("failed to save execution record %s to etcd: %w", record.ID, err)
	}
	return nil
}

// ListByTrigger returns one page of a trigger's records, newest first.
func (r *etcdExecutionArchive) ListByTrigger(ctx context.Context, triggerID string, page, pageSize int) ([]domain.ExecutionRecord, error) {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.ListExecutions")
	defer span.End()
	span.SetAttributes(
		attribute.String("trigger.id", triggerID),
		attribute.Int("page", page),
		attribute.Int("page_size", pageSize),
	)

	resp, err := r.client.Get(ctx, bucketPrefix(triggerID),
		clientv3.WithPrefix(),
		clientv3.WithSort(clientv3.SortByCreateRevision, clientv3.SortDescend),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list execution records from etcd")
		return nil, fmt.Errorf("failed to list execution records for trigger %s from etcd: %w", triggerID, err)
	}

	start, end := pageBounds(len(resp.Kvs), page, pageSize)
	records := make([]domain.ExecutionRecord, 0, end-start)
	for _, kv := range resp.Kvs[start:end] {
		var record domain.ExecutionRecord
		if err := json.Unmarshal(kv.Value, &record); err != nil {
			r.logger.Warn("failed to unmarshal execution record from etcd", "key", string(kv.Key), "error", err)
			continue
		}
		records = append(records, record)
	}
	span.SetAttributes(attribute.Int("records_returned", len(records)))
	return records, nil
}

// pageBounds maps a 1-based page onto [start, end) of total items.
func pageBounds(total, page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	start := (page - 1) * pageSize
	if start >= total {
		return total, total
	}
	return start, min(start+pageSize, total)
}
