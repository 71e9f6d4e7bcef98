// internal/infra/etcd/etcd_trigger_repository.go
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

const TriggerSaveDir = KeyPrefix + "triggers/"

type etcdTriggerRepository struct {
	client *clientv3.Client
	logger *slog.Logger
	tracer trace.Tracer
}

// NewEtcdTriggerRepository creates a trigger store backed by etcd.
func NewEtcdTriggerRepository(client *clientv3.Client, logger *slog.Logger) domain.TriggerStore {
	return &etcdTriggerRepository{
		client: client,
		logger: logger.With("component", "etcd-trigger-repo"),
		tracer: otel.Tracer("cron-engine-etcd-repo"),
	}
}

func triggerKey(id string) string { return path.Join(TriggerSaveDir, id) }

func (r *etcdTriggerRepository) SaveTrigger(ctx context.Context, rule domain.TriggerRule) error {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.SaveTrigger")
	defer span.End()

	ruleJSON, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger to JSON: %w", err)
	}

	key := triggerKey(rule.ID)
	span.SetAttributes(
		attribute.String("trigger.id", rule.ID),
		attribute.String("etcd.key", key),
	)
	if _, err := r.client.Put(ctx, key, string(ruleJSON)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to put trigger to etcd")
		return fmt.Errorf("failed to save trigger %s to etcd: %w", rule.ID, err)
	}
	return nil
}

func (r *etcdTriggerRepository) DeleteTrigger(ctx context.Context, id string) error {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.DeleteTrigger")
	defer span.End()
	span.SetAttributes(attribute.String("trigger.id", id))

	if _, err := r.client.Delete(ctx, triggerKey(id)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to delete trigger from etcd")
		return fmt.Errorf("failed to delete trigger %s from etcd: %w", id, err)
	}
	return nil
}

func (r *etcdTriggerRepository) ListTriggers(ctx context.Context) ([]domain.TriggerRule, error) {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.ListTriggers")
	defer span.End()

	resp, err := r.client.Get(ctx, TriggerSaveDir, clientv3.WithPrefix())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list triggers from etcd")
		return nil, fmt.Errorf("failed to list triggers from etcd: %w", err)
	}
	span.SetAttributes(attribute.Int("etcd.kv_count", len(resp.Kvs)))

	rules := make([]domain.TriggerRule, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var rule domain.TriggerRule
		if err := json.Unmarshal(kv.Value, &rule); err != nil {
			r.logger.Warn("failed to unmarshal trigger from etcd", "key", string(kv.Key), "error", err)
			continue
		}
		rules = append(rules, rule)
	}
	return rules, nil
}
