package usecase

import (
	"context"
	"time"

	"cron-engine/internal/domain"
	"cron-engine/internal/worker"
)

// TriggerRegistry is the part of scheduler.Registry the services use.
type TriggerRegistry interface {
	Register(ctx context.Context, spec domain.TriggerSpec) (domain.TriggerRule, error)
	Pause(ctx context.Context, id string) error
	Resume(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) (domain.TriggerRule, error)
	Get(id string) (domain.TriggerRule, error)
	List() []domain.TriggerRule
	Count() int
	Alive() bool
	LastTick() time.Time
}

// JobEngine is the part of worker.Engine the services use.
type JobEngine interface {
	Submit(ctx context.Context, req worker.SubmitRequest) (string, error)
	Retry(ctx context.Context, id string) error
	Get(id string) (domain.Job, error)
	ListByStatus(statuses ...domain.JobStatus) []domain.Job
	Counts() map[domain.JobStatus]int
	Total() int
}

// HistoryReader is the read side of history.Store.
type HistoryReader interface {
	Recent(n int) []domain.ExecutionRecord
	TotalCount() int64
	CountByStatus(status domain.JobStatus) int64
	Retention() int
	ListByTrigger(ctx context.Context, triggerID string, page, pageSize int) ([]domain.ExecutionRecord, error)
}
