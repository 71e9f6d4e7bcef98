package domain

import "context"

// TriggerStore persists trigger rules for restart recovery. The registry's
// in-memory table stays authoritative; a store is optional.
type TriggerStore interface {
	SaveTrigger(ctx context.Context, rule TriggerRule) error
	DeleteTrigger(ctx context.Context, id string) error
	ListTriggers(ctx context.Context) ([]TriggerRule, error)
}

// JobStore persists job snapshots for restart recovery.
type JobStore interface {
	SaveJob(ctx context.Context, job Job) error
	ListJobs(ctx context.Context) ([]Job, error)
}
