// internal/domain/execution.go
package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ExecutionRecord is an immutable snapshot of one finished run attempt.
type ExecutionRecord struct {
	ID         string         `json:"id"`
	JobID      string         `json:"job_id,omitempty"`
	TriggerID  string         `json:"trigger_id,omitempty"`
	TaskKind   string         `json:"task_kind"`
	Status     JobStatus      `json:"status"`
	Attempt    int            `json:"attempt"`
	Result     map[string]any `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	ErrorKind  TaskErrorKind  `json:"error_kind,omitempty"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt time.Time      `json:"finished_at"`
}

// NewExecutionRecord snapshots a job that just reached a terminal state.
func NewExecutionRecord(job Job) ExecutionRecord {
	job = job.Clone()
	rec := ExecutionRecord{
		ID:        uuid.NewString(),
		JobID:     job.ID,
		TriggerID: job.Origin.TriggerID,
		TaskKind:  job.TaskKind,
		Status:    job.Status,
		Attempt:   job.Attempts,
		Result:    job.Result,
		Error:     job.Error,
		ErrorKind: job.ErrorKind,
		StartedAt: job.StartedAt,
	}
	switch {
	case job.CompletedAt != nil:
		rec.FinishedAt = *job.CompletedAt
	case job.FailedAt != nil:
		rec.FinishedAt = *job.FailedAt
	}
	return rec
}

// RejectedFiringRecord records a firing whose job could not be created.
func RejectedFiringRecord(ev FireEvent, err error) ExecutionRecord {
	return ExecutionRecord{
		ID:         uuid.NewString(),
		TriggerID:  ev.TriggerID,
		TaskKind:   ev.TaskKind,
		Status:     JobStatusFailed,
		Error:      err.Error(),
		ErrorKind:  TaskErrorRejected,
		FinishedAt: ev.FiredAt,
	}
}

// Validate checks if the execution record is valid.
func (r *ExecutionRecord) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("execution record ID cannot be empty")
	}
	if r.TaskKind == "" {
		return fmt.Errorf("execution record task kind cannot be empty")
	}
	if !r.Status.Terminal() {
		return fmt.Errorf("execution record status must be terminal, got %q", r.Status)
	}
	return nil
}

// ExecutionHistory is the append-only history of finished runs.
type ExecutionHistory interface {
	// Append never fails.
	Append(record ExecutionRecord)
	// Recent returns at most n of the retained records, most recent last.
	Recent(n int) []ExecutionRecord
	// TotalCount counts every record ever appended, trimmed or not.
	TotalCount() int64
}

// ExecutionArchive persists execution records beyond the in-memory retention.
type ExecutionArchive interface {
	Save(ctx context.Context, record ExecutionRecord) error
	// ListByTrigger returns records for one trigger, newest first. An empty
	// triggerID selects direct submissions.
	ListByTrigger(ctx context.Context, triggerID string, page, pageSize int) ([]ExecutionRecord, error)
}
