package domain

import (
	"fmt"
	"strings"
	"time"
)

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// JobStatuses lists every status in lifecycle order.
var JobStatuses = []JobStatus{JobStatusQueued, JobStatusRunning, JobStatusCompleted, JobStatusFailed}

// ParseJobStatus validates a status string.
func ParseJobStatus(s string) (JobStatus, error) {
	st := JobStatus(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range JobStatuses {
		if st == known {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: unknown job status %q", ErrInvalidJob, s)
}

// Terminal reports whether no further transition happens without a retry.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// OriginKind says where a job came from.
type OriginKind string

const (
	OriginDirect  OriginKind = "direct"
	OriginTrigger OriginKind = "trigger"
)

// Origin is either a direct submission or a trigger firing.
type Origin struct {
	Kind      OriginKind `json:"kind"`
	TriggerID string     `json:"trigger_id,omitempty"`
}

func DirectOrigin() Origin { return Origin{Kind: OriginDirect} }

func TriggerOrigin(triggerID string) Origin {
	return Origin{Kind: OriginTrigger, TriggerID: triggerID}
}

// Job is a single unit of asynchronous work.
type Job struct {
	ID       string         `json:"id"`
	TaskKind string         `json:"task_kind"`
	Payload  map[string]any `json:"payload"`
	Priority int            `json:"priority"`
	Origin   Origin         `json:"origin"`
	Status   JobStatus      `json:"status"`
	Attempts int            `json:"attempts"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`
	RetriedAt   *time.Time `json:"retried_at,omitempty"`

	Result    map[string]any `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	ErrorKind TaskErrorKind  `json:"error_kind,omitempty"`
}

// Validate checks a job loaded from storage or built for submission.
func (j *Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("%w: job ID cannot be empty", ErrInvalidJob)
	}
	if strings.TrimSpace(j.TaskKind) == "" {
		return fmt.Errorf("%w: task kind cannot be empty", ErrInvalidJob)
	}
	if j.Origin.Kind == OriginTrigger && j.Origin.TriggerID == "" {
		return fmt.Errorf("%w: trigger origin without trigger id", ErrInvalidJob)
	}
	return nil
}

// Clone returns a copy that shares no mutable state with j.
func (j Job) Clone() Job {
	j.Payload = ClonePayload(j.Payload)
	if j.Result != nil {
		j.Result = ClonePayload(j.Result)
	}
	j.StartedAt = cloneTime(j.StartedAt)
	j.CompletedAt = cloneTime(j.CompletedAt)
	j.FailedAt = cloneTime(j.FailedAt)
	j.RetriedAt = cloneTime(j.RetriedAt)
	return j
}
