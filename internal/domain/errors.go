// internal/domain/errors.go
package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is the common root of every lookup miss.
	ErrNotFound = errors.New("not found")

	ErrTriggerNotFound = fmt.Errorf("trigger %w", ErrNotFound)
	ErrJobNotFound     = fmt.Errorf("job %w", ErrNotFound)

	// ErrInvalidState is returned when an operation is not allowed in the
	// entity's current state, e.g. retrying a job that has not failed.
	ErrInvalidState = errors.New("invalid state")

	ErrInvalidSchedule = errors.New("invalid schedule")
	ErrInvalidTrigger  = errors.New("invalid trigger")

	// ErrInvalidJob is returned by submission for malformed input.
	ErrInvalidJob = errors.New("invalid job")
)

// InvalidScheduleError describes why a schedule was rejected.
type InvalidScheduleError struct {
	Field  string
	Reason string
}

func (e *InvalidScheduleError) Error() string {
	return fmt.Sprintf("invalid schedule: %s: %s", e.Field, e.Reason)
}

func (e *InvalidScheduleError) Is(target error) bool { return target == ErrInvalidSchedule }

// TaskErrorKind classifies a failed run.
type TaskErrorKind string

const (
	TaskErrorFailed      TaskErrorKind = "failed"
	TaskErrorTimeout     TaskErrorKind = "timeout"
	TaskErrorPanic       TaskErrorKind = "panic"
	TaskErrorInterrupted TaskErrorKind = "interrupted"
	TaskErrorRejected    TaskErrorKind = "rejected"
)

// TaskExecutionError is what a run attempt failed with. It is captured on the
// job and in the execution history, never returned to the submitter.
type TaskExecutionError struct {
	Kind    TaskErrorKind
	Message string
}

func (e *TaskExecutionError) Error() string {
	return fmt.Sprintf("task %s: %s", e.Kind, e.Message)
}

// NewInvalidStateError wraps ErrInvalidState with the state the entity was actually in.
func NewInvalidStateError(entity, id string, status JobStatus, want JobStatus) error {
	return fmt.Errorf("%w: %s %s is %s, want %s", ErrInvalidState, entity, id, status, want)
}
