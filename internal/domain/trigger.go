// internal/domain/trigger.go
package domain

import (
	"fmt"
	"strings"
	"time"
)

// TriggerSpec is the input for registering a trigger rule.
type TriggerSpec struct {
	Name     string
	TaskKind string
	Payload  map[string]any
	Schedule Schedule
	// Enabled defaults to true when nil.
	Enabled *bool
}

// Validate runs before anything is stored.
func (s *TriggerSpec) Validate() error {
	if strings.TrimSpace(s.TaskKind) == "" {
		return fmt.Errorf("%w: task kind cannot be empty", ErrInvalidTrigger)
	}
	return s.Schedule.Validate()
}

// TriggerRule is a stored recurring schedule.
type TriggerRule struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	TaskKind string         `json:"task_kind"`
	Payload  map[string]any `json:"payload"`
	Enabled  bool           `json:"enabled"`
	Schedule Schedule       `json:"schedule"`

	CreatedAt       time.Time  `json:"created_at"`
	LastEvaluatedAt *time.Time `json:"last_evaluated_at,omitempty"`
	LastFiredAt     *time.Time `json:"last_fired_at,omitempty"`
	NextFireAt      *time.Time `json:"next_fire_at,omitempty"`
	FireCount       int64      `json:"fire_count"`
}

// Validate checks a rule loaded from storage.
func (r *TriggerRule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("trigger ID cannot be empty")
	}
	if strings.TrimSpace(r.TaskKind) == "" {
		return fmt.Errorf("trigger %s: task kind cannot be empty", r.ID)
	}
	return r.Schedule.Validate()
}

// Clone returns a copy that shares no mutable state with r.
func (r TriggerRule) Clone() TriggerRule {
	r.Payload = ClonePayload(r.Payload)
	r.LastEvaluatedAt = cloneTime(r.LastEvaluatedAt)
	r.LastFiredAt = cloneTime(r.LastFiredAt)
	r.NextFireAt = cloneTime(r.NextFireAt)
	return r
}

// FireEvent is what the registry hands to the engine when a rule is due.
// It is passed by value; the engine never sees the rule itself.
type FireEvent struct {
	TriggerID   string
	TriggerName string
	TaskKind    string
	Payload     map[string]any
	DueAt       time.Time
	FiredAt     time.Time
}

// ClonePayload copies the top level of an opaque payload map.
func ClonePayload(p map[string]any) map[string]any {
	if p == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
