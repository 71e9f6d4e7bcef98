// internal/api/http/dto.go
package http

import (
	"regexp"
	"strings"

	"cron-engine/internal/domain"

	"github.com/go-playground/validator/v10"
)

var taskKindPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:-]*$`)

// newValidator registers the custom tags used by the request DTOs.
func newValidator() *validator.Validate {
	validate := validator.New()

	_ = validate.RegisterValidation("task_kind", func(fl validator.FieldLevel) bool {
		return taskKindPattern.MatchString(strings.TrimSpace(fl.Field().String()))
	})

	_ = validate.RegisterValidation("schedule_type", func(fl validator.FieldLevel) bool {
		switch strings.ToLower(fl.Field().String()) {
		case "interval", "calendar", "cron":
			return true
		}
		return false
	})

	return validate
}

// ScheduleRequest is the structured schedule form.
type ScheduleRequest struct {
	Kind   string `json:"kind" validate:"required,oneof=interval calendar"`
	Unit   string `json:"unit" validate:"required_if=Kind interval,omitempty,oneof=seconds minutes hours"`
	Count  int    `json:"count"`
	Hour   int    `json:"hour"`
	Minute int    `json:"minute"`
}

// RegisterScheduleRequest registers a trigger rule. The schedule is given
// either structured or as schedule_type/schedule_value ("30s", "5m", "HH:MM").
type RegisterScheduleRequest struct {
	Name          string           `json:"name" validate:"max=128"`
	TaskKind      string           `json:"task_kind" validate:"required,max=64,task_kind"`
	Payload       map[string]any   `json:"payload"`
	Schedule      *ScheduleRequest `json:"schedule" validate:"required_without=ScheduleType,omitempty"`
	ScheduleType  string           `json:"schedule_type" validate:"required_without=Schedule,omitempty,schedule_type"`
	ScheduleValue string           `json:"schedule_value" validate:"required_with=ScheduleType"`
	Enabled       *bool            `json:"enabled"`
}

// ToDomainSpec converts the request into a trigger spec. Range checks on the
// schedule happen here so they surface as InvalidScheduleError.
func (r *RegisterScheduleRequest) ToDomainSpec() (domain.TriggerSpec, error) {
	var (
		schedule domain.Schedule
		err      error
	)
	if r.Schedule != nil {
		schedule = domain.Schedule{
			Kind:   domain.ScheduleKind(r.Schedule.Kind),
			Unit:   domain.IntervalUnit(r.Schedule.Unit),
			Count:  r.Schedule.Count,
			Hour:   r.Schedule.Hour,
			Minute: r.Schedule.Minute,
		}
		err = schedule.Validate()
	} else {
		schedule, err = domain.ParseSchedule(r.ScheduleType, r.ScheduleValue)
	}
	if err != nil {
		return domain.TriggerSpec{}, err
	}

	name := strings.TrimSpace(r.Name)
	if name == "" {
		name = strings.TrimSpace(r.TaskKind)
	}
	return domain.TriggerSpec{
		Name:     name,
		TaskKind: strings.TrimSpace(r.TaskKind),
		Payload:  r.Payload,
		Schedule: schedule,
		Enabled:  r.Enabled,
	}, nil
}

// SubmitJobRequest submits a one-off job.
type SubmitJobRequest struct {
	TaskKind string         `json:"task_kind" validate:"required,max=64,task_kind"`
	Payload  map[string]any `json:"payload"`
	Priority int            `json:"priority" validate:"gte=0,lte=10"`
}

type SubmitJobResponse struct {
	JobID  string           `json:"job_id"`
	Status domain.JobStatus `json:"status"`
}

type ExecutionHistoryResponse struct {
	Executions []domain.ExecutionRecord `json:"executions"`
	TotalCount int64                    `json:"total_count"`
	Returned   int                      `json:"returned"`
}

type ScheduleHistoryResponse struct {
	TriggerID  string                   `json:"trigger_id"`
	Page       int                      `json:"page"`
	PageSize   int                      `json:"page_size"`
	Executions []domain.ExecutionRecord `json:"executions"`
}

type ErrorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}
