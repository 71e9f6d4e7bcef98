package usecase

import (
	"context"
	"time"

	"cron-engine/internal/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// RecentLimit is how many executions Status reports.
const RecentLimit = 10

// Stats summarizes jobs, triggers and execution history.
type Stats struct {
	Jobs      map[domain.JobStatus]int `json:"jobs"`
	TotalJobs int                      `json:"total_jobs"`
	Triggers  int                      `json:"triggers"`
	History   HistoryStats             `json:"history"`
}

type HistoryStats struct {
	Total     int64 `json:"total"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Retention int   `json:"retention"`
}

// Status reports whether the evaluator is running and what ran last.
type Status struct {
	EvaluatorRunning bool                     `json:"evaluator_running"`
	LastTick         *time.Time               `json:"last_tick,omitempty"`
	Triggers         int                      `json:"triggers"`
	ActiveJobs       int                      `json:"active_jobs"`
	RecentExecutions []domain.ExecutionRecord `json:"recent_executions"`
}

type StatusService struct {
	registry TriggerRegistry
	engine   JobEngine
	history  HistoryReader
	tracer   trace.Tracer
}

func NewStatusService(registry TriggerRegistry, engine JobEngine, history HistoryReader) *StatusService {
	return &StatusService{
		registry: registry,
		engine:   engine,
		history:  history,
		tracer:   otel.Tracer("cron-engine-usecase"),
	}
}

func (s *StatusService) Stats(ctx context.Context) Stats {
	_, span := s.tracer.Start(ctx, "service.Stats")
	defer span.End()

	counts := s.engine.Counts()
	jobs := make(map[domain.JobStatus]int, len(domain.JobStatuses))
	for _, st := range domain.JobStatuses {
		jobs[st] = counts[st]
	}
	return Stats{
		Jobs:      jobs,
		TotalJobs: s.engine.Total(),
		Triggers:  s.registry.Count(),
		History: HistoryStats{
			Total:     s.history.TotalCount(),
			Completed: s.history.CountByStatus(domain.JobStatusCompleted),
			Failed:    s.history.CountByStatus(domain.JobStatusFailed),
			Retention: s.history.Retention(),
		},
	}
}

func (s *StatusService) Status(ctx context.Context) Status {
	_, span := s.tracer.Start(ctx, "service.Status")
	defer span.End()

	counts := s.engine.Counts()
	st := Status{
		EvaluatorRunning: s.registry.Alive(),
		Triggers:         s.registry.Count(),
		ActiveJobs:       counts[domain.JobStatusQueued] + counts[domain.JobStatusRunning],
		RecentExecutions: s.history.Recent(RecentLimit),
	}
	if last := s.registry.LastTick(); !last.IsZero() {
		st.LastTick = &last
	}
	return st
}

// Healthy reports whether the evaluator loop is alive.
func (s *StatusService) Healthy() bool { return s.registry.Alive() }
