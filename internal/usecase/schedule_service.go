package usecase

import (
	"context"
	"log/slog"

	"cron-engine/internal/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ScheduleService implements the trigger rule operations of the API.
type ScheduleService struct {
	registry TriggerRegistry
	history  HistoryReader
	logger   *slog.Logger
	tracer   trace.Tracer
}

func NewScheduleService(registry TriggerRegistry, history HistoryReader, logger *slog.Logger) *ScheduleService {
	return &ScheduleService{
		registry: registry,
		history:  history,
		logger:   logger.With("component", "schedule-service"),
		tracer:   otel.Tracer("cron-engine-usecase"),
	}
}

// Register validates and stores a new rule.
func (s *ScheduleService) Register(ctx context.Context, spec domain.TriggerSpec) (domain.TriggerRule, error) {
	ctx, span := s.tracer.Start(ctx, "service.RegisterSchedule")
	defer span.End()
	span.SetAttributes(
		attribute.String("trigger.task_kind", spec.TaskKind),
		attribute.String("trigger.schedule", spec.Schedule.String()),
	)

	rule, err := s.registry.Register(ctx, spec)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to register trigger")
		return domain.TriggerRule{}, err
	}
	span.SetAttributes(attribute.String("trigger.id", rule.ID))
	s.logger.Info("trigger registered", "trigger_id", rule.ID, "task_kind", rule.TaskKind, "schedule", rule.Schedule.String())
	return rule, nil
}

func (s *ScheduleService) Get(ctx context.Context, id string) (domain.TriggerRule, error) {
	_, span := s.tracer.Start(ctx, "service.GetSchedule")
	defer span.End()
	span.SetAttributes(attribute.String("trigger.id", id))

	rule, err := s.registry.Get(id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get trigger")
	}
	return rule, err
}

func (s *ScheduleService) List(ctx context.Context) []domain.TriggerRule {
	_, span := s.tracer.Start(ctx, "service.ListSchedules")
	defer span.End()

	rules := s.registry.List()
	span.SetAttributes(attribute.Int("trigger.count", len(rules)))
	return rules
}

func (s *ScheduleService) Pause(ctx context.Context, id string) (domain.TriggerRule, error) {
	return s.toggle(ctx, "service.PauseSchedule", id, s.registry.Pause)
}

func (s *ScheduleService) Resume(ctx context.Context, id string) (domain.TriggerRule, error) {
	return s.toggle(ctx, "service.ResumeSchedule", id, s.registry.Resume)
}

// toggle applies pause or resume and returns the rule as it is afterwards.
func (s *ScheduleService) toggle(ctx context.Context, name, id string, op func(context.Context, string) error) (domain.TriggerRule, error) {
	ctx, span := s.tracer.Start(ctx, name)
	defer span.End()
	span.SetAttributes(attribute.String("trigger.id", id))

	if err := op(ctx, id); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to change trigger state")
		return domain.TriggerRule{}, err
	}
	return s.registry.Get(id)
}

// Delete removes a rule. Once it returns the rule fires no more.
func (s *ScheduleService) Delete(ctx context.Context, id string) (domain.TriggerRule, error) {
	ctx, span := s.tracer.Start(ctx, "service.DeleteSchedule")
	defer span.End()
	span.SetAttributes(attribute.String("trigger.id", id))

	rule, err := s.registry.Delete(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to delete trigger")
		return domain.TriggerRule{}, err
	}
	s.logger.Info("trigger deleted", "trigger_id", id, "fire_count", rule.FireCount)
	return rule, nil
}

// History lists the execution records of one existing rule, newest first.
func (s *ScheduleService) History(ctx context.Context, id string, page, pageSize int) ([]domain.ExecutionRecord, error) {
	ctx, span := s.tracer.Start(ctx, "service.ScheduleHistory")
	defer span.End()
	span.SetAttributes(
		attribute.String("trigger.id", id),
		attribute.Int("page", page),
		attribute.Int("page_size", pageSize),
	)

	if _, err := s.registry.Get(id); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "trigger not found")
		return nil, err
	}
	records, err := s.history.ListByTrigger(ctx, id, page, pageSize)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list trigger history")
	}
	return records, err
}
