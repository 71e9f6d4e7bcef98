// internal/scheduler/registry.go
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"cron-engine/internal/domain"
	"cron-engine/internal/metrics"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// Registry owns the trigger rules and runs the evaluation loop that turns due
// rules into fire events.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string

	evaluator  *Evaluator
	dispatcher domain.Dispatcher
	history    domain.ExecutionHistory
	store      domain.TriggerStore

	tick  time.Duration
	clock func() time.Time

	alive    atomic.Bool
	lastTick atomic.Int64

	logger *slog.Logger
	tracer trace.Tracer
}

// entry.mu is held from the due decision until the fire event has been handed
// over, which is what lets Delete promise no later firings.
type entry struct {
	mu      sync.Mutex
	rule    domain.TriggerRule
	clock   *RuleClock
	deleted bool
	warn    rate.Sometimes
}

type Option func(*Registry)

// WithClock replaces time.Now.
func WithClock(clock func() time.Time) Option {
	return func(r *Registry) { r.clock = clock }
}

// WithHistory records firings the dispatcher refused.
func WithHistory(h domain.ExecutionHistory) Option {
	return func(r *Registry) { r.history = h }
}

// WithStore persists rule changes.
func WithStore(s domain.TriggerStore) Option {
	return func(r *Registry) { r.store = s }
}

// WithTick sets the evaluation cadence.
func WithTick(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.tick = d
		}
	}
}

func NewRegistry(evaluator *Evaluator, dispatcher domain.Dispatcher, logger *slog.Logger, opts ...Option) *Registry {
	r := &Registry{
		entries:    make(map[string]*entry),
		evaluator:  evaluator,
		dispatcher: dispatcher,
		tick:       time.Second,
		clock:      time.Now,
		logger:     logger.With("component", "trigger-registry"),
		tracer:     otel.Tracer("cron-engine-scheduler"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func newEntry(rule domain.TriggerRule, clock *RuleClock) *entry {
	e := &entry{rule: rule, clock: clock, warn: rate.Sometimes{First: 1, Interval: time.Minute}}
	e.syncNext()
	return e
}

func (e *entry) syncNext() {
	if e.clock == nil {
		e.rule.NextFireAt = nil
		return
	}
	next := e.clock.Next()
	e.rule.NextFireAt = &next
}

// Register validates and stores a new rule. It does not fire before the next
// evaluation tick.
func (r *Registry) Register(ctx context.Context, spec domain.TriggerSpec) (domain.TriggerRule, error) {
	if err := spec.Validate(); err != nil {
		return domain.TriggerRule{}, err
	}
	now := r.clock()
	clock, err := r.evaluator.NewClock(spec.Schedule, now)
	if err != nil {
		return domain.TriggerRule{}, err
	}

	enabled := true
	if spec.Enabled != nil {
		enabled = *spec.Enabled
	}
	rule := domain.TriggerRule{
		ID:        uuid.NewString(),
		Name:      spec.Name,
		TaskKind:  spec.TaskKind,
		Payload:   domain.ClonePayload(spec.Payload),
		Enabled:   enabled,
		Schedule:  spec.Schedule,
		CreatedAt: now,
	}
	e := newEntry(rule, clock)
	snapshot := e.rule.Clone()
	// Saved before the evaluator can see it, so a firing's save lands last.
	r.persist(ctx, snapshot)

	r.mu.Lock()
	r.entries[rule.ID] = e
	r.order = append(r.order, rule.ID)
	r.mu.Unlock()

	r.logger.Info("trigger registered",
		"trigger_id", rule.ID, "name", rule.Name, "task_kind", rule.TaskKind,
		"schedule", rule.Schedule.String(), "enabled", rule.Enabled)
	return snapshot, nil
}

// Pause stops a rule from firing. Its schedule and next due instant are kept.
func (r *Registry) Pause(ctx context.Context, id string) error {
	if _, err := r.mutate(ctx, id, func(e *entry) {
		e.rule.Enabled = false
	}); err != nil {
		return err
	}
	r.logger.Info("trigger paused", "trigger_id", id)
	return nil
}

// Resume re-enables a rule without catching up on instants missed while it
// was paused.
func (r *Registry) Resume(ctx context.Context, id string) error {
	_, err := r.mutate(ctx, id, func(e *entry) {
		if e.rule.Enabled {
			return
		}
		e.rule.Enabled = true
		if e.clock != nil {
			e.clock.Resume(r.clock())
			e.syncNext()
		}
	})
	if err != nil {
		return err
	}
	r.logger.Info("trigger resumed", "trigger_id", id)
	return nil
}

// Delete removes a rule. Once it returns, the rule fires no more; a job it
// already fired keeps running.
func (r *Registry) Delete(ctx context.Context, id string) (domain.TriggerRule, error) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return domain.TriggerRule{}, fmt.Errorf("%w: %s", domain.ErrTriggerNotFound, id)
	}
	delete(r.entries, id)
	r.order = slices.DeleteFunc(r.order, func(v string) bool { return v == id })
	r.mu.Unlock()

	// Waits out a firing that is being handed over right now.
	e.mu.Lock()
	e.deleted = true
	rule := e.rule.Clone()
	e.mu.Unlock()

	if r.store != nil {
		if err := r.store.DeleteTrigger(ctx, id); err != nil {
			r.logger.Warn("failed to delete persisted trigger", "trigger_id", id, "error", err)
		}
	}
	r.logger.Info("trigger deleted", "trigger_id", id)
	return rule, nil
}

func (r *Registry) Get(id string) (domain.TriggerRule, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return domain.TriggerRule{}, fmt.Errorf("%w: %s", domain.ErrTriggerNotFound, id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rule.Clone(), nil
}

// List returns every rule in registration order.
func (r *Registry) List() []domain.TriggerRule {
	entries := r.snapshot()
	out := make([]domain.TriggerRule, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.rule.Clone())
		e.mu.Unlock()
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Alive reports whether the evaluation loop is running.
func (r *Registry) Alive() bool { return r.alive.Load() }

// LastTick is the time of the most recent evaluation pass, zero before the first.
func (r *Registry) LastTick() time.Time {
	ns := r.lastTick.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Restore loads persisted rules. Next due instants are recomputed from now.
func (r *Registry) Restore(ctx context.Context) (int, error) {
	if r.store == nil {
		return 0, nil
	}
	rules, err := r.store.ListTriggers(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list persisted triggers: %w", err)
	}
	slices.SortFunc(rules, func(a, b domain.TriggerRule) int { return a.CreatedAt.Compare(b.CreatedAt) })

	now := r.clock()
	restored := 0
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rule := range rules {
		if _, exists := r.entries[rule.ID]; exists {
			continue
		}
		if err := rule.Validate(); err != nil {
			r.logger.Warn("skipping invalid persisted trigger", "trigger_id", rule.ID, "error", err)
			continue
		}
		clock, err := r.evaluator.NewClock(rule.Schedule, now)
		if err != nil {
			r.logger.Warn("skipping persisted trigger", "trigger_id", rule.ID, "error", err)
			continue
		}
		r.entries[rule.ID] = newEntry(rule.Clone(), clock)
		r.order = append(r.order, rule.ID)
		restored++
	}
	r.logger.Info("triggers restored", "count", restored)
	return restored, nil
}

// Start runs the evaluation loop until ctx is done.
func (r *Registry) Start(ctx context.Context) error {
	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()

	r.alive.Store(true)
	metrics.EvaluatorAlive.Set(1)
	defer func() {
		r.alive.Store(false)
		metrics.EvaluatorAlive.Set(0)
	}()

	r.logger.Info("trigger evaluator started", "tick", r.tick)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("trigger evaluator stopped")
			return ctx.Err()
		case <-ticker.C:
			start := time.Now()
			r.evaluate(ctx, r.clock())
			metrics.EvaluatorTickDuration.Observe(time.Since(start).Seconds())
		}
	}
}

// evaluate runs one pass over every rule.
func (r *Registry) evaluate(ctx context.Context, now time.Time) {
	r.lastTick.Store(now.UnixNano())
	for _, e := range r.snapshot() {
		if err := r.evaluateRule(ctx, e, now); err != nil {
			e.warn.Do(func() {
				r.logger.Error("trigger evaluation failed", "trigger_id", e.rule.ID, "error", err)
			})
		}
	}
}

func (r *Registry) evaluateRule(ctx context.Context, e *entry, now time.Time) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic during evaluation: %v", p)
		}
	}()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.deleted {
		return nil
	}
	evaluatedAt := now
	e.rule.LastEvaluatedAt = &evaluatedAt
	if !e.rule.Enabled {
		return nil
	}
	if e.clock == nil {
		return fmt.Errorf("trigger %s has no schedule clock", e.rule.ID)
	}

	outcome, dueAt := e.clock.Advance(now)
	e.syncNext()
	switch outcome {
	case Missed:
		metrics.TriggerFiringsTotal.WithLabelValues(e.rule.TaskKind, metrics.FiringMissed).Inc()
		r.logger.Warn("calendar firing missed", "trigger_id", e.rule.ID, "due_at", dueAt, "next_fire_at", e.clock.Next())
	case Due:
		r.fire(ctx, e, dueAt, now)
	}
	return nil
}

// fire hands a fire event to the dispatcher. The caller holds e.mu.
func (r *Registry) fire(ctx context.Context, e *entry, dueAt, now time.Time) {
	ctx, span := r.tracer.Start(ctx, "scheduler.Fire",
		trace.WithAttributes(
			attribute.String("trigger.id", e.rule.ID),
			attribute.String("trigger.name", e.rule.Name),
			attribute.String("task.kind", e.rule.TaskKind),
		))
	defer span.End()

	ev := domain.FireEvent{
		TriggerID:   e.rule.ID,
		TriggerName: e.rule.Name,
		TaskKind:    e.rule.TaskKind,
		Payload:     domain.ClonePayload(e.rule.Payload),
		DueAt:       dueAt,
		FiredAt:     now,
	}
	logger := r.logger.With("trigger_id", ev.TriggerID, "task_kind", ev.TaskKind)

	firedAt := now
	e.rule.LastFiredAt = &firedAt
	e.rule.FireCount++
	defer func() { r.persist(ctx, e.rule.Clone()) }()

	jobID, err := r.dispatcher.DispatchFire(ctx, ev)
	if err != nil {
		metrics.TriggerFiringsTotal.WithLabelValues(ev.TaskKind, metrics.FiringRejected).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "fire event rejected")
		logger.Error("fire event rejected", "error", err)
		if r.history != nil {
			r.history.Append(domain.RejectedFiringRecord(ev, err))
		}
		return
	}
	metrics.TriggerFiringsTotal.WithLabelValues(ev.TaskKind, metrics.FiringDispatched).Inc()
	span.SetAttributes(attribute.String("job.id", jobID))
	logger.Info("trigger fired", "job_id", jobID, "due_at", dueAt)
}

// mutate applies fn and saves the result while holding e.mu, so saves of one
// rule reach the store in the order its changes were made.
func (r *Registry) mutate(ctx context.Context, id string, fn func(e *entry)) (domain.TriggerRule, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return domain.TriggerRule{}, fmt.Errorf("%w: %s", domain.ErrTriggerNotFound, id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return domain.TriggerRule{}, fmt.Errorf("%w: %s", domain.ErrTriggerNotFound, id)
	}
	fn(e)
	rule := e.rule.Clone()
	r.persist(ctx, rule)
	return rule, nil
}

func (r *Registry) snapshot() []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entry, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id])
	}
	return out
}

func (r *Registry) persist(ctx context.Context, rule domain.TriggerRule) {
	if r.store == nil {
		return
	}
	if err := r.store.SaveTrigger(ctx, rule); err != nil {
		r.logger.Warn("failed to persist trigger", "trigger_id", rule.ID, "error", err)
	}
}
