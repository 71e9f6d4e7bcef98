// internal/infra/builtin/simulator.go
package builtin

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// FailKey makes any simulated task fail with the given message.
const FailKey = "simulate_error"

// DefaultDelays are the processing times of the simulated task kinds.
var DefaultDelays = map[string]time.Duration{
	"data_import": 2 * time.Second,
	"data_export": 3 * time.Second,
	"data_sync":   1500 * time.Millisecond,
	"cleanup":     time.Second,
	"backup":      500 * time.Millisecond,
	"sync":        500 * time.Millisecond,
	"report":      500 * time.Millisecond,
	"transform":   100 * time.Millisecond,
}

const defaultDelay = time.Second

type handler func(s *Simulator, payload map[string]any) (map[string]any, error)

var handlers = map[string]handler{
	"data_import": func(_ *Simulator, p map[string]any) (map[string]any, error) {
		return map[string]any{"imported_records": valueOr(p, "record_count", 100)}, nil
	},
	"data_export": func(s *Simulator, p map[string]any) (map[string]any, error) {
		return map[string]any{"exported_file": fmt.Sprintf("export_%d.csv", s.now().Unix())}, nil
	},
	"data_sync": func(_ *Simulator, p map[string]any) (map[string]any, error) {
		return map[string]any{"synced_items": valueOr(p, "item_count", 50)}, nil
	},
	"cleanup": func(_ *Simulator, p map[string]any) (map[string]any, error) {
		return map[string]any{"deleted_items": valueOr(p, "old_items", 25)}, nil
	},
	"backup": func(s *Simulator, _ map[string]any) (map[string]any, error) {
		return map[string]any{"backup_file": fmt.Sprintf("backup_%s.zip", s.now().UTC().Format("20060102"))}, nil
	},
	"sync": func(_ *Simulator, _ map[string]any) (map[string]any, error) {
		return map[string]any{"synced_records": 100}, nil
	},
	"report": func(_ *Simulator, _ map[string]any) (map[string]any, error) {
		return map[string]any{"report_generated": true}, nil
	},
	"transform": transform,
}

// Simulator is the in-process task runner. It sleeps for the kind's delay
// and returns a canned result; unknown kinds are processed generically.
type Simulator struct {
	mu     sync.RWMutex
	delays map[string]time.Duration

	now    func() time.Time
	logger *slog.Logger
	tracer trace.Tracer
}

type Option func(*Simulator)

// WithDelays overrides processing times per task kind.
func WithDelays(delays map[string]time.Duration) Option {
	return func(s *Simulator) { maps.Copy(s.delays, delays) }
}

// WithoutDelays makes every kind return immediately.
func WithoutDelays() Option {
	return func(s *Simulator) {
		for _, kind := range s.Kinds() {
			s.delays[kind] = 0
		}
		s.delays[""] = 0
	}
}

func NewSimulator(logger *slog.Logger, opts ...Option) *Simulator {
	s := &Simulator{
		delays: maps.Clone(DefaultDelays),
		now:    time.Now,
		logger: logger.With("runner", "builtin"),
		tracer: otel.Tracer("cron-engine-builtin-runner"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Kinds lists the task kinds with a dedicated simulation.
func (s *Simulator) Kinds() []string {
	return slices.Sorted(maps.Keys(handlers))
}

// SetDelay changes one kind's processing time.
func (s *Simulator) SetDelay(kind string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays[kind] = d
}

func (s *Simulator) delay(kind string) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if d, ok := s.delays[kind]; ok {
		return d
	}
	if d, ok := s.delays[""]; ok {
		return d
	}
	return defaultDelay
}

func (s *Simulator) Run(ctx context.Context, kind string, payload map[string]any) (map[string]any, error) {
	ctx, span := s.tracer.Start(ctx, "runner.builtin.Run", trace.WithAttributes(attribute.String("task.kind", kind)))
	defer span.End()

	if d := s.delay(kind); d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			span.SetStatus(codes.Error, "cancelled")
			return nil, ctx.Err()
		}
	}

	if msg, ok := payload[FailKey].(string); ok && msg != "" {
		err := errors.New(msg)
		span.RecordError(err)
		span.SetStatus(codes.Error, "simulated failure")
		return nil, err
	}

	h, ok := handlers[kind]
	if !ok {
		s.logger.Debug("no dedicated simulation, processing generically", "task_kind", kind)
		return map[string]any{"processed": true}, nil
	}
	result, err := h(s, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "task failed")
		return nil, err
	}
	return result, nil
}

func valueOr(p map[string]any, key string, def any) any {
	if v, ok := p[key]; ok && v != nil {
		return v
	}
	return def
}

// transform applies payload.transform_type to payload.input_data.
func transform(_ *Simulator, p map[string]any) (map[string]any, error) {
	input, ok := p["input_data"].(string)
	if !ok {
		return nil, fmt.Errorf("transform: input_data must be a string")
	}
	kind, _ := p["transform_type"].(string)

	var result any
	switch kind {
	case "uppercase":
		result = strings.ToUpper(input)
	case "lowercase":
		result = strings.ToLower(input)
	case "hash":
		sum := sha256.Sum256([]byte(input))
		result = hex.EncodeToString(sum[:])
	case "reverse":
		r := []rune(input)
		slices.Reverse(r)
		result = string(r)
	case "length":
		result = len([]rune(input))
	default:
		result = input
	}

	echo := input
	if r := []rune(echo); len(r) > 100 {
		echo = string(r[:100])
	}
	return map[string]any{"transform_type": kind, "input": echo, "result": result}, nil
}
