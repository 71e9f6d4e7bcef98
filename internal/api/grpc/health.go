// internal/api/grpc/health.go
package grpc

import (
	"context"
	"log/slog"
	"time"

	otelgrpc "go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// EvaluatorService is the health service name that tracks the evaluator loop.
const EvaluatorService = "cronengine.Evaluator"

// HealthReporter publishes evaluator liveness through grpc.health.v1.
type HealthReporter struct {
	health   *health.Server
	alive    func() bool
	interval time.Duration
	logger   *slog.Logger
}

func NewHealthReporter(alive func() bool, interval time.Duration, logger *slog.Logger) *HealthReporter {
	if interval <= 0 {
		interval = time.Second
	}
	h := &HealthReporter{
		health:   health.NewServer(),
		alive:    alive,
		interval: interval,
		logger:   logger.With("component", "grpc-health"),
	}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// NewServer returns a traced gRPC server with the health service registered.
func (h *HealthReporter) NewServer() *grpc.Server {
	s := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
	)
	healthpb.RegisterHealthServer(s, h.health)
	reflection.Register(s)
	return s
}

// Run polls liveness until ctx is done, then reports NOT_SERVING for good.
func (h *HealthReporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	last := healthpb.HealthCheckResponse_NOT_SERVING
	for {
		status := healthpb.HealthCheckResponse_NOT_SERVING
		if h.alive() {
			status = healthpb.HealthCheckResponse_SERVING
		}
		if status != last {
			h.logger.Info("evaluator health changed", "status", status.String())
			last = status
		}
		h.set(status)

		select {
		case <-ctx.Done():
			h.health.Shutdown()
			return nil
		case <-ticker.C:
		}
	}
}

func (h *HealthReporter) set(status healthpb.HealthCheckResponse_ServingStatus) {
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(EvaluatorService, status)
}
