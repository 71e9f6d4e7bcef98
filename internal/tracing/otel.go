// internal/tracing/otel.go
package tracing

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

// Output names the sink for finished spans, as set by trace_output.
type Output string

const (
	OutputNone   Output = "none"
	OutputStdout Output = "stdout"
	OutputStderr Output = "stderr"
)

// Options configures Setup. Writer, when set, takes precedence over Output.
type Options struct {
	ServiceName string
	// Role tells the scheduler process from a remote runner in shared output.
	Role   string
	Output Output
	Writer io.Writer
}

// Setup installs the global tracer provider and returns its shutdown func.
// With OutputNone spans are still created so context propagates, but none
// are sampled or exported.
func Setup(opts Options, logger *slog.Logger) (func(context.Context) error, error) {
	w, err := opts.writer()
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(opts.ServiceName),
			attribute.String("cron_engine.role", opts.Role),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build trace resource: %w", err)
	}

	providerOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if w == nil {
		providerOpts = append(providerOpts, sdktrace.WithSampler(sdktrace.NeverSample()))
	} else {
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithoutTimestamps())
		if err != nil {
			return nil, fmt.Errorf("failed to create span exporter: %w", err)
		}
		providerOpts = append(providerOpts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(providerOpts...)
	otel.SetTracerProvider(tp)

	logger.Info("opentelemetry tracer initialized",
		"service", opts.ServiceName, "role", opts.Role, "output", opts.describe())
	return tp.Shutdown, nil
}

// writer resolves the sink; nil means spans are dropped.
func (o Options) writer() (io.Writer, error) {
	if o.Writer != nil {
		return o.Writer, nil
	}
	switch o.Output {
	case OutputNone, "":
		return nil, nil
	case OutputStdout:
		return os.Stdout, nil
	case OutputStderr:
		return os.Stderr, nil
	}
	return nil, fmt.Errorf("unknown trace output %q", o.Output)
}

func (o Options) describe() string {
	if o.Writer != nil {
		return "writer"
	}
	if o.Output == "" {
		return string(OutputNone)
	}
	return string(o.Output)
}
