// cmd/runner/main.go
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cron-engine/internal/config"
	http_infra "cron-engine/internal/infra/http"
	"cron-engine/internal/runner"
	"cron-engine/internal/tracing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(logger)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	tracerShutdown, err := tracing.Setup(tracing.Options{
		ServiceName: cfg.ServiceName+"-runner",
		Role:        "runner",
		Output:      tracing.Output(cfg.TraceOutput),
	}, logger)
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := tracerShutdown(context.Background()); err != nil {
			log.Printf("failed to shutdown tracer: %v", err)
		}
	}()

	rootCtx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	taskRunner, _ := runner.BuildLocal(cfg, logger)

	r := mux.NewRouter()
	r.Handle("/run", http_infra.NewRunnerHandler(taskRunner, logger)).Methods(http.MethodPost)
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	server := &http.Server{
		Addr:              cfg.RunnerListenAddr,
		Handler:           otelhttp.NewHandler(r, "runner"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting task runner server", "addr", cfg.RunnerListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Runner server failed: %v", err)
		}
	}()

	<-rootCtx.Done()
	logger.Info("shutting down task runner gracefully")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Runner server shutdown failed: %v", err)
	}
	logger.Info("task runner shut down")
}
