// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	grpc_api "cron-engine/internal/api/grpc"
	http_api "cron-engine/internal/api/http"
	"cron-engine/internal/config"
	"cron-engine/internal/domain"
	"cron-engine/internal/history"
	"cron-engine/internal/infra/etcd"
	"cron-engine/internal/runner"
	"cron-engine/internal/scheduler"
	"cron-engine/internal/tracing"
	"cron-engine/internal/usecase"
	"cron-engine/internal/worker"

	"golang.org/x/sync/errgroup"
)

// storeLockName guards a persistence store against a second engine.
const storeLockName = "engine"

func main() {
	// 1. Init logger and configuration
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	loader := config.NewLoader(logger)
	cfg, err := loader.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	tracerShutdown, err := tracing.Setup(tracing.Options{
		ServiceName: cfg.ServiceName,
		Role:        "scheduler",
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

	// 2. Create root context for lifecycle management
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupGracefulShutdown(cancel)

	// 3. Optional persistence
	var (
		triggerStore domain.TriggerStore
		jobStore     domain.JobStore
		archive      domain.ExecutionArchive
	)
	if cfg.PersistenceEnabled() {
		etcdClient, err := etcd.NewClient(cfg.Etcd.Endpoints, cfg.Etcd.Timeout)
		if err != nil {
			log.Fatalf("Failed to create etcd client: %v", err)
		}
		defer etcdClient.Close()
		logger.Info("connected to etcd", "endpoints", cfg.Etcd.Endpoints)

		lock, err := etcd.NewEtcdLocker(etcdClient).Lock(rootCtx, storeLockName)
		if err != nil {
			if errors.Is(err, domain.ErrLockNotAcquired) {
				log.Fatalf("Another engine owns the etcd store at %v", cfg.Etcd.Endpoints)
			}
			log.Fatalf("Failed to lock etcd store: %v", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := lock.Unlock(ctx); err != nil {
				logger.Error("failed to release store lock", "error", err)
			}
		}()

		triggerStore = etcd.NewEtcdTriggerRepository(etcdClient, logger)
		jobStore = etcd.NewEtcdJobRepository(etcdClient, logger)
		archive = etcd.NewEtcdExecutionArchive(etcdClient, logger)
	}

	// 4. Instantiate components
	hist := history.NewStore(cfg.History.Retention, archive, logger)
	taskRunner, simulator := runner.Build(cfg, logger)

	engineOpts := []worker.Option{
		worker.WithTimeouts(cfg.Engine.DefaultTimeout, cfg.Timeouts()),
		worker.WithMaxConcurrent(cfg.Engine.MaxConcurrent),
	}
	registryOpts := []scheduler.Option{
		scheduler.WithHistory(hist),
		scheduler.WithTick(cfg.Evaluator.Tick),
	}
	if jobStore != nil {
		engineOpts = append(engineOpts, worker.WithJobStore(jobStore))
		registryOpts = append(registryOpts, scheduler.WithStore(triggerStore))
	}
	engine := worker.NewEngine(taskRunner, hist, logger, engineOpts...)
	evaluator := scheduler.NewEvaluator(cfg.Location(), cfg.Evaluator.CalendarGrace)
	registry := scheduler.NewRegistry(evaluator, engine, logger, registryOpts...)

	if _, err := engine.Restore(rootCtx); err != nil {
		log.Fatalf("Failed to restore jobs: %v", err)
	}
	if _, err := registry.Restore(rootCtx); err != nil {
		log.Fatalf("Failed to restore triggers: %v", err)
	}

	loader.Watch(func(c *config.Config) {
		engine.SetTimeouts(c.Engine.DefaultTimeout, c.Timeouts())
		for kind, tk := range c.TaskKinds {
			if tk.Delay > 0 {
				simulator.SetDelay(kind, tk.Delay)
			}
		}
	})

	// 5. API surfaces
	statusService := usecase.NewStatusService(registry, engine, hist)
	router := http_api.NewRouter(logger,
		http_api.NewScheduleHandler(usecase.NewScheduleService(registry, hist, logger), logger),
		http_api.NewJobHandler(usecase.NewJobService(engine, logger), logger),
		http_api.NewStatusHandler(statusService, hist),
	)
	server := &http.Server{
		Addr:              cfg.HttpListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	healthReporter := grpc_api.NewHealthReporter(registry.Alive, time.Second, logger)
	grpcServer := healthReporter.NewServer()

	// Records appended while the engine drains must still reach the archive.
	archiveCtx, stopArchive := context.WithCancel(context.Background())
	defer stopArchive()

	// 6. Run until shutdown
	g, gctx := errgroup.WithContext(rootCtx)
	g.Go(func() error { return registry.Start(gctx) })
	g.Go(func() error { return hist.Run(archiveCtx) })
	g.Go(func() error { return healthReporter.Run(gctx) })
	g.Go(func() error {
		logger.Info("starting HTTP API server", "addr", cfg.HttpListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if cfg.GrpcListenAddr != "" {
		g.Go(func() error {
			lis, err := net.Listen("tcp", cfg.GrpcListenAddr)
			if err != nil {
				return err
			}
			logger.Info("starting gRPC health server", "addr", cfg.GrpcListenAddr)
			return grpcServer.Serve(lis)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down gracefully")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown failed", "error", err)
		}
		grpcServer.GracefulStop()
		if err := engine.Shutdown(shutdownCtx); err != nil {
			logger.Error("job engine shutdown incomplete", "error", err)
		}
		stopArchive()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("engine stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("engine shut down")
}

func setupGracefulShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		slog.Info("received signal, initiating graceful shutdown", "signal", sig.String())
		cancel()
	}()
}
