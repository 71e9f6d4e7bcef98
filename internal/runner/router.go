// internal/runner/router.go
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"cron-engine/internal/config"
	"cron-engine/internal/domain"
	"cron-engine/internal/infra/builtin"
	httprunner "cron-engine/internal/infra/http"
	"cron-engine/internal/infra/shell"
)

// Router picks a runner by task kind and falls back to a default runner for
// kinds without a route. It is itself a domain.TaskRunner.
type Router struct {
	mu       sync.RWMutex
	routes   map[string]domain.TaskRunner
	fallback domain.TaskRunner
}

func NewRouter(fallback domain.TaskRunner) *Router {
	return &Router{routes: make(map[string]domain.TaskRunner), fallback: fallback}
}

// Handle routes kind to r, replacing any earlier route.
func (rt *Router) Handle(kind string, r domain.TaskRunner) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.routes[kind] = r
}

// Kinds lists the explicitly routed task kinds.
func (rt *Router) Kinds() []string {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return slices.Sorted(maps.Keys(rt.routes))
}

func (rt *Router) Run(ctx context.Context, kind string, payload map[string]any) (map[string]any, error) {
	rt.mu.RLock()
	r, ok := rt.routes[kind]
	if !ok {
		r = rt.fallback
	}
	rt.mu.RUnlock()

	if r == nil {
		return nil, &domain.TaskExecutionError{Kind: domain.TaskErrorFailed, Message: fmt.Sprintf("unsupported task kind %q", kind)}
	}
	return r.Run(ctx, kind, payload)
}

// Build assembles the runner for a configuration. Unrouted kinds go to the
// remote runner at RunnerURL when set, otherwise to the built-in simulator.
func Build(cfg *config.Config, logger *slog.Logger) (*Router, *builtin.Simulator) {
	return build(cfg, logger, true)
}

// BuildLocal assembles the runner hosted by the runner service: the simulator
// plus shell routes. HTTP routes and RunnerURL are ignored.
func BuildLocal(cfg *config.Config, logger *slog.Logger) (*Router, *builtin.Simulator) {
	return build(cfg, logger, false)
}

func build(cfg *config.Config, logger *slog.Logger, remote bool) (*Router, *builtin.Simulator) {
	sim := builtin.NewSimulator(logger)

	var fallback domain.TaskRunner = sim
	if remote && cfg.RunnerURL != "" {
		fallback = httprunner.NewHttpTaskRunner(cfg.RunnerURL, "", logger)
	}
	rt := NewRouter(fallback)

	for kind, tk := range cfg.TaskKinds {
		switch tk.Runner {
		case config.RunnerHTTP:
			if remote {
				rt.Handle(kind, httprunner.NewHttpTaskRunner(tk.URL, tk.Method, logger))
			}
		case config.RunnerShell:
			rt.Handle(kind, shell.NewShellTaskRunner(tk.Command, logger))
		case config.RunnerBuiltin:
			rt.Handle(kind, sim)
		}
		if tk.Delay > 0 {
			sim.SetDelay(kind, tk.Delay)
		}
	}
	logger.Info("task runners configured", "routed_kinds", rt.Kinds(), "remote_fallback", remote && cfg.RunnerURL != "")
	return rt, sim
}
