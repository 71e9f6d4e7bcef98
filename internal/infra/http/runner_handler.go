// internal/infra/http/runner_handler.go
package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"cron-engine/internal/domain"

	"github.com/go-playground/validator/v10"
)

// RunnerHandler serves the remote runner contract on top of a local runner.
type RunnerHandler struct {
	runner   domain.TaskRunner
	validate *validator.Validate
	logger   *slog.Logger
}

func NewRunnerHandler(runner domain.TaskRunner, logger *slog.Logger) *RunnerHandler {
	return &RunnerHandler{
		runner:   runner,
		validate: validator.New(),
		logger:   logger.With("component", "runner-handler"),
	}
}

// ServeHTTP runs one task. A task failure is answered with 422 and the
// error in the body so the caller does not retry it.
func (h *RunnerHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRunResponse(w, http.StatusBadRequest, RunResponse{Error: "invalid request body"})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeRunResponse(w, http.StatusBadRequest, RunResponse{Error: "task_kind is required"})
		return
	}

	logger := h.logger.With("task_kind", req.TaskKind)
	logger.Info("running task")
	result, err := h.runner.Run(r.Context(), req.TaskKind, req.Payload)
	if err != nil {
		logger.Warn("task failed", "error", err)
		writeRunResponse(w, http.StatusUnprocessableEntity, RunResponse{Error: err.Error()})
		return
	}
	if result == nil {
		result = map[string]any{}
	}
	writeRunResponse(w, http.StatusOK, RunResponse{Result: result})
}

func writeRunResponse(w http.ResponseWriter, code int, resp RunResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
