// internal/api/http/job_handler.go
package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"cron-engine/internal/domain"
	"cron-engine/internal/usecase"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// JobHandler serves the job endpoints under /jobs.
type JobHandler struct {
	service  *usecase.JobService
	logger   *slog.Logger
	validate *validator.Validate
	tracer   trace.Tracer
}

func NewJobHandler(service *usecase.JobService, logger *slog.Logger) *JobHandler {
	return &JobHandler{
		service:  service,
		logger:   logger.With("component", "job-handler"),
		validate: newValidator(),
		tracer:   otel.Tracer("cron-engine-api"),
	}
}

func (h *JobHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/jobs", h.handleSubmit).Methods(http.MethodPost)
	r.HandleFunc("/jobs", h.handleList).Methods(http.MethodGet)
	r.HandleFunc("/jobs/active", h.handleActive).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{id}", h.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{id}/retry", h.handleRetry).Methods(http.MethodPost)
}

func (h *JobHandler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "handler.SubmitJob")
	defer span.End()

	var req SubmitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		span.SetStatus(codes.Error, "failed to decode request body")
		span.RecordError(err)
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "malformed request body: " + err.Error()})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		span.SetStatus(codes.Error, "validation failed")
		span.RecordError(err)
		writeValidationError(w, err)
		return
	}

	kind := strings.TrimSpace(req.TaskKind)
	span.SetAttributes(attribute.String("job.task_kind", kind))
	id, err := h.service.Submit(ctx, kind, req.Payload, req.Priority)
	if err != nil {
		span.SetStatus(codes.Error, "failed to submit job")
		span.RecordError(err)
		h.logger.Warn("error submitting job", "task_kind", kind, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, SubmitJobResponse{JobID: id, Status: domain.JobStatusQueued})
}

// handleList serves GET /jobs?status=queued|running|completed|failed|active.
func (h *JobHandler) handleList(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, r.URL.Query().Get("status"))
}

func (h *JobHandler) handleActive(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, usecase.StatusActive)
}

func (h *JobHandler) list(w http.ResponseWriter, r *http.Request, filter string) {
	jobs, err := h.service.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (h *JobHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	job, err := h.service.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *JobHandler) handleRetry(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, err := h.service.Retry(r.Context(), id)
	if err != nil {
		h.logger.Warn("error retrying job", "job_id", id, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}
