// internal/api/http/schedule_handler.go
package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"cron-engine/internal/usecase"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxHistoryPageSize = 100

// ScheduleHandler serves the trigger rule endpoints under /schedules.
type ScheduleHandler struct {
	service  *usecase.ScheduleService
	logger   *slog.Logger
	validate *validator.Validate
	tracer   trace.Tracer
}

func NewScheduleHandler(service *usecase.ScheduleService, logger *slog.Logger) *ScheduleHandler {
	return &ScheduleHandler{
		service:  service,
		logger:   logger.With("component", "schedule-handler"),
		validate: newValidator(),
		tracer:   otel.Tracer("cron-engine-api"),
	}
}

func (h *ScheduleHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/schedules", h.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/schedules", h.handleList).Methods(http.MethodGet)
	r.HandleFunc("/schedules/{id}", h.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/schedules/{id}", h.handleDelete).Methods(http.MethodDelete)
	r.HandleFunc("/schedules/{id}/pause", h.handlePause).Methods(http.MethodPost)
	r.HandleFunc("/schedules/{id}/resume", h.handleResume).Methods(http.MethodPost)
	r.HandleFunc("/schedules/{id}/history", h.handleHistory).Methods(http.MethodGet)
}

func (h *ScheduleHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "handler.RegisterSchedule")
	defer span.End()

	var req RegisterScheduleRequest
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

	spec, err := req.ToDomainSpec()
	if err != nil {
		span.SetStatus(codes.Error, "invalid schedule")
		span.RecordError(err)
		writeError(w, err)
		return
	}

	rule, err := h.service.Register(ctx, spec)
	if err != nil {
		span.SetStatus(codes.Error, "failed to register schedule")
		span.RecordError(err)
		h.logger.Warn("error registering schedule", "task_kind", spec.TaskKind, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (h *ScheduleHandler) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.List(r.Context()))
}

func (h *ScheduleHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rule, err := h.service.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (h *ScheduleHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rule, err := h.service.Delete(r.Context(), id)
	if err != nil {
		h.logger.Warn("error deleting schedule", "trigger_id", id, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (h *ScheduleHandler) handlePause(w http.ResponseWriter, r *http.Request) {
	rule, err := h.service.Pause(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (h *ScheduleHandler) handleResume(w http.ResponseWriter, r *http.Request) {
	rule, err := h.service.Resume(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// handleHistory lists a rule's executions (GET /schedules/{id}/history).
func (h *ScheduleHandler) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "handler.ScheduleHistory")
	defer span.End()
	id := mux.Vars(r)["id"]

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))
	if pageSize <= 0 || pageSize > maxHistoryPageSize {
		pageSize = 20
	}
	span.SetAttributes(attribute.String("trigger.id", id), attribute.Int("page", page), attribute.Int("page_size", pageSize))

	records, err := h.service.History(ctx, id, page, pageSize)
	if err != nil {
		span.SetStatus(codes.Error, "failed to list schedule history")
		span.RecordError(err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ScheduleHistoryResponse{
		TriggerID:  id,
		Page:       page,
		PageSize:   pageSize,
		Executions: records,
	})
}
