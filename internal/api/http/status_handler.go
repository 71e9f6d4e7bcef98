// internal/api/http/status_handler.go
package http

import (
	"net/http"
	"strconv"

	"cron-engine/internal/domain"
	"cron-engine/internal/usecase"

	"github.com/gorilla/mux"
)

const defaultHistoryLimit = 50

// HistoryReader is what the /executions/history endpoint reads.
type HistoryReader interface {
	Recent(n int) []domain.ExecutionRecord
	TotalCount() int64
}

// StatusHandler serves history, stats, status and health.
type StatusHandler struct {
	service *usecase.StatusService
	history HistoryReader
}

func NewStatusHandler(service *usecase.StatusService, history HistoryReader) *StatusHandler {
	return &StatusHandler{service: service, history: history}
}

func (h *StatusHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/executions/history", h.handleHistory).Methods(http.MethodGet)
	r.HandleFunc("/stats", h.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/status", h.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)
}

// handleHistory returns the most recent executions, most recent last.
func (h *StatusHandler) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	records := h.history.Recent(limit)
	writeJSON(w, http.StatusOK, ExecutionHistoryResponse{
		Executions: records,
		TotalCount: h.history.TotalCount(),
		Returned:   len(records),
	})
}

func (h *StatusHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Stats(r.Context()))
}

func (h *StatusHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Status(r.Context()))
}

// handleHealth is 503 while the evaluator loop is not running.
func (h *StatusHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !h.service.Healthy() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unhealthy", "evaluator_running": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "healthy", "evaluator_running": true})
}
