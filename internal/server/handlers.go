package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/copyleftdev/tixrush/internal/tasks"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TaskLister is the read side of the orchestrator.
type TaskLister interface {
	ListTasks() []tasks.TaskRecord
	GetTaskStatus(id uuid.UUID) (tasks.TaskRecord, error)
}

type APIHandler struct {
	tasks  TaskLister
	logger *zap.Logger
}

func NewAPIHandler(tl TaskLister, logger *zap.Logger) *APIHandler {
	return &APIHandler{
		tasks:  tl,
		logger: logger,
	}
}

type ListTasksResponse struct {
	Tasks []tasks.TaskRecord `json:"tasks"`
	Count int                `json:"count"`
}

func (h *APIHandler) HandleListTasks(w http.ResponseWriter, r *http.Request) {
	records := h.tasks.ListTasks()
	h.respondJSON(w, http.StatusOK, ListTasksResponse{Tasks: records, Count: len(records)})
}

func (h *APIHandler) HandleGetTaskStatus(w http.ResponseWriter, r *http.Request) {
	taskIDStr := chi.URLParam(r, "taskID")
	taskID, err := uuid.Parse(taskIDStr)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid task ID format: %v", err)
		return
	}

	rec, err := h.tasks.GetTaskStatus(taskID)
	if err != nil {
		if errors.Is(err, tasks.ErrTaskNotFound) {
			h.respondError(w, http.StatusNotFound, "Task not found")
			return
		}
		h.logger.Error("task lookup failed", zap.String("task_id", taskIDStr), zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, "Failed to retrieve task status")
		return
	}

	h.respondJSON(w, http.StatusOK, rec)
}

func (h *APIHandler) respondJSON(w http.ResponseWriter, status int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("marshal response", zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, "Failed to marshal JSON response")
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(response); err != nil {
		h.logger.Debug("write response", zap.Error(err))
	}
}

func (h *APIHandler) respondError(w http.ResponseWriter, status int, format string, args ...any) {
	errorMessage := fmt.Sprintf(format, args...)
	jsonResponse, err := json.Marshal(map[string]string{"error": errorMessage})
	if err != nil {
		jsonResponse = []byte(`{"error":"internal error"}`)
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(jsonResponse); err != nil {
		h.logger.Debug("write error response", zap.Error(err))
	}
}
