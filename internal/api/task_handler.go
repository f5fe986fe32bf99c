package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tollgate/internal/api/shared"
	"github.com/phrazzld/tollgate/internal/domain"
	"github.com/phrazzld/tollgate/internal/platform/logger"
)

// TaskService is the admission pipeline as seen by HTTP clients and workers.
type TaskService interface {
	Submit(ctx context.Context, accountID, payload string) (uuid.UUID, error)
	SubmitAndWait(ctx context.Context, accountID, payload string, timeout time.Duration) (*domain.Task, error)
	SetResult(ctx context.Context, taskID uuid.UUID, result string) (*domain.Task, error)
	ReportFailure(ctx context.Context, taskID uuid.UUID, reason string) (*domain.Task, error)
	MarkProcessing(ctx context.Context, taskID uuid.UUID) (*domain.Task, error)
	Get(ctx context.Context, accountID string, taskID uuid.UUID) (*domain.Task, error)
	List(ctx context.Context, accountID string, limit int) ([]*domain.Task, error)
}

// TaskHandler serves task submission and the worker callbacks.
type TaskHandler struct {
	tasks  TaskService
	logger *slog.Logger
}

// NewTaskHandler creates a TaskHandler.
func NewTaskHandler(tasks TaskService, logger *slog.Logger) *TaskHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskHandler{
		tasks:  tasks,
		logger: logger.With(slog.String("component", "task_handler")),
	}
}

// Submit handles POST /api/tasks. The caller is charged and the task is
// queued; the response carries only the task ID.
func (h *TaskHandler) Submit(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountFromRequest(w, r)
	if !ok {
		return
	}
	var req SubmitTaskRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	id, err := h.tasks.Submit(r.Context(), accountID, req.Payload)
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}

	logger.FromContextOrDefault(r.Context(), h.logger).Info("task submitted",
		slog.String("task_id", id.String()))
	shared.RespondWithJSON(w, r, http.StatusAccepted, SubmitTaskResponse{
		TaskID: id,
		Status: string(domain.TaskStatusQueued),
	})
}

// SubmitAndWait handles POST /api/tasks/rpc. It blocks until the worker
// replies or the timeout passes. Failures after admission report the failed
// task next to the error.
func (h *TaskHandler) SubmitAndWait(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountFromRequest(w, r)
	if !ok {
		return
	}
	var req SubmitTaskRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	timeout := time.Duration(req.TimeoutSeconds) * time.Second
	t, err := h.tasks.SubmitAndWait(r.Context(), accountID, req.Payload, timeout)
	if err != nil {
		if t == nil {
			HandleAPIError(w, r, err)
			return
		}
		resp := taskToResponse(t)
		HandleAPIError(w, r, err, shared.WithBody(func(e shared.ErrorResponse) interface{} {
			return TaskErrorResponse{ErrorResponse: e, Task: &resp}
		}))
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(t))
}

// Get handles GET /api/tasks/{id}.
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountFromRequest(w, r)
	if !ok {
		return
	}
	id, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}
	t, err := h.tasks.Get(r.Context(), accountID, id)
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(t))
}

// List handles GET /api/tasks.
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountFromRequest(w, r)
	if !ok {
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}
	tasks, err := h.tasks.List(r.Context(), accountID, limit)
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}
	resp := TaskListResponse{Tasks: make([]TaskResponse, 0, len(tasks))}
	for _, t := range tasks {
		resp.Tasks = append(resp.Tasks, taskToResponse(t))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// MarkProcessing handles POST /api/worker/tasks/{id}/processing.
func (h *TaskHandler) MarkProcessing(w http.ResponseWriter, r *http.Request) {
	id, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}
	t, err := h.tasks.MarkProcessing(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(t))
}

// SetResult handles POST /api/worker/tasks/{id}/result.
func (h *TaskHandler) SetResult(w http.ResponseWriter, r *http.Request) {
	id, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}
	var req TaskResultRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	t, err := h.tasks.SetResult(r.Context(), id, req.Result)
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(t))
}

// ReportFailure handles POST /api/worker/tasks/{id}/failure. The charge is
// refunded.
func (h *TaskHandler) ReportFailure(w http.ResponseWriter, r *http.Request) {
	id, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}
	var req TaskFailureRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	t, err := h.tasks.ReportFailure(r.Context(), id, req.Reason)
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(t))
}
