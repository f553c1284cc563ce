package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"taskminder/internal/auth"
	"taskminder/internal/deadline"
	"taskminder/internal/jobs"
	"taskminder/internal/logger"
	"taskminder/internal/reminder"
	"taskminder/internal/task"
)

// TaskService is the task API the handlers need; *task.Service implements it.
type TaskService interface {
	List(ctx context.Context, userID uint64) ([]task.Task, error)
	Get(ctx context.Context, userID, id uint64) (*task.Task, error)
	Create(ctx context.Context, userID uint64, in task.Input) (*task.Task, error)
	Update(ctx context.Context, userID, id uint64, in task.Input) (*task.Task, error)
	Complete(ctx context.Context, userID, id uint64) (*task.Task, error)
	Delete(ctx context.Context, userID, id uint64) error
	Reminder(ctx context.Context, userID, id uint64) (*jobs.Job, error)
}

type TaskHandler struct {
	Svc TaskService
	Log *logger.Logger
}

type taskReq struct {
	Description  string `json:"description" validate:"required,max=500"`
	DeadlineDate string `json:"deadline_date" validate:"required"`
	DeadlineTime string `json:"deadline_time" validate:"required"`
}

type taskResp struct {
	ID           uint64    `json:"id"`
	Description  string    `json:"description"`
	DeadlineDate string    `json:"deadline_date"`
	DeadlineTime string    `json:"deadline_time"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type reminderResp struct {
	TaskID    uint64    `json:"task_id"`
	Recipient string    `json:"recipient"`
	Subject   string    `json:"subject"`
	FireAt    time.Time `json:"fire_at"`
	State     string    `json:"state"`
}

func toTaskResp(t *task.Task) taskResp {
	return taskResp{
		ID:           t.ID,
		Description:  t.Description,
		DeadlineDate: t.DeadlineDate,
		DeadlineTime: t.DeadlineTime,
		Status:       string(t.Status),
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
}

func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())

	list, err := h.Svc.List(r.Context(), uid)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]taskResp, 0, len(list))
	for i := range list {
		out = append(out, toTaskResp(&list[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	id, ok := idParam(r)
	if !ok {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	t, err := h.Svc.Get(r.Context(), uid, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskResp(t))
}

func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())

	var req taskReq
	if msg, ok := decode(r, &req); !ok {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	t, err := h.Svc.Create(r.Context(), uid, req.input())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTaskResp(t))
}

func (h *TaskHandler) Update(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	id, ok := idParam(r)
	if !ok {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	var req taskReq
	if msg, ok := decode(r, &req); !ok {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	t, err := h.Svc.Update(r.Context(), uid, id, req.input())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskResp(t))
}

func (h *TaskHandler) Complete(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	id, ok := idParam(r)
	if !ok {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	t, err := h.Svc.Complete(r.Context(), uid, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskResp(t))
}

func (h *TaskHandler) Delete(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	id, ok := idParam(r)
	if !ok {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	if err := h.Svc.Delete(r.Context(), uid, id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *TaskHandler) Reminder(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	id, ok := idParam(r)
	if !ok {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	job, err := h.Svc.Reminder(r.Context(), uid, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if job == nil {
		http.Error(w, "no pending reminder", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, reminderResp{
		TaskID:    job.TaskID,
		Recipient: job.Payload.Recipient,
		Subject:   job.Payload.Subject,
		FireAt:    job.FireAt,
		State:     string(job.State),
	})
}

func (h *TaskHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, deadline.ErrInvalidDeadline), errors.Is(err, task.ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, task.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, task.ErrForbidden):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, reminder.ErrSchedulingUnavailable):
		http.Error(w, "reminder scheduling unavailable", http.StatusServiceUnavailable)
	default:
		if h.Log != nil {
			h.Log.Errorw("task request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		}
		http.Error(w, "server error", http.StatusInternalServerError)
	}
}

func (req taskReq) input() task.Input {
	return task.Input{
		Description:  req.Description,
		DeadlineDate: strings.TrimSpace(req.DeadlineDate),
		DeadlineTime: strings.TrimSpace(req.DeadlineTime),
	}
}
