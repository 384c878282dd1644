package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"vaultsync-backend/lib/timezone"
	"vaultsync-backend/services/mirror"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
)

// TaskRunner is the slice of the mirror service the api exposes.
type TaskRunner interface {
	ExecuteTask(ctx context.Context, targetDate string) (mirror.TaskResult, error)
	CancelTask() bool
	Status() mirror.Status
	LastResults(ctx context.Context) (mirror.TaskResult, error)
}

type Handler struct {
	runner    TaskRunner
	validator *validator.Validate
}

func NewHandler(runner TaskRunner) *Handler {
	return &Handler{
		runner:    runner,
		validator: validator.New(),
	}
}

// NewRouter wires the task api plus a static file area serving the
// downloaded archives out of downloadDir.
func NewRouter(runner TaskRunner, downloadDir string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	h := NewHandler(runner)

	r.Route("/api", func(r chi.Router) {
		r.Post("/task", h.ExecuteTask)
		r.Delete("/task", h.CancelTask)
		r.Get("/status", h.Status)
		r.Get("/results", h.LastResults)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	fileServer := http.StripPrefix("/files/", http.FileServer(http.Dir(downloadDir)))
	r.Get("/files/*", func(w http.ResponseWriter, r *http.Request) {
		fileServer.ServeHTTP(w, r)
	})

	return r
}

type executeTaskRequest struct {
	// defaults to today in the vault's timezone
	Date string `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

// ExecuteTask handles POST /api/task. it blocks until the run
// finishes, so the response always carries the full outcome.
func (h *Handler) ExecuteTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req := executeTaskRequest{}
	if r.ContentLength != 0 {
		err := json.NewDecoder(r.Body).Decode(&req)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	err := h.validator.Struct(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must look like 2006-01-02")
		return
	}

	if req.Date == "" {
		req.Date = timezone.Today()
	}

	result, err := h.runner.ExecuteTask(ctx, req.Date)
	if errors.Is(err, mirror.ErrTaskAlreadyRunning) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		slog.ErrorContext(ctx, "task run failed", "err", err)

		var taskErr *mirror.TaskError
		if errors.As(err, &taskErr) {
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error":  taskErr.Err.Error(),
				"run_id": taskErr.RunID,
			})
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// CancelTask handles DELETE /api/task. cancelling an idle service is
// not an error, the response just says nothing was running.
func (h *Handler) CancelTask(w http.ResponseWriter, r *http.Request) {
	cancelled := h.runner.CancelTask()
	message := "no task was running"
	if cancelled {
		message = "task cancelled"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cancelled": cancelled,
		"message":   message,
	})
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.runner.Status())
}

func (h *Handler) LastResults(w http.ResponseWriter, r *http.Request) {
	result, err := h.runner.LastResults(r.Context())
	if errors.Is(err, mirror.ErrNoResults) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to load last results", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(data)
	if err != nil {
		slog.Error("failed to encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
