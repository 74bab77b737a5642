package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/veranemoloko/segment-uploader/internal/domain"
	errpkg "github.com/veranemoloko/segment-uploader/internal/errors"
	"github.com/veranemoloko/segment-uploader/internal/lifecycle"
)

// UploadServiceI defines the upload engine operations exposed over HTTP.
type UploadServiceI interface {
	Enqueue(req domain.EnqueueRequest) (domain.Task, error)
	Cancel(segmentID string) error
	CancelGroup(groupID string) int
	CancelAll() int
	Retry(segmentID string) error
	RetryAllFailed() int
	ClearCompleted() int
	ClearGroup(groupID string) int
	Status(segmentID string) (domain.Task, bool)
	TasksForGroup(groupID string) []domain.Task
	OverallProgress() float64
	IsBusy() bool
}

// LifecycleHandler receives application lifecycle transitions.
type LifecycleHandler interface {
	Handle(event lifecycle.Event)
}

// UploadHandler handles HTTP requests for segment uploads.
type UploadHandler struct {
	uploadService UploadServiceI
	lifecycle     LifecycleHandler
	logger        *slog.Logger
}

// NewUploadHandler creates a new UploadHandler with the provided service and logger.
func NewUploadHandler(uploadService UploadServiceI, lc LifecycleHandler, logger *slog.Logger) *UploadHandler {
	return &UploadHandler{
		uploadService: uploadService,
		lifecycle:     lc,
		logger:        logger,
	}
}

// Enqueue handles POST /uploads.
func (h *UploadHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req domain.EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("failed to decode request", "error", err)
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	task, err := h.uploadService.Enqueue(req)
	if err != nil {
		h.writeServiceError(w, "failed to enqueue upload", err)
		return
	}

	writeJSON(w, http.StatusCreated, domain.NewTaskResponse(task))
}

// GetUpload handles GET /uploads/{segmentID}.
func (h *UploadHandler) GetUpload(w http.ResponseWriter, r *http.Request) {
	segmentID := chi.URLParam(r, "segmentID")

	task, ok := h.uploadService.Status(segmentID)
	if !ok {
		writeError(w, http.StatusNotFound, "upload not found")
		return
	}

	writeJSON(w, http.StatusOK, domain.NewTaskResponse(task))
}

// CancelUpload handles DELETE /uploads/{segmentID}.
func (h *UploadHandler) CancelUpload(w http.ResponseWriter, r *http.Request) {
	segmentID := chi.URLParam(r, "segmentID")

	if err := h.uploadService.Cancel(segmentID); err != nil {
		h.writeServiceError(w, "failed to cancel upload", err)
		return
	}
	h.writeTask(w, segmentID)
}

// RetryUpload handles POST /uploads/{segmentID}/retry.
func (h *UploadHandler) RetryUpload(w http.ResponseWriter, r *http.Request) {
	segmentID := chi.URLParam(r, "segmentID")

	if err := h.uploadService.Retry(segmentID); err != nil {
		h.writeServiceError(w, "failed to retry upload", err)
		return
	}
	h.writeTask(w, segmentID)
}

// RetryAllFailed handles POST /uploads/retry-failed.
func (h *UploadHandler) RetryAllFailed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"requeued": h.uploadService.RetryAllFailed()})
}

// CancelAll handles POST /uploads/cancel-all.
func (h *UploadHandler) CancelAll(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"cancelled": h.uploadService.CancelAll()})
}

// ClearCompleted handles DELETE /uploads/completed.
func (h *UploadHandler) ClearCompleted(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"removed": h.uploadService.ClearCompleted()})
}

// ListGroup handles GET /groups/{groupID}/uploads.
func (h *UploadHandler) ListGroup(w http.ResponseWriter, r *http.Request) {
	tasks := h.uploadService.TasksForGroup(chi.URLParam(r, "groupID"))

	response := make([]domain.TaskResponse, 0, len(tasks))
	for _, task := range tasks {
		response = append(response, domain.NewTaskResponse(task))
	}
	writeJSON(w, http.StatusOK, response)
}

// CancelGroup handles POST /groups/{groupID}/cancel.
func (h *UploadHandler) CancelGroup(w http.ResponseWriter, r *http.Request) {
	n := h.uploadService.CancelGroup(chi.URLParam(r, "groupID"))
	writeJSON(w, http.StatusOK, map[string]int{"cancelled": n})
}

// ClearGroup handles DELETE /groups/{groupID}.
func (h *UploadHandler) ClearGroup(w http.ResponseWriter, r *http.Request) {
	n := h.uploadService.ClearGroup(chi.URLParam(r, "groupID"))
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

// Progress handles GET /progress.
func (h *UploadHandler) Progress(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, domain.ProgressResponse{
		OverallProgress: h.uploadService.OverallProgress(),
		Busy:            h.uploadService.IsBusy(),
	})
}

// Lifecycle handles POST /lifecycle/{event}.
func (h *UploadHandler) Lifecycle(w http.ResponseWriter, r *http.Request) {
	event, err := lifecycle.ParseEvent(chi.URLParam(r, "event"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.lifecycle.Handle(event)
	writeJSON(w, http.StatusOK, map[string]string{"event": string(event)})
}

func (h *UploadHandler) writeTask(w http.ResponseWriter, segmentID string) {
	task, ok := h.uploadService.Status(segmentID)
	if !ok {
		writeError(w, http.StatusNotFound, "upload not found")
		return
	}
	writeJSON(w, http.StatusOK, domain.NewTaskResponse(task))
}

func (h *UploadHandler) writeServiceError(w http.ResponseWriter, msg string, err error) {
	switch {
	case errors.Is(err, errpkg.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, errpkg.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, "upload not found")
	case errors.Is(err, errpkg.ErrDuplicateSegment), errors.Is(err, errpkg.ErrNotRetryable):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, errpkg.ErrEngineClosed):
		writeError(w, http.StatusServiceUnavailable, "service is shutting down")
	default:
		h.logger.Error(msg, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
