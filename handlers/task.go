package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"typetrim/dto"
	"typetrim/errs"
	"typetrim/middleware"
	"typetrim/models"
	"typetrim/service"
	"typetrim/validation"
)

// TaskService is the slice of the service layer the HTTP handlers need.
type TaskService interface {
	Submit(ctx context.Context, traceID string, req *service.SubmitRequest) (*dto.SubmitResponse, error)
	GetStatus(ctx context.Context, taskID string) (*dto.TaskResponse, error)
	Download(ctx context.Context, taskID string) (*service.DownloadPayload, error)
}

type TaskHandler struct {
	service TaskService
	logger  *zap.Logger
	maxSize int64
}

func NewTaskHandler(svc TaskService, maxUploadSize int64, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{
		service: svc,
		logger:  logger,
		maxSize: maxUploadSize,
	}
}

func (h *TaskHandler) Process(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	// Some slack over the configured limit so an oversized font still
	// reaches the size check and gets a descriptive rejection.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxSize+1<<20)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		h.handleError(w, errs.Validation("failed to parse upload form"), err, traceID)
		return
	}

	file, header, err := r.FormFile("font")
	if err != nil {
		h.handleError(w, errs.Validation(validation.ErrNoFile.Error()), err, traceID)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.handleError(w, errs.Storage("failed to read upload", err), err, traceID)
		return
	}

	opts, err := parseOptions(r.FormValue("options"))
	if err != nil {
		h.handleError(w, errs.Validation(validation.ErrMalformedOptions.Error()), err, traceID)
		return
	}

	resp, err := h.service.Submit(r.Context(), traceID, &service.SubmitRequest{
		Filename: header.Filename,
		Data:     data,
		Options:  opts,
	})
	if err != nil {
		h.handleError(w, err, err, traceID)
		return
	}

	h.respondJSON(w, http.StatusAccepted, resp)
}

func (h *TaskHandler) Status(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	taskID := r.PathValue("id")
	if taskID == "" {
		h.handleError(w, errs.Validation("task ID is required"), nil, traceID)
		return
	}

	resp, err := h.service.GetStatus(r.Context(), taskID)
	if err != nil {
		h.handleError(w, err, err, traceID)
		return
	}

	h.respondJSON(w, http.StatusOK, resp)
}

func (h *TaskHandler) Download(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	taskID := r.PathValue("id")
	if taskID == "" {
		h.handleError(w, errs.Validation("task ID is required"), nil, traceID)
		return
	}

	payload, err := h.service.Download(r.Context(), taskID)
	if err != nil {
		h.handleError(w, err, err, traceID)
		return
	}
	defer payload.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(payload.Size, 10))
	w.Header().Set("Content-Disposition", `attachment; filename="`+payload.Filename+`"`)

	if _, err := io.Copy(w, payload.File); err != nil {
		h.logger.Warn("download interrupted",
			zap.String("trace_id", traceID),
			zap.String("task_id", taskID),
			zap.Error(err),
		)
	}
}

func (h *TaskHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// parseOptions shape-checks the options form field. A missing field means
// an empty selection, which is accepted here and fails asynchronously.
func parseOptions(raw string) (models.Options, error) {
	if raw == "" {
		raw = "{}"
	}
	var opts models.Options
	if err := json.Unmarshal([]byte(raw), &opts); err != nil {
		return nil, err
	}
	return opts, nil
}

func (h *TaskHandler) handleError(w http.ResponseWriter, userErr error, cause error, traceID string) {
	status := errs.HTTPStatus(userErr)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("trace_id", traceID),
			zap.Error(cause),
		)
	} else {
		h.logger.Info("request rejected",
			zap.String("trace_id", traceID),
			zap.String("reason", errs.UserMessage(userErr)),
		)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(dto.ErrorResponse{
		Error:   errs.UserMessage(userErr),
		Code:    errs.KindOf(userErr),
		TraceID: traceID,
	})
}

func (h *TaskHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
