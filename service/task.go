// Package service owns the task lifecycle: submission validation, blob
// persistence, dispatch onto the worker pool, the worker body itself, and
// the read path with its eviction policy.
package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"typetrim/blobstore"
	"typetrim/config"
	"typetrim/dto"
	"typetrim/errs"
	"typetrim/locks"
	"typetrim/models"
	"typetrim/pool"
	"typetrim/registry"
	"typetrim/subset"
	"typetrim/validation"
)

type SubmitRequest struct {
	Filename string
	Data     []byte
	Options  models.Options
}

type TaskService struct {
	cfg         *config.Config
	registry    *registry.Registry
	blobs       *blobstore.Store
	locks       *locks.Manager
	pool        *pool.WorkerPool
	transformer subset.Transformer
	logger      *zap.Logger

	// runCtx outlives individual requests; workers must not die with the
	// request that submitted them.
	runCtx context.Context
}

func New(
	runCtx context.Context,
	cfg *config.Config,
	reg *registry.Registry,
	blobs *blobstore.Store,
	lockMgr *locks.Manager,
	workers *pool.WorkerPool,
	transformer subset.Transformer,
	logger *zap.Logger,
) *TaskService {
	return &TaskService{
		cfg:         cfg,
		registry:    reg,
		blobs:       blobs,
		locks:       lockMgr,
		pool:        workers,
		transformer: transformer,
		logger:      logger,
		runCtx:      runCtx,
	}
}

// Submit validates an upload, persists the input blob, registers the task
// as pending, and dispatches exactly one worker. It returns without
// waiting for processing; callers poll the status endpoint.
func (s *TaskService) Submit(ctx context.Context, traceID string, req *SubmitRequest) (*dto.SubmitResponse, error) {
	if req == nil || len(req.Data) == 0 {
		return nil, errs.Validation(validation.ErrNoFile.Error())
	}
	if req.Options == nil {
		return nil, errs.Validation(validation.ErrMalformedOptions.Error())
	}

	filename := validation.SanitizeFilename(req.Filename)
	if err := validation.CheckUpload(filename, req.Data, s.cfg.MinUploadSize, s.cfg.MaxUploadSize); err != nil {
		return nil, errs.Validation(err.Error())
	}

	id := uuid.New().String()
	ext := strings.ToLower(filepath.Ext(filename))
	inputRef := blobstore.Ref(id, blobstore.SuffixInput, ext)
	outputRef := blobstore.Ref(id, blobstore.SuffixOutput, ext)

	if err := s.blobs.Put(inputRef, req.Data); err != nil {
		return nil, errs.Storage("failed to persist upload", err)
	}

	task := &models.Task{
		ID:               id,
		TraceID:          traceID,
		OriginalFilename: filename,
		Status:           models.StatusPending,
		Message:          "waiting for a worker",
		InputRef:         inputRef,
		Options:          req.Options,
		OriginalSize:     int64(len(req.Data)),
		CreatedAt:        time.Now(),
	}
	if err := s.registry.Create(task); err != nil {
		if derr := s.blobs.Delete(inputRef); derr != nil {
			s.logger.Warn("failed to remove orphaned upload", zap.String("ref", inputRef), zap.Error(derr))
		}
		return nil, errs.Storage("failed to register task", err)
	}

	s.pool.Submit(s.runCtx, func(ctx context.Context) {
		s.run(ctx, id, inputRef, outputRef)
	})

	s.logger.Info("task submitted",
		zap.String("trace_id", traceID),
		zap.String("task_id", id),
		zap.String("filename", filename),
		zap.Int64("size", task.OriginalSize),
	)

	return &dto.SubmitResponse{
		ID:        id,
		Status:    string(models.StatusPending),
		StatusURL: "/status/" + id,
	}, nil
}

// run is the worker body. Ordering is load-bearing: the terminal status is
// written before the lock is released, the lock is released before blobs
// are cleaned, and cleanup finishes before the worker returns. Failures
// never escape; they become the task's terminal error state.
func (s *TaskService) run(ctx context.Context, id, inputRef, outputRef string) {
	if err := s.locks.Acquire(id); err != nil {
		// A second dispatch for the same ID is a bug elsewhere; the
		// holder owns the lock artifact, so only the input is removed.
		s.finish(id, "", subset.Result{}, errs.Storage("task lock unavailable", err))
		if derr := s.blobs.Delete(inputRef); derr != nil {
			s.logger.Warn("input cleanup failed", zap.String("task_id", id), zap.Error(derr))
		}
		return
	}

	res, err := s.execute(ctx, id, inputRef, outputRef)

	if err != nil {
		s.finish(id, "", res, err)
	} else {
		s.finish(id, outputRef, res, nil)
	}

	s.locks.Release(id)
	s.cleanup(id, inputRef, outputRef, err)
}

func (s *TaskService) execute(ctx context.Context, id, inputRef, outputRef string) (subset.Result, error) {
	var opts models.Options
	err := s.registry.Update(id, func(t *models.Task) {
		t.Status = models.StatusProcessing
		t.Progress = 20
		t.Message = "loading font"
		opts = t.Options
	})
	if err != nil {
		return subset.Result{}, errs.Storage("task record disappeared before processing", err)
	}

	s.progress(id, 50, "subsetting glyphs")

	tctx, cancel := context.WithTimeout(ctx, s.cfg.TransformTimeout)
	defer cancel()

	res, err := s.transformer.Transform(tctx, s.blobs.Path(inputRef), s.blobs.Path(outputRef), opts)
	if err != nil {
		return res, err
	}

	s.progress(id, 80, "writing output")

	if res.NewSize < s.cfg.MinOutputSize {
		return res, errs.Transform(
			fmt.Sprintf("subset output is implausibly small (%d bytes)", res.NewSize), nil)
	}
	return res, nil
}

func (s *TaskService) progress(id string, pct int, message string) {
	if err := s.registry.Update(id, func(t *models.Task) {
		t.Progress = pct
		t.Message = message
	}); err != nil {
		s.logger.Warn("progress update failed", zap.String("task_id", id), zap.Error(err))
	}
}

// finish writes the terminal state. OutputRef is only ever set on the
// completed path, keeping it in lockstep with the status.
func (s *TaskService) finish(id, outputRef string, res subset.Result, cause error) {
	now := time.Now()
	err := s.registry.Update(id, func(t *models.Task) {
		t.Progress = 100
		t.CompletedAt = &now
		if cause != nil {
			t.Status = models.StatusError
			t.Message = "processing failed"
			t.ErrorMessage = errs.UserMessage(cause)
			return
		}
		t.Status = models.StatusCompleted
		t.Message = "font trimmed"
		t.OutputRef = outputRef
		t.OriginalSize = res.OriginalSize
		t.NewSize = res.NewSize
		if res.OriginalSize > 0 {
			t.Reduction = float64(res.OriginalSize-res.NewSize) / float64(res.OriginalSize) * 100
		}
	})
	if err != nil {
		s.logger.Error("failed to record terminal state", zap.String("task_id", id), zap.Error(err))
	}

	if cause != nil {
		s.logger.Error("task failed",
			zap.String("task_id", id),
			zap.Error(cause),
		)
	} else {
		s.logger.Info("task completed",
			zap.String("task_id", id),
			zap.Int64("original_size", res.OriginalSize),
			zap.Int64("new_size", res.NewSize),
		)
	}
}

// cleanup removes the input blob on every outcome and the (possibly
// partial) output blob on failure. Deletes are idempotent, so racing the
// eviction path is harmless.
func (s *TaskService) cleanup(id, inputRef, outputRef string, cause error) {
	if err := s.blobs.Delete(inputRef); err != nil {
		s.logger.Warn("input cleanup failed", zap.String("task_id", id), zap.Error(err))
	}
	if cause != nil {
		if err := s.blobs.Delete(outputRef); err != nil {
			s.logger.Warn("output cleanup failed", zap.String("task_id", id), zap.Error(err))
		}
	}
}

// GetStatus is the polling read path. Terminal records past the retention
// grace are evicted on read; the same terminal status is therefore
// readable for a bounded window before turning into a 404.
func (s *TaskService) GetStatus(ctx context.Context, taskID string) (*dto.TaskResponse, error) {
	snap, err := s.registry.Get(taskID)
	if err != nil {
		return nil, errs.NotFound("task not found")
	}

	if snap.Status.Terminal() && snap.CompletedAt != nil &&
		time.Since(*snap.CompletedAt) >= s.cfg.RetentionGrace {
		if evicted, ok := s.registry.Evict(taskID); ok {
			s.releaseResources(evicted)
		}
		return nil, errs.NotFound("task not found")
	}

	return s.toResponse(snap), nil
}

// DownloadPayload streams a completed result exactly once. Close removes
// the underlying blob, so the reference cannot be replayed.
type DownloadPayload struct {
	Filename string
	Size     int64
	File     *os.File

	blobs *blobstore.Store
	ref   string
}

func (p *DownloadPayload) Close() error {
	p.File.Close()
	return p.blobs.Delete(p.ref)
}

// Download claims a completed task's output. The claim evicts the record
// atomically, so concurrent fetches of the same reference yield one
// success and one not-found.
func (s *TaskService) Download(ctx context.Context, taskID string) (*DownloadPayload, error) {
	snap, ok := s.registry.EvictIf(taskID, func(t models.Task) bool {
		return t.Status == models.StatusCompleted && t.OutputRef != ""
	})
	if !ok {
		return nil, errs.NotFound("no downloadable result for this task")
	}

	f, size, err := s.blobs.Open(snap.OutputRef)
	if err != nil {
		if derr := s.blobs.Delete(snap.OutputRef); derr != nil {
			s.logger.Warn("output cleanup failed", zap.String("task_id", taskID), zap.Error(derr))
		}
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, errs.NotFound("result is no longer available")
		}
		return nil, errs.Storage("failed to open result", err)
	}

	s.logger.Info("result downloaded",
		zap.String("task_id", taskID),
		zap.String("filename", snap.OriginalFilename),
		zap.Int64("size", size),
	)

	return &DownloadPayload{
		Filename: snap.OriginalFilename,
		Size:     size,
		File:     f,
		blobs:    s.blobs,
		ref:      snap.OutputRef,
	}, nil
}

// StartSweeper evicts terminal tasks nobody polls once their grace window
// lapses, so abandoned results cannot accumulate.
func (s *TaskService) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				evicted := s.registry.SweepTerminal(now, s.cfg.RetentionGrace)
				for _, t := range evicted {
					s.releaseResources(t)
				}
				if len(evicted) > 0 {
					s.logger.Info("expired tasks evicted", zap.Int("count", len(evicted)))
				}
			}
		}
	}()
}

// releaseResources drops whatever a dead record still references. Workers
// delete their own blobs long before eviction; these deletes only matter
// after a crash or an unclaimed completed output.
func (s *TaskService) releaseResources(t models.Task) {
	if err := s.blobs.Delete(t.InputRef); err != nil {
		s.logger.Warn("input cleanup failed", zap.String("task_id", t.ID), zap.Error(err))
	}
	if err := s.blobs.Delete(t.OutputRef); err != nil {
		s.logger.Warn("output cleanup failed", zap.String("task_id", t.ID), zap.Error(err))
	}
	s.locks.Release(t.ID)
}

func (s *TaskService) toResponse(t models.Task) *dto.TaskResponse {
	resp := &dto.TaskResponse{
		ID:               t.ID,
		TraceID:          t.TraceID,
		OriginalFilename: t.OriginalFilename,
		Status:           string(t.Status),
		Progress:         t.Progress,
		Message:          t.Message,
		ErrorMessage:     t.ErrorMessage,
		CreatedAt:        t.CreatedAt.UTC().Format(time.RFC3339),
	}
	if t.CompletedAt != nil {
		formatted := t.CompletedAt.UTC().Format(time.RFC3339)
		resp.CompletedAt = &formatted
	}
	if t.Status == models.StatusCompleted {
		resp.OriginalSize = formatKB(t.OriginalSize)
		resp.NewSize = formatKB(t.NewSize)
		resp.Reduction = fmt.Sprintf("%.1f%%", t.Reduction)
		resp.DownloadURL = "/download/" + t.ID
	}
	return resp
}

func formatKB(size int64) string {
	return fmt.Sprintf("%.1fKB", float64(size)/1024)
}
