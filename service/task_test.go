package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"typetrim/blobstore"
	"typetrim/config"
	"typetrim/dto"
	"typetrim/errs"
	"typetrim/locks"
	"typetrim/models"
	"typetrim/pool"
	"typetrim/registry"
	"typetrim/subset"
)

type fakeTransformer struct {
	fn func(ctx context.Context, inputPath, outputPath string, opts models.Options) (subset.Result, error)
}

func (f *fakeTransformer) Transform(ctx context.Context, inputPath, outputPath string, opts models.Options) (subset.Result, error) {
	return f.fn(ctx, inputPath, outputPath, opts)
}

// halvingTransformer writes the first half of the input as output.
func halvingTransformer() *fakeTransformer {
	return &fakeTransformer{fn: func(_ context.Context, inputPath, outputPath string, _ models.Options) (subset.Result, error) {
		data, err := os.ReadFile(inputPath)
		if err != nil {
			return subset.Result{}, errs.Storage("read input", err)
		}
		out := data[:len(data)/2]
		if err := os.WriteFile(outputPath, out, 0o644); err != nil {
			return subset.Result{}, errs.Storage("write output", err)
		}
		return subset.Result{OriginalSize: int64(len(data)), NewSize: int64(len(out))}, nil
	}}
}

type testEnv struct {
	svc      *TaskService
	registry *registry.Registry
	blobs    *blobstore.Store
	locks    *locks.Manager
	pool     *pool.WorkerPool
	cfg      *config.Config
}

func newTestEnv(t *testing.T, transformer subset.Transformer, mutate func(*config.Config)) *testEnv {
	t.Helper()
	logger := zaptest.NewLogger(t)

	cfg := &config.Config{
		DataDir:          t.TempDir(),
		LockDir:          t.TempDir(),
		MaxUploadSize:    1 << 20,
		MinUploadSize:    1024,
		MinOutputSize:    16,
		WorkerCount:      4,
		RetentionGrace:   time.Minute,
		TransformTimeout: 5 * time.Second,
	}
	if mutate != nil {
		mutate(cfg)
	}

	blobs, err := blobstore.New(cfg.DataDir, logger)
	require.NoError(t, err)
	lockMgr, err := locks.NewManager(cfg.LockDir, logger)
	require.NoError(t, err)

	reg := registry.New()
	workers := pool.New(cfg.WorkerCount)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		workers.Wait()
	})

	return &testEnv{
		svc:      New(ctx, cfg, reg, blobs, lockMgr, workers, transformer, logger),
		registry: reg,
		blobs:    blobs,
		locks:    lockMgr,
		pool:     workers,
		cfg:      cfg,
	}
}

func ttfUpload(size int) []byte {
	data := make([]byte, size)
	copy(data, []byte{0x00, 0x01, 0x00, 0x00})
	return data
}

func submit(t *testing.T, env *testEnv, filename string, data []byte, opts models.Options) *dto.SubmitResponse {
	t.Helper()
	resp, err := env.svc.Submit(context.Background(), "trace-test", &SubmitRequest{
		Filename: filename,
		Data:     data,
		Options:  opts,
	})
	require.NoError(t, err)
	require.Equal(t, string(models.StatusPending), resp.Status)
	return resp
}

func waitTerminal(t *testing.T, env *testEnv, taskID string) *dto.TaskResponse {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := env.svc.GetStatus(context.Background(), taskID)
		require.NoError(t, err)
		if resp.Status == string(models.StatusCompleted) || resp.Status == string(models.StatusError) {
			return resp
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s never reached a terminal state", taskID)
	return nil
}

func TestSubmit_Completes(t *testing.T) {
	env := newTestEnv(t, halvingTransformer(), nil)

	resp := submit(t, env, "MyFont.ttf", ttfUpload(4096), models.Options{"latin": true})
	assert.Equal(t, "/status/"+resp.ID, resp.StatusURL)

	status := waitTerminal(t, env, resp.ID)
	assert.Equal(t, string(models.StatusCompleted), status.Status)
	assert.Equal(t, 100, status.Progress)
	assert.Equal(t, "4.0KB", status.OriginalSize)
	assert.Equal(t, "2.0KB", status.NewSize)
	assert.Equal(t, "50.0%", status.Reduction)
	assert.Equal(t, "/download/"+resp.ID, status.DownloadURL)
	assert.Equal(t, "MyFont.ttf", status.OriginalFilename)
	require.NotNil(t, status.CompletedAt)
}

func TestSubmit_InputBlobAlwaysDeleted(t *testing.T) {
	env := newTestEnv(t, halvingTransformer(), nil)

	resp := submit(t, env, "font.ttf", ttfUpload(2048), models.Options{"latin": true})
	waitTerminal(t, env, resp.ID)

	inputRef := blobstore.Ref(resp.ID, blobstore.SuffixInput, ".ttf")
	_, err := env.blobs.Get(inputRef)
	assert.ErrorIs(t, err, blobstore.ErrNotFound, "input blob must not survive a terminal state")

	outputRef := blobstore.Ref(resp.ID, blobstore.SuffixOutput, ".ttf")
	_, err = env.blobs.Get(outputRef)
	assert.NoError(t, err, "output blob must exist for a completed task")
}

func TestSubmit_LockReleasedAfterCompletion(t *testing.T) {
	env := newTestEnv(t, halvingTransformer(), nil)

	resp := submit(t, env, "font.ttf", ttfUpload(2048), models.Options{"latin": true})
	waitTerminal(t, env, resp.ID)

	assert.False(t, env.locks.Held(resp.ID))
	_, err := os.Stat(env.locks.LockPath(resp.ID))
	assert.True(t, os.IsNotExist(err), "lock artifact must be removed with task cleanup")
}

func TestSubmit_ValidationRejections(t *testing.T) {
	env := newTestEnv(t, halvingTransformer(), nil)

	cases := []struct {
		name     string
		filename string
		data     []byte
		opts     models.Options
	}{
		{"no file", "font.ttf", nil, models.Options{}},
		{"empty filename", "", ttfUpload(2048), models.Options{}},
		{"bad extension", "font.exe", ttfUpload(2048), models.Options{}},
		{"too small", "font.ttf", ttfUpload(500), models.Options{}},
		{"too large", "font.ttf", ttfUpload(2<<20), models.Options{}},
		{"not a font", "font.ttf", make([]byte, 2048), models.Options{}},
		{"nil options", "font.ttf", ttfUpload(2048), nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.svc.Submit(context.Background(), "trace-test", &SubmitRequest{
				Filename: tc.filename,
				Data:     tc.data,
				Options:  tc.opts,
			})
			require.Error(t, err)
			assert.Equal(t, errs.KindValidation, errs.KindOf(err))
		})
	}

	assert.Equal(t, 0, env.registry.Len(), "rejected submissions must not create tasks")
}

func TestSubmit_TransformErrorCleansUp(t *testing.T) {
	failing := &fakeTransformer{fn: func(_ context.Context, _, outputPath string, _ models.Options) (subset.Result, error) {
		// Leave a partial output behind to prove cleanup removes it.
		_ = os.WriteFile(outputPath, []byte("partial"), 0o644)
		return subset.Result{}, errs.Transform("font could not be subset: bad glyf table", nil)
	}}
	env := newTestEnv(t, failing, nil)

	resp := submit(t, env, "font.ttf", ttfUpload(2048), models.Options{"latin": true})
	status := waitTerminal(t, env, resp.ID)

	assert.Equal(t, string(models.StatusError), status.Status)
	assert.Contains(t, status.ErrorMessage, "bad glyf table")
	assert.Empty(t, status.DownloadURL)

	for _, suffix := range []string{blobstore.SuffixInput, blobstore.SuffixOutput} {
		ref := blobstore.Ref(resp.ID, suffix, ".ttf")
		_, err := env.blobs.Get(ref)
		assert.ErrorIs(t, err, blobstore.ErrNotFound, "blob %s must be cleaned up", ref)
	}
	assert.False(t, env.locks.Held(resp.ID))
}

func TestSubmit_ImplausiblySmallOutput(t *testing.T) {
	tiny := &fakeTransformer{fn: func(_ context.Context, _, outputPath string, _ models.Options) (subset.Result, error) {
		_ = os.WriteFile(outputPath, []byte("xx"), 0o644)
		return subset.Result{OriginalSize: 2048, NewSize: 2}, nil
	}}
	env := newTestEnv(t, tiny, nil)

	resp := submit(t, env, "font.ttf", ttfUpload(2048), models.Options{"latin": true})
	status := waitTerminal(t, env, resp.ID)

	assert.Equal(t, string(models.StatusError), status.Status)
	assert.Contains(t, status.ErrorMessage, "implausibly small")
}

func TestSubmit_EmptySelectionFailsAsynchronously(t *testing.T) {
	// The real boundary rejects an empty charset before reaching the
	// binary, so a bogus path never gets executed.
	env := newTestEnv(t, subset.NewSubsetter("missing-subsetter-bin", zaptest.NewLogger(t)), nil)

	resp := submit(t, env, "font.ttf", ttfUpload(2048), models.Options{})
	status := waitTerminal(t, env, resp.ID)

	assert.Equal(t, string(models.StatusError), status.Status)
	assert.Contains(t, status.ErrorMessage, "empty selection")
}

func TestConcurrentTasks_NoCrossTaskBleed(t *testing.T) {
	// Each task's output embeds its own options marker.
	marking := &fakeTransformer{fn: func(_ context.Context, _, outputPath string, opts models.Options) (subset.Result, error) {
		payload := []byte("marker:" + opts.String("customChars") + strings.Repeat(".", 64))
		if err := os.WriteFile(outputPath, payload, 0o644); err != nil {
			return subset.Result{}, errs.Storage("write output", err)
		}
		return subset.Result{OriginalSize: 2048, NewSize: int64(len(payload))}, nil
	}}
	env := newTestEnv(t, marking, nil)

	const n = 8
	ids := make(map[string]string, n) // task ID -> marker

	for i := 0; i < n; i++ {
		marker := fmt.Sprintf("task-%d", i)
		resp := submit(t, env, "font.ttf", ttfUpload(2048), models.Options{"customChars": marker})
		ids[resp.ID] = marker
	}

	for id, marker := range ids {
		status := waitTerminal(t, env, id)
		require.Equal(t, string(models.StatusCompleted), status.Status)

		payload, err := env.svc.Download(context.Background(), id)
		require.NoError(t, err)
		data, err := io.ReadAll(payload.File)
		require.NoError(t, err)
		require.NoError(t, payload.Close())

		assert.True(t, strings.HasPrefix(string(data), "marker:"+marker),
			"task %s returned another task's result", id)
	}
}

func TestDownload_SingleUse(t *testing.T) {
	env := newTestEnv(t, halvingTransformer(), nil)

	resp := submit(t, env, "font.ttf", ttfUpload(4096), models.Options{"latin": true})
	waitTerminal(t, env, resp.ID)

	payload, err := env.svc.Download(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, "font.ttf", payload.Filename)
	assert.Equal(t, int64(2048), payload.Size)
	require.NoError(t, payload.Close())

	_, err = env.svc.Download(context.Background(), resp.ID)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err), "a download reference is single-use")

	_, err = env.svc.GetStatus(context.Background(), resp.ID)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err), "downloaded tasks are evicted")

	outputRef := blobstore.Ref(resp.ID, blobstore.SuffixOutput, ".ttf")
	_, err = env.blobs.Get(outputRef)
	assert.ErrorIs(t, err, blobstore.ErrNotFound, "output blob must be removed after download")
}

func TestDownload_RejectsUnfinishedTask(t *testing.T) {
	blocked := make(chan struct{})
	slow := &fakeTransformer{fn: func(ctx context.Context, _, outputPath string, _ models.Options) (subset.Result, error) {
		select {
		case <-blocked:
		case <-ctx.Done():
		}
		_ = os.WriteFile(outputPath, make([]byte, 64), 0o644)
		return subset.Result{OriginalSize: 2048, NewSize: 64}, nil
	}}
	env := newTestEnv(t, slow, nil)

	resp := submit(t, env, "font.ttf", ttfUpload(2048), models.Options{"latin": true})

	_, err := env.svc.Download(context.Background(), resp.ID)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))

	// The failed download attempt must not have evicted the record.
	_, err = env.svc.GetStatus(context.Background(), resp.ID)
	require.NoError(t, err)

	close(blocked)
	waitTerminal(t, env, resp.ID)
}

func TestStatus_UnknownTask(t *testing.T) {
	env := newTestEnv(t, halvingTransformer(), nil)

	_, err := env.svc.GetStatus(context.Background(), "no-such-task")
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
}

func TestStatus_EvictsAfterGrace(t *testing.T) {
	env := newTestEnv(t, halvingTransformer(), func(cfg *config.Config) {
		cfg.RetentionGrace = 50 * time.Millisecond
	})

	resp := submit(t, env, "font.ttf", ttfUpload(2048), models.Options{"latin": true})
	status := waitTerminal(t, env, resp.ID)
	require.Equal(t, string(models.StatusCompleted), status.Status)

	time.Sleep(80 * time.Millisecond)

	_, err := env.svc.GetStatus(context.Background(), resp.ID)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err), "terminal records expire after the grace window")

	outputRef := blobstore.Ref(resp.ID, blobstore.SuffixOutput, ".ttf")
	_, err = env.blobs.Get(outputRef)
	assert.ErrorIs(t, err, blobstore.ErrNotFound, "eviction must release the unclaimed output")
}

func TestSweeper_EvictsUnpolledTasks(t *testing.T) {
	env := newTestEnv(t, halvingTransformer(), func(cfg *config.Config) {
		cfg.RetentionGrace = 30 * time.Millisecond
	})

	resp := submit(t, env, "font.ttf", ttfUpload(2048), models.Options{"latin": true})
	waitTerminal(t, env, resp.ID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.svc.StartSweeper(ctx, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return env.registry.Len() == 0
	}, 2*time.Second, 10*time.Millisecond, "sweeper never evicted the expired task")

	outputRef := blobstore.Ref(resp.ID, blobstore.SuffixOutput, ".ttf")
	_, err := env.blobs.Get(outputRef)
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestProgress_NeverRegresses(t *testing.T) {
	env := newTestEnv(t, halvingTransformer(), nil)

	resp := submit(t, env, "font.ttf", ttfUpload(4096), models.Options{"latin": true})

	last := -1
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		status, err := env.svc.GetStatus(context.Background(), resp.ID)
		require.NoError(t, err)
		require.GreaterOrEqual(t, status.Progress, last, "progress regressed")
		last = status.Progress
		if status.Status == string(models.StatusCompleted) {
			return
		}
		require.NotEqual(t, string(models.StatusError), status.Status)
	}
	t.Fatal("task never completed")
}
