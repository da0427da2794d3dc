package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.MaxUploadSize != 16*1024*1024 {
		t.Errorf("expected 16MiB upload limit, got %d", cfg.MaxUploadSize)
	}
	if cfg.RetentionGrace != 10*time.Minute {
		t.Errorf("expected 10m retention grace, got %s", cfg.RetentionGrace)
	}
	if cfg.WorkerCount != 4 {
		t.Errorf("expected 4 workers, got %d", cfg.WorkerCount)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("SERVICE_PORT", "9000")
	t.Setenv("WORKER_COUNT", "8")
	t.Setenv("RETENTION_GRACE", "30s")
	t.Setenv("MAX_UPLOAD_SIZE", "1048576")

	cfg := Load()

	if cfg.Port != "9000" {
		t.Errorf("expected port 9000, got %s", cfg.Port)
	}
	if cfg.WorkerCount != 8 {
		t.Errorf("expected 8 workers, got %d", cfg.WorkerCount)
	}
	if cfg.RetentionGrace != 30*time.Second {
		t.Errorf("expected 30s grace, got %s", cfg.RetentionGrace)
	}
	if cfg.MaxUploadSize != 1048576 {
		t.Errorf("expected 1MiB limit, got %d", cfg.MaxUploadSize)
	}
}

func TestLoad_IgnoresMalformedValues(t *testing.T) {
	t.Setenv("WORKER_COUNT", "many")
	t.Setenv("RETENTION_GRACE", "soon")

	cfg := Load()

	if cfg.WorkerCount != 4 {
		t.Errorf("malformed WORKER_COUNT must fall back to default, got %d", cfg.WorkerCount)
	}
	if cfg.RetentionGrace != 10*time.Minute {
		t.Errorf("malformed RETENTION_GRACE must fall back to default, got %s", cfg.RetentionGrace)
	}
}
