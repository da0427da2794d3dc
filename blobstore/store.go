// Package blobstore manages the ephemeral input and output files a task
// owns while it is alive. Refs are plain filenames inside a single
// directory; deletion is idempotent because success, failure, and eviction
// paths may all race to remove the same blob.
package blobstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

var ErrNotFound = errors.New("blob not found")

const (
	SuffixInput  = "_input"
	SuffixOutput = "_output"
)

type Store struct {
	dir    string
	logger *zap.Logger
}

func New(dir string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

// Ref builds the blob name for a task role. Keeping the task ID in the
// name makes an orphaned file traceable back to its task.
func Ref(taskID, suffix, ext string) string {
	return taskID + suffix + ext
}

func (s *Store) Put(ref string, data []byte) error {
	path := s.Path(ref)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write blob %s: %w", ref, err)
	}
	return nil
}

func (s *Store) Get(ref string) ([]byte, error) {
	data, err := os.ReadFile(s.Path(ref))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read blob %s: %w", ref, err)
	}
	return data, nil
}

// Open returns a handle for streaming plus the blob size.
func (s *Store) Open(ref string) (*os.File, int64, error) {
	f, err := os.Open(s.Path(ref))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, fmt.Errorf("open blob %s: %w", ref, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat blob %s: %w", ref, err)
	}
	return f, info.Size(), nil
}

func (s *Store) Size(ref string) (int64, error) {
	info, err := os.Stat(s.Path(ref))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("stat blob %s: %w", ref, err)
	}
	return info.Size(), nil
}

// Path exposes the on-disk location for the transform boundary.
func (s *Store) Path(ref string) string {
	return filepath.Join(s.dir, filepath.Base(ref))
}

// Delete removes a blob. Missing files are not an error.
func (s *Store) Delete(ref string) error {
	if ref == "" {
		return nil
	}
	err := os.Remove(s.Path(ref))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob %s: %w", ref, err)
	}
	if err == nil {
		s.logger.Debug("blob deleted", zap.String("ref", ref))
	}
	return nil
}
