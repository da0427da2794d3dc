// Package locks provides per-task mutual exclusion backed by lock files,
// so a held lock is observable from outside the process and a stale
// artifact left by a crash can be cleaned up with the rest of the task.
package locks

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"go.uber.org/zap"
)

var ErrAlreadyLocked = errors.New("task is already locked")

type Manager struct {
	dir    string
	logger *zap.Logger

	mu   sync.Mutex
	held map[string]*flock.Flock
}

func NewManager(dir string, logger *zap.Logger) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	return &Manager{
		dir:    dir,
		logger: logger,
		held:   make(map[string]*flock.Flock),
	}, nil
}

// Acquire takes the lock for a task. Task IDs are never reused, so a
// failed acquisition means a duplicate dispatch; callers fail fast
// instead of blocking a worker slot.
func (m *Manager) Acquire(taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.held[taskID]; exists {
		return ErrAlreadyLocked
	}

	lock := flock.New(m.LockPath(taskID))
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire task lock: %w", err)
	}
	if !ok {
		return ErrAlreadyLocked
	}

	m.held[taskID] = lock
	return nil
}

// Release unlocks and removes the lock artifact. Releasing a lock that
// was never acquired, or releasing twice, is a no-op.
func (m *Manager) Release(taskID string) {
	m.mu.Lock()
	lock, exists := m.held[taskID]
	delete(m.held, taskID)
	m.mu.Unlock()

	if exists {
		if err := lock.Unlock(); err != nil {
			m.logger.Warn("failed to release task lock",
				zap.String("task_id", taskID),
				zap.Error(err),
			)
		}
	}
	// The artifact is removed as part of task cleanup, not only on
	// graceful unlock, so a crashed holder cannot block the ID forever.
	if err := os.Remove(m.LockPath(taskID)); err != nil && !os.IsNotExist(err) {
		m.logger.Warn("failed to remove lock file",
			zap.String("task_id", taskID),
			zap.Error(err),
		)
	}
}

// Held reports whether this process currently holds the task's lock.
func (m *Manager) Held(taskID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, exists := m.held[taskID]
	return exists
}

func (m *Manager) LockPath(taskID string) string {
	return filepath.Join(m.dir, filepath.Base(taskID)+".lock")
}
