package pipeline

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/openmined/quicksave/internal/utils"
)

// projectLock is an advisory lock file that keeps a second quicksave process
// from uploading the same project concurrently.
type projectLock struct {
	fl *flock.Flock
}

func lockFileName(project string) string {
	sum := sha1.Sum([]byte(project))
	return "quicksave-" + hex.EncodeToString(sum[:8]) + ".lock"
}

// tryLockProject returns (nil, nil) when dir is empty, meaning cross-process
// locking is disabled.
func tryLockProject(dir, project string) (*projectLock, error) {
	if dir == "" {
		return nil, nil
	}
	if err := utils.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}

	fl := flock.New(filepath.Join(dir, lockFileName(project)))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock project: %w", err)
	}
	if !locked {
		return nil, ErrJobInFlight
	}
	return &projectLock{fl: fl}, nil
}

func (l *projectLock) release() error {
	if l == nil || !l.fl.Locked() {
		return nil
	}
	// the file is left in place; removing it would let a waiter and a new
	// process lock different inodes
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("unlock project: %w", err)
	}
	return nil
}
