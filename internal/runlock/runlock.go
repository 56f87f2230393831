// Package runlock keeps a single orchestrator per host through an exclusive
// advisory file lock.
package runlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/flock"

	"voiceboot/internal/common/fsutil"
)

// DefaultRetryInterval is the pause between lock attempts.
const DefaultRetryInterval = 50 * time.Millisecond

// ErrHeld is returned when another process keeps the lock until ctx ends.
var ErrHeld = errors.New("another voiceboot appears to be running")

// Lock is a held run lock.
type Lock struct {
	fl *flock.Flock
}

// Acquire takes the exclusive lock at path, retrying every retry until ctx
// is done. The lock file is created, with its parent directory, if needed.
func Acquire(ctx context.Context, path string, retry time.Duration) (*Lock, error) {
	if path == "" {
		return nil, fmt.Errorf("run lock: empty path")
	}
	if retry <= 0 {
		retry = DefaultRetryInterval
	}
	if err := fsutil.EnsureParent(path); err != nil {
		return nil, fmt.Errorf("run lock: %w", err)
	}
	fl := flock.New(path)
	locked, err := fl.TryLockContext(ctx, retry)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("run lock %s: %w", path, ErrHeld)
		}
		return nil, fmt.Errorf("run lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("run lock %s: %w", path, ErrHeld)
	}
	return &Lock{fl: fl}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.fl.Path() }

// Release unlocks and closes the lock file. The file stays on disk so a
// concurrent Acquire never locks an unlinked inode. Safe on a nil Lock.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Close()
}
