package syncer

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/fulmenhq/exportsync/pkg/logger"
)

// lockSuffix names the sibling lock file of a destination directory. The
// lock lives beside the destination because the destination itself is
// removed and recreated during a sync.
const lockSuffix = ".lock"

// destLock serializes syncs into one destination across processes.
type destLock struct {
	flock *flock.Flock
}

func lockPath(dest string) string {
	return filepath.Clean(dest) + lockSuffix
}

// acquireDestLock takes the destination lock without waiting. A held lock
// means another sync is writing the same destination.
func acquireDestLock(dest string) (*destLock, error) {
	p := lockPath(dest)
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	l := &destLock{flock: flock.New(p)}
	locked, err := l.flock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire destination lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("destination %s is locked by another sync (%s)", dest, p)
	}
	logger.Debug("acquired destination lock", logger.String("lock", p))
	return l, nil
}

// release unlocks and removes the lock file. Safe to call on a nil lock.
func (l *destLock) release() {
	if l == nil || l.flock == nil {
		return
	}
	if err := l.flock.Unlock(); err != nil {
		logger.Warn("failed to release destination lock", logger.String("lock", l.flock.Path()), logger.Err(err))
		return
	}
	_ = os.Remove(l.flock.Path())
}
