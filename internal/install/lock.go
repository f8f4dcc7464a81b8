package install

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofrs/flock"
)

const lockRetryInterval = 50 * time.Millisecond

// rootLock is the exclusive lock one installer holds on a server root. It
// lives next to the root (<root>.lock) so it survives the root being
// removed and recreated.
type rootLock struct {
	fl  *flock.Flock
	log *slog.Logger
}

// lockRoot blocks until the lock at path is held or ctx is done. Contention
// is logged once with the time spent waiting.
func lockRoot(ctx context.Context, path string, log *slog.Logger) (*rootLock, error) {
	fl := flock.New(path)

	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !ok {
		log.Info("waiting for another installer", "lock_path", path)
		start := time.Now()
		ok, err = fl.TryLockContext(ctx, lockRetryInterval)
		if err != nil {
			return nil, fmt.Errorf("lock %s: %w", path, err)
		}
		if !ok {
			return nil, fmt.Errorf("lock %s: %w", path, context.Cause(ctx))
		}
		log.Debug("install lock acquired", "lock_path", path, "waited", time.Since(start))
	}
	return &rootLock{fl: fl, log: log}, nil
}

// unlock releases the lock. The lock file stays on disk; deleting it would
// let a waiter lock a file that no longer has a name.
func (l *rootLock) unlock() {
	if err := l.fl.Close(); err != nil {
		l.log.Debug("release install lock", "lock_path", l.fl.Path(), "error", err)
	}
}
