package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const lockRetryDelay = 25 * time.Millisecond

// locker gives exclusive access to one store file, both between goroutines
// of this process and between processes sharing the file.
type locker struct {
	sem     chan struct{}
	flock   *flock.Flock
	timeout time.Duration
}

func newLocker(path string, timeout time.Duration) *locker {
	return &locker{
		sem:     make(chan struct{}, 1),
		flock:   flock.New(path + ".lock"),
		timeout: timeout,
	}
}

// withLock runs fn while holding the lock. Acquisition gives up after the
// configured timeout.
func (l *locker) withLock(ctx context.Context, fn func() error) error {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("acquire lock: %w", ctx.Err())
	}
	defer func() { <-l.sem }()

	locked, err := l.flock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("acquire file lock %s: %w", l.flock.Path(), err)
	}
	if !locked {
		return fmt.Errorf("acquire file lock %s: not acquired", l.flock.Path())
	}
	defer l.flock.Unlock()

	return fn()
}

// writeFileAtomic replaces path with data so readers never observe a
// partially written file.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

func ensureDir(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	return nil
}
