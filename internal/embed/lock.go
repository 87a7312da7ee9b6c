package embed

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// downloadLock serializes first-use model downloads into a shared cache
// directory across concurrent mem-cli processes. Built on gofrs/flock:
// unlike the workspace index lock, this one needs no readable payload
// and no owner-liveness recovery (the OS releases an flock when its
// holder dies), so the kernel primitive is the right tool.
type downloadLock struct {
	fl *flock.Flock
}

// lockDownloads acquires the download lock for dir, blocking until it
// is available.
func lockDownloads(dir string) (*downloadLock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("embed: create cache dir: %w", err)
	}
	fl := flock.New(filepath.Join(dir, ".download.lock"))
	if err := fl.Lock(); err != nil {
		return nil, fmt.Errorf("embed: acquire download lock: %w", err)
	}
	return &downloadLock{fl: fl}, nil
}

// release drops the lock. The lock file itself is left in place; flock
// state lives in the kernel, not the file's existence.
func (l *downloadLock) release() error {
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("embed: release download lock: %w", err)
	}
	return nil
}
