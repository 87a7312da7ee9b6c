// Package lock implements the cross-process advisory lock that serializes
// index mutation for one workspace. It is distinct from the embed
// package's flock-based model-download lock: this lock needs a
// human-readable JSON payload and PID-liveness recovery, neither of
// which flock exposes, so it is built directly on exclusive file
// creation, with the same PID read/write/liveness-probe idiom the daemon
// uses to decide whether a recorded process is still alive.
package lock

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// Default tuning, overridable per-call via Options.
const (
	DefaultTimeout      = 10 * time.Minute
	DefaultPollInterval = 50 * time.Millisecond
	DefaultBackoffCap   = 250 * time.Millisecond
	staleGrace          = 2 * time.Second
)

// ErrTimeout is returned by Acquire when the lock was not obtained within
// the configured timeout.
type ErrTimeout struct {
	Path string
}

func (e *ErrTimeout) Error() string {
	return fmt.Sprintf("lock: timed out acquiring %s", e.Path)
}

// payload is the JSON body written into the lock file.
type payload struct {
	PID       int   `json:"pid"`
	CreatedAt int64 `json:"createdAt"`
}

// Options tunes acquisition behavior. The zero value uses the package
// defaults.
type Options struct {
	Timeout      time.Duration
	PollInterval time.Duration
	BackoffCap   time.Duration
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.BackoffCap <= 0 {
		o.BackoffCap = DefaultBackoffCap
	}
	return o
}

// Handle represents a held lock. Release must be called exactly once.
type Handle struct {
	path string
	file *os.File
}

// Path returns the lock file path.
func (h *Handle) Path() string { return h.path }

// Release closes and unlinks the lock file.
func (h *Handle) Release() error {
	if h.file != nil {
		_ = h.file.Close()
	}
	if err := os.Remove(h.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("lock: release %s: %w", h.path, err)
	}
	return nil
}

// Acquire obtains the lock at path, blocking (with bounded backoff) while
// another live process holds it. A dead owner's lock file is recovered
// and retried automatically.
func Acquire(path string, opts Options) (*Handle, error) {
	opts = opts.withDefaults()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("lock: create parent dir: %w", err)
		}
	}

	deadline := time.Now().Add(opts.Timeout)
	backoff := opts.PollInterval

	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			body, _ := json.Marshal(payload{PID: os.Getpid(), CreatedAt: time.Now().UnixMilli()})
			if _, werr := f.Write(body); werr != nil {
				f.Close()
				os.Remove(path)
				return nil, fmt.Errorf("lock: write payload: %w", werr)
			}
			return &Handle{path: path, file: f}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("lock: create %s: %w", path, err)
		}

		if recovered := tryRecoverStale(path); recovered {
			continue
		}

		if time.Now().After(deadline) {
			return nil, &ErrTimeout{Path: path}
		}

		time.Sleep(backoff)
		backoff *= 2
		if backoff > opts.BackoffCap {
			backoff = opts.BackoffCap
		}
	}
}

// WaitForRelease polls path until it no longer exists, or its owner is no
// longer alive, without acquiring the lock itself.
func WaitForRelease(path string, opts Options) error {
	opts = opts.withDefaults()
	deadline := time.Now().Add(opts.Timeout)

	for {
		info, err := os.Stat(path)
		if os.IsNotExist(err) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("lock: stat %s: %w", path, err)
		}

		if isOwnerDead(path, info) {
			return nil
		}

		if time.Now().After(deadline) {
			return &ErrTimeout{Path: path}
		}
		time.Sleep(opts.PollInterval)
	}
}

// tryRecoverStale unlinks path if its payload is malformed-and-old or its
// owning PID is no longer alive. Returns true if it removed the file
// (the caller should retry immediately).
func tryRecoverStale(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		// Disappeared between the failed create and this stat; let the
		// caller's next create attempt race for it.
		return true
	}
	if isOwnerDead(path, info) {
		_ = os.Remove(path)
		return true
	}
	return false
}

// isOwnerDead reports whether the lock at path should be considered
// abandoned: either its payload can't be parsed and it's older than the
// grace period (a writer mid-write is not mistaken for dead), or its PID
// no longer corresponds to a live process.
func isOwnerDead(path string, info os.FileInfo) bool {
	raw, err := os.ReadFile(path)
	if err != nil {
		return false
	}

	var p payload
	if jsonErr := json.Unmarshal(raw, &p); jsonErr != nil || p.PID <= 0 {
		return time.Since(info.ModTime()) > staleGrace
	}

	return !pidAlive(p.PID)
}

// pidAlive probes liveness via a zero signal. "no such process" means
// dead; "permission denied" means alive (we just can't signal it).
func pidAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	if err == syscall.ESRCH {
		return false
	}
	if err == syscall.EPERM {
		return true
	}
	return false
}
