package daemon

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config tunes one daemon instance and its clients' view of it.
type Config struct {
	// SocketDir holds the socket file, the start-lock, and nothing else.
	// Directory mode 0o700, socket mode 0o600.
	SocketDir string

	// HandshakeTimeout bounds ping/shutdown round trips.
	HandshakeTimeout time.Duration
	// RunTimeout bounds a forwarded run, long enough to cover a cold
	// embedding-model load.
	RunTimeout time.Duration
	// IdleTimeout is how long the daemon waits with no work in flight
	// before it shuts itself down.
	IdleTimeout time.Duration

	// BuildVersion identifies this binary; a client/daemon mismatch forces
	// a daemon restart, same as a protocol version mismatch.
	BuildVersion string
}

// SocketPath is the socket file inside SocketDir.
func (c Config) SocketPath() string {
	return filepath.Join(c.SocketDir, "daemon.sock")
}

// StartLockPath is the start-lock file inside SocketDir, distinct from a
// workspace's index lock (internal/lock), guarding daemon spawn races.
func (c Config) StartLockPath() string {
	return filepath.Join(c.SocketDir, "start.lock")
}

// DefaultConfig returns the default daemon tuning, honoring
// MEM_CLI_DAEMON_SOCKET_DIR and MEM_CLI_DAEMON_IDLE_MS overrides.
func DefaultConfig(buildVersion string) (Config, error) {
	dir, err := defaultSocketDir()
	if err != nil {
		return Config{}, err
	}
	if override := os.Getenv("MEM_CLI_DAEMON_SOCKET_DIR"); override != "" {
		dir = override
	}

	idle := 10 * time.Minute
	if raw := os.Getenv("MEM_CLI_DAEMON_IDLE_MS"); raw != "" {
		if ms, perr := strconv.Atoi(raw); perr == nil && ms > 0 {
			idle = time.Duration(ms) * time.Millisecond
		}
	}

	return Config{
		SocketDir:        dir,
		HandshakeTimeout: 2 * time.Second,
		RunTimeout:       10 * time.Minute,
		IdleTimeout:      idle,
		BuildVersion:     buildVersion,
	}, nil
}

// defaultSocketDir computes the POSIX socket directory,
// <tmpdir>/mem-cli-<uid>-<homeHash12>. Kept short to stay under sun_path
// length limits. Windows named-pipe transport is out of scope: nothing in
// the dependency set grounds a winio-based implementation, so this build
// targets POSIX platforms only.
func defaultSocketDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("daemon: resolve home dir: %w", err)
	}
	sum := sha256.Sum256([]byte(home))
	homeHash := hex.EncodeToString(sum[:])[:12]
	name := fmt.Sprintf("mem-cli-%d-%s", os.Getuid(), homeHash)
	return filepath.Join(os.TempDir(), name), nil
}

// EnsureDir creates SocketDir with restrictive permissions; the socket
// and start-lock inside it are per-user private.
func (c Config) EnsureDir() error {
	return os.MkdirAll(c.SocketDir, 0o700)
}
