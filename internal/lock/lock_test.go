package lock

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastOptions() Options {
	return Options{
		Timeout:      500 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
		BackoffCap:   20 * time.Millisecond,
	}
}

func TestAcquire_WritesPayloadAndReleases(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db.lock")

	h, err := Acquire(path, fastOptions())
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var p payload
	require.NoError(t, json.Unmarshal(raw, &p))
	assert.Equal(t, os.Getpid(), p.PID)
	assert.Greater(t, p.CreatedAt, int64(0))

	require.NoError(t, h.Release())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "lock file should be unlinked on release")
}

func TestAcquire_BlocksOnHeldLockUntilReleased(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db.lock")

	h, err := Acquire(path, fastOptions())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		h2, aerr := Acquire(path, Options{
			Timeout:      2 * time.Second,
			PollInterval: 5 * time.Millisecond,
		})
		if aerr == nil {
			h2.Release()
		}
		done <- aerr
	}()

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, h.Release())

	select {
	case aerr := <-done:
		assert.NoError(t, aerr, "second acquirer should win after release")
	case <-time.After(3 * time.Second):
		t.Fatal("second acquirer never completed")
	}
}

func TestAcquire_TimesOutOnLiveOwner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db.lock")

	h, err := Acquire(path, fastOptions())
	require.NoError(t, err)
	defer h.Release()

	// Same process: the owner PID is alive, so the lock is never
	// treated as stale and the second acquire must time out.
	_, err = Acquire(path, fastOptions())
	require.Error(t, err)
	var timeoutErr *ErrTimeout
	assert.ErrorAs(t, err, &timeoutErr)
}

func TestAcquire_RecoversDeadOwnerLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db.lock")

	// A PID far above any live process on a test machine.
	body, _ := json.Marshal(payload{PID: 1 << 30, CreatedAt: time.Now().UnixMilli()})
	require.NoError(t, os.WriteFile(path, body, 0o644))

	h, err := Acquire(path, fastOptions())
	require.NoError(t, err, "dead owner's lock should be recovered")
	require.NoError(t, h.Release())
}

func TestAcquire_RecoversMalformedOldLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db.lock")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	// Backdate the file past the grace period.
	old := time.Now().Add(-10 * time.Second)
	require.NoError(t, os.Chtimes(path, old, old))

	h, err := Acquire(path, fastOptions())
	require.NoError(t, err, "old malformed lock should be recovered")
	require.NoError(t, h.Release())
}

func TestWaitForRelease_ReturnsWhenAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "never-created.lock")
	require.NoError(t, WaitForRelease(path, fastOptions()))
}

func TestWaitForRelease_SeesDeadOwnerAsReleased(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db.lock")
	body, _ := json.Marshal(payload{PID: 1 << 30, CreatedAt: time.Now().UnixMilli()})
	require.NoError(t, os.WriteFile(path, body, 0o644))

	require.NoError(t, WaitForRelease(path, fastOptions()))
}

func TestWaitForRelease_TimesOutOnLiveOwner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db.lock")
	h, err := Acquire(path, fastOptions())
	require.NoError(t, err)
	defer h.Release()

	err = WaitForRelease(path, fastOptions())
	var timeoutErr *ErrTimeout
	assert.ErrorAs(t, err, &timeoutErr)
}
