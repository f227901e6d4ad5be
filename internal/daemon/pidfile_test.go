package daemon

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRecord(t *testing.T) *Record {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "trk.pid"))
}

func TestRecord_StoreAndPID(t *testing.T) {
	r := newRecord(t)

	require.NoError(t, r.Store(24601))

	pid, err := r.PID()
	require.NoError(t, err)
	assert.Equal(t, 24601, pid)
}

func TestRecord_CaptureUsesOwnPID(t *testing.T) {
	r := newRecord(t)

	require.NoError(t, r.Capture())

	pid, err := r.PID()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestRecord_PIDErrors(t *testing.T) {
	r := newRecord(t)

	_, err := r.PID()
	assert.Error(t, err, "absent record")

	require.NoError(t, os.WriteFile(r.path, []byte("garbage\n"), 0o644))
	_, err = r.PID()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse pid file")
}

func TestRecord_ClearIsIdempotent(t *testing.T) {
	r := newRecord(t)
	require.NoError(t, r.Store(1))

	require.NoError(t, r.Clear())
	_, err := os.Stat(r.path)
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, r.Clear(), "clearing an absent record is fine")
}

func TestRecord_Alive(t *testing.T) {
	r := newRecord(t)

	pid, alive := r.Alive()
	assert.Zero(t, pid)
	assert.False(t, alive, "no record")

	require.NoError(t, r.Capture())
	pid, alive = r.Alive()
	assert.True(t, alive)
	assert.Equal(t, os.Getpid(), pid)

	// A PID this high is practically never allocated.
	require.NoError(t, r.Store(999999))
	pid, alive = r.Alive()
	assert.Equal(t, 999999, pid)
	assert.False(t, alive)
}

func TestRecord_Signal(t *testing.T) {
	r := newRecord(t)

	err := r.Signal(syscall.Signal(0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no recorded server pid")

	require.NoError(t, r.Capture())
	// A zero signal checks the process without touching it.
	assert.NoError(t, r.Signal(syscall.Signal(0)))
}
