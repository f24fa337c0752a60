//go:build linux

package lock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLockAcquireRelease(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "state.lock")

	lock, err := NewFileLock(lockPath)
	require.NoError(t, err)
	defer func() { _ = lock.Close() }()

	require.NoError(t, lock.Acquire(5*time.Second))

	data, err := os.ReadFile(lockPath)
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	require.NoError(t, lock.Release())
}

func TestFileLockConcurrentAcquisition(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "state.lock")

	lock1, err := NewFileLock(lockPath)
	require.NoError(t, err)
	defer func() { _ = lock1.Close() }()
	require.NoError(t, lock1.Acquire(5*time.Second))

	lock2, err := NewFileLock(lockPath)
	require.NoError(t, err)
	defer func() { _ = lock2.Close() }()

	start := time.Now()
	err = lock2.Acquire(1 * time.Second)
	elapsed := time.Since(start)
	assert.Error(t, err)
	assert.True(t, elapsed >= 900*time.Millisecond && elapsed <= 2*time.Second)

	require.NoError(t, lock1.Release())
	require.NoError(t, lock2.Acquire(1*time.Second))
}

func TestFileLockStaleLockRemoval(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "state.lock")

	stalePID := 999999
	require.NoError(t, os.WriteFile(lockPath, []byte(fmt.Sprintf("%d\n", stalePID)), 0o640))

	lock, err := NewFileLock(lockPath)
	require.NoError(t, err)
	defer func() { _ = lock.Close() }()

	require.NoError(t, lock.Acquire(5*time.Second))

	data, err := os.ReadFile(lockPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), strconv.Itoa(os.Getpid()))
}

func TestFileLockIsStale(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(path string) error
		wantStale bool
	}{
		{"no lock file", func(string) error { return nil }, false},
		{"empty lock file", func(p string) error { return os.WriteFile(p, []byte(""), 0o640) }, true},
		{"invalid pid", func(p string) error { return os.WriteFile(p, []byte("invalid"), 0o640) }, true},
		{"non-existent pid", func(p string) error { return os.WriteFile(p, []byte("999999"), 0o640) }, true},
		{"current process pid", func(p string) error {
			return os.WriteFile(p, []byte(strconv.Itoa(os.Getpid())), 0o640)
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lockPath := filepath.Join(t.TempDir(), "state.lock")
			require.NoError(t, tt.setup(lockPath))

			stale, err := isLockStale(lockPath, 300*time.Second)
			if err != nil && tt.wantStale {
				return
			}
			assert.Equal(t, tt.wantStale, stale)
		})
	}
}

func TestFileLockStaleAliveProcessNeverStaleRegardlessOfAge(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "state.lock")

	pid := os.Getpid()
	require.NoError(t, os.WriteFile(lockPath, []byte(fmt.Sprintf("%d\n", pid)), 0o640))

	oldTime := time.Now().Add(-24 * time.Hour)
	require.NoError(t, os.Chtimes(lockPath, oldTime, oldTime))

	stale, err := isLockStale(lockPath, 300*time.Second)
	require.NoError(t, err)
	assert.False(t, stale, "a lock held by a live process must never be considered stale")
}

func TestFileLockConcurrentGoroutines(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "state.lock")

	const goroutines = 10
	const iterations = 5

	var wg sync.WaitGroup
	var successCount int32

	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				lock, err := NewFileLock(lockPath)
				if err != nil {
					continue
				}
				if err := lock.Acquire(100 * time.Millisecond); err == nil {
					atomic.AddInt32(&successCount, 1)
					time.Sleep(10 * time.Millisecond)
					_ = lock.Release()
				}
				_ = lock.Close()
			}
		}()
	}
	wg.Wait()

	assert.Greater(t, successCount, int32(0))
}

func TestFileLockErrorPaths(t *testing.T) {
	t.Run("empty path", func(t *testing.T) {
		_, err := NewFileLock("")
		assert.EqualError(t, err, "lock path cannot be empty")
	})

	t.Run("release without acquire", func(t *testing.T) {
		lock, err := NewFileLock(filepath.Join(t.TempDir(), "state.lock"))
		require.NoError(t, err)
		assert.Error(t, lock.Release())
	})

	t.Run("double release", func(t *testing.T) {
		lock, err := NewFileLock(filepath.Join(t.TempDir(), "state.lock"))
		require.NoError(t, err)
		require.NoError(t, lock.Acquire(time.Second))
		assert.NoError(t, lock.Release())
		assert.Error(t, lock.Release())
	})

	t.Run("close without acquire is a no-op", func(t *testing.T) {
		lock, err := NewFileLock(filepath.Join(t.TempDir(), "state.lock"))
		require.NoError(t, err)
		assert.NoError(t, lock.Close())
	})

	t.Run("acquire timeout", func(t *testing.T) {
		lockPath := filepath.Join(t.TempDir(), "state.lock")
		lock1, err := NewFileLock(lockPath)
		require.NoError(t, err)
		defer func() { _ = lock1.Close() }()
		require.NoError(t, lock1.Acquire(time.Second))

		lock2, err := NewFileLock(lockPath)
		require.NoError(t, err)
		defer func() { _ = lock2.Close() }()
		assert.Error(t, lock2.Acquire(100*time.Millisecond))
	})
}

func TestFileLockAcquireContextCancelledBeforeAcquire(t *testing.T) {
	lock, err := NewFileLock(filepath.Join(t.TempDir(), "state.lock"))
	require.NoError(t, err)
	defer func() { _ = lock.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err = lock.AcquireContext(ctx, 30*time.Second)
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, elapsed, 500*time.Millisecond)
}

func TestFileLockAcquireContextCancelledDuringAcquire(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "state.lock")

	lock1, err := NewFileLock(lockPath)
	require.NoError(t, err)
	defer func() { _ = lock1.Close() }()
	require.NoError(t, lock1.Acquire(5*time.Second))

	lock2, err := NewFileLock(lockPath)
	require.NoError(t, err)
	defer func() { _ = lock2.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	err = lock2.AcquireContext(ctx, 30*time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFileLockDirectoryAndFilePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	lockDir := filepath.Join(tmpDir, "newlockdir")
	lockPath := filepath.Join(lockDir, "state.lock")

	lock, err := NewFileLock(lockPath)
	require.NoError(t, err)
	defer func() { _ = lock.Close() }()

	dirInfo, err := os.Stat(lockDir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o750), dirInfo.Mode().Perm())

	require.NoError(t, lock.Acquire(5*time.Second))
	fileInfo, err := os.Stat(lockPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), fileInfo.Mode().Perm())
}

func BenchmarkFileLockAcquireRelease(b *testing.B) {
	lockPath := filepath.Join(b.TempDir(), "bench.lock")

	lock, err := NewFileLock(lockPath)
	if err != nil {
		b.Fatalf("NewFileLock() error = %v", err)
	}
	defer func() { _ = lock.Close() }()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := lock.Acquire(5 * time.Second); err != nil {
			b.Fatalf("Acquire() error = %v", err)
		}
		if err := lock.Release(); err != nil {
			b.Fatalf("Release() error = %v", err)
		}
	}
}
