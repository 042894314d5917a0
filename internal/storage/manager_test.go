package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doc-convert-service/internal/apperr"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	return m
}

func touch(t *testing.T, path string, age time.Duration) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
	ts := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, ts, ts))
}

func TestAllocate_UniqueUnderRoot(t *testing.T) {
	m := newTestManager(t)

	const n = 200
	var (
		mu   sync.Mutex
		seen = map[string]bool{}
		wg   sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := m.Allocate("PDF")
			mu.Lock()
			seen[p] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
	for p := range seen {
		assert.Equal(t, m.Root(), filepath.Dir(p))
		assert.True(t, strings.HasSuffix(p, ".pdf"))
	}
}

func TestAllocatePrefixed(t *testing.T) {
	m := newTestManager(t)
	p := m.AllocatePrefixed("job", ".zip")
	assert.True(t, strings.HasPrefix(filepath.Base(p), "job-"))
	assert.True(t, strings.HasSuffix(p, ".zip"))
}

func TestResolve_RejectsTraversal(t *testing.T) {
	m := newTestManager(t)

	bad := [][]string{
		{"../../etc/passwd"},
		{"..", "etc", "passwd"},
		{"a/../../b"},
		{".."},
		{""},
		{"."},
		{"x\x00y"},
	}
	for _, parts := range bad {
		p, err := m.Resolve(parts...)
		require.Error(t, err, "%q", parts)
		assert.Equal(t, apperr.KindInvalidPath, apperr.KindOf(err))
		assert.Empty(t, p)
	}
}

func TestResolve_AcceptsChildren(t *testing.T) {
	m := newTestManager(t)

	p, err := m.Resolve("abc.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(m.Root(), "abc.txt"), p)

	p, err = m.Resolve("sub", "../abc.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(m.Root(), "abc.txt"), p)
}

func TestSweep_RemovesOnlyExpired(t *testing.T) {
	m := newTestManager(t)

	fresh := filepath.Join(m.Root(), "fresh.pdf")
	old := filepath.Join(m.Root(), "old.pdf")
	touch(t, fresh, time.Minute)
	touch(t, old, 61*time.Minute)

	oldDir := filepath.Join(m.Root(), "split-old")
	require.NoError(t, os.Mkdir(oldDir, 0o750))
	touch(t, filepath.Join(oldDir, "split-1.pdf"), 61*time.Minute)
	ts := time.Now().Add(-61 * time.Minute)
	require.NoError(t, os.Chtimes(oldDir, ts, ts))

	removed := m.Sweep(30 * time.Minute)
	assert.Equal(t, 2, removed)

	assert.FileExists(t, fresh)
	assert.NoFileExists(t, old)
	assert.NoDirExists(t, oldDir)

	// idempotent
	assert.Equal(t, 0, m.Sweep(30*time.Minute))
	assert.FileExists(t, fresh)
}

func TestRemove_IgnoresMissingAndOutside(t *testing.T) {
	m := newTestManager(t)
	outside := filepath.Join(t.TempDir(), "keep.txt")
	touch(t, outside, 0)
	inside := filepath.Join(m.Root(), "gone.txt")
	touch(t, inside, 0)

	m.Remove(inside, filepath.Join(m.Root(), "never-existed"), outside, "")

	assert.NoFileExists(t, inside)
	assert.FileExists(t, outside)
}

func TestDescribe(t *testing.T) {
	m := newTestManager(t)
	p := m.Allocate(".pdf")
	touch(t, p, 0)

	f, err := m.Describe(p, OwnerUpload, "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.Size)
	assert.Equal(t, filepath.Base(p), f.Name)

	_, err = m.Describe(m.Allocate(".pdf"), OwnerResult, "")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestRunSweeper_StopsOnCancel(t *testing.T) {
	m := newTestManager(t)
	old := filepath.Join(m.Root(), "old.bin")
	touch(t, old, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.RunSweeper(ctx, 10*time.Millisecond, time.Minute)
		close(done)
	}()

	require.Eventually(t, func() bool {
		_, err := os.Stat(old)
		return os.IsNotExist(err)
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}
