// Package storage manages the shared temporary directory: collision-free
// allocation, traversal-safe resolution and TTL-based eviction.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"doc-convert-service/internal/apperr"
)

type Owner string

const (
	OwnerUpload       Owner = "upload"
	OwnerIntermediate Owner = "intermediate"
	OwnerResult       Owner = "result"
)

// ManagedFile is a file living directly under the manager's root.
type ManagedFile struct {
	Path        string
	Name        string
	Owner       Owner
	ContentType string
	Size        int64
	CreatedAt   time.Time
}

type Manager struct {
	root string
	log  zerolog.Logger
}

// NewManager creates root if needed and canonicalizes it.
func NewManager(root string, log zerolog.Logger) (*Manager, error) {
	if root == "" {
		return nil, errors.New("storage root is empty")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage root: %w", err)
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		abs = real
	}
	return &Manager{root: abs, log: log.With().Str("component", "storage").Logger()}, nil
}

func (m *Manager) Root() string { return m.root }

// Allocate returns root/<uuid><ext>. The file is not created; the caller is
// its only writer.
func (m *Manager) Allocate(ext string) string {
	return filepath.Join(m.root, uuid.NewString()+normalizeExt(ext))
}

// AllocatePrefixed returns root/<prefix>-<uuid><ext>.
func (m *Manager) AllocatePrefixed(prefix, ext string) string {
	return filepath.Join(m.root, prefix+"-"+uuid.NewString()+normalizeExt(ext))
}

// AllocateDir creates a fresh working directory under root for multi-file
// intermediates. Sweep removes it recursively once it expires.
func (m *Manager) AllocateDir(prefix string) (string, error) {
	dir := filepath.Join(m.root, prefix+"-"+uuid.NewString())
	if err := os.Mkdir(dir, 0o750); err != nil {
		return "", fmt.Errorf("allocate dir: %w", err)
	}
	return dir, nil
}

func normalizeExt(ext string) string {
	ext = strings.TrimSpace(ext)
	if ext == "" {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return strings.ToLower(ext)
}

// Resolve joins parts onto root and fails with InvalidPath when the result
// is root itself or lies outside it.
func (m *Manager) Resolve(parts ...string) (string, error) {
	for _, p := range parts {
		if strings.ContainsRune(p, 0) {
			return "", apperr.InvalidPath("invalid path")
		}
	}
	target, err := filepath.Abs(filepath.Join(append([]string{m.root}, parts...)...))
	if err != nil {
		return "", apperr.Wrap(apperr.KindInvalidPath, "invalid path", err)
	}
	if !m.Contains(target) {
		return "", apperr.InvalidPath("invalid path")
	}
	return target, nil
}

// Contains reports whether path is strictly below root.
func (m *Manager) Contains(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(m.root, abs)
	if err != nil || rel == "." {
		return false
	}
	sep := string(os.PathSeparator)
	return rel != ".." && !strings.HasPrefix(rel, ".."+sep) && !filepath.IsAbs(rel)
}

// Describe stats a path under root.
func (m *Manager) Describe(path string, owner Owner, contentType string) (ManagedFile, error) {
	if !m.Contains(path) {
		return ManagedFile{}, apperr.InvalidPath("invalid path")
	}
	st, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ManagedFile{}, apperr.NotFound("file not found")
		}
		return ManagedFile{}, apperr.Wrap(apperr.KindInternal, "stat failed", err)
	}
	return ManagedFile{
		Path:        path,
		Name:        filepath.Base(path),
		Owner:       owner,
		ContentType: contentType,
		Size:        st.Size(),
		CreatedAt:   st.ModTime(),
	}, nil
}

// Remove deletes paths under root, recursively for directories. Missing
// entries and paths outside root are ignored.
func (m *Manager) Remove(paths ...string) {
	for _, p := range paths {
		if p == "" || !m.Contains(p) {
			continue
		}
		if err := os.RemoveAll(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			m.log.Warn().Err(err).Str("path", p).Msg("remove failed")
		}
	}
}

// Sweep deletes entries directly under root whose modification time is
// older than now-ttl. A failure on one entry is logged and skipped.
func (m *Manager) Sweep(ttl time.Duration) int {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		m.log.Error().Err(err).Msg("sweep: read root")
		return 0
	}

	cutoff := time.Now().Add(-ttl)
	removed := 0
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			// removed concurrently
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		p := filepath.Join(m.root, e.Name())
		if err := os.RemoveAll(p); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				m.log.Warn().Err(err).Str("path", p).Msg("sweep: remove failed")
			}
			continue
		}
		removed++
	}
	return removed
}

// RunSweeper calls Sweep every interval until ctx is done. A panicking pass
// is recovered so later passes still run.
func (m *Manager) RunSweeper(ctx context.Context, interval, ttl time.Duration) {
	m.log.Info().Dur("interval", interval).Dur("ttl", ttl).Str("root", m.root).Msg("sweeper started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.log.Info().Msg("sweeper stopped")
			return
		case <-ticker.C:
			m.sweepOnce(ttl)
		}
	}
}

func (m *Manager) sweepOnce(ttl time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Interface("panic", r).Msg("sweep pass panicked")
		}
	}()
	start := time.Now()
	n := m.Sweep(ttl)
	if n > 0 {
		m.log.Info().Int("removed", n).Int64("duration_ms", time.Since(start).Milliseconds()).Msg("sweep pass")
	}
}
