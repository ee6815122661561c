package snapshot

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const suffix = ".snap.xz"

// Manager keeps snapshot files in one directory.
type Manager struct {
	dir string
}

// NewManager returns a snapshot manager rooted at dir.
func NewManager(dir string) *Manager {
	return &Manager{dir: dir}
}

// Dir returns the directory the manager writes to.
func (m *Manager) Dir() string { return m.dir }

// CreateSnapshot writes a new snapshot named after created, filling it with
// fill. The file only appears under its final name once complete. It
// returns the path and the number of entries written.
func (m *Manager) CreateSnapshot(created int64, fill func(*Writer) error) (string, uint64, error) {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return "", 0, err
	}
	path := filepath.Join(m.dir, snapshotName(created))
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return "", 0, err
	}
	fail := func(err error) (string, uint64, error) {
		file.Close()
		os.Remove(tmpPath)
		return "", 0, err
	}

	w, err := NewWriter(file, created)
	if err != nil {
		return fail(err)
	}
	if err := fill(w); err != nil {
		return fail(err)
	}
	if err := w.Close(); err != nil {
		return fail(err)
	}
	if err := file.Sync(); err != nil {
		return fail(err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return "", 0, err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return "", 0, err
	}
	return path, w.Count(), nil
}

// LoadSnapshot opens path and calls fn for every entry. The checksum is
// verified after the last entry, so fn must be prepared to see entries of
// a snapshot that turns out to be damaged.
func (m *Manager) LoadSnapshot(path string, fn func(Entry) error) (Header, error) {
	file, err := os.Open(path)
	if err != nil {
		return Header{}, err
	}
	defer file.Close()

	r, err := NewReader(file)
	if err != nil {
		return Header{}, err
	}
	for {
		e, err := r.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return r.Header(), nil
			}
			return Header{}, err
		}
		if err := fn(e); err != nil {
			return Header{}, err
		}
	}
}

// ListSnapshots returns snapshot files sorted oldest first.
func (m *Manager) ListSnapshots() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, suffix) {
			continue
		}
		paths = append(paths, filepath.Join(m.dir, name))
	}

	sort.Strings(paths)
	return paths, nil
}

func snapshotName(created int64) string {
	if created < 0 {
		created = -created
	}
	return fmt.Sprintf("snapshot_%013d%s", created, suffix)
}
