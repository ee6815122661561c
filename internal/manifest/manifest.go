// Package manifest keeps the index of a backup directory: which database
// the backups belong to and which snapshot files exist.
package manifest

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// FileName is the name of the manifest inside a backup directory.
const FileName = "MANIFEST"

// BackupInfo describes a snapshot file.
type BackupInfo struct {
	Seq     int64
	Entries uint64
	Path    string
}

// Manifest tracks the backups of one database.
type Manifest struct {
	DatabaseID string
	PageSize   int
	LastSeq    int64
	Backups    []BackupInfo
}

// Add records a backup, replacing one with the same sequence number, and
// keeps the list ordered.
func (m *Manifest) Add(b BackupInfo) {
	kept := m.Backups[:0]
	for _, old := range m.Backups {
		if old.Seq != b.Seq {
			kept = append(kept, old)
		}
	}
	m.Backups = append(kept, b)
	sort.Slice(m.Backups, func(i, j int) bool { return m.Backups[i].Seq < m.Backups[j].Seq })
	if b.Seq > m.LastSeq {
		m.LastSeq = b.Seq
	}
}

// Latest returns the newest backup.
func (m Manifest) Latest() (BackupInfo, bool) {
	for i := len(m.Backups) - 1; i >= 0; i-- {
		if m.Backups[i].Seq == m.LastSeq {
			return m.Backups[i], true
		}
	}
	if len(m.Backups) == 0 {
		return BackupInfo{}, false
	}
	return m.Backups[len(m.Backups)-1], true
}

// ReadManifest loads a manifest from disk.
func ReadManifest(path string) (Manifest, error) {
	file, err := os.Open(path)
	if err != nil {
		return Manifest{}, err
	}
	defer file.Close()

	manifest := Manifest{}
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			return Manifest{}, fmt.Errorf("manifest: invalid line %q", line)
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		switch key {
		case "database_id":
			manifest.DatabaseID = value
		case "page_size":
			manifest.PageSize, err = strconv.Atoi(value)
		case "last_seq":
			manifest.LastSeq, err = strconv.ParseInt(value, 10, 64)
		case "backup":
			b, parseErr := parseBackup(value)
			if parseErr != nil {
				return Manifest{}, parseErr
			}
			manifest.Backups = append(manifest.Backups, b)
		}
		if err != nil {
			return Manifest{}, err
		}
	}
	if err := scanner.Err(); err != nil {
		return Manifest{}, err
	}

	return manifest, nil
}

// WriteManifest writes the manifest atomically using a temp file + rename.
func WriteManifest(path string, manifest Manifest) error {
	tmpPath := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	file, err := os.Create(tmpPath)
	if err != nil {
		return err
	}

	writer := bufio.NewWriter(file)
	err = encode(writer, manifest)
	if err == nil {
		err = writer.Flush()
	}
	if err == nil {
		err = file.Sync()
	}
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	return os.Rename(tmpPath, path)
}

func encode(w io.Writer, manifest Manifest) error {
	if _, err := fmt.Fprintf(w, "database_id: %s\n", manifest.DatabaseID); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "page_size: %d\n", manifest.PageSize); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "last_seq: %d\n", manifest.LastSeq); err != nil {
		return err
	}
	for _, b := range manifest.Backups {
		if _, err := fmt.Fprintf(w, "backup: %d %d %s\n", b.Seq, b.Entries, strconv.Quote(b.Path)); err != nil {
			return err
		}
	}
	return nil
}

func parseBackup(value string) (BackupInfo, error) {
	fields := strings.SplitN(strings.TrimSpace(value), " ", 3)
	if len(fields) != 3 {
		return BackupInfo{}, fmt.Errorf("manifest: invalid backup %q", value)
	}
	seq, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return BackupInfo{}, err
	}
	entries, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return BackupInfo{}, err
	}
	path, err := strconv.Unquote(strings.TrimSpace(fields[2]))
	if err != nil {
		return BackupInfo{}, err
	}
	return BackupInfo{Seq: seq, Entries: entries, Path: path}, nil
}
