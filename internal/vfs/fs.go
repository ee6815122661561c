// Package vfs is the operating-system layer under the pager: files, advisory
// locks and checksums.
package vfs

import (
	"errors"
	"io"
	"os"
	"time"

	"github.com/spf13/afero"
)

// Sidecar suffixes appended to the database path.
const (
	WALSuffix     = "-wal"
	SHMSuffix     = "-shm"
	JournalSuffix = "-journal"
	// ReadLockSuffix is followed by the reader slot number.
	ReadLockSuffix = "-read"
)

// ErrShortRead is returned when fewer bytes than requested could be read.
var ErrShortRead = errors.New("vfs: short read")

// File is the part of afero.File the storage layers rely on.
type File interface {
	io.ReaderAt
	io.WriterAt
	Name() string
	Truncate(size int64) error
	Sync() error
	Stat() (os.FileInfo, error)
	Close() error
}

// FS wraps an afero file system. On-disk file systems get real locks,
// in-memory ones never contend.
type FS struct {
	fs     afero.Fs
	onDisk bool
}

// OS returns the operating-system file system.
func OS() *FS {
	return &FS{fs: afero.NewOsFs(), onDisk: true}
}

// Memory returns a fresh, private in-memory file system.
func Memory() *FS {
	return &FS{fs: afero.NewMemMapFs()}
}

// OnDisk reports whether files live on the operating-system file system.
func (f *FS) OnDisk() bool {
	return f.onDisk
}

// Open opens path for reading and writing, creating it when missing. With
// readOnly set the file must already exist.
func (f *FS) Open(path string, readOnly bool) (File, error) {
	if readOnly {
		return f.fs.OpenFile(path, os.O_RDONLY, 0)
	}
	return f.fs.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
}

// Exists reports whether path exists.
func (f *FS) Exists(path string) (bool, error) {
	return afero.Exists(f.fs, path)
}

// Size returns the size of path, or 0 when it does not exist.
func (f *FS) Size(path string) (int64, error) {
	info, err := f.fs.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	return info.Size(), nil
}

// Remove deletes path. A missing file is not an error.
func (f *FS) Remove(path string) error {
	if err := f.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Lock returns an advisory lock on path, or nil for in-memory file systems.
func (f *FS) Lock(path string, timeout time.Duration) *Lock {
	if !f.onDisk {
		return nil
	}
	return NewLock(path, timeout)
}

// ReadFullAt fills buf from off. A file that ends early yields ErrShortRead.
func ReadFullAt(file File, buf []byte, off int64) error {
	n, err := file.ReadAt(buf, off)
	if n == len(buf) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrShortRead
	}
	return err
}

// FileSize returns the current size of an open file.
func FileSize(file File) (int64, error) {
	info, err := file.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
