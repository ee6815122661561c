// Package wal implements the write-ahead log: a file of page images appended
// by committing writers and copied back into the database by checkpoints.
package wal

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/bretuobay/snkv/internal/vfs"
)

// Snapshot names a committed prefix of the log. MaxFrame zero means the
// database file alone is authoritative.
type Snapshot struct {
	Salt1     uint32
	Salt2     uint32
	MaxFrame  uint32
	PageCount uint32
}

// Page is one page image to append.
type Page struct {
	No   uint32
	Data []byte
}

// Log is one connection's view of a log file. It is not safe for concurrent
// use; cross-process coordination is the caller's job.
type Log struct {
	file     vfs.File
	path     string
	pageSize int

	hdr    Header
	hasHdr bool

	index     map[uint32][]uint32
	commits   map[uint32]uint32
	maxFrame  uint32
	nPages    uint32
	lastCksum uint64
	frameBuf  []byte
}

// Open opens the log at path. A read-only connection tolerates a missing
// file and sees an empty log.
func Open(fs *vfs.FS, path string, pageSize int, readOnly bool) (*Log, error) {
	l := &Log{
		path:     path,
		pageSize: pageSize,
		index:    make(map[uint32][]uint32),
		commits:  make(map[uint32]uint32),
		frameBuf: make([]byte, FrameHeaderSize+pageSize),
	}
	file, err := fs.Open(path, readOnly)
	if err != nil {
		if readOnly && errors.Is(err, os.ErrNotExist) {
			return l, nil
		}
		return nil, err
	}
	l.file = file
	return l, nil
}

// Path returns the log file path.
func (l *Log) Path() string { return l.path }

// Header returns the current header and whether the log has one.
func (l *Log) Header() (Header, bool) { return l.hdr, l.hasHdr }

// MaxFrame returns the last committed frame known to this connection.
func (l *Log) MaxFrame() uint32 { return l.maxFrame }

// Snapshot returns the newest committed state known to this connection.
func (l *Log) Snapshot() Snapshot {
	return Snapshot{Salt1: l.hdr.Salt1, Salt2: l.hdr.Salt2, MaxFrame: l.maxFrame, PageCount: l.nPages}
}

func (l *Log) resetIndex() {
	l.index = make(map[uint32][]uint32)
	l.commits = make(map[uint32]uint32)
	l.maxFrame = 0
	l.nPages = 0
	l.lastCksum = 0
}

// Refresh reads any frames committed since the last call and returns the
// newest snapshot. A missing, torn or foreign header reads as an empty log.
func (l *Log) Refresh() (Snapshot, error) {
	if l.file == nil {
		return Snapshot{}, nil
	}
	buf := make([]byte, HeaderSize)
	if err := vfs.ReadFullAt(l.file, buf, 0); err != nil {
		if errors.Is(err, vfs.ErrShortRead) {
			l.hasHdr = false
			l.resetIndex()
			return Snapshot{}, nil
		}
		return Snapshot{}, err
	}
	hdr, err := DecodeHeader(buf)
	if err != nil || int(hdr.PageSize) != l.pageSize {
		l.hasHdr = false
		l.resetIndex()
		return Snapshot{}, nil
	}
	if !l.hasHdr || hdr.Salt1 != l.hdr.Salt1 || hdr.Salt2 != l.hdr.Salt2 {
		l.resetIndex()
		l.hdr = hdr
		l.hasHdr = true
		l.lastCksum = hdr.Checksum
	}

	type pending struct{ pgno, frame uint32 }
	var batch []pending
	cksum := l.lastCksum
	for frame := l.maxFrame + 1; ; frame++ {
		err := vfs.ReadFullAt(l.file, l.frameBuf, frameOffset(frame, l.pageSize))
		if errors.Is(err, vfs.ErrShortRead) {
			break
		}
		if err != nil {
			return Snapshot{}, err
		}
		fh, ok := decodeFrame(l.frameBuf, cksum, l.hdr.Salt1, l.hdr.Salt2, l.pageSize)
		if !ok {
			break
		}
		cksum = fh.Checksum
		batch = append(batch, pending{fh.PageNo, frame})
		if fh.Commit == 0 {
			continue
		}
		for _, p := range batch {
			l.index[p.pgno] = append(l.index[p.pgno], p.frame)
		}
		batch = batch[:0]
		l.maxFrame = frame
		l.nPages = fh.Commit
		l.commits[frame] = fh.Commit
		l.lastCksum = cksum
	}
	return l.Snapshot(), nil
}

// Find returns the newest frame at or below maxFrame holding pgno.
func (l *Log) Find(pgno, maxFrame uint32) (uint32, bool) {
	frames := l.index[pgno]
	i := sort.Search(len(frames), func(i int) bool { return frames[i] > maxFrame })
	if i == 0 {
		return 0, false
	}
	return frames[i-1], true
}

// LastCommit returns the newest commit frame at or below frame together
// with the database size it recorded.
func (l *Log) LastCommit(frame uint32) (uint32, uint32, bool) {
	for f := min(frame, l.maxFrame); f > 0; f-- {
		if n, ok := l.commits[f]; ok {
			return f, n, true
		}
	}
	return 0, 0, false
}

// ReadFrame copies the page image of frame into buf.
func (l *Log) ReadFrame(frame uint32, buf []byte) error {
	if l.file == nil {
		return fmt.Errorf("wal: frame %d: log is empty", frame)
	}
	return vfs.ReadFullAt(l.file, buf[:l.pageSize], frameOffset(frame, l.pageSize)+FrameHeaderSize)
}

// Restart starts a new generation at frame one with the given salts. Frames
// of the previous generation stay on disk but no longer validate.
func (l *Log) Restart(salt1, salt2 uint32) error {
	if l.file == nil {
		return fmt.Errorf("wal: restart: log is read-only")
	}
	hdr := Header{
		PageSize:      uint32(l.pageSize),
		CheckpointSeq: l.hdr.CheckpointSeq + 1,
		Salt1:         salt1,
		Salt2:         salt2,
	}
	buf := hdr.Encode()
	if _, err := l.file.WriteAt(buf, 0); err != nil {
		return err
	}
	hdr, err := DecodeHeader(buf)
	if err != nil {
		return err
	}
	l.resetIndex()
	l.hdr = hdr
	l.hasHdr = true
	l.lastCksum = hdr.Checksum
	return nil
}

// Append writes pages as one transaction. The last frame is the commit
// frame and records nPages. The caller holds the writer lock and has
// already started a generation.
func (l *Log) Append(pages []Page, nPages uint32, sync bool) error {
	if !l.hasHdr {
		return fmt.Errorf("wal: append: log has no header")
	}
	if len(pages) == 0 {
		return nil
	}
	frameSize := FrameHeaderSize + l.pageSize
	buf := make([]byte, len(pages)*frameSize)
	cksum := l.lastCksum
	for i, p := range pages {
		if len(p.Data) != l.pageSize {
			return fmt.Errorf("wal: append: page %d has %d bytes", p.No, len(p.Data))
		}
		fh := FrameHeader{PageNo: p.No, Salt1: l.hdr.Salt1, Salt2: l.hdr.Salt2}
		if i == len(pages)-1 {
			fh.Commit = nPages
		}
		dst := buf[i*frameSize : (i+1)*frameSize]
		copy(dst[FrameHeaderSize:], p.Data)
		cksum = encodeFrame(dst, fh, cksum, dst[FrameHeaderSize:])
	}
	first := l.maxFrame + 1
	if _, err := l.file.WriteAt(buf, frameOffset(first, l.pageSize)); err != nil {
		return err
	}
	if sync {
		if err := l.file.Sync(); err != nil {
			return err
		}
	}
	for i, p := range pages {
		l.index[p.No] = append(l.index[p.No], first+uint32(i))
	}
	l.maxFrame = first + uint32(len(pages)) - 1
	l.nPages = nPages
	l.commits[l.maxFrame] = nPages
	l.lastCksum = cksum
	return nil
}

// Truncate empties the log file. The next writer starts a new generation.
func (l *Log) Truncate() error {
	if l.file == nil {
		return nil
	}
	if err := l.file.Truncate(0); err != nil {
		return err
	}
	l.hasHdr = false
	l.resetIndex()
	return nil
}

// Sync flushes the log file.
func (l *Log) Sync() error {
	if l.file == nil {
		return nil
	}
	return l.file.Sync()
}

// Close closes the log file handle.
func (l *Log) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
