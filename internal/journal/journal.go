// Package journal implements the rollback journal: original page images
// saved before a transaction overwrites the database file in place.
package journal

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/bretuobay/snkv/internal/vfs"
)

const (
	headerSize = 32

	unknownRecords = ^uint32(0)
)

var magic = [8]byte{'s', 'n', 'k', 'v', 'j', 'r', 'n', 'l'}

// ErrInvalid means the journal header is missing or damaged, so nothing was
// written to the database under its protection.
var ErrInvalid = errors.New("journal: invalid header")

// Header describes the database state a journal restores.
type Header struct {
	Nonce     uint64
	PageCount uint32
	PageSize  uint32
	Records   uint32
}

func (h Header) encode() []byte {
	buf := make([]byte, headerSize)
	copy(buf[0:8], magic[:])
	binary.BigEndian.PutUint64(buf[8:16], h.Nonce)
	binary.BigEndian.PutUint32(buf[16:20], h.PageCount)
	binary.BigEndian.PutUint32(buf[20:24], h.PageSize)
	binary.BigEndian.PutUint32(buf[24:28], h.Records)
	binary.BigEndian.PutUint32(buf[28:32], uint32(vfs.Checksum(0, buf[:28])))
	return buf
}

func decodeHeader(buf []byte) (Header, error) {
	if [8]byte(buf[0:8]) != magic {
		return Header{}, ErrInvalid
	}
	if binary.BigEndian.Uint32(buf[28:32]) != uint32(vfs.Checksum(0, buf[:28])) {
		return Header{}, ErrInvalid
	}
	h := Header{
		Nonce:     binary.BigEndian.Uint64(buf[8:16]),
		PageCount: binary.BigEndian.Uint32(buf[16:20]),
		PageSize:  binary.BigEndian.Uint32(buf[20:24]),
		Records:   binary.BigEndian.Uint32(buf[24:28]),
	}
	if h.PageSize < 512 || h.PageSize > 65536 || h.PageSize&(h.PageSize-1) != 0 {
		return Header{}, ErrInvalid
	}
	return h, nil
}

func recordSize(pageSize uint32) int64 {
	return 4 + int64(pageSize) + 8
}

// Writer appends original page images to a new journal.
type Writer struct {
	file vfs.File
	hdr  Header
	n    uint32
}

// Create starts a journal for a database of pageCount pages.
func Create(fs *vfs.FS, path string, pageCount, pageSize uint32) (*Writer, error) {
	file, err := fs.Open(path, false)
	if err != nil {
		return nil, err
	}
	if err := file.Truncate(0); err != nil {
		_ = file.Close()
		return nil, err
	}
	w := &Writer{
		file: file,
		hdr: Header{
			Nonce:     vfs.NewNonce(),
			PageCount: pageCount,
			PageSize:  pageSize,
			Records:   unknownRecords,
		},
	}
	if _, err := file.WriteAt(w.hdr.encode(), 0); err != nil {
		_ = file.Close()
		return nil, err
	}
	return w, nil
}

// Append saves the original image of pgno.
func (w *Writer) Append(pgno uint32, data []byte) error {
	if len(data) != int(w.hdr.PageSize) {
		return fmt.Errorf("journal: page %d has %d bytes", pgno, len(data))
	}
	rec := make([]byte, recordSize(w.hdr.PageSize))
	binary.BigEndian.PutUint32(rec[0:4], pgno)
	copy(rec[4:], data)
	binary.BigEndian.PutUint64(rec[4+len(data):], vfs.Checksum(w.hdr.Nonce, rec[:4+len(data)]))
	off := headerSize + int64(w.n)*recordSize(w.hdr.PageSize)
	if _, err := w.file.WriteAt(rec, off); err != nil {
		return err
	}
	w.n++
	return nil
}

// Finish records the final record count and makes the journal durable.
// With full set the records are synced before the count is written.
func (w *Writer) Finish(sync, full bool) error {
	if sync && full {
		if err := w.file.Sync(); err != nil {
			return err
		}
	}
	w.hdr.Records = w.n
	if _, err := w.file.WriteAt(w.hdr.encode(), 0); err != nil {
		return err
	}
	if sync {
		return w.file.Sync()
	}
	return nil
}

// Close closes the journal file without removing it.
func (w *Writer) Close() error {
	return w.file.Close()
}

// Hot reports whether a journal that may need playback exists at path.
func Hot(fs *vfs.FS, path string) (bool, error) {
	size, err := fs.Size(path)
	if err != nil {
		return false, err
	}
	return size > 0, nil
}

// Playback restores every intact record of the journal at path into db and
// cuts db back to its original size. It returns the number of pages
// restored. The journal itself is left for the caller to delete.
func Playback(fs *vfs.FS, path string, db vfs.File) (int, error) {
	file, err := fs.Open(path, true)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	buf := make([]byte, headerSize)
	if err := vfs.ReadFullAt(file, buf, 0); err != nil {
		if errors.Is(err, vfs.ErrShortRead) {
			return 0, nil
		}
		return 0, err
	}
	hdr, err := decodeHeader(buf)
	if err != nil {
		// A torn header is written before any database page, so there is
		// nothing to undo.
		return 0, nil
	}

	restored := 0
	rec := make([]byte, recordSize(hdr.PageSize))
	for i := uint32(0); hdr.Records == unknownRecords || i < hdr.Records; i++ {
		off := headerSize + int64(i)*recordSize(hdr.PageSize)
		if err := vfs.ReadFullAt(file, rec, off); err != nil {
			if errors.Is(err, vfs.ErrShortRead) {
				break
			}
			return restored, err
		}
		body := rec[:4+hdr.PageSize]
		if binary.BigEndian.Uint64(rec[4+hdr.PageSize:]) != vfs.Checksum(hdr.Nonce, body) {
			break
		}
		pgno := binary.BigEndian.Uint32(rec[0:4])
		if pgno == 0 || pgno > hdr.PageCount {
			break
		}
		if _, err := db.WriteAt(body[4:], int64(pgno-1)*int64(hdr.PageSize)); err != nil {
			return restored, err
		}
		restored++
	}
	if err := db.Truncate(int64(hdr.PageCount) * int64(hdr.PageSize)); err != nil {
		return restored, err
	}
	if err := db.Sync(); err != nil {
		return restored, err
	}
	return restored, nil
}
