// Package snapshot reads and writes logical dumps of a database: every live
// key of every column family with its value and expiry, compressed with xz
// and sealed with a BLAKE3 checksum.
package snapshot

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/ulikunitz/xz"
	"github.com/zeebo/blake3"
)

var snapshotMagic = [8]byte{'S', 'N', 'K', 'V', 'S', 'N', 'A', 'P'}

// Version is the format version written by this package.
const Version uint32 = 1

const (
	tagEnd   byte = 0
	tagEntry byte = 1

	// maxField bounds any single length prefix so a damaged file cannot
	// trigger a huge allocation.
	maxField = 1 << 30
)

// NoExpiry marks an entry that never expires.
const NoExpiry int64 = -1

// Entry is a snapshot record.
type Entry struct {
	Family   string
	Key      []byte
	Value    []byte
	ExpireAt int64 // ms since the epoch, or NoExpiry
}

// Header captures snapshot metadata.
type Header struct {
	Magic   [8]byte
	Version uint32
	Created int64
}

var (
	ErrInvalidSnapshot  = errors.New("snapshot: invalid file")
	ErrSnapshotChecksum = errors.New("snapshot: checksum mismatch")
)

// Writer streams entries into a snapshot.
type Writer struct {
	xw    *xz.Writer
	buf   *bufio.Writer
	hash  *blake3.Hasher
	out   io.Writer
	count uint64
}

// NewWriter writes the header to w and returns a Writer for the entries.
func NewWriter(w io.Writer, created int64) (*Writer, error) {
	xw, err := xz.NewWriter(w)
	if err != nil {
		return nil, err
	}
	buf := bufio.NewWriter(xw)
	hash := blake3.New()
	sw := &Writer{xw: xw, buf: buf, hash: hash, out: io.MultiWriter(buf, hash)}
	head := Header{Magic: snapshotMagic, Version: Version, Created: created}
	if err := writeHeader(sw.out, head); err != nil {
		return nil, err
	}
	return sw, nil
}

// Add appends one entry.
func (w *Writer) Add(e Entry) error {
	if _, err := w.out.Write([]byte{tagEntry}); err != nil {
		return err
	}
	if err := writeEntry(w.out, e); err != nil {
		return err
	}
	w.count++
	return nil
}

// Count returns the number of entries added so far.
func (w *Writer) Count() uint64 { return w.count }

// Close writes the trailer and flushes the compressor. It does not close
// the underlying writer.
func (w *Writer) Close() error {
	if _, err := w.out.Write([]byte{tagEnd}); err != nil {
		return err
	}
	if err := binary.Write(w.out, binary.LittleEndian, w.count); err != nil {
		return err
	}
	if _, err := w.buf.Write(w.hash.Sum(nil)); err != nil {
		return err
	}
	if err := w.buf.Flush(); err != nil {
		return err
	}
	return w.xw.Close()
}

// Reader streams entries out of a snapshot.
type Reader struct {
	head  Header
	in    io.Reader
	raw   *bufio.Reader
	hash  *blake3.Hasher
	count uint64
	done  bool
}

// NewReader reads and checks the header of the snapshot in r.
func NewReader(r io.Reader) (*Reader, error) {
	xr, err := xz.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	raw := bufio.NewReader(decodeErrors{xr})
	hash := blake3.New()
	sr := &Reader{raw: raw, hash: hash, in: io.TeeReader(raw, hash)}
	head, err := readHeader(sr.in)
	if err != nil {
		return nil, err
	}
	if head.Magic != snapshotMagic || head.Version != Version {
		return nil, ErrInvalidSnapshot
	}
	sr.head = head
	return sr, nil
}

// Header returns the snapshot header.
func (r *Reader) Header() Header { return r.head }

// Next returns the following entry. After the last one it verifies the
// trailer and returns io.EOF.
func (r *Reader) Next() (Entry, error) {
	if r.done {
		return Entry{}, io.EOF
	}
	var tag [1]byte
	if _, err := io.ReadFull(r.in, tag[:]); err != nil {
		return Entry{}, truncated(err)
	}
	switch tag[0] {
	case tagEntry:
		e, err := readEntry(r.in)
		if err != nil {
			return Entry{}, truncated(err)
		}
		r.count++
		return e, nil
	case tagEnd:
		return Entry{}, r.finish()
	}
	return Entry{}, fmt.Errorf("%w: unknown record tag %d", ErrInvalidSnapshot, tag[0])
}

func (r *Reader) finish() error {
	var count uint64
	if err := binary.Read(r.in, binary.LittleEndian, &count); err != nil {
		return truncated(err)
	}
	computed := r.hash.Sum(nil)
	stored := make([]byte, len(computed))
	if _, err := io.ReadFull(r.raw, stored); err != nil {
		return truncated(err)
	}
	if count != r.count {
		return fmt.Errorf("%w: trailer counts %d entries, read %d", ErrInvalidSnapshot, count, r.count)
	}
	if string(stored) != string(computed) {
		return ErrSnapshotChecksum
	}
	r.done = true
	return io.EOF
}

// decodeErrors reports decompression failures as a damaged snapshot.
type decodeErrors struct{ r io.Reader }

func (d decodeErrors) Read(p []byte) (int, error) {
	n, err := d.r.Read(p)
	if err != nil && err != io.EOF {
		err = fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
	}
	return n, err
}

func truncated(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: truncated", ErrInvalidSnapshot)
	}
	return err
}

func writeHeader(w io.Writer, head Header) error {
	if err := binary.Write(w, binary.LittleEndian, head.Magic); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, head.Version); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, head.Created)
}

func readHeader(r io.Reader) (Header, error) {
	var head Header
	if err := binary.Read(r, binary.LittleEndian, &head.Magic); err != nil {
		return head, truncated(err)
	}
	if err := binary.Read(r, binary.LittleEndian, &head.Version); err != nil {
		return head, truncated(err)
	}
	if err := binary.Read(r, binary.LittleEndian, &head.Created); err != nil {
		return head, truncated(err)
	}
	return head, nil
}

func writeEntry(w io.Writer, entry Entry) error {
	if err := writeBytes(w, []byte(entry.Family)); err != nil {
		return err
	}
	if err := writeBytes(w, entry.Key); err != nil {
		return err
	}
	if err := writeBytes(w, entry.Value); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, entry.ExpireAt)
}

func readEntry(r io.Reader) (Entry, error) {
	family, err := readBytes(r)
	if err != nil {
		return Entry{}, err
	}
	key, err := readBytes(r)
	if err != nil {
		return Entry{}, err
	}
	value, err := readBytes(r)
	if err != nil {
		return Entry{}, err
	}
	var expireAt int64
	if err := binary.Read(r, binary.LittleEndian, &expireAt); err != nil {
		return Entry{}, err
	}
	return Entry{Family: string(family), Key: key, Value: value, ExpireAt: expireAt}, nil
}

func writeBytes(w io.Writer, data []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint64(len(data))); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

func readBytes(r io.Reader) ([]byte, error) {
	var length uint64
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return nil, err
	}
	if length > maxField {
		return nil, fmt.Errorf("%w: field of %d bytes", ErrInvalidSnapshot, length)
	}
	if length == 0 {
		return []byte{}, nil
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}
