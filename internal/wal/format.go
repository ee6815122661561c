package wal

import (
	"encoding/binary"
	"errors"

	"github.com/bretuobay/snkv/internal/vfs"
)

const (
	// HeaderSize is the size of the log file header.
	HeaderSize = 32
	// FrameHeaderSize precedes every page image in the log.
	FrameHeaderSize = 24

	magic   uint32 = 0x736e6b77
	version uint32 = 1
)

var (
	ErrInvalidHeader    = errors.New("wal: invalid header")
	ErrChecksumMismatch = errors.New("wal: checksum mismatch")
)

// Header opens every log file. The salts identify one generation of frames;
// frames carrying other salts are ignored.
type Header struct {
	PageSize      uint32
	CheckpointSeq uint32
	Salt1         uint32
	Salt2         uint32
	Checksum      uint64
}

// Encode serializes h and fills in its checksum.
func (h Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], magic)
	binary.BigEndian.PutUint32(buf[4:8], version)
	binary.BigEndian.PutUint32(buf[8:12], h.PageSize)
	binary.BigEndian.PutUint32(buf[12:16], h.CheckpointSeq)
	binary.BigEndian.PutUint32(buf[16:20], h.Salt1)
	binary.BigEndian.PutUint32(buf[20:24], h.Salt2)
	binary.BigEndian.PutUint64(buf[24:32], vfs.Checksum(0, buf[:24]))
	return buf
}

// DecodeHeader parses and verifies a log header.
func DecodeHeader(buf []byte) (Header, error) {
	var h Header
	if len(buf) < HeaderSize {
		return h, ErrInvalidHeader
	}
	if binary.BigEndian.Uint32(buf[0:4]) != magic || binary.BigEndian.Uint32(buf[4:8]) != version {
		return h, ErrInvalidHeader
	}
	h.Checksum = binary.BigEndian.Uint64(buf[24:32])
	if h.Checksum != vfs.Checksum(0, buf[:24]) {
		return h, ErrChecksumMismatch
	}
	h.PageSize = binary.BigEndian.Uint32(buf[8:12])
	h.CheckpointSeq = binary.BigEndian.Uint32(buf[12:16])
	h.Salt1 = binary.BigEndian.Uint32(buf[16:20])
	h.Salt2 = binary.BigEndian.Uint32(buf[20:24])
	return h, nil
}

// FrameHeader describes one page image. Commit is the database size in
// pages for the last frame of a transaction and zero otherwise.
type FrameHeader struct {
	PageNo   uint32
	Commit   uint32
	Salt1    uint32
	Salt2    uint32
	Checksum uint64
}

// encodeFrame writes the frame header for page into dst and returns the
// cumulative checksum, which chains from prev.
func encodeFrame(dst []byte, fh FrameHeader, prev uint64, page []byte) uint64 {
	binary.BigEndian.PutUint32(dst[0:4], fh.PageNo)
	binary.BigEndian.PutUint32(dst[4:8], fh.Commit)
	binary.BigEndian.PutUint32(dst[8:12], fh.Salt1)
	binary.BigEndian.PutUint32(dst[12:16], fh.Salt2)
	sum := vfs.Checksum(prev, dst[:16], page)
	binary.BigEndian.PutUint64(dst[16:24], sum)
	return sum
}

// decodeFrame parses a frame and reports whether it belongs to the
// generation identified by the salts and continues the checksum chain.
func decodeFrame(buf []byte, prev uint64, salt1, salt2 uint32, pageSize int) (FrameHeader, bool) {
	var fh FrameHeader
	if len(buf) < FrameHeaderSize+pageSize {
		return fh, false
	}
	fh.PageNo = binary.BigEndian.Uint32(buf[0:4])
	fh.Commit = binary.BigEndian.Uint32(buf[4:8])
	fh.Salt1 = binary.BigEndian.Uint32(buf[8:12])
	fh.Salt2 = binary.BigEndian.Uint32(buf[12:16])
	fh.Checksum = binary.BigEndian.Uint64(buf[16:24])
	if fh.PageNo == 0 || fh.Salt1 != salt1 || fh.Salt2 != salt2 {
		return fh, false
	}
	page := buf[FrameHeaderSize : FrameHeaderSize+pageSize]
	if fh.Checksum != vfs.Checksum(prev, buf[:16], page) {
		return fh, false
	}
	return fh, true
}

func frameOffset(frame uint32, pageSize int) int64 {
	return HeaderSize + int64(frame-1)*int64(FrameHeaderSize+pageSize)
}
