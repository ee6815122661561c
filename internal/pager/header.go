package pager

import (
	"encoding/binary"
	"fmt"

	"github.com/bretuobay/snkv/internal/vfs"
	"github.com/google/uuid"
)

// HeaderSize is the number of bytes of page 1 used by the database header.
const HeaderSize = 72

var headerMagic = [16]byte{'s', 'n', 'k', 'v', ' ', 'f', 'o', 'r', 'm', 'a', 't', ' ', '1'}

// Header is the content of page 1. ChangeCounter grows on every commit and
// is how other connections notice that their cached pages are stale.
type Header struct {
	PageSize      uint32
	ChangeCounter uint32
	PageCount     uint32
	FreeHead      uint32
	FreeCount     uint32
	DefaultRoot   uint32
	CatalogRoot   uint32
	ID            uuid.UUID
	Journal       JournalMode
}

func (h Header) encode(page []byte) {
	clear(page)
	copy(page[0:16], headerMagic[:])
	binary.BigEndian.PutUint32(page[16:20], h.PageSize)
	binary.BigEndian.PutUint32(page[20:24], h.ChangeCounter)
	binary.BigEndian.PutUint32(page[24:28], h.PageCount)
	binary.BigEndian.PutUint32(page[28:32], h.FreeHead)
	binary.BigEndian.PutUint32(page[32:36], h.FreeCount)
	binary.BigEndian.PutUint32(page[36:40], h.DefaultRoot)
	binary.BigEndian.PutUint32(page[40:44], h.CatalogRoot)
	copy(page[44:60], h.ID[:])
	page[60] = byte(h.Journal)
	binary.BigEndian.PutUint64(page[64:72], vfs.Checksum(0, page[:64]))
}

func decodeHeader(page []byte) (Header, error) {
	var h Header
	if len(page) < HeaderSize || [16]byte(page[0:16]) != headerMagic {
		return h, ErrNotDatabase
	}
	if binary.BigEndian.Uint64(page[64:72]) != vfs.Checksum(0, page[:64]) {
		return h, fmt.Errorf("%w: header checksum mismatch", ErrCorrupt)
	}
	h.PageSize = binary.BigEndian.Uint32(page[16:20])
	h.ChangeCounter = binary.BigEndian.Uint32(page[20:24])
	h.PageCount = binary.BigEndian.Uint32(page[24:28])
	h.FreeHead = binary.BigEndian.Uint32(page[28:32])
	h.FreeCount = binary.BigEndian.Uint32(page[32:36])
	h.DefaultRoot = binary.BigEndian.Uint32(page[36:40])
	h.CatalogRoot = binary.BigEndian.Uint32(page[40:44])
	copy(h.ID[:], page[44:60])
	h.Journal = JournalMode(page[60])
	if !ValidPageSize(int(h.PageSize)) {
		return h, fmt.Errorf("%w: bad page size %d", ErrCorrupt, h.PageSize)
	}
	if h.PageCount == 0 || h.FreeHead > h.PageCount || h.FreeCount >= h.PageCount ||
		h.DefaultRoot > h.PageCount || h.CatalogRoot > h.PageCount {
		return h, fmt.Errorf("%w: header fields out of range", ErrCorrupt)
	}
	return h, nil
}

// ValidPageSize reports whether n is a supported page size.
func ValidPageSize(n int) bool {
	return n >= MinPageSize && n <= MaxPageSize && n&(n-1) == 0
}
