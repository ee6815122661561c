package vfs

import (
	"encoding/binary"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

// Checksum hashes seed followed by parts with BLAKE3 and keeps the first
// eight bytes. Chained checksums pass the previous value as seed.
func Checksum(seed uint64, parts ...[]byte) uint64 {
	h := blake3.New()
	var s [8]byte
	binary.BigEndian.PutUint64(s[:], seed)
	_, _ = h.Write(s[:])
	for _, p := range parts {
		_, _ = h.Write(p)
	}
	sum := h.Sum(nil)
	return binary.BigEndian.Uint64(sum[:8])
}

// NewSalt returns two random words for stamping a new log generation.
func NewSalt() (uint32, uint32) {
	u := uuid.New()
	return binary.BigEndian.Uint32(u[0:4]), binary.BigEndian.Uint32(u[4:8])
}

// NewNonce returns a random 64-bit value.
func NewNonce() uint64 {
	u := uuid.New()
	return binary.BigEndian.Uint64(u[8:16])
}
