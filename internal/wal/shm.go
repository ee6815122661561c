package wal

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/bretuobay/snkv/internal/vfs"
)

const (
	sharedSize         = 32
	sharedMagic uint32 = 0x736e6b73
	sharedRetries      = 4
)

// ReadSlots is the number of reader slots. A reader holding slot 0 keeps
// every checkpoint out of the database file. Each other slot carries a read
// mark: the newest frame a checkpoint may copy while the slot is held.
const ReadSlots = 5

// MarkUnused is the read mark of a slot no reader has claimed.
const MarkUnused uint32 = 0xffffffff

// Shared is the checkpoint state kept in the -shm file. Backfilled counts
// the frames of the generation named by the salts that are already in the
// database file.
type Shared struct {
	Salt1         uint32
	Salt2         uint32
	Backfilled    uint32
	CheckpointSeq uint32
}

func (s Shared) encode() []byte {
	buf := make([]byte, sharedSize)
	binary.BigEndian.PutUint32(buf[0:4], sharedMagic)
	binary.BigEndian.PutUint32(buf[4:8], s.Salt1)
	binary.BigEndian.PutUint32(buf[8:12], s.Salt2)
	binary.BigEndian.PutUint32(buf[12:16], s.Backfilled)
	binary.BigEndian.PutUint32(buf[16:20], s.CheckpointSeq)
	binary.BigEndian.PutUint64(buf[24:32], vfs.Checksum(0, buf[:24]))
	return buf
}

func decodeShared(buf []byte) (Shared, bool) {
	if binary.BigEndian.Uint32(buf[0:4]) != sharedMagic {
		return Shared{}, false
	}
	if binary.BigEndian.Uint64(buf[24:32]) != vfs.Checksum(0, buf[:24]) {
		return Shared{}, false
	}
	return Shared{
		Salt1:         binary.BigEndian.Uint32(buf[4:8]),
		Salt2:         binary.BigEndian.Uint32(buf[8:12]),
		Backfilled:    binary.BigEndian.Uint32(buf[12:16]),
		CheckpointSeq: binary.BigEndian.Uint32(buf[16:20]),
	}, true
}

// ReadShared loads the shared state. It retries briefly because a writer
// may be rewriting it; false means there is no valid state.
func ReadShared(f vfs.File) (Shared, bool) {
	if f == nil {
		return Shared{}, false
	}
	buf := make([]byte, sharedSize)
	for i := 0; i < sharedRetries; i++ {
		if err := vfs.ReadFullAt(f, buf, 0); err != nil {
			return Shared{}, false
		}
		if s, ok := decodeShared(buf); ok {
			return s, true
		}
		time.Sleep(time.Millisecond)
	}
	return Shared{}, false
}

// WriteShared stores s.
func WriteShared(f vfs.File, s Shared) error {
	_, err := f.WriteAt(s.encode(), 0)
	return err
}

func markOffset(slot int) int64 {
	return sharedSize + int64(slot)*4
}

// ReadMark returns the read mark of slot, or MarkUnused when none was ever
// stored.
func ReadMark(f vfs.File, slot int) uint32 {
	if f == nil || slot <= 0 || slot >= ReadSlots {
		return MarkUnused
	}
	buf := make([]byte, 4)
	if err := vfs.ReadFullAt(f, buf, markOffset(slot)); err != nil {
		return MarkUnused
	}
	return binary.BigEndian.Uint32(buf)
}

// WriteMark stores the read mark of slot. The caller holds the slot
// exclusively.
func WriteMark(f vfs.File, slot int, mark uint32) error {
	if slot <= 0 || slot >= ReadSlots {
		return fmt.Errorf("wal: read mark for slot %d", slot)
	}
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, mark)
	_, err := f.WriteAt(buf, markOffset(slot))
	return err
}

// ResetMarks releases every read mark. The caller holds all slots.
func ResetMarks(f vfs.File) error {
	buf := make([]byte, (ReadSlots-1)*4)
	for i := 0; i < len(buf); i += 4 {
		binary.BigEndian.PutUint32(buf[i:], MarkUnused)
	}
	_, err := f.WriteAt(buf, markOffset(1))
	return err
}
