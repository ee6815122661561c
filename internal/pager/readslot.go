package pager

import (
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"time"

	"github.com/bretuobay/snkv/internal/vfs"
	"github.com/bretuobay/snkv/internal/wal"
)

const (
	slotTries = 100
	slotSpins = 10
)

func (p *Pager) readLockPath(slot int) string {
	return p.path + vfs.ReadLockSuffix + strconv.Itoa(slot)
}

// lockSlot takes a reader slot for a WAL-mode read transaction. While the
// slot is held no checkpoint copies a frame newer than its read mark and no
// writer restarts the log. Readers normally get a slot straight away; the
// loop only runs while a checkpoint or restart is switching slots over.
func (p *Pager) lockSlot() error {
	deadline := time.Now().Add(p.cfg.BusyTimeout)
	for try := 0; ; try++ {
		ok, err := p.trySlot()
		if err != nil || ok {
			return err
		}
		if try >= slotTries && !time.Now().Before(deadline) {
			return fmt.Errorf("%w: no reader slot available", vfs.ErrBusy)
		}
		if try < slotSpins {
			runtime.Gosched()
		} else {
			time.Sleep(time.Millisecond)
		}
	}
}

func (p *Pager) trySlot() (bool, error) {
	snap, err := p.wal.Refresh()
	if err != nil {
		return false, err
	}
	if snap.MaxFrame == 0 || p.backfilled(snap) {
		if ok, err := p.holdSlotZero(); ok || err != nil {
			return ok, err
		}
	}

	// Share a slot already marked at the newest frame.
	marks := p.readMarks()
	for i := 1; i < wal.ReadSlots; i++ {
		if marks[i] == snap.MaxFrame {
			if ok, err := p.holdMarked(i); ok || err != nil {
				return ok, err
			}
		}
	}

	// Claim a free slot.
	for i := 1; i < wal.ReadSlots && p.shm != nil; i++ {
		ok, err := p.readLocks[i].TryExclusive()
		if err != nil {
			return false, err
		}
		if !ok {
			continue
		}
		if err := wal.WriteMark(p.shm, i, snap.MaxFrame); err != nil {
			// A read-only -shm file cannot take marks.
			_ = p.readLocks[i].Release()
			break
		}
		if ok, err := p.holdMarked(i); ok || err != nil {
			return ok, err
		}
	}

	// Every slot is taken: join the one with the newest usable mark.
	best := 0
	for i := 1; i < wal.ReadSlots; i++ {
		if marks[i] <= snap.MaxFrame && (best == 0 || marks[i] > marks[best]) {
			best = i
		}
	}
	if best > 0 {
		if ok, err := p.holdMarked(best); ok || err != nil {
			return ok, err
		}
	}
	return p.holdSlotZero()
}

// holdSlotZero takes slot 0. It needs no checks: nothing is copied into the
// database file and the log is never restarted while it is held.
func (p *Pager) holdSlotZero() (bool, error) {
	ok, err := p.readLocks[0].TryShared()
	if ok {
		p.slot = 0
	}
	return ok, err
}

// holdMarked takes a marked slot, then checks that the mark still lies
// inside the log this connection sees. A checkpoint or a restart may have
// moved it before the lock was granted.
func (p *Pager) holdMarked(slot int) (bool, error) {
	ok, err := p.readLocks[slot].TryShared()
	if err != nil || !ok {
		return false, err
	}
	snap, err := p.wal.Refresh()
	if err != nil {
		_ = p.readLocks[slot].Release()
		return false, err
	}
	if mark := wal.ReadMark(p.shm, slot); mark == wal.MarkUnused || mark > snap.MaxFrame {
		_ = p.readLocks[slot].Release()
		return false, nil
	}
	p.slot = slot
	return true, nil
}

func (p *Pager) unlockSlot() {
	if p.slot < 0 {
		return
	}
	_ = p.readLocks[p.slot].Release()
	p.slot = -1
}

func (p *Pager) readMarks() [wal.ReadSlots]uint32 {
	var marks [wal.ReadSlots]uint32
	marks[0] = wal.MarkUnused
	for i := 1; i < wal.ReadSlots; i++ {
		marks[i] = wal.ReadMark(p.shm, i)
	}
	return marks
}

// backfilled reports whether every frame of snap is already in the database
// file. Shared state from another generation means a writer is restarting
// the log after a complete checkpoint.
func (p *Pager) backfilled(snap wal.Snapshot) bool {
	shared, ok := wal.ReadShared(p.shm)
	if !ok {
		return false
	}
	return shared.Salt1 != snap.Salt1 || shared.Salt2 != snap.Salt2 || shared.Backfilled >= snap.MaxFrame
}

// safeFrame lowers target to the smallest read mark a reader still holds.
// Free slots are moved up to target, so a reader claiming one later finds a
// mark it can check against its own snapshot.
func (p *Pager) safeFrame(target uint32, wait bool) (uint32, error) {
	for i := 1; i < wal.ReadSlots; i++ {
		if wal.ReadMark(p.shm, i) >= target {
			continue
		}
		ok, err := lockExclusive(p.readLocks[i], wait)
		if err != nil {
			return 0, err
		}
		if !ok {
			// Marks only change under an exclusive lock, so this one is
			// stable while its reader holds the slot.
			target = min(target, wal.ReadMark(p.shm, i))
			continue
		}
		err = wal.WriteMark(p.shm, i, target)
		_ = p.readLocks[i].Release()
		if err != nil {
			return 0, err
		}
	}
	return target, nil
}

// lockSlots takes every reader slot exclusively, which proves no reader is
// using the log. The caller must not hold a slot itself.
func (p *Pager) lockSlots(wait bool) (bool, error) {
	for i, l := range p.readLocks {
		ok, err := lockExclusive(l, wait)
		if err != nil || !ok {
			p.releaseSlots(i)
			return false, err
		}
	}
	return true, nil
}

func (p *Pager) releaseSlots(n int) {
	for _, l := range p.readLocks[:n] {
		_ = l.Release()
	}
}

// loseRead fails the open read snapshot once it can no longer be protected.
func (p *Pager) loseRead() {
	p.readLost = true
	p.cache.Purge()
	p.version++
}

func lockExclusive(l *vfs.Lock, wait bool) (bool, error) {
	if !wait {
		return l.TryExclusive()
	}
	err := l.Exclusive()
	if errors.Is(err, vfs.ErrBusy) {
		return false, nil
	}
	return err == nil, err
}
