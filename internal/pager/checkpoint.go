package pager

import (
	"fmt"

	"github.com/bretuobay/snkv/internal/vfs"
	"github.com/bretuobay/snkv/internal/wal"
)

// Checkpoint copies committed log frames into the database file. It returns
// the number of frames in the log and how many of them are now in the
// database file. Connections not in WAL mode return zeros.
//
// A passive checkpoint never waits. It copies frames up to the oldest
// snapshot a reader in another connection still holds and leaves the rest
// for later. The other modes wait up to the busy timeout for the writer and
// for readers of old snapshots, and fail with ErrBusy when frames remain.
func (p *Pager) Checkpoint(mode CheckpointMode) (int, int, error) {
	if p.closed {
		return 0, 0, ErrClosed
	}
	if p.cfg.Journal != JournalWAL {
		return 0, 0, nil
	}
	if p.write != nil {
		return 0, 0, fmt.Errorf("%w: checkpoint inside a write transaction", vfs.ErrBusy)
	}
	if p.readers > 0 {
		if mode == CheckpointPassive {
			mx, done := p.progress()
			return mx, done, nil
		}
		return 0, 0, fmt.Errorf("%w: checkpoint inside a read transaction", vfs.ErrBusy)
	}
	if p.cfg.ReadOnly {
		return 0, 0, ErrReadOnly
	}
	return p.checkpoint(mode)
}

func (p *Pager) checkpoint(mode CheckpointMode) (int, int, error) {
	wait := mode != CheckpointPassive
	if wait {
		if err := p.walLock.Exclusive(); err != nil {
			return 0, 0, err
		}
		defer p.walLock.Release()
	}
	ok, err := lockExclusive(p.ckptLock, wait)
	if err != nil {
		return 0, 0, err
	}
	if !ok {
		if wait {
			return 0, 0, fmt.Errorf("%w: another checkpoint is running", vfs.ErrBusy)
		}
		if _, err := p.wal.Refresh(); err != nil {
			return 0, 0, err
		}
		mx, done := p.progress()
		return mx, done, nil
	}
	defer p.ckptLock.Release()

	snap, err := p.wal.Refresh()
	if err != nil {
		return 0, 0, err
	}
	hdr, has := p.wal.Header()
	var done uint32
	if shared, ok := wal.ReadShared(p.shm); ok && has && shared.Salt1 == hdr.Salt1 && shared.Salt2 == hdr.Salt2 {
		done = min(shared.Backfilled, snap.MaxFrame)
	}
	if snap.MaxFrame > done {
		if done, err = p.copyFrames(snap, hdr, done, wait); err != nil {
			return 0, 0, err
		}
	}

	total, copied := int(snap.MaxFrame), int(done)
	if mode == CheckpointPassive {
		return total, copied, nil
	}
	if copied < total {
		return 0, 0, fmt.Errorf("%w: readers still need %d log frames", vfs.ErrBusy, total-copied)
	}
	if mode == CheckpointFull {
		return total, copied, nil
	}

	ok, err = p.lockSlots(true)
	if err != nil {
		return 0, 0, err
	}
	if !ok {
		return 0, 0, fmt.Errorf("%w: readers still use the log", vfs.ErrBusy)
	}
	defer p.releaseSlots(wal.ReadSlots)
	if err := wal.ResetMarks(p.shm); err != nil {
		return 0, 0, err
	}
	switch mode {
	case CheckpointRestart:
		if has {
			salt1, salt2 := vfs.NewSalt()
			if err := wal.WriteShared(p.shm, wal.Shared{Salt1: salt1, Salt2: salt2, CheckpointSeq: hdr.CheckpointSeq + 1}); err != nil {
				return 0, 0, err
			}
			if err := p.wal.Restart(salt1, salt2); err != nil {
				return 0, 0, err
			}
		}
	case CheckpointTruncate:
		if err := wal.WriteShared(p.shm, wal.Shared{CheckpointSeq: hdr.CheckpointSeq + 1}); err != nil {
			return 0, 0, err
		}
		if err := p.wal.Truncate(); err != nil {
			return 0, 0, err
		}
		total, copied = 0, 0
	}
	return total, copied, nil
}

// copyFrames copies the frames after done into the database file, stopping
// at the oldest snapshot a reader still holds. It returns the new count of
// backfilled frames.
func (p *Pager) copyFrames(snap wal.Snapshot, hdr wal.Header, done uint32, wait bool) (uint32, error) {
	// Slot 0 readers see the database file alone, so it must not change
	// under them.
	ok, err := lockExclusive(p.readLocks[0], wait)
	if err != nil || !ok {
		return done, err
	}
	defer p.readLocks[0].Release()

	safe, err := p.safeFrame(snap.MaxFrame, wait)
	if err != nil {
		return done, err
	}
	safe, nPages, ok := p.wal.LastCommit(safe)
	if !ok || safe <= done {
		return done, nil
	}
	sync := p.cfg.Sync != SyncOff
	if sync {
		if err := p.wal.Sync(); err != nil {
			return done, err
		}
	}
	n, err := p.wal.Backfill(p.file, done, safe, nPages, sync)
	if err != nil {
		return done, err
	}
	shared := wal.Shared{Salt1: hdr.Salt1, Salt2: hdr.Salt2, Backfilled: safe, CheckpointSeq: hdr.CheckpointSeq}
	if err := wal.WriteShared(p.shm, shared); err != nil {
		return done, err
	}
	p.log.Debug("checkpoint", "path", p.path, "frames", safe, "of", snap.MaxFrame, "pages", n)
	return safe, nil
}

// progress reports the log size and checkpointed prefix as last seen.
func (p *Pager) progress() (int, int) {
	mx := p.wal.MaxFrame()
	hdr, has := p.wal.Header()
	shared, ok := wal.ReadShared(p.shm)
	if !ok || !has || shared.Salt1 != hdr.Salt1 || shared.Salt2 != hdr.Salt2 {
		return int(mx), 0
	}
	return int(mx), int(min(shared.Backfilled, mx))
}
