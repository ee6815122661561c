package wal

import (
	"bytes"
	"testing"

	"github.com/bretuobay/snkv/internal/vfs"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

const testPageSize = 512

func fillPage(pgno uint32, tag byte) []byte {
	page := make([]byte, testPageSize)
	page[0] = byte(pgno)
	page[1] = tag
	return page
}

func newTestLog(t *testing.T, fs *vfs.FS) *Log {
	t.Helper()
	l, err := Open(fs, "/db-wal", testPageSize, false)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return l
}

func TestReplayMatchesAppendedState(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("a second reader sees the newest image of every page", prop.ForAll(
		func(txns [][]uint8) bool {
			fs := vfs.Memory()
			writer := newTestLog(t, fs)
			if err := writer.Restart(1, 2); err != nil {
				return false
			}
			model := make(map[uint32][]byte)
			var nPages uint32
			for i, txn := range txns {
				if len(txn) == 0 {
					continue
				}
				seen := make(map[uint32]bool)
				var pages []Page
				for _, p := range txn {
					pgno := uint32(p%16) + 1
					if seen[pgno] {
						continue
					}
					seen[pgno] = true
					data := fillPage(pgno, byte(i))
					pages = append(pages, Page{No: pgno, Data: data})
					model[pgno] = data
					if pgno > nPages {
						nPages = pgno
					}
				}
				if err := writer.Append(pages, nPages, false); err != nil {
					return false
				}
			}

			reader := newTestLog(t, fs)
			snap, err := reader.Refresh()
			if err != nil || snap.MaxFrame != writer.MaxFrame() || snap.PageCount != nPages {
				return false
			}
			buf := make([]byte, testPageSize)
			for pgno, want := range model {
				frame, ok := reader.Find(pgno, snap.MaxFrame)
				if !ok || reader.ReadFrame(frame, buf) != nil || !bytes.Equal(buf, want) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.SliceOf(gen.UInt8())),
	))

	properties.TestingRun(t)
}

func TestRefreshIgnoresTornTransaction(t *testing.T) {
	fs := vfs.Memory()
	w := newTestLog(t, fs)
	if err := w.Restart(5, 6); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if err := w.Append([]Page{{No: 1, Data: fillPage(1, 1)}, {No: 2, Data: fillPage(2, 1)}}, 2, false); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := w.Append([]Page{{No: 2, Data: fillPage(2, 2)}, {No: 3, Data: fillPage(3, 2)}}, 3, false); err != nil {
		t.Fatalf("append: %v", err)
	}
	// Chop the commit frame of the second transaction in half.
	size, _ := vfs.FileSize(w.file)
	if err := w.file.Truncate(size - testPageSize/2); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	r := newTestLog(t, fs)
	snap, err := r.Refresh()
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if snap.MaxFrame != 2 || snap.PageCount != 2 {
		t.Fatalf("expected first transaction only, got %+v", snap)
	}
	if _, ok := r.Find(3, snap.MaxFrame); ok {
		t.Fatalf("page from torn transaction must not be indexed")
	}
}

func TestRestartInvalidatesOldFrames(t *testing.T) {
	fs := vfs.Memory()
	w := newTestLog(t, fs)
	if err := w.Restart(1, 1); err != nil {
		t.Fatalf("restart: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := w.Append([]Page{{No: 1, Data: fillPage(1, byte(i))}}, 1, false); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := w.Restart(2, 2); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if err := w.Append([]Page{{No: 1, Data: fillPage(1, 9)}}, 1, false); err != nil {
		t.Fatalf("append: %v", err)
	}

	r := newTestLog(t, fs)
	snap, err := r.Refresh()
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if snap.MaxFrame != 1 || snap.Salt1 != 2 {
		t.Fatalf("expected one frame of the new generation, got %+v", snap)
	}
}

func TestBackfillCopiesNewestPages(t *testing.T) {
	fs := vfs.Memory()
	w := newTestLog(t, fs)
	if err := w.Restart(3, 4); err != nil {
		t.Fatalf("restart: %v", err)
	}
	_ = w.Append([]Page{{No: 1, Data: fillPage(1, 1)}, {No: 2, Data: fillPage(2, 1)}}, 2, false)
	_ = w.Append([]Page{{No: 2, Data: fillPage(2, 2)}}, 2, false)

	db, err := fs.Open("/db", false)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	n, err := w.Backfill(db, 0, w.MaxFrame(), 2, false)
	if err != nil {
		t.Fatalf("backfill: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 pages copied, got %d", n)
	}
	buf := make([]byte, testPageSize)
	if err := vfs.ReadFullAt(db, buf, testPageSize); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(buf, fillPage(2, 2)) {
		t.Fatalf("expected newest image of page 2")
	}
}

func TestSharedStateRoundTrip(t *testing.T) {
	fs := vfs.Memory()
	f, err := fs.Open("/db-shm", false)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, ok := ReadShared(f); ok {
		t.Fatalf("empty file must not hold valid state")
	}
	want := Shared{Salt1: 1, Salt2: 2, Backfilled: 7, CheckpointSeq: 3}
	if err := WriteShared(f, want); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, ok := ReadShared(f)
	if !ok || got != want {
		t.Fatalf("expected %+v, got %+v %v", want, got, ok)
	}
}

func TestReadMarks(t *testing.T) {
	fs := vfs.Memory()
	f, err := fs.Open("/db-shm", false)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if got := ReadMark(f, 1); got != MarkUnused {
		t.Fatalf("expected an unused mark in an empty file, got %d", got)
	}
	if err := WriteShared(f, Shared{Salt1: 1, Salt2: 2, Backfilled: 3}); err != nil {
		t.Fatalf("write shared: %v", err)
	}
	for slot := 1; slot < ReadSlots; slot++ {
		if err := WriteMark(f, slot, uint32(slot*10)); err != nil {
			t.Fatalf("write mark %d: %v", slot, err)
		}
	}
	if err := WriteMark(f, 0, 1); err == nil {
		t.Fatalf("slot 0 must not carry a mark")
	}
	for slot := 1; slot < ReadSlots; slot++ {
		if got := ReadMark(f, slot); got != uint32(slot*10) {
			t.Fatalf("slot %d: expected %d, got %d", slot, slot*10, got)
		}
	}
	if s, ok := ReadShared(f); !ok || s.Backfilled != 3 {
		t.Fatalf("marks overwrote the shared state: %+v %v", s, ok)
	}
	if err := ResetMarks(f); err != nil {
		t.Fatalf("reset: %v", err)
	}
	for slot := 1; slot < ReadSlots; slot++ {
		if got := ReadMark(f, slot); got != MarkUnused {
			t.Fatalf("slot %d still marked %d", slot, got)
		}
	}
}

func TestLastCommit(t *testing.T) {
	fs := vfs.Memory()
	w := newTestLog(t, fs)
	if err := w.Restart(1, 2); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if err := w.Append([]Page{{No: 1, Data: fillPage(1, 1)}, {No: 2, Data: fillPage(2, 1)}}, 2, false); err != nil {
		t.Fatalf("append: %v", err)
	}
	first := w.MaxFrame()
	if err := w.Append([]Page{{No: 3, Data: fillPage(3, 2)}}, 3, false); err != nil {
		t.Fatalf("append: %v", err)
	}

	r := newTestLog(t, fs)
	if _, err := r.Refresh(); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	for _, l := range []*Log{w, r} {
		if f, n, ok := l.LastCommit(first); !ok || f != first || n != 2 {
			t.Fatalf("first commit: %d %d %v", f, n, ok)
		}
		if f, n, ok := l.LastCommit(l.MaxFrame() + 10); !ok || f != l.MaxFrame() || n != 3 {
			t.Fatalf("second commit: %d %d %v", f, n, ok)
		}
		if _, _, ok := l.LastCommit(first - 1); ok {
			t.Fatalf("no commit at or below frame %d", first-1)
		}
	}
}
