package snkv

import (
	"bytes"
	"testing"
	"time"
)

func TestVacuumShrinksFile(t *testing.T) {
	for _, mode := range []JournalMode{JournalWAL, JournalDelete} {
		t.Run(mode.String(), func(t *testing.T) {
			db := openTest(t, func(o *Options) { o.JournalMode = mode })
			cf, err := db.CreateColumnFamily("side")
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			value := bytes.Repeat([]byte("x"), 300)
			for i := 0; i < 600; i++ {
				if err := db.Put(key(i), value); err != nil {
					t.Fatalf("put: %v", err)
				}
			}
			for i := 0; i < 50; i++ {
				if err := cf.Put(key(i), []byte("side")); err != nil {
					t.Fatalf("put: %v", err)
				}
			}
			if err := cf.PutWithTTL([]byte("ttl"), []byte("x"), time.Hour); err != nil {
				t.Fatalf("put with ttl: %v", err)
			}
			for i := 0; i < 600; i++ {
				if i%20 == 0 {
					continue
				}
				if err := db.Delete(key(i)); err != nil {
					t.Fatalf("delete: %v", err)
				}
			}
			if _, _, err := db.Checkpoint(CheckpointTruncate); err != nil {
				t.Fatalf("checkpoint: %v", err)
			}
			before, err := db.Stats()
			if err != nil {
				t.Fatalf("stats: %v", err)
			}
			if before.FreePages == 0 {
				t.Fatalf("expected free pages after deleting, got %+v", before)
			}

			removed, err := db.Vacuum(0)
			if err != nil {
				t.Fatalf("vacuum: %v", err)
			}
			if removed != int(before.FreePages) {
				t.Fatalf("expected %d pages removed, got %d", before.FreePages, removed)
			}
			if _, _, err := db.Checkpoint(CheckpointTruncate); err != nil {
				t.Fatalf("checkpoint: %v", err)
			}
			after, err := db.Stats()
			if err != nil {
				t.Fatalf("stats: %v", err)
			}
			if after.FreePages != 0 || after.PageCount != before.PageCount-uint32(removed) {
				t.Fatalf("unexpected page counts before %+v after %+v", before, after)
			}
			if after.FileSize >= before.FileSize {
				t.Fatalf("file did not shrink: %d -> %d", before.FileSize, after.FileSize)
			}

			if err := db.IntegrityCheck(); err != nil {
				t.Fatalf("integrity: %v", err)
			}
			for i := 0; i < 600; i += 20 {
				got, err := db.Get(key(i))
				if err != nil || !bytes.Equal(got, value) {
					t.Fatalf("key %d damaged by vacuum: %v", i, err)
				}
			}
			for i := 0; i < 50; i++ {
				got, err := cf.Get(key(i))
				if err != nil || string(got) != "side" {
					t.Fatalf("family key %d damaged by vacuum: %q %v", i, got, err)
				}
			}
			if ttl, err := cf.TTL([]byte("ttl")); err != nil || ttl <= 0 {
				t.Fatalf("expiry lost by vacuum: %v %v", ttl, err)
			}
			mustPut(t, db, "after", "vacuum")
			mustGet(t, db, "after", "vacuum")
		})
	}
}

func TestVacuumPartial(t *testing.T) {
	db := openTest(t)
	for i := 0; i < 400; i++ {
		if err := db.Put(key(i), bytes.Repeat([]byte("y"), 200)); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	for i := 0; i < 400; i++ {
		if err := db.Delete(key(i)); err != nil {
			t.Fatalf("delete: %v", err)
		}
	}
	s, _ := db.Stats()
	if s.FreePages < 4 {
		t.Fatalf("expected several free pages, got %d", s.FreePages)
	}
	removed, err := db.Vacuum(3)
	if err != nil || removed != 3 {
		t.Fatalf("expected 3 pages removed, got %d %v", removed, err)
	}
	after, _ := db.Stats()
	if after.FreePages != s.FreePages-3 {
		t.Fatalf("expected %d free pages left, got %d", s.FreePages-3, after.FreePages)
	}
	if err := db.IntegrityCheck(); err != nil {
		t.Fatalf("integrity: %v", err)
	}
	if removed, err := db.Vacuum(0); err != nil || removed != int(after.FreePages) {
		t.Fatalf("expected the rest removed, got %d %v", removed, err)
	}
	if removed, err := db.Vacuum(0); err != nil || removed != 0 {
		t.Fatalf("expected nothing left to vacuum, got %d %v", removed, err)
	}
}

func TestVacuumRefusedWhileBusy(t *testing.T) {
	db := openTest(t)
	mustPut(t, db, "k", "v")
	if err := db.Begin(true); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := db.Vacuum(0); err != ErrTxActive {
		t.Fatalf("expected ErrTxActive, got %v", err)
	}
	if err := db.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	it, err := db.NewIterator()
	if err != nil {
		t.Fatalf("iterator: %v", err)
	}
	if _, err := db.Vacuum(0); KindOf(err) != KindBusy {
		t.Fatalf("expected busy with an open iterator, got %v", err)
	}
	it.Close()
	if _, err := db.Vacuum(0); err != nil {
		t.Fatalf("vacuum: %v", err)
	}
}
