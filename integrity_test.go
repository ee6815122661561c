package snkv

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"
)

func TestIntegrityCheckHealthyFile(t *testing.T) {
	db := openTest(t)
	cf, err := db.CreateColumnFamily("cf")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for i := 0; i < 300; i++ {
		if err := db.Put(key(i), bytes.Repeat([]byte("v"), i*10)); err != nil {
			t.Fatalf("put: %v", err)
		}
		if err := cf.PutWithTTL(key(i), []byte("v"), time.Hour); err != nil {
			t.Fatalf("put with ttl: %v", err)
		}
	}
	for i := 0; i < 300; i += 3 {
		if err := db.Delete(key(i)); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if err := cf.Delete(key(i)); err != nil {
			t.Fatalf("delete: %v", err)
		}
	}
	if err := db.IntegrityCheck(); err != nil {
		t.Fatalf("integrity: %v", err)
	}
}

func TestIntegrityCheckFindsDanglingExpiry(t *testing.T) {
	db := openTest(t)
	if err := db.PutWithTTL([]byte("k"), []byte("v"), time.Hour); err != nil {
		t.Fatalf("put with ttl: %v", err)
	}
	db.mu.Lock()
	err := db.update("test", func() error {
		tr, err := db.tree("")
		if err != nil {
			return err
		}
		return tr.Delete([]byte("k"))
	})
	db.mu.Unlock()
	if err != nil {
		t.Fatalf("delete behind the index: %v", err)
	}
	err = db.IntegrityCheck()
	if KindOf(err) != KindCorrupt {
		t.Fatalf("expected a corrupt report, got %v", err)
	}
	if !strings.Contains(err.Error(), "expiry index") {
		t.Fatalf("expected the expiry index to be named, got %v", err)
	}
}

func TestIntegrityCheckFindsLeakedPage(t *testing.T) {
	db := openTest(t)
	mustPut(t, db, "k", "v")
	db.mu.Lock()
	err := db.update("test", func() error {
		_, err := db.pager.Alloc()
		return err
	})
	db.mu.Unlock()
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	err = db.IntegrityCheck()
	if KindOf(err) != KindCorrupt || !strings.Contains(err.Error(), "not used") {
		t.Fatalf("expected a leaked page report, got %v", err)
	}
}

func TestIntegrityCheckFindsDamagedPage(t *testing.T) {
	opts := DefaultOptions(testPath(t))
	opts.JournalMode = JournalDelete
	db, err := Open(opts)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for i := 0; i < 500; i++ {
		if err := db.Put(key(i), []byte("some value")); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	s, err := db.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	f, err := os.OpenFile(opts.Path, os.O_RDWR, 0)
	if err != nil {
		t.Fatalf("open file: %v", err)
	}
	garbage := bytes.Repeat([]byte{0xff}, s.PageSize)
	if _, err := f.WriteAt(garbage, int64(s.PageCount-1)*int64(s.PageSize)); err != nil {
		t.Fatalf("damage: %v", err)
	}
	f.Close()

	db, err = Open(opts)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	if err := db.IntegrityCheck(); KindOf(err) != KindCorrupt {
		t.Fatalf("expected a corrupt report, got %v", err)
	}
}
