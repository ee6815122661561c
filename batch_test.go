package snkv

import (
	"testing"
	"time"
)

func TestBatchWrite(t *testing.T) {
	db := openTest(t)
	mustPut(t, db, "old", "v")

	b := db.NewBatch()
	for i := 0; i < 100; i++ {
		b.Put(key(i), []byte("v"))
	}
	b.PutWithTTL([]byte("ttl"), []byte("v"), time.Hour)
	b.Delete([]byte("old"))
	b.Delete([]byte("never-existed"))
	if b.Len() != 103 {
		t.Fatalf("expected 103 buffered operations, got %d", b.Len())
	}
	if n, _ := db.Count(); n != 1 {
		t.Fatalf("batch applied before Write: %d keys", n)
	}
	if err := b.Write(); err != nil {
		t.Fatalf("write: %v", err)
	}
	if n, _ := db.Count(); n != 101 {
		t.Fatalf("expected 101 keys, got %d", n)
	}
	mustMiss(t, db, "old")
	if ttl, err := db.TTL([]byte("ttl")); err != nil || ttl <= 0 {
		t.Fatalf("expected batch ttl, got %v %v", ttl, err)
	}
	if err := b.Write(); err != ErrClosed {
		t.Fatalf("expected ErrClosed on a second write, got %v", err)
	}
}

func TestBatchRejectsOversizedEntry(t *testing.T) {
	db := openTest(t)
	b := db.NewBatch()
	b.Put([]byte("a"), []byte("1"))
	b.Put(make([]byte, db.MaxKeySize()+1), nil)
	b.Put([]byte("b"), []byte("2"))
	if err := b.Write(); err != ErrKeyTooLarge {
		t.Fatalf("expected ErrKeyTooLarge, got %v", err)
	}
	if n, _ := db.Count(); n != 0 {
		t.Fatalf("a failed batch wrote %d keys", n)
	}
}

func TestBatchOnDroppedFamily(t *testing.T) {
	db := openTest(t)
	cf, err := db.CreateColumnFamily("tmp")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	b := cf.NewBatch()
	b.Put([]byte("a"), []byte("1"))
	if err := db.DropColumnFamily("tmp"); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if err := b.Write(); KindOf(err) != KindNotFound {
		t.Fatalf("expected not found for a dropped family, got %v", err)
	}
}

func TestBatchDiscard(t *testing.T) {
	db := openTest(t)
	b := db.NewBatch()
	b.Put([]byte("a"), []byte("1"))
	b.Discard()
	if err := b.Write(); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	mustMiss(t, db, "a")
}

func TestBatchJoinsTransaction(t *testing.T) {
	db := openTest(t)
	if err := db.Begin(true); err != nil {
		t.Fatalf("begin: %v", err)
	}
	b := db.NewBatch()
	b.Put([]byte("a"), []byte("1"))
	if err := b.Write(); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := db.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	mustMiss(t, db, "a")
}

func TestEmptyBatch(t *testing.T) {
	db := openTest(t)
	if err := db.NewBatch().Write(); err != nil {
		t.Fatalf("empty write: %v", err)
	}
}
