package snkv

import (
	"fmt"
	"path/filepath"
	"testing"
)

func testPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.db")
}

// openTest opens a fresh database in a temporary directory and closes it
// when the test ends.
func openTest(t *testing.T, edit ...func(*Options)) *DB {
	t.Helper()
	opts := DefaultOptions(testPath(t))
	for _, fn := range edit {
		fn(&opts)
	}
	db, err := Open(opts)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func rollbackMode(o *Options) { o.JournalMode = JournalDelete }

func key(i int) []byte { return []byte(fmt.Sprintf("key-%05d", i)) }

func mustPut(t *testing.T, db *DB, k, v string) {
	t.Helper()
	if err := db.Put([]byte(k), []byte(v)); err != nil {
		t.Fatalf("put %q: %v", k, err)
	}
}

func mustGet(t *testing.T, db *DB, k, want string) {
	t.Helper()
	got, err := db.Get([]byte(k))
	if err != nil {
		t.Fatalf("get %q: %v", k, err)
	}
	if string(got) != want {
		t.Fatalf("get %q: expected %q, got %q", k, want, got)
	}
}

func mustMiss(t *testing.T, db *DB, k string) {
	t.Helper()
	if _, err := db.Get([]byte(k)); err != ErrNotFound {
		t.Fatalf("get %q: expected ErrNotFound, got %v", k, err)
	}
}
