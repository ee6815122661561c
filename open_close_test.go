package snkv

import (
	"os"
	"testing"
)

func TestOpenCreatesAndReopens(t *testing.T) {
	for _, mode := range []JournalMode{JournalWAL, JournalDelete} {
		t.Run(mode.String(), func(t *testing.T) {
			opts := DefaultOptions(testPath(t))
			opts.JournalMode = mode
			db, err := Open(opts)
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			if db.Path() != opts.Path {
				t.Fatalf("expected path %q, got %q", opts.Path, db.Path())
			}
			mustPut(t, db, "alpha", "1")
			if err := db.Close(); err != nil {
				t.Fatalf("close: %v", err)
			}
			if _, err := os.Stat(opts.Path); err != nil {
				t.Fatalf("expected database file: %v", err)
			}
			if _, err := os.Stat(opts.Path + "-wal"); !os.IsNotExist(err) {
				t.Fatalf("expected -wal removed at last close, got %v", err)
			}

			db2, err := Open(opts)
			if err != nil {
				t.Fatalf("reopen: %v", err)
			}
			defer db2.Close()
			mustGet(t, db2, "alpha", "1")
		})
	}
}

func TestOpenInMemory(t *testing.T) {
	db, err := Open(DefaultOptions(""))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	if db.Path() != "" {
		t.Fatalf("expected empty path, got %q", db.Path())
	}
	mustPut(t, db, "k", "v")
	mustGet(t, db, "k", "v")

	opts := DefaultOptions("")
	opts.ReadOnly = true
	if _, err := Open(opts); err == nil {
		t.Fatalf("expected read-only in-memory open to fail")
	}
}

func TestOpenRejectsBadPageSize(t *testing.T) {
	opts := DefaultOptions(testPath(t))
	opts.PageSize = 1000
	if _, err := Open(opts); err == nil {
		t.Fatalf("expected error for page size 1000")
	}
}

func TestOpenKeepsPageSizeOfExistingFile(t *testing.T) {
	opts := DefaultOptions(testPath(t))
	opts.PageSize = 8192
	db, err := Open(opts)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	big := db.MaxKeySize()
	_ = db.Close()

	opts.PageSize = 1024
	db2, err := Open(opts)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db2.Close()
	if db2.MaxKeySize() != big {
		t.Fatalf("expected key limit %d from the file, got %d", big, db2.MaxKeySize())
	}
}

func TestOpenRejectsForeignFile(t *testing.T) {
	path := testPath(t)
	if err := os.WriteFile(path, []byte("this is not a database file at all, not even close....."), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := Open(DefaultOptions(path))
	if KindOf(err) != KindCorrupt {
		t.Fatalf("expected corrupt error, got %v", err)
	}
}

func TestCloseIsIdempotentAndFinal(t *testing.T) {
	db, err := Open(DefaultOptions(testPath(t)))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := db.Put([]byte("k"), []byte("v")); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, err := db.Get([]byte("k")); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := db.Begin(true); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestCloseRollsBackOpenTransaction(t *testing.T) {
	opts := DefaultOptions(testPath(t))
	db, err := Open(opts)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := db.Begin(true); err != nil {
		t.Fatalf("begin: %v", err)
	}
	mustPut(t, db, "pending", "x")
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db2, err := Open(opts)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db2.Close()
	mustMiss(t, db2, "pending")
}
