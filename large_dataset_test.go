package snkv

import (
	"bytes"
	"fmt"
	"testing"
)

func TestLargeDataset(t *testing.T) {
	if testing.Short() {
		t.Skip("large dataset")
	}
	for _, mode := range []JournalMode{JournalWAL, JournalDelete} {
		t.Run(mode.String(), func(t *testing.T) {
			opts := DefaultOptions(testPath(t))
			opts.JournalMode = mode
			opts.CacheSize = 64
			opts.WALSizeLimit = 8
			db, err := Open(opts)
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			const n = 20000
			value := func(i int) []byte {
				return bytes.Repeat([]byte{byte(i)}, 16+i%200)
			}
			b := db.NewBatch()
			for i := 0; i < n; i++ {
				b.Put([]byte(fmt.Sprintf("key-%08d", i)), value(i))
				if b.Len() == 1000 {
					if err := b.Write(); err != nil {
						t.Fatalf("batch: %v", err)
					}
					b = db.NewBatch()
				}
			}
			for i := 0; i < n; i += 2 {
				if i%1000 == 0 {
					// Single deletes every so often, batches for the rest.
					if err := db.Delete([]byte(fmt.Sprintf("key-%08d", i))); err != nil {
						t.Fatalf("delete: %v", err)
					}
					continue
				}
				b.Delete([]byte(fmt.Sprintf("key-%08d", i)))
				if b.Len() == 1000 {
					if err := b.Write(); err != nil {
						t.Fatalf("batch: %v", err)
					}
					b = db.NewBatch()
				}
			}
			if err := b.Write(); err != nil {
				t.Fatalf("batch: %v", err)
			}
			if err := db.Close(); err != nil {
				t.Fatalf("close: %v", err)
			}

			db, err = Open(opts)
			if err != nil {
				t.Fatalf("reopen: %v", err)
			}
			defer db.Close()
			if c, err := db.Count(); err != nil || c != n/2 {
				t.Fatalf("expected %d keys, got %d %v", n/2, c, err)
			}
			for i := 1; i < n; i += 98 {
				got, err := db.Get([]byte(fmt.Sprintf("key-%08d", i)))
				if err != nil || !bytes.Equal(got, value(i)) {
					t.Fatalf("key %d: %v", i, err)
				}
			}
			if err := db.IntegrityCheck(); err != nil {
				t.Fatalf("integrity: %v", err)
			}
			if _, err := db.Vacuum(0); err != nil {
				t.Fatalf("vacuum: %v", err)
			}
			if err := db.IntegrityCheck(); err != nil {
				t.Fatalf("integrity after vacuum: %v", err)
			}
		})
	}
}
