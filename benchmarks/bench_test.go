package benchmarks

import (
	"path/filepath"
	"strconv"
	"testing"

	"github.com/bretuobay/snkv"
)

func openBench(b *testing.B, mode snkv.JournalMode) (*snkv.DB, string) {
	b.Helper()
	path := filepath.Join(b.TempDir(), "bench.db")
	opts := snkv.DefaultOptions(path)
	opts.JournalMode = mode
	db, err := snkv.Open(opts)
	if err != nil {
		b.Fatalf("open: %v", err)
	}
	b.Cleanup(func() { _ = db.Close() })
	return db, path
}

func forModes(b *testing.B, fn func(b *testing.B, mode snkv.JournalMode)) {
	for _, mode := range []snkv.JournalMode{snkv.JournalWAL, snkv.JournalDelete} {
		b.Run(mode.String(), func(b *testing.B) { fn(b, mode) })
	}
}

func BenchmarkPut(b *testing.B) {
	forModes(b, func(b *testing.B, mode snkv.JournalMode) {
		db, _ := openBench(b, mode)
		key := []byte("key")
		value := []byte("value")
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			_ = db.Put(key, value)
		}
	})
}

func BenchmarkGet(b *testing.B) {
	forModes(b, func(b *testing.B, mode snkv.JournalMode) {
		db, _ := openBench(b, mode)
		key := []byte("key")
		_ = db.Put(key, []byte("value"))
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			_, _ = db.Get(key)
		}
	})
}

func BenchmarkGetInto(b *testing.B) {
	db, _ := openBench(b, snkv.JournalWAL)
	key := []byte("key")
	_ = db.Put(key, []byte("value"))

	buf := make([]byte, 0, 64)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf, _ = db.GetInto(buf, key)
	}
}

func BenchmarkBatchWrite(b *testing.B) {
	forModes(b, func(b *testing.B, mode snkv.JournalMode) {
		db, _ := openBench(b, mode)
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			batch := db.NewBatch()
			for j := 0; j < 100; j++ {
				batch.Put([]byte("k"+strconv.Itoa(j)), []byte("v"))
			}
			_ = batch.Write()
		}
	})
}

func BenchmarkTransaction(b *testing.B) {
	db, _ := openBench(b, snkv.JournalWAL)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = db.Begin(true)
		for j := 0; j < 100; j++ {
			_ = db.Put([]byte("k"+strconv.Itoa(j)), []byte("v"))
		}
		_ = db.Commit()
	}
}

func BenchmarkPrefixScan(b *testing.B) {
	db, _ := openBench(b, snkv.JournalWAL)
	batch := db.NewBatch()
	for i := 0; i < 10000; i++ {
		batch.Put([]byte("user:"+strconv.Itoa(i)), []byte("v"))
	}
	if err := batch.Write(); err != nil {
		b.Fatalf("batch: %v", err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = db.Scan([]byte("user:42"), 0)
	}
}

func BenchmarkStartup(b *testing.B) {
	db, path := openBench(b, snkv.JournalWAL)
	batch := db.NewBatch()
	for i := 0; i < 1000; i++ {
		batch.Put([]byte("k"+strconv.Itoa(i)), []byte("v"))
	}
	_ = batch.Write()
	_ = db.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		db2, err := snkv.Open(snkv.DefaultOptions(path))
		if err != nil {
			b.Fatalf("open: %v", err)
		}
		_ = db2.Close()
	}
}
