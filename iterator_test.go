package snkv

import (
	"bytes"
	"reflect"
	"testing"
	"time"
)

func collect(t *testing.T, it *Iterator) []string {
	t.Helper()
	var out []string
	for it.Valid() {
		out = append(out, string(it.Key()))
		if err := it.Next(); err != nil {
			t.Fatalf("next: %v", err)
		}
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iterator: %v", err)
	}
	return out
}

func TestPrefixIterator(t *testing.T) {
	db := openTest(t)
	for _, k := range []string{"banana", "apply", "app", "application", "apple"} {
		mustPut(t, db, k, "v:"+k)
	}
	it, err := db.NewPrefixIterator([]byte("app"))
	if err != nil {
		t.Fatalf("iterator: %v", err)
	}
	defer it.Close()

	if string(it.Value()) != "v:app" {
		t.Fatalf("unexpected first value %q", it.Value())
	}
	got := collect(t, it)
	want := []string{"app", "apple", "application", "apply"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if it.Key() != nil || it.Value() != nil {
		t.Fatalf("expected nil key and value past the end")
	}

	if err := it.First(); err != nil {
		t.Fatalf("first: %v", err)
	}
	if string(it.Key()) != "app" {
		t.Fatalf("expected restart at app, got %q", it.Key())
	}
}

func TestFullIteratorOrder(t *testing.T) {
	db := openTest(t)
	for i := 299; i >= 0; i-- {
		if err := db.Put(key(i), []byte("v")); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	it, err := db.NewIterator()
	if err != nil {
		t.Fatalf("iterator: %v", err)
	}
	defer it.Close()
	got := collect(t, it)
	if len(got) != 300 {
		t.Fatalf("expected 300 keys, got %d", len(got))
	}
	for i, k := range got {
		if k != string(key(i)) {
			t.Fatalf("position %d: expected %s, got %s", i, key(i), k)
		}
	}
}

func TestPrefixIteratorBinaryKeys(t *testing.T) {
	db := openTest(t)
	keys := [][]byte{
		{0xfe},
		{0xff},
		{0xff, 0x00},
		{0xff, 0xff},
		{0xff, 0xff, 0xff},
		[]byte("a\x00b"),
		[]byte("a\x00c"),
		[]byte("a\x01"),
	}
	for _, k := range keys {
		if err := db.Put(k, k); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	cases := []struct {
		prefix []byte
		want   int
	}{
		{[]byte{0xff}, 4},
		{[]byte{0xff, 0xff}, 2},
		{[]byte("a\x00"), 2},
		{[]byte("a"), 3},
		{nil, len(keys)},
		{[]byte("zz"), 0},
	}
	for _, c := range cases {
		it, err := db.NewPrefixIterator(c.prefix)
		if err != nil {
			t.Fatalf("iterator: %v", err)
		}
		n := 0
		for it.Valid() {
			if !bytes.HasPrefix(it.Key(), c.prefix) || !bytes.Equal(it.Key(), it.Value()) {
				t.Fatalf("prefix %x: unexpected entry %x", c.prefix, it.Key())
			}
			n++
			if err := it.Next(); err != nil {
				t.Fatalf("next: %v", err)
			}
		}
		it.Close()
		if n != c.want {
			t.Fatalf("prefix %x: expected %d keys, got %d", c.prefix, c.want, n)
		}
	}
}

func TestIteratorSkipsExpiredKeys(t *testing.T) {
	db := openTest(t)
	mustPut(t, db, "a", "1")
	if err := db.PutWithTTL([]byte("b"), []byte("2"), time.Millisecond); err != nil {
		t.Fatalf("put with ttl: %v", err)
	}
	if err := db.PutWithTTL([]byte("c"), []byte("3"), time.Hour); err != nil {
		t.Fatalf("put with ttl: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	it, err := db.NewIterator()
	if err != nil {
		t.Fatalf("iterator: %v", err)
	}
	got := collect(t, it)
	it.Close()
	if !reflect.DeepEqual(got, []string{"a", "c"}) {
		t.Fatalf("expected [a c], got %v", got)
	}
}

func TestIteratorSeesOwnWrites(t *testing.T) {
	db := openTest(t)
	mustPut(t, db, "a", "1")
	mustPut(t, db, "b", "2")
	it, err := db.NewIterator()
	if err != nil {
		t.Fatalf("iterator: %v", err)
	}
	defer it.Close()
	mustPut(t, db, "c", "3")
	got := collect(t, it)
	if !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("expected [a b c], got %v", got)
	}
}

func TestIteratorSnapshotHidesOtherConnections(t *testing.T) {
	path := testPath(t)
	db, err := Open(DefaultOptions(path))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	other, err := Open(DefaultOptions(path))
	if err != nil {
		t.Fatalf("open second: %v", err)
	}
	defer other.Close()

	mustPut(t, db, "a", "1")
	it, err := db.NewIterator()
	if err != nil {
		t.Fatalf("iterator: %v", err)
	}
	mustPut(t, other, "b", "2")
	got := collect(t, it)
	if !reflect.DeepEqual(got, []string{"a"}) {
		t.Fatalf("expected the pinned snapshot, got %v", got)
	}
	// Writing on top of an outdated snapshot is refused.
	if err := db.Put([]byte("c"), nil); KindOf(err) != KindBusy {
		t.Fatalf("expected busy, got %v", err)
	}
	it.Close()
	mustGet(t, db, "b", "2")
	mustPut(t, db, "c", "")
}

func TestIteratorClose(t *testing.T) {
	db := openTest(t)
	mustPut(t, db, "a", "1")
	it, err := db.NewIterator()
	if err != nil {
		t.Fatalf("iterator: %v", err)
	}
	if err := it.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := it.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if it.Valid() {
		t.Fatalf("closed iterator reports valid")
	}
	if err := it.Next(); err != ErrIteratorDone {
		t.Fatalf("expected ErrIteratorDone, got %v", err)
	}
	if err := it.First(); err != ErrIteratorDone {
		t.Fatalf("expected ErrIteratorDone, got %v", err)
	}

	it, err = db.NewIterator()
	if err != nil {
		t.Fatalf("iterator: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close db: %v", err)
	}
	if err := it.Next(); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := it.Close(); err != nil {
		t.Fatalf("close after db close: %v", err)
	}
	if _, err := db.NewIterator(); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestIteratorEmptyDatabase(t *testing.T) {
	db := openTest(t)
	it, err := db.NewIterator()
	if err != nil {
		t.Fatalf("iterator: %v", err)
	}
	defer it.Close()
	if it.Valid() {
		t.Fatalf("expected an empty iterator")
	}
	if err := it.Next(); err != nil {
		t.Fatalf("next past the end: %v", err)
	}
}
