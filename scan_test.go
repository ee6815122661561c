package snkv

import (
	"reflect"
	"testing"
	"time"
)

func strs(keys [][]byte) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = string(k)
	}
	return out
}

func TestScan(t *testing.T) {
	db := openTest(t)
	for _, k := range []string{"user:1", "user:2", "user:3", "order:1", "users"} {
		mustPut(t, db, k, "v:"+k)
	}
	keys, values, err := db.Scan([]byte("user:"), 0)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if !reflect.DeepEqual(strs(keys), []string{"user:1", "user:2", "user:3"}) {
		t.Fatalf("unexpected keys %q", keys)
	}
	if string(values[1]) != "v:user:2" {
		t.Fatalf("unexpected value %q", values[1])
	}
	keys, _, err = db.Scan([]byte("user"), 2)
	if err != nil || len(keys) != 2 {
		t.Fatalf("expected 2 keys with a limit, got %d %v", len(keys), err)
	}
	keys, _, err = db.Scan([]byte("nothing"), 0)
	if err != nil || len(keys) != 0 {
		t.Fatalf("expected nothing, got %q %v", keys, err)
	}
}

func TestScanRange(t *testing.T) {
	db := openTest(t)
	for i := 0; i < 10; i++ {
		if err := db.Put(key(i), []byte("v")); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	keys, _, err := db.ScanRange(key(2), key(5), 0)
	if err != nil {
		t.Fatalf("scan range: %v", err)
	}
	want := []string{string(key(2)), string(key(3)), string(key(4)), string(key(5))}
	if !reflect.DeepEqual(strs(keys), want) {
		t.Fatalf("expected %v, got %q", want, keys)
	}
	keys, _, _ = db.ScanRange(key(8), nil, 0)
	if len(keys) != 2 {
		t.Fatalf("expected an open-ended range to reach the end, got %q", keys)
	}
	keys, _, _ = db.ScanRange(key(0), key(9), 3)
	if len(keys) != 3 {
		t.Fatalf("expected the limit to apply, got %d", len(keys))
	}
	keys, _, err = db.ScanRange(key(5), key(2), 0)
	if err != nil || len(keys) != 0 {
		t.Fatalf("expected an inverted range to be empty, got %q %v", keys, err)
	}
}

func TestKeysPattern(t *testing.T) {
	db := openTest(t)
	for _, k := range []string{"user:1", "user:22", "user:3", "admin:1", "session"} {
		mustPut(t, db, k, "")
	}
	cases := []struct {
		pattern string
		want    []string
	}{
		{"user:*", []string{"user:1", "user:22", "user:3"}},
		{"user:?", []string{"user:1", "user:3"}},
		{"*:1", []string{"admin:1", "user:1"}},
		{"session", []string{"session"}},
		{"*", []string{"admin:1", "session", "user:1", "user:22", "user:3"}},
		{"nope*", nil},
	}
	for _, c := range cases {
		got, err := db.Keys(c.pattern)
		if err != nil {
			t.Fatalf("keys %q: %v", c.pattern, err)
		}
		if !reflect.DeepEqual(got, c.want) {
			t.Fatalf("keys %q: expected %v, got %v", c.pattern, c.want, got)
		}
	}
}

func TestCountSkipsExpired(t *testing.T) {
	db := openTest(t)
	mustPut(t, db, "a", "1")
	mustPut(t, db, "b", "1")
	if err := db.PutWithTTL([]byte("c"), []byte("1"), time.Millisecond); err != nil {
		t.Fatalf("put with ttl: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	n, err := db.Count()
	if err != nil || n != 2 {
		t.Fatalf("expected 2 live keys, got %d %v", n, err)
	}
}
