package snkv

import (
	"bytes"
	"time"
)

// Scan returns up to limit key/value pairs of the default family whose keys
// start with prefix, in ascending order. A limit of zero or less means no
// limit.
func (db *DB) Scan(prefix []byte, limit int) ([][]byte, [][]byte, error) {
	return db.def.Scan(prefix, limit)
}

// Scan returns up to limit key/value pairs whose keys start with prefix.
func (cf *ColumnFamily) Scan(prefix []byte, limit int) ([][]byte, [][]byte, error) {
	db := cf.db
	db.mu.Lock()
	defer db.mu.Unlock()
	defer db.stats.read(time.Now())
	db.stats.iterations.Inc()

	if len(prefix) > db.maxKey {
		return nil, nil, db.fail(ErrKeyTooLarge)
	}
	var keys, values [][]byte
	now := nowMillis()
	err := db.view("scan", func() error {
		return cf.scan(prefix, nil, now, func(key, value []byte, _ int64, _ bool) bool {
			if !bytes.HasPrefix(key, prefix) {
				return false
			}
			keys = append(keys, append([]byte{}, key...))
			values = append(values, value)
			return limit <= 0 || len(keys) < limit
		})
	})
	if err != nil {
		return nil, nil, err
	}
	return keys, values, nil
}

// ScanRange returns up to limit key/value pairs of the default family whose
// keys are within [start, end].
func (db *DB) ScanRange(start, end []byte, limit int) ([][]byte, [][]byte, error) {
	return db.def.ScanRange(start, end, limit)
}

// ScanRange returns up to limit key/value pairs whose keys are within
// [start, end]. A nil end means no upper bound.
func (cf *ColumnFamily) ScanRange(start, end []byte, limit int) ([][]byte, [][]byte, error) {
	db := cf.db
	db.mu.Lock()
	defer db.mu.Unlock()
	defer db.stats.read(time.Now())
	db.stats.iterations.Inc()

	if len(start) > db.maxKey || len(end) > db.maxKey {
		return nil, nil, db.fail(ErrKeyTooLarge)
	}
	var keys, values [][]byte
	if end != nil && bytes.Compare(start, end) > 0 {
		return keys, values, nil
	}
	now := nowMillis()
	err := db.view("scan range", func() error {
		return cf.scan(start, end, now, func(key, value []byte, _ int64, _ bool) bool {
			keys = append(keys, append([]byte{}, key...))
			values = append(values, value)
			return limit <= 0 || len(keys) < limit
		})
	})
	if err != nil {
		return nil, nil, err
	}
	return keys, values, nil
}

// Keys returns the keys of the default family matching a glob pattern.
func (db *DB) Keys(pattern string) ([]string, error) {
	return db.def.Keys(pattern)
}

// Keys returns the keys matching a glob pattern, where '*' matches any run
// of bytes and '?' a single byte.
func (cf *ColumnFamily) Keys(pattern string) ([]string, error) {
	db := cf.db
	db.mu.Lock()
	defer db.mu.Unlock()
	defer db.stats.read(time.Now())
	db.stats.iterations.Inc()

	// Everything before the first wildcard is a literal prefix to seek to.
	lit := []byte(pattern)
	if i := bytes.IndexAny(lit, "*?"); i >= 0 {
		lit = lit[:i]
	}
	var keys []string
	now := nowMillis()
	err := db.view("keys", func() error {
		return cf.scan(lit, nil, now, func(key, _ []byte, _ int64, _ bool) bool {
			if !bytes.HasPrefix(key, lit) {
				return false
			}
			if globMatch(pattern, key) {
				keys = append(keys, string(key))
			}
			return true
		})
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// Count returns the number of live keys in the default family.
func (db *DB) Count() (int, error) {
	return db.def.Count()
}

// Count returns the number of live keys in the family.
func (cf *ColumnFamily) Count() (int, error) {
	db := cf.db
	db.mu.Lock()
	defer db.mu.Unlock()
	defer db.stats.read(time.Now())
	db.stats.iterations.Inc()

	n := 0
	now := nowMillis()
	err := db.view("count", func() error {
		return cf.scan(nil, nil, now, func([]byte, []byte, int64, bool) bool {
			n++
			return true
		})
	})
	return n, err
}
