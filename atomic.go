package snkv

import (
	"bytes"
	"errors"
	"strconv"
	"time"

	"github.com/bretuobay/snkv/internal/btree"
)

// PutIfAbsent stores the pair only if the key does not exist. It reports
// whether the value was written.
func (db *DB) PutIfAbsent(key, value []byte) (bool, error) {
	return db.def.PutIfAbsent(key, value)
}

// PutIfAbsent stores the pair only if the key does not exist. An expired
// key counts as absent.
func (cf *ColumnFamily) PutIfAbsent(key, value []byte) (bool, error) {
	written := false
	err := cf.readModifyWrite("put if absent", key, value, func(t *btree.Tree, _ []byte, found bool) error {
		if found {
			return nil
		}
		written = true
		return cf.putLocked(key, value, 0, false)
	})
	return written, err
}

// Incr increments the integer value by 1.
func (db *DB) Incr(key []byte) (int64, error) {
	return db.def.IncrBy(key, 1)
}

// Decr decrements the integer value by 1.
func (db *DB) Decr(key []byte) (int64, error) {
	return db.def.IncrBy(key, -1)
}

// IncrBy increments the integer value by delta.
func (db *DB) IncrBy(key []byte, delta int64) (int64, error) {
	return db.def.IncrBy(key, delta)
}

// Incr increments the integer value by 1.
func (cf *ColumnFamily) Incr(key []byte) (int64, error) {
	return cf.IncrBy(key, 1)
}

// Decr decrements the integer value by 1.
func (cf *ColumnFamily) Decr(key []byte) (int64, error) {
	return cf.IncrBy(key, -1)
}

// IncrBy adds delta to the decimal integer stored under key and returns the
// result. A missing key counts as 0. A value that is not a decimal integer
// fails with ErrInvalidValue. The key keeps its expiry.
func (cf *ColumnFamily) IncrBy(key []byte, delta int64) (int64, error) {
	var next int64
	err := cf.readModifyWrite("incr", key, nil, func(t *btree.Tree, cur []byte, found bool) error {
		var n int64
		if found {
			parsed, err := strconv.ParseInt(string(cur), 10, 64)
			if err != nil {
				return ErrInvalidValue
			}
			n = parsed
		}
		next = n + delta
		return t.Put(key, []byte(strconv.FormatInt(next, 10)))
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}

// CompareAndSwap replaces the value with newVal if it currently equals
// oldVal.
func (db *DB) CompareAndSwap(key, oldVal, newVal []byte) (bool, error) {
	return db.def.CompareAndSwap(key, oldVal, newVal)
}

// CompareAndSwap replaces the value with newVal if it currently equals
// oldVal. A missing key never matches. The key keeps its expiry.
func (cf *ColumnFamily) CompareAndSwap(key, oldVal, newVal []byte) (bool, error) {
	swapped := false
	err := cf.readModifyWrite("compare and swap", key, newVal, func(t *btree.Tree, cur []byte, found bool) error {
		if !found || !bytes.Equal(cur, oldVal) {
			return nil
		}
		swapped = true
		return t.Put(key, newVal)
	})
	return swapped, err
}

// Swap stores value and returns the previous one, or nil if the key did not
// exist.
func (db *DB) Swap(key, value []byte) ([]byte, error) {
	return db.def.Swap(key, value)
}

// Swap stores value and returns the previous one, or nil if the key did not
// exist. Like Put it removes any expiry.
func (cf *ColumnFamily) Swap(key, value []byte) ([]byte, error) {
	var old []byte
	err := cf.readModifyWrite("swap", key, value, func(_ *btree.Tree, cur []byte, found bool) error {
		if found {
			old = cur
		}
		return cf.putLocked(key, value, 0, false)
	})
	if err != nil {
		return nil, err
	}
	return old, nil
}

// readModifyWrite runs fn with the live value of key inside one write
// transaction. An expired key is removed first and reported as not found.
func (cf *ColumnFamily) readModifyWrite(op string, key, value []byte, fn func(t *btree.Tree, cur []byte, found bool) error) error {
	db := cf.db
	db.mu.Lock()
	defer db.mu.Unlock()
	defer db.stats.write(time.Now())
	db.stats.puts.Inc()

	if err := db.checkEntry(key, value); err != nil {
		return db.fail(err)
	}
	return db.update(op, func() error {
		if _, err := db.removeIfDue(cf.name, key, nowMillis()); err != nil {
			return err
		}
		t, err := db.tree(cf.name)
		if err != nil {
			return err
		}
		cur, err := t.Get(key)
		switch {
		case errors.Is(err, btree.ErrNotFound):
			return fn(t, nil, false)
		case err != nil:
			return err
		}
		return fn(t, cur, true)
	})
}
