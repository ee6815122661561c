package snkv

import (
	"bytes"

	"github.com/bretuobay/snkv/internal/btree"
)

// Iterator walks the live keys of one column family in ascending byte
// order, optionally only those starting with a prefix. It is positioned on
// the first match when created. An iterator pins the snapshot it was opened
// in: commits by other connections stay invisible until it is closed, while
// writes made through the same DB show up on the next move.
//
// Iterator methods are safe to call alongside other DB methods but an
// iterator must not be shared between goroutines. Close must be called.
type Iterator struct {
	cf     *ColumnFamily
	prefix []byte
	tree   *btree.Tree
	cur    *btree.Cursor
	value  []byte
	valid  bool
	err    error
	closed bool
}

// NewIterator opens an iterator over the default family.
func (db *DB) NewIterator() (*Iterator, error) {
	return db.def.NewIterator()
}

// NewPrefixIterator opens an iterator over the keys of the default family
// that start with prefix.
func (db *DB) NewPrefixIterator(prefix []byte) (*Iterator, error) {
	return db.def.NewPrefixIterator(prefix)
}

// NewIterator opens an iterator over every key of the family.
func (cf *ColumnFamily) NewIterator() (*Iterator, error) {
	return cf.newIterator(nil)
}

// NewPrefixIterator opens an iterator over the keys of the family that
// start with prefix. An empty prefix matches every key.
func (cf *ColumnFamily) NewPrefixIterator(prefix []byte) (*Iterator, error) {
	return cf.newIterator(append([]byte{}, prefix...))
}

func (cf *ColumnFamily) newIterator(prefix []byte) (*Iterator, error) {
	db := cf.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil, ErrClosed
	}
	db.stats.iterations.Inc()
	if len(prefix) > db.maxKey {
		return nil, db.fail(ErrKeyTooLarge)
	}
	if err := db.pager.BeginRead(); err != nil {
		return nil, db.fail(classify("new iterator", err))
	}
	t, err := db.tree(cf.name)
	if err != nil {
		db.pager.EndRead()
		return nil, db.fail(classify("new iterator", err))
	}
	it := &Iterator{cf: cf, prefix: prefix, tree: t, cur: t.Cursor()}
	db.iterators[cf.name]++
	it.seek()
	return it, nil
}

// First moves back to the first matching key, restarting an exhausted
// iterator.
func (it *Iterator) First() error {
	db := it.cf.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := it.usable(); err != nil {
		return err
	}
	it.err = nil
	it.seek()
	return it.err
}

// Next moves to the following matching key. Moving past the last one
// leaves the iterator invalid without an error.
func (it *Iterator) Next() error {
	db := it.cf.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := it.usable(); err != nil {
		return err
	}
	if it.err != nil || !it.valid {
		return it.err
	}
	if err := it.cur.Next(); err != nil {
		it.fail(err)
		return it.err
	}
	it.settle()
	return it.err
}

// Valid reports whether the iterator is on a key.
func (it *Iterator) Valid() bool {
	db := it.cf.db
	db.mu.Lock()
	defer db.mu.Unlock()
	return !it.closed && it.err == nil && it.valid
}

// Key returns a copy of the current key, or nil past the end.
func (it *Iterator) Key() []byte {
	db := it.cf.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if it.closed || it.err != nil || !it.valid {
		return nil
	}
	return append([]byte{}, it.cur.Key()...)
}

// Value returns a copy of the current value, or nil past the end.
func (it *Iterator) Value() []byte {
	db := it.cf.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if it.closed || it.err != nil || !it.valid {
		return nil
	}
	return append([]byte{}, it.value...)
}

// Err returns the error that stopped the iterator, if any.
func (it *Iterator) Err() error {
	db := it.cf.db
	db.mu.Lock()
	defer db.mu.Unlock()
	return it.err
}

// Close releases the snapshot. Closing twice is a no-op.
func (it *Iterator) Close() error {
	db := it.cf.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if it.closed {
		return nil
	}
	it.closed = true
	if n := db.iterators[it.cf.name]; n <= 1 {
		delete(db.iterators, it.cf.name)
	} else {
		db.iterators[it.cf.name] = n - 1
	}
	if !db.closed {
		db.pager.EndRead()
	}
	return nil
}

func (it *Iterator) usable() error {
	switch {
	case it.cf.db.closed:
		return ErrClosed
	case it.closed:
		return ErrIteratorDone
	}
	return nil
}

func (it *Iterator) fail(err error) {
	it.valid = false
	it.err = it.cf.db.fail(classify("iterate", err))
}

func (it *Iterator) seek() {
	if err := it.cur.Seek(it.prefix); err != nil {
		it.fail(err)
		return
	}
	it.settle()
}

// settle advances the cursor past expired keys and stops at the end of
// the prefix range. The caller holds db.mu.
func (it *Iterator) settle() {
	db := it.cf.db
	now := nowMillis()
	it.valid = false
	for it.cur.Valid() {
		key := it.cur.Key()
		if !bytes.HasPrefix(key, it.prefix) {
			return
		}
		exp, ok, err := db.expiry(it.cf.name, key)
		if err != nil {
			it.fail(err)
			return
		}
		if !ok || now < exp {
			v, err := it.cur.Value()
			if err != nil {
				it.fail(err)
				return
			}
			it.value = v
			it.valid = true
			return
		}
		if err := it.cur.Next(); err != nil {
			it.fail(err)
			return
		}
	}
}

// scan calls fn for every live key in [start, end] in order until fn
// returns false. A nil end means no upper bound. The caller holds a
// transaction.
func (cf *ColumnFamily) scan(start, end []byte, now int64, fn func(key, value []byte, exp int64, hasTTL bool) bool) error {
	db := cf.db
	t, err := db.tree(cf.name)
	if err != nil {
		return err
	}
	tt, err := db.ttlTree(cf.name)
	if err != nil {
		return err
	}
	c := t.Cursor()
	if err := c.Seek(start); err != nil {
		return err
	}
	for c.Valid() {
		key := c.Key()
		if end != nil && bytes.Compare(key, end) > 0 {
			return nil
		}
		exp, ok, err := readExpiry(tt, key)
		if err != nil {
			return err
		}
		if !ok || now < exp {
			v, err := c.Value()
			if err != nil {
				return err
			}
			if !fn(key, v, exp, ok) {
				return nil
			}
		}
		if err := c.Next(); err != nil {
			return err
		}
	}
	return nil
}
