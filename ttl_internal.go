package snkv

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/bretuobay/snkv/internal/btree"
)

// The expiry index of a family holds two rows per expiring key:
//
//	"k" + key               -> expire_at (8 bytes, ms since the epoch)
//	"e" + expire_at + key   -> ""
//
// The second form keeps due keys at the front of the "e" range.
const ttlKeyOverhead = 9

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

func expiryKey(key []byte) []byte {
	out := make([]byte, 1+len(key))
	out[0] = 'k'
	copy(out[1:], key)
	return out
}

func indexKey(expireAt int64, key []byte) []byte {
	out := make([]byte, ttlKeyOverhead+len(key))
	out[0] = 'e'
	binary.BigEndian.PutUint64(out[1:9], uint64(expireAt))
	copy(out[9:], key)
	return out
}

func parseIndexKey(k []byte) (int64, []byte, bool) {
	if len(k) < ttlKeyOverhead || k[0] != 'e' {
		return 0, nil, false
	}
	return int64(binary.BigEndian.Uint64(k[1:9])), k[9:], true
}

// ttlTree opens the expiry index of a family, or returns nil when the
// family has never had an expiring key.
func (db *DB) ttlTree(name string) (*btree.Tree, error) {
	rec, ok, err := db.record(ttlPrefix + name)
	if err != nil || !ok {
		return nil, err
	}
	return btree.Open(db.pager, rec.root), nil
}

func (db *DB) ensureTTLTree(name string) (*btree.Tree, error) {
	t, err := db.ttlTree(name)
	if err != nil || t != nil {
		return t, err
	}
	return db.createFamily(ttlPrefix+name, true)
}

func readExpiry(tt *btree.Tree, key []byte) (int64, bool, error) {
	if tt == nil {
		return 0, false, nil
	}
	v, err := tt.Get(expiryKey(key))
	if errors.Is(err, btree.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if len(v) != 8 {
		return 0, false, fmt.Errorf("%w: expiry record of %d bytes", btree.ErrCorrupt, len(v))
	}
	return int64(binary.BigEndian.Uint64(v)), true, nil
}

// expiry returns when key expires in family name.
func (db *DB) expiry(name string, key []byte) (int64, bool, error) {
	tt, err := db.ttlTree(name)
	if err != nil {
		return 0, false, err
	}
	return readExpiry(tt, key)
}

// setExpiry records that key expires at expireAt, replacing an older
// record. The caller holds a write transaction.
func (db *DB) setExpiry(name string, key []byte, expireAt int64) error {
	if expireAt < 0 {
		expireAt = 0
	}
	tt, err := db.ensureTTLTree(name)
	if err != nil {
		return err
	}
	old, ok, err := readExpiry(tt, key)
	if err != nil {
		return err
	}
	if ok && old != expireAt {
		if err := tt.Delete(indexKey(old, key)); err != nil && !errors.Is(err, btree.ErrNotFound) {
			return err
		}
	}
	v := make([]byte, 8)
	binary.BigEndian.PutUint64(v, uint64(expireAt))
	if err := tt.Put(expiryKey(key), v); err != nil {
		return err
	}
	return tt.Put(indexKey(expireAt, key), nil)
}

// clearExpiry removes any expiry record of key. The caller holds a write
// transaction.
func (db *DB) clearExpiry(name string, key []byte) error {
	tt, err := db.ttlTree(name)
	if err != nil || tt == nil {
		return err
	}
	return clearExpiryIn(tt, key)
}

func clearExpiryIn(tt *btree.Tree, key []byte) error {
	old, ok, err := readExpiry(tt, key)
	if err != nil || !ok {
		return err
	}
	if err := tt.Delete(expiryKey(key)); err != nil {
		return err
	}
	if err := tt.Delete(indexKey(old, key)); err != nil && !errors.Is(err, btree.ErrNotFound) {
		return err
	}
	return nil
}

// removeIfDue deletes key and its expiry records when the key has expired
// by now. The caller holds a write transaction.
func (db *DB) removeIfDue(name string, key []byte, now int64) (bool, error) {
	tt, err := db.ttlTree(name)
	if err != nil || tt == nil {
		return false, err
	}
	exp, ok, err := readExpiry(tt, key)
	if err != nil || !ok || now < exp {
		return false, err
	}
	t, err := db.tree(name)
	if err != nil {
		return false, err
	}
	if err := t.Delete(key); err != nil && !errors.Is(err, btree.ErrNotFound) {
		return false, err
	}
	return true, clearExpiryIn(tt, key)
}

// firstDue reports whether the earliest expiry in tt has passed.
func firstDue(tt *btree.Tree, now int64) (bool, error) {
	if tt == nil {
		return false, nil
	}
	c := tt.Cursor()
	if err := c.Seek([]byte{'e'}); err != nil {
		return false, err
	}
	if !c.Valid() {
		return false, nil
	}
	exp, _, ok := parseIndexKey(c.Key())
	return ok && exp <= now, nil
}

// purgeDue deletes every key of family name whose expiry has passed,
// returning how many there were. Index rows whose key is already gone are
// removed as well and counted. The caller holds a write transaction.
func (db *DB) purgeDue(name string, now int64) (int, error) {
	tt, err := db.ttlTree(name)
	if err != nil || tt == nil {
		return 0, err
	}
	t, err := db.tree(name)
	if err != nil {
		return 0, err
	}
	type entry struct {
		exp int64
		key []byte
	}
	var due []entry
	c := tt.Cursor()
	if err := c.Seek([]byte{'e'}); err != nil {
		return 0, err
	}
	for c.Valid() {
		exp, key, ok := parseIndexKey(c.Key())
		if !ok || exp > now {
			break
		}
		due = append(due, entry{exp: exp, key: key})
		if err := c.Next(); err != nil {
			return 0, err
		}
	}
	n := 0
	for _, e := range due {
		cur, ok, err := readExpiry(tt, e.key)
		if err != nil {
			return n, err
		}
		if ok && cur != e.exp {
			// A stale index row; the key lives on under a newer expiry.
			if err := tt.Delete(indexKey(e.exp, e.key)); err != nil && !errors.Is(err, btree.ErrNotFound) {
				return n, err
			}
			continue
		}
		if err := t.Delete(e.key); err != nil && !errors.Is(err, btree.ErrNotFound) {
			return n, err
		}
		if ok {
			if err := tt.Delete(expiryKey(e.key)); err != nil {
				return n, err
			}
		}
		if err := tt.Delete(indexKey(e.exp, e.key)); err != nil && !errors.Is(err, btree.ErrNotFound) {
			return n, err
		}
		n++
	}
	return n, nil
}
