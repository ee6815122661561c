package snkv

import (
	"errors"
	"time"

	"github.com/bretuobay/snkv/internal/btree"
)

// PutWithTTL stores a key-value pair that expires after ttl. A ttl of zero
// or less stores the pair without expiry.
func (db *DB) PutWithTTL(key, value []byte, ttl time.Duration) error {
	return db.def.PutWithTTL(key, value, ttl)
}

// PutWithTTL stores a key-value pair that expires after ttl. A ttl of zero
// or less stores the pair without expiry.
func (cf *ColumnFamily) PutWithTTL(key, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return cf.Put(key, value)
	}
	return cf.put("put with ttl", key, value, time.Now().Add(ttl).UnixMilli(), true)
}

// PutWithExpiry stores a key-value pair that expires at the given time.
func (db *DB) PutWithExpiry(key, value []byte, at time.Time) error {
	return db.def.PutWithExpiry(key, value, at)
}

// PutWithExpiry stores a key-value pair that expires at the given time.
// The value and its expiry are written in one transaction.
func (cf *ColumnFamily) PutWithExpiry(key, value []byte, at time.Time) error {
	return cf.put("put with expiry", key, value, at.UnixMilli(), true)
}

// GetWithTTL returns the value of a key and its remaining lifetime, which
// is NoTTL when the key never expires.
func (db *DB) GetWithTTL(key []byte) ([]byte, time.Duration, error) {
	return db.def.GetWithTTL(key)
}

// GetWithTTL returns the value of a key and its remaining lifetime, which
// is NoTTL when the key never expires.
func (cf *ColumnFamily) GetWithTTL(key []byte) ([]byte, time.Duration, error) {
	db := cf.db
	db.mu.Lock()
	defer db.mu.Unlock()
	defer db.stats.read(time.Now())
	db.stats.gets.Inc()

	value, remaining, expired, err := cf.lookup("get with ttl", key)
	if err != nil {
		return nil, 0, err
	}
	if expired {
		return nil, 0, ErrNotFound
	}
	return value, remaining, nil
}

// TTL returns the remaining lifetime of a key: NoTTL when it never expires,
// zero when it has just expired (it is deleted), or ErrNotFound when there
// is no such key.
func (db *DB) TTL(key []byte) (time.Duration, error) {
	return db.def.TTL(key)
}

// TTL returns the remaining lifetime of a key: NoTTL when it never expires,
// zero when it has just expired (it is deleted), or ErrNotFound when there
// is no such key.
func (cf *ColumnFamily) TTL(key []byte) (time.Duration, error) {
	db := cf.db
	db.mu.Lock()
	defer db.mu.Unlock()
	defer db.stats.read(time.Now())
	db.stats.gets.Inc()

	_, remaining, expired, err := cf.lookup("ttl", key)
	if err != nil {
		return 0, err
	}
	if expired {
		return 0, nil
	}
	return remaining, nil
}

// Expire sets a TTL on an existing key. It reports false when the key does
// not exist or ttl is not positive.
func (db *DB) Expire(key []byte, ttl time.Duration) (bool, error) {
	return db.def.Expire(key, ttl)
}

// Expire sets a TTL on an existing key. It reports false when the key does
// not exist or ttl is not positive.
func (cf *ColumnFamily) Expire(key []byte, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, nil
	}
	expireAt := time.Now().Add(ttl).UnixMilli()
	return cf.retime("expire", key, func() error {
		return cf.db.setExpiry(cf.name, key, expireAt)
	})
}

// Persist removes the expiry of an existing key. It reports false when the
// key does not exist.
func (db *DB) Persist(key []byte) (bool, error) {
	return db.def.Persist(key)
}

// Persist removes the expiry of an existing key. It reports false when the
// key does not exist.
func (cf *ColumnFamily) Persist(key []byte) (bool, error) {
	return cf.retime("persist", key, func() error {
		return cf.db.clearExpiry(cf.name, key)
	})
}

// retime runs set on a live key inside a write transaction.
func (cf *ColumnFamily) retime(op string, key []byte, set func() error) (bool, error) {
	db := cf.db
	db.mu.Lock()
	defer db.mu.Unlock()
	defer db.stats.write(time.Now())
	db.stats.puts.Inc()

	if len(key) > db.maxKey {
		return false, db.fail(ErrKeyTooLarge)
	}
	ok := false
	err := db.update(op, func() error {
		now := nowMillis()
		if gone, err := db.removeIfDue(cf.name, key, now); err != nil || gone {
			return err
		}
		t, err := db.tree(cf.name)
		if err != nil {
			return err
		}
		if _, err := t.Get(key); err != nil {
			if errors.Is(err, btree.ErrNotFound) {
				return nil
			}
			return err
		}
		ok = true
		return set()
	})
	return ok, err
}

// PurgeExpired deletes every expired key of the default family and returns
// how many were removed.
func (db *DB) PurgeExpired() (int, error) {
	return db.def.PurgeExpired()
}

// PurgeExpired deletes every expired key of the family, together with its
// expiry records, and returns how many were removed.
func (cf *ColumnFamily) PurgeExpired() (int, error) {
	db := cf.db
	db.mu.Lock()
	defer db.mu.Unlock()
	defer db.stats.write(time.Now())
	return cf.purgeExpired(nowMillis())
}

// purgeExpired only takes the writer lock when something is due. The caller
// holds db.mu.
func (cf *ColumnFamily) purgeExpired(now int64) (int, error) {
	db := cf.db
	due := false
	err := db.view("purge expired", func() error {
		if _, err := db.tree(cf.name); err != nil {
			return err
		}
		tt, err := db.ttlTree(cf.name)
		if err != nil {
			return err
		}
		due, err = firstDue(tt, now)
		return err
	})
	if err != nil || !due {
		return 0, err
	}
	n := 0
	err = db.update("purge expired", func() error {
		var err error
		n, err = db.purgeDue(cf.name, now)
		return err
	})
	if err != nil {
		return 0, err
	}
	db.stats.deletes.Add(n)
	return n, nil
}
