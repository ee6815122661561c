package snkv

import "time"

// Get returns the value for a key or ErrNotFound. An expired key is
// deleted on the way out when the connection can write.
func (db *DB) Get(key []byte) ([]byte, error) {
	return db.def.Get(key)
}

// Get returns the value for a key or ErrNotFound.
func (cf *ColumnFamily) Get(key []byte) ([]byte, error) {
	db := cf.db
	db.mu.Lock()
	defer db.mu.Unlock()
	defer db.stats.read(time.Now())
	db.stats.gets.Inc()

	value, _, expired, err := cf.lookup("get", key)
	if err != nil {
		return nil, err
	}
	if expired {
		return nil, ErrNotFound
	}
	return value, nil
}

// lookup reads key with its remaining lifetime, which is NoTTL for a key
// that never expires. A key found expired is deleted when the connection can
// write and reported through expired. The caller holds db.mu.
func (cf *ColumnFamily) lookup(op string, key []byte) ([]byte, time.Duration, bool, error) {
	db := cf.db
	if len(key) > db.maxKey {
		return nil, 0, false, db.fail(ErrKeyTooLarge)
	}
	var (
		value    []byte
		expireAt int64
		hasTTL   bool
	)
	err := db.view(op, func() error {
		t, err := db.tree(cf.name)
		if err != nil {
			return err
		}
		if value, err = t.Get(key); err != nil {
			return err
		}
		expireAt, hasTTL, err = db.expiry(cf.name, key)
		return err
	})
	if err != nil {
		return nil, 0, false, err
	}
	if !hasTTL {
		return value, NoTTL, false, nil
	}
	now := nowMillis()
	if now >= expireAt {
		cf.expire(key, now)
		return nil, 0, true, nil
	}
	return value, time.Duration(expireAt-now) * time.Millisecond, false, nil
}

// expire lazily removes a key found expired. Failures are left for the next
// access or purge to deal with.
func (cf *ColumnFamily) expire(key []byte, now int64) {
	db := cf.db
	if !db.canWrite() {
		return
	}
	err := db.update("expire", func() error {
		_, err := db.removeIfDue(cf.name, key, now)
		return err
	})
	if err != nil {
		db.log.Debug("lazy expiry skipped", "err", err)
	}
}
