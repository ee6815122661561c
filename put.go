package snkv

import "time"

// Put stores a key-value pair. Any expiry the key had is removed.
func (db *DB) Put(key, value []byte) error {
	return db.def.Put(key, value)
}

// Put stores a key-value pair. Any expiry the key had is removed.
func (cf *ColumnFamily) Put(key, value []byte) error {
	return cf.put("put", key, value, 0, false)
}

func (cf *ColumnFamily) put(op string, key, value []byte, expireAt int64, withTTL bool) error {
	db := cf.db
	db.mu.Lock()
	defer db.mu.Unlock()
	defer db.stats.write(time.Now())
	db.stats.puts.Inc()

	if err := db.checkEntry(key, value); err != nil {
		return db.fail(err)
	}
	return db.update(op, func() error {
		return cf.putLocked(key, value, expireAt, withTTL)
	})
}

// putLocked writes the value and brings the expiry record in line with it.
// The caller holds a write transaction.
func (cf *ColumnFamily) putLocked(key, value []byte, expireAt int64, withTTL bool) error {
	db := cf.db
	t, err := db.tree(cf.name)
	if err != nil {
		return err
	}
	if err := t.Put(key, value); err != nil {
		return err
	}
	if withTTL {
		return db.setExpiry(cf.name, key, expireAt)
	}
	return db.clearExpiry(cf.name, key)
}

func (db *DB) checkEntry(key, value []byte) error {
	if len(key) > db.maxKey {
		return ErrKeyTooLarge
	}
	if len(value) > db.opts.MaxValueSize {
		return ErrValueTooLarge
	}
	return nil
}
