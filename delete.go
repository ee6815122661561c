package snkv

import "time"

// Delete removes a key and its expiry. It returns ErrNotFound when the key
// does not exist.
func (db *DB) Delete(key []byte) error {
	return db.def.Delete(key)
}

// Delete removes a key and its expiry. It returns ErrNotFound when the key
// does not exist.
func (cf *ColumnFamily) Delete(key []byte) error {
	db := cf.db
	db.mu.Lock()
	defer db.mu.Unlock()
	defer db.stats.write(time.Now())
	db.stats.deletes.Inc()

	if len(key) > db.maxKey {
		return db.fail(ErrKeyTooLarge)
	}
	return db.update("delete", func() error {
		return cf.deleteLocked(key)
	})
}

func (cf *ColumnFamily) deleteLocked(key []byte) error {
	db := cf.db
	t, err := db.tree(cf.name)
	if err != nil {
		return err
	}
	if err := t.Delete(key); err != nil {
		return err
	}
	return db.clearExpiry(cf.name, key)
}
