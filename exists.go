package snkv

import "time"

// Exists reports whether a key exists and is not expired.
func (db *DB) Exists(key []byte) (bool, error) {
	return db.def.Exists(key)
}

// Exists reports whether a key exists and is not expired.
func (cf *ColumnFamily) Exists(key []byte) (bool, error) {
	db := cf.db
	db.mu.Lock()
	defer db.mu.Unlock()
	defer db.stats.read(time.Now())
	db.stats.gets.Inc()

	if len(key) > db.maxKey {
		return false, db.fail(ErrKeyTooLarge)
	}
	found := false
	err := db.view("exists", func() error {
		t, err := db.tree(cf.name)
		if err != nil {
			return err
		}
		if _, err := t.Get(key); err != nil {
			return err
		}
		exp, ok, err := db.expiry(cf.name, key)
		if err != nil {
			return err
		}
		found = !ok || nowMillis() < exp
		return nil
	})
	// Only a missing key is an answer; a dropped family stays an error.
	if err == ErrNotFound {
		return false, nil
	}
	return found, err
}
