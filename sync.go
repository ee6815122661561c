package snkv

// Sync flushes the database and log files to stable storage. It is only
// needed with SyncOff, or to push a WAL commit made under SyncNormal to
// disk before the next checkpoint.
func (db *DB) Sync() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}
	return db.fail(classify("sync", db.pager.Sync()))
}
