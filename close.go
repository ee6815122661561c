package snkv

// Close rolls back any open transaction and releases the database. The last
// connection to a WAL-mode file checkpoints it and removes the -wal and -shm
// files.
func (db *DB) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	db.mu.Unlock()

	db.stopWorkers()

	db.mu.Lock()
	defer db.mu.Unlock()
	if db.tx == txWrite {
		db.log.Warn("closing with an open write transaction, rolling back")
	}
	db.tx = txNone
	db.iterators = make(map[string]int)
	err := db.pager.Close()
	if db.opts.Path != "" {
		unregister(db.path)
	}
	db.log.Info("closed database")
	return classify("close", err)
}

// abandon releases the connection without rolling back, checkpointing or
// cleaning up, leaving the files as a crashed process would.
func (db *DB) abandon() {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return
	}
	db.closed = true
	db.mu.Unlock()
	db.stopWorkers()
	db.pager.Abandon()
	if db.opts.Path != "" {
		unregister(db.path)
	}
}
