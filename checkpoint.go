package snkv

// Checkpoint copies committed WAL frames back into the database file and
// returns how many frames the log holds and how many of them are now in the
// file. PASSIVE never waits and stops at the oldest snapshot another
// connection still reads. FULL and RESTART wait up to the busy timeout for
// such readers and fail with a busy error if frames remain. TRUNCATE also
// empties the log, leaving zero frames. In rollback journal mode there is no
// log and the result is (0, 0). Inside a write transaction it fails with a
// busy error.
func (db *DB) Checkpoint(mode CheckpointMode) (int, int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return 0, 0, ErrClosed
	}
	total, copied, err := db.pager.Checkpoint(mode.pager())
	if err != nil {
		return total, copied, db.fail(classify("checkpoint", err))
	}
	db.stats.checkpoints.Inc()
	db.log.Debug("checkpoint", "mode", mode.String(), "frames", total, "copied", copied)
	return total, copied, nil
}
