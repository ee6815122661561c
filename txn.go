package snkv

import (
	"github.com/bretuobay/snkv/internal/pager"
)

// Begin opens an explicit transaction. A read transaction pins a snapshot
// until Commit or Rollback; a write transaction takes the writer lock.
// Operations called while a transaction is open join it instead of
// committing on their own.
func (db *DB) Begin(write bool) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}
	if db.tx != txNone {
		return ErrTxActive
	}
	if !write {
		if err := db.pager.BeginRead(); err != nil {
			return db.fail(classify("begin", err))
		}
		db.tx = txRead
		return nil
	}
	if db.opts.ReadOnly {
		return db.fail(&Error{Kind: KindReadOnly, Op: "begin", Detail: "database opened read-only"})
	}
	if err := db.pager.BeginWrite(); err != nil {
		return db.fail(classify("begin", err))
	}
	db.tx = txWrite
	return nil
}

// Commit ends the open transaction, making the writes of a write
// transaction durable and visible to other connections.
func (db *DB) Commit() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}
	switch db.tx {
	case txRead:
		db.pager.EndRead()
	case txWrite:
		db.tx = txNone
		if err := db.pager.Commit(); err != nil {
			return db.fail(classify("commit", err))
		}
		db.afterCommit()
	default:
		return ErrNoTx
	}
	db.tx = txNone
	return nil
}

// Rollback ends the open transaction, discarding every write made in it.
func (db *DB) Rollback() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}
	switch db.tx {
	case txRead:
		db.pager.EndRead()
	case txWrite:
		if err := db.pager.Rollback(); err != nil {
			db.tx = txNone
			return db.fail(classify("rollback", err))
		}
	default:
		return ErrNoTx
	}
	db.tx = txNone
	return nil
}

// InTransaction reports whether an explicit transaction is open.
func (db *DB) InTransaction() bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.tx != txNone
}

// view runs fn against a consistent snapshot, joining the open transaction
// if there is one. The caller holds db.mu.
func (db *DB) view(op string, fn func() error) error {
	if db.closed {
		return ErrClosed
	}
	if db.tx == txNone {
		if err := db.pager.BeginRead(); err != nil {
			return db.fail(classify(op, err))
		}
		defer db.pager.EndRead()
	}
	return db.fail(classify(op, fn()))
}

// update runs fn inside the open write transaction, or inside one of its own
// that commits when fn succeeds and rolls back when it fails. A failure
// inside an explicit transaction leaves that transaction open. The caller
// holds db.mu.
func (db *DB) update(op string, fn func() error) error {
	if db.closed {
		return ErrClosed
	}
	if db.opts.ReadOnly {
		return db.fail(&Error{Kind: KindReadOnly, Op: op, Detail: "database opened read-only"})
	}
	switch db.tx {
	case txRead:
		return db.fail(&Error{Kind: KindReadOnly, Op: op, Detail: "write inside a read transaction"})
	case txWrite:
		return db.fail(classify(op, fn()))
	}
	if err := db.pager.BeginWrite(); err != nil {
		return db.fail(classify(op, err))
	}
	if err := fn(); err != nil {
		_ = db.pager.Rollback()
		return db.fail(classify(op, err))
	}
	if err := db.pager.Commit(); err != nil {
		return db.fail(classify(op, err))
	}
	db.afterCommit()
	return nil
}

// canWrite reports whether a write could run now without failing for
// read-only reasons.
func (db *DB) canWrite() bool {
	return !db.opts.ReadOnly && db.tx != txRead
}

// afterCommit runs the automatic checkpoint policy.
func (db *DB) afterCommit() {
	if db.opts.WALSizeLimit <= 0 || db.pager.Mode() != pager.JournalWAL {
		return
	}
	db.commits++
	if db.commits < db.opts.WALSizeLimit {
		return
	}
	db.commits = 0
	total, copied, err := db.pager.Checkpoint(pager.CheckpointPassive)
	if err != nil {
		db.log.Warn("auto-checkpoint failed", "err", err)
		return
	}
	db.stats.checkpoints.Inc()
	db.log.Debug("auto-checkpoint", "frames", total, "copied", copied)
}

// fail counts err in the error statistics and returns it. Not-found results
// are normal answers and are not counted.
func (db *DB) fail(err error) error {
	if err != nil && KindOf(err) != KindNotFound {
		db.stats.errors.Inc()
	}
	return err
}
