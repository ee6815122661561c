// Package snkv is an embedded, crash-safe, transactional key-value store
// kept in a single file.
//
// Keys and values are byte slices ordered bytewise. A database holds a
// default column family plus any number of named ones, each an independent
// ordered namespace. Keys may carry an expiry time. Commits go through a
// write-ahead log (the default) or a rollback journal, so a crash never
// leaves a transaction half applied.
//
// A DB value is one connection. Its methods may be called from several
// goroutines but run one at a time. Several connections, in one process or
// many, may open the same file.
package snkv

import (
	"log/slog"
	"sync"
	"time"

	"github.com/bretuobay/snkv/internal/pager"
	"github.com/puzpuzpuz/xsync/v3"
)

type txState uint8

const (
	txNone txState = iota
	txRead
	txWrite
)

// DB is the main database handle.
type DB struct {
	mu       sync.Mutex
	path     string
	opts     Options
	log      *slog.Logger
	pager    *pager.Pager
	tx       txState
	def      *ColumnFamily
	families *xsync.MapOf[string, *ColumnFamily]
	// live iterators per column family name
	iterators   map[string]int
	maxKey      int
	commits     int
	stats       *statsTracker
	purgeTicker *time.Ticker
	stopCh      chan struct{}
	wg          sync.WaitGroup
	closed      bool
}

// Path returns the database file path, or "" for an in-memory database.
func (db *DB) Path() string {
	if db.opts.Path == "" {
		return ""
	}
	return db.path
}

// Options returns the options the database was opened with.
func (db *DB) Options() Options {
	return db.opts
}

// MaxKeySize is the longest key this database accepts. It depends on the
// page size the file was created with.
func (db *DB) MaxKeySize() int {
	return db.maxKey
}

func (db *DB) liveIterators() int {
	n := 0
	for _, c := range db.iterators {
		n += c
	}
	return n
}
