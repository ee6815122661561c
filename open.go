package snkv

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bretuobay/snkv/internal/btree"
	"github.com/bretuobay/snkv/internal/pager"
	"github.com/bretuobay/snkv/internal/vfs"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
)

const memoryPath = "snkv-memory.db"

// Open opens or creates a database. An empty Path opens a private
// in-memory database that disappears on Close.
func Open(opts Options) (*DB, error) {
	opts = withDefaults(opts)
	if !pager.ValidPageSize(opts.PageSize) {
		return nil, fmt.Errorf("snkv: unsupported page size %d", opts.PageSize)
	}

	fsys := vfs.OS()
	path := opts.Path
	if strings.TrimSpace(path) == "" {
		if opts.ReadOnly {
			return nil, fmt.Errorf("snkv: an in-memory database cannot be read-only")
		}
		fsys = vfs.Memory()
		path = memoryPath
	} else {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, err
		}
		path = abs
	}

	p, err := pager.Open(fsys, path, opts.pagerConfig())
	if err != nil {
		return nil, classify("open", err)
	}

	db := &DB{
		path:      path,
		opts:      opts,
		log:       opts.Logger.With("db", path),
		pager:     p,
		families:  xsync.NewMapOf[string, *ColumnFamily](),
		iterators: make(map[string]int),
		stats:     newStatsTracker(),
	}
	db.def = &ColumnFamily{db: db}
	if err := db.bootstrap(); err != nil {
		_ = p.Close()
		return nil, err
	}
	db.maxKey = btree.MaxKeySize(p.PageSize()) - ttlKeyOverhead

	if opts.Path != "" {
		register(path)
	}
	db.startPurgeWorker()
	db.log.Info("opened database",
		"journal", opts.JournalMode.String(),
		"page_size", p.PageSize(),
		"read_only", opts.ReadOnly)
	return db, nil
}

// bootstrap writes the header and the two fixed trees into a new file.
func (db *DB) bootstrap() error {
	p := db.pager
	if err := p.BeginRead(); err != nil {
		return classify("open", err)
	}
	empty := p.Empty()
	p.EndRead()
	if !empty {
		return nil
	}
	if db.opts.ReadOnly {
		return classify("open", pager.ErrNotDatabase)
	}

	if err := p.BeginWrite(); err != nil {
		return classify("open", err)
	}
	// Another connection may have initialized the file meanwhile.
	if p.Empty() {
		if err := db.initialize(); err != nil {
			_ = p.Rollback()
			return classify("open", err)
		}
	}
	if err := p.Commit(); err != nil {
		return classify("open", err)
	}
	db.log.Debug("initialized new database")
	return nil
}

func (db *DB) initialize() error {
	p := db.pager
	if err := p.Init(uuid.New()); err != nil {
		return err
	}
	def, err := btree.Create(p)
	if err != nil {
		return err
	}
	if err := p.SetDefaultRoot(def.Root()); err != nil {
		return err
	}
	cat, err := btree.Create(p)
	if err != nil {
		return err
	}
	return p.SetCatalogRoot(cat.Root())
}
