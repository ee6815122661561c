package snkv

import (
	"fmt"
	"sort"

	"github.com/bretuobay/snkv/internal/btree"
)

// treeRoot names a tree and where its root page number is recorded.
type treeRoot struct {
	slot     rootSlot
	name     string
	root     uint32
	internal bool
}

type rootSlot uint8

const (
	slotRow rootSlot = iota
	slotCatalog
	slotDefault
)

// Vacuum shrinks the file by up to n pages, or by every free page when n is
// zero or less, and returns how many pages were removed. Pages in use near
// the end of the file are moved into free slots further down. Vacuum runs
// in a transaction of its own, so it fails inside an explicit transaction
// and while iterators are open. In WAL mode the file itself shrinks when
// the log is next checkpointed.
func (db *DB) Vacuum(n int) (int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return 0, ErrClosed
	}
	if db.tx != txNone {
		return 0, db.fail(ErrTxActive)
	}
	if db.liveIterators() > 0 {
		return 0, db.fail(&Error{Kind: KindBusy, Op: "vacuum", Detail: "iterators are open"})
	}
	removed := 0
	err := db.update("vacuum", func() error {
		var err error
		removed, err = db.vacuum(n)
		return err
	})
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		db.log.Info("vacuum", "path", db.path, "pages", removed)
	}
	return removed, nil
}

// vacuum does the work of Vacuum inside the write transaction.
func (db *DB) vacuum(n int) (int, error) {
	free, err := db.pager.FreePages()
	if err != nil {
		return 0, err
	}
	want := len(free)
	if n > 0 && n < want {
		want = n
	}
	if want == 0 {
		return 0, nil
	}
	count := db.pager.Header().PageCount
	newCount := count - uint32(want)

	// Free slots that survive the truncation, lowest first.
	var low []uint32
	for _, pgno := range free {
		if pgno <= newCount {
			low = append(low, pgno)
		}
	}
	sort.Slice(low, func(i, j int) bool { return low[i] < low[j] })

	roots, err := db.treeRoots()
	if err != nil {
		return 0, err
	}
	moved := make(map[uint32]uint32)
	newRoots := make(map[rootSlot]uint32)
	rowRoots := make(map[int]uint32)
	for i, tr := range roots {
		var refs []btree.Ref
		err := btree.Open(db.pager, tr.root).Walk(func(r btree.Ref) error {
			refs = append(refs, r)
			return nil
		})
		if err != nil {
			return 0, err
		}
		// Walk lists parents first, so a parent is already in place when
		// its children move.
		for _, r := range refs {
			if r.Page <= newCount {
				continue
			}
			if len(low) == 0 {
				return 0, fmt.Errorf("%w: no free slot below page %d for page %d", btree.ErrCorrupt, newCount, r.Page)
			}
			to := low[0]
			low = low[1:]
			if p, ok := moved[r.Parent]; ok {
				r.Parent = p
			}
			if err := btree.Relocate(db.pager, r, to); err != nil {
				return 0, err
			}
			moved[r.Page] = to
			if r.Parent == 0 {
				if tr.slot == slotRow {
					rowRoots[i] = to
				} else {
					newRoots[tr.slot] = to
				}
			}
		}
	}

	// The leftover low slots become the whole free list before any catalog
	// row is rewritten, so nothing can allocate a page just filled above.
	if err := db.pager.RebuildFreeList(low); err != nil {
		return 0, err
	}
	if to, ok := newRoots[slotCatalog]; ok {
		if err := db.pager.SetCatalogRoot(to); err != nil {
			return 0, err
		}
	}
	if to, ok := newRoots[slotDefault]; ok {
		if err := db.pager.SetDefaultRoot(to); err != nil {
			return 0, err
		}
	}
	for i, tr := range roots {
		to, ok := rowRoots[i]
		if !ok {
			continue
		}
		if err := db.catalog().Put([]byte(tr.name), encodeRecord(to, tr.internal)); err != nil {
			return 0, err
		}
	}
	if got := db.pager.Header().PageCount; got != count {
		return 0, fmt.Errorf("%w: file grew to %d pages while vacuuming", btree.ErrCorrupt, got)
	}
	if err := db.pager.Truncate(newCount); err != nil {
		return 0, err
	}
	return want, nil
}

// treeRoots lists every tree in the file: the catalog, the default family
// and each catalog row.
func (db *DB) treeRoots() ([]treeRoot, error) {
	h := db.pager.Header()
	roots := []treeRoot{
		{slot: slotCatalog, root: h.CatalogRoot},
		{slot: slotDefault, root: h.DefaultRoot},
	}
	recs, err := db.records()
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		roots = append(roots, treeRoot{slot: slotRow, name: rec.name, root: rec.root, internal: rec.internal})
	}
	return roots, nil
}
