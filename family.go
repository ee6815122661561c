package snkv

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/bretuobay/snkv/internal/btree"
)

const (
	reservedPrefix = "__"
	ttlPrefix      = "__snkv_ttl__"
	maxFamilyName  = 64

	flagInternal byte = 0x01
)

// ColumnFamily is a handle on one namespace of keys. Handles are cheap and
// stay usable until the family is dropped, after which every call fails
// with a not-found error.
type ColumnFamily struct {
	db   *DB
	name string
}

// Name returns the family name; the default family is "".
func (cf *ColumnFamily) Name() string { return cf.name }

type familyRecord struct {
	name     string
	root     uint32
	internal bool
}

func encodeRecord(root uint32, internal bool) []byte {
	buf := make([]byte, 5)
	if internal {
		buf[0] = flagInternal
	}
	binary.BigEndian.PutUint32(buf[1:], root)
	return buf
}

func decodeRecord(name string, v []byte) (familyRecord, error) {
	if len(v) != 5 {
		return familyRecord{}, fmt.Errorf("%w: catalog row %q has %d bytes", btree.ErrCorrupt, name, len(v))
	}
	return familyRecord{
		name:     name,
		root:     binary.BigEndian.Uint32(v[1:]),
		internal: v[0]&flagInternal != 0,
	}, nil
}

func validName(name string) error {
	switch {
	case name == "" || len(name) > maxFamilyName:
		return ErrInvalidName
	case strings.HasPrefix(name, reservedPrefix):
		return ErrReservedName
	}
	return nil
}

func missingFamily(op, name string) error {
	return &Error{Kind: KindNotFound, Op: op, Detail: fmt.Sprintf("column family %q does not exist", name)}
}

func (db *DB) catalog() *btree.Tree {
	return btree.Open(db.pager, db.pager.Header().CatalogRoot)
}

// record looks name up in the catalog. The caller holds a transaction.
func (db *DB) record(name string) (familyRecord, bool, error) {
	v, err := db.catalog().Get([]byte(name))
	if errors.Is(err, btree.ErrNotFound) {
		return familyRecord{}, false, nil
	}
	if err != nil {
		return familyRecord{}, false, err
	}
	rec, err := decodeRecord(name, v)
	return rec, err == nil, err
}

// tree opens the tree of a family; "" is the default family.
func (db *DB) tree(name string) (*btree.Tree, error) {
	if name == "" {
		return btree.Open(db.pager, db.pager.Header().DefaultRoot), nil
	}
	rec, ok, err := db.record(name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, missingFamily("", name)
	}
	return btree.Open(db.pager, rec.root), nil
}

func (db *DB) createFamily(name string, internal bool) (*btree.Tree, error) {
	t, err := btree.Create(db.pager)
	if err != nil {
		return nil, err
	}
	if err := db.catalog().Put([]byte(name), encodeRecord(t.Root(), internal)); err != nil {
		return nil, err
	}
	return t, nil
}

// dropFamily frees every page of name and removes its catalog row. A
// missing family is not an error.
func (db *DB) dropFamily(name string) error {
	rec, ok, err := db.record(name)
	if err != nil || !ok {
		return err
	}
	if err := btree.Open(db.pager, rec.root).Drop(); err != nil {
		return err
	}
	return db.catalog().Delete([]byte(name))
}

// records lists every catalog row in name order.
func (db *DB) records() ([]familyRecord, error) {
	var out []familyRecord
	c := db.catalog().Cursor()
	if err := c.First(); err != nil {
		return nil, err
	}
	for c.Valid() {
		v, err := c.Value()
		if err != nil {
			return nil, err
		}
		rec, err := decodeRecord(string(c.Key()), v)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
		if err := c.Next(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (db *DB) handle(name string) *ColumnFamily {
	if name == "" {
		return db.def
	}
	cf, _ := db.families.LoadOrCompute(name, func() *ColumnFamily {
		return &ColumnFamily{db: db, name: name}
	})
	return cf
}

// DefaultColumnFamily returns the handle of the unnamed family the DB
// methods operate on.
func (db *DB) DefaultColumnFamily() *ColumnFamily {
	return db.def
}

// CreateColumnFamily creates a new, empty family.
func (db *DB) CreateColumnFamily(name string) (*ColumnFamily, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	err := db.update("create column family", func() error {
		_, exists, err := db.record(name)
		if err != nil {
			return err
		}
		if exists {
			return ErrExists
		}
		_, err = db.createFamily(name, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	db.log.Debug("created column family", "name", name)
	return db.handle(name), nil
}

// OpenColumnFamily returns a handle on an existing family. Internal
// families cannot be opened.
func (db *DB) OpenColumnFamily(name string) (*ColumnFamily, error) {
	if name == "" {
		return db.def, nil
	}
	if strings.HasPrefix(name, reservedPrefix) {
		return nil, missingFamily("open column family", name)
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	err := db.view("open column family", func() error {
		rec, ok, err := db.record(name)
		if err != nil {
			return err
		}
		if !ok || rec.internal {
			return missingFamily("open column family", name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return db.handle(name), nil
}

// ListColumnFamilies returns the names of the user-visible families in
// ascending order. The default family is not listed.
func (db *DB) ListColumnFamilies() ([]string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var names []string
	err := db.view("list column families", func() error {
		recs, err := db.records()
		if err != nil {
			return err
		}
		for _, rec := range recs {
			if !rec.internal {
				names = append(names, rec.name)
			}
		}
		return nil
	})
	return names, err
}

// DropColumnFamily deletes a family with all its keys and expiry records
// and frees their pages, in one transaction.
func (db *DB) DropColumnFamily(name string) error {
	if name == "" {
		return ErrDefaultFamily
	}
	if strings.HasPrefix(name, reservedPrefix) {
		return missingFamily("drop column family", name)
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.iterators[name] > 0 {
		return db.fail(ErrIteratorsOpen)
	}
	err := db.update("drop column family", func() error {
		rec, ok, err := db.record(name)
		if err != nil {
			return err
		}
		if !ok || rec.internal {
			return missingFamily("drop column family", name)
		}
		if err := db.dropFamily(name); err != nil {
			return err
		}
		return db.dropFamily(ttlPrefix + name)
	})
	if err != nil {
		return err
	}
	db.families.Delete(name)
	db.log.Debug("dropped column family", "name", name)
	return nil
}
