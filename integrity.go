package snkv

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/bretuobay/snkv/internal/btree"
)

// maxProblems caps the report of a badly damaged file.
const maxProblems = 100

// IntegrityCheck verifies the whole file: the header, the free list, the
// catalog, every family tree and the consistency of expiry records with the
// keys they belong to. It returns nil for a healthy file and otherwise an
// error of kind Corrupt listing what is wrong. Nothing is repaired.
func (db *DB) IntegrityCheck() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	var problems []string
	err := db.view("integrity check", func() error {
		problems = db.checkFile()
		return nil
	})
	if err != nil {
		return err
	}
	if len(problems) == 0 {
		return nil
	}
	if len(problems) > maxProblems {
		problems = append(problems[:maxProblems], fmt.Sprintf("and %d more", len(problems)-maxProblems))
	}
	db.log.Warn("integrity check failed", "path", db.path, "problems", len(problems))
	return db.fail(&Error{Kind: KindCorrupt, Op: "integrity check", Detail: strings.Join(problems, "; ")})
}

// checkFile collects every problem found. The caller holds a transaction.
func (db *DB) checkFile() []string {
	var problems []string
	report := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}
	h := db.pager.Header()
	owner := map[uint32]string{1: "header"}
	claimer := func(what string) func(uint32) string {
		return func(pgno uint32) string {
			if pgno < 2 || pgno > h.PageCount {
				return fmt.Sprintf("referenced by %s but outside the file", what)
			}
			if prev, ok := owner[pgno]; ok {
				return fmt.Sprintf("used by %s and %s", prev, what)
			}
			owner[pgno] = what
			return ""
		}
	}

	free, err := db.pager.FreePages()
	if err != nil {
		report("free list: %v", err)
	}
	claimFree := claimer("the free list")
	for _, pgno := range free {
		if msg := claimFree(pgno); msg != "" {
			report("page %d: %s", pgno, msg)
		}
	}

	roots, err := db.treeRoots()
	if err != nil {
		report("catalog: %v", err)
		roots = []treeRoot{
			{slot: slotCatalog, root: h.CatalogRoot},
			{slot: slotDefault, root: h.DefaultRoot},
		}
	}
	names := make(map[string]bool)
	for _, tr := range roots {
		label := familyLabel(tr)
		if tr.slot == slotRow {
			names[tr.name] = true
		}
		for _, p := range btree.Open(db.pager, tr.root).Check(claimer(label)) {
			report("%s: %s", label, p)
		}
	}

	for _, tr := range roots {
		if tr.slot != slotRow || !tr.internal {
			continue
		}
		family, ok := strings.CutPrefix(tr.name, ttlPrefix)
		if !ok {
			report("%s: internal family of unknown purpose", familyLabel(tr))
			continue
		}
		if family != "" && !names[family] {
			report("%s: expiry index of a missing family", familyLabel(tr))
			continue
		}
		problems = append(problems, db.checkExpiry(family, tr.root)...)
	}

	for pgno := uint32(2); pgno <= h.PageCount; pgno++ {
		if _, ok := owner[pgno]; !ok {
			report("page %d: not used by any tree or the free list", pgno)
		}
	}
	return problems
}

// checkExpiry verifies that the expiry index of family pairs every key row
// with its index row and only covers keys that exist.
func (db *DB) checkExpiry(family string, root uint32) []string {
	var problems []string
	label := "expiry index of " + displayName(family)
	report := func(format string, args ...any) {
		problems = append(problems, label+": "+fmt.Sprintf(format, args...))
	}
	t, err := db.tree(family)
	if err != nil {
		report("%v", err)
		return problems
	}
	tt := btree.Open(db.pager, root)
	c := tt.Cursor()
	if err := c.First(); err != nil {
		report("%v", err)
		return problems
	}
	for c.Valid() {
		k := c.Key()
		switch {
		case len(k) > 0 && k[0] == 'k':
			key := k[1:]
			v, err := c.Value()
			if err != nil {
				report("key %q: %v", key, err)
				break
			}
			if len(v) != 8 {
				report("key %q: expiry of %d bytes", key, len(v))
				break
			}
			exp := int64(binary.BigEndian.Uint64(v))
			if _, err := tt.Get(indexKey(exp, key)); err != nil {
				report("key %q: no index row for its expiry", key)
			}
			if _, err := t.Get(key); err != nil {
				report("key %q: expiry recorded for a missing key", key)
			}
		case len(k) > 0 && k[0] == 'e':
			exp, key, ok := parseIndexKey(k)
			if !ok {
				report("malformed index row %q", k)
				break
			}
			v, err := tt.Get(expiryKey(key))
			if err != nil || len(v) != 8 || int64(binary.BigEndian.Uint64(v)) != exp {
				report("key %q: index row does not match its expiry", key)
			}
		default:
			report("unexpected row %q", bytes.Clone(k))
		}
		if err := c.Next(); err != nil {
			report("%v", err)
			break
		}
	}
	return problems
}

func familyLabel(tr treeRoot) string {
	switch tr.slot {
	case slotCatalog:
		return "catalog"
	case slotDefault:
		return "default family"
	}
	return displayName(tr.name)
}

func displayName(name string) string {
	if name == "" {
		return "default family"
	}
	return fmt.Sprintf("family %q", name)
}
