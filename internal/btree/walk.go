package btree

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Ref says who points at a page. Parent is zero for a root page. For the
// pages of an overflow chain the parent is the leaf holding the cell or the
// previous page of the chain.
type Ref struct {
	Page   uint32
	Parent uint32
	Kind   byte
}

// Walk calls fn for every page of the tree, parents before children.
func (t *Tree) Walk(fn func(Ref) error) error {
	return t.walk(t.root, 0, 0, fn)
}

func (t *Tree) walk(pgno, parent uint32, depth int, fn func(Ref) error) error {
	if depth > maxDepth {
		return corrupt(pgno, "tree deeper than %d levels", maxDepth)
	}
	n, err := t.load(pgno)
	if err != nil {
		return err
	}
	kind := KindInterior
	if n.leaf {
		kind = KindLeaf
	}
	if err := fn(Ref{Page: pgno, Parent: parent, Kind: kind}); err != nil {
		return err
	}
	if !n.leaf {
		for i := 0; i <= len(n.cells); i++ {
			if err := t.walk(n.child(i), pgno, depth+1, fn); err != nil {
				return err
			}
		}
		return nil
	}
	for _, c := range n.cells {
		if c.overflow == 0 {
			continue
		}
		prev, ov := pgno, c.overflow
		for i := t.overflowPages(c.valueLen); i > 0; i-- {
			if ov == 0 {
				return corrupt(pgno, "overflow chain ends early")
			}
			data, err := t.store.Read(ov)
			if err != nil {
				return err
			}
			if data[0] != KindOverflow {
				return corrupt(ov, "expected overflow page, found kind 0x%02x", data[0])
			}
			if err := fn(Ref{Page: ov, Parent: prev, Kind: KindOverflow}); err != nil {
				return err
			}
			prev, ov = ov, binary.BigEndian.Uint32(data[4:8])
		}
	}
	return nil
}

// Check verifies the structure of the tree: page kinds, key order, key
// bounds inherited from parents, uniform leaf depth and overflow chain
// lengths. claim is called once per page and returns a description when the
// page may not belong to this tree.
func (t *Tree) Check(claim func(pgno uint32) string) []string {
	ck := &checker{t: t, claim: claim, leafDepth: -1}
	ck.node(t.root, nil, nil, 0)
	return ck.problems
}

type checker struct {
	t         *Tree
	claim     func(uint32) string
	leafDepth int
	problems  []string
}

func (ck *checker) report(pgno uint32, format string, args ...any) {
	ck.problems = append(ck.problems, fmt.Sprintf("page %d: %s", pgno, fmt.Sprintf(format, args...)))
}

func (ck *checker) read(pgno uint32) ([]byte, bool) {
	if msg := ck.claim(pgno); msg != "" {
		ck.report(pgno, "%s", msg)
		return nil, false
	}
	data, err := ck.t.store.Read(pgno)
	if err != nil {
		ck.report(pgno, "unreadable: %v", err)
		return nil, false
	}
	return data, true
}

func (ck *checker) node(pgno uint32, lo, hi []byte, depth int) {
	if depth > maxDepth {
		ck.report(pgno, "tree deeper than %d levels", maxDepth)
		return
	}
	data, ok := ck.read(pgno)
	if !ok {
		return
	}
	n, err := decode(pgno, data)
	if err != nil {
		ck.report(pgno, "%v", err)
		return
	}
	maxKey := MaxKeySize(ck.t.store.PageSize())
	for i, c := range n.cells {
		if len(c.key) > maxKey {
			ck.report(pgno, "cell %d key of %d bytes exceeds %d", i, len(c.key), maxKey)
		}
		if i > 0 && bytes.Compare(n.cells[i-1].key, c.key) >= 0 {
			ck.report(pgno, "cell %d key out of order", i)
		}
		if lo != nil && bytes.Compare(c.key, lo) < 0 {
			ck.report(pgno, "cell %d key below parent bound", i)
		}
		if hi != nil && bytes.Compare(c.key, hi) >= 0 {
			ck.report(pgno, "cell %d key not below parent bound", i)
		}
	}
	if n.leaf {
		if ck.leafDepth < 0 {
			ck.leafDepth = depth
		} else if ck.leafDepth != depth {
			ck.report(pgno, "leaf at depth %d, expected %d", depth, ck.leafDepth)
		}
		for i, c := range n.cells {
			if c.overflow != 0 {
				ck.chain(pgno, i, c)
			}
		}
		return
	}
	for i := 0; i <= len(n.cells); i++ {
		clo, chi := lo, hi
		if i > 0 {
			clo = n.cells[i-1].key
		}
		if i < len(n.cells) {
			chi = n.cells[i].key
		}
		ck.node(n.child(i), clo, chi, depth+1)
	}
}

func (ck *checker) chain(leaf uint32, idx int, c cell) {
	pgno := c.overflow
	for i := ck.t.overflowPages(c.valueLen); i > 0; i-- {
		if pgno == 0 {
			ck.report(leaf, "cell %d overflow chain is %d pages short", idx, i)
			return
		}
		data, ok := ck.read(pgno)
		if !ok {
			return
		}
		if data[0] != KindOverflow {
			ck.report(pgno, "expected overflow page, found kind 0x%02x", data[0])
			return
		}
		pgno = binary.BigEndian.Uint32(data[4:8])
	}
	if pgno != 0 {
		ck.report(leaf, "cell %d overflow chain is longer than its value", idx)
	}
}

// Relocate copies page ref.Page to page to and repoints the reference held
// by ref.Parent. Root pages have no parent here; the caller records their
// new location. The old page is left untouched.
func Relocate(store Store, ref Ref, to uint32) error {
	data, err := store.Read(ref.Page)
	if err != nil {
		return err
	}
	if err := store.Write(to, data); err != nil {
		return err
	}
	if ref.Parent == 0 {
		return nil
	}
	pdata, err := store.Read(ref.Parent)
	if err != nil {
		return err
	}
	replaced := false
	switch pdata[0] {
	case KindInterior:
		n, err := decode(ref.Parent, pdata)
		if err != nil {
			return err
		}
		for i := 0; i <= len(n.cells); i++ {
			if n.child(i) == ref.Page {
				n.setChild(i, to)
				replaced = true
			}
		}
		if replaced {
			buf, err := n.encode(store.PageSize())
			if err != nil {
				return err
			}
			return store.Write(ref.Parent, buf)
		}
	case KindLeaf:
		n, err := decode(ref.Parent, pdata)
		if err != nil {
			return err
		}
		for i := range n.cells {
			if n.cells[i].overflow == ref.Page {
				n.cells[i].overflow = to
				replaced = true
			}
		}
		if replaced {
			buf, err := n.encode(store.PageSize())
			if err != nil {
				return err
			}
			return store.Write(ref.Parent, buf)
		}
	case KindOverflow:
		if binary.BigEndian.Uint32(pdata[4:8]) == ref.Page {
			buf := append([]byte{}, pdata...)
			binary.BigEndian.PutUint32(buf[4:8], to)
			return store.Write(ref.Parent, buf)
		}
	}
	return corrupt(ref.Parent, "no reference to page %d", ref.Page)
}
