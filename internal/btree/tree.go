// Package btree stores ordered byte keys and values in a B+tree of fixed-size
// pages. Values too large for a leaf cell spill into overflow chains.
package btree

import (
	"encoding/binary"
	"errors"
)

const maxDepth = 40

var (
	ErrNotFound    = errors.New("btree: key not found")
	ErrCorrupt     = errors.New("btree: corrupt tree")
	ErrKeyTooLarge = errors.New("btree: key too large")
)

// Store is the page source a tree lives in. Pages returned by Read must not
// be modified; Write copies.
type Store interface {
	PageSize() int
	Read(pgno uint32) ([]byte, error)
	Write(pgno uint32, data []byte) error
	Alloc() (uint32, error)
	Free(pgno uint32) error
	Version() uint64
}

// Tree is a handle on the tree rooted at one page. The root page number
// never changes while the tree exists.
type Tree struct {
	store Store
	root  uint32
}

type split struct {
	key   []byte
	right uint32
}

// Open returns a handle on an existing tree.
func Open(store Store, root uint32) *Tree {
	return &Tree{store: store, root: root}
}

// Create allocates an empty tree.
func Create(store Store) (*Tree, error) {
	pgno, err := store.Alloc()
	if err != nil {
		return nil, err
	}
	t := &Tree{store: store, root: pgno}
	if err := t.write(&node{pgno: pgno, leaf: true}); err != nil {
		return nil, err
	}
	return t, nil
}

// Root returns the root page number.
func (t *Tree) Root() uint32 { return t.root }

func (t *Tree) load(pgno uint32) (*node, error) {
	data, err := t.store.Read(pgno)
	if err != nil {
		return nil, err
	}
	return decode(pgno, data)
}

func (t *Tree) write(n *node) error {
	buf, err := n.encode(t.store.PageSize())
	if err != nil {
		return err
	}
	return t.store.Write(n.pgno, buf)
}

// Get returns the value stored under key.
func (t *Tree) Get(key []byte) ([]byte, error) {
	pgno := t.root
	for depth := 0; depth <= maxDepth; depth++ {
		n, err := t.load(pgno)
		if err != nil {
			return nil, err
		}
		if n.leaf {
			i, found := n.search(key)
			if !found {
				return nil, ErrNotFound
			}
			return t.value(n.cells[i])
		}
		pgno = n.child(n.childIndex(key))
	}
	return nil, corrupt(t.root, "tree deeper than %d levels", maxDepth)
}

// Put inserts or replaces key.
func (t *Tree) Put(key, value []byte) error {
	if len(key) > MaxKeySize(t.store.PageSize()) {
		return ErrKeyTooLarge
	}
	key = append([]byte{}, key...)
	value = append([]byte{}, value...)
	_, err := t.insert(t.root, key, value, 0)
	return err
}

func (t *Tree) insert(pgno uint32, key, value []byte, depth int) (*split, error) {
	if depth > maxDepth {
		return nil, corrupt(pgno, "tree deeper than %d levels", maxDepth)
	}
	n, err := t.load(pgno)
	if err != nil {
		return nil, err
	}
	if n.leaf {
		c, err := t.leafCell(key, value)
		if err != nil {
			return nil, err
		}
		i, found := n.search(key)
		if found {
			if old := n.cells[i]; old.overflow != 0 {
				if err := t.freeOverflow(old.overflow, old.valueLen); err != nil {
					return nil, err
				}
			}
			n.cells[i] = c
		} else {
			n.insertCell(i, c)
		}
		return t.save(n)
	}
	idx := n.childIndex(key)
	sp, err := t.insert(n.child(idx), key, value, depth+1)
	if err != nil || sp == nil {
		return nil, err
	}
	n.addSeparator(idx, sp)
	return t.save(n)
}

// addSeparator records that child idx split at sp.key into itself and
// sp.right.
func (n *node) addSeparator(idx int, sp *split) {
	left := n.child(idx)
	n.insertCell(idx, cell{key: sp.key, child: left})
	n.setChild(idx+1, sp.right)
}

// save writes n, splitting it when it no longer fits a page. A split root
// keeps its page number and gains two children.
func (t *Tree) save(n *node) (*split, error) {
	ps := t.store.PageSize()
	if n.size() <= ps {
		return nil, t.write(n)
	}
	left, right, sep := divide(n, n.cells)
	if n.pgno == t.root {
		lp, err := t.store.Alloc()
		if err != nil {
			return nil, err
		}
		rp, err := t.store.Alloc()
		if err != nil {
			return nil, err
		}
		left.pgno, right.pgno = lp, rp
		if err := t.write(left); err != nil {
			return nil, err
		}
		if err := t.write(right); err != nil {
			return nil, err
		}
		return nil, t.write(&node{pgno: t.root, cells: []cell{{key: sep, child: lp}}, right: rp})
	}
	rp, err := t.store.Alloc()
	if err != nil {
		return nil, err
	}
	left.pgno, right.pgno = n.pgno, rp
	if err := t.write(left); err != nil {
		return nil, err
	}
	if err := t.write(right); err != nil {
		return nil, err
	}
	return &split{key: sep, right: rp}, nil
}

// divide splits cells, which belong to a node shaped like n, into two halves
// of roughly equal byte size. For interior nodes the middle cell moves up
// as the separator.
func divide(n *node, cells []cell) (*node, *node, []byte) {
	total := 0
	for _, c := range cells {
		total += c.size(n.leaf)
	}
	m, acc := 0, 0
	for i, c := range cells {
		if acc+c.size(n.leaf) > total/2 {
			m = i
			break
		}
		acc += c.size(n.leaf)
	}
	if n.leaf {
		m = max(1, min(m, len(cells)-1))
		left := &node{leaf: true, cells: append([]cell(nil), cells[:m]...)}
		right := &node{leaf: true, cells: append([]cell(nil), cells[m:]...)}
		return left, right, right.cells[0].key
	}
	m = max(1, min(m, len(cells)-2))
	left := &node{cells: append([]cell(nil), cells[:m]...), right: cells[m].child}
	right := &node{cells: append([]cell(nil), cells[m+1:]...), right: n.right}
	return left, right, cells[m].key
}

// Delete removes key, returning ErrNotFound when it is absent.
func (t *Tree) Delete(key []byte) error {
	found, _, err := t.remove(t.root, key, 0)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	return t.collapseRoot()
}

func (t *Tree) remove(pgno uint32, key []byte, depth int) (bool, *split, error) {
	if depth > maxDepth {
		return false, nil, corrupt(pgno, "tree deeper than %d levels", maxDepth)
	}
	n, err := t.load(pgno)
	if err != nil {
		return false, nil, err
	}
	if n.leaf {
		i, found := n.search(key)
		if !found {
			return false, nil, nil
		}
		if c := n.cells[i]; c.overflow != 0 {
			if err := t.freeOverflow(c.overflow, c.valueLen); err != nil {
				return false, nil, err
			}
		}
		n.removeCell(i)
		sp, err := t.save(n)
		return true, sp, err
	}
	idx := n.childIndex(key)
	found, sp, err := t.remove(n.child(idx), key, depth+1)
	if err != nil || !found {
		return found, nil, err
	}
	changed := sp != nil
	if sp != nil {
		n.addSeparator(idx, sp)
	} else if changed, err = t.rebalance(n, idx); err != nil {
		return true, nil, err
	}
	if !changed {
		return true, nil, nil
	}
	sp, err = t.save(n)
	return true, sp, err
}

// rebalance fixes child idx of n when it has become too small, merging it
// with a sibling or sharing cells with one. It reports whether n changed.
func (t *Tree) rebalance(n *node, idx int) (bool, error) {
	if len(n.cells) == 0 {
		return false, nil
	}
	ps := t.store.PageSize()
	child, err := t.load(n.child(idx))
	if err != nil {
		return false, err
	}
	if len(child.cells) > 0 && child.size() >= ps/4 {
		return false, nil
	}
	li := idx
	if li == len(n.cells) {
		li--
	}
	left, right := child, (*node)(nil)
	if li != idx {
		if left, err = t.load(n.child(li)); err != nil {
			return false, err
		}
		right = child
	} else if right, err = t.load(n.child(li + 1)); err != nil {
		return false, err
	}
	if left.leaf != right.leaf {
		return false, corrupt(n.pgno, "children %d and %d differ in kind", left.pgno, right.pgno)
	}

	all := make([]cell, 0, len(left.cells)+len(right.cells)+1)
	all = append(all, left.cells...)
	if !left.leaf {
		all = append(all, cell{key: n.cells[li].key, child: left.right})
	}
	all = append(all, right.cells...)
	merged := &node{pgno: left.pgno, leaf: left.leaf, cells: all, right: right.right}

	if merged.size() <= ps {
		if err := t.write(merged); err != nil {
			return false, err
		}
		if err := t.store.Free(right.pgno); err != nil {
			return false, err
		}
		n.removeCell(li)
		n.setChild(li, left.pgno)
		return true, nil
	}

	newLeft, newRight, sep := divide(merged, all)
	newLeft.pgno, newRight.pgno = left.pgno, right.pgno
	if err := t.write(newLeft); err != nil {
		return false, err
	}
	if err := t.write(newRight); err != nil {
		return false, err
	}
	n.cells[li].key = sep
	return true, nil
}

// collapseRoot pulls the only child of an empty interior root up into the
// root page.
func (t *Tree) collapseRoot() error {
	for {
		n, err := t.load(t.root)
		if err != nil {
			return err
		}
		if n.leaf || len(n.cells) > 0 {
			return nil
		}
		child, err := t.load(n.right)
		if err != nil {
			return err
		}
		old := child.pgno
		child.pgno = t.root
		if err := t.write(child); err != nil {
			return err
		}
		if err := t.store.Free(old); err != nil {
			return err
		}
	}
}

// Drop frees every page of the tree, the root included.
func (t *Tree) Drop() error {
	var pages []uint32
	if err := t.Walk(func(r Ref) error {
		pages = append(pages, r.Page)
		return nil
	}); err != nil {
		return err
	}
	for _, pgno := range pages {
		if err := t.store.Free(pgno); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tree) leafCell(key, value []byte) (cell, error) {
	c := cell{key: key, value: value, valueLen: uint64(len(value))}
	if c.size(true) <= maxCell(t.store.PageSize()) {
		return c, nil
	}
	first, err := t.writeOverflow(value)
	if err != nil {
		return cell{}, err
	}
	c.value = nil
	c.overflow = first
	return c, nil
}

func (t *Tree) value(c cell) ([]byte, error) {
	if c.overflow == 0 {
		return append([]byte{}, c.value...), nil
	}
	return t.readOverflow(c.overflow, c.valueLen)
}

func (t *Tree) chunk() int {
	return t.store.PageSize() - overflowHeaderSize
}

func (t *Tree) overflowPages(length uint64) int {
	chunk := uint64(t.chunk())
	return int((length + chunk - 1) / chunk)
}

func (t *Tree) writeOverflow(value []byte) (uint32, error) {
	pages := make([]uint32, t.overflowPages(uint64(len(value))))
	for i := range pages {
		pgno, err := t.store.Alloc()
		if err != nil {
			return 0, err
		}
		pages[i] = pgno
	}
	chunk := t.chunk()
	buf := make([]byte, t.store.PageSize())
	for i, pgno := range pages {
		clear(buf)
		buf[0] = KindOverflow
		if i+1 < len(pages) {
			binary.BigEndian.PutUint32(buf[4:8], pages[i+1])
		}
		copy(buf[overflowHeaderSize:], value[i*chunk:])
		if err := t.store.Write(pgno, buf); err != nil {
			return 0, err
		}
	}
	return pages[0], nil
}

func (t *Tree) readOverflow(first uint32, length uint64) ([]byte, error) {
	out := make([]byte, 0, length)
	chunk := uint64(t.chunk())
	pgno := first
	for uint64(len(out)) < length {
		if pgno == 0 {
			return nil, corrupt(first, "overflow chain ends after %d of %d bytes", len(out), length)
		}
		data, err := t.store.Read(pgno)
		if err != nil {
			return nil, err
		}
		if data[0] != KindOverflow {
			return nil, corrupt(pgno, "expected overflow page, found kind 0x%02x", data[0])
		}
		take := min(chunk, length-uint64(len(out)))
		out = append(out, data[overflowHeaderSize:overflowHeaderSize+take]...)
		pgno = binary.BigEndian.Uint32(data[4:8])
	}
	return out, nil
}

func (t *Tree) freeOverflow(first uint32, length uint64) error {
	pgno := first
	for i := t.overflowPages(length); i > 0 && pgno != 0; i-- {
		data, err := t.store.Read(pgno)
		if err != nil {
			return err
		}
		next := binary.BigEndian.Uint32(data[4:8])
		if err := t.store.Free(pgno); err != nil {
			return err
		}
		pgno = next
	}
	return nil
}
