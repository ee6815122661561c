package btree

import "bytes"

type frame struct {
	n   *node
	idx int
}

// Cursor walks a tree in key order. If the store changes under it, the next
// move re-seeks to the first key after the current one.
type Cursor struct {
	t       *Tree
	stack   []frame
	key     []byte
	valid   bool
	version uint64
}

// Cursor returns an unpositioned cursor.
func (t *Tree) Cursor() *Cursor {
	return &Cursor{t: t}
}

// Valid reports whether the cursor is on an entry.
func (c *Cursor) Valid() bool { return c.valid }

// Key returns the current key. The slice stays valid after the cursor moves.
func (c *Cursor) Key() []byte {
	if !c.valid {
		return nil
	}
	return c.key
}

// Value reads the current value.
func (c *Cursor) Value() ([]byte, error) {
	if !c.valid {
		return nil, ErrNotFound
	}
	if c.t.store.Version() != c.version {
		// Node images may be stale; look the key up again.
		return c.t.Get(c.key)
	}
	top := c.stack[len(c.stack)-1]
	return c.t.value(top.n.cells[top.idx])
}

// First moves to the smallest key.
func (c *Cursor) First() error {
	return c.Seek(nil)
}

// Seek moves to the first key at or after key.
func (c *Cursor) Seek(key []byte) error {
	c.stack = c.stack[:0]
	c.valid = false
	c.version = c.t.store.Version()
	pgno := c.t.root
	for depth := 0; ; depth++ {
		if depth > maxDepth {
			return corrupt(c.t.root, "tree deeper than %d levels", maxDepth)
		}
		n, err := c.t.load(pgno)
		if err != nil {
			return err
		}
		if n.leaf {
			i, _ := n.search(key)
			c.stack = append(c.stack, frame{n: n, idx: i})
			break
		}
		i := n.childIndex(key)
		c.stack = append(c.stack, frame{n: n, idx: i})
		pgno = n.child(i)
	}
	top := c.stack[len(c.stack)-1]
	if top.idx < len(top.n.cells) {
		c.settle()
		return nil
	}
	return c.nextLeaf()
}

// Next moves to the following key.
func (c *Cursor) Next() error {
	if !c.valid {
		return nil
	}
	if c.t.store.Version() != c.version {
		prev := c.key
		if err := c.Seek(prev); err != nil {
			return err
		}
		if c.valid && bytes.Equal(c.key, prev) {
			return c.Next()
		}
		return nil
	}
	top := &c.stack[len(c.stack)-1]
	top.idx++
	if top.idx < len(top.n.cells) {
		c.settle()
		return nil
	}
	return c.nextLeaf()
}

// nextLeaf climbs until an ancestor has another child, then descends to the
// left-most leaf below it that holds a cell.
func (c *Cursor) nextLeaf() error {
	for {
		c.stack = c.stack[:len(c.stack)-1]
		for len(c.stack) > 0 {
			f := &c.stack[len(c.stack)-1]
			if f.idx < len(f.n.cells) {
				f.idx++
				break
			}
			c.stack = c.stack[:len(c.stack)-1]
		}
		if len(c.stack) == 0 {
			c.valid = false
			c.key = nil
			return nil
		}
		f := c.stack[len(c.stack)-1]
		pgno := f.n.child(f.idx)
		for {
			if len(c.stack) > maxDepth {
				return corrupt(c.t.root, "tree deeper than %d levels", maxDepth)
			}
			n, err := c.t.load(pgno)
			if err != nil {
				return err
			}
			c.stack = append(c.stack, frame{n: n, idx: 0})
			if n.leaf {
				break
			}
			pgno = n.child(0)
		}
		if len(c.stack[len(c.stack)-1].n.cells) > 0 {
			c.settle()
			return nil
		}
	}
}

func (c *Cursor) settle() {
	top := c.stack[len(c.stack)-1]
	c.key = top.n.cells[top.idx].key
	c.valid = true
}
