package btree

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
)

const (
	KindLeaf     byte = 0x0D
	KindInterior byte = 0x05
	KindOverflow byte = 0x0A

	nodeHeaderSize     = 8
	overflowHeaderSize = 8

	flagOverflow byte = 0x01
)

// cell is one decoded entry. Leaf cells carry a value, either inline or as
// the first page of an overflow chain. Interior cells carry the child that
// holds keys below key.
type cell struct {
	key      []byte
	value    []byte
	valueLen uint64
	overflow uint32
	child    uint32
}

type node struct {
	pgno  uint32
	leaf  bool
	cells []cell
	right uint32
}

func maxCell(pageSize int) int {
	return (pageSize - nodeHeaderSize) / 4
}

// MaxKeySize is the longest key a tree with the given page size stores.
func MaxKeySize(pageSize int) int {
	return maxCell(pageSize) - 1 - 2*binary.MaxVarintLen64 - 4
}

func uvarintSize(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

func (c cell) size(leaf bool) int {
	if !leaf {
		return 4 + uvarintSize(uint64(len(c.key))) + len(c.key)
	}
	n := 1 + uvarintSize(uint64(len(c.key))) + uvarintSize(c.valueLen) + len(c.key)
	if c.overflow != 0 {
		return n + 4
	}
	return n + len(c.value)
}

func (n *node) size() int {
	total := nodeHeaderSize
	for _, c := range n.cells {
		total += c.size(n.leaf)
	}
	return total
}

// search returns the position of key among the cells and whether it is
// present there.
func (n *node) search(key []byte) (int, bool) {
	i := sort.Search(len(n.cells), func(i int) bool {
		return bytes.Compare(n.cells[i].key, key) >= 0
	})
	return i, i < len(n.cells) && bytes.Equal(n.cells[i].key, key)
}

// childIndex returns which child of an interior node covers key. Index
// len(cells) means the right-most child.
func (n *node) childIndex(key []byte) int {
	return sort.Search(len(n.cells), func(i int) bool {
		return bytes.Compare(key, n.cells[i].key) < 0
	})
}

func (n *node) child(i int) uint32 {
	if i == len(n.cells) {
		return n.right
	}
	return n.cells[i].child
}

func (n *node) setChild(i int, pgno uint32) {
	if i == len(n.cells) {
		n.right = pgno
		return
	}
	n.cells[i].child = pgno
}

func (n *node) insertCell(i int, c cell) {
	n.cells = append(n.cells, cell{})
	copy(n.cells[i+1:], n.cells[i:])
	n.cells[i] = c
}

func (n *node) removeCell(i int) {
	n.cells = append(n.cells[:i], n.cells[i+1:]...)
}

func (n *node) encode(pageSize int) ([]byte, error) {
	if n.size() > pageSize {
		return nil, fmt.Errorf("btree: node %d needs %d bytes", n.pgno, n.size())
	}
	buf := make([]byte, pageSize)
	if n.leaf {
		buf[0] = KindLeaf
	} else {
		buf[0] = KindInterior
		binary.BigEndian.PutUint32(buf[4:8], n.right)
	}
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(n.cells)))
	off := nodeHeaderSize
	for _, c := range n.cells {
		if n.leaf {
			if c.overflow != 0 {
				buf[off] = flagOverflow
			}
			off++
			off += binary.PutUvarint(buf[off:], uint64(len(c.key)))
			off += binary.PutUvarint(buf[off:], c.valueLen)
			off += copy(buf[off:], c.key)
			if c.overflow != 0 {
				binary.BigEndian.PutUint32(buf[off:], c.overflow)
				off += 4
			} else {
				off += copy(buf[off:], c.value)
			}
			continue
		}
		binary.BigEndian.PutUint32(buf[off:], c.child)
		off += 4
		off += binary.PutUvarint(buf[off:], uint64(len(c.key)))
		off += copy(buf[off:], c.key)
	}
	return buf, nil
}

func corrupt(pgno uint32, format string, args ...any) error {
	return fmt.Errorf("%w: page %d: %s", ErrCorrupt, pgno, fmt.Sprintf(format, args...))
}

// decode parses a node page. Keys and values are copied out of data.
func decode(pgno uint32, data []byte) (*node, error) {
	if len(data) < nodeHeaderSize {
		return nil, corrupt(pgno, "short page")
	}
	n := &node{pgno: pgno}
	switch data[0] {
	case KindLeaf:
		n.leaf = true
	case KindInterior:
		n.right = binary.BigEndian.Uint32(data[4:8])
		if n.right == 0 {
			return nil, corrupt(pgno, "interior node without right child")
		}
	default:
		return nil, corrupt(pgno, "unexpected page kind 0x%02x", data[0])
	}
	count := int(binary.BigEndian.Uint16(data[2:4]))
	n.cells = make([]cell, 0, count)
	off := nodeHeaderSize
	for i := 0; i < count; i++ {
		var c cell
		if n.leaf {
			if off >= len(data) {
				return nil, corrupt(pgno, "cell %d out of bounds", i)
			}
			flags := data[off]
			off++
			klen, r := binary.Uvarint(data[off:])
			if r <= 0 {
				return nil, corrupt(pgno, "cell %d key length", i)
			}
			off += r
			vlen, r := binary.Uvarint(data[off:])
			if r <= 0 {
				return nil, corrupt(pgno, "cell %d value length", i)
			}
			off += r
			if klen > uint64(len(data)-off) {
				return nil, corrupt(pgno, "cell %d key overruns page", i)
			}
			c.key = append([]byte{}, data[off:off+int(klen)]...)
			off += int(klen)
			c.valueLen = vlen
			if flags&flagOverflow != 0 {
				if off+4 > len(data) {
					return nil, corrupt(pgno, "cell %d overflow pointer overruns page", i)
				}
				c.overflow = binary.BigEndian.Uint32(data[off:])
				if c.overflow == 0 {
					return nil, corrupt(pgno, "cell %d has a null overflow pointer", i)
				}
				off += 4
			} else {
				if vlen > uint64(len(data)-off) {
					return nil, corrupt(pgno, "cell %d value overruns page", i)
				}
				c.value = append([]byte{}, data[off:off+int(vlen)]...)
				off += int(vlen)
			}
		} else {
			if off+4 > len(data) {
				return nil, corrupt(pgno, "cell %d out of bounds", i)
			}
			c.child = binary.BigEndian.Uint32(data[off:])
			if c.child == 0 {
				return nil, corrupt(pgno, "cell %d has a null child", i)
			}
			off += 4
			klen, r := binary.Uvarint(data[off:])
			if r <= 0 || klen > uint64(len(data)-off-r) {
				return nil, corrupt(pgno, "cell %d key overruns page", i)
			}
			off += r
			c.key = append([]byte{}, data[off:off+int(klen)]...)
			off += int(klen)
		}
		n.cells = append(n.cells, c)
	}
	return n, nil
}
