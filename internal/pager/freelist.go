package pager

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// Alloc returns a zeroed page, reusing the head of the free list before
// growing the file.
func (p *Pager) Alloc() (uint32, error) {
	w := p.write
	if w == nil {
		return 0, ErrNoWrite
	}
	if w.hdr.FreeHead != 0 {
		pgno := w.hdr.FreeHead
		data, err := p.Read(pgno)
		if err != nil {
			return 0, err
		}
		if data[0] != KindFree {
			return 0, fmt.Errorf("%w: free list entry %d is not a free page", ErrCorrupt, pgno)
		}
		next := binary.BigEndian.Uint32(data[4:8])
		if next > w.hdr.PageCount || w.hdr.FreeCount == 0 {
			return 0, fmt.Errorf("%w: free list link %d -> %d", ErrCorrupt, pgno, next)
		}
		w.hdr.FreeHead = next
		w.hdr.FreeCount--
		w.dirty[pgno] = make([]byte, p.pageSize)
		p.version++
		return pgno, nil
	}
	w.hdr.PageCount++
	pgno := w.hdr.PageCount
	w.dirty[pgno] = make([]byte, p.pageSize)
	p.cache.Remove(pgno)
	p.version++
	return pgno, nil
}

// Free pushes pgno onto the free list.
func (p *Pager) Free(pgno uint32) error {
	w := p.write
	if w == nil {
		return ErrNoWrite
	}
	if pgno < 2 || pgno > w.hdr.PageCount {
		return fmt.Errorf("%w: free of page %d outside the file", ErrCorrupt, pgno)
	}
	buf := make([]byte, p.pageSize)
	buf[0] = KindFree
	binary.BigEndian.PutUint32(buf[4:8], w.hdr.FreeHead)
	w.dirty[pgno] = buf
	w.hdr.FreeHead = pgno
	w.hdr.FreeCount++
	p.version++
	return nil
}

// FreePages walks the free list and returns its pages in list order.
func (p *Pager) FreePages() ([]uint32, error) {
	h := p.Header()
	pages := make([]uint32, 0, h.FreeCount)
	seen := make(map[uint32]bool, h.FreeCount)
	for pgno := h.FreeHead; pgno != 0; {
		if seen[pgno] || uint32(len(pages)) >= h.FreeCount {
			return pages, fmt.Errorf("%w: free list has a cycle or is longer than %d", ErrCorrupt, h.FreeCount)
		}
		seen[pgno] = true
		data, err := p.Read(pgno)
		if err != nil {
			return pages, err
		}
		if data[0] != KindFree {
			return pages, fmt.Errorf("%w: free list entry %d is not a free page", ErrCorrupt, pgno)
		}
		pages = append(pages, pgno)
		pgno = binary.BigEndian.Uint32(data[4:8])
	}
	if uint32(len(pages)) != h.FreeCount {
		return pages, fmt.Errorf("%w: free list holds %d pages, header says %d", ErrCorrupt, len(pages), h.FreeCount)
	}
	return pages, nil
}

// RebuildFreeList replaces the free list with pages, lowest page first so
// allocation keeps the file compact.
func (p *Pager) RebuildFreeList(pages []uint32) error {
	w := p.write
	if w == nil {
		return ErrNoWrite
	}
	sorted := append([]uint32(nil), pages...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	w.hdr.FreeHead = 0
	w.hdr.FreeCount = 0
	for i := len(sorted) - 1; i >= 0; i-- {
		if err := p.Free(sorted[i]); err != nil {
			return err
		}
	}
	return nil
}

// Truncate shrinks the database to n pages. Pages past n must no longer be
// referenced.
func (p *Pager) Truncate(n uint32) error {
	w := p.write
	if w == nil {
		return ErrNoWrite
	}
	if n == 0 || n > w.hdr.PageCount {
		return fmt.Errorf("pager: truncate to %d of %d pages", n, w.hdr.PageCount)
	}
	for pgno := range w.dirty {
		if pgno > n {
			delete(w.dirty, pgno)
		}
	}
	w.hdr.PageCount = n
	p.version++
	return nil
}
