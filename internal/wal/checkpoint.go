package wal

import (
	"sort"

	"github.com/bretuobay/snkv/internal/vfs"
)

// Backfill copies the newest image of every page changed in frames
// (from, to] into db and sizes db to nPages pages. It returns the number of
// pages written.
func (l *Log) Backfill(db vfs.File, from, to, nPages uint32, sync bool) (int, error) {
	pages := make([]uint32, 0, len(l.index))
	for pgno := range l.index {
		if pgno > nPages {
			continue
		}
		frame, ok := l.Find(pgno, to)
		if ok && frame > from {
			pages = append(pages, pgno)
		}
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i] < pages[j] })

	buf := make([]byte, l.pageSize)
	for _, pgno := range pages {
		frame, _ := l.Find(pgno, to)
		if err := l.ReadFrame(frame, buf); err != nil {
			return 0, err
		}
		if _, err := db.WriteAt(buf, int64(pgno-1)*int64(l.pageSize)); err != nil {
			return 0, err
		}
	}
	size, err := vfs.FileSize(db)
	if err != nil {
		return 0, err
	}
	if want := int64(nPages) * int64(l.pageSize); size != want {
		if err := db.Truncate(want); err != nil {
			return 0, err
		}
	}
	if sync {
		if err := db.Sync(); err != nil {
			return 0, err
		}
	}
	return len(pages), nil
}
