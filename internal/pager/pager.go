// Package pager owns the database file. It hands out fixed-size pages,
// caches them, keeps dirty pages for the open write transaction and makes
// commits atomic through either the write-ahead log or a rollback journal.
//
// A Pager belongs to one connection and is not safe for concurrent use.
// Connections in the same or different processes coordinate through file
// locks.
package pager

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/bretuobay/snkv/internal/journal"
	"github.com/bretuobay/snkv/internal/vfs"
	"github.com/bretuobay/snkv/internal/wal"
	lru "github.com/hashicorp/golang-lru"
)

const (
	MinPageSize = 512
	MaxPageSize = 65536

	// KindFree tags pages on the free list.
	KindFree byte = 0x0F

	defaultCacheSize = 2000
	openWait         = 100 * time.Millisecond
)

// JournalMode selects how commits are made atomic.
type JournalMode uint8

const (
	JournalWAL JournalMode = iota
	JournalDelete
	// JournalMemory writes pages straight to an in-memory file.
	JournalMemory
)

// SyncLevel controls when data is flushed to stable storage.
type SyncLevel uint8

const (
	SyncNormal SyncLevel = iota
	SyncOff
	SyncFull
)

// CheckpointMode selects how hard a checkpoint tries.
type CheckpointMode uint8

const (
	CheckpointPassive CheckpointMode = iota
	CheckpointFull
	CheckpointRestart
	CheckpointTruncate
)

var (
	ErrCorrupt     = errors.New("pager: database disk image is malformed")
	ErrNotDatabase = errors.New("pager: file is not a database")
	ErrReadOnly    = errors.New("pager: database is read-only")
	ErrLocked      = errors.New("pager: database is locked by another connection")
	ErrStale       = errors.New("pager: read snapshot is out of date")
	ErrNoRead      = errors.New("pager: no read transaction")
	ErrNoWrite     = errors.New("pager: no write transaction")
	ErrWriteActive = errors.New("pager: write transaction already open")
	ErrClosed      = errors.New("pager: closed")
)

// Config is the subset of database options the pager needs.
type Config struct {
	PageSize    int
	CacheSize   int
	Journal     JournalMode
	Sync        SyncLevel
	ReadOnly    bool
	BusyTimeout time.Duration
	Logger      *slog.Logger
}

// Info is a point-in-time description of the file.
type Info struct {
	PageSize      int
	PageCount     uint32
	FreeCount     uint32
	ChangeCounter uint32
	WALFrames     uint32
	Backfilled    uint32
	Journal       JournalMode
	Header        Header
}

// Pager manages the pages of one database file for one connection.
type Pager struct {
	fs       *vfs.FS
	path     string
	cfg      Config
	log      *slog.Logger
	pageSize int

	file  vfs.File
	cache *lru.Cache

	dbLock    *vfs.Lock
	walLock   *vfs.Lock
	ckptLock  *vfs.Lock
	readLocks [wal.ReadSlots]*vfs.Lock
	slot      int
	wal       *wal.Log
	shm       vfs.File

	hdr      Header
	snap     wal.Snapshot
	readers  int
	write    *writeTx
	readLost bool
	version  uint64
	closed   bool
}

type writeTx struct {
	hdr   Header
	orig  Header
	dirty map[uint32][]byte
}

// Open opens or creates the database file at path.
func Open(fs *vfs.FS, path string, cfg Config) (*Pager, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = defaultCacheSize
	}
	if !ValidPageSize(cfg.PageSize) {
		return nil, fmt.Errorf("pager: unsupported page size %d", cfg.PageSize)
	}
	if !fs.OnDisk() {
		cfg.Journal = JournalMemory
	}
	if cfg.ReadOnly {
		exists, err := fs.Exists(path)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("pager: open %s: %w", path, os.ErrNotExist)
		}
	}

	file, err := fs.Open(path, cfg.ReadOnly)
	if err != nil {
		return nil, err
	}
	cache, err := lru.New(cfg.CacheSize)
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	p := &Pager{
		fs:     fs,
		path:   path,
		cfg:    cfg,
		log:    cfg.Logger,
		file:   file,
		cache:  cache,
		dbLock: fs.Lock(path, cfg.BusyTimeout),
		slot:   -1,
	}
	p.pageSize = p.detectPageSize()

	switch cfg.Journal {
	case JournalDelete:
		err = p.foldStaleWAL()
	case JournalWAL:
		err = p.openWAL()
	}
	if err != nil {
		p.closeFiles()
		return nil, err
	}
	return p, nil
}

func (p *Pager) walPath() string     { return p.path + vfs.WALSuffix }
func (p *Pager) shmPath() string     { return p.path + vfs.SHMSuffix }
func (p *Pager) journalPath() string { return p.path + vfs.JournalSuffix }

func (p *Pager) openWait() time.Duration {
	if p.cfg.BusyTimeout > openWait {
		return p.cfg.BusyTimeout
	}
	return openWait
}

// detectPageSize prefers the database header, then the log header, then the
// configured size.
func (p *Pager) detectPageSize() int {
	buf := make([]byte, HeaderSize)
	if vfs.ReadFullAt(p.file, buf, 0) == nil && [16]byte(buf[0:16]) == headerMagic {
		if ps := int(beUint32(buf[16:20])); ValidPageSize(ps) {
			return ps
		}
	}
	if f, err := p.fs.Open(p.walPath(), true); err == nil {
		defer f.Close()
		whdr := make([]byte, wal.HeaderSize)
		if vfs.ReadFullAt(f, whdr, 0) == nil {
			if h, err := wal.DecodeHeader(whdr); err == nil && ValidPageSize(int(h.PageSize)) {
				return int(h.PageSize)
			}
		}
	}
	return p.cfg.PageSize
}

// foldStaleWAL copies a log left behind by WAL-mode connections into the
// database file before it is used in rollback mode.
func (p *Pager) foldStaleWAL() error {
	size, err := p.fs.Size(p.walPath())
	if err != nil || size == 0 {
		return err
	}
	if p.cfg.ReadOnly {
		return fmt.Errorf("%w: %s has a write-ahead log, open it in WAL mode", ErrReadOnly, p.path)
	}
	if err := p.dbLock.Exclusive(); err != nil {
		if errors.Is(err, vfs.ErrBusy) {
			return fmt.Errorf("%w: %s is open in WAL mode", ErrLocked, p.path)
		}
		return err
	}
	defer p.dbLock.Release()

	log, err := wal.Open(p.fs, p.walPath(), p.pageSize, false)
	if err != nil {
		return err
	}
	snap, err := log.Refresh()
	if err == nil && snap.MaxFrame > 0 {
		_, err = log.Backfill(p.file, 0, snap.MaxFrame, snap.PageCount, p.cfg.Sync != SyncOff)
	}
	if cerr := log.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	p.log.Info("folded write-ahead log into database", "path", p.path, "frames", snap.MaxFrame)
	return p.removeSidecars()
}

// removeSidecars deletes the log, the shared state and the reader slot lock
// files. The caller holds the database lock exclusively.
func (p *Pager) removeSidecars() error {
	if err := p.fs.Remove(p.walPath()); err != nil {
		return err
	}
	for i := 0; i < wal.ReadSlots; i++ {
		if err := p.fs.Remove(p.readLockPath(i)); err != nil {
			return err
		}
	}
	return p.fs.Remove(p.shmPath())
}

func (p *Pager) openWAL() error {
	p.walLock = p.fs.Lock(p.walPath(), p.cfg.BusyTimeout)
	p.ckptLock = p.fs.Lock(p.shmPath(), p.cfg.BusyTimeout)
	for i := range p.readLocks {
		p.readLocks[i] = p.fs.Lock(p.readLockPath(i), p.cfg.BusyTimeout)
	}

	if err := p.dbLock.SharedWithin(p.openWait()); err != nil {
		if errors.Is(err, vfs.ErrBusy) {
			return fmt.Errorf("%w: %s", ErrLocked, p.path)
		}
		return err
	}
	if hot, err := journal.Hot(p.fs, p.journalPath()); err != nil {
		return err
	} else if hot {
		if err := p.recoverJournal(p.openWait()); err != nil {
			return err
		}
	}

	var err error
	p.wal, err = wal.Open(p.fs, p.walPath(), p.pageSize, p.cfg.ReadOnly)
	if err != nil {
		return err
	}
	p.shm, err = p.openShm()
	return err
}

// openShm opens the shared state. Read-only connections still write to it
// when they can, because claiming a read mark is a write.
func (p *Pager) openShm() (vfs.File, error) {
	if !p.cfg.ReadOnly {
		return p.fs.Open(p.shmPath(), false)
	}
	exists, err := p.fs.Exists(p.shmPath())
	if err != nil || !exists {
		return nil, err
	}
	if f, err := p.fs.Open(p.shmPath(), false); err == nil {
		return f, nil
	}
	return p.fs.Open(p.shmPath(), true)
}

// recoverJournal plays back a hot journal. The caller holds a shared lock,
// which is held again on return.
func (p *Pager) recoverJournal(wait time.Duration) error {
	if p.cfg.ReadOnly {
		return fmt.Errorf("%w: %s needs journal recovery", ErrReadOnly, p.path)
	}
	_ = p.dbLock.Release()
	if err := p.dbLock.Exclusive(); err != nil {
		if serr := p.dbLock.SharedWithin(wait); serr != nil {
			return serr
		}
		return err
	}
	// Another connection may have recovered while no lock was held.
	if err := p.playbackJournal(); err != nil {
		_ = p.dbLock.Release()
		return err
	}
	_ = p.dbLock.Release()
	return p.dbLock.SharedWithin(wait)
}

// playbackJournal undoes an interrupted transaction. The caller holds an
// exclusive lock.
func (p *Pager) playbackJournal() error {
	hot, err := journal.Hot(p.fs, p.journalPath())
	if err != nil || !hot {
		return err
	}
	n, err := journal.Playback(p.fs, p.journalPath(), p.file)
	if err != nil {
		return err
	}
	p.cache.Purge()
	p.version++
	p.log.Warn("rolled back interrupted transaction", "path", p.path, "pages", n)
	return p.fs.Remove(p.journalPath())
}

// PageSize returns the page size in bytes.
func (p *Pager) PageSize() int { return p.pageSize }

// Version changes whenever page content visible to this connection changes.
func (p *Pager) Version() uint64 { return p.version }

// Mode returns the journal mode in effect.
func (p *Pager) Mode() JournalMode { return p.cfg.Journal }

// Header returns the header of the write transaction, or of the current
// read snapshot.
func (p *Pager) Header() Header {
	if p.write != nil {
		return p.write.hdr
	}
	return p.hdr
}

// Empty reports whether the database has no header page yet.
func (p *Pager) Empty() bool {
	return p.Header().PageCount == 0
}

// InTx reports whether a read or write transaction is open.
func (p *Pager) InTx() bool {
	return p.readers > 0 || p.write != nil
}

// BeginRead opens a read snapshot, or joins the one already open.
func (p *Pager) BeginRead() error {
	if p.closed {
		return ErrClosed
	}
	if p.readers > 0 || p.write != nil {
		p.readers++
		return nil
	}
	if err := p.lockRead(); err != nil {
		return err
	}
	if err := p.refresh(); err != nil {
		p.unlockRead()
		return err
	}
	p.readers = 1
	return nil
}

// EndRead releases one reference to the read snapshot.
func (p *Pager) EndRead() {
	if p.readers == 0 {
		return
	}
	p.readers--
	if p.readers == 0 && p.write == nil {
		p.unlockRead()
	}
}

func (p *Pager) lockRead() error {
	switch p.cfg.Journal {
	case JournalDelete:
		if err := p.dbLock.Shared(); err != nil {
			return err
		}
		hot, err := journal.Hot(p.fs, p.journalPath())
		if err != nil {
			_ = p.dbLock.Release()
			return err
		}
		if hot {
			if err := p.recoverJournal(p.cfg.BusyTimeout); err != nil {
				_ = p.dbLock.Release()
				return err
			}
		}
	case JournalWAL:
		return p.lockSlot()
	}
	return nil
}

func (p *Pager) unlockRead() {
	switch p.cfg.Journal {
	case JournalDelete:
		_ = p.dbLock.Release()
	case JournalWAL:
		p.unlockSlot()
	}
	p.readLost = false
}

// refresh moves the connection to the newest committed state and drops
// cached pages if anything changed.
func (p *Pager) refresh() error {
	snap := p.snap
	if p.cfg.Journal == JournalWAL {
		var err error
		if snap, err = p.latestSnapshot(); err != nil {
			return err
		}
	}
	hdr, err := p.loadHeader(snap)
	if err != nil {
		return err
	}
	p.adopt(snap, hdr)
	return nil
}

func (p *Pager) adopt(snap wal.Snapshot, hdr Header) {
	if hdr.ChangeCounter != p.hdr.ChangeCounter || hdr.PageCount != p.hdr.PageCount || hdr.ID != p.hdr.ID {
		p.cache.Purge()
		p.version++
	}
	p.snap = snap
	p.hdr = hdr
}

// latestSnapshot decides which log frames the next reader must consult.
func (p *Pager) latestSnapshot() (wal.Snapshot, error) {
	snap, err := p.wal.Refresh()
	if err != nil || snap.MaxFrame == 0 {
		return snap, err
	}
	if p.backfilled(snap) {
		return wal.Snapshot{Salt1: snap.Salt1, Salt2: snap.Salt2}, nil
	}
	return snap, nil
}

func (p *Pager) loadHeader(snap wal.Snapshot) (Header, error) {
	buf := make([]byte, p.pageSize)
	if !p.inLog(snap, 1) {
		size, err := vfs.FileSize(p.file)
		if err != nil {
			return Header{}, err
		}
		if size == 0 {
			return Header{}, nil
		}
		if size < int64(p.pageSize) {
			return Header{}, ErrNotDatabase
		}
	}
	if err := p.readPageAt(snap, 1, buf); err != nil {
		return Header{}, err
	}
	hdr, err := decodeHeader(buf)
	if err != nil {
		return Header{}, err
	}
	if int(hdr.PageSize) != p.pageSize {
		return Header{}, fmt.Errorf("%w: page size %d, expected %d", ErrCorrupt, hdr.PageSize, p.pageSize)
	}
	return hdr, nil
}

func (p *Pager) inLog(snap wal.Snapshot, pgno uint32) bool {
	if p.wal == nil || snap.MaxFrame == 0 {
		return false
	}
	_, ok := p.wal.Find(pgno, snap.MaxFrame)
	return ok
}

func (p *Pager) readPageAt(snap wal.Snapshot, pgno uint32, buf []byte) error {
	if p.wal != nil && snap.MaxFrame > 0 {
		if frame, ok := p.wal.Find(pgno, snap.MaxFrame); ok {
			return p.wal.ReadFrame(frame, buf)
		}
	}
	err := vfs.ReadFullAt(p.file, buf, int64(pgno-1)*int64(p.pageSize))
	if errors.Is(err, vfs.ErrShortRead) {
		return fmt.Errorf("%w: page %d lies beyond the end of the file", ErrCorrupt, pgno)
	}
	return err
}

// Read returns page pgno. The slice must not be modified.
func (p *Pager) Read(pgno uint32) ([]byte, error) {
	if p.readers == 0 && p.write == nil {
		return nil, ErrNoRead
	}
	if p.readLost {
		return nil, ErrStale
	}
	if pgno == 0 || pgno > p.Header().PageCount {
		return nil, fmt.Errorf("%w: page %d out of range", ErrCorrupt, pgno)
	}
	if p.write != nil {
		if data, ok := p.write.dirty[pgno]; ok {
			return data, nil
		}
	}
	if v, ok := p.cache.Get(pgno); ok {
		return v.([]byte), nil
	}
	buf := make([]byte, p.pageSize)
	if err := p.readPageAt(p.snap, pgno, buf); err != nil {
		return nil, err
	}
	p.cache.Add(pgno, buf)
	return buf, nil
}

// Write replaces the content of pgno inside the write transaction.
func (p *Pager) Write(pgno uint32, data []byte) error {
	w := p.write
	if w == nil {
		return ErrNoWrite
	}
	if pgno < 2 || pgno > w.hdr.PageCount {
		return fmt.Errorf("%w: write to page %d outside the file", ErrCorrupt, pgno)
	}
	if len(data) != p.pageSize {
		return fmt.Errorf("pager: write of %d bytes to page %d", len(data), pgno)
	}
	buf, ok := w.dirty[pgno]
	if !ok {
		buf = make([]byte, p.pageSize)
		w.dirty[pgno] = buf
	}
	copy(buf, data)
	p.version++
	return nil
}

// BeginWrite opens the write transaction. When a read snapshot is already
// open it must still be the newest state, otherwise ErrStale is returned.
func (p *Pager) BeginWrite() error {
	switch {
	case p.closed:
		return ErrClosed
	case p.cfg.ReadOnly:
		return ErrReadOnly
	case p.write != nil:
		return ErrWriteActive
	case p.readLost:
		return ErrStale
	}
	pinned := p.readers > 0

	switch p.cfg.Journal {
	case JournalWAL:
		// The writer lock alone protects the newest snapshot: checkpoints
		// never copy past it and only its holder restarts the log.
		if err := p.walLock.Exclusive(); err != nil {
			return err
		}
		snap, err := p.latestSnapshot()
		var hdr Header
		if err == nil {
			hdr, err = p.loadHeader(snap)
		}
		if err == nil && pinned && hdr.ChangeCounter != p.hdr.ChangeCounter {
			err = ErrStale
		}
		if err != nil {
			_ = p.walLock.Release()
			return err
		}
		p.adopt(snap, hdr)

	case JournalDelete:
		if pinned {
			_ = p.dbLock.Release()
		}
		if err := p.dbLock.Exclusive(); err != nil {
			if pinned {
				if serr := p.dbLock.Shared(); serr != nil {
					p.loseRead()
				}
			}
			return err
		}
		if err := p.playbackJournal(); err != nil {
			p.releaseWriteLock(pinned)
			return err
		}
		hdr, err := p.loadHeader(p.snap)
		if err == nil && pinned && hdr.ChangeCounter != p.hdr.ChangeCounter {
			// The file moved on while the shared lock was briefly dropped.
			// The exclusive lock stays until the pinned readers end, and
			// they fail from here on.
			p.loseRead()
			return ErrStale
		}
		if err != nil {
			p.releaseWriteLock(pinned)
			return err
		}
		p.adopt(p.snap, hdr)

	case JournalMemory:
		if err := p.refresh(); err != nil {
			return err
		}
	}

	p.write = &writeTx{hdr: p.hdr, orig: p.hdr, dirty: make(map[uint32][]byte)}
	return nil
}

func (p *Pager) releaseWriteLock(pinned bool) {
	if pinned {
		return
	}
	_ = p.dbLock.Release()
}

// Init stamps a fresh header into an empty database inside the write
// transaction.
func (p *Pager) Init(id [16]byte) error {
	w := p.write
	if w == nil {
		return ErrNoWrite
	}
	if w.hdr.PageCount != 0 {
		return fmt.Errorf("pager: database already initialized")
	}
	w.hdr = Header{
		PageSize:  uint32(p.pageSize),
		PageCount: 1,
		ID:        id,
		Journal:   p.cfg.Journal,
	}
	return nil
}

// SetDefaultRoot records the root page of the default tree.
func (p *Pager) SetDefaultRoot(pgno uint32) error {
	if p.write == nil {
		return ErrNoWrite
	}
	p.write.hdr.DefaultRoot = pgno
	return nil
}

// SetCatalogRoot records the root page of the catalog tree.
func (p *Pager) SetCatalogRoot(pgno uint32) error {
	if p.write == nil {
		return ErrNoWrite
	}
	p.write.hdr.CatalogRoot = pgno
	return nil
}

// Dirty reports whether the write transaction changed anything.
func (p *Pager) Dirty() bool {
	return p.write != nil && (len(p.write.dirty) > 0 || p.write.hdr != p.write.orig)
}

// Commit makes the write transaction durable and visible to other
// connections.
func (p *Pager) Commit() error {
	w := p.write
	if w == nil {
		return ErrNoWrite
	}
	if !p.Dirty() {
		p.endWrite()
		return nil
	}
	w.hdr.ChangeCounter++
	page1 := make([]byte, p.pageSize)
	w.hdr.encode(page1)
	w.dirty[1] = page1

	pgnos := make([]uint32, 0, len(w.dirty))
	for pgno := range w.dirty {
		if pgno <= w.hdr.PageCount {
			pgnos = append(pgnos, pgno)
		}
	}
	sort.Slice(pgnos, func(i, j int) bool { return pgnos[i] < pgnos[j] })

	var err error
	switch p.cfg.Journal {
	case JournalWAL:
		err = p.commitWAL(pgnos, w)
	case JournalDelete:
		err = p.commitJournal(pgnos, w)
	default:
		err = p.commitDirect(pgnos, w)
	}
	if err != nil {
		p.log.Error("commit failed", "path", p.path, "err", err)
		p.abortWrite()
		return err
	}

	for _, pgno := range pgnos {
		p.cache.Add(pgno, w.dirty[pgno])
	}
	for pgno := w.hdr.PageCount + 1; pgno <= w.orig.PageCount; pgno++ {
		p.cache.Remove(pgno)
	}
	p.hdr = w.hdr
	p.endWrite()
	return nil
}

func (p *Pager) commitWAL(pgnos []uint32, w *writeTx) error {
	if err := p.startGeneration(); err != nil {
		return err
	}
	pages := make([]wal.Page, len(pgnos))
	for i, pgno := range pgnos {
		pages[i] = wal.Page{No: pgno, Data: w.dirty[pgno]}
	}
	if err := p.wal.Append(pages, w.hdr.PageCount, p.cfg.Sync == SyncFull); err != nil {
		return err
	}
	p.snap = p.wal.Snapshot()
	return nil
}

// startGeneration restarts the log when every frame in it has been
// checkpointed and no reader holds a slot. The shared state is rewritten
// first so readers never pair the new header with stale checkpoint progress.
func (p *Pager) startGeneration() error {
	hdr, has := p.wal.Header()
	restart := !has
	if has {
		if shared, ok := wal.ReadShared(p.shm); ok {
			if shared.Salt1 != hdr.Salt1 || shared.Salt2 != hdr.Salt2 {
				restart = true
			} else if p.wal.MaxFrame() > 0 && shared.Backfilled >= p.wal.MaxFrame() {
				restart = true
			}
		}
	}
	if !restart {
		return nil
	}
	if has {
		// The writer lock covers this connection's own snapshot; endWrite
		// takes a slot again for readers still open.
		p.unlockSlot()
		ok, err := p.lockSlots(false)
		if err != nil || !ok {
			return err
		}
		defer p.releaseSlots(wal.ReadSlots)
		if err := wal.ResetMarks(p.shm); err != nil {
			return err
		}
	}
	salt1, salt2 := vfs.NewSalt()
	if err := wal.WriteShared(p.shm, wal.Shared{Salt1: salt1, Salt2: salt2, CheckpointSeq: hdr.CheckpointSeq + 1}); err != nil {
		return err
	}
	return p.wal.Restart(salt1, salt2)
}

func (p *Pager) commitJournal(pgnos []uint32, w *writeTx) error {
	if err := p.journalAndApply(pgnos, w); err != nil {
		return err
	}
	// Deleting the journal is the commit point.
	return p.fs.Remove(p.journalPath())
}

// journalAndApply saves the original images of every page the transaction
// overwrites or truncates, then writes the new pages in place.
func (p *Pager) journalAndApply(pgnos []uint32, w *writeTx) error {
	origCount := w.orig.PageCount
	jw, err := journal.Create(p.fs, p.journalPath(), origCount, uint32(p.pageSize))
	if err != nil {
		return err
	}
	buf := make([]byte, p.pageSize)
	save := func(pgno uint32) error {
		if err := vfs.ReadFullAt(p.file, buf, int64(pgno-1)*int64(p.pageSize)); err != nil {
			return err
		}
		return jw.Append(pgno, buf)
	}
	for _, pgno := range pgnos {
		if pgno <= origCount {
			if err := save(pgno); err != nil {
				_ = jw.Close()
				return err
			}
		}
	}
	for pgno := w.hdr.PageCount + 1; pgno <= origCount; pgno++ {
		if err := save(pgno); err != nil {
			_ = jw.Close()
			return err
		}
	}
	sync := p.cfg.Sync != SyncOff
	if err := jw.Finish(sync, p.cfg.Sync == SyncFull); err != nil {
		_ = jw.Close()
		return err
	}
	if err := jw.Close(); err != nil {
		return err
	}
	if err := p.writePages(pgnos, w); err != nil {
		return err
	}
	if sync {
		return p.file.Sync()
	}
	return nil
}

func (p *Pager) commitDirect(pgnos []uint32, w *writeTx) error {
	return p.writePages(pgnos, w)
}

func (p *Pager) writePages(pgnos []uint32, w *writeTx) error {
	for _, pgno := range pgnos {
		if _, err := p.file.WriteAt(w.dirty[pgno], int64(pgno-1)*int64(p.pageSize)); err != nil {
			return err
		}
	}
	size, err := vfs.FileSize(p.file)
	if err != nil {
		return err
	}
	if want := int64(w.hdr.PageCount) * int64(p.pageSize); size > want {
		return p.file.Truncate(want)
	}
	return nil
}

// abortWrite discards a transaction whose commit failed part way.
func (p *Pager) abortWrite() {
	if p.cfg.Journal == JournalDelete {
		if err := p.playbackJournal(); err != nil {
			p.log.Error("journal playback failed", "path", p.path, "err", err)
		}
	}
	p.cache.Purge()
	p.version++
	p.endWrite()
}

// Rollback discards the write transaction.
func (p *Pager) Rollback() error {
	if p.write == nil {
		return ErrNoWrite
	}
	p.version++
	p.endWrite()
	return nil
}

func (p *Pager) endWrite() {
	p.write = nil
	switch p.cfg.Journal {
	case JournalWAL:
		if p.readers > 0 && p.slot < 0 && !p.readLost {
			if err := p.lockSlot(); err != nil {
				p.log.Warn("read snapshot lost after write", "path", p.path, "err", err)
				p.loseRead()
			}
		}
		_ = p.walLock.Release()
		if p.readers == 0 {
			p.unlockRead()
		}
	case JournalDelete:
		if p.readers == 0 {
			p.unlockRead()
		}
	}
}

// InWrite reports whether a write transaction is open.
func (p *Pager) InWrite() bool {
	return p.write != nil
}

// Sync flushes the files backing committed data.
func (p *Pager) Sync() error {
	if p.closed {
		return ErrClosed
	}
	if p.cfg.Journal == JournalMemory || p.cfg.ReadOnly {
		return nil
	}
	if p.wal != nil {
		if err := p.wal.Sync(); err != nil {
			return err
		}
	}
	return p.file.Sync()
}

// Info describes the current state of the file.
func (p *Pager) Info() Info {
	h := p.Header()
	info := Info{
		PageSize:      p.pageSize,
		PageCount:     h.PageCount,
		FreeCount:     h.FreeCount,
		ChangeCounter: h.ChangeCounter,
		Journal:       p.cfg.Journal,
		Header:        h,
	}
	if p.wal != nil {
		mx, done := p.progress()
		info.WALFrames = uint32(mx)
		info.Backfilled = uint32(done)
	}
	return info
}

// Close rolls back any open transaction and releases the file. The last
// WAL-mode connection checkpoints the log and removes the sidecar files.
func (p *Pager) Close() error {
	if p.closed {
		return nil
	}
	if p.write != nil {
		_ = p.Rollback()
	}
	if p.readers > 0 {
		p.readers = 0
		p.unlockRead()
	}
	var err error
	if p.cfg.Journal == JournalWAL && !p.cfg.ReadOnly {
		err = p.closeWAL()
	}
	p.closeFiles()
	p.closed = true
	return err
}

// Abandon drops the connection the way a killed process would: open
// transactions are neither committed nor rolled back and no checkpoint or
// cleanup runs. Only the descriptors and locks are released.
func (p *Pager) Abandon() {
	if p.closed {
		return
	}
	p.write = nil
	p.readers = 0
	p.closeFiles()
	p.closed = true
}

func (p *Pager) closeWAL() error {
	_ = p.dbLock.Release()
	last, err := p.dbLock.TryExclusive()
	if err != nil || !last {
		return err
	}
	if _, _, err := p.checkpoint(CheckpointTruncate); err != nil {
		return err
	}
	_ = p.wal.Close()
	if p.shm != nil {
		_ = p.shm.Close()
		p.shm = nil
	}
	return p.removeSidecars()
}

func (p *Pager) closeFiles() {
	if p.wal != nil {
		_ = p.wal.Close()
	}
	if p.shm != nil {
		_ = p.shm.Close()
	}
	_ = p.walLock.Release()
	_ = p.ckptLock.Release()
	for _, l := range p.readLocks {
		_ = l.Release()
	}
	_ = p.dbLock.Release()
	_ = p.file.Close()
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
