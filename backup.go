package snkv

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/bretuobay/snkv/internal/manifest"
	"github.com/bretuobay/snkv/internal/snapshot"
)

// Backup writes a compressed logical snapshot of every live key of every
// column family to w and returns how many entries it holds. The snapshot
// is taken from one consistent read.
func (db *DB) Backup(w io.Writer) (int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return 0, ErrClosed
	}
	sw, err := snapshot.NewWriter(w, time.Now().UnixMilli())
	if err != nil {
		return 0, err
	}
	if err := db.dump(sw); err != nil {
		return 0, err
	}
	if err := sw.Close(); err != nil {
		return 0, err
	}
	return int(sw.Count()), nil
}

// dump feeds every live entry to sw. The caller holds db.mu.
func (db *DB) dump(sw *snapshot.Writer) error {
	now := nowMillis()
	return db.view("backup", func() error {
		names := []string{""}
		recs, err := db.records()
		if err != nil {
			return err
		}
		for _, rec := range recs {
			if !rec.internal {
				names = append(names, rec.name)
			}
		}
		var werr error
		for _, name := range names {
			err := db.handle(name).scan(nil, nil, now, func(key, value []byte, exp int64, hasTTL bool) bool {
				e := snapshot.Entry{Family: name, Key: key, Value: value, ExpireAt: snapshot.NoExpiry}
				if hasTTL {
					e.ExpireAt = exp
				}
				werr = sw.Add(e)
				return werr == nil
			})
			if err != nil {
				return err
			}
			if werr != nil {
				return werr
			}
		}
		return nil
	})
}

// Restore loads a snapshot written by Backup in one transaction and
// returns how many entries were applied. Missing column families are
// created; existing keys are overwritten and other keys are left alone.
// Entries that expired since the backup was taken are skipped. If the
// snapshot is damaged nothing is applied.
func (db *DB) Restore(r io.Reader) (int, error) {
	sr, err := snapshot.NewReader(r)
	if err != nil {
		return 0, classify("restore", err)
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	defer db.stats.write(time.Now())
	n := 0
	err = db.update("restore", func() error {
		now := nowMillis()
		for {
			e, err := sr.Next()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			if e.ExpireAt != snapshot.NoExpiry && e.ExpireAt <= now {
				continue
			}
			if err := db.restoreEntry(e); err != nil {
				return err
			}
			n++
		}
	})
	if err != nil {
		return 0, err
	}
	db.stats.puts.Add(n)
	db.log.Info("restored snapshot", "path", db.path, "entries", n)
	return n, nil
}

// restoreEntry writes one snapshot entry. The caller holds a write
// transaction.
func (db *DB) restoreEntry(e snapshot.Entry) error {
	if err := db.checkEntry(e.Key, e.Value); err != nil {
		return err
	}
	if e.Family != "" {
		if err := validName(e.Family); err != nil {
			return err
		}
		rec, ok, err := db.record(e.Family)
		if err != nil {
			return err
		}
		if ok && rec.internal {
			return ErrReservedName
		}
		if !ok {
			if _, err := db.createFamily(e.Family, false); err != nil {
				return err
			}
		}
	}
	return db.handle(e.Family).putLocked(e.Key, e.Value, e.ExpireAt, e.ExpireAt != snapshot.NoExpiry)
}

// BackupTo writes a snapshot file into dir and records it in the
// directory's manifest. It returns the path of the new file.
func (db *DB) BackupTo(dir string) (string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return "", ErrClosed
	}
	mgr := snapshot.NewManager(dir)
	created := time.Now().UnixMilli()
	path, count, err := mgr.CreateSnapshot(created, db.dump)
	if err != nil {
		return "", err
	}

	manPath := filepath.Join(dir, manifest.FileName)
	man, err := manifest.ReadManifest(manPath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}
	h := db.pager.Header()
	man.DatabaseID = h.ID.String()
	man.PageSize = db.pager.PageSize()
	man.Add(manifest.BackupInfo{Seq: created, Entries: count, Path: filepath.Base(path)})
	if err := manifest.WriteManifest(manPath, man); err != nil {
		return "", err
	}
	db.log.Info("backup written", "path", path, "entries", count)
	return path, nil
}

// RestoreFrom restores the newest backup recorded in dir's manifest.
func (db *DB) RestoreFrom(dir string) (int, error) {
	man, err := manifest.ReadManifest(filepath.Join(dir, manifest.FileName))
	if err != nil {
		return 0, classify("restore", err)
	}
	latest, ok := man.Latest()
	if !ok {
		return 0, &Error{Kind: KindNotFound, Op: "restore", Detail: "no backup in " + dir}
	}
	path := latest.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, classify("restore", err)
	}
	defer f.Close()
	return db.Restore(f)
}
