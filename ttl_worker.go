package snkv

import "time"

func (db *DB) startPurgeWorker() {
	if db.opts.PurgeInterval <= 0 || db.opts.ReadOnly {
		return
	}
	if db.stopCh == nil {
		db.stopCh = make(chan struct{})
	}
	db.purgeTicker = time.NewTicker(db.opts.PurgeInterval)

	db.wg.Add(1)
	go func() {
		defer db.wg.Done()
		for {
			select {
			case <-db.purgeTicker.C:
				db.purgeIdle()
			case <-db.stopCh:
				return
			}
		}
	}()
}

// purgeIdle purges every family, but only while the connection has no
// transaction or iterator of its own.
func (db *DB) purgeIdle() {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed || db.tx != txNone || db.liveIterators() > 0 {
		return
	}
	n, err := db.purgeAll(nowMillis())
	if err != nil {
		db.log.Warn("background purge failed", "err", err)
		return
	}
	if n > 0 {
		db.log.Debug("background purge", "removed", n)
	}
}

// purgeAll purges the default family and every named one. The caller holds
// db.mu.
func (db *DB) purgeAll(now int64) (int, error) {
	names := []string{""}
	err := db.view("purge expired", func() error {
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
	if err != nil {
		return 0, err
	}
	total := 0
	for _, name := range names {
		n, err := db.handle(name).purgeExpired(now)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (db *DB) stopWorkers() {
	if db.purgeTicker != nil {
		db.purgeTicker.Stop()
	}
	if db.stopCh != nil {
		close(db.stopCh)
	}
	db.wg.Wait()
	db.purgeTicker = nil
	db.stopCh = nil
}
