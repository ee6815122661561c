package snkv

import "time"

// GetInto copies the value into dst and returns the resulting slice.
// If dst has sufficient capacity, it is reused to reduce allocations.
func (db *DB) GetInto(dst, key []byte) ([]byte, error) {
	return db.def.GetInto(dst, key)
}

// GetInto copies the value into dst and returns the resulting slice.
func (cf *ColumnFamily) GetInto(dst, key []byte) ([]byte, error) {
	db := cf.db
	db.mu.Lock()
	defer db.mu.Unlock()
	defer db.stats.read(time.Now())
	db.stats.gets.Inc()

	value, _, expired, err := cf.lookup("get", key)
	if err != nil {
		return nil, err
	}
	if expired {
		return nil, ErrNotFound
	}
	if cap(dst) < len(value) {
		dst = make([]byte, len(value))
	} else {
		dst = dst[:len(value)]
	}
	copy(dst, value)
	return dst, nil
}
