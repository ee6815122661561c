package snkv

import "context"

// GetWithContext returns the value for a key honoring context cancellation.
func (db *DB) GetWithContext(ctx context.Context, key []byte) ([]byte, error) {
	return db.def.GetWithContext(ctx, key)
}

// PutWithContext stores a key-value pair honoring context cancellation.
func (db *DB) PutWithContext(ctx context.Context, key, value []byte) error {
	return db.def.PutWithContext(ctx, key, value)
}

// GetWithContext returns the value for a key honoring context cancellation.
func (cf *ColumnFamily) GetWithContext(ctx context.Context, key []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return cf.Get(key)
}

// PutWithContext stores a key-value pair honoring context cancellation.
func (cf *ColumnFamily) PutWithContext(ctx context.Context, key, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return cf.Put(key, value)
}
