package snkv

import (
	"errors"
	"time"

	"github.com/bretuobay/snkv/internal/btree"
)

// Batch buffers writes to one column family and applies them in a single
// transaction.
type Batch interface {
	Put(key, value []byte)
	PutWithTTL(key, value []byte, ttl time.Duration)
	Delete(key []byte)
	// Len returns the number of buffered operations.
	Len() int
	Write() error
	Discard()
}

type batchOpType uint8

const (
	batchPut batchOpType = iota + 1
	batchDelete
)

type batchOp struct {
	opType   batchOpType
	key      []byte
	value    []byte
	expireAt int64
	withTTL  bool
}

type batchImpl struct {
	cf     *ColumnFamily
	ops    []batchOp
	closed bool
	err    error
}

// NewBatch creates a batch writing to the default family.
func (db *DB) NewBatch() Batch {
	return db.def.NewBatch()
}

// NewBatch creates a batch writing to the family.
func (cf *ColumnFamily) NewBatch() Batch {
	return &batchImpl{cf: cf}
}

// Put buffers a Put operation.
func (b *batchImpl) Put(key, value []byte) {
	b.add(batchPut, key, value, 0, false)
}

// PutWithTTL buffers a Put operation with TTL. A ttl of zero or less
// buffers a plain Put.
func (b *batchImpl) PutWithTTL(key, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		b.add(batchPut, key, value, 0, false)
		return
	}
	b.add(batchPut, key, value, time.Now().Add(ttl).UnixMilli(), true)
}

// Delete buffers a Delete operation. Deleting a key that does not exist is
// not an error inside a batch.
func (b *batchImpl) Delete(key []byte) {
	b.add(batchDelete, key, nil, 0, false)
}

func (b *batchImpl) Len() int { return len(b.ops) }

// Write applies every buffered operation atomically: either all of them
// are committed or none is.
func (b *batchImpl) Write() error {
	if b.closed {
		return ErrClosed
	}
	if b.err != nil {
		return b.err
	}
	if len(b.ops) == 0 {
		b.closed = true
		return nil
	}
	db := b.cf.db
	db.mu.Lock()
	defer db.mu.Unlock()
	defer db.stats.write(time.Now())

	err := db.update("batch write", func() error {
		for _, op := range b.ops {
			switch op.opType {
			case batchPut:
				if err := b.cf.putLocked(op.key, op.value, op.expireAt, op.withTTL); err != nil {
					return err
				}
			case batchDelete:
				if err := b.cf.deleteLocked(op.key); err != nil && !errors.Is(err, btree.ErrNotFound) {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	puts := countOps(b.ops, batchPut)
	db.stats.puts.Add(puts)
	db.stats.deletes.Add(len(b.ops) - puts)
	b.closed = true
	b.ops = nil
	return nil
}

// Discard abandons buffered operations.
func (b *batchImpl) Discard() {
	b.closed = true
	b.ops = nil
}

func (b *batchImpl) add(opType batchOpType, key, value []byte, expireAt int64, withTTL bool) {
	if b.closed || b.err != nil {
		return
	}
	if err := b.cf.db.checkEntry(key, value); err != nil {
		b.err = err
		return
	}
	b.ops = append(b.ops, batchOp{
		opType:   opType,
		key:      append([]byte(nil), key...),
		value:    append([]byte(nil), value...),
		expireAt: expireAt,
		withTTL:  withTTL,
	})
}

func countOps(ops []batchOp, opType batchOpType) int {
	count := 0
	for _, op := range ops {
		if op.opType == opType {
			count++
		}
	}
	return count
}
