package ptree

import (
	"slices"

	"go.etcd.io/bbolt"
)

type boltStorage struct {
	bdb *bbolt.DB
}

func newBoltStorage(bdb *bbolt.DB) storage {
	return &boltStorage{bdb: bdb}
}

func (s *boltStorage) BeginTx(writable bool) (storageTx, error) {
	btx, err := s.bdb.Begin(writable)
	if err != nil {
		return nil, err
	}
	return &boltStorageTx{btx: btx}, nil
}

func (s *boltStorage) Close() error {
	return s.bdb.Close()
}

type boltStorageTx struct {
	btx *bbolt.Tx
}

func (tx *boltStorageTx) Writable() bool { return tx.btx.Writable() }

func (tx *boltStorageTx) Bucket(name []byte) storageBucket {
	b := tx.btx.Bucket(name)
	if b == nil {
		return nil
	}
	return boltBucket{b: b}
}

func (tx *boltStorageTx) CreateBucket(name []byte) (storageBucket, error) {
	b, err := tx.btx.CreateBucketIfNotExists(name)
	if err != nil {
		return nil, err
	}
	return boltBucket{b: b}, nil
}

func (tx *boltStorageTx) DeleteBucket(name []byte) error {
	err := tx.btx.DeleteBucket(name)
	if err == bbolt.ErrBucketNotFound {
		return errBucketNotFound
	}
	return err
}

func (tx *boltStorageTx) Commit() error { return tx.btx.Commit() }

func (tx *boltStorageTx) Rollback() error {
	err := tx.btx.Rollback()
	if err == bbolt.ErrTxClosed {
		return nil
	}
	return err
}

func (tx *boltStorageTx) Size() int64 { return tx.btx.Size() }

type boltBucket struct {
	b *bbolt.Bucket
}

func (b boltBucket) Get(key []byte) []byte { return b.b.Get(key) }

func (b boltBucket) Put(key, value []byte) error { return b.b.Put(key, value) }

func (b boltBucket) Delete(key []byte) error { return b.b.Delete(key) }

func (b boltBucket) Bucket(name []byte) storageBucket {
	sub := b.b.Bucket(name)
	if sub == nil {
		return nil
	}
	return boltBucket{b: sub}
}

func (b boltBucket) CreateBucket(name []byte) (storageBucket, error) {
	sub, err := b.b.CreateBucketIfNotExists(name)
	if err != nil {
		return nil, err
	}
	return boltBucket{b: sub}, nil
}

func (b boltBucket) DeleteBucket(name []byte) error {
	err := b.b.DeleteBucket(name)
	if err == bbolt.ErrBucketNotFound {
		return errBucketNotFound
	}
	return err
}

// Buckets relies on bolt reporting nested buckets with nil values.
func (b boltBucket) Buckets() [][]byte {
	var names [][]byte
	c := b.b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		if v == nil {
			names = append(names, slices.Clone(k))
		}
	}
	return names
}

func (b boltBucket) Cursor() storageCursor { return boltCursor{c: b.b.Cursor()} }

func (b boltBucket) Stats() bucketStats {
	s := b.b.Stats()
	return bucketStats{
		KeyN:        s.KeyN,
		BucketN:     s.BucketN,
		LeafInuse:   int64(s.LeafInuse),
		LeafAlloc:   int64(s.LeafAlloc),
		BranchAlloc: int64(s.BranchAlloc),
	}
}

func (b boltBucket) KeyCount() int {
	var n int
	c := b.b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		if v != nil {
			n++
		}
	}
	return n
}

type boltCursor struct {
	c *bbolt.Cursor
}

func (c boltCursor) skipBuckets(k, v []byte) ([]byte, []byte) {
	for k != nil && v == nil {
		k, v = c.c.Next()
	}
	return k, v
}

func (c boltCursor) First() ([]byte, []byte) { return c.skipBuckets(c.c.First()) }

func (c boltCursor) Seek(seek []byte) ([]byte, []byte) { return c.skipBuckets(c.c.Seek(seek)) }

func (c boltCursor) Next() ([]byte, []byte) { return c.skipBuckets(c.c.Next()) }
