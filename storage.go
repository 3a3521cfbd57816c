package ptree

import "errors"

// errBucketNotFound is returned by storageBucket.DeleteBucket when the bucket doesn't exist.
var errBucketNotFound = errors.New("bucket not found")

// storage represents a key-value storage backend with nested buckets (Bolt, in-memory).
type storage interface {
	// BeginTx starts a new transaction.
	BeginTx(writable bool) (storageTx, error)
	// Close closes the storage.
	Close() error
}

// storageTx represents a storage transaction.
type storageTx interface {
	// Writable returns true if this is a writable transaction.
	Writable() bool

	// Bucket returns a top-level bucket, or nil if it doesn't exist.
	Bucket(name []byte) storageBucket

	// CreateBucket creates a top-level bucket if it doesn't exist.
	CreateBucket(name []byte) (storageBucket, error)

	// DeleteBucket deletes a top-level bucket and everything below it.
	DeleteBucket(name []byte) error

	// Commit commits the transaction.
	Commit() error

	// Rollback aborts the transaction. It should be safe to call multiple times.
	Rollback() error

	// Size returns the database size in bytes (0 if unknown / not applicable).
	Size() int64
}

// storageBucket represents a bucket: sorted key-value pairs plus named sub-buckets.
type storageBucket interface {
	// Get retrieves a value by key. Returns nil if not found.
	Get(key []byte) []byte

	// Put stores a key-value pair.
	Put(key, value []byte) error

	// Delete removes a key.
	Delete(key []byte) error

	// Bucket returns a nested bucket, or nil if it doesn't exist.
	Bucket(name []byte) storageBucket

	// CreateBucket creates a nested bucket if it doesn't exist.
	CreateBucket(name []byte) (storageBucket, error)

	// DeleteBucket deletes a nested bucket and everything below it.
	DeleteBucket(name []byte) error

	// Buckets returns the names of nested buckets in key order.
	Buckets() [][]byte

	// Cursor returns a cursor over key-value pairs; nested buckets are skipped.
	Cursor() storageCursor

	// Stats returns storage-specific statistics, nested buckets included.
	// Backends that don't track allocation sizes may return zero values except KeyN.
	Stats() bucketStats

	// KeyCount returns the number of key-value pairs in this bucket alone.
	KeyCount() int
}

type bucketStats struct {
	KeyN        int
	BucketN     int
	LeafInuse   int64
	LeafAlloc   int64
	BranchAlloc int64
}

func (s bucketStats) TotalAlloc() int64 { return s.BranchAlloc + s.LeafAlloc }

// storageCursor iterates over a sorted bucket.
type storageCursor interface {
	// First moves to the first key-value pair.
	First() (key, value []byte)

	// Seek moves to the first key >= seek.
	Seek(seek []byte) (key, value []byte)

	// Next moves to the next key-value pair.
	Next() (key, value []byte)
}

// copyBucket copies every key and nested bucket of src into dst.
func copyBucket(dst, src storageBucket) error {
	c := src.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		if err := dst.Put(k, v); err != nil {
			return err
		}
	}
	for _, name := range src.Buckets() {
		sub, err := dst.CreateBucket(name)
		if err != nil {
			return err
		}
		if err := copyBucket(sub, src.Bucket(name)); err != nil {
			return err
		}
	}
	return nil
}
