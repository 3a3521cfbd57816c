package ptree

import (
	"bytes"
	"fmt"
	"slices"
	"sort"
	"sync"
)

type memStorage struct {
	mu     sync.Mutex
	cond   *sync.Cond
	root   *memBucket
	closed bool
	writer bool
}

// newMemStorage returns a transient in-memory storage that backs in-memory
// files and tests.
func newMemStorage() storage {
	s := &memStorage{root: newMemBucket()}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *memStorage) BeginTx(writable bool) (storageTx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("storage closed")
	}
	if writable {
		for s.writer && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			return nil, fmt.Errorf("storage closed")
		}
		s.writer = true
	}

	// Snapshot the entire tree for transactional isolation (simplicity over efficiency).
	return &memTx{
		writable: writable,
		base:     s,
		root:     s.root.clone(),
	}, nil
}

func (s *memStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.root = nil
	if s.cond != nil {
		s.cond.Broadcast()
	}
	return nil
}

type memTx struct {
	base     *memStorage
	writable bool
	root     *memBucket
	closed   bool
}

func (tx *memTx) Writable() bool { return tx.writable }

func (tx *memTx) closeLocked() {
	if tx.closed {
		return
	}
	tx.closed = true
	if tx.writable {
		tx.base.writer = false
		tx.base.cond.Broadcast()
	}
}

func (tx *memTx) Bucket(name []byte) storageBucket {
	if tx.closed {
		panic("tx is closed")
	}
	return memBucketHandle{tx: tx, b: tx.root}.Bucket(name)
}

func (tx *memTx) CreateBucket(name []byte) (storageBucket, error) {
	if tx.closed {
		panic("tx is closed")
	}
	return memBucketHandle{tx: tx, b: tx.root}.CreateBucket(name)
}

func (tx *memTx) DeleteBucket(name []byte) error {
	if tx.closed {
		panic("tx is closed")
	}
	return memBucketHandle{tx: tx, b: tx.root}.DeleteBucket(name)
}

func (tx *memTx) Commit() error {
	if tx.closed {
		return nil
	}
	if !tx.writable {
		return fmt.Errorf("tx not writable")
	}
	tx.base.mu.Lock()
	defer tx.base.mu.Unlock()
	if tx.base.closed {
		tx.closeLocked()
		return fmt.Errorf("storage closed")
	}
	tx.base.root = tx.root
	tx.closeLocked()
	return nil
}

func (tx *memTx) Rollback() error {
	tx.base.mu.Lock()
	defer tx.base.mu.Unlock()
	tx.closeLocked()
	return nil
}

func (tx *memTx) Size() int64 {
	return tx.root.stats().LeafInuse
}

type memBucket struct {
	items   []memKV // sorted by key
	buckets map[string]*memBucket
}

func newMemBucket() *memBucket {
	return &memBucket{buckets: make(map[string]*memBucket)}
}

func (b *memBucket) clone() *memBucket {
	if b == nil {
		return nil
	}
	out := &memBucket{
		items:   make([]memKV, len(b.items)),
		buckets: make(map[string]*memBucket, len(b.buckets)),
	}
	for i, kv := range b.items {
		out.items[i] = memKV{
			key:   slices.Clone(kv.key),
			value: slices.Clone(kv.value),
		}
	}
	for name, sub := range b.buckets {
		out.buckets[name] = sub.clone()
	}
	return out
}

func (b *memBucket) stats() bucketStats {
	var s bucketStats
	s.KeyN = len(b.items)
	for _, kv := range b.items {
		s.LeafInuse += int64(len(kv.key) + len(kv.value))
	}
	for name, sub := range b.buckets {
		ss := sub.stats()
		s.BucketN += 1 + ss.BucketN
		s.KeyN += ss.KeyN
		s.LeafInuse += int64(len(name)) + ss.LeafInuse
	}
	s.LeafAlloc = s.LeafInuse
	return s
}

type memKV struct {
	key   []byte
	value []byte
}

type memBucketHandle struct {
	tx *memTx
	b  *memBucket
}

func (b memBucketHandle) Get(key []byte) []byte {
	i, ok := b.find(key)
	if !ok {
		return nil
	}
	return b.b.items[i].value
}

func (b memBucketHandle) Put(key, value []byte) error {
	if !b.tx.writable {
		return fmt.Errorf("tx not writable")
	}
	if _, isBucket := b.b.buckets[string(key)]; isBucket {
		return fmt.Errorf("key %q is a bucket", key)
	}
	key = slices.Clone(key)
	value = slices.Clone(value)

	i, ok := b.find(key)
	if ok {
		b.b.items[i].value = value
		return nil
	}
	b.b.items = slices.Insert(b.b.items, i, memKV{key: key, value: value})
	return nil
}

func (b memBucketHandle) Delete(key []byte) error {
	if !b.tx.writable {
		return fmt.Errorf("tx not writable")
	}
	i, ok := b.find(key)
	if !ok {
		return nil
	}
	b.b.items = slices.Delete(b.b.items, i, i+1)
	return nil
}

func (b memBucketHandle) Bucket(name []byte) storageBucket {
	sub := b.b.buckets[string(name)]
	if sub == nil {
		return nil
	}
	return memBucketHandle{tx: b.tx, b: sub}
}

func (b memBucketHandle) CreateBucket(name []byte) (storageBucket, error) {
	if !b.tx.writable {
		return nil, fmt.Errorf("tx not writable")
	}
	if _, ok := b.find(name); ok {
		return nil, fmt.Errorf("key %q is not a bucket", name)
	}
	sub := b.b.buckets[string(name)]
	if sub == nil {
		sub = newMemBucket()
		b.b.buckets[string(name)] = sub
	}
	return memBucketHandle{tx: b.tx, b: sub}, nil
}

func (b memBucketHandle) DeleteBucket(name []byte) error {
	if !b.tx.writable {
		return fmt.Errorf("tx not writable")
	}
	if b.b.buckets[string(name)] == nil {
		return errBucketNotFound
	}
	delete(b.b.buckets, string(name))
	return nil
}

func (b memBucketHandle) Buckets() [][]byte {
	names := make([][]byte, 0, len(b.b.buckets))
	for name := range b.b.buckets {
		names = append(names, []byte(name))
	}
	slices.SortFunc(names, bytes.Compare)
	return names
}

func (b memBucketHandle) Cursor() storageCursor {
	return &memCursor{b: b.b, pos: -1}
}

func (b memBucketHandle) Stats() bucketStats { return b.b.stats() }

func (b memBucketHandle) KeyCount() int { return len(b.b.items) }

func (b memBucketHandle) find(key []byte) (idx int, ok bool) {
	items := b.b.items
	i := sort.Search(len(items), func(i int) bool {
		return bytes.Compare(items[i].key, key) >= 0
	})
	if i < len(items) && bytes.Equal(items[i].key, key) {
		return i, true
	}
	return i, false
}

type memCursor struct {
	b   *memBucket
	pos int
}

func (c *memCursor) First() ([]byte, []byte) {
	c.pos = 0
	return c.current()
}

func (c *memCursor) Seek(seek []byte) ([]byte, []byte) {
	items := c.b.items
	c.pos = sort.Search(len(items), func(i int) bool {
		return bytes.Compare(items[i].key, seek) >= 0
	})
	return c.current()
}

func (c *memCursor) Next() ([]byte, []byte) {
	if c.pos < 0 {
		return c.First()
	}
	c.pos++
	return c.current()
}

func (c *memCursor) current() ([]byte, []byte) {
	if c.pos >= len(c.b.items) {
		return nil, nil
	}
	kv := c.b.items[c.pos]
	return kv.key, kv.value
}
