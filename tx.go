package ptree

import (
	"fmt"
	"runtime/debug"
	"slices"
)

var (
	topBucketKey      = []byte("ptree")
	fileStateKey      = []byte("file")
	rootBucketKey     = []byte("root")
	metaKey           = []byte("m")
	attrsBucketKey    = []byte("a")
	childrenBucketKey = []byte("c")
	dataBucketKey     = []byte("d")
)

// txn wraps a storage transaction. In-memory state changes are queued with
// onCommit and applied only after the storage commit succeeds.
type txn struct {
	file  *File
	stx   storageTx
	state fileState
	dirty bool

	committed []func()
	// built lists nodes registered in the arena by this transaction; they are
	// discarded if it does not commit.
	built []*Node
}

func (tx *txn) onCommit(f func()) {
	tx.committed = append(tx.committed, f)
}

func (tx *txn) top() storageBucket {
	b := tx.stx.Bucket(topBucketKey)
	if b == nil {
		panic(fmt.Errorf("%w: missing %q bucket", ErrNotPtree, topBucketKey))
	}
	return b
}

// allocOID hands out the next persistent object id. Committed ids are never
// handed out again, even after the node is removed.
func (tx *txn) allocOID() uint64 {
	tx.state.LastOID++
	tx.dirty = true
	return tx.state.LastOID
}

// nodeBucket locates the bucket of n by walking from the root.
func (tx *txn) nodeBucket(n *Node) storageBucket {
	b := tx.top().Bucket(rootBucketKey)
	for _, name := range n.names() {
		b = b.Bucket(childrenBucketKey)
		if b != nil {
			b = b.Bucket([]byte(name))
		}
		if b == nil {
			panic(fmt.Errorf("%s: node bucket missing", n.Path()))
		}
	}
	return b
}

func (tx *txn) subBucket(n *Node, key []byte) storageBucket {
	nb := tx.nodeBucket(n)
	if !tx.stx.Writable() {
		return nb.Bucket(key)
	}
	return must(nb.CreateBucket(key))
}

func (tx *txn) putNodeState(nb storageBucket, st *nodeState) {
	ensure(nb.Put(metaKey, mustEncodeMsgpack(nil, st)))
}

type panicked struct {
	reason any
	stack  string
}

func (p panicked) Error() string {
	return fmt.Sprintf("panic: %v\n\n%s", p.reason, p.stack)
}

func (p panicked) Unwrap() error {
	err, _ := p.reason.(error)
	return err
}

func safelyCall(fn func(*txn) error, tx *txn) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = panicked{p, string(debug.Stack())}
		}
	}()
	return fn(tx)
}

// update runs fn in a writable transaction and commits it if fn succeeds.
func (f *File) update(fn func(tx *txn) error) error {
	if err := f.checkWritable(); err != nil {
		return err
	}
	stx, err := f.store.BeginTx(true)
	if err != nil {
		return fmt.Errorf("ptree: begin: %w", err)
	}
	tx := &txn{file: f, stx: stx, state: f.state}
	err = safelyCall(fn, tx)
	if err == nil && tx.dirty {
		err = safelyCall(func(tx *txn) error {
			return tx.top().Put(fileStateKey, mustEncodeMsgpack(nil, &tx.state))
		}, tx)
	}
	if err != nil {
		stx.Rollback()
		for _, n := range slices.Backward(tx.built) {
			f.discard(n)
		}
		return err
	}
	size := stx.Size()
	if err := stx.Commit(); err != nil {
		return fmt.Errorf("ptree: commit: %w", err)
	}
	f.state = tx.state
	f.lastSize = size
	for _, fn := range tx.committed {
		fn()
	}
	return nil
}

// view runs fn in a read-only transaction.
func (f *File) view(fn func(tx *txn) error) error {
	if err := f.checkOpen(); err != nil {
		return err
	}
	stx, err := f.store.BeginTx(false)
	if err != nil {
		return fmt.Errorf("ptree: begin: %w", err)
	}
	defer stx.Rollback()
	tx := &txn{file: f, stx: stx, state: f.state}
	f.lastSize = stx.Size()
	return safelyCall(fn, tx)
}
