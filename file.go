package ptree

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.etcd.io/bbolt"
)

const formatVersion = 1

// Mode selects how Open treats the container.
type Mode string

const (
	// ModeRead opens an existing container read-only.
	ModeRead Mode = "r"
	// ModeReadWrite opens an existing container for reading and writing.
	ModeReadWrite Mode = "r+"
	// ModeCreate creates a new container, replacing any existing one.
	ModeCreate Mode = "w"
	// ModeAppend opens a container for writing, creating it if necessary.
	ModeAppend Mode = "a"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeRead, ModeReadWrite, ModeCreate, ModeAppend:
		return m, nil
	default:
		return "", fmt.Errorf("invalid mode %q (wanted r, r+, w or a)", s)
	}
}

func (m Mode) Writable() bool {
	return m != ModeRead
}

type Options struct {
	// Title and Filters apply to the root group of a newly created container.
	Title   string
	Filters *Filters

	Warnings WarningPolicy
	Logger   *slog.Logger

	// InMemory keeps the whole container in memory; the path is only a label.
	InMemory bool

	// LockTimeout bounds the wait for another writer to release the file.
	LockTimeout time.Duration

	IsTesting bool
	MmapSize  int

	// MaxColumns and MaxTreeDepth are the thresholds of performance advisories.
	MaxColumns   int
	MaxTreeDepth int

	// ChunkCacheSize is the number of decoded chunks kept in memory.
	ChunkCacheSize int
	// ChunkSize is the target size in bytes of a table chunk.
	ChunkSize int
}

const (
	DefaultMaxColumns     = 1024
	DefaultMaxTreeDepth   = 2048
	DefaultChunkCacheSize = 256
	DefaultChunkSize      = 64 * 1024
	DefaultLockTimeout    = 10 * time.Second
)

func (opt *Options) setDefaults() {
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	if opt.LockTimeout == 0 {
		opt.LockTimeout = DefaultLockTimeout
	}
	if opt.MaxColumns == 0 {
		opt.MaxColumns = DefaultMaxColumns
	}
	if opt.MaxTreeDepth == 0 {
		opt.MaxTreeDepth = DefaultMaxTreeDepth
	}
	if opt.ChunkCacheSize == 0 {
		opt.ChunkCacheSize = DefaultChunkCacheSize
	}
	if opt.ChunkSize == 0 {
		opt.ChunkSize = DefaultChunkSize
	}
}

type fileState struct {
	FormatVersion int    `msgpack:"v"`
	LastOID       uint64 `msgpack:"o"`
}

type chunkID struct {
	oid uint64
	num uint64
}

// File is an open container holding one object tree. A File is not safe for
// concurrent use.
type File struct {
	path   string
	mode   Mode
	opt    Options
	store  storage
	logger *slog.Logger

	nodes  map[nodeID]*Node
	lastID nodeID
	root   *Node
	state  fileState
	cache  *lru.Cache[chunkID, []byte]

	lastSize int64
	closed   bool
}

// Open opens or creates the container at path.
func Open(path string, mode Mode, opt Options) (*File, error) {
	if _, err := ParseMode(string(mode)); err != nil {
		return nil, err
	}
	opt.setDefaults()

	store, err := openStorage(path, mode, &opt)
	if err != nil {
		return nil, err
	}

	f := &File{
		path:   path,
		mode:   mode,
		opt:    opt,
		store:  store,
		logger: opt.Logger,
		nodes:  make(map[nodeID]*Node),
		cache:  must(lru.New[chunkID, []byte](opt.ChunkCacheSize)),
	}
	if err := f.init(); err != nil {
		store.Close()
		return nil, err
	}
	f.logger.Debug("ptree: opened", "path", path, "mode", string(mode), "nodes", len(f.nodes), "size", f.lastSize)
	return f, nil
}

func openStorage(path string, mode Mode, opt *Options) (storage, error) {
	if opt.InMemory {
		return newMemStorage(), nil
	}

	switch mode {
	case ModeRead, ModeReadWrite:
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("ptree: %w", err)
		}
	}

	bopt := *bbolt.DefaultOptions
	bopt.Timeout = opt.LockTimeout
	bopt.ReadOnly = !mode.Writable()
	if opt.IsTesting {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
		bopt.InitialMmapSize = 1024 * 1024 * 5
	} else {
		bopt.FreelistType = bbolt.FreelistMapType
	}
	if opt.MmapSize != 0 {
		bopt.InitialMmapSize = opt.MmapSize
	}

	bdb, err := bbolt.Open(path, 0666, &bopt)
	if mode == ModeCreate && isForeignFile(err) {
		// bbolt only inspects the file after taking the lock, so no writer holds it.
		if err := os.Truncate(path, 0); err != nil {
			return nil, fmt.Errorf("ptree: %w", err)
		}
		bdb, err = bbolt.Open(path, 0666, &bopt)
	}
	switch {
	case errors.Is(err, bbolt.ErrTimeout):
		return nil, fmt.Errorf("ptree: %s: %w", path, ErrLocked)
	case isForeignFile(err):
		return nil, fmt.Errorf("ptree: %s: %w: %v", path, ErrNotPtree, err)
	case err != nil:
		return nil, fmt.Errorf("ptree: %w", err)
	}
	return newBoltStorage(bdb), nil
}

func isForeignFile(err error) bool {
	return errors.Is(err, bbolt.ErrInvalid) || errors.Is(err, bbolt.ErrVersionMismatch) || errors.Is(err, bbolt.ErrChecksum)
}

func (f *File) init() error {
	var fresh bool
	err := f.view(func(tx *txn) error {
		fresh = tx.stx.Bucket(topBucketKey) == nil
		return nil
	})
	if err != nil {
		return err
	}
	if !fresh && f.mode == ModeCreate {
		// The existing tree is dropped while holding the writer lock.
		err := f.update(func(tx *txn) error {
			return tx.stx.DeleteBucket(topBucketKey)
		})
		if err != nil {
			return err
		}
		fresh = true
	}
	if fresh {
		if !f.mode.Writable() {
			return fmt.Errorf("ptree: %s: %w", f.path, ErrNotPtree)
		}
		return f.create()
	}
	return f.view(func(tx *txn) error {
		return f.load(tx)
	})
}

func (f *File) create() error {
	root := f.newNode(0, "", KindGroup)
	if f.opt.Filters != nil {
		root.filters = f.opt.Filters.Normalize()
		if err := root.filters.Validate(); err != nil {
			return err
		}
		root.explicit = true
	}
	err := f.update(func(tx *txn) error {
		top := must(tx.stx.CreateBucket(topBucketKey))
		tx.state = fileState{FormatVersion: formatVersion}
		tx.dirty = true
		root.oid = tx.allocOID()
		rb := must(top.CreateBucket(rootBucketKey))
		f.writeNode(tx, rb, root, &nodeState{}, groupAttrs(root, f.opt.Title))
		return nil
	})
	if err != nil {
		delete(f.nodes, root.id)
		return err
	}
	f.root = root
	return nil
}

func (f *File) load(tx *txn) error {
	top := tx.top()
	raw := top.Get(fileStateKey)
	if raw == nil {
		return fmt.Errorf("ptree: %s: %w: missing file state", f.path, ErrNotPtree)
	}
	if err := decodeMsgpack(raw, &f.state); err != nil {
		return fmt.Errorf("ptree: %s: %w", f.path, err)
	}
	if f.state.FormatVersion > formatVersion {
		return fmt.Errorf("ptree: %s: %w: unsupported format version %d", f.path, ErrNotPtree, f.state.FormatVersion)
	}
	rb := top.Bucket(rootBucketKey)
	if rb == nil {
		return fmt.Errorf("ptree: %s: %w: missing root group", f.path, ErrNotPtree)
	}
	root, err := f.loadNode(rb, 0, "")
	if err != nil {
		return err
	}
	f.root = root
	return nil
}

func (f *File) loadNode(nb storageBucket, parent nodeID, name string) (*Node, error) {
	var st nodeState
	raw := nb.Get(metaKey)
	if raw == nil {
		return nil, fmt.Errorf("ptree: node %q: missing state", name)
	}
	if err := decodeMsgpack(raw, &st); err != nil {
		return nil, fmt.Errorf("ptree: node %q: %w", name, err)
	}

	n := f.newNode(parent, name, st.Kind)
	n.oid = st.OID
	n.filters = st.Filters
	n.explicit = st.Explicit
	if err := n.attrs.load(nb.Bucket(attrsBucketKey)); err != nil {
		return nil, fmt.Errorf("ptree: %s: %w", n.Path(), err)
	}

	switch st.Kind {
	case KindGroup:
		if cb := nb.Bucket(childrenBucketKey); cb != nil {
			for _, childName := range cb.Buckets() {
				child, err := f.loadNode(cb.Bucket(childName), n.id, string(childName))
				if err != nil {
					return nil, err
				}
				n.children[child.name] = child.id
			}
		}
	case KindTable:
		cols, err := columnsFromState(st.Columns)
		if err != nil {
			return nil, fmt.Errorf("ptree: %s: %w", n.Path(), err)
		}
		t, err := newTable(n, cols)
		if err != nil {
			return nil, fmt.Errorf("ptree: %s: %w", n.Path(), err)
		}
		t.rows = st.Rows
		t.nextChunk = st.Chunks
	case KindArray, KindEArray:
		a := newArray(n, st.Atom)
		a.length = st.Rows
		a.nextChunk = st.Chunks
	default:
		return nil, fmt.Errorf("ptree: node %q: %w", name, dataErrf(raw, 0, nil, "invalid node kind %d", st.Kind))
	}
	return n, nil
}

func (f *File) newNode(parent nodeID, name string, kind Kind) *Node {
	f.lastID++
	n := &Node{
		file:   f,
		id:     f.lastID,
		parent: parent,
		name:   name,
		kind:   kind,
	}
	n.attrs = newAttributeSet(n)
	if kind == KindGroup {
		n.children = make(map[string]nodeID)
	}
	f.nodes[n.id] = n
	return n
}

// writeNode persists a new node into its freshly created bucket.
func (f *File) writeNode(tx *txn, nb storageBucket, n *Node, st *nodeState, sys []attrKV) {
	st.OID = n.oid
	st.Kind = n.kind
	st.Explicit = n.explicit
	st.Filters = n.filters
	tx.putNodeState(nb, st)
	n.attrs.initSystem(must(nb.CreateBucket(attrsBucketKey)), sys)
	if n.kind == KindGroup {
		must(nb.CreateBucket(childrenBucketKey))
	}
}

func (f *File) Path() string { return f.path }
func (f *File) Mode() Mode   { return f.mode }
func (f *File) Root() *Node  { return f.root }

// Title returns the title of the root group.
func (f *File) Title() string { return f.root.Title() }

// Filters returns the filters of the root group.
func (f *File) Filters() Filters { return f.root.Filters() }

// Size returns the size of the container as of the last transaction.
func (f *File) Size() int64 { return f.lastSize }

func (f *File) IsClosed() bool { return f.closed }

func (f *File) Logger() *slog.Logger { return f.logger }

// Node resolves a slash-separated path. A leading slash is optional and empty
// segments are ignored, so "" and "/" both name the root group.
func (f *File) Node(path string) (*Node, error) {
	if err := f.checkOpen(); err != nil {
		return nil, err
	}
	n := f.root
	for _, name := range splitPath(path) {
		if n.kind != KindGroup {
			return nil, nodeErrf(path, ErrNoSuchNode, "%s is a %v", n.Path(), n.kind)
		}
		id, ok := n.children[name]
		if !ok {
			return nil, nodeErrf(path, ErrNoSuchNode, "")
		}
		n = f.nodes[id]
	}
	return n, nil
}

// Has reports whether path names an existing node.
func (f *File) Has(path string) bool {
	_, err := f.Node(path)
	return err == nil
}

// resolve accepts a *Node, *Table, *Array or a path string.
func (f *File) resolve(ref any) (*Node, error) {
	var n *Node
	switch ref := ref.(type) {
	case *Node:
		n = ref
	case *Table:
		n = ref.Node
	case *Array:
		n = ref.Node
	case string:
		return f.Node(ref)
	default:
		return nil, fmt.Errorf("ptree: cannot use %T as a node reference", ref)
	}
	if n == nil {
		return nil, fmt.Errorf("ptree: nil node reference")
	}
	if n.file != f {
		return nil, nodeErrf(n.Path(), ErrNoSuchNode, "node belongs to %s", n.file.path)
	}
	if err := n.checkOpen(); err != nil {
		return nil, err
	}
	return n, nil
}

func (f *File) resolveGroup(ref any) (*Node, error) {
	n, err := f.resolve(ref)
	if err != nil {
		return nil, err
	}
	if n.kind != KindGroup {
		return nil, nodeErrf(n.Path(), ErrWrongKind, "%v is not a group", n.kind)
	}
	return n, nil
}

// SetNodeAttr sets a user attribute on the node named by ref (a node or a path).
func (f *File) SetNodeAttr(ref any, name string, value any) error {
	n, err := f.resolve(ref)
	if err != nil {
		return err
	}
	return n.attrs.Set(name, value)
}

func (f *File) GetNodeAttr(ref any, name string) (any, error) {
	n, err := f.resolve(ref)
	if err != nil {
		return nil, err
	}
	return n.attrs.Get(name)
}

func (f *File) DelNodeAttr(ref any, name string) error {
	n, err := f.resolve(ref)
	if err != nil {
		return err
	}
	return n.attrs.Delete(name)
}

func (f *File) checkOpen() error {
	if f.closed {
		return ErrClosed
	}
	return nil
}

func (f *File) checkWritable() error {
	if f.closed {
		return ErrClosed
	}
	if !f.mode.Writable() {
		return fmt.Errorf("ptree: %s: %w", f.path, ErrReadOnly)
	}
	return nil
}

func (f *File) warn(w *Warning) error {
	return f.opt.Warnings.emit(f.logger, w)
}

// Flush persists the buffered rows of every table.
func (f *File) Flush() error {
	if err := f.checkOpen(); err != nil {
		return err
	}
	if !f.mode.Writable() {
		return nil
	}
	var errs []error
	for n := range f.root.Walk(true) {
		if n.table != nil {
			if err := n.table.Flush(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Close flushes buffered rows and releases the container. Closing a closed
// file is a no-op.
func (f *File) Close() error {
	if f.closed {
		return nil
	}
	flushErr := f.Flush()
	closeErr := f.store.Close()
	f.closed = true
	f.cache.Purge()
	f.logger.Debug("ptree: closed", "path", f.path)
	if closeErr != nil {
		closeErr = fmt.Errorf("ptree: closing: %w", closeErr)
	}
	return errors.Join(flushErr, closeErr)
}
