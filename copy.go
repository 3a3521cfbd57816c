package ptree

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/andreyvit/ptree/codec"
)

// CopyOptions control subtree copies.
type CopyOptions struct {
	// Recursive copies whole subtrees. Otherwise child groups are created empty.
	Recursive bool

	// Filters, if set, become the explicit filters of every copied group,
	// table and extendable array. When nil, copies inherit filters from their
	// new ancestors exactly like freshly created nodes.
	Filters *Filters

	// KeepFilters makes copies keep the filters of their originals when
	// Filters is nil: explicit group filters are preserved and tables and
	// extendable arrays keep theirs.
	KeepFilters bool

	// CopyUserAttrs duplicates user attributes. System attributes are always
	// generated afresh, except TITLE which is copied.
	CopyUserAttrs bool
}

type copier struct {
	src   *File
	dst   *File
	opts  CopyOptions
	srcTx *txn
	count int
}

// CopyChildren copies the children of group n into group dst, which may
// belong to another file.
func (n *Node) CopyChildren(dst *Node, opts CopyOptions) error {
	if err := n.checkOpen(); err != nil {
		return err
	}
	if n.kind != KindGroup {
		return nodeErrf(n.Path(), ErrWrongKind, "%v has no children", n.kind)
	}
	if err := dst.checkMutable(); err != nil {
		return err
	}
	if dst.kind != KindGroup {
		return nodeErrf(dst.Path(), ErrWrongKind, "cannot copy into a %v", dst.kind)
	}
	if dst.file == n.file && dst.isWithin(n) {
		return nodeErrf(dst.Path(), ErrOverlap, "destination is inside %s", n.Path())
	}
	children := n.Children()
	for _, child := range children {
		if _, err := dst.file.checkCreate(dst, child.name); err != nil {
			return err
		}
	}

	c := &copier{src: n.file, dst: dst.file, opts: opts}
	err := c.run(func(tx *txn) error {
		for _, child := range children {
			if _, err := c.copyNode(tx, child, dst, child.name, opts.Recursive); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.dst.logger.Debug("ptree: copied children", "src", n.Path(), "dst", dst.Path(), "nodes", c.count)
	return nil
}

// CopyTo copies n under dstParent as name. A group is copied with its subtree
// only when opts.Recursive is set.
func (n *Node) CopyTo(dstParent *Node, name string, opts CopyOptions) (*Node, error) {
	if err := n.checkOpen(); err != nil {
		return nil, err
	}
	if n.IsRoot() {
		return nil, nodeErrf("/", ErrAccessDenied, "cannot copy the root group, use CopyChildren")
	}
	if err := dstParent.checkMutable(); err != nil {
		return nil, err
	}
	if dstParent.file == n.file && dstParent.isWithin(n) {
		return nil, nodeErrf(dstParent.Path(), ErrOverlap, "destination is inside %s", n.Path())
	}
	if _, err := dstParent.file.checkCreate(dstParent, name); err != nil {
		return nil, err
	}

	c := &copier{src: n.file, dst: dstParent.file, opts: opts}
	var result *Node
	err := c.run(func(tx *txn) error {
		var err error
		result, err = c.copyNode(tx, n, dstParent, name, opts.Recursive)
		return err
	})
	if err != nil {
		return nil, err
	}
	c.dst.logger.Debug("ptree: copied node", "src", n.Path(), "dst", result.Path(), "nodes", c.count)
	return result, nil
}

// run executes fn in a destination transaction with source data readable
// through c.srcTx.
func (c *copier) run(fn func(tx *txn) error) error {
	if c.src != c.dst {
		stx, err := c.src.store.BeginTx(false)
		if err != nil {
			return fmt.Errorf("ptree: begin: %w", err)
		}
		defer stx.Rollback()
		c.srcTx = &txn{file: c.src, stx: stx, state: c.src.state}
	}
	return c.dst.update(func(tx *txn) error {
		if c.srcTx == nil {
			c.srcTx = tx
		}
		return fn(tx)
	})
}

func (c *copier) copyNode(tx *txn, sn *Node, dstParent *Node, name string, recursive bool) (*Node, error) {
	tmpl := &nodeTemplate{kind: sn.kind, title: sn.Title()}
	if c.opts.CopyUserAttrs {
		tmpl.userRaw = sn.attrs.userRaw()
	}
	switch {
	case sn.kind == KindArray:
	case c.opts.Filters != nil:
		tmpl.filters = c.opts.Filters
	case c.opts.KeepFilters && (sn.explicit || sn.kind != KindGroup):
		tmpl.filters = filtersPtr(sn.filters)
	}

	var target Filters
	switch {
	case sn.kind == KindArray:
	case tmpl.filters != nil:
		target = tmpl.filters.Normalize()
	default:
		target = ResolveFilters(dstParent)
	}

	switch sn.kind {
	case KindTable:
		t := sn.table
		tmpl.cols = t.cols
		chunks, err := c.dataChunks(sn, target, t.recSize)
		if err != nil {
			return nil, err
		}
		pending, err := encodeChunks(target, t.pending, t.recSize, c.dst.opt.ChunkSize)
		if err != nil {
			return nil, nodeErrf(sn.Path(), err, "encoding buffered rows")
		}
		tmpl.chunks = append(chunks, pending...)
		tmpl.rows = t.rows + int64(t.npending)
	case KindArray, KindEArray:
		a := sn.array
		tmpl.state.Atom = a.atom
		chunks, err := c.dataChunks(sn, target, a.atom.Size())
		if err != nil {
			return nil, err
		}
		tmpl.chunks = chunks
		tmpl.rows = a.length
	}

	n := c.dst.buildNode(tx, dstParent, name, tmpl)
	c.count++
	if recursive && sn.kind == KindGroup {
		for _, child := range sn.Children() {
			if _, err := c.copyNode(tx, child, n, child.name, true); err != nil {
				return nil, err
			}
		}
	}
	return n, nil
}

// dataChunks returns the data chunks of sn ready to be stored with target
// filters. Chunks already encoded with equal filters are copied as is.
func (c *copier) dataChunks(sn *Node, target Filters, elemSize int) ([][]byte, error) {
	db := c.srcTx.nodeBucket(sn).Bucket(dataBucketKey)
	if db == nil {
		return nil, nil
	}
	same := ResolveFilters(sn).Equal(target)
	p := target.pipeline()
	var chunks [][]byte
	cur := db.Cursor()
	for k, v := cur.First(); k != nil; k, v = cur.Next() {
		if same {
			chunks = append(chunks, bytes.Clone(v))
			continue
		}
		raw, err := codec.Decode(v)
		if err != nil {
			return nil, nodeErrf(sn.Path(), err, "chunk %s", hexstr(k))
		}
		chunk, err := p.Encode(nil, raw, elemSize)
		if err != nil {
			return nil, nodeErrf(sn.Path(), err, "re-encoding chunk %s", hexstr(k))
		}
		c.dst.logger.Debug("ptree: re-encoded chunk", "src", sn.Path(), hexAttr("key", k), "stored", len(v), "now", len(chunk))
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

func (s *AttributeSet) userRaw() map[string][]byte {
	m := make(map[string][]byte)
	for name, e := range s.entries {
		if !e.system {
			m[name] = e.raw
		}
	}
	return m
}

// CopyFileOptions control whole-container copies.
type CopyFileOptions struct {
	// Title of the destination root group. Empty keeps the source title.
	Title string

	// Overwrite replaces an existing destination instead of failing with
	// ErrDestinationExists.
	Overwrite bool

	CopyUserAttrs bool

	// Filters become the root filters of the destination and are inherited by
	// every copied node. When nil, all nodes keep their original filters.
	Filters *Filters

	// Options configure the destination file. Title and Filters are ignored.
	Options Options
}

// CopyFile copies the whole tree of f into a new container at dstPath.
func (f *File) CopyFile(dstPath string, opts CopyFileOptions) error {
	if err := f.checkOpen(); err != nil {
		return err
	}
	if !opts.Options.InMemory {
		if same, _ := samePath(f.path, dstPath); same && !f.opt.InMemory {
			return fmt.Errorf("ptree: %s: %w: cannot copy a file onto itself", dstPath, ErrOverlap)
		}
		_, err := os.Stat(dstPath)
		switch {
		case err == nil && !opts.Overwrite:
			return fmt.Errorf("ptree: %s: %w", dstPath, ErrDestinationExists)
		case err != nil && !errors.Is(err, fs.ErrNotExist):
			return fmt.Errorf("ptree: %w", err)
		}
	}

	dstOpt := opts.Options
	dstOpt.Title = opts.Title
	if dstOpt.Title == "" {
		dstOpt.Title = f.Title()
	}
	dstOpt.Filters = opts.Filters
	if opts.Filters == nil && f.root.explicit {
		dstOpt.Filters = filtersPtr(f.root.filters)
	}
	if dstOpt.Logger == nil {
		dstOpt.Logger = f.logger
	}

	dst, err := Open(dstPath, ModeCreate, dstOpt)
	if err != nil {
		return err
	}
	err = f.copyInto(dst, opts)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	return err
}

func (f *File) copyInto(dst *File, opts CopyFileOptions) error {
	if opts.CopyUserAttrs {
		attrs := f.root.attrs.userRaw()
		if len(attrs) > 0 {
			err := dst.update(func(tx *txn) error {
				ab := tx.subBucket(dst.root, attrsBucketKey)
				for name, raw := range attrs {
					dst.root.attrs.put(tx, ab, name, &attrEntry{raw: raw})
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
	}
	return f.root.CopyChildren(dst.root, CopyOptions{
		Recursive:     true,
		KeepFilters:   opts.Filters == nil,
		CopyUserAttrs: opts.CopyUserAttrs,
	})
}

// CopyFile copies the container at srcPath into a new container at dstPath.
func CopyFile(srcPath, dstPath string, opts CopyFileOptions) error {
	srcOpt := opts.Options
	srcOpt.InMemory = false
	src, err := Open(srcPath, ModeRead, srcOpt)
	if err != nil {
		return err
	}
	defer src.Close()
	return src.CopyFile(dstPath, opts)
}

func samePath(a, b string) (bool, error) {
	aa, err := filepath.Abs(a)
	if err != nil {
		return false, err
	}
	bb, err := filepath.Abs(b)
	if err != nil {
		return false, err
	}
	return aa == bb, nil
}
