package ptree

import (
	"github.com/andreyvit/ptree/codec"
)

// NodeStats describes the storage used by a node and its subtree.
type NodeStats struct {
	Nodes  int
	Attrs  int
	Rows   int64
	Chunks int

	// StoredSize is the size of data chunks as stored, RawSize as decoded.
	StoredSize int64
	RawSize    int64

	// Alloc is the space allocated by the storage engine for the subtree, when
	// the engine tracks it.
	Alloc int64
}

// CompressionRatio is RawSize divided by StoredSize, or 1 with no data.
func (s *NodeStats) CompressionRatio() float64 {
	if s.StoredSize == 0 {
		return 1
	}
	return float64(s.RawSize) / float64(s.StoredSize)
}

func (f *File) NodeStats(ref any) (NodeStats, error) {
	n, err := f.resolve(ref)
	if err != nil {
		return NodeStats{}, err
	}
	var result NodeStats
	err = f.view(func(tx *txn) error {
		nb := tx.nodeBucket(n)
		result.Alloc = nb.Stats().TotalAlloc()
		return n.collectStats(nb, &result)
	})
	return result, err
}

func (n *Node) collectStats(nb storageBucket, s *NodeStats) error {
	s.Nodes++
	s.Attrs += len(n.attrs.entries)
	switch {
	case n.table != nil:
		s.Rows += n.table.rows
	case n.array != nil:
		s.Rows += n.array.length
	}
	if db := nb.Bucket(dataBucketKey); db != nil {
		c := db.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			size, err := codec.RawSize(v)
			if err != nil {
				return nodeErrf(n.Path(), err, "chunk %x", k)
			}
			s.Chunks++
			s.StoredSize += int64(len(v))
			s.RawSize += int64(size)
		}
	}
	if n.kind == KindGroup {
		cb := nb.Bucket(childrenBucketKey)
		for _, child := range n.Children() {
			if err := child.collectStats(cb.Bucket([]byte(child.name)), s); err != nil {
				return err
			}
		}
	}
	return nil
}
