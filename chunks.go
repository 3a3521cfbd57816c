package ptree

import (
	"github.com/andreyvit/ptree/codec"
)

// encodeChunks splits data into chunks of whole elements, at most chunkSize
// bytes each (but at least one element), and encodes them with filters.
func encodeChunks(filters Filters, data []byte, elemSize, chunkSize int) ([][]byte, error) {
	p := filters.pipeline()
	per := max(1, chunkSize/elemSize) * elemSize
	var chunks [][]byte
	for off := 0; off < len(data); off += per {
		end := min(len(data), off+per)
		chunk, err := p.Encode(nil, data[off:end], elemSize)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

// chunk returns the decoded contents of a stored chunk, consulting the chunk
// cache first. The result is shared and must not be modified.
func (f *File) chunk(oid, num uint64, stored []byte) ([]byte, error) {
	id := chunkID{oid, num}
	if data, ok := f.cache.Get(id); ok {
		return data, nil
	}
	data, err := codec.Decode(stored)
	if err != nil {
		return nil, err
	}
	f.cache.Add(id, data)
	return data, nil
}

// readElems returns elements [start, stop) of a node's data chunks.
func (n *Node) readElems(start, stop int64, elemSize int) ([]byte, error) {
	out := make([]byte, 0, (stop-start)*int64(elemSize))
	if start >= stop {
		return out, nil
	}
	err := n.file.view(func(tx *txn) error {
		db := tx.nodeBucket(n).Bucket(dataBucketKey)
		if db == nil {
			return nil
		}
		return scanChunks(db, start, stop, elemSize, func(num uint64, stored []byte, lo, hi int64) error {
			data, err := n.file.chunk(n.oid, num, stored)
			if err != nil {
				n.file.logger.Warn("ptree: undecodable chunk", "path", n.Path(), hexAttr("key", chunkKey(num)), "stored", len(stored))
				return nodeErrf(n.Path(), err, "chunk %d", num)
			}
			out = append(out, data[lo*int64(elemSize):hi*int64(elemSize)]...)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// scanChunks calls fn for every chunk overlapping [start, stop) with the
// element range [lo, hi) of that chunk that falls inside.
func scanChunks(db storageBucket, start, stop int64, elemSize int, fn func(num uint64, stored []byte, lo, hi int64) error) error {
	var pos int64
	c := db.Cursor()
	for k, v := c.First(); k != nil && pos < stop; k, v = c.Next() {
		num, err := parseChunkKey(k)
		if err != nil {
			return err
		}
		size, err := codec.RawSize(v)
		if err != nil {
			return dataErrf(v, 0, err, "chunk %d", num)
		}
		cnt := int64(size / elemSize)
		if pos+cnt > start {
			lo := max(start-pos, 0)
			hi := min(stop-pos, cnt)
			if err := fn(num, v, lo, hi); err != nil {
				return err
			}
		}
		pos += cnt
	}
	return nil
}
