package ptree

import (
	"bytes"
	"testing"
)

func TestBytesBuilder_Basics(t *testing.T) {
	var bb bytesBuilder
	off := bb.Grow(3)
	copy(bb.Buf[off:], []byte{1, 2, 3})
	_ = bb.WriteByte(4)
	_, _ = bb.Write([]byte{5, 6})
	bb.AppendFixedUint64(0x0102030405060708)

	want := []byte{1, 2, 3, 4, 5, 6, 1, 2, 3, 4, 5, 6, 7, 8}
	if !bytes.Equal(bb.Buf, want) {
		t.Fatalf("bb.Buf = %x, wanted %x", bb.Buf, want)
	}
}

func TestEnsureCapacityKeepsContents(t *testing.T) {
	buf := []byte{1, 2}
	buf = ensureCapacity(buf, 100)
	if cap(buf) < 100 || !bytes.Equal(buf, []byte{1, 2}) {
		t.Fatalf("ensureCapacity = %x (cap %d)", buf, cap(buf))
	}
}

func TestChunkKeyOrder(t *testing.T) {
	prev := chunkKey(0)
	for _, n := range []uint64{1, 255, 256, 1 << 32, 1<<63 + 5} {
		k := chunkKey(n)
		if bytes.Compare(prev, k) >= 0 {
			t.Fatalf("chunkKey(%d) = %x sorts before %x", n, k, prev)
		}
		got, err := parseChunkKey(k)
		if err != nil || got != n {
			t.Fatalf("parseChunkKey(%x) = (%d, %v), wanted %d", k, got, err, n)
		}
		prev = k
	}
	if _, err := parseChunkKey([]byte{1, 2}); err == nil {
		t.Fatalf("parseChunkKey accepted a short key")
	}
}
