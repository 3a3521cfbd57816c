package ptree

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/andreyvit/ptree/codec"
)

func loggingTo(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestReadElems_CorruptChunk(t *testing.T) {
	var buf bytes.Buffer
	f := setupWith(t, Options{Logger: loggingTo(&buf)})
	e := must(f.CreateEArray("/", "e", Atom{Type: Int32}, "", &Filters{Fletcher32: true}))
	success(t, e.Append([]int32{1, 2, 3}))

	success(t, f.update(func(tx *txn) error {
		db := tx.nodeBucket(e.Node).Bucket(dataBucketKey)
		chunk := bytes.Clone(db.Get(chunkKey(0)))
		chunk[len(chunk)-9] ^= 0xFF
		return db.Put(chunkKey(0), chunk)
	}))

	_, err := e.Read()
	iserr(t, err, codec.ErrChecksum)
	var ne *NodeError
	if !errors.As(err, &ne) || ne.Path != "/e" {
		t.Fatalf("err = %v, wanted a NodeError for /e", err)
	}
	if !strings.Contains(buf.String(), "key="+hexstr(chunkKey(0))) {
		t.Errorf("log lacks the chunk key:\n%s", buf.String())
	}
}

func TestCopy_ReencodeLogsChunkKeys(t *testing.T) {
	var buf bytes.Buffer
	f := setupWith(t, Options{Logger: loggingTo(&buf)})
	e := must(f.CreateEArray("/", "e", Atom{Type: Int64}, "", nil))
	success(t, e.Append([]int64{1, 2, 3, 4}))
	g := must(f.CreateGroup("/", "g", "", nil))

	c := must(e.CopyTo(g, "e", CopyOptions{Filters: &Filters{Level: 1}}))
	deepEqual(t, must(ReadArray[int64](c.Array())), []int64{1, 2, 3, 4})
	if !strings.Contains(buf.String(), "re-encoded chunk") || !strings.Contains(buf.String(), "key="+hexstr(chunkKey(0))) {
		t.Errorf("log lacks re-encoding record:\n%s", buf.String())
	}
}

func TestTable_ScanReportsReadErrors(t *testing.T) {
	var buf bytes.Buffer
	f := setupWith(t, Options{Logger: loggingTo(&buf)})
	tbl := must(f.CreateTable("/", "t", []Column{{Name: "x", Type: Int16}}, "", &Filters{Fletcher32: true}))
	success(t, tbl.AppendRows([][]any{{1}, {2}, {3}}))
	success(t, tbl.Flush())

	var seen []int64
	success(t, tbl.Scan(func(i int64, row []any) error {
		seen = append(seen, i)
		return nil
	}))
	deepEqual(t, seen, []int64{0, 1, 2})

	stop := errors.New("stop")
	seen = nil
	iserr(t, tbl.Scan(func(i int64, row []any) error {
		seen = append(seen, i)
		return stop
	}), stop)
	deepEqual(t, seen, []int64{0})

	f.cache.Purge()
	success(t, f.update(func(tx *txn) error {
		db := tx.nodeBucket(tbl.Node).Bucket(dataBucketKey)
		chunk := bytes.Clone(db.Get(chunkKey(0)))
		chunk[len(chunk)-9] ^= 0xFF
		return db.Put(chunkKey(0), chunk)
	}))
	iserr(t, tbl.Scan(func(int64, []any) error { return nil }), codec.ErrChecksum)

	var n int
	for range tbl.Rows() {
		n++
	}
	deepEqual(t, n, 0)
	if !strings.Contains(buf.String(), "reading rows") {
		t.Errorf("Rows did not log the read error:\n%s", buf.String())
	}
}
