// Package codec implements the filter pipeline applied to data chunks before
// they are handed to storage.
//
// A stored chunk is self-describing:
//
//	chunk = flags:8 library:8 elemSize:uvarint rawSize:uvarint payload checksum:64?
//
// Flags record whether the payload was shuffled and whether the trailing
// xxhash64 checksum (covering everything before it) is present. The library
// byte names the compressor actually used, which may be None even when the
// pipeline asks for compression: chunks that don't shrink are stored as is.
package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/golang/snappy"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

var (
	ErrCorrupted = errors.New("corrupted chunk")
	ErrChecksum  = errors.New("chunk checksum mismatch")
)

const (
	flagShuffle  = 1 << 0
	flagChecksum = 1 << 1

	checksumLen = 8
	maxLevel    = 9
)

// Library identifies a compression library. The numeric values are stored in
// chunk headers and must not change.
type Library uint8

const (
	None Library = iota
	Zlib
	Zstd
	LZ4
	Snappy
)

var libraryNames = [...]string{
	None:   "none",
	Zlib:   "zlib",
	Zstd:   "zstd",
	LZ4:    "lz4",
	Snappy: "snappy",
}

func (lib Library) String() string {
	if int(lib) < len(libraryNames) {
		return libraryNames[lib]
	}
	return fmt.Sprintf("unknown(%d)", uint8(lib))
}

func (lib Library) Valid() bool {
	return int(lib) < len(libraryNames)
}

// ParseLibrary accepts the names returned by Library.String. An empty string
// means None.
func ParseLibrary(name string) (Library, error) {
	if name == "" {
		return None, nil
	}
	for i, s := range libraryNames {
		if s == name {
			return Library(i), nil
		}
	}
	return None, fmt.Errorf("unknown compression library %q", name)
}

// Libraries returns all supported library names, None first.
func Libraries() []string {
	return append([]string(nil), libraryNames[:]...)
}

// Pipeline describes how a chunk is encoded.
type Pipeline struct {
	Level    int
	Library  Library
	Shuffle  bool
	Checksum bool
}

func (p Pipeline) compresses() bool {
	return p.Level > 0 && p.Library != None
}

// Encode encodes raw data whose elements are elemSize bytes long and appends
// the resulting chunk to dst.
func (p Pipeline) Encode(dst, raw []byte, elemSize int) ([]byte, error) {
	if p.Level < 0 || p.Level > maxLevel {
		return nil, fmt.Errorf("compression level %d out of range 0..%d", p.Level, maxLevel)
	}
	if !p.Library.Valid() {
		return nil, fmt.Errorf("unsupported compression library %v", p.Library)
	}
	if elemSize <= 0 {
		elemSize = 1
	}

	var flags byte
	payload := raw
	if p.Shuffle && elemSize > 1 {
		payload = shuffle(payload, elemSize)
		flags |= flagShuffle
	}

	lib := None
	if p.compresses() && len(payload) > 0 {
		compressed, err := compress(p.Library, p.Level, payload)
		switch {
		case err == errIncompressible:
		case err != nil:
			return nil, err
		default:
			payload = compressed
			lib = p.Library
		}
	}
	if p.Checksum {
		flags |= flagChecksum
	}

	start := len(dst)
	dst = append(dst, flags, byte(lib))
	dst = binary.AppendUvarint(dst, uint64(elemSize))
	dst = binary.AppendUvarint(dst, uint64(len(raw)))
	dst = append(dst, payload...)
	if p.Checksum {
		dst = binary.BigEndian.AppendUint64(dst, xxhash.Sum64(dst[start:]))
	}
	return dst, nil
}

// Decode reverses Encode. The returned slice never aliases chunk.
func Decode(chunk []byte) ([]byte, error) {
	if len(chunk) < 2 {
		return nil, fmt.Errorf("%w: %d bytes", ErrCorrupted, len(chunk))
	}
	flags, lib := chunk[0], Library(chunk[1])
	if flags&^(flagShuffle|flagChecksum) != 0 || !lib.Valid() {
		return nil, fmt.Errorf("%w: bad header %02x %02x", ErrCorrupted, flags, chunk[1])
	}

	body := chunk
	if flags&flagChecksum != 0 {
		if len(chunk) < 2+checksumLen {
			return nil, fmt.Errorf("%w: truncated checksum", ErrCorrupted)
		}
		n := len(chunk) - checksumLen
		body = chunk[:n]
		if xxhash.Sum64(body) != binary.BigEndian.Uint64(chunk[n:]) {
			return nil, ErrChecksum
		}
	}

	off := 2
	elemSize, n := binary.Uvarint(body[off:])
	if n <= 0 || elemSize == 0 {
		return nil, fmt.Errorf("%w: bad element size", ErrCorrupted)
	}
	off += n
	rawSize, n := binary.Uvarint(body[off:])
	if n <= 0 {
		return nil, fmt.Errorf("%w: bad raw size", ErrCorrupted)
	}
	off += n
	payload := body[off:]

	var raw []byte
	if lib == None {
		if uint64(len(payload)) != rawSize {
			return nil, fmt.Errorf("%w: size %d does not match expected %d", ErrCorrupted, len(payload), rawSize)
		}
		raw = bytes.Clone(payload)
	} else {
		var err error
		raw, err = decompress(lib, payload, int(rawSize))
		if err != nil {
			return nil, err
		}
	}

	if flags&flagShuffle != 0 {
		raw = unshuffle(raw, int(elemSize))
	}
	return raw, nil
}

// RawSize returns the decoded size of a chunk without decoding it.
func RawSize(chunk []byte) (int, error) {
	if len(chunk) < 2 {
		return 0, ErrCorrupted
	}
	off := 2
	_, n := binary.Uvarint(chunk[off:])
	if n <= 0 {
		return 0, ErrCorrupted
	}
	off += n
	rawSize, n := binary.Uvarint(chunk[off:])
	if n <= 0 {
		return 0, ErrCorrupted
	}
	return int(rawSize), nil
}

var errIncompressible = errors.New("data is incompressible")

func compress(lib Library, level int, data []byte) ([]byte, error) {
	var out []byte
	switch lib {
	case Zlib:
		var buf bytes.Buffer
		w, err := zlib.NewWriterLevel(&buf, level)
		if err != nil {
			return nil, fmt.Errorf("zlib compress: %w", err)
		}
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("zlib compress: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("zlib compress: %w", err)
		}
		out = buf.Bytes()
	case Zstd:
		enc, err := zstdEncoder(level)
		if err != nil {
			return nil, err
		}
		out = enc.EncodeAll(data, make([]byte, 0, enc.MaxEncodedSize(len(data))))
	case LZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(data)))
		written, err := lz4.CompressBlock(data, dst, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if written == 0 {
			return nil, errIncompressible
		}
		out = dst[:written]
	case Snappy:
		out = snappy.Encode(nil, data)
	default:
		return nil, fmt.Errorf("unsupported compression library %v", lib)
	}
	if len(out) >= len(data) {
		return nil, errIncompressible
	}
	return out, nil
}

func decompress(lib Library, data []byte, rawSize int) ([]byte, error) {
	var out []byte
	switch lib {
	case Zlib:
		r, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("zlib decompress: %w", err)
		}
		out = make([]byte, rawSize)
		_, err = io.ReadFull(r, out)
		r.Close()
		if err != nil {
			return nil, fmt.Errorf("zlib decompress: %w", err)
		}
	case Zstd:
		var err error
		out, err = zstdDecoder().DecodeAll(data, make([]byte, 0, rawSize))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
	case LZ4:
		out = make([]byte, rawSize)
		n, err := lz4.UncompressBlock(data, out)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		out = out[:n]
	case Snappy:
		var err error
		out, err = snappy.Decode(nil, data)
		if err != nil {
			return nil, fmt.Errorf("snappy decompress: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported compression library %v", ErrCorrupted, lib)
	}
	if len(out) != rawSize {
		return nil, fmt.Errorf("%w: %v produced %d bytes, expected %d", ErrCorrupted, lib, len(out), rawSize)
	}
	return out, nil
}

var (
	zstdEncodersMu sync.Mutex
	zstdEncoders   [maxLevel + 1]*zstd.Encoder

	zstdDecoderOnce sync.Once
	zstdDec         *zstd.Decoder
)

// zstd.Encoder is safe for concurrent EncodeAll calls, so one per level is enough.
func zstdEncoder(level int) (*zstd.Encoder, error) {
	zstdEncodersMu.Lock()
	defer zstdEncodersMu.Unlock()
	if enc := zstdEncoders[level]; enc != nil {
		return enc, nil
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	zstdEncoders[level] = enc
	return enc, nil
}

func zstdDecoder() *zstd.Decoder {
	zstdDecoderOnce.Do(func() {
		var err error
		zstdDec, err = zstd.NewReader(nil)
		if err != nil {
			panic("codec: zstd decoder initialization failed: " + err.Error())
		}
	})
	return zstdDec
}
