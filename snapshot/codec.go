package snapshot

import (
	"fmt"

	"github.com/distanceexamples/dsm-line-dolphins/errs"
)

// Codec compresses and decompresses snapshot payloads.
//
// Implementations must be safe for concurrent use: a single codec value
// may be shared by many encode/decode calls.
type Codec interface {
	// Compress compresses the input data. The returned slice is newly
	// allocated and owned by the caller; the input is never modified.
	Compress(data []byte) ([]byte, error)
	// Decompress reverses Compress. Returns an error when the input is
	// corrupted or was produced by a different algorithm.
	Decompress(data []byte) ([]byte, error)
}

// CodecType identifies a payload compression algorithm in the snapshot
// header. The byte values are part of the wire format and must never be
// reassigned.
type CodecType byte

const (
	// CodecNone stores the payload uncompressed.
	CodecNone CodecType = 0
	// CodecS2 uses S2 block compression: fast, moderate ratio.
	CodecS2 CodecType = 1
	// CodecLZ4 uses LZ4 block compression.
	CodecLZ4 CodecType = 2
	// CodecZstd uses Zstandard: best ratio, slower.
	CodecZstd CodecType = 3
)

// codecTypeNames maps CodecType to their string representations.
var codecTypeNames = map[CodecType]string{
	CodecNone: "none",
	CodecS2:   "s2",
	CodecLZ4:  "lz4",
	CodecZstd: "zstd",
}

// String returns the string representation of the codec type.
func (t CodecType) String() string {
	if name, exists := codecTypeNames[t]; exists {
		return name
	}

	return "unknown"
}

// codecFor returns the codec implementing a header codec type.
func codecFor(t CodecType) (Codec, error) {
	switch t {
	case CodecNone:
		return NewNoOpCodec(), nil
	case CodecS2:
		return NewS2Codec(), nil
	case CodecLZ4:
		return NewLZ4Codec(), nil
	case CodecZstd:
		return NewZstdCodec(), nil
	default:
		return nil, fmt.Errorf("%w: unknown codec type %d", errs.ErrCorruptSnapshot, t)
	}
}
