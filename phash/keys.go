package phash

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/holtgrave/linkgraph/codec"
)

// KeyHash64 hashes b with xxhash64, the frozen key hash every phash.Table
// agrees on (spec §3/§9 — changing it invalidates existing .manifest/.dat
// files). xxhash is the hash the retrieved pack itself reaches for when a
// component is literally named phash (theflywheel/phash's go.mod), and it's
// faster than a hand-rolled FNV-1a over the same bytes at no cost in
// stability: the v2 module's digest is frozen by its own semver contract.
func KeyHash64(b []byte) uint64 {
	return xxhash.Sum64(b)
}

// StringKeyCodec is a HashCodec[string] built on codec.String and KeyHash64
// over the key's codec.String encoding (8-byte little-endian length prefix,
// then the raw bytes).
var StringKeyCodec = codec.HashCodec[string]{
	Codec: codec.String,
	Equal: func(a, b string) bool { return a == b },
	Hash: func(k string) uint64 {
		buf := make([]byte, 8+len(k))
		binary.LittleEndian.PutUint64(buf[:8], uint64(len(k)))
		copy(buf[8:], k)
		return KeyHash64(buf)
	},
}

// Uint64KeyCodec is a HashCodec[uint64] built on codec.Uint64 and KeyHash64
// over the key's little-endian byte representation.
var Uint64KeyCodec = codec.HashCodec[uint64]{
	Codec: codec.Uint64,
	Equal: func(a, b uint64) bool { return a == b },
	Hash: func(k uint64) uint64 {
		var buf [8]byte
		buf[0] = byte(k)
		buf[1] = byte(k >> 8)
		buf[2] = byte(k >> 16)
		buf[3] = byte(k >> 24)
		buf[4] = byte(k >> 32)
		buf[5] = byte(k >> 40)
		buf[6] = byte(k >> 48)
		buf[7] = byte(k >> 56)
		return KeyHash64(buf[:])
	},
}
