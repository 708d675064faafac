// Package codec is the binary serialization contract shared by ptree, phash,
// graph and agraph. Every persisted type encodes to and decodes from a
// deterministic byte sequence and can report its encoded length without
// encoding, per the on-disk layouts those packages depend on.
//
// All fixed-width primitives are little-endian. Variable-length values are
// framed with an 8-byte count, applied uniformly: strings, slices and maps
// all open with their element/byte count before the payload.
package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// ErrMalformed is returned when decoding encounters a structurally invalid
// byte sequence (as opposed to a short read, which surfaces as io.EOF or
// io.ErrUnexpectedEOF). Within this package that is a length prefix too
// large to be a byte count; other decoders report only short reads.
var ErrMalformed = errors.New("codec: malformed data")

// Codec bundles the encode/decode/length triple a persisted type needs.
type Codec[T any] struct {
	Encode func(w io.Writer, v T) error
	Decode func(r io.Reader) (T, error)
	Len    func(v T) uint64
}

// KeyCodec extends Codec with a full ordering, required by ptree.
type KeyCodec[K any] struct {
	Codec[K]
	// Compare returns <0, 0, >0 as a < b, a == b, a > b.
	Compare func(a, b K) int
}

// HashCodec extends Codec with equality and a stable hash, required by phash.
type HashCodec[K any] struct {
	Codec[K]
	Equal func(a, b K) bool
	Hash  func(k K) uint64
}

// EncodedLen computes len(Encode(v)) by running Encode into a throwaway
// buffer when a codec has no cheaper Len implementation.
func EncodedLen[T any](c Codec[T], v T) (uint64, error) {
	if c.Len != nil {
		return c.Len(v), nil
	}

	var buf bytes.Buffer
	if err := c.Encode(&buf, v); err != nil {
		return 0, err
	}

	return uint64(buf.Len()), nil
}

// Uint64 encodes a little-endian, fixed-width 8-byte unsigned integer.
var Uint64 = Codec[uint64]{
	Encode: func(w io.Writer, v uint64) error {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], v)
		_, err := w.Write(buf[:])
		return err
	},
	Decode: func(r io.Reader) (uint64, error) {
		var buf [8]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, err
		}
		return binary.LittleEndian.Uint64(buf[:]), nil
	},
	Len: func(uint64) uint64 { return 8 },
}

// Int64 encodes a little-endian, fixed-width 8-byte signed integer via its
// unsigned bit pattern.
var Int64 = Codec[int64]{
	Encode: func(w io.Writer, v int64) error {
		return Uint64.Encode(w, uint64(v))
	},
	Decode: func(r io.Reader) (int64, error) {
		u, err := Uint64.Decode(r)
		return int64(u), err
	},
	Len: func(int64) uint64 { return 8 },
}

// Float64 encodes an IEEE-754 binary64 value using the same byte order as
// every other fixed-width primitive.
var Float64 = Codec[float64]{
	Encode: func(w io.Writer, v float64) error {
		return Uint64.Encode(w, math.Float64bits(v))
	},
	Decode: func(r io.Reader) (float64, error) {
		u, err := Uint64.Decode(r)
		if err != nil {
			return 0, err
		}
		return math.Float64frombits(u), nil
	},
	Len: func(float64) uint64 { return 8 },
}

// Bytes encodes a byte slice as an 8-byte length prefix followed by the raw
// bytes.
var Bytes = Codec[[]byte]{
	Encode: func(w io.Writer, v []byte) error {
		if err := Uint64.Encode(w, uint64(len(v))); err != nil {
			return err
		}
		_, err := w.Write(v)
		return err
	},
	Decode: func(r io.Reader) ([]byte, error) {
		n, err := Uint64.Decode(r)
		if err != nil {
			return nil, err
		}
		if n > math.MaxInt64 {
			return nil, ErrMalformed
		}

		// Copy rather than preallocate n bytes, so a corrupt length prefix
		// ends in a short read instead of a huge allocation.
		var buf bytes.Buffer
		if _, err := io.CopyN(&buf, r, int64(n)); err != nil {
			return nil, err
		}

		return buf.Bytes(), nil
	},
	Len: func(v []byte) uint64 { return 8 + uint64(len(v)) },
}

// String encodes a UTF-8 string as an 8-byte length prefix (bytes, not
// runes) followed by its raw bytes.
var String = Codec[string]{
	Encode: func(w io.Writer, v string) error {
		return Bytes.Encode(w, []byte(v))
	},
	Decode: func(r io.Reader) (string, error) {
		b, err := Bytes.Decode(r)
		if err != nil {
			return "", err
		}
		return string(b), nil
	},
	Len: func(v string) uint64 { return 8 + uint64(len(v)) },
}

// Pair builds a codec for a two-element tuple, encoded as the concatenation
// of its components in order.
func Pair[A, B any](ca Codec[A], cb Codec[B]) Codec[struct {
	First  A
	Second B
}] {
	type P = struct {
		First  A
		Second B
	}

	return Codec[P]{
		Encode: func(w io.Writer, v P) error {
			if err := ca.Encode(w, v.First); err != nil {
				return err
			}
			return cb.Encode(w, v.Second)
		},
		Decode: func(r io.Reader) (P, error) {
			var zero P

			first, err := ca.Decode(r)
			if err != nil {
				return zero, err
			}

			second, err := cb.Decode(r)
			if err != nil {
				return zero, err
			}

			return P{First: first, Second: second}, nil
		},
		Len: func(v P) uint64 {
			la, _ := EncodedLen(ca, v.First)
			lb, _ := EncodedLen(cb, v.Second)
			return la + lb
		},
	}
}

// Slice builds a codec for an ordered sequence of T, framed as
// (count, [elem...]) — the same framing graph.Node uses for its edge list
// and graph.Codec uses for its node list.
func Slice[T any](elem Codec[T]) Codec[[]T] {
	return Codec[[]T]{
		Encode: func(w io.Writer, v []T) error {
			if err := Uint64.Encode(w, uint64(len(v))); err != nil {
				return err
			}
			for _, item := range v {
				if err := elem.Encode(w, item); err != nil {
					return err
				}
			}
			return nil
		},
		Decode: func(r io.Reader) ([]T, error) {
			n, err := Uint64.Decode(r)
			if err != nil {
				return nil, err
			}

			out := make([]T, 0, min(n, 1024))
			for i := uint64(0); i < n; i++ {
				item, err := elem.Decode(r)
				if err != nil {
					return nil, err
				}
				out = append(out, item)
			}

			return out, nil
		},
		Len: func(v []T) uint64 {
			sum := uint64(8)
			for _, item := range v {
				l, _ := EncodedLen(elem, item)
				sum += l
			}
			return sum
		},
	}
}

// Map builds a codec for a map[K]V, framed as (count, [(k,v)...]) per
// spec §3. Iteration order on encode is unspecified (Go map order); callers
// that need a stable round trip of the map's content, not its byte layout,
// are unaffected since decode rebuilds the map from the pairs.
func Map[K comparable, V any](kc Codec[K], vc Codec[V]) Codec[map[K]V] {
	return Codec[map[K]V]{
		Encode: func(w io.Writer, v map[K]V) error {
			if err := Uint64.Encode(w, uint64(len(v))); err != nil {
				return err
			}
			for k, val := range v {
				if err := kc.Encode(w, k); err != nil {
					return err
				}
				if err := vc.Encode(w, val); err != nil {
					return err
				}
			}
			return nil
		},
		Decode: func(r io.Reader) (map[K]V, error) {
			n, err := Uint64.Decode(r)
			if err != nil {
				return nil, err
			}

			out := make(map[K]V, n)
			for i := uint64(0); i < n; i++ {
				k, err := kc.Decode(r)
				if err != nil {
					return nil, err
				}
				val, err := vc.Decode(r)
				if err != nil {
					return nil, err
				}
				out[k] = val
			}

			return out, nil
		},
		Len: func(v map[K]V) uint64 {
			sum := uint64(8)
			for k, val := range v {
				lk, _ := EncodedLen(kc, k)
				lv, _ := EncodedLen(vc, val)
				sum += lk + lv
			}
			return sum
		},
	}
}

// Malformed wraps an arbitrary decode failure with ErrMalformed context, for
// callers that detect a structurally invalid record rather than a short
// read.
func Malformed(context string, err error) error {
	return fmt.Errorf("%s: %w: %v", context, ErrMalformed, err)
}
