// Package phash implements a persistent, disk-resident hash table with
// separate chaining, a free-list allocator, and doubling rehash. Records
// live in a data file; a manifest file holds the bucket table and the
// (len, count) header.
package phash

import (
	"encoding/binary"
	"fmt"

	"github.com/holtgrave/linkgraph/codec"
	"github.com/holtgrave/linkgraph/internal/storage"
)

// NoElement is the sentinel used for "no bucket head", "no next record",
// and "no free block" — all bits set.
const NoElement uint64 = ^uint64(0)

const initialLen uint64 = 16
const loadFactor = 0.75

const recordHeaderSize = 24 // next(8) + payload_size(8) + hash(8)
const manifestHeaderSize = 16 // len(8) + count(8)

// Table is a persistent chained hash map from K to V. It is not safe for
// concurrent use; callers must enforce single-owner access (spec §5).
type Table[K any, V any] struct {
	manifest *storage.File
	data     *storage.File

	keyCodec codec.HashCodec[K]
	valCodec codec.Codec[V]

	bucketLen uint64
	count     uint64
}

// New creates a fresh, empty table at basePath+".manifest"/".dat",
// truncating any existing content at that path.
func New[K any, V any](basePath string, keyCodec codec.HashCodec[K], valCodec codec.Codec[V]) (*Table[K, V], error) {
	manifest, err := storage.Create(basePath + ".manifest")
	if err != nil {
		return nil, err
	}

	data, err := storage.Create(basePath + ".dat")
	if err != nil {
		manifest.Close()
		return nil, err
	}

	if err := manifest.Truncate(0); err != nil {
		return nil, closeBoth(manifest, data, err)
	}
	if err := data.Truncate(0); err != nil {
		return nil, closeBoth(manifest, data, err)
	}

	t := &Table[K, V]{
		manifest: manifest,
		data:     data,
		keyCodec: keyCodec,
		valCodec: valCodec,
		bucketLen: initialLen,
		count:     0,
	}

	buckets := make([]uint64, initialLen)
	for i := range buckets {
		buckets[i] = NoElement
	}
	if err := t.writeHeader(); err != nil {
		return nil, closeBoth(manifest, data, err)
	}
	if err := t.writeAllBuckets(buckets); err != nil {
		return nil, closeBoth(manifest, data, err)
	}
	if err := t.writeFreeListHead(NoElement); err != nil {
		return nil, closeBoth(manifest, data, err)
	}

	return t, nil
}

// Open reattaches to an existing table previously created with New.
func Open[K any, V any](basePath string, keyCodec codec.HashCodec[K], valCodec codec.Codec[V]) (*Table[K, V], error) {
	manifest, err := storage.Open(basePath + ".manifest")
	if err != nil {
		return nil, err
	}

	data, err := storage.Open(basePath + ".dat")
	if err != nil {
		manifest.Close()
		return nil, err
	}

	t := &Table[K, V]{manifest: manifest, data: data, keyCodec: keyCodec, valCodec: valCodec}

	bucketLen, count, err := t.readHeader()
	if err != nil {
		return nil, closeBoth(manifest, data, err)
	}
	t.bucketLen = bucketLen
	t.count = count

	return t, nil
}

func closeBoth(a, b *storage.File, cause error) error {
	a.Close()
	b.Close()
	return cause
}

// Close releases both underlying files.
func (t *Table[K, V]) Close() error {
	if err := t.manifest.Close(); err != nil {
		t.data.Close()
		return err
	}
	return t.data.Close()
}

// Count returns the number of inserts recorded so far. It is not
// decremented on Remove (spec §4.5/§9): rehash triggers off inserts, not
// live population.
func (t *Table[K, V]) Count() uint64 { return t.count }

// Insert stores val under key, chaining onto the bucket selected by key's
// hash, reusing a free-list block when one is large enough.
func (t *Table[K, V]) Insert(key K, val V) error {
	keyBuf, err := encodeBytes(t.keyCodec.Codec, key)
	if err != nil {
		return fmt.Errorf("phash: encode key: %w", err)
	}
	valBuf, err := encodeBytes(t.valCodec, val)
	if err != nil {
		return fmt.Errorf("phash: encode value: %w", err)
	}

	hash := t.keyCodec.Hash(key)
	bucketIdx := hash & (t.bucketLen - 1)

	offset, err := t.writeEntry(hash, keyBuf, valBuf)
	if err != nil {
		return err
	}

	oldHead, err := t.readBucket(bucketIdx)
	if err != nil {
		return err
	}
	if err := t.writeNext(offset, oldHead); err != nil {
		return err
	}
	if err := t.writeBucket(bucketIdx, offset); err != nil {
		return err
	}

	t.count++
	if err := t.writeHeader(); err != nil {
		return err
	}

	if float64(t.count)/float64(t.bucketLen) >= loadFactor {
		return t.rehash()
	}
	return nil
}

// Get returns the value bound to key, if any.
func (t *Table[K, V]) Get(key K) (V, bool, error) {
	var zero V

	offset, _, found, err := t.find(key)
	if err != nil || !found {
		return zero, false, err
	}

	r := t.data.Reader(offset + recordHeaderSize)
	if _, err := t.keyCodec.Decode(r); err != nil {
		return zero, false, fmt.Errorf("phash: decode key: %w", err)
	}
	val, err := t.valCodec.Decode(r)
	if err != nil {
		return zero, false, fmt.Errorf("phash: decode value: %w", err)
	}

	return val, true, nil
}

// ContainsKey reports whether key is bound, without materializing its
// value.
func (t *Table[K, V]) ContainsKey(key K) (bool, error) {
	_, _, found, err := t.find(key)
	return found, err
}

// Remove unlinks the record bound to key from its bucket chain and
// prepends it to the free list. Reports whether key was present.
func (t *Table[K, V]) Remove(key K) (bool, error) {
	hash := t.keyCodec.Hash(key)
	bucketIdx := hash & (t.bucketLen - 1)

	head, err := t.readBucket(bucketIdx)
	if err != nil {
		return false, err
	}

	var prevOffset int64 = -1
	cur := head

	for cur != NoElement {
		next, _, recHash, err := t.readRecordHeader(int64(cur))
		if err != nil {
			return false, err
		}

		if recHash == hash {
			r := t.data.Reader(int64(cur) + recordHeaderSize)
			k, err := t.keyCodec.Decode(r)
			if err != nil {
				return false, fmt.Errorf("phash: decode key: %w", err)
			}

			if t.keyCodec.Equal(k, key) {
				if prevOffset < 0 {
					if err := t.writeBucket(bucketIdx, next); err != nil {
						return false, err
					}
				} else if err := t.writeNext(prevOffset, next); err != nil {
					return false, err
				}

				oldFreeHead, err := t.readFreeListHead()
				if err != nil {
					return false, err
				}
				if err := t.writeNext(int64(cur), oldFreeHead); err != nil {
					return false, err
				}
				if err := t.writeFreeListHead(cur); err != nil {
					return false, err
				}

				return true, nil
			}
		}

		prevOffset = int64(cur)
		cur = next
	}

	return false, nil
}

// find walks key's bucket chain, returning the matching record's offset.
func (t *Table[K, V]) find(key K) (offset int64, hash uint64, found bool, err error) {
	hash = t.keyCodec.Hash(key)
	bucketIdx := hash & (t.bucketLen - 1)

	head, err := t.readBucket(bucketIdx)
	if err != nil {
		return 0, hash, false, err
	}

	cur := head
	for cur != NoElement {
		next, _, recHash, err := t.readRecordHeader(int64(cur))
		if err != nil {
			return 0, hash, false, err
		}

		if recHash == hash {
			r := t.data.Reader(int64(cur) + recordHeaderSize)
			k, err := t.keyCodec.Decode(r)
			if err != nil {
				return 0, hash, false, fmt.Errorf("phash: decode key: %w", err)
			}
			if t.keyCodec.Equal(k, key) {
				return int64(cur), hash, true, nil
			}
		}

		cur = next
	}

	return 0, hash, false, nil
}

// writeEntry allocates space for a (hash, key, value) record — reusing a
// free-list block whose capacity is large enough, or appending a new one —
// and writes it with next = NoElement. It returns the offset the record
// was written at.
func (t *Table[K, V]) writeEntry(hash uint64, keyBuf, valBuf []byte) (int64, error) {
	required := uint64(len(keyBuf) + len(valBuf))

	head, err := t.readFreeListHead()
	if err != nil {
		return 0, err
	}

	var prevOffset int64 = -1
	cur := head

	for cur != NoElement {
		next, size, _, err := t.readRecordHeader(int64(cur))
		if err != nil {
			return 0, err
		}

		if size >= required {
			if prevOffset < 0 {
				if err := t.writeFreeListHead(next); err != nil {
					return 0, err
				}
			} else if err := t.writeNext(prevOffset, next); err != nil {
				return 0, err
			}

			// The reused block retains its original capacity (size); only
			// the live prefix is overwritten, per the free-list reuse
			// policy (spec §4.5/§9).
			if err := t.writeRecord(int64(cur), NoElement, size, hash, keyBuf, valBuf); err != nil {
				return 0, err
			}
			return int64(cur), nil
		}

		prevOffset = int64(cur)
		cur = next
	}

	buf := recordBytes(NoElement, required, hash, keyBuf, valBuf)
	return t.data.Append(buf)
}

// rehash doubles the bucket table and reassigns every live record to its
// new bucket. It enumerates records bucket-by-bucket rather than first
// physically splicing them into one chain (spec §4.5's "unify, then walk"
// description) — the two produce the same end state, since every record's
// on-disk next field is overwritten with its new chain position regardless
// of the order records are visited in.
func (t *Table[K, V]) rehash() error {
	offsets, err := t.liveRecordOffsets()
	if err != nil {
		return err
	}

	newLen := t.bucketLen * 2
	newBuckets := make([]uint64, newLen)
	for i := range newBuckets {
		newBuckets[i] = NoElement
	}

	for _, off := range offsets {
		_, _, hash, err := t.readRecordHeader(off)
		if err != nil {
			return err
		}

		idx := hash & (newLen - 1)
		if err := t.writeNext(off, newBuckets[idx]); err != nil {
			return err
		}
		newBuckets[idx] = uint64(off)
	}

	t.bucketLen = newLen
	if err := t.writeHeader(); err != nil {
		return err
	}
	return t.writeAllBuckets(newBuckets)
}

func (t *Table[K, V]) liveRecordOffsets() ([]int64, error) {
	var offsets []int64

	for i := uint64(0); i < t.bucketLen; i++ {
		head, err := t.readBucket(i)
		if err != nil {
			return nil, err
		}

		cur := head
		for cur != NoElement {
			next, _, _, err := t.readRecordHeader(int64(cur))
			if err != nil {
				return nil, err
			}
			offsets = append(offsets, int64(cur))
			cur = next
		}
	}

	return offsets, nil
}

func (t *Table[K, V]) readRecordHeader(off int64) (next, size, hash uint64, err error) {
	var buf [recordHeaderSize]byte
	if err := t.data.ReadAt(off, buf[:]); err != nil {
		return 0, 0, 0, fmt.Errorf("phash: read record at %d: %w", off, err)
	}
	return binary.LittleEndian.Uint64(buf[0:8]), binary.LittleEndian.Uint64(buf[8:16]), binary.LittleEndian.Uint64(buf[16:24]), nil
}

func (t *Table[K, V]) writeNext(off int64, next uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], next)
	return t.data.WriteAt(off, buf[:])
}

func (t *Table[K, V]) writeRecord(off int64, next, size, hash uint64, keyBuf, valBuf []byte) error {
	return t.data.WriteAt(off, recordBytes(next, size, hash, keyBuf, valBuf))
}

func recordBytes(next, size, hash uint64, keyBuf, valBuf []byte) []byte {
	buf := make([]byte, recordHeaderSize+len(keyBuf)+len(valBuf))
	binary.LittleEndian.PutUint64(buf[0:8], next)
	binary.LittleEndian.PutUint64(buf[8:16], size)
	binary.LittleEndian.PutUint64(buf[16:24], hash)
	copy(buf[recordHeaderSize:], keyBuf)
	copy(buf[recordHeaderSize+len(keyBuf):], valBuf)
	return buf
}

func (t *Table[K, V]) readFreeListHead() (uint64, error) {
	var buf [8]byte
	if err := t.data.ReadAt(0, buf[:]); err != nil {
		return 0, fmt.Errorf("phash: read free-list head: %w", err)
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func (t *Table[K, V]) writeFreeListHead(off uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], off)
	if err := t.data.WriteAt(0, buf[:]); err != nil {
		return fmt.Errorf("phash: write free-list head: %w", err)
	}
	return nil
}

func (t *Table[K, V]) readHeader() (bucketLen, count uint64, err error) {
	var buf [manifestHeaderSize]byte
	if err := t.manifest.ReadAt(0, buf[:]); err != nil {
		return 0, 0, fmt.Errorf("phash: read manifest header: %w", err)
	}
	return binary.LittleEndian.Uint64(buf[0:8]), binary.LittleEndian.Uint64(buf[8:16]), nil
}

func (t *Table[K, V]) writeHeader() error {
	var buf [manifestHeaderSize]byte
	binary.LittleEndian.PutUint64(buf[0:8], t.bucketLen)
	binary.LittleEndian.PutUint64(buf[8:16], t.count)
	if err := t.manifest.WriteAt(0, buf[:]); err != nil {
		return fmt.Errorf("phash: write manifest header: %w", err)
	}
	return nil
}

func (t *Table[K, V]) readBucket(idx uint64) (uint64, error) {
	var buf [8]byte
	if err := t.manifest.ReadAt(int64(manifestHeaderSize+idx*8), buf[:]); err != nil {
		return 0, fmt.Errorf("phash: read bucket %d: %w", idx, err)
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func (t *Table[K, V]) writeBucket(idx uint64, val uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], val)
	if err := t.manifest.WriteAt(int64(manifestHeaderSize+idx*8), buf[:]); err != nil {
		return fmt.Errorf("phash: write bucket %d: %w", idx, err)
	}
	return nil
}

func (t *Table[K, V]) writeAllBuckets(buckets []uint64) error {
	buf := make([]byte, len(buckets)*8)
	for i, v := range buckets {
		binary.LittleEndian.PutUint64(buf[i*8:i*8+8], v)
	}
	if err := t.manifest.WriteAt(manifestHeaderSize, buf); err != nil {
		return fmt.Errorf("phash: write bucket table: %w", err)
	}
	return nil
}

func encodeBytes[T any](c codec.Codec[T], v T) ([]byte, error) {
	var buf countingBuffer
	if err := c.Encode(&buf, v); err != nil {
		return nil, err
	}
	return buf.b, nil
}

// countingBuffer is a minimal io.Writer sink, avoiding a bytes.Buffer
// import purely for Write.
type countingBuffer struct{ b []byte }

func (cb *countingBuffer) Write(p []byte) (int, error) {
	cb.b = append(cb.b, p...)
	return len(p), nil
}
