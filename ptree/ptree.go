// Package ptree implements a persistent B-tree of minimum degree T=24,
// split across three files: a .tree file of fixed-size node records and
// 16-byte Entry records, a .key file of sequentially appended keys,
// and a .val file of sequentially appended values. Internal structure is
// append-only — nodes are only ever rewritten in place at their original
// offset, never reclaimed, which is what lets Keys() recover every key by
// scanning the .key file from the front.
package ptree

import (
	"encoding/binary"
	"fmt"

	"github.com/holtgrave/linkgraph/codec"
	"github.com/holtgrave/linkgraph/internal/storage"
)

// T is the tree's minimum degree; NumChildren/NumEntries follow from it.
const (
	T           = 24
	NumChildren = 2 * T
	NumEntries  = NumChildren - 1
)

// NoElement marks an unused entries/children slot or an absent node.
const NoElement uint64 = ^uint64(0)

const nodeRecordSize = NumEntries*8 + NumChildren*8 + 8 + 1 // 769

// node is a B-tree node's in-memory form. Its zero value is not a valid
// empty node — use newNode, which fills entries/children with NoElement.
type node struct {
	entries  [NumEntries]uint64
	children [NumChildren]uint64
	len      uint64
	leaf     bool
}

func newNode(leaf bool) node {
	var n node
	for i := range n.entries {
		n.entries[i] = NoElement
	}
	for i := range n.children {
		n.children[i] = NoElement
	}
	n.leaf = leaf
	return n
}

func encodeNode(n node) []byte {
	buf := make([]byte, nodeRecordSize)
	off := 0
	for i := 0; i < NumEntries; i++ {
		binary.LittleEndian.PutUint64(buf[off:off+8], n.entries[i])
		off += 8
	}
	for i := 0; i < NumChildren; i++ {
		binary.LittleEndian.PutUint64(buf[off:off+8], n.children[i])
		off += 8
	}
	binary.LittleEndian.PutUint64(buf[off:off+8], n.len)
	off += 8
	if n.leaf {
		buf[off] = 1
	} else {
		buf[off] = 0
	}
	return buf
}

func decodeNode(buf []byte) node {
	var n node
	off := 0
	for i := 0; i < NumEntries; i++ {
		n.entries[i] = binary.LittleEndian.Uint64(buf[off : off+8])
		off += 8
	}
	for i := 0; i < NumChildren; i++ {
		n.children[i] = binary.LittleEndian.Uint64(buf[off : off+8])
		off += 8
	}
	n.len = binary.LittleEndian.Uint64(buf[off : off+8])
	off += 8
	n.leaf = buf[off] != 0
	return n
}

// Tree is a persistent B-tree mapping K to V. It is not safe for
// concurrent use; callers must enforce single-owner access (spec §5).
type Tree[K any, V any] struct {
	treeFile *storage.File
	keyFile  *storage.File
	valFile  *storage.File

	keyCodec codec.KeyCodec[K]
	valCodec codec.Codec[V]

	root uint64
}

// New creates a fresh, empty tree at basePath+".tree"/".key"/".val",
// truncating any existing content at that path.
func New[K any, V any](basePath string, keyCodec codec.KeyCodec[K], valCodec codec.Codec[V]) (*Tree[K, V], error) {
	treeFile, err := storage.Create(basePath + ".tree")
	if err != nil {
		return nil, err
	}
	keyFile, err := storage.Create(basePath + ".key")
	if err != nil {
		treeFile.Close()
		return nil, err
	}
	valFile, err := storage.Create(basePath + ".val")
	if err != nil {
		treeFile.Close()
		keyFile.Close()
		return nil, err
	}

	if err := treeFile.Truncate(0); err != nil {
		return nil, closeAll(err, treeFile, keyFile, valFile)
	}
	if err := keyFile.Truncate(0); err != nil {
		return nil, closeAll(err, treeFile, keyFile, valFile)
	}
	if err := valFile.Truncate(0); err != nil {
		return nil, closeAll(err, treeFile, keyFile, valFile)
	}

	// Reserve the 8-byte root-pointer header before the first node record,
	// so the empty tree's root lands at offset 8, per spec §6.
	if err := treeFile.Truncate(8); err != nil {
		return nil, closeAll(err, treeFile, keyFile, valFile)
	}

	t := &Tree[K, V]{treeFile: treeFile, keyFile: keyFile, valFile: valFile, keyCodec: keyCodec, valCodec: valCodec}

	rootOffset, err := t.appendNode(newNode(true))
	if err != nil {
		return nil, closeAll(err, treeFile, keyFile, valFile)
	}
	if err := t.writeRootPointer(rootOffset); err != nil {
		return nil, closeAll(err, treeFile, keyFile, valFile)
	}
	t.root = rootOffset

	return t, nil
}

// Open reattaches to an existing tree previously created with New.
func Open[K any, V any](basePath string, keyCodec codec.KeyCodec[K], valCodec codec.Codec[V]) (*Tree[K, V], error) {
	treeFile, err := storage.Open(basePath + ".tree")
	if err != nil {
		return nil, err
	}
	keyFile, err := storage.Open(basePath + ".key")
	if err != nil {
		treeFile.Close()
		return nil, err
	}
	valFile, err := storage.Open(basePath + ".val")
	if err != nil {
		treeFile.Close()
		keyFile.Close()
		return nil, err
	}

	t := &Tree[K, V]{treeFile: treeFile, keyFile: keyFile, valFile: valFile, keyCodec: keyCodec, valCodec: valCodec}

	root, err := t.readRootPointer()
	if err != nil {
		return nil, closeAll(err, treeFile, keyFile, valFile)
	}
	t.root = root

	return t, nil
}

func closeAll(cause error, files ...*storage.File) error {
	for _, f := range files {
		f.Close()
	}
	return cause
}

// Close releases all three underlying files.
func (t *Tree[K, V]) Close() error {
	if err := t.treeFile.Close(); err != nil {
		t.keyFile.Close()
		t.valFile.Close()
		return err
	}
	if err := t.keyFile.Close(); err != nil {
		t.valFile.Close()
		return err
	}
	return t.valFile.Close()
}

// Insert adds (key, val). It never overwrites an existing entry in place —
// a duplicate key is appended after any prior entries with the same key,
// so Search, which scans each node for the *last* matching entry, returns
// the most recently inserted value (spec §8's "most recently inserted
// value" property) while preserving the original append-only node
// mechanics.
func (t *Tree[K, V]) Insert(key K, val V) error {
	root, err := t.readNode(t.root)
	if err != nil {
		return err
	}

	if root.len == NumEntries {
		s := newNode(false)
		s.children[0] = t.root

		sLoc, err := t.appendNode(s)
		if err != nil {
			return err
		}
		if err := t.writeRootPointer(sLoc); err != nil {
			return err
		}
		t.root = sLoc

		if err := t.splitChild(sLoc, 0); err != nil {
			return err
		}
		return t.insertNonFull(sLoc, key, val)
	}

	return t.insertNonFull(t.root, key, val)
}

func (t *Tree[K, V]) insertNonFull(xLoc uint64, key K, val V) error {
	x, err := t.readNode(xLoc)
	if err != nil {
		return err
	}

	idx, err := t.findPos(&x, key)
	if err != nil {
		return err
	}

	if x.leaf {
		for j := int(x.len); j > idx; j-- {
			x.entries[j] = x.entries[j-1]
		}

		entryOff, err := t.writeEntry(key, val)
		if err != nil {
			return err
		}

		x.entries[idx] = entryOff
		x.len++
		return t.writeNode(x, xLoc)
	}

	child, err := t.readNode(x.children[idx])
	if err != nil {
		return err
	}

	if child.len == NumEntries {
		if err := t.splitChild(xLoc, idx); err != nil {
			return err
		}

		x, err = t.readNode(xLoc)
		if err != nil {
			return err
		}

		promoted, err := t.readEntryKey(x.entries[idx])
		if err != nil {
			return err
		}
		if t.keyCodec.Compare(key, promoted) > 0 {
			idx++
		}
	}

	return t.insertNonFull(x.children[idx], key, val)
}

// splitChild splits x's i'th child y, whose entries are full, promoting
// y's median entry into x and moving y's upper half into a newly
// appended node z (CLRS 18.2).
func (t *Tree[K, V]) splitChild(xLoc uint64, i int) error {
	x, err := t.readNode(xLoc)
	if err != nil {
		return err
	}

	yLoc := x.children[i]
	y, err := t.readNode(yLoc)
	if err != nil {
		return err
	}

	z := newNode(y.leaf)
	for j := 0; j < T-1; j++ {
		z.entries[j] = y.entries[j+T]
	}
	if !y.leaf {
		for j := 0; j < T; j++ {
			z.children[j] = y.children[j+T]
		}
	}
	z.len = T - 1
	y.len = T - 1

	for j := int(x.len); j > i; j-- {
		x.children[j+1] = x.children[j]
	}

	zLoc, err := t.appendNode(z)
	if err != nil {
		return err
	}
	x.children[i+1] = zLoc

	for j := int(x.len) - 1; j >= i; j-- {
		x.entries[j+1] = x.entries[j]
	}
	x.len++
	x.entries[i] = y.entries[T-1]

	if err := t.writeNode(x, xLoc); err != nil {
		return err
	}
	return t.writeNode(y, yLoc)
}

// findPos returns the first index i in n's entries whose key is strictly
// greater than key (or n.len if none is). Used both as a leaf's insertion
// point — which places a new duplicate after any existing entries with
// the same key — and as the child index to descend into from an internal
// node.
func (t *Tree[K, V]) findPos(n *node, key K) (int, error) {
	i := uint64(0)
	for i < n.len {
		ek, err := t.readEntryKey(n.entries[i])
		if err != nil {
			return 0, err
		}
		if t.keyCodec.Compare(key, ek) < 0 {
			break
		}
		i++
	}
	return int(i), nil
}

// Search returns the most recently inserted value bound to key, if any.
func (t *Tree[K, V]) Search(key K) (V, bool, error) {
	return t.searchRec(t.root, key)
}

func (t *Tree[K, V]) searchRec(pos uint64, key K) (V, bool, error) {
	var zero V

	n, err := t.readNode(pos)
	if err != nil {
		return zero, false, err
	}

	matchIdx := -1
	i := uint64(0)
	for i < n.len {
		ek, err := t.readEntryKey(n.entries[i])
		if err != nil {
			return zero, false, err
		}

		cmp := t.keyCodec.Compare(key, ek)
		if cmp < 0 {
			break
		}
		if cmp == 0 {
			matchIdx = int(i)
		}
		i++
	}

	if matchIdx >= 0 {
		v, err := t.readEntryValue(n.entries[matchIdx])
		return v, true, err
	}
	if n.leaf {
		return zero, false, nil
	}
	return t.searchRec(n.children[i], key)
}

// ContainsKey reports whether key is bound, without materializing its
// value.
func (t *Tree[K, V]) ContainsKey(key K) (bool, error) {
	return t.containsKeyRec(t.root, key)
}

func (t *Tree[K, V]) containsKeyRec(pos uint64, key K) (bool, error) {
	n, err := t.readNode(pos)
	if err != nil {
		return false, err
	}

	found := false
	i := uint64(0)
	for i < n.len {
		ek, err := t.readEntryKey(n.entries[i])
		if err != nil {
			return false, err
		}

		cmp := t.keyCodec.Compare(key, ek)
		if cmp < 0 {
			break
		}
		if cmp == 0 {
			found = true
		}
		i++
	}

	if found {
		return true, nil
	}
	if n.leaf {
		return false, nil
	}
	return t.containsKeyRec(n.children[i], key)
}

// Keys returns every key ever inserted by sequentially decoding the .key
// file from offset 0 until a decode fails. This is only a valid recovery
// strategy because the tree never deletes (spec §4.6/§9).
func (t *Tree[K, V]) Keys() ([]K, error) {
	r := t.keyFile.Reader(0)

	var keys []K
	for {
		k, err := t.keyCodec.Decode(r)
		if err != nil {
			break
		}
		keys = append(keys, k)
	}

	return keys, nil
}

func (t *Tree[K, V]) writeEntry(key K, val V) (uint64, error) {
	keyOff, err := t.writeKey(key)
	if err != nil {
		return 0, err
	}
	valOff, err := t.writeVal(val)
	if err != nil {
		return 0, err
	}

	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], keyOff)
	binary.LittleEndian.PutUint64(buf[8:16], valOff)

	return t.treeFile.Append(buf[:])
}

func (t *Tree[K, V]) writeKey(key K) (uint64, error) {
	buf, err := encodeBytes(t.keyCodec.Codec, key)
	if err != nil {
		return 0, fmt.Errorf("ptree: encode key: %w", err)
	}
	off, err := t.keyFile.Append(buf)
	return uint64(off), err
}

func (t *Tree[K, V]) writeVal(val V) (uint64, error) {
	buf, err := encodeBytes(t.valCodec, val)
	if err != nil {
		return 0, fmt.Errorf("ptree: encode value: %w", err)
	}
	off, err := t.valFile.Append(buf)
	return uint64(off), err
}

func (t *Tree[K, V]) readEntryKey(entryOff uint64) (K, error) {
	var zero K

	var buf [16]byte
	if err := t.treeFile.ReadAt(int64(entryOff), buf[:]); err != nil {
		return zero, fmt.Errorf("ptree: read entry at %d: %w", entryOff, err)
	}
	keyOff := binary.LittleEndian.Uint64(buf[0:8])

	k, err := t.keyCodec.Decode(t.keyFile.Reader(int64(keyOff)))
	if err != nil {
		return zero, fmt.Errorf("ptree: decode key: %w", err)
	}
	return k, nil
}

func (t *Tree[K, V]) readEntryValue(entryOff uint64) (V, error) {
	var zero V

	var buf [16]byte
	if err := t.treeFile.ReadAt(int64(entryOff), buf[:]); err != nil {
		return zero, fmt.Errorf("ptree: read entry at %d: %w", entryOff, err)
	}
	valOff := binary.LittleEndian.Uint64(buf[8:16])

	v, err := t.valCodec.Decode(t.valFile.Reader(int64(valOff)))
	if err != nil {
		return zero, fmt.Errorf("ptree: decode value: %w", err)
	}
	return v, nil
}

func (t *Tree[K, V]) readNode(pos uint64) (node, error) {
	var buf [nodeRecordSize]byte
	if err := t.treeFile.ReadAt(int64(pos), buf[:]); err != nil {
		return node{}, fmt.Errorf("ptree: read node at %d: %w", pos, err)
	}
	return decodeNode(buf[:]), nil
}

func (t *Tree[K, V]) writeNode(n node, pos uint64) error {
	if err := t.treeFile.WriteAt(int64(pos), encodeNode(n)); err != nil {
		return fmt.Errorf("ptree: write node at %d: %w", pos, err)
	}
	return nil
}

func (t *Tree[K, V]) appendNode(n node) (uint64, error) {
	off, err := t.treeFile.Append(encodeNode(n))
	if err != nil {
		return 0, fmt.Errorf("ptree: append node: %w", err)
	}
	return uint64(off), nil
}

func (t *Tree[K, V]) readRootPointer() (uint64, error) {
	var buf [8]byte
	if err := t.treeFile.ReadAt(0, buf[:]); err != nil {
		return 0, fmt.Errorf("ptree: read root pointer: %w", err)
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func (t *Tree[K, V]) writeRootPointer(off uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], off)
	if err := t.treeFile.WriteAt(0, buf[:]); err != nil {
		return fmt.Errorf("ptree: write root pointer: %w", err)
	}
	return nil
}

func encodeBytes[T any](c codec.Codec[T], v T) ([]byte, error) {
	var sink byteSink
	if err := c.Encode(&sink, v); err != nil {
		return nil, err
	}
	return sink.b, nil
}

type byteSink struct{ b []byte }

func (s *byteSink) Write(p []byte) (int, error) {
	s.b = append(s.b, p...)
	return len(p), nil
}
