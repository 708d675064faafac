// Package agraph wraps graph.Graph with a bidirectional mapping between
// caller-supplied keys and the node indices the underlying graph actually
// addresses, and persists the pair.
package agraph

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/holtgrave/linkgraph/codec"
	"github.com/holtgrave/linkgraph/graph"
)

// ErrDuplicateKey is returned by Add when the key is already present.
var ErrDuplicateKey = errors.New("agraph: key already present")

// AssociatedGraph wraps a graph.Graph with a keyed view: items maps a key to
// its node index, lookup is its exact inverse. items is keyed by the key
// value itself; lookup holds a *K to a separate copy of the key, which Go's
// garbage collector frees once lookup drops it — no Arc<K>-style reference
// counting is involved.
type AssociatedGraph[K comparable] struct {
	g      *graph.Graph
	items  map[K]int
	lookup map[int]*K
}

// New creates an empty AssociatedGraph.
func New[K comparable]() *AssociatedGraph[K] {
	return &AssociatedGraph[K]{
		g:      graph.New(),
		items:  make(map[K]int),
		lookup: make(map[int]*K),
	}
}

// Len returns the number of keys in the graph.
func (ag *AssociatedGraph[K]) Len() int { return len(ag.items) }

// Keys returns all keys currently present, in unspecified order.
func (ag *AssociatedGraph[K]) Keys() []K {
	out := make([]K, 0, len(ag.items))
	for k := range ag.items {
		out = append(out, k)
	}
	return out
}

// ContainsKey reports whether key is present.
func (ag *AssociatedGraph[K]) ContainsKey(key K) bool {
	_, ok := ag.items[key]
	return ok
}

// GetID returns the node index assigned to key, if present.
func (ag *AssociatedGraph[K]) GetID(key K) (int, bool) {
	id, ok := ag.items[key]
	return id, ok
}

// Add assigns key a new node index. Returns ErrDuplicateKey if key is
// already present.
func (ag *AssociatedGraph[K]) Add(key K) error {
	if _, ok := ag.items[key]; ok {
		return ErrDuplicateKey
	}

	id := ag.g.Add()
	k := key
	ag.items[key] = id
	ag.lookup[id] = &k

	return nil
}

// Connect adds a directed, weighted edge between two existing keys. Reports
// false if either key is absent.
func (ag *AssociatedGraph[K]) Connect(from, to K, weight float64) bool {
	fromID, ok := ag.items[from]
	if !ok {
		return false
	}
	toID, ok := ag.items[to]
	if !ok {
		return false
	}
	return ag.g.Connect(fromID, toID, weight)
}

// Connections returns the keys directly reachable from key via one edge, in
// edge order.
func (ag *AssociatedGraph[K]) Connections(key K) ([]K, bool) {
	id, ok := ag.items[key]
	if !ok {
		return nil, false
	}

	edges := ag.g.Nodes[id].Edges
	out := make([]K, 0, len(edges))
	for _, e := range edges {
		out = append(out, *ag.lookup[e.To])
	}

	return out, true
}

// Path is an ordered sequence of keys from a traversal's source toward its
// target, plus the accumulated distance.
type Path[K comparable] struct {
	Keys     []K
	Distance float64
}

// WeightedPath additionally pairs each key (after the first) with the
// weight of the edge that reached it.
type WeightedPath[K comparable] struct {
	Steps    []WeightedStep[K]
	Distance float64
}

// WeightedStep is one hop of a WeightedPath.
type WeightedStep[K comparable] struct {
	Key    K
	Weight float64
}

// AssociatedResultTree is a keyed view over a graph.ResultTree, translating
// its node indices back to caller keys.
type AssociatedResultTree[K comparable] struct {
	ag   *AssociatedGraph[K]
	tree *graph.ResultTree
}

// PathTo reconstructs the path from the tree's root key to the given key.
// Returns false if to is absent or was not reached by the traversal.
func (art *AssociatedResultTree[K]) PathTo(to K) (Path[K], bool) {
	var zero Path[K]

	id, ok := art.ag.items[to]
	if !ok {
		return zero, false
	}

	indices, distance, ok := art.tree.PathTo(id)
	if !ok {
		return zero, false
	}

	keys := make([]K, len(indices))
	for i, idx := range indices {
		keys[i] = *art.ag.lookup[idx]
	}

	return Path[K]{Keys: keys, Distance: distance}, true
}

// PathToWithWeight is PathTo, additionally pairing each step with the
// weight of the edge that reached it.
func (art *AssociatedResultTree[K]) PathToWithWeight(to K) (WeightedPath[K], bool) {
	var zero WeightedPath[K]

	id, ok := art.ag.items[to]
	if !ok {
		return zero, false
	}

	indices, distance, ok := art.tree.PathTo(id)
	if !ok {
		return zero, false
	}

	steps := make([]WeightedStep[K], len(indices))
	for i, idx := range indices {
		w := 0.0
		if i > 0 {
			w, _ = art.ag.g.Weight(indices[i-1], idx)
		}
		steps[i] = WeightedStep[K]{Key: *art.ag.lookup[idx], Weight: w}
	}

	return WeightedPath[K]{Steps: steps, Distance: distance}, true
}

// Spans reports whether every key in the graph was reached by the
// traversal that produced this tree.
func (art *AssociatedResultTree[K]) Spans() bool {
	return art.tree.Spans()
}

// ShortestPathTree runs Dijkstra's algorithm from the given key. Returns
// false if the key is absent.
func (ag *AssociatedGraph[K]) ShortestPathTree(from K) (*AssociatedResultTree[K], bool) {
	id, ok := ag.items[from]
	if !ok {
		return nil, false
	}
	return &AssociatedResultTree[K]{ag: ag, tree: ag.g.ShortestPathTree(id)}, true
}

// MinSpanningTree runs Prim's algorithm from the given key. Returns false
// if the key is absent.
func (ag *AssociatedGraph[K]) MinSpanningTree(from K) (*AssociatedResultTree[K], bool) {
	id, ok := ag.items[from]
	if !ok {
		return nil, false
	}
	return &AssociatedResultTree[K]{ag: ag, tree: ag.g.MinSpanningTree(id)}, true
}

// ShortestPath finds the cheapest path between two keys. Returns false if
// either key is absent or to is unreachable from from.
func (ag *AssociatedGraph[K]) ShortestPath(from, to K) (Path[K], bool) {
	var zero Path[K]

	fromID, ok := ag.items[from]
	if !ok {
		return zero, false
	}
	toID, ok := ag.items[to]
	if !ok {
		return zero, false
	}

	indices, distance, ok := ag.g.ShortestPath(fromID, toID)
	if !ok {
		return zero, false
	}

	keys := make([]K, len(indices))
	for i, idx := range indices {
		keys[i] = *ag.lookup[idx]
	}

	return Path[K]{Keys: keys, Distance: distance}, true
}

// Persist writes the graph, followed by a size-prefixed (key, index)
// sequence, to a single file at path (spec §4.4/§6).
func (ag *AssociatedGraph[K]) Persist(path string, keyCodec codec.Codec[K]) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("agraph: create %s: %w", path, err)
	}
	defer f.Close()

	if err := Encode(f, ag, keyCodec); err != nil {
		return err
	}

	return f.Sync()
}

// Encode writes ag's wire representation (the graph, then the item count,
// then each (key, index) pair) to w.
func Encode[K comparable](w io.Writer, ag *AssociatedGraph[K], keyCodec codec.Codec[K]) error {
	if err := graph.Codec.Encode(w, ag.g); err != nil {
		return fmt.Errorf("agraph: encode graph: %w", err)
	}

	if err := codec.Uint64.Encode(w, uint64(len(ag.items))); err != nil {
		return fmt.Errorf("agraph: encode item count: %w", err)
	}

	for k, idx := range ag.items {
		if err := keyCodec.Encode(w, k); err != nil {
			return fmt.Errorf("agraph: encode key: %w", err)
		}
		if err := codec.Uint64.Encode(w, uint64(idx)); err != nil {
			return fmt.Errorf("agraph: encode index: %w", err)
		}
	}

	return nil
}

// Load reads an AssociatedGraph previously written by Persist.
func Load[K comparable](path string, keyCodec codec.Codec[K]) (*AssociatedGraph[K], error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("agraph: open %s: %w", path, err)
	}
	defer f.Close()

	return Decode(f, keyCodec)
}

// Decode reads an AssociatedGraph's wire representation from r.
func Decode[K comparable](r io.Reader, keyCodec codec.Codec[K]) (*AssociatedGraph[K], error) {
	g, err := graph.Codec.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("agraph: decode graph: %w", err)
	}

	count, err := codec.Uint64.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("agraph: decode item count: %w", err)
	}

	ag := &AssociatedGraph[K]{
		g:      g,
		items:  make(map[K]int, count),
		lookup: make(map[int]*K, count),
	}

	for i := uint64(0); i < count; i++ {
		k, err := keyCodec.Decode(r)
		if err != nil {
			return nil, fmt.Errorf("agraph: decode key: %w", err)
		}

		idx, err := codec.Uint64.Decode(r)
		if err != nil {
			return nil, fmt.Errorf("agraph: decode index: %w", err)
		}

		key := k
		ag.items[k] = int(idx)
		ag.lookup[int(idx)] = &key
	}

	return ag, nil
}
