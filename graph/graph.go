// Package graph implements an in-memory weighted directed graph addressed by
// dense 0-based node indices, with Dijkstra shortest-path-tree, Prim
// minimum-spanning-tree, and single-pair shortest-path traversals, each
// producing a ResultTree of parent pointers. It persists via codec.
package graph

import (
	"io"
	"math"

	"github.com/holtgrave/linkgraph/codec"
	"github.com/holtgrave/linkgraph/pqueue"
)

// Edge is a directed, weighted connection to another node by index.
type Edge struct {
	To     int
	Weight float64
}

// Node is one vertex in the graph. marker and next are traversal scratch
// state: they are never serialized, and on load marker is reset to 0 and
// next to -1, per spec §3.
type Node struct {
	ID    int
	Edges []Edge

	marker int
	next   int
}

// Graph is an ordered sequence of nodes addressed by dense index, plus a
// monotonically increasing marker used to stamp whichever traversal ran
// most recently.
type Graph struct {
	Nodes  []*Node
	marker int
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{}
}

// Count returns the number of nodes in the graph.
func (g *Graph) Count() int { return len(g.Nodes) }

// Add appends a new, edgeless node and returns its index.
func (g *Graph) Add() int {
	id := len(g.Nodes)
	g.Nodes = append(g.Nodes, &Node{ID: id, next: -1})
	return id
}

// Connect appends a directed edge from -> to with the given weight. No
// deduplication is performed — connecting the same pair twice yields two
// edges. Reports false if either index is out of range.
func (g *Graph) Connect(from, to int, weight float64) bool {
	if from < 0 || from >= len(g.Nodes) || to < 0 || to >= len(g.Nodes) {
		return false
	}
	g.Nodes[from].Edges = append(g.Nodes[from].Edges, Edge{To: to, Weight: weight})
	return true
}

// Weight returns the weight of the first from->to edge, if any.
func (g *Graph) Weight(from, to int) (float64, bool) {
	if from < 0 || from >= len(g.Nodes) {
		return 0, false
	}
	for _, e := range g.Nodes[from].Edges {
		if e.To == to {
			return e.Weight, true
		}
	}
	return 0, false
}

// ShortestPathTree runs Dijkstra's algorithm from the given source, marking
// every node reachable from it and recording a parent pointer on the
// cheapest known path. Returns nil if from is out of range.
func (g *Graph) ShortestPathTree(from int) *ResultTree {
	if from < 0 || from >= len(g.Nodes) {
		return nil
	}

	g.marker++
	dist := g.newDistances()
	dist[from] = 0
	g.Nodes[from].marker = g.marker

	pq := pqueue.New[int]()
	pq.Push(uint64(from), 0, from)

	for item, ok := pq.Poll(); ok; item, ok = pq.Poll() {
		u := item.Value
		for _, e := range g.Nodes[u].Edges {
			v := e.To
			if dist[v] > dist[u]+e.Weight {
				dist[v] = dist[u] + e.Weight
				g.Nodes[v].marker = g.marker
				g.Nodes[v].next = u
				pq.Push(uint64(v), dist[v], v)
			}
		}
	}

	return &ResultTree{graph: g, root: from, epoch: g.marker}
}

// MinSpanningTree runs Prim's algorithm from the given source. A node is
// stamped when it is polled and joins the tree; edges into stamped nodes are
// not relaxed. Returns nil if from is out of range.
func (g *Graph) MinSpanningTree(from int) *ResultTree {
	if from < 0 || from >= len(g.Nodes) {
		return nil
	}

	g.marker++
	dist := g.newDistances()
	dist[from] = 0
	g.Nodes[from].marker = g.marker

	pq := pqueue.New[int]()
	pq.Push(uint64(from), 0, from)

	for item, ok := pq.Poll(); ok; item, ok = pq.Poll() {
		u := item.Value
		g.Nodes[u].marker = g.marker
		for _, e := range g.Nodes[u].Edges {
			v := e.To
			if g.Nodes[v].marker != g.marker && dist[v] > e.Weight {
				dist[v] = e.Weight
				g.Nodes[v].next = u
				pq.Push(uint64(v), dist[v], v)
			}
		}
	}

	return &ResultTree{graph: g, root: from, epoch: g.marker}
}

// ShortestPath finds the cheapest path between two nodes via Dijkstra. When
// to is relaxed, the scan of the current node's remaining edges stops and to
// is not queued; the queue itself is still drained. Returns the path as an
// ordered slice of indices from source to target, and its total distance.
// Returns (nil, 0, false) if either index is out of range or to is
// unreachable from from.
func (g *Graph) ShortestPath(from, to int) ([]int, float64, bool) {
	if from < 0 || from >= len(g.Nodes) {
		return nil, 0, false
	}

	g.marker++
	dist := g.newDistances()
	dist[from] = 0
	g.Nodes[from].marker = g.marker

	pq := pqueue.New[int]()
	pq.Push(uint64(from), 0, from)

	for item, ok := pq.Poll(); ok; item, ok = pq.Poll() {
		u := item.Value
		for _, e := range g.Nodes[u].Edges {
			v := e.To
			if dist[v] > dist[u]+e.Weight {
				dist[v] = dist[u] + e.Weight
				g.Nodes[v].marker = g.marker
				g.Nodes[v].next = u
				if v == to {
					break
				}
				pq.Push(uint64(v), dist[v], v)
			}
		}
	}

	tree := &ResultTree{graph: g, root: from, epoch: g.marker}
	return tree.PathTo(to)
}

func (g *Graph) newDistances() []float64 {
	dist := make([]float64, len(g.Nodes))
	for i := range dist {
		dist[i] = math.Inf(1)
	}
	return dist
}

// ResultTree is a view over the parent pointers left by whichever traversal
// produced it, letting callers reconstruct a path from its root to any node
// that traversal reached.
type ResultTree struct {
	graph *Graph
	root  int
	epoch int
}

// Root returns the traversal's source index.
func (rt *ResultTree) Root() int { return rt.root }

// PathTo reconstructs the path from the tree's root to t by walking parent
// pointers, accumulating edge weights along the way. Returns (nil, 0, false)
// if t is out of range or was not reached by the traversal that produced
// this tree.
func (rt *ResultTree) PathTo(t int) ([]int, float64, bool) {
	if t < 0 || t >= len(rt.graph.Nodes) {
		return nil, 0, false
	}
	if rt.graph.Nodes[t].marker != rt.epoch {
		return nil, 0, false
	}

	path := []int{t}
	weight := 0.0
	current := t

	for current != rt.root {
		parent := rt.graph.Nodes[current].next
		if w, ok := rt.graph.Weight(parent, current); ok {
			weight += w
		}
		path = append(path, parent)
		current = parent
	}

	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}

	return path, weight, true
}

// Spans reports whether every node in the graph was reached by the
// traversal that produced this tree.
func (rt *ResultTree) Spans() bool {
	for i := range rt.graph.Nodes {
		if _, _, ok := rt.PathTo(i); !ok {
			return false
		}
	}
	return true
}

var edgeCodec = codec.Codec[Edge]{
	Encode: func(w io.Writer, e Edge) error {
		if err := codec.Uint64.Encode(w, uint64(e.To)); err != nil {
			return err
		}
		return codec.Float64.Encode(w, e.Weight)
	},
	Decode: func(r io.Reader) (Edge, error) {
		to, err := codec.Uint64.Decode(r)
		if err != nil {
			return Edge{}, err
		}
		weight, err := codec.Float64.Decode(r)
		if err != nil {
			return Edge{}, err
		}
		return Edge{To: int(to), Weight: weight}, nil
	},
	Len: func(Edge) uint64 { return 16 },
}

var edgeListCodec = codec.Slice(edgeCodec)

var nodeCodec = codec.Codec[*Node]{
	Encode: func(w io.Writer, n *Node) error {
		if err := codec.Uint64.Encode(w, uint64(n.ID)); err != nil {
			return err
		}
		return edgeListCodec.Encode(w, n.Edges)
	},
	Decode: func(r io.Reader) (*Node, error) {
		id, err := codec.Uint64.Decode(r)
		if err != nil {
			return nil, err
		}
		edges, err := edgeListCodec.Decode(r)
		if err != nil {
			return nil, err
		}
		return &Node{ID: int(id), Edges: edges, next: -1}, nil
	},
	Len: func(n *Node) uint64 { return 8 + edgeListCodec.Len(n.Edges) },
}

var nodeListCodec = codec.Slice(nodeCodec)

// Codec is Graph's serialization contract: an (id, edges) record per node,
// framed as a count-prefixed sequence. Marker and the per-node Next/marker
// scratch fields are not part of the wire format.
var Codec = codec.Codec[*Graph]{
	Encode: func(w io.Writer, g *Graph) error {
		return nodeListCodec.Encode(w, g.Nodes)
	},
	Decode: func(r io.Reader) (*Graph, error) {
		nodes, err := nodeListCodec.Decode(r)
		if err != nil {
			return nil, err
		}
		return &Graph{Nodes: nodes}, nil
	},
	Len: func(g *Graph) uint64 { return nodeListCodec.Len(g.Nodes) },
}
