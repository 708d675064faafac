package graph

import (
	"bytes"
	"testing"
)

func buildSample() *Graph {
	g := New()
	for i := 0; i < 4; i++ {
		g.Add()
	}
	g.Connect(0, 1, 1)
	g.Connect(1, 2, 1)
	g.Connect(0, 2, 5)
	g.Connect(2, 3, 1)
	return g
}

func TestShortestPath(t *testing.T) {
	g := buildSample()

	path, dist, ok := g.ShortestPath(0, 3)
	if !ok {
		t.Fatalf("expected a path from 0 to 3")
	}

	wantPath := []int{0, 1, 2, 3}
	if len(path) != len(wantPath) {
		t.Fatalf("got path %v want %v", path, wantPath)
	}
	for i := range wantPath {
		if path[i] != wantPath[i] {
			t.Fatalf("got path %v want %v", path, wantPath)
		}
	}

	if dist != 3 {
		t.Fatalf("got distance %v want 3", dist)
	}
}

func TestShortestPathUnreachable(t *testing.T) {
	g := New()
	g.Add()
	g.Add()

	if _, _, ok := g.ShortestPath(0, 1); ok {
		t.Fatalf("expected node 1 to be unreachable from node 0")
	}
}

func TestShortestPathOutOfRange(t *testing.T) {
	g := buildSample()
	if _, _, ok := g.ShortestPath(99, 0); ok {
		t.Fatalf("expected out-of-range source to fail")
	}
}

func TestShortestPathTreeSpansWhenFullyConnected(t *testing.T) {
	g := buildSample()
	tree := g.ShortestPathTree(0)
	if tree == nil {
		t.Fatalf("expected a result tree")
	}
	if !tree.Spans() {
		t.Fatalf("expected the tree to span every node")
	}
}

func TestTraversalFromIsolatedSourceReachesOnlySource(t *testing.T) {
	g := New()
	g.Add()
	g.Add()
	g.Add()

	tree := g.ShortestPathTree(0)
	path, _, ok := tree.PathTo(0)
	if !ok || len(path) != 1 || path[0] != 0 {
		t.Fatalf("expected the source alone to be reachable, got %v", path)
	}

	if _, _, ok := tree.PathTo(1); ok {
		t.Fatalf("expected node 1 to be unreachable")
	}
}

func TestMinSpanningTree(t *testing.T) {
	g := New()
	for i := 0; i < 3; i++ {
		g.Add()
	}
	g.Connect(0, 1, 4)
	g.Connect(1, 0, 4)
	g.Connect(1, 2, 1)
	g.Connect(2, 1, 1)
	g.Connect(0, 2, 9)
	g.Connect(2, 0, 9)

	tree := g.MinSpanningTree(0)
	if !tree.Spans() {
		t.Fatalf("expected MST to span all nodes")
	}

	path, dist, ok := tree.PathTo(2)
	if !ok {
		t.Fatalf("expected node 2 to be reachable")
	}
	if dist != 1+4 {
		t.Fatalf("expected the MST path 0-1-2 (4+1), got path %v dist %v", path, dist)
	}
}

func TestGraphSerializeRoundTrip(t *testing.T) {
	g := buildSample()

	var buf bytes.Buffer
	if err := Codec.Encode(&buf, g); err != nil {
		t.Fatalf("encode: %v", err)
	}

	got, err := Codec.Decode(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if got.Count() != g.Count() {
		t.Fatalf("got %d nodes want %d", got.Count(), g.Count())
	}

	path, dist, ok := got.ShortestPath(0, 3)
	if !ok || dist != 3 || len(path) != 4 {
		t.Fatalf("round-tripped graph lost its edges: path=%v dist=%v ok=%v", path, dist, ok)
	}
}
