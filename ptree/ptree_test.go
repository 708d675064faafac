package ptree

import (
	"path/filepath"
	"testing"

	"github.com/holtgrave/linkgraph/codec"
)

var intKeyCodec = codec.KeyCodec[int64]{
	Codec: codec.Int64,
	Compare: func(a, b int64) int {
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		default:
			return 0
		}
	},
}

func newTree(t *testing.T) *Tree[int64, string] {
	t.Helper()
	base := filepath.Join(t.TempDir(), "tree")

	tr, err := New[int64, string](base, intKeyCodec, codec.String)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { tr.Close() })

	return tr
}

func TestInsertSearchBasic(t *testing.T) {
	tr := newTree(t)

	tr.Insert(1, "a")
	tr.Insert(2, "b")
	tr.Insert(3, "c")

	v, ok, err := tr.Search(2)
	if err != nil || !ok || v != "b" {
		t.Fatalf("got (%v,%v,%v) want (b,true,nil)", v, ok, err)
	}

	_, ok, err = tr.Search(4)
	if err != nil || ok {
		t.Fatalf("expected key 4 to be absent, got ok=%v err=%v", ok, err)
	}

	keys, err := tr.Keys()
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	want := []int64{1, 2, 3}
	if len(keys) != len(want) {
		t.Fatalf("got %v want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("got %v want %v", keys, want)
		}
	}
}

func TestRootSplitsAfterNumEntriesPlusOneKeys(t *testing.T) {
	tr := newTree(t)

	for k := int64(1); k <= NumEntries+1; k++ {
		if err := tr.Insert(k, ""); err != nil {
			t.Fatalf("insert %d: %v", k, err)
		}
	}

	root, err := tr.readNode(tr.root)
	if err != nil {
		t.Fatalf("read root: %v", err)
	}
	if root.leaf {
		t.Fatalf("expected root to become internal after inserting NumEntries+1 keys")
	}

	_, ok, err := tr.Search(24)
	if err != nil || !ok {
		t.Fatalf("expected key 24 to be found, got ok=%v err=%v", ok, err)
	}
	_, ok, err = tr.Search(int64(NumEntries) + 2)
	if err != nil || ok {
		t.Fatalf("expected key NumEntries+2 to be absent")
	}
}

func TestContainsKey(t *testing.T) {
	tr := newTree(t)
	tr.Insert(5, "five")

	ok, err := tr.ContainsKey(5)
	if err != nil || !ok {
		t.Fatalf("got %v %v want true,nil", ok, err)
	}
	ok, err = tr.ContainsKey(6)
	if err != nil || ok {
		t.Fatalf("got %v %v want false,nil", ok, err)
	}
}

func TestDuplicateKeyReturnsMostRecentlyInserted(t *testing.T) {
	tr := newTree(t)

	tr.Insert(5, "first")
	tr.Insert(5, "second")
	tr.Insert(5, "third")

	v, ok, err := tr.Search(5)
	if err != nil || !ok || v != "third" {
		t.Fatalf("got (%v,%v,%v) want (third,true,nil)", v, ok, err)
	}
}

func TestOpenReattachesToExistingTree(t *testing.T) {
	base := filepath.Join(t.TempDir(), "tree")

	tr, err := New[int64, string](base, intKeyCodec, codec.String)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tr.Insert(10, "ten")
	tr.Insert(20, "twenty")
	if err := tr.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open[int64, string](base, intKeyCodec, codec.String)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reopened.Close()

	v, ok, err := reopened.Search(20)
	if err != nil || !ok || v != "twenty" {
		t.Fatalf("got (%v,%v,%v) want (twenty,true,nil)", v, ok, err)
	}

	keys, err := reopened.Keys()
	if err != nil || len(keys) != 2 {
		t.Fatalf("got keys=%v err=%v, want 2 keys", keys, err)
	}
}
