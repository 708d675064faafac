package pqueue

import "testing"

func TestPushPollOrdering(t *testing.T) {
	q := New[string]()
	q.Push(1, 5.0, "five")
	q.Push(2, 1.0, "one")
	q.Push(3, 3.0, "three")

	want := []float64{1.0, 3.0, 5.0}
	for _, w := range want {
		item, ok := q.Poll()
		if !ok {
			t.Fatalf("expected an item")
		}
		if item.Priority != w {
			t.Fatalf("got priority %v want %v", item.Priority, w)
		}
	}

	if !q.Empty() {
		t.Fatalf("expected queue to be empty")
	}
	if _, ok := q.Poll(); ok {
		t.Fatalf("expected Poll on empty queue to report false")
	}
}

func TestDecreasePriorityReordersById(t *testing.T) {
	q := New[int]()
	q.Push(10, 10.0, 0)
	q.Push(20, 20.0, 0)
	q.Push(30, 30.0, 0)

	if !q.DecreasePriority(30, 1.0) {
		t.Fatalf("expected id 30 to be found")
	}

	top, ok := q.Poll()
	if !ok || top.ID != 30 {
		t.Fatalf("expected id 30 to be polled first, got %+v", top)
	}
}

func TestDecreasePriorityIgnoresIncrease(t *testing.T) {
	q := New[int]()
	q.Push(1, 5.0, 0)

	q.DecreasePriority(1, 10.0)

	top, _ := q.Poll()
	if top.Priority != 5.0 {
		t.Fatalf("priority should not have increased, got %v", top.Priority)
	}
}

func TestDecreasePriorityMissingId(t *testing.T) {
	q := New[int]()
	q.Push(1, 5.0, 0)

	if q.DecreasePriority(99, 1.0) {
		t.Fatalf("expected missing id to report false")
	}
}

func TestContains(t *testing.T) {
	q := New[int]()
	q.Push(7, 1.0, 0)

	if !q.Contains(7) {
		t.Fatalf("expected queue to contain id 7")
	}
	if q.Contains(8) {
		t.Fatalf("expected queue not to contain id 8")
	}
}

func TestAllDrainsInOrder(t *testing.T) {
	q := New[int]()
	q.Push(1, 3.0, 0)
	q.Push(2, 1.0, 0)
	q.Push(3, 2.0, 0)

	var got []float64
	for item := range q.All() {
		got = append(got, item.Priority)
	}

	want := []float64{1.0, 2.0, 3.0}
	for i, w := range want {
		if got[i] != w {
			t.Fatalf("index %d: got %v want %v", i, got[i], w)
		}
	}

	if !q.Empty() {
		t.Fatalf("expected queue to be drained after All()")
	}
}
