package util

import (
	"fmt"
	"testing"
)

func TestNewMapHeap(t *testing.T) {
	mh := NewMapHeap[string]()

	if mh.Len() != 0 {
		t.Errorf("New heap should be empty, but has length %d", mh.Len())
	}
	if _, exists := mh.Peek(); exists {
		t.Error("Peek on empty heap should return exists=false")
	}
}

func TestAddItemOrdersByDeadline(t *testing.T) {
	mh := NewMapHeap[string]()

	mh.AddItem("read:a:1", 100)
	mh.AddItem("write:a", 200)
	mh.AddItem("read:b:2", 50)

	if mh.Len() != 3 {
		t.Fatalf("Heap should have 3 items, but has %d", mh.Len())
	}
	for _, k := range []string{"read:a:1", "write:a", "read:b:2"} {
		if !mh.Contains(k) {
			t.Errorf("Heap should contain key %s", k)
		}
	}

	it, _ := mh.Peek()
	if it.Key != "read:b:2" || it.Priority != 50 {
		t.Errorf("Expected min item to be (read:b:2,50), got %s", it)
	}
}

func TestAddItemMovesExistingKey(t *testing.T) {
	mh := NewMapHeap[string]()

	mh.AddItem("a", 100)
	mh.AddItem("b", 200)
	mh.AddItem("a", 300)

	if mh.Len() != 2 {
		t.Fatalf("re-adding a key must not duplicate it, len=%d", mh.Len())
	}
	it, _ := mh.GetByKey("a")
	if it.Priority != 300 {
		t.Errorf("Item a should have deadline 300, got %d", it.Priority)
	}
	if min, _ := mh.Peek(); min.Key != "b" {
		t.Errorf("Min item should now be b, got %s", min.Key)
	}

	mh.AddItem("b", 50)
	if min, _ := mh.Peek(); min.Key != "b" || min.Priority != 50 {
		t.Errorf("Min item should now be (b,50), got %s", min)
	}
}

func TestRemoveByKey(t *testing.T) {
	mh := NewMapHeap[string]()
	mh.AddItem("a", 100)
	mh.AddItem("b", 200)
	mh.AddItem("c", 300)

	prio, exists := mh.RemoveByKey("b")
	if !exists || prio != 200 {
		t.Fatalf("RemoveByKey(b) = (%d, %v), want (200, true)", prio, exists)
	}
	if mh.Len() != 2 || mh.Contains("b") {
		t.Error("b should be gone after removal")
	}
	if _, exists := mh.RemoveByKey("zzz"); exists {
		t.Error("RemoveByKey should return false for unknown key")
	}
}

func TestPopExpired(t *testing.T) {
	mh := NewMapHeap[string]()
	mh.AddItem("e", 50)
	mh.AddItem("c", 30)
	mh.AddItem("a", 10)
	mh.AddItem("d", 40)
	mh.AddItem("b", 20)

	got := mh.PopExpired(30)
	want := []string{"a", "b", "c"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("PopExpired(30) = %v, want %v", got, want)
	}
	if mh.Len() != 2 {
		t.Errorf("two items should remain, got %d", mh.Len())
	}
	if got := mh.PopExpired(5); len(got) != 0 {
		t.Errorf("nothing is due at 5, got %v", got)
	}
	if got := mh.PopExpired(1000); len(got) != 2 || mh.Len() != 0 {
		t.Errorf("everything is due at 1000, got %v (len %d)", got, mh.Len())
	}
}

func TestLargeNumberOfItems(t *testing.T) {
	mh := NewMapHeap[string]()
	const n = 10000

	for i := n; i > 0; i-- {
		mh.AddItem(fmt.Sprintf("k%d", i), uint64(i))
	}
	for i := 1; i <= n; i += 2 {
		mh.RemoveByKey(fmt.Sprintf("k%d", i))
	}

	prev := uint64(0)
	for _, k := range mh.PopExpired(n) {
		it := k
		var p uint64
		if _, err := fmt.Sscanf(it, "k%d", &p); err != nil {
			t.Fatal(err)
		}
		if p < prev || p%2 != 0 {
			t.Fatalf("unexpected pop order: %d after %d", p, prev)
		}
		prev = p
	}
	if mh.Len() != 0 {
		t.Errorf("heap should be empty, has %d items", mh.Len())
	}
}
