// Package util
//
// This file provides the priority queue the engines use to track ttl deadlines.
//
// MapHeap combines a binary min-heap (ordered by deadline) with a map from key
// to heap slot, so the collector can both pop the next deadline in O(log n)
// and drop or move a key in O(log n) when the entry is overwritten or deleted
// before it expires. Re-adding a key updates its deadline in place, a key is
// never queued twice.
//
// MapHeap is not safe for concurrent use, callers guard it with a mutex.
//
//	deadlines := NewMapHeap[string]()
//	deadlines.AddItem("write:job-1", 1_700_000_030_000)
//	if next, ok := deadlines.Peek(); ok && next.Priority <= now {
//	    deadlines.RemoveByKey(next.Key)
//	}
package util

import (
	"container/heap"
	"fmt"
)

// Item is one queued key with its deadline.
type Item[K comparable] struct {
	Key      K
	Priority uint64
	index    int // slot in the heap, maintained by the heap package
}

func (i *Item[K]) String() string {
	return fmt.Sprintf("{Key: %v, Priority: %d}", i.Key, i.Priority)
}

// MapHeap is a min-heap of deadlines with key based access.
type MapHeap[K comparable] struct {
	items    []*Item[K]
	itemsMap map[K]*Item[K]
}

// NewMapHeap creates an empty MapHeap.
func NewMapHeap[K comparable]() *MapHeap[K] {
	return &MapHeap[K]{
		items:    make([]*Item[K], 0),
		itemsMap: make(map[K]*Item[K]),
	}
}

// Len is part of heap.Interface.
func (h *MapHeap[K]) Len() int { return len(h.items) }

// Less is part of heap.Interface, the earliest deadline comes first.
func (h *MapHeap[K]) Less(i, j int) bool {
	return h.items[i].Priority < h.items[j].Priority
}

// Swap is part of heap.Interface.
func (h *MapHeap[K]) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

// Push is part of heap.Interface. Use AddItem instead.
func (h *MapHeap[K]) Push(x interface{}) {
	it := x.(*Item[K])
	it.index = len(h.items)
	h.items = append(h.items, it)
	h.itemsMap[it.Key] = it
}

// Pop is part of heap.Interface. Use RemoveByKey or PopExpired instead.
func (h *MapHeap[K]) Pop() interface{} {
	old := h.items
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	h.items = old[:n-1]
	delete(h.itemsMap, it.Key)
	return it
}

// AddItem queues key with the given deadline or moves an already queued key.
func (h *MapHeap[K]) AddItem(key K, priority uint64) {
	if it, exists := h.itemsMap[key]; exists {
		it.Priority = priority
		heap.Fix(h, it.index)
		return
	}
	heap.Push(h, &Item[K]{Key: key, Priority: priority})
}

// RemoveByKey drops key from the queue and returns its deadline.
func (h *MapHeap[K]) RemoveByKey(key K) (uint64, bool) {
	it, exists := h.itemsMap[key]
	if !exists {
		return 0, false
	}
	heap.Remove(h, it.index)
	return it.Priority, true
}

// Peek returns the item with the earliest deadline without removing it.
func (h *MapHeap[K]) Peek() (*Item[K], bool) {
	if len(h.items) == 0 {
		return nil, false
	}
	return h.items[0], true
}

// PopExpired removes and returns all keys whose deadline is <= now,
// earliest first.
func (h *MapHeap[K]) PopExpired(now uint64) []K {
	var keys []K
	for len(h.items) > 0 && h.items[0].Priority <= now {
		it := heap.Pop(h).(*Item[K])
		keys = append(keys, it.Key)
	}
	return keys
}

// Contains reports whether key is queued.
func (h *MapHeap[K]) Contains(key K) bool {
	_, exists := h.itemsMap[key]
	return exists
}

// GetByKey returns the queued item for key without removing it.
func (h *MapHeap[K]) GetByKey(key K) (*Item[K], bool) {
	it, exists := h.itemsMap[key]
	return it, exists
}
