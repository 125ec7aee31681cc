// Package queue implements the distance-ordered priority queues used during
// graph construction and search in the vector index.
package queue

import "container/heap"

// Compile time check to ensure PriorityQueue satisfies the heap interface.
var _ heap.Interface = (*PriorityQueue)(nil)

// Item is an (id, distance) pair held in a PriorityQueue.
type Item struct {
	Node     uint32  // Node is the id of the indexed vector.
	Distance float32 // Distance is the priority of the item in the queue.
}

// PriorityQueue is a binary heap of Items ordered by distance.
// A min queue surfaces the closest item first, a max queue the farthest.
type PriorityQueue struct {
	max   bool
	items []Item
}

// NewMin creates a min-ordered queue (closest item on top).
func NewMin(capacity int) *PriorityQueue {
	return &PriorityQueue{items: make([]Item, 0, capacity)}
}

// NewMax creates a max-ordered queue (farthest item on top).
func NewMax(capacity int) *PriorityQueue {
	return &PriorityQueue{max: true, items: make([]Item, 0, capacity)}
}

// Len returns the number of items in the queue.
func (pq *PriorityQueue) Len() int { return len(pq.items) }

// Less reports whether the element with index i should sort before the element with index j.
func (pq *PriorityQueue) Less(i, j int) bool {
	if pq.max {
		return pq.items[i].Distance > pq.items[j].Distance
	}
	return pq.items[i].Distance < pq.items[j].Distance
}

// Swap swaps the elements with indexes i and j.
func (pq *PriorityQueue) Swap(i, j int) {
	pq.items[i], pq.items[j] = pq.items[j], pq.items[i]
}

// Push adds x to the queue. Required by heap.Interface; use PushItem instead.
func (pq *PriorityQueue) Push(x any) {
	pq.items = append(pq.items, x.(Item))
}

// Pop removes the last element. Required by heap.Interface; use PopItem instead.
func (pq *PriorityQueue) Pop() any {
	n := len(pq.items)
	item := pq.items[n-1]
	pq.items = pq.items[:n-1]
	return item
}

// PushItem inserts an item while maintaining the heap invariant.
func (pq *PriorityQueue) PushItem(item Item) {
	heap.Push(pq, item)
}

// PopItem removes and returns the top element.
func (pq *PriorityQueue) PopItem() (Item, bool) {
	if len(pq.items) == 0 {
		return Item{}, false
	}
	return heap.Pop(pq).(Item), true
}

// TopItem returns the top element without removing it.
func (pq *PriorityQueue) TopItem() (Item, bool) {
	if len(pq.items) == 0 {
		return Item{}, false
	}
	return pq.items[0], true
}

// MinItem returns the closest item regardless of queue order.
// For a max-ordered queue this scans the backing slice.
func (pq *PriorityQueue) MinItem() (Item, bool) {
	if len(pq.items) == 0 {
		return Item{}, false
	}
	if !pq.max {
		return pq.items[0], true
	}
	best := pq.items[0]
	for _, item := range pq.items[1:] {
		if item.Distance < best.Distance {
			best = item
		}
	}
	return best, true
}

// Reset clears the queue, keeping the allocated capacity.
func (pq *PriorityQueue) Reset() {
	pq.items = pq.items[:0]
}
