// Package queue provides the heap-backed priority queue shared by the search
// indexes.
package queue

import (
	"container/heap"
	"slices"
)

// Compile time check to ensure PriorityQueue satisfies the heap interface.
var _ heap.Interface = (*PriorityQueue)(nil)

// PriorityQueueItem represents an item in the priority queue.
type PriorityQueueItem struct {
	Node     uint32  // Node is the identifier of the item.
	Distance float32 // Distance is the priority of the item in the queue.
	Index    int     // Index is maintained by the heap.Interface methods.
}

// PriorityQueue implements heap.Interface and holds PriorityQueueItems.
//
// Equal distances are ordered by node id so that results do not depend on
// insertion order.
type PriorityQueue struct {
	Order bool                 // Order selects a max-heap when true, min-heap when false.
	Items []*PriorityQueueItem // Items contains the elements of the priority queue.
}

// Len returns the number of elements in the priority queue.
func (pq *PriorityQueue) Len() int { return len(pq.Items) }

// Less reports whether the element with index i should sort before the element with index j.
func (pq *PriorityQueue) Less(i, j int) bool {
	a, b := pq.Items[i], pq.Items[j]
	if !pq.Order {
		if a.Distance != b.Distance {
			return a.Distance < b.Distance
		}
		return a.Node < b.Node
	}
	if a.Distance != b.Distance {
		return a.Distance > b.Distance
	}
	return a.Node > b.Node
}

// Swap swaps the elements with indexes i and j.
func (pq *PriorityQueue) Swap(i, j int) {
	pq.Items[i], pq.Items[j] = pq.Items[j], pq.Items[i]
	pq.Items[i].Index, pq.Items[j].Index = i, j
}

// Push adds x to the priority queue.
func (pq *PriorityQueue) Push(x any) {
	item, _ := x.(*PriorityQueueItem)
	item.Index = len(pq.Items)
	pq.Items = append(pq.Items, item)
}

// Pop removes and returns the top element from the priority queue.
func (pq *PriorityQueue) Pop() any {
	if len(pq.Items) == 0 {
		return nil
	}

	old := pq.Items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.Index = -1
	pq.Items = old[:n-1]

	return item
}

// Top returns the top element of the priority queue.
func (pq *PriorityQueue) Top() *PriorityQueueItem {
	return pq.Items[0]
}

// TopK keeps the k smallest items pushed into it. It is a bounded max-heap:
// the worst retained item sits on top and is evicted first.
type TopK struct {
	k  int
	pq PriorityQueue
}

// NewTopK creates a TopK collector for k items.
func NewTopK(k int) *TopK {
	return &TopK{
		k:  k,
		pq: PriorityQueue{Order: true, Items: make([]*PriorityQueueItem, 0, k)},
	}
}

// Push offers a candidate. It reports whether the candidate was retained.
func (t *TopK) Push(node uint32, dist float32) bool {
	if t.k <= 0 {
		return false
	}
	if t.pq.Len() < t.k {
		heap.Push(&t.pq, &PriorityQueueItem{Node: node, Distance: dist})
		return true
	}

	top := t.pq.Top()
	if dist < top.Distance || (dist == top.Distance && node < top.Node) {
		top.Node = node
		top.Distance = dist
		heap.Fix(&t.pq, 0)
		return true
	}
	return false
}

// Len returns the number of retained items.
func (t *TopK) Len() int { return t.pq.Len() }

// Worst returns the largest retained distance, or false when fewer than k
// items have been retained.
func (t *TopK) Worst() (float32, bool) {
	if t.pq.Len() < t.k {
		return 0, false
	}
	return t.pq.Top().Distance, true
}

// Sorted returns the retained items in ascending distance order.
func (t *TopK) Sorted() []PriorityQueueItem {
	out := make([]PriorityQueueItem, 0, t.pq.Len())
	for _, it := range t.pq.Items {
		out = append(out, *it)
	}
	slices.SortFunc(out, func(a, b PriorityQueueItem) int {
		switch {
		case a.Distance < b.Distance:
			return -1
		case a.Distance > b.Distance:
			return 1
		case a.Node < b.Node:
			return -1
		case a.Node > b.Node:
			return 1
		default:
			return 0
		}
	})
	return out
}
