package queue

import (
	"container/heap"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriorityQueue(t *testing.T) {
	t.Run("MinHeap", func(t *testing.T) {
		pq := &PriorityQueue{}
		heap.Init(pq)
		for i, d := range []float32{3, 1, 2} {
			heap.Push(pq, &PriorityQueueItem{Node: uint32(i), Distance: d})
		}
		assert.Equal(t, float32(1), pq.Top().Distance)

		var got []float32
		for pq.Len() > 0 {
			got = append(got, heap.Pop(pq).(*PriorityQueueItem).Distance)
		}
		assert.Equal(t, []float32{1, 2, 3}, got)
	})

	t.Run("MaxHeap", func(t *testing.T) {
		pq := &PriorityQueue{Order: true}
		heap.Init(pq)
		for i, d := range []float32{3, 1, 2} {
			heap.Push(pq, &PriorityQueueItem{Node: uint32(i), Distance: d})
		}
		assert.Equal(t, float32(3), pq.Top().Distance)
	})

	t.Run("TiesByNode", func(t *testing.T) {
		pq := &PriorityQueue{}
		heap.Push(pq, &PriorityQueueItem{Node: 7, Distance: 1})
		heap.Push(pq, &PriorityQueueItem{Node: 2, Distance: 1})
		assert.Equal(t, uint32(2), pq.Top().Node)
	})

	t.Run("PopEmpty", func(t *testing.T) {
		pq := &PriorityQueue{}
		assert.Nil(t, pq.Pop())
	})
}

func TestTopK(t *testing.T) {
	tk := NewTopK(3)
	for i, d := range []float32{5, 1, 4, 2, 3, 0.5} {
		tk.Push(uint32(i), d)
	}
	require.Equal(t, 3, tk.Len())

	worst, ok := tk.Worst()
	require.True(t, ok)
	assert.Equal(t, float32(2), worst)

	got := tk.Sorted()
	assert.Equal(t, []uint32{5, 1, 3}, []uint32{got[0].Node, got[1].Node, got[2].Node})

	assert.False(t, NewTopK(0).Push(1, 1))

	_, ok = NewTopK(2).Worst()
	assert.False(t, ok)
}
