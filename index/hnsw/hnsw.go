// Package hnsw provides an approximate nearest neighbor index over a
// Hierarchical Navigable Small World graph.
package hnsw

import (
	"container/heap"
	"context"
	"math"
	"math/rand"
	"sync"

	"github.com/bits-and-blooms/bitset"
	"github.com/hupe1980/hloc/distance"
	"github.com/hupe1980/hloc/index"
	"github.com/hupe1980/hloc/queue"
)

// Compile-time check to ensure HNSW satisfies the index interface.
var _ index.Index = (*HNSW)(nil)

// Options represents the options for configuring HNSW.
type Options struct {
	// Metric is the distance metric. Cosine stores unit-normalized vectors.
	Metric distance.Metric

	// M specifies the number of established connections for every new element during construction.
	// The range M=12-48 is ok for most use cases.
	M int

	// EFConstruction specifies the size of the dynamic candidate list during construction.
	EFConstruction int

	// EFSearch specifies the size of the dynamic candidate list during search.
	// It is raised to k when smaller.
	EFSearch int

	// Heuristic selects the diversity heuristic (true) or the plain k-NN rule
	// (false) for linking neighbours.
	Heuristic bool

	// Seed drives level generation so that builds are reproducible.
	Seed int64
}

// DefaultOptions contains the default configuration options for HNSW.
var DefaultOptions = Options{
	Metric:         distance.MetricL2,
	M:              16,
	EFConstruction: 200,
	EFSearch:       64,
	Heuristic:      true,
	Seed:           1,
}

type node struct {
	vector      []float32
	layer       int
	connections [][]uint32
}

// HNSW represents the Hierarchical Navigable Small World graph
type HNSW struct {
	mu sync.RWMutex

	dimension int
	mmax      int     // Max number of connections per element/per layer
	mmax0     int     // Max for the 0 layer
	ml        float64 // Normalization factor for level generation
	ep        uint32  // Entry point on the top layer
	maxLevel  int     // Track the current max level used

	nodes []*node
	rng   *rand.Rand
	dist  distance.Func
	opts  Options
}

// New creates a new HNSW instance with the given options.
func New(optFns ...func(o *Options)) *HNSW {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.M < 2 {
		// M == 1 would result in division by zero: 1 / log(1)
		opts.M = 2
	}
	if opts.EFConstruction < opts.M {
		opts.EFConstruction = opts.M
	}

	dist := distance.SquaredL2
	if opts.Metric == distance.MetricCosine {
		dist = distance.UnitCosineDistance
	}

	return &HNSW{
		mmax:  opts.M,
		mmax0: 2 * opts.M,
		ml:    1 / math.Log(float64(opts.M)),
		rng:   rand.New(rand.NewSource(opts.Seed)), // nolint gosec
		dist:  dist,
		opts:  opts,
	}
}

// Add inserts vectors into the graph. Ids continue from Len().
func (h *HNSW) Add(ctx context.Context, vectors [][]float32) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	dim, err := index.CheckDimension(h.dimension, vectors)
	if err != nil {
		return err
	}
	h.dimension = dim

	for _, v := range vectors {
		if err := ctx.Err(); err != nil {
			return err
		}
		vec := append([]float32(nil), v...)
		if h.opts.Metric == distance.MetricCosine {
			distance.NormalizeL2InPlace(vec)
		}
		h.insert(vec)
	}
	return nil
}

func (h *HNSW) insert(v []float32) {
	id := uint32(len(h.nodes))
	level := int(math.Floor(-math.Log(1-h.rng.Float64()) * h.ml))

	n := &node{
		vector:      v,
		layer:       level,
		connections: make([][]uint32, level+1),
	}

	if id == 0 {
		h.nodes = append(h.nodes, n)
		h.ep = 0
		h.maxLevel = level
		return
	}

	curr := h.greedy(v, h.ep, h.maxLevel, level)

	for l := min(level, h.maxLevel); l >= 0; l-- {
		candidates := h.searchLayer(v, curr, h.opts.EFConstruction, l)
		n.connections[l] = h.selectNeighbours(candidates, h.opts.M)
		curr = candidates[0]
	}

	h.nodes = append(h.nodes, n)

	// Next link the neighbour nodes to our new node, making it visible
	for l := min(level, h.maxLevel); l >= 0; l-- {
		for _, nb := range n.connections[l] {
			h.link(nb, id, l)
		}
	}

	if level > h.maxLevel {
		h.ep = id
		h.maxLevel = level
	}
}

// greedy descends from the top layer down to (but excluding) floor, moving to
// the closest neighbour on every layer.
func (h *HNSW) greedy(q []float32, ep uint32, top, floor int) queue.PriorityQueueItem {
	curr := queue.PriorityQueueItem{Node: ep, Distance: h.dist(q, h.nodes[ep].vector)}

	for level := top; level > floor; level-- {
		changed := true
		for changed {
			changed = false
			for _, id := range h.nodes[curr.Node].connections[level] {
				d := h.dist(q, h.nodes[id].vector)
				if d < curr.Distance {
					curr = queue.PriorityQueueItem{Node: id, Distance: d}
					changed = true
				}
			}
		}
	}
	return curr
}

// searchLayer performs a best-first search in one layer and returns up to ef
// candidates in ascending distance order.
func (h *HNSW) searchLayer(q []float32, ep queue.PriorityQueueItem, ef int, level int) []queue.PriorityQueueItem {
	var visited bitset.BitSet
	visited.Set(uint(ep.Node))

	candidates := &queue.PriorityQueue{Order: false}
	heap.Push(candidates, &queue.PriorityQueueItem{Node: ep.Node, Distance: ep.Distance})

	top := &queue.PriorityQueue{Order: true}
	heap.Push(top, &queue.PriorityQueueItem{Node: ep.Node, Distance: ep.Distance})

	for candidates.Len() > 0 {
		candidate, _ := heap.Pop(candidates).(*queue.PriorityQueueItem)
		if candidate.Distance > top.Top().Distance {
			break
		}

		n := h.nodes[candidate.Node]
		if len(n.connections) <= level {
			continue
		}

		for _, id := range n.connections[level] {
			if visited.Test(uint(id)) {
				continue
			}
			visited.Set(uint(id))

			d := h.dist(q, h.nodes[id].vector)
			if top.Len() < ef || d < top.Top().Distance {
				heap.Push(candidates, &queue.PriorityQueueItem{Node: id, Distance: d})
				heap.Push(top, &queue.PriorityQueueItem{Node: id, Distance: d})
				if top.Len() > ef {
					heap.Pop(top)
				}
			}
		}
	}

	out := make([]queue.PriorityQueueItem, top.Len())
	for i := len(out) - 1; i >= 0; i-- {
		item, _ := heap.Pop(top).(*queue.PriorityQueueItem)
		out[i] = *item
	}
	return out
}

// selectNeighbours picks up to m ids from candidates (ascending by distance).
func (h *HNSW) selectNeighbours(candidates []queue.PriorityQueueItem, m int) []uint32 {
	if !h.opts.Heuristic || len(candidates) <= m {
		ids := make([]uint32, 0, min(m, len(candidates)))
		for _, c := range candidates[:min(m, len(candidates))] {
			ids = append(ids, c.Node)
		}
		return ids
	}

	selected := make([]uint32, 0, m)
	var pruned []uint32

	for _, c := range candidates {
		if len(selected) >= m {
			break
		}

		keep := true
		for _, s := range selected {
			if h.dist(h.nodes[s].vector, h.nodes[c.Node].vector) < c.Distance {
				keep = false
				break
			}
		}

		if keep {
			selected = append(selected, c.Node)
		} else {
			pruned = append(pruned, c.Node)
		}
	}

	// Keep connectivity by filling up with the closest pruned candidates.
	for _, id := range pruned {
		if len(selected) >= m {
			break
		}
		selected = append(selected, id)
	}

	return selected
}

// link adds an edge first -> second and shrinks first's list when it overflows.
func (h *HNSW) link(first, second uint32, level int) {
	maxConnections := h.mmax
	// HNSW allows double the connections for the bottom level (0)
	if level == 0 {
		maxConnections = h.mmax0
	}

	n := h.nodes[first]
	n.connections[level] = append(n.connections[level], second)
	if len(n.connections[level]) <= maxConnections {
		return
	}

	tk := queue.NewTopK(len(n.connections[level]))
	for _, id := range n.connections[level] {
		tk.Push(id, h.dist(n.vector, h.nodes[id].vector))
	}
	n.connections[level] = h.selectNeighbours(tk.Sorted(), maxConnections)
}

// Search performs a k-nearest neighbor search in the HNSW graph
func (h *HNSW) Search(ctx context.Context, q []float32, k int) ([]index.SearchResult, error) {
	if err := index.CheckQuery(h, q, k); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.opts.Metric == distance.MetricCosine {
		unit, ok := distance.NormalizeL2Copy(q)
		if !ok {
			unit = make([]float32, len(q))
		}
		q = unit
	}

	ef := max(h.opts.EFSearch, k)
	ep := h.greedy(q, h.ep, h.maxLevel, 0)
	candidates := h.searchLayer(q, ep, ef, 0)

	out := make([]index.SearchResult, 0, min(k, len(candidates)))
	for _, c := range candidates[:min(k, len(candidates))] {
		out = append(out, index.SearchResult{ID: c.Node, Distance: c.Distance})
	}
	return out, nil
}

// Len returns the number of indexed vectors.
func (h *HNSW) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.nodes)
}

// Dimension returns the vector dimensionality.
func (h *HNSW) Dimension() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dimension
}

// Metric returns the distance metric.
func (h *HNSW) Metric() distance.Metric { return h.opts.Metric }

// Stats summarizes the graph shape.
type Stats struct {
	Nodes    int
	MaxLevel int
	AvgDeg0  float64 // mean out-degree on layer 0
}

// Stats returns statistics about the graph.
func (h *HNSW) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	st := Stats{Nodes: len(h.nodes), MaxLevel: h.maxLevel}
	if len(h.nodes) == 0 {
		return st
	}
	var edges int
	for _, n := range h.nodes {
		edges += len(n.connections[0])
	}
	st.AvgDeg0 = float64(edges) / float64(len(h.nodes))
	return st
}
