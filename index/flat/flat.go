// Package flat provides an exact nearest neighbor index that compares the query
// against every stored vector.
package flat

import (
	"context"
	"sync"

	"github.com/hupe1980/hloc/distance"
	"github.com/hupe1980/hloc/index"
	"github.com/hupe1980/hloc/queue"
)

// Compile-time check to ensure Flat satisfies the index interface.
var _ index.Index = (*Flat)(nil)

// Options contains configuration options for the flat index.
type Options struct {
	// Metric is the distance metric. Cosine stores unit-normalized vectors.
	Metric distance.Metric
}

// DefaultOptions contains the default configuration options for the flat index.
var DefaultOptions = Options{
	Metric: distance.MetricL2,
}

// Flat represents a flat index for vector storage and search.
// Vectors are kept in one contiguous row-major slice.
type Flat struct {
	mu   sync.RWMutex
	dim  int
	n    int
	data []float32
	opts Options
}

// New creates a new flat index.
func New(optFns ...func(o *Options)) *Flat {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Flat{opts: opts}
}

// Add appends vectors to the index.
func (f *Flat) Add(ctx context.Context, vectors [][]float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	dim, err := index.CheckDimension(f.dim, vectors)
	if err != nil {
		return err
	}
	f.dim = dim

	for i, v := range vectors {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		start := len(f.data)
		f.data = append(f.data, v...)
		if f.opts.Metric == distance.MetricCosine {
			distance.NormalizeL2InPlace(f.data[start:])
		}
		f.n++
	}
	return nil
}

// Search returns the k nearest vectors in ascending distance order. Ties are
// broken by the lower id.
func (f *Flat) Search(ctx context.Context, q []float32, k int) ([]index.SearchResult, error) {
	if err := index.CheckQuery(f, q, k); err != nil {
		return nil, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	query := f.prepare(q)
	top := queue.NewTopK(min(k, f.n))
	for i := 0; i < f.n; i++ {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		top.Push(uint32(i), f.distance(query, f.row(i)))
	}

	return toResults(top), nil
}

// Distances computes the distance from q to every stored vector, in id order.
func (f *Flat) Distances(q []float32) ([]float32, error) {
	if len(q) != f.Dimension() {
		return nil, &index.ErrDimensionMismatch{Expected: f.Dimension(), Actual: len(q)}
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	query := f.prepare(q)
	out := make([]float32, f.n)
	for i := range out {
		out[i] = f.distance(query, f.row(i))
	}
	return out, nil
}

// Vector returns a copy of the stored vector with the given id.
func (f *Flat) Vector(id uint32) ([]float32, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if int(id) >= f.n {
		return nil, false
	}
	return append([]float32(nil), f.row(int(id))...), true
}

// Len returns the number of stored vectors.
func (f *Flat) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.n
}

// Dimension returns the vector dimensionality.
func (f *Flat) Dimension() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dim
}

// Metric returns the distance metric.
func (f *Flat) Metric() distance.Metric { return f.opts.Metric }

func (f *Flat) row(i int) []float32 {
	return f.data[i*f.dim : (i+1)*f.dim]
}

func (f *Flat) prepare(q []float32) []float32 {
	if f.opts.Metric != distance.MetricCosine {
		return q
	}
	unit, ok := distance.NormalizeL2Copy(q)
	if !ok {
		return make([]float32, len(q))
	}
	return unit
}

func (f *Flat) distance(q, v []float32) float32 {
	if f.opts.Metric == distance.MetricCosine {
		return distance.UnitCosineDistance(q, v)
	}
	return distance.SquaredL2(q, v)
}

func toResults(top *queue.TopK) []index.SearchResult {
	items := top.Sorted()
	out := make([]index.SearchResult, len(items))
	for i, it := range items {
		out[i] = index.SearchResult{ID: it.Node, Distance: it.Distance}
	}
	return out
}
