// Package lsh provides a random hyperplane locality-sensitive hashing index.
//
// Every vector is hashed to a b-bit code, the sign pattern of its projections
// onto b random hyperplanes, so the database is split into at most 2^b
// buckets. A query scans its own bucket and then probes the neighbouring
// buckets in increasing Hamming distance until enough candidates are
// collected. Candidates are re-ranked exactly.
package lsh

import (
	"context"
	"fmt"
	"math/bits"
	"math/rand"
	"slices"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/hloc/distance"
	"github.com/hupe1980/hloc/index"
	"github.com/hupe1980/hloc/queue"
)

// Compile-time check to ensure LSH satisfies the index interface.
var _ index.Index = (*LSH)(nil)

// MaxBits is the largest supported code length.
const MaxBits = 24

// Options configures the LSH index.
type Options struct {
	// Metric is the distance used for re-ranking.
	Metric distance.Metric

	// Bits is the code length b; the index has 2^b buckets per table.
	Bits int

	// Tables is the number of independent hash tables. Candidates are the
	// union over tables.
	Tables int

	// ProbeRadius is the Hamming radius that is always probed.
	ProbeRadius int

	// MinCandidates keeps widening the probe radius past ProbeRadius until at
	// least this many candidates are gathered. Zero means k.
	MinCandidates int

	// Seed drives hyperplane generation.
	Seed int64
}

// DefaultOptions contains the default configuration options for LSH.
var DefaultOptions = Options{
	Metric:      distance.MetricL2,
	Bits:        5,
	Tables:      1,
	ProbeRadius: 1,
	Seed:        1,
}

// LSH is a multi-probe random hyperplane index.
type LSH struct {
	mu sync.RWMutex

	dim    int
	n      int
	data   []float32
	center []float32
	planes [][][]float32 // [table][bit][dim]
	tables []map[uint32]*roaring.Bitmap

	opts Options
	rng  *rand.Rand
}

// New creates an LSH index. It panics on an out-of-range bit count, which is
// a configuration error caught by validation upstream.
func New(optFns ...func(o *Options)) *LSH {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if err := opts.Validate(); err != nil {
		panic(err)
	}

	tables := make([]map[uint32]*roaring.Bitmap, opts.Tables)
	for i := range tables {
		tables[i] = make(map[uint32]*roaring.Bitmap)
	}

	return &LSH{
		opts:   opts,
		tables: tables,
		rng:    rand.New(rand.NewSource(opts.Seed)), // nolint gosec
	}
}

// Validate checks the options.
func (o Options) Validate() error {
	if o.Bits < 1 || o.Bits > MaxBits {
		return fmt.Errorf("lsh: bits must be in [1, %d], got %d", MaxBits, o.Bits)
	}
	if o.Tables < 1 {
		return fmt.Errorf("lsh: tables must be positive, got %d", o.Tables)
	}
	if o.ProbeRadius < 0 || o.ProbeRadius > o.Bits {
		return fmt.Errorf("lsh: probe radius must be in [0, %d], got %d", o.Bits, o.ProbeRadius)
	}
	if o.MinCandidates < 0 {
		return fmt.Errorf("lsh: min candidates must not be negative, got %d", o.MinCandidates)
	}
	return nil
}

// Add hashes vectors into the buckets. The hyperplanes are generated and
// centred on the mean of the first batch.
func (l *LSH) Add(ctx context.Context, vectors [][]float32) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	dim, err := index.CheckDimension(l.dim, vectors)
	if err != nil {
		return err
	}
	if len(vectors) == 0 {
		return nil
	}
	l.dim = dim

	if l.planes == nil {
		l.initPlanes(vectors)
	}

	for _, v := range vectors {
		if err := ctx.Err(); err != nil {
			return err
		}

		start := len(l.data)
		l.data = append(l.data, v...)
		row := l.data[start:]
		if l.opts.Metric == distance.MetricCosine {
			distance.NormalizeL2InPlace(row)
		}

		id := uint32(l.n)
		for t := range l.tables {
			code := l.hash(t, row)
			bm, ok := l.tables[t][code]
			if !ok {
				bm = roaring.New()
				l.tables[t][code] = bm
			}
			bm.Add(id)
		}
		l.n++
	}

	return nil
}

func (l *LSH) initPlanes(vectors [][]float32) {
	l.center = make([]float32, l.dim)
	if l.opts.Metric != distance.MetricCosine {
		for _, v := range vectors {
			for j, x := range v {
				l.center[j] += x
			}
		}
		for j := range l.center {
			l.center[j] /= float32(len(vectors))
		}
	}

	l.planes = make([][][]float32, l.opts.Tables)
	for t := range l.planes {
		l.planes[t] = make([][]float32, l.opts.Bits)
		for b := range l.planes[t] {
			p := make([]float32, l.dim)
			for j := range p {
				p[j] = float32(l.rng.NormFloat64())
			}
			l.planes[t][b] = p
		}
	}
}

// hash computes the bucket code of v in table t: bit b is set when v lies on
// the positive side of hyperplane b.
func (l *LSH) hash(t int, v []float32) uint32 {
	var code uint32
	for b, p := range l.planes[t] {
		var dot float32
		for j := range p {
			dot += (v[j] - l.center[j]) * p[j]
		}
		if dot >= 0 {
			code |= 1 << uint(b)
		}
	}
	return code
}

// Search returns up to k nearest vectors among the probed candidates.
func (l *LSH) Search(ctx context.Context, q []float32, k int) ([]index.SearchResult, error) {
	if err := index.CheckQuery(l, q, k); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.opts.Metric == distance.MetricCosine {
		unit, ok := distance.NormalizeL2Copy(q)
		if !ok {
			unit = make([]float32, len(q))
		}
		q = unit
	}

	candidates := l.candidates(q, k)

	top := queue.NewTopK(k)
	it := candidates.Iterator()
	for it.HasNext() {
		id := it.Next()
		top.Push(id, l.distance(q, l.row(int(id))))
	}

	items := top.Sorted()
	out := make([]index.SearchResult, len(items))
	for i, item := range items {
		out[i] = index.SearchResult{ID: item.Node, Distance: item.Distance}
	}
	return out, nil
}

// candidates returns the union of the buckets probed for q. The caller holds
// the read lock.
func (l *LSH) candidates(q []float32, k int) *roaring.Bitmap {
	want := l.opts.MinCandidates
	if want == 0 {
		want = k
	}
	want = min(want, l.n)

	type probe struct {
		table int
		code  uint32
		dist  int
	}

	probes := make([]probe, 0)
	for t, buckets := range l.tables {
		qc := l.hash(t, q)
		for code := range buckets {
			probes = append(probes, probe{table: t, code: code, dist: bits.OnesCount32(code ^ qc)})
		}
	}
	slices.SortFunc(probes, func(a, b probe) int {
		if a.dist != b.dist {
			return a.dist - b.dist
		}
		if a.table != b.table {
			return a.table - b.table
		}
		return int(a.code) - int(b.code)
	})

	candidates := roaring.New()
	for i, p := range probes {
		// Stop on a radius boundary once enough candidates are gathered.
		boundary := i > 0 && p.dist != probes[i-1].dist
		if boundary && p.dist > l.opts.ProbeRadius && int(candidates.GetCardinality()) >= want {
			break
		}
		candidates.Or(l.tables[p.table][p.code])
	}

	return candidates
}

// BucketSizes returns the number of vectors per non-empty bucket of table t.
func (l *LSH) BucketSizes(t int) map[uint32]uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[uint32]uint64, len(l.tables[t]))
	for code, bm := range l.tables[t] {
		out[code] = bm.GetCardinality()
	}
	return out
}

// Len returns the number of indexed vectors.
func (l *LSH) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.n
}

// Dimension returns the vector dimensionality.
func (l *LSH) Dimension() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.dim
}

// Metric returns the distance metric.
func (l *LSH) Metric() distance.Metric { return l.opts.Metric }

func (l *LSH) row(i int) []float32 {
	return l.data[i*l.dim : (i+1)*l.dim]
}

func (l *LSH) distance(q, v []float32) float32 {
	if l.opts.Metric == distance.MetricCosine {
		return distance.UnitCosineDistance(q, v)
	}
	return distance.SquaredL2(q, v)
}
