// Package retrieval finds, for every query, the database images with the most
// similar global descriptors.
//
// Three strategies share one contract: the k nearest database rows in
// ascending distance order.
//
//   - exact: brute force over all rows (index/flat)
//   - approx: HNSW graph (index/hnsw)
//   - lsh: multi-probe random hyperplane buckets with exact re-ranking (index/lsh)
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/hupe1980/hloc/distance"
	"github.com/hupe1980/hloc/index"
	"github.com/hupe1980/hloc/index/flat"
	"github.com/hupe1980/hloc/index/hnsw"
	"github.com/hupe1980/hloc/index/lsh"
	"github.com/hupe1980/hloc/mapdb"
	"golang.org/x/sync/errgroup"
)

// Strategy selects the neighbor search algorithm.
type Strategy string

const (
	// StrategyExact is brute-force search.
	StrategyExact Strategy = "exact"
	// StrategyApprox is HNSW search.
	StrategyApprox Strategy = "approx"
	// StrategyLSH is locality-sensitive hashing.
	StrategyLSH Strategy = "lsh"
)

// ErrUnknownStrategy is returned for an unsupported strategy name.
var ErrUnknownStrategy = errors.New("retrieval: unknown strategy")

// ParseStrategy parses a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(s)); st {
	case StrategyExact, StrategyApprox, StrategyLSH:
		return st, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Strategy) UnmarshalText(text []byte) error {
	st, err := ParseStrategy(string(text))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// Options configures a Searcher.
type Options struct {
	Strategy Strategy        `yaml:"strategy"`
	K        int             `yaml:"k"`
	Metric   distance.Metric `yaml:"metric"`

	// LSH
	LSHBits        int `yaml:"lsh_bits"`
	LSHTables      int `yaml:"lsh_tables"`
	LSHProbeRadius int `yaml:"lsh_probe_radius"`

	// HNSW
	M              int `yaml:"m"`
	EFConstruction int `yaml:"ef_construction"`
	EFSearch       int `yaml:"ef_search"`

	// Seed makes index construction reproducible.
	Seed int64 `yaml:"seed"`

	// Workers bounds batch search parallelism. 0 means GOMAXPROCS.
	Workers int `yaml:"workers"`
}

// DefaultOptions contains the default retrieval configuration.
var DefaultOptions = Options{
	Strategy:       StrategyApprox,
	K:              20,
	Metric:         distance.MetricL2,
	LSHBits:        lsh.DefaultOptions.Bits,
	LSHTables:      lsh.DefaultOptions.Tables,
	LSHProbeRadius: lsh.DefaultOptions.ProbeRadius,
	M:              hnsw.DefaultOptions.M,
	EFConstruction: hnsw.DefaultOptions.EFConstruction,
	EFSearch:       hnsw.DefaultOptions.EFSearch,
	Seed:           1,
}

// Validate checks the options.
func (o Options) Validate() error {
	if _, err := ParseStrategy(string(o.Strategy)); err != nil {
		return err
	}
	if o.K <= 0 {
		return fmt.Errorf("retrieval: k must be positive, got %d", o.K)
	}
	if o.Workers < 0 {
		return fmt.Errorf("retrieval: workers must not be negative, got %d", o.Workers)
	}
	switch o.Strategy {
	case StrategyLSH:
		return o.lshOptions().Validate()
	case StrategyApprox:
		if o.M < 2 || o.EFConstruction <= 0 || o.EFSearch <= 0 {
			return fmt.Errorf("retrieval: invalid hnsw parameters m=%d ef_construction=%d ef_search=%d", o.M, o.EFConstruction, o.EFSearch)
		}
	}
	return nil
}

func (o Options) lshOptions() lsh.Options {
	return lsh.Options{
		Metric:      o.Metric,
		Bits:        o.LSHBits,
		Tables:      o.LSHTables,
		ProbeRadius: min(o.LSHProbeRadius, o.LSHBits),
		Seed:        o.Seed,
	}
}

// Neighbor is one ranked database entry.
type Neighbor struct {
	// Index is the row of the global descriptor matrix.
	Index int
	// ImageID is the image of that row; negative for augmented copies.
	ImageID mapdb.ImageID
	// Distance to the query.
	Distance float32
}

// Searcher ranks database images for query descriptors. It is immutable
// after New and safe for concurrent use.
type Searcher struct {
	idx       index.Index
	ids       []mapdb.ImageID
	augmented bool
	opts      Options
}

// New builds the index for the selected strategy over the database rows.
func New(ctx context.Context, ids []mapdb.ImageID, vectors [][]float32, optFns ...func(o *Options)) (*Searcher, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if len(ids) != len(vectors) {
		return nil, fmt.Errorf("retrieval: %d ids but %d vectors", len(ids), len(vectors))
	}

	var idx index.Index
	switch opts.Strategy {
	case StrategyExact:
		idx = flat.New(func(o *flat.Options) { o.Metric = opts.Metric })
	case StrategyApprox:
		idx = hnsw.New(func(o *hnsw.Options) {
			o.Metric = opts.Metric
			o.M = opts.M
			o.EFConstruction = opts.EFConstruction
			o.EFSearch = opts.EFSearch
			o.Seed = opts.Seed
		})
	case StrategyLSH:
		lo := opts.lshOptions()
		idx = lsh.New(func(o *lsh.Options) { *o = lo })
	}

	if err := idx.Add(ctx, vectors); err != nil {
		return nil, fmt.Errorf("retrieval: build %s index: %w", opts.Strategy, err)
	}

	s := &Searcher{idx: idx, ids: ids, opts: opts}
	for _, id := range ids {
		if id < 0 {
			s.augmented = true
			break
		}
	}
	return s, nil
}

// Len returns the number of indexed rows.
func (s *Searcher) Len() int { return s.idx.Len() }

// Options returns the effective options.
func (s *Searcher) Options() Options { return s.opts }

// SearchOne ranks the database for one query. When self is non-zero,
// entries whose absolute image id equals |self| are skipped, which removes a
// verification query's own image and its augmented copy.
func (s *Searcher) SearchOne(ctx context.Context, q []float32, k int, self mapdb.ImageID) ([]Neighbor, error) {
	fetch := k
	if self != 0 {
		fetch++
		if s.augmented {
			fetch++
		}
	}
	fetch = min(fetch, s.idx.Len())

	results, err := s.idx.Search(ctx, q, fetch)
	if err != nil {
		return nil, err
	}

	out := make([]Neighbor, 0, min(k, len(results)))
	for _, r := range results {
		id := s.ids[r.ID]
		if self != 0 && id.Abs() == self.Abs() {
			continue
		}
		out = append(out, Neighbor{Index: int(r.ID), ImageID: id, Distance: r.Distance})
		if len(out) == k {
			break
		}
	}
	return out, nil
}

// Search ranks the database for a batch of queries in parallel. self may be
// nil; otherwise it is index-aligned with queries and 0 marks an unknown id.
// Results are index-aligned with queries.
func (s *Searcher) Search(ctx context.Context, queries [][]float32, k int, self []mapdb.ImageID) ([][]Neighbor, error) {
	if self != nil && len(self) != len(queries) {
		return nil, fmt.Errorf("retrieval: %d self ids for %d queries", len(self), len(queries))
	}

	workers := s.opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	out := make([][]Neighbor, len(queries))
	chunk := max(1, (len(queries)+workers-1)/workers)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for start := 0; start < len(queries); start += chunk {
		end := min(start+chunk, len(queries))
		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				var own mapdb.ImageID
				if self != nil {
					own = self[i]
				}
				res, err := s.SearchOne(gctx, queries[i], k, own)
				if err != nil {
					return fmt.Errorf("retrieval: query %d: %w", i, err)
				}
				out[i] = res
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
