// Package match establishes 2D-3D correspondences between a query image and
// clusters of database images with a nearest-neighbor ratio test.
package match

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/hupe1980/hloc/distance"
	"github.com/hupe1980/hloc/index"
	"github.com/hupe1980/hloc/index/flat"
)

// Metric selects how local descriptors are compared.
type Metric string

const (
	// MetricExact compares raw descriptors by Euclidean distance.
	MetricExact Metric = "exact"
	// MetricApprox compares unit-normalized descriptors by 1 - cosine.
	MetricApprox Metric = "approx"
)

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Metric) UnmarshalText(text []byte) error {
	switch v := Metric(strings.ToLower(string(text))); v {
	case MetricExact, MetricApprox:
		*m = v
		return nil
	default:
		return fmt.Errorf("match: unknown metric %q", text)
	}
}

func (m Metric) distance() distance.Metric {
	if m == MetricApprox {
		return distance.MetricCosine
	}
	return distance.MetricL2
}

// Strategy configures local matching. The flags compose freely.
type Strategy struct {
	Metric Metric `yaml:"metric"`
	// Ratio accepts a match when the best distance is below Ratio times the
	// second best.
	Ratio float64 `yaml:"ratio"`
	// Bidirectional keeps only mutual matches.
	Bidirectional bool `yaml:"bidirectional"`
	// Refilter pools the features of all cluster images and matches once
	// against the pool instead of per image.
	Refilter bool `yaml:"refilter"`
}

// DefaultStrategy is approximate matching with refiltering and ratio 0.75.
var DefaultStrategy = Strategy{
	Metric:   MetricApprox,
	Ratio:    0.75,
	Refilter: true,
}

// Validate checks the strategy.
func (s Strategy) Validate() error {
	if s.Metric != MetricExact && s.Metric != MetricApprox {
		return fmt.Errorf("match: unknown metric %q", s.Metric)
	}
	if !(s.Ratio > 0 && s.Ratio <= 1) {
		return fmt.Errorf("match: ratio must be in (0, 1], got %g", s.Ratio)
	}
	return nil
}

// ErrNoMatches is returned when no correspondence survives matching.
var ErrNoMatches = errors.New("match: no correspondences")

// Pair is an accepted match between query descriptor Query and train
// descriptor Train.
type Pair struct {
	Query    int
	Train    int
	Distance float32
}

// Matcher applies the ratio test between two descriptor sets. It is
// stateless and safe for concurrent use.
type Matcher struct {
	strategy Strategy
}

// NewMatcher creates a Matcher.
func NewMatcher(s Strategy) (*Matcher, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &Matcher{strategy: s}, nil
}

// Strategy returns the matcher's strategy.
func (m *Matcher) Strategy() Strategy { return m.strategy }

// Match returns the accepted pairs in query order. With a single train
// descriptor every query matches it, since there is no second neighbor to be
// ambiguous with.
func (m *Matcher) Match(ctx context.Context, query, train [][]float32) ([]Pair, error) {
	return m.MatchGroups(ctx, query, train, nil)
}

// MatchGroups is Match where groups, index-aligned with train, labels train
// descriptors that describe the same thing, such as observations of one 3D
// point from several images. The ratio test compares the nearest descriptor
// with the nearest one of a different group. A nil groups slice puts every
// descriptor in its own group.
func (m *Matcher) MatchGroups(ctx context.Context, query, train [][]float32, groups []int64) ([]Pair, error) {
	if len(query) == 0 || len(train) == 0 {
		return nil, nil
	}
	if groups != nil && len(groups) != len(train) {
		return nil, fmt.Errorf("match: %d groups for %d train descriptors", len(groups), len(train))
	}

	forward, err := m.oneWay(ctx, query, train, groups)
	if err != nil {
		return nil, err
	}
	if !m.strategy.Bidirectional {
		return forward, nil
	}

	reverse, err := m.oneWay(ctx, train, query, nil)
	if err != nil {
		return nil, err
	}
	back := make(map[int]int, len(reverse))
	for _, p := range reverse {
		back[p.Query] = p.Train
	}

	mutual := forward[:0]
	for _, p := range forward {
		if q, ok := back[p.Train]; ok && q == p.Query {
			mutual = append(mutual, p)
		}
	}
	return mutual, nil
}

// groupFetch is the first number of neighbors fetched when looking for the
// nearest descriptor of another group; it doubles until one is found.
const groupFetch = 8

func (m *Matcher) oneWay(ctx context.Context, query, train [][]float32, groups []int64) ([]Pair, error) {
	metric := m.strategy.Metric.distance()
	idx := flat.New(func(o *flat.Options) { o.Metric = metric })
	if err := idx.Add(ctx, train); err != nil {
		return nil, err
	}

	dist := func(d float32) float32 {
		if metric == distance.MetricL2 {
			return float32(math.Sqrt(float64(d)))
		}
		return d
	}

	ratio := float32(m.strategy.Ratio)
	var pairs []Pair
	for i, q := range query {
		k := 2
		if groups != nil {
			k = min(groupFetch, len(train))
		}

		var (
			best   index.SearchResult
			second index.SearchResult
			found  bool
		)
		for {
			nn, err := idx.Search(ctx, q, k)
			if err != nil {
				return nil, fmt.Errorf("match: query descriptor %d: %w", i, err)
			}
			best = nn[0]
			for _, r := range nn[1:] {
				if groups == nil || groups[r.ID] != groups[best.ID] {
					second, found = r, true
					break
				}
			}
			if found || k >= len(train) {
				break
			}
			k = min(2*k, len(train))
		}

		d1 := dist(best.Distance)
		if found && !(d1 < ratio*dist(second.Distance)) {
			continue
		}
		pairs = append(pairs, Pair{Query: i, Train: int(best.ID), Distance: d1})
	}
	return pairs, nil
}
